package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"dispute-agent/internal/decision"
	"dispute-agent/internal/domain"
	"dispute-agent/internal/logging"
)

type DisputeRepository interface {
	GetDispute(ctx context.Context, disputeID string) (domain.Dispute, error)
	ListDisputes(ctx context.Context) ([]domain.Dispute, error)
	CloseDispute(ctx context.Context, disputeID string) (domain.Dispute, error)
}

type TransactionLister interface {
	ListTransactions(ctx context.Context) ([]domain.Transaction, error)
}

type CaseLookup interface {
	LookupCase(ctx context.Context, q domain.CaseQuery) (domain.CaseRecord, error)
}

// DisputeService answers the read-mostly endpoints outside the chat flow.
type DisputeService struct {
	disputes DisputeRepository
	txns     TransactionLister
	cases    CaseLookup
	strategy decision.Strategy
	logger   *slog.Logger
}

type StatusOutput struct {
	DisputeID     string
	Outcome       decision.Kind
	Message       string
	Progress      decision.Progress
	InstantPayout bool
}

func NewDisputeService(d DisputeRepository, t TransactionLister, c CaseLookup, s decision.Strategy) (*DisputeService, error) {
	if d == nil {
		return nil, errors.New("usecase: dispute repository must not be nil")
	}
	if t == nil {
		return nil, errors.New("usecase: transaction lister must not be nil")
	}
	if c == nil {
		return nil, errors.New("usecase: case lookup must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: decision strategy must not be nil")
	}
	return &DisputeService{disputes: d, txns: t, cases: c, strategy: s, logger: logging.New("usecase")}, nil
}

// Status decides the current outcome of a dispute. A filed dispute whose
// case has not reached the back office yet is under review.
func (s *DisputeService) Status(ctx context.Context, disputeID string) (StatusOutput, error) {
	disputeID = strings.TrimSpace(disputeID)
	if disputeID == "" {
		return StatusOutput{}, newError(ErrorInvalidInput, "missing_dispute_id", nil)
	}

	rec, err := s.cases.LookupCase(ctx, domain.CaseQuery{DisputeID: disputeID})
	switch {
	case errors.Is(err, domain.ErrCaseNotFound):
		d, derr := s.disputes.GetDispute(ctx, disputeID)
		if errors.Is(derr, domain.ErrDisputeNotFound) {
			return StatusOutput{}, newError(ErrorNotFound, "dispute_not_found", derr)
		}
		if derr != nil {
			return StatusOutput{}, newError(ErrorInternal, "dynamodb_read_error", derr)
		}
		rec = domain.CaseRecord{DisputeID: d.DisputeID, TransactionID: d.TransactionID}
	case errors.Is(err, domain.ErrInvalidQuery):
		return StatusOutput{}, newError(ErrorInvalidQuery, "invalid_case_query", err)
	case err != nil:
		return StatusOutput{}, newError(ErrorInternal, "dynamodb_read_error", err)
	}

	dec := decision.Decide(s.strategy, rec)
	s.logger.InfoContext(ctx, "dispute status", "dispute_id", disputeID, "outcome", string(dec.Outcome.Kind()), "strategy", s.strategy.Name())
	return StatusOutput{
		DisputeID:     disputeID,
		Outcome:       dec.Outcome.Kind(),
		Message:       dec.Message,
		Progress:      dec.Progress,
		InstantPayout: dec.InstantPayout,
	}, nil
}

func (s *DisputeService) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	txns, err := s.txns.ListTransactions(ctx)
	if err != nil {
		return nil, newError(ErrorInternal, "dynamodb_read_error", err)
	}
	return txns, nil
}

func (s *DisputeService) ListDisputes(ctx context.Context) ([]domain.Dispute, error) {
	disputes, err := s.disputes.ListDisputes(ctx)
	if err != nil {
		return nil, newError(ErrorInternal, "dynamodb_read_error", err)
	}
	return disputes, nil
}

// Close closes a dispute so its transaction can be disputed again.
func (s *DisputeService) Close(ctx context.Context, disputeID string) (domain.Dispute, error) {
	disputeID = strings.TrimSpace(disputeID)
	if disputeID == "" {
		return domain.Dispute{}, newError(ErrorInvalidInput, "missing_dispute_id", nil)
	}
	d, err := s.disputes.CloseDispute(ctx, disputeID)
	switch {
	case errors.Is(err, domain.ErrDisputeNotFound):
		return domain.Dispute{}, newError(ErrorNotFound, "dispute_not_found", err)
	case errors.Is(err, domain.ErrConcurrentUpdate):
		return domain.Dispute{}, newError(ErrorBusy, "dispute_conflict", err)
	case err != nil:
		return domain.Dispute{}, newError(ErrorInternal, "dynamodb_write_error", err)
	}
	s.logger.InfoContext(ctx, "dispute closed", "dispute_id", disputeID, "transaction_id", d.TransactionID)
	return d, nil
}
