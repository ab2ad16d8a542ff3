package decision

import (
	"fmt"
	"strings"

	"dispute-agent/internal/domain"
)

// Strategy is one rule table mapping a case to an outcome. Implementations
// must be deterministic and total over every combination of present and
// absent fields.
type Strategy interface {
	Name() string
	Decide(rec domain.CaseRecord) Outcome
}

// Decision is a strategy result projected for callers.
type Decision struct {
	Outcome       Outcome
	Message       string
	Progress      Progress
	InstantPayout bool
}

// Decide runs s over rec and attaches the message and progress.
func Decide(s Strategy, rec domain.CaseRecord) Decision {
	o := s.Decide(rec.Normalize())
	_, instant := o.(InstantPayout)
	return Decision{
		Outcome:       o,
		Message:       Message(o),
		Progress:      progressOf(o),
		InstantPayout: instant,
	}
}

// ByName returns the strategy registered under name. An empty name selects
// the score strategy.
func ByName(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ScoresName:
		return Scores{}, nil
	case FlagsName:
		return Flags{}, nil
	}
	return nil, fmt.Errorf("decision: unknown strategy %q", name)
}

const ScoresName = "scores"

// Scores is the continuous risk-score rule table. Rules are evaluated in
// priority order and the first match wins; decline and investigation signals
// short-circuit before any payout rule is considered.
type Scores struct{}

func (Scores) Name() string { return ScoresName }

func (Scores) Decide(rec domain.CaseRecord) Outcome {
	switch {
	case rec.Eligibility == domain.EligibilityIneligible:
		return Declined{Reason: DeclineEligibility}
	case above(rec.Collusion, 0.8):
		return NeedsInvestigation{}
	case above(rec.BuyerFraud, 0.7):
		return Declined{Reason: DeclineBuyerRisk}
	case below(rec.BuyerFraud, 0.2) &&
		above(rec.SellerFraud, 0.7) &&
		below(rec.Collusion, 0.2) &&
		above(rec.AdjudicationConfidence, 0.8) &&
		rec.PayoutAmount != nil && *rec.PayoutAmount >= 0:
		return InstantPayout{Amount: *rec.PayoutAmount}
	case above(rec.AdjudicationConfidence, 0.8):
		return Approved{}
	}
	return UnderReview{}
}

const FlagsName = "flags"

// Flags is the binary fraud-flag rule table. It reads only rec.Flags and
// rec.Eligibility; a record without flags is under review.
type Flags struct{}

func (Flags) Name() string { return FlagsName }

func (Flags) Decide(rec domain.CaseRecord) Outcome {
	if rec.Eligibility == domain.EligibilityIneligible {
		return Declined{Reason: DeclineEligibility}
	}
	f := rec.Flags
	if f == nil {
		return UnderReview{}
	}
	switch {
	case f.BuyerFlagged && f.SellerFlagged:
		return NeedsInvestigation{}
	case f.BuyerFlagged:
		return Declined{Reason: DeclineBuyerRisk}
	case f.SellerFlagged && f.FavorParty != domain.PartySeller && above(f.OutcomeConfidence, 0.8):
		if rec.PayoutAmount != nil && *rec.PayoutAmount >= 0 {
			return InstantPayout{Amount: *rec.PayoutAmount}
		}
		return Approved{}
	}
	return UnderReview{}
}

// above and below treat an unknown score as failing the threshold.
func above(v *float64, threshold float64) bool {
	return v != nil && *v > threshold
}

func below(v *float64, threshold float64) bool {
	return v != nil && *v < threshold
}
