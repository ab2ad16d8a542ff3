package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"

	"dispute-agent/internal/dialogue"
	"dispute-agent/internal/domain"
	"dispute-agent/internal/logging"
	"dispute-agent/internal/usecase"
)

const (
	headerSessionID     = "X-Session-Id"
	headerCorrelationID = "X-Correlation-Id"

	maxBodyBytes = 64 << 10
)

type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
	Reset(ctx context.Context, sessionID string) error
}

type DisputeUseCase interface {
	Status(ctx context.Context, disputeID string) (usecase.StatusOutput, error)
	ListTransactions(ctx context.Context) ([]domain.Transaction, error)
	ListDisputes(ctx context.Context) ([]domain.Dispute, error)
	Close(ctx context.Context, disputeID string) (domain.Dispute, error)
}

// Handler serves the dispute API both as a Lambda proxy integration and as a
// plain http.Handler. Both paths share one chi router.
type Handler struct {
	chats    ChatUseCase
	disputes DisputeUseCase
	router   http.Handler
	logger   *slog.Logger
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Intent         domain.Intent        `json:"intent"`
	Response       string               `json:"response"`
	Options        []string             `json:"options"`
	ContextUpdates domain.ContextPatch  `json:"context_updates"`
	Case           *domain.CaseRecord   `json:"case,omitempty"`
	Outcome        *usecase.OutcomeView `json:"outcome,omitempty"`
}

type statusResponse struct {
	DisputeID     string `json:"dispute_id"`
	Outcome       string `json:"outcome"`
	Message       string `json:"message"`
	Progress      string `json:"progress"`
	InstantPayout bool   `json:"instant_payout"`
}

type transactionsResponse struct {
	Transactions []domain.Transaction `json:"transactions"`
}

type disputesResponse struct {
	Disputes []domain.Dispute `json:"disputes"`
}

type resetResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error         string `json:"error"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func NewHandler(chats ChatUseCase, disputes DisputeUseCase) (*Handler, error) {
	if chats == nil {
		return nil, errors.New("handler: chat usecase must not be nil")
	}
	if disputes == nil {
		return nil, errors.New("handler: dispute usecase must not be nil")
	}
	h := &Handler{chats: chats, disputes: disputes, logger: logging.New("handler")}
	h.router = NewRouter(h)
	return h, nil
}

// Handle is the Lambda entry point for API Gateway proxy events.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	req, err := requestFromEvent(ctx, event)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid proxy event", "path", event.Path, "err", err)
		w := newProxyResponseWriter()
		writeError(w, http.StatusBadRequest, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_event"}, "")
		return w.response(), nil
	}
	w := newProxyResponseWriter()
	h.router.ServeHTTP(w, req)
	return w.response(), nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) postChat(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.Header.Get(headerSessionID))
	var req chatRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.writeChatError(w, r, sessionID, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_json", Err: err})
		return
	}

	out, err := h.chats.Chat(r.Context(), usecase.ChatInput{SessionID: sessionID, Message: req.Message})
	if err != nil {
		h.writeChatError(w, r, sessionID, err)
		return
	}

	w.Header().Set(headerSessionID, out.SessionID)
	writeJSON(w, http.StatusOK, chatResponse{
		Intent:         out.Intent,
		Response:       out.Response,
		Options:        out.Options,
		ContextUpdates: out.ContextUpdates,
		Case:           out.Case,
		Outcome:        out.Outcome,
	})
}

func (h *Handler) postReset(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.Header.Get(headerSessionID))
	if err := h.chats.Reset(r.Context(), sessionID); err != nil {
		h.writeChatError(w, r, sessionID, err)
		return
	}
	if sessionID != "" {
		w.Header().Set(headerSessionID, sessionID)
	}
	writeJSON(w, http.StatusOK, resetResponse{Status: "success"})
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	out, err := h.disputes.Status(r.Context(), chi.URLParam(r, "dispute_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		DisputeID:     out.DisputeID,
		Outcome:       string(out.Outcome),
		Message:       out.Message,
		Progress:      string(out.Progress),
		InstantPayout: out.InstantPayout,
	})
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := h.disputes.ListTransactions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, transactionsResponse{Transactions: txns})
}

func (h *Handler) listDisputes(w http.ResponseWriter, r *http.Request) {
	disputes, err := h.disputes.ListDisputes(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if disputes == nil {
		disputes = []domain.Dispute{}
	}
	writeJSON(w, http.StatusOK, disputesResponse{Disputes: disputes})
}

func (h *Handler) closeDispute(w http.ResponseWriter, r *http.Request) {
	d, err := h.disputes.Close(r.Context(), chi.URLParam(r, "dispute_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) writeChatError(w http.ResponseWriter, r *http.Request, sessionID string, err error) {
	h.logError(r, err)
	if sessionID != "" {
		w.Header().Set(headerSessionID, sessionID)
	}
	writeJSON(w, statusFor(err), chatResponse{
		Intent:   domain.IntentError,
		Response: chatErrorMessage(err),
		Options:  []string{dialogue.StartOver},
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	h.logError(r, err)
	writeError(w, statusFor(err), err, correlationIDFromContext(r.Context()))
}

func (h *Handler) logError(r *http.Request, err error) {
	status := statusFor(err)
	fields := []any{
		"path", r.URL.Path,
		"code", string(usecase.CodeOf(err)),
		"status_code", status,
		"correlation_id", correlationIDFromContext(r.Context()),
		"err", err,
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", fields...)
		return
	}
	h.logger.WarnContext(r.Context(), "request rejected", fields...)
}

// decodeJSON decodes exactly one JSON object with no unknown fields.
func decodeJSON(body io.Reader, v any) error {
	if body == nil {
		return errors.New("empty body")
	}
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("decode body: multiple JSON values")
	}
	return nil
}
