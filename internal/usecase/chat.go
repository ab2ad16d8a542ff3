package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"dispute-agent/internal/decision"
	"dispute-agent/internal/dialogue"
	"dispute-agent/internal/domain"
	"dispute-agent/internal/logging"
	"dispute-agent/internal/sessionlock"
)

const (
	defaultMaxMessage = 1000
	defaultLockWait   = 5 * time.Second
)

type ConversationStore interface {
	GetConversation(ctx context.Context, sessionID string) (domain.Conversation, error)
	SaveConversation(ctx context.Context, conv domain.Conversation) (domain.Conversation, error)
	DeleteConversation(ctx context.Context, sessionID string) error
}

type IntentClassifier interface {
	Classify(ctx context.Context, conv domain.Conversation, message string) dialogue.Classification
}

type Stepper interface {
	Step(ctx context.Context, conv domain.Conversation, in dialogue.Input) (dialogue.Turn, error)
}

type ChatService struct {
	locker     sessionlock.Locker
	store      ConversationStore
	classifier IntentClassifier
	machine    Stepper
	logger     *slog.Logger

	maxMessageLen int
	lockWait      time.Duration
}

type ChatInput struct {
	SessionID string
	Message   string
}

type ChatOutput struct {
	SessionID      string
	Intent         domain.Intent
	Response       string
	Options        []string
	ContextUpdates domain.ContextPatch
	Case           *domain.CaseRecord
	Outcome        *OutcomeView
}

// OutcomeView is the wire form of a case decision.
type OutcomeView struct {
	Kind          decision.Kind     `json:"kind"`
	Message       string            `json:"message"`
	Progress      decision.Progress `json:"progress"`
	InstantPayout bool              `json:"instant_payout"`
	PayoutAmount  *float64          `json:"payout_amount,omitempty"`
}

func newOutcomeView(d decision.Decision) *OutcomeView {
	v := &OutcomeView{
		Kind:          d.Outcome.Kind(),
		Message:       d.Message,
		Progress:      d.Progress,
		InstantPayout: d.InstantPayout,
	}
	if p, ok := d.Outcome.(decision.InstantPayout); ok {
		amount := p.Amount
		v.PayoutAmount = &amount
	}
	return v
}

func NewChatService(l sessionlock.Locker, s ConversationStore, c IntentClassifier, m Stepper, maxMessageLen int, lockWait time.Duration) (*ChatService, error) {
	if l == nil {
		return nil, errors.New("usecase: session locker must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if c == nil {
		return nil, errors.New("usecase: intent classifier must not be nil")
	}
	if m == nil {
		return nil, errors.New("usecase: state machine must not be nil")
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessage
	}
	if lockWait <= 0 {
		lockWait = defaultLockWait
	}
	return &ChatService{
		locker:        l,
		store:         s,
		classifier:    c,
		machine:       m,
		logger:        logging.New("usecase"),
		maxMessageLen: maxMessageLen,
		lockWait:      lockWait,
	}, nil
}

// Chat runs one conversational turn. The stored context is written only
// after the state machine succeeds, so every failure leaves it untouched.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(message) > s.maxMessageLen {
		return ChatOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = newUUID()
	}

	release, err := s.lock(ctx, sessionID)
	if err != nil {
		return ChatOutput{}, err
	}
	defer release()

	conv, err := s.store.GetConversation(ctx, sessionID)
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "dynamodb_read_error", err)
	}

	cls := s.classifier.Classify(ctx, conv, message)
	if cls.Kind == dialogue.ClassifiedUnavailable {
		return ChatOutput{}, upstreamError("classifier_unavailable", cls.Err)
	}

	turn, err := s.machine.Step(ctx, conv, dialogue.Input{Message: message, Classification: cls})
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "dialogue_step_error", err)
	}

	if !turn.Patch.Empty() {
		if _, err := s.store.SaveConversation(ctx, turn.Conversation); err != nil {
			if errors.Is(err, domain.ErrConcurrentUpdate) {
				return ChatOutput{}, newError(ErrorBusy, "conversation_conflict", err)
			}
			return ChatOutput{}, newError(ErrorInternal, "dynamodb_write_error", err)
		}
	}

	s.logger.InfoContext(ctx, "chat turn",
		"session", sessionID,
		"intent", string(turn.Intent),
		"from_stage", string(conv.Stage),
		"to_stage", string(turn.Conversation.Stage),
		"classification", cls.Kind.String(),
	)

	out := ChatOutput{
		SessionID:      sessionID,
		Intent:         turn.Intent,
		Response:       turn.Response(),
		Options:        turn.Options,
		ContextUpdates: turn.Patch,
		Case:           turn.Case,
	}
	if out.Options == nil {
		out.Options = []string{}
	}
	if turn.Decision != nil {
		out.Outcome = newOutcomeView(*turn.Decision)
	}
	return out, nil
}

// Reset drops the session's context. Resetting an unknown session succeeds.
func (s *ChatService) Reset(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	release, err := s.lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	if err := s.store.DeleteConversation(ctx, sessionID); err != nil {
		return newError(ErrorInternal, "dynamodb_delete_error", err)
	}
	s.logger.InfoContext(ctx, "conversation reset", "session", sessionID)
	return nil
}

func (s *ChatService) lock(ctx context.Context, sessionID string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	release, err := s.locker.Acquire(lockCtx, sessionID)
	if err != nil {
		if errors.Is(err, sessionlock.ErrBusy) {
			return nil, newError(ErrorBusy, "session_locked", err)
		}
		return nil, newError(ErrorInternal, "session_lock_error", err)
	}
	return release, nil
}

var newUUID = func() string {
	return uuid.NewString()
}
