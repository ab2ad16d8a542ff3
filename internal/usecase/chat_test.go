package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dispute-agent/internal/decision"
	"dispute-agent/internal/dialogue"
	"dispute-agent/internal/domain"
	"dispute-agent/internal/integrations/openai"
	"dispute-agent/internal/sessionlock"
)

type memStore struct {
	mu        sync.Mutex
	convs     map[string]domain.Conversation
	getErr    error
	saveErr   error
	deleteErr error
	saves     int
}

func newMemStore() *memStore {
	return &memStore{convs: map[string]domain.Conversation{}}
}

func (m *memStore) GetConversation(_ context.Context, sessionID string) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return domain.Conversation{}, m.getErr
	}
	if c, ok := m.convs[sessionID]; ok {
		return c.Clone(), nil
	}
	return domain.NewConversation(sessionID), nil
}

func (m *memStore) SaveConversation(_ context.Context, conv domain.Conversation) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return domain.Conversation{}, m.saveErr
	}
	if stored, ok := m.convs[conv.SessionID]; ok && stored.Version != conv.Version {
		return domain.Conversation{}, domain.ErrConcurrentUpdate
	}
	conv.Version++
	m.convs[conv.SessionID] = conv.Clone()
	m.saves++
	return conv, nil
}

func (m *memStore) DeleteConversation(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.convs, sessionID)
	return nil
}

type stubClassifier struct {
	cls   dialogue.Classification
	calls int
}

func (s *stubClassifier) Classify(_ context.Context, _ domain.Conversation, _ string) dialogue.Classification {
	s.calls++
	return s.cls
}

type stubMachine struct {
	turn dialogue.Turn
	err  error
	in   dialogue.Input
}

func (s *stubMachine) Step(_ context.Context, conv domain.Conversation, in dialogue.Input) (dialogue.Turn, error) {
	s.in = in
	if s.err != nil {
		return dialogue.Turn{}, s.err
	}
	if s.turn.Conversation.SessionID == "" {
		s.turn.Conversation = conv
	}
	return s.turn, nil
}

type busyLocker struct{ err error }

func (b busyLocker) Acquire(_ context.Context, _ string) (func(), error) {
	return nil, b.err
}

func okClassification() dialogue.Classification {
	return dialogue.OK(dialogue.Suggestion{Intent: domain.IntentFileNewDispute})
}

func newChat(t *testing.T, store ConversationStore, c IntentClassifier, m Stepper) *ChatService {
	t.Helper()
	svc, err := NewChatService(sessionlock.NewLocal(), store, c, m, 50, time.Second)
	require.NoError(t, err)
	return svc
}

func TestNewChatService_Validation(t *testing.T) {
	l, s, c, m := sessionlock.NewLocal(), newMemStore(), &stubClassifier{}, &stubMachine{}
	_, err := NewChatService(nil, s, c, m, 0, 0)
	require.Error(t, err)
	_, err = NewChatService(l, nil, c, m, 0, 0)
	require.Error(t, err)
	_, err = NewChatService(l, s, nil, m, 0, 0)
	require.Error(t, err)
	_, err = NewChatService(l, s, c, nil, 0, 0)
	require.Error(t, err)

	svc, err := NewChatService(l, s, c, m, 0, 0)
	require.NoError(t, err)
	require.Equal(t, defaultMaxMessage, svc.maxMessageLen)
	require.Equal(t, defaultLockWait, svc.lockWait)
}

func TestChat_InputValidation(t *testing.T) {
	svc := newChat(t, newMemStore(), &stubClassifier{cls: okClassification()}, &stubMachine{})

	_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "   "})
	require.Equal(t, ErrorInvalidInput, CodeOf(err))

	long := make([]rune, 51)
	for i := range long {
		long[i] = 'é'
	}
	_, err = svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: string(long)})
	require.Equal(t, ErrorInvalidInput, CodeOf(err))
	var ue *Error
	require.ErrorAs(t, err, &ue)
	require.Equal(t, "message_too_long", ue.Reason)
}

func TestChat_GeneratesSessionID(t *testing.T) {
	orig := newUUID
	newUUID = func() string { return "generated-session" }
	defer func() { newUUID = orig }()

	m := &stubMachine{turn: dialogue.Turn{Intent: domain.IntentFileNewDispute, Message: "Hi."}}
	svc := newChat(t, newMemStore(), &stubClassifier{cls: okClassification()}, m)

	out, err := svc.Chat(context.Background(), ChatInput{Message: "hello"})
	require.NoError(t, err)
	require.Equal(t, "generated-session", out.SessionID)
	require.Equal(t, []string{}, out.Options)
}

func TestChat_SavesOnlyWhenPatched(t *testing.T) {
	store := newMemStore()
	m := &stubMachine{turn: dialogue.Turn{Intent: domain.IntentFileNewDispute, Message: "Hi."}}
	svc := newChat(t, store, &stubClassifier{cls: okClassification()}, m)

	_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hello"})
	require.NoError(t, err)
	require.Zero(t, store.saves)

	next := domain.NewConversation("s1")
	next.Stage = domain.StageTypeSelection
	m.turn = dialogue.Turn{
		Intent:       domain.IntentFileNewDispute,
		Question:     "What type?",
		Options:      []string{"INR"},
		Patch:        domain.ContextPatch{Stage: domain.Ptr(domain.StageTypeSelection)},
		Conversation: next,
	}
	out, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hello"})
	require.NoError(t, err)
	require.Equal(t, 1, store.saves)
	require.Equal(t, domain.StageTypeSelection, store.convs["s1"].Stage)
	require.Equal(t, "What type?", out.Response)
	require.Equal(t, domain.StageTypeSelection, *out.ContextUpdates.Stage)
	require.Equal(t, "hello", m.in.Message)
}

func TestChat_ClassifierUnavailable(t *testing.T) {
	store := newMemStore()
	m := &stubMachine{}

	svc := newChat(t, store, &stubClassifier{cls: dialogue.Unavailable(context.DeadlineExceeded)}, m)
	_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hello"})
	require.Equal(t, ErrorUpstream, CodeOf(err))

	svc = newChat(t, store, &stubClassifier{cls: dialogue.Unavailable(&openai.HTTPStatusError{StatusCode: 429})}, m)
	_, err = svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hello"})
	require.Equal(t, ErrorRateLimited, CodeOf(err))
	require.Zero(t, store.saves)
}

func TestChat_StepAndStoreFailures(t *testing.T) {
	store := newMemStore()
	svc := newChat(t, store, &stubClassifier{cls: okClassification()}, &stubMachine{err: errors.New("dynamo down")})
	_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hello"})
	require.Equal(t, ErrorInternal, CodeOf(err))

	store.getErr = errors.New("read failed")
	_, err = svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hello"})
	require.Equal(t, ErrorInternal, CodeOf(err))
}

func TestChat_SaveConflictIsBusy(t *testing.T) {
	store := newMemStore()
	store.saveErr = domain.ErrConcurrentUpdate
	m := &stubMachine{turn: dialogue.Turn{Patch: domain.ContextPatch{Reset: true}}}
	svc := newChat(t, store, &stubClassifier{cls: okClassification()}, m)

	_, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hello"})
	require.Equal(t, ErrorBusy, CodeOf(err))
	require.ErrorIs(t, err, domain.ErrConcurrentUpdate)
}

func TestChat_LockContention(t *testing.T) {
	store := newMemStore()
	svc, err := NewChatService(busyLocker{err: sessionlock.ErrBusy}, store, &stubClassifier{}, &stubMachine{}, 0, time.Millisecond)
	require.NoError(t, err)
	_, err = svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hello"})
	require.Equal(t, ErrorBusy, CodeOf(err))

	svc, err = NewChatService(busyLocker{err: errors.New("redis down")}, store, &stubClassifier{}, &stubMachine{}, 0, time.Millisecond)
	require.NoError(t, err)
	_, err = svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "hello"})
	require.Equal(t, ErrorInternal, CodeOf(err))
}

func TestChat_OutcomeView(t *testing.T) {
	dec := decision.Decide(decision.Scores{}, domain.CaseRecord{
		Eligibility:            domain.EligibilityEligible,
		BuyerFraud:             domain.Ptr(0.1),
		SellerFraud:            domain.Ptr(0.9),
		Collusion:              domain.Ptr(0.1),
		AdjudicationConfidence: domain.Ptr(0.9),
		PayoutAmount:           domain.Ptr(149.99),
	})
	m := &stubMachine{turn: dialogue.Turn{Intent: domain.IntentFileNewDispute, Message: "Done.", Decision: &dec}}
	svc := newChat(t, newMemStore(), &stubClassifier{cls: okClassification()}, m)

	out, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: "yes"})
	require.NoError(t, err)
	require.NotNil(t, out.Outcome)
	require.Equal(t, decision.KindInstantPayout, out.Outcome.Kind)
	require.True(t, out.Outcome.InstantPayout)
	require.InDelta(t, 149.99, *out.Outcome.PayoutAmount, 1e-9)
	require.Equal(t, decision.ProgressResolved, out.Outcome.Progress)
}

func TestReset(t *testing.T) {
	store := newMemStore()
	store.convs["s1"] = domain.NewConversation("s1")
	svc := newChat(t, store, &stubClassifier{}, &stubMachine{})

	require.NoError(t, svc.Reset(context.Background(), "s1"))
	require.NotContains(t, store.convs, "s1")
	require.NoError(t, svc.Reset(context.Background(), "s1"))
	require.NoError(t, svc.Reset(context.Background(), ""))

	store.deleteErr = errors.New("boom")
	require.Equal(t, ErrorInternal, CodeOf(svc.Reset(context.Background(), "s1")))
}

// The remaining tests run the real state machine against in-memory stores.

type memTxns struct{ txns []domain.Transaction }

func (m memTxns) ListTransactions(context.Context) ([]domain.Transaction, error) { return m.txns, nil }

func (m memTxns) GetTransaction(_ context.Context, id string) (domain.Transaction, error) {
	for _, t := range m.txns {
		if t.TransactionID == id {
			return t, nil
		}
	}
	return domain.Transaction{}, domain.ErrTransactionNotFound
}

type memDisputes struct {
	mu      sync.Mutex
	created []domain.Dispute
}

func (m *memDisputes) CreateDispute(_ context.Context, d domain.Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.created {
		if e.TransactionID == d.TransactionID && e.Status == domain.DisputeStatusOpen {
			return domain.ErrDuplicateActiveDispute
		}
	}
	m.created = append(m.created, d)
	return nil
}

func (m *memDisputes) GetDispute(_ context.Context, id string) (domain.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.created {
		if d.DisputeID == id {
			return d, nil
		}
	}
	return domain.Dispute{}, domain.ErrDisputeNotFound
}

func (m *memDisputes) ListDisputes(context.Context) ([]domain.Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Dispute(nil), m.created...), nil
}

type noCases struct{}

func (noCases) LookupCase(context.Context, domain.CaseQuery) (domain.CaseRecord, error) {
	return domain.CaseRecord{}, domain.ErrCaseNotFound
}

func (noCases) LinkDispute(context.Context, string, string) error { return domain.ErrCaseNotFound }

type scriptedClassifier struct {
	replies []dialogue.Classification
}

func (s *scriptedClassifier) Classify(context.Context, domain.Conversation, string) dialogue.Classification {
	if len(s.replies) == 0 {
		return okClassification()
	}
	c := s.replies[0]
	s.replies = s.replies[1:]
	return c
}

func TestChat_EndToEndFiling(t *testing.T) {
	disputes := &memDisputes{}
	machine, err := dialogue.NewMachine(
		memTxns{txns: []domain.Transaction{{TransactionID: "T1", Merchant: "Acme", Amount: 42}}},
		disputes, noCases{}, decision.Scores{},
		dialogue.WithIDGenerator(func() string { return "DSP00000001" }),
	)
	require.NoError(t, err)

	store := newMemStore()
	cls := &scriptedClassifier{}
	svc := newChat(t, store, cls, machine)
	say := func(msg string) ChatOutput {
		t.Helper()
		out, err := svc.Chat(context.Background(), ChatInput{SessionID: "s1", Message: msg})
		require.NoError(t, err)
		return out
	}

	say("I want to dispute a charge")
	say("Item Not Received (INR)")
	say("Acme - $42.00 (ID: T1)")
	say("Item never arrived")
	say("2026-10-01")

	// A malformed reading mid-flow leaves the stored context as it was.
	before := store.convs["s1"]
	cls.replies = []dialogue.Classification{dialogue.Malformed(errors.New("bad json"))}
	out := say("yes")
	require.Equal(t, domain.IntentError, out.Intent)
	require.Equal(t, []string{dialogue.StartOver}, out.Options)
	require.True(t, out.ContextUpdates.Empty())
	require.Equal(t, before, store.convs["s1"])

	out = say("yes")
	require.Contains(t, out.Response, "DSP00000001")
	require.NotNil(t, out.Outcome)
	require.Equal(t, decision.KindUnderReview, out.Outcome.Kind)
	require.Len(t, disputes.created, 1)
	require.Equal(t, domain.StageComplete, store.convs["s1"].Stage)
}
