// Package dialogue drives the guided dispute conversation one turn at a time.
//
// A Machine never holds conversation state. Step takes the current
// Conversation and returns the next one inside a Turn; callers persist it only
// when Step succeeds, so a failed turn leaves the stored context untouched.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"dispute-agent/internal/decision"
	"dispute-agent/internal/domain"
	"dispute-agent/internal/logging"
)

// TransactionReader is the transaction catalogue.
type TransactionReader interface {
	ListTransactions(ctx context.Context) ([]domain.Transaction, error)
	GetTransaction(ctx context.Context, transactionID string) (domain.Transaction, error)
}

// DisputeStore persists disputes. CreateDispute must fail with
// domain.ErrDuplicateActiveDispute when the transaction already has an open
// dispute, without writing anything. GetDispute returns
// domain.ErrDisputeNotFound for an unknown id.
type DisputeStore interface {
	CreateDispute(ctx context.Context, d domain.Dispute) error
	GetDispute(ctx context.Context, disputeID string) (domain.Dispute, error)
	ListDisputes(ctx context.Context) ([]domain.Dispute, error)
}

// CaseStore is the back-office risk score store.
type CaseStore interface {
	LookupCase(ctx context.Context, q domain.CaseQuery) (domain.CaseRecord, error)
	LinkDispute(ctx context.Context, transactionID, disputeID string) error
}

// Input is one user turn plus the classifier's reading of it.
type Input struct {
	Message        string
	Classification Classification
}

// Turn is the result of one step.
type Turn struct {
	Intent   domain.Intent
	Message  string
	Question string
	Options  []string
	// Patch is what changed in the context this turn.
	Patch        domain.ContextPatch
	Conversation domain.Conversation

	Dispute  *domain.Dispute
	Case     *domain.CaseRecord
	Decision *decision.Decision
}

// Response joins the statement and the single question of the turn.
func (t Turn) Response() string {
	return strings.TrimSpace(t.Message + " " + t.Question)
}

const (
	RetryMessage = "I encountered an error processing your request. Please try again."
	StartOver    = "Start over"
	CheckStatus  = "Check dispute status"

	askType        = "What type of dispute would you like to file?"
	askTransaction = "Which transaction would you like to dispute?"
	askReason      = "What is the reason for your dispute?"
	askFileNew     = "Would you like to file a new dispute?"

	greetingText  = "I can help you file a new dispute or check the status of an existing one."
	farewellText  = "Thank you for contacting us. Have a great day!"
	didntCatch    = "Sorry, I didn't catch that."
	duplicateText = "There is already an open dispute for this transaction, so a new one cannot be filed. You can check the status of the existing dispute instead."
)

type stageFunc func(ctx context.Context, st *turnState) (Turn, error)

// Machine is the dispute conversation state machine.
type Machine struct {
	txns     TransactionReader
	disputes DisputeStore
	cases    CaseStore
	strategy decision.Strategy
	logger   *slog.Logger

	newID func() string
	now   func() time.Time

	transitions map[domain.Stage]stageFunc
}

type Option func(*Machine)

// WithIDGenerator overrides dispute id generation.
func WithIDGenerator(fn func() string) Option {
	return func(m *Machine) {
		m.newID = fn
	}
}

// WithClock overrides the clock used for creation dates.
func WithClock(fn func() time.Time) Option {
	return func(m *Machine) {
		m.now = fn
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = l
	}
}

func NewMachine(txns TransactionReader, disputes DisputeStore, cases CaseStore, strategy decision.Strategy, opts ...Option) (*Machine, error) {
	if txns == nil {
		return nil, errors.New("dialogue: transaction reader must not be nil")
	}
	if disputes == nil {
		return nil, errors.New("dialogue: dispute store must not be nil")
	}
	if cases == nil {
		return nil, errors.New("dialogue: case store must not be nil")
	}
	if strategy == nil {
		return nil, errors.New("dialogue: decision strategy must not be nil")
	}
	m := &Machine{
		txns:     txns,
		disputes: disputes,
		cases:    cases,
		strategy: strategy,
		logger:   logging.New("dialogue"),
		newID:    newDisputeID,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.transitions = map[domain.Stage]stageFunc{
		domain.StageGreeting:             m.greeting,
		domain.StageTypeSelection:        m.typeSelection,
		domain.StageTransactionSelection: m.transactionSelection,
		domain.StageReasonSelection:      m.reasonSelection,
		domain.StageDetailsCollection:    m.detailsCollection,
		domain.StageComplete:             m.complete,
		domain.StageStatusSelection:      m.statusSelection,
	}
	return m, nil
}

// Step advances conv by one user turn. A returned error means a collaborator
// failed; the caller must keep conv as it was.
func (m *Machine) Step(ctx context.Context, conv domain.Conversation, in Input) (Turn, error) {
	if in.Classification.Kind != ClassifiedOK {
		m.logger.WarnContext(ctx, "classifier result rejected",
			"session", conv.SessionID, "kind", in.Classification.Kind.String(), "err", in.Classification.Err)
		return ErrorTurn(conv), nil
	}

	st := newTurnState(conv, in)
	switch {
	case st.intent() == domain.IntentConclude || isClosure(st.msg):
		return m.conclude(st), nil
	case isStartOver(st.msg):
		st.set(domain.ContextPatch{Reset: true})
		return m.promptType(st, "Let's start over."), nil
	case conv.Stage != domain.StageStatusSelection && st.wantsStatus():
		return m.enterStatus(ctx, st)
	}

	fn, ok := m.transitions[conv.Stage]
	if !ok {
		m.logger.WarnContext(ctx, "unknown stage, restarting", "session", conv.SessionID, "stage", string(conv.Stage))
		return m.askFileNew(st, domain.ContextPatch{Reset: true}, ""), nil
	}
	return fn(ctx, st)
}

// ErrorTurn is the fixed retry response. It carries no patch and returns conv
// unchanged.
func ErrorTurn(conv domain.Conversation) Turn {
	return Turn{
		Intent:       domain.IntentError,
		Message:      RetryMessage,
		Options:      []string{StartOver},
		Conversation: conv,
	}
}

// turnState accumulates the working context and the patch that produced it.
type turnState struct {
	orig  domain.Conversation
	conv  domain.Conversation
	patch domain.ContextPatch
	msg   string
	sug   Suggestion
}

func newTurnState(conv domain.Conversation, in Input) *turnState {
	return &turnState{
		orig: conv,
		conv: conv.Clone(),
		msg:  strings.TrimSpace(in.Message),
		sug:  in.Classification.Suggestion,
	}
}

func (st *turnState) intent() domain.Intent {
	return st.sug.Intent
}

// wantsStatus reports a status request. Outside a filing, status keywords
// count even when the classifier missed them, unless it routed to filing.
func (st *turnState) wantsStatus() bool {
	if st.intent() == domain.IntentCheckStatus || strings.EqualFold(st.msg, CheckStatus) {
		return true
	}
	switch st.orig.Stage {
	case domain.StageGreeting, domain.StageComplete:
	default:
		return false
	}
	return st.intent() != domain.IntentFileNewDispute && mentionsStatus(st.msg)
}

func (st *turnState) set(p domain.ContextPatch) {
	st.conv = st.conv.Apply(p)
	st.patch = st.patch.Merge(p)
}

func (st *turnState) turn(message, question string, options []string) Turn {
	if question != st.conv.CurrentQuestion {
		st.set(domain.ContextPatch{CurrentQuestion: domain.Ptr(question)})
	}
	intent := st.conv.Intent
	if intent == domain.IntentNone {
		intent = st.sug.Intent
	}
	return Turn{
		Intent:       intent,
		Message:      message,
		Question:     question,
		Options:      options,
		Patch:        st.patch,
		Conversation: st.conv,
	}
}

// unchanged answers without committing anything from this turn.
func (st *turnState) unchanged(message, question string, options []string) Turn {
	intent := st.orig.Intent
	if intent == domain.IntentNone {
		intent = st.sug.Intent
	}
	return Turn{
		Intent:       intent,
		Message:      message,
		Question:     question,
		Options:      options,
		Conversation: st.orig,
	}
}

// absorbDetails merges classifier-extracted detail values that validate for
// the chosen dispute type.
func (st *turnState) absorbDetails() {
	if details := validDetails(st.conv.DisputeType, st.sug.Patch.DisputeDetails); details != nil {
		st.set(domain.ContextPatch{DisputeDetails: details})
	}
}

func (m *Machine) greeting(ctx context.Context, st *turnState) (Turn, error) {
	if st.conv.CurrentQuestion == askFileNew {
		if yes, ok := parseYesNo(st.msg); ok && !yes {
			return m.conclude(st), nil
		}
	}
	if st.intent() == domain.IntentNotADispute {
		return m.askFileNew(st, domain.ContextPatch{}, statementOnly(st.sug.Response, greetingText)), nil
	}
	st.set(domain.ContextPatch{Intent: domain.Ptr(domain.IntentFileNewDispute)})
	if t, ok := st.disputeType(); ok {
		return m.chooseType(ctx, st, t)
	}
	return m.promptType(st, ""), nil
}

func (m *Machine) typeSelection(ctx context.Context, st *turnState) (Turn, error) {
	t, ok := st.disputeType()
	if !ok {
		return m.promptType(st, "Please choose one of the dispute types below."), nil
	}
	return m.chooseType(ctx, st, t)
}

func (st *turnState) disputeType() (domain.DisputeType, bool) {
	if t, ok := domain.ParseDisputeType(st.msg); ok {
		return t, true
	}
	if p := st.sug.Patch.DisputeType; p != nil && p.Valid() {
		return *p, true
	}
	return "", false
}

func (m *Machine) promptType(st *turnState, message string) Turn {
	st.set(domain.ContextPatch{
		Stage:  domain.Ptr(domain.StageTypeSelection),
		Intent: domain.Ptr(domain.IntentFileNewDispute),
	})
	return st.turn(message, askType, typeOptions())
}

func (m *Machine) chooseType(ctx context.Context, st *turnState, t domain.DisputeType) (Turn, error) {
	txns, err := m.txns.ListTransactions(ctx)
	if err != nil {
		return Turn{}, fmt.Errorf("dialogue: list transactions: %w", err)
	}
	st.set(domain.ContextPatch{
		Stage:       domain.Ptr(domain.StageTransactionSelection),
		Intent:      domain.Ptr(domain.IntentFileNewDispute),
		DisputeType: domain.Ptr(t),
	})
	st.absorbDetails()
	return st.turn(fmt.Sprintf("Got it, %s.", t.Label()), askTransaction, transactionOptions(txns)), nil
}

func (m *Machine) transactionSelection(ctx context.Context, st *turnState) (Turn, error) {
	if !st.conv.DisputeType.Valid() {
		return m.promptType(st, ""), nil
	}
	id := ExtractID(st.msg)
	if id == "" && st.sug.Patch.TransactionID != nil {
		id = strings.TrimSpace(*st.sug.Patch.TransactionID)
	}
	if id == "" {
		return m.listTransactions(ctx, st, "Please choose a transaction from the list below.")
	}

	txn, err := m.txns.GetTransaction(ctx, id)
	if errors.Is(err, domain.ErrTransactionNotFound) {
		return m.listTransactions(ctx, st, "I couldn't find that transaction. Please choose one from the list below.")
	}
	if err != nil {
		return Turn{}, fmt.Errorf("dialogue: get transaction: %w", err)
	}

	st.set(domain.ContextPatch{
		Stage:         domain.Ptr(domain.StageReasonSelection),
		TransactionID: domain.Ptr(txn.TransactionID),
		Merchant:      domain.Ptr(txn.Merchant),
		Amount:        domain.Ptr(txn.Amount),
	})
	st.absorbDetails()
	return st.turn(fmt.Sprintf("You selected the %s payment of $%.2f.", txn.Merchant, txn.Amount), askReason, st.conv.DisputeType.Reasons()), nil
}

func (m *Machine) listTransactions(ctx context.Context, st *turnState, message string) (Turn, error) {
	txns, err := m.txns.ListTransactions(ctx)
	if err != nil {
		return Turn{}, fmt.Errorf("dialogue: list transactions: %w", err)
	}
	return st.turn(message, askTransaction, transactionOptions(txns)), nil
}

func (m *Machine) reasonSelection(ctx context.Context, st *turnState) (Turn, error) {
	t := st.conv.DisputeType
	if !t.Valid() || st.conv.TransactionID == "" {
		return m.promptType(st, ""), nil
	}
	reason, ok := t.MatchReason(st.msg)
	if !ok && st.sug.Patch.DisputeReason != nil {
		reason, ok = t.MatchReason(*st.sug.Patch.DisputeReason)
	}
	if !ok {
		return st.unchanged("Please choose one of the reasons below.", askReason, t.Reasons()), nil
	}
	st.set(domain.ContextPatch{DisputeReason: domain.Ptr(reason)})
	st.absorbDetails()
	return m.advance(ctx, st)
}

func (m *Machine) detailsCollection(ctx context.Context, st *turnState) (Turn, error) {
	if st.conv.DisputeReason == "" || !st.conv.DisputeType.Valid() {
		return m.promptType(st, ""), nil
	}
	st.absorbDetails()

	field := st.orig.CurrentQuestion
	for _, f := range st.conv.MissingDetails() {
		if fieldQuestions[f] != field {
			continue
		}
		v, ok := NormalizeDetail(f, st.msg)
		if !ok {
			return st.unchanged(didntCatch, field, fieldOptions(f)), nil
		}
		st.set(domain.ContextPatch{DisputeDetails: map[string]string{f: v}})
		break
	}
	return m.advance(ctx, st)
}

// advance asks for the next missing detail or creates the dispute.
func (m *Machine) advance(ctx context.Context, st *turnState) (Turn, error) {
	missing := st.conv.MissingDetails()
	if len(missing) == 0 {
		return m.create(ctx, st)
	}
	next := missing[0]
	st.set(domain.ContextPatch{Stage: domain.Ptr(domain.StageDetailsCollection)})
	return st.turn("", fieldQuestions[next], fieldOptions(next)), nil
}

func (m *Machine) create(ctx context.Context, st *turnState) (Turn, error) {
	c := st.conv
	if !c.ReadyToCreate() {
		return Turn{}, errors.New("dialogue: create called with incomplete context")
	}
	var amount float64
	if c.Amount != nil {
		amount = *c.Amount
	}
	details := make(map[string]string, len(c.DisputeDetails))
	for _, f := range c.DisputeType.RequiredFields() {
		details[f] = c.DisputeDetails[f]
	}
	d := domain.Dispute{
		DisputeID:     m.newID(),
		TransactionID: c.TransactionID,
		Type:          c.DisputeType,
		Status:        domain.DisputeStatusOpen,
		CreationDate:  m.now().UTC().Format("2006-01-02"),
		Reason:        c.DisputeReason,
		Details:       details,
		Merchant:      c.Merchant,
		Amount:        amount,
	}

	err := m.disputes.CreateDispute(ctx, d)
	if errors.Is(err, domain.ErrDuplicateActiveDispute) {
		m.logger.InfoContext(ctx, "duplicate open dispute", "session", c.SessionID, "transaction_id", c.TransactionID)
		return st.unchanged(duplicateText, "", []string{CheckStatus, StartOver}), nil
	}
	if err != nil {
		return Turn{}, fmt.Errorf("dialogue: create dispute: %w", err)
	}
	m.logger.InfoContext(ctx, "dispute created", "session", c.SessionID, "dispute_id", d.DisputeID, "transaction_id", d.TransactionID)

	// The record exists from here on; back-office failures must not fail the
	// turn, or a retry would trip the duplicate check.
	if err := m.cases.LinkDispute(ctx, d.TransactionID, d.DisputeID); err != nil {
		m.logger.WarnContext(ctx, "link dispute to case failed", "dispute_id", d.DisputeID, "err", err)
	}
	rec, err := m.cases.LookupCase(ctx, domain.CaseQuery{DisputeID: d.DisputeID, TransactionID: d.TransactionID})
	if err != nil {
		if !errors.Is(err, domain.ErrCaseNotFound) {
			m.logger.WarnContext(ctx, "case lookup after creation failed", "dispute_id", d.DisputeID, "err", err)
		}
		rec = domain.CaseRecord{DisputeID: d.DisputeID, TransactionID: d.TransactionID}
	}
	dec := decision.Decide(m.strategy, rec)

	st.set(domain.ContextPatch{
		Stage:     domain.Ptr(domain.StageComplete),
		DisputeID: domain.Ptr(d.DisputeID),
	})
	out := st.turn(fmt.Sprintf("Dispute created successfully! Your dispute ID is: %s. %s", d.DisputeID, dec.Message), "", nil)
	out.Dispute = &d
	out.Case = &rec
	out.Decision = &dec
	return out, nil
}

func (m *Machine) complete(_ context.Context, st *turnState) (Turn, error) {
	return m.askFileNew(st, domain.ContextPatch{Reset: true}, ""), nil
}

func (m *Machine) askFileNew(st *turnState, p domain.ContextPatch, message string) Turn {
	p.Stage = domain.Ptr(domain.StageGreeting)
	st.set(p)
	return st.turn(message, askFileNew, yesNoOptions())
}

func (m *Machine) conclude(st *turnState) Turn {
	st.set(domain.ContextPatch{Reset: true})
	out := st.turn(farewellText, "", nil)
	out.Intent = domain.IntentConclude
	return out
}

func (m *Machine) enterStatus(ctx context.Context, st *turnState) (Turn, error) {
	st.set(domain.ContextPatch{
		Reset:  true,
		Stage:  domain.Ptr(domain.StageStatusSelection),
		Intent: domain.Ptr(domain.IntentCheckStatus),
	})
	return m.statusSelection(ctx, st)
}

func (m *Machine) statusSelection(ctx context.Context, st *turnState) (Turn, error) {
	id, err := m.selectedDispute(ctx, st)
	if err != nil {
		return Turn{}, err
	}
	if id == "" {
		return m.listDisputes(ctx, st, "Please choose the dispute you want to check from the list below.")
	}

	rec, err := m.cases.LookupCase(ctx, domain.CaseQuery{DisputeID: id})
	if errors.Is(err, domain.ErrCaseNotFound) {
		// Filed but not linked to a back-office case yet.
		d, derr := m.disputes.GetDispute(ctx, id)
		if errors.Is(derr, domain.ErrDisputeNotFound) {
			return m.listDisputes(ctx, st, fmt.Sprintf("I couldn't find a dispute with ID %s. Please choose one from the list below.", id))
		}
		if derr != nil {
			return Turn{}, fmt.Errorf("dialogue: get dispute: %w", derr)
		}
		rec = domain.CaseRecord{DisputeID: d.DisputeID, TransactionID: d.TransactionID}
		err = nil
	}
	if err != nil {
		return Turn{}, fmt.Errorf("dialogue: lookup case: %w", err)
	}
	dec := decision.Decide(m.strategy, rec)

	st.set(domain.ContextPatch{Reset: true})
	out := st.turn(dec.Message, "", nil)
	out.Intent = domain.IntentCheckStatus
	out.Case = &rec
	out.Decision = &dec
	return out, nil
}

// selectedDispute returns the dispute id the user picked. An explicit
// "(ID: x)" selection or a classifier-extracted id is taken as is; a bare
// token only when it names a dispute on file.
func (m *Machine) selectedDispute(ctx context.Context, st *turnState) (string, error) {
	if match := idPattern.FindAllStringSubmatch(st.msg, -1); len(match) > 0 {
		return match[len(match)-1][1], nil
	}
	if p := st.sug.Patch.DisputeID; p != nil && strings.TrimSpace(*p) != "" {
		return strings.TrimSpace(*p), nil
	}
	token := ExtractID(st.msg)
	if token == "" {
		return "", nil
	}
	disputes, err := m.disputes.ListDisputes(ctx)
	if err != nil {
		return "", fmt.Errorf("dialogue: list disputes: %w", err)
	}
	for _, d := range disputes {
		if strings.EqualFold(d.DisputeID, token) {
			return d.DisputeID, nil
		}
	}
	return "", nil
}

func (m *Machine) listDisputes(ctx context.Context, st *turnState, message string) (Turn, error) {
	disputes, err := m.disputes.ListDisputes(ctx)
	if err != nil {
		return Turn{}, fmt.Errorf("dialogue: list disputes: %w", err)
	}
	if len(disputes) == 0 {
		return m.askFileNew(st, domain.ContextPatch{Reset: true}, "I couldn't find any disputes on file."), nil
	}
	st.set(domain.ContextPatch{Stage: domain.Ptr(domain.StageStatusSelection)})
	out := st.turn(message, "", append(disputeOptions(disputes), StartOver))
	out.Intent = domain.IntentCheckStatus
	return out, nil
}

var statusWords = map[string]bool{"status": true, "check": true, "track": true, "progress": true}

func mentionsStatus(msg string) bool {
	for _, w := range strings.FieldsFunc(strings.ToLower(msg), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		if statusWords[w] {
			return true
		}
	}
	return false
}

var closurePhrases = map[string]bool{
	"thanks": true, "thank you": true, "thx": true, "bye": true, "goodbye": true,
	"that's all": true, "that is all": true, "no thanks": true, "no, thanks": true, "no thank you": true,
}

func isClosure(msg string) bool {
	return closurePhrases[strings.ToLower(strings.Trim(strings.TrimSpace(msg), ".!"))]
}

func isStartOver(msg string) bool {
	return strings.EqualFold(strings.TrimSpace(msg), StartOver)
}

// statementOnly keeps free classifier text only when it asks nothing, so a
// turn never carries more than one question.
func statementOnly(s, fallback string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(s, "?") {
		return fallback
	}
	return s
}

var newDisputeID = func() string {
	return "DSP" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
