package domain

import "strings"

// Stage is the discrete step of a guided conversation.
type Stage string

const (
	StageGreeting             Stage = "greeting"
	StageTypeSelection        Stage = "type_selection"
	StageTransactionSelection Stage = "transaction_selection"
	StageReasonSelection      Stage = "reason_selection"
	StageDetailsCollection    Stage = "details_collection"
	StageComplete             Stage = "complete"
	StageStatusSelection      Stage = "status_selection"
)

// Intent is the conversational goal reported by the classifier. The string
// values are part of the chat wire contract.
type Intent string

const (
	IntentNone           Intent = ""
	IntentFileNewDispute Intent = "File New Dispute"
	IntentCheckStatus    Intent = "Dispute Status"
	IntentNotADispute    Intent = "Not A Dispute"
	IntentConclude       Intent = "Conclude"
	IntentError          Intent = "Error"
)

// Valid reports whether i is one of the known intents.
func (i Intent) Valid() bool {
	switch i {
	case IntentNone, IntentFileNewDispute, IntentCheckStatus, IntentNotADispute, IntentConclude, IntentError:
		return true
	}
	return false
}

// ChatMessage is the provider-agnostic chat message shape used by the
// classifier prompt and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is the mutable per-session dialogue context. It is passed into
// and returned from every state machine step; nothing holds it globally.
type Conversation struct {
	SessionID       string            `json:"session_id"`
	Stage           Stage             `json:"flow_stage"`
	Intent          Intent            `json:"intent"`
	TransactionID   string            `json:"transaction_id"`
	DisputeType     DisputeType       `json:"dispute_type"`
	DisputeReason   string            `json:"dispute_reason"`
	Merchant        string            `json:"merchant"`
	Amount          *float64          `json:"amount"`
	DisputeID       string            `json:"dispute_id"`
	DisputeDetails  map[string]string `json:"dispute_details"`
	CurrentQuestion string            `json:"current_question"`

	// Version is the optimistic-concurrency counter of the stored item.
	Version int `json:"-"`
}

// NewConversation returns the default context for a session.
func NewConversation(sessionID string) Conversation {
	return Conversation{
		SessionID:      sessionID,
		Stage:          StageGreeting,
		DisputeDetails: map[string]string{},
	}
}

// Reset clears everything except the session identity and storage version.
func (c Conversation) Reset() Conversation {
	out := NewConversation(c.SessionID)
	out.Version = c.Version
	return out
}

// Clone returns a deep copy so callers can mutate it without touching c.
func (c Conversation) Clone() Conversation {
	out := c
	out.DisputeDetails = make(map[string]string, len(c.DisputeDetails))
	for k, v := range c.DisputeDetails {
		out.DisputeDetails[k] = v
	}
	if c.Amount != nil {
		amount := *c.Amount
		out.Amount = &amount
	}
	return out
}

// MissingDetails returns the required detail fields of the chosen dispute type
// that have not been collected yet, in asking order.
func (c Conversation) MissingDetails() []string {
	var missing []string
	for _, f := range c.DisputeType.RequiredFields() {
		if strings.TrimSpace(c.DisputeDetails[f]) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// ReadyToCreate reports whether a dispute record may be created from c.
func (c Conversation) ReadyToCreate() bool {
	return c.TransactionID != "" &&
		c.DisputeType.Valid() &&
		c.DisputeReason != "" &&
		len(c.MissingDetails()) == 0
}
