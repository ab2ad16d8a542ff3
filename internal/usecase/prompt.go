package usecase

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"dispute-agent/internal/dialogue"
	"dispute-agent/internal/domain"
)

// classifierReply is the wire shape the model must return. Pointers tell a
// missing key apart from an empty value.
type classifierReply struct {
	Intent         *string            `json:"intent"`
	Response       *string            `json:"response"`
	Options        *[]string          `json:"options"`
	ContextUpdates *classifierUpdates `json:"context_updates"`
}

type classifierUpdates struct {
	DisputeType    *string            `json:"dispute_type"`
	TransactionID  *string            `json:"transaction_id"`
	DisputeID      *string            `json:"dispute_id"`
	DisputeReason  *string            `json:"dispute_reason"`
	DisputeDetails map[string]*string `json:"dispute_details"`
}

var classifierIntents = map[domain.Intent]bool{
	domain.IntentFileNewDispute: true,
	domain.IntentCheckStatus:    true,
	domain.IntentNotADispute:    true,
	domain.IntentConclude:       true,
}

func buildPromptMessages(pinnedPrompt string, conv domain.Conversation, message string) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: "system", Content: buildPolicyPrompt()},
	}
	if p := strings.TrimSpace(pinnedPrompt); p != "" {
		messages = append(messages, domain.ChatMessage{Role: "system", Content: p})
	}
	messages = append(messages,
		domain.ChatMessage{Role: "system", Content: buildContextPrompt(conv)},
		domain.ChatMessage{Role: "user", Content: message},
	)
	return messages
}

func buildPolicyPrompt() string {
	return strings.Join([]string{
		"Role:",
		"You are the intent classifier of a payment dispute assistant.",
		"",
		"Task:",
		"Classify the customer's latest message and extract any dispute facts it states.",
		"The assistant decides what to ask next; you only report what the message says.",
		"",
		"Intents:",
		"- File New Dispute: the customer wants to file or continue filing a dispute.",
		"- Dispute Status: the customer asks about an existing dispute.",
		"- Not A Dispute: the message is unrelated to disputes.",
		"- Conclude: the customer is finished.",
		"",
		"Behavior Rules:",
		behaviorRules(),
		"",
		"Output Contract:",
		outputContract(),
	}, "\n")
}

func behaviorRules() string {
	return strings.Join([]string{
		"1) Classify only the latest message, using the conversation state for context.",
		"2) Never invent transaction ids, dispute ids or detail values the customer did not give.",
		"3) dispute_type is one of INR, SNAD or UNAUTH, or null.",
		"4) Dates are YYYY-MM-DD. Yes/no answers are \"yes\" or \"no\".",
		"5) response is one short statement with no question.",
	}, "\n")
}

func outputContract() string {
	return "Return JSON only with keys intent (string), response (string), options (array of strings) " +
		"and context_updates (object with dispute_type, transaction_id, dispute_id, dispute_reason and dispute_details). " +
		"Use null for anything the message does not state."
}

// buildContextPrompt summarizes the conversation state for the model.
func buildContextPrompt(conv domain.Conversation) string {
	lines := []string{
		"Conversation State:",
		"stage: " + string(conv.Stage),
	}
	add := func(label, v string) {
		if v != "" {
			lines = append(lines, label+": "+v)
		}
	}
	add("intent", string(conv.Intent))
	add("dispute_type", string(conv.DisputeType))
	add("transaction_id", conv.TransactionID)
	add("merchant", conv.Merchant)
	add("dispute_reason", conv.DisputeReason)
	add("dispute_id", conv.DisputeID)
	add("current_question", conv.CurrentQuestion)

	if len(conv.DisputeDetails) > 0 {
		keys := make([]string, 0, len(conv.DisputeDetails))
		for k := range conv.DisputeDetails {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			lines = append(lines, "detail "+k+": "+conv.DisputeDetails[k])
		}
	}
	if missing := conv.MissingDetails(); conv.DisputeType.Valid() && len(missing) > 0 {
		lines = append(lines, "missing details: "+strings.Join(missing, ", "))
	}
	return strings.Join(lines, "\n")
}

// parseClassification strictly decodes a model reply. Anything outside the
// contract is an error, which callers treat as a malformed classification.
func parseClassification(raw string) (dialogue.Suggestion, error) {
	var out classifierReply
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return dialogue.Suggestion{}, fmt.Errorf("usecase: decode classification: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return dialogue.Suggestion{}, errors.New("usecase: decode classification: multiple JSON values")
		}
		return dialogue.Suggestion{}, fmt.Errorf("usecase: decode classification trailing data: %w", err)
	}

	switch {
	case out.Intent == nil:
		return dialogue.Suggestion{}, errors.New("usecase: classification missing intent")
	case out.Response == nil:
		return dialogue.Suggestion{}, errors.New("usecase: classification missing response")
	case out.Options == nil:
		return dialogue.Suggestion{}, errors.New("usecase: classification missing options")
	case out.ContextUpdates == nil:
		return dialogue.Suggestion{}, errors.New("usecase: classification missing context_updates")
	}

	intent := domain.Intent(strings.TrimSpace(*out.Intent))
	if !classifierIntents[intent] {
		return dialogue.Suggestion{}, fmt.Errorf("usecase: classification has unknown intent %q", *out.Intent)
	}
	patch, err := out.ContextUpdates.patch()
	if err != nil {
		return dialogue.Suggestion{}, err
	}
	return dialogue.Suggestion{
		Intent:   intent,
		Response: strings.TrimSpace(*out.Response),
		Options:  *out.Options,
		Patch:    patch,
	}, nil
}

func (u classifierUpdates) patch() (domain.ContextPatch, error) {
	var p domain.ContextPatch
	if v := trimmed(u.DisputeType); v != "" {
		t, ok := domain.ParseDisputeType(v)
		if !ok {
			return domain.ContextPatch{}, fmt.Errorf("usecase: classification has unknown dispute_type %q", v)
		}
		p.DisputeType = domain.Ptr(t)
	}
	if v := trimmed(u.TransactionID); v != "" {
		p.TransactionID = domain.Ptr(v)
	}
	if v := trimmed(u.DisputeID); v != "" {
		p.DisputeID = domain.Ptr(v)
	}
	if v := trimmed(u.DisputeReason); v != "" {
		p.DisputeReason = domain.Ptr(v)
	}
	for k, v := range u.DisputeDetails {
		if !domain.IsDetailField(k) {
			return domain.ContextPatch{}, fmt.Errorf("usecase: classification has unknown detail %q", k)
		}
		if s := trimmed(v); s != "" {
			if p.DisputeDetails == nil {
				p.DisputeDetails = map[string]string{}
			}
			p.DisputeDetails[k] = s
		}
	}
	return p, nil
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
