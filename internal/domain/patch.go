package domain

// ContextPatch is a field-level update to a Conversation. Nil fields are left
// untouched when applied; DisputeDetails merges key by key.
type ContextPatch struct {
	Reset           bool              `json:"reset,omitempty"`
	Stage           *Stage            `json:"flow_stage,omitempty"`
	Intent          *Intent           `json:"intent,omitempty"`
	TransactionID   *string           `json:"transaction_id,omitempty"`
	DisputeType     *DisputeType      `json:"dispute_type,omitempty"`
	DisputeReason   *string           `json:"dispute_reason,omitempty"`
	Merchant        *string           `json:"merchant,omitempty"`
	Amount          *float64          `json:"amount,omitempty"`
	DisputeID       *string           `json:"dispute_id,omitempty"`
	DisputeDetails  map[string]string `json:"dispute_details,omitempty"`
	CurrentQuestion *string           `json:"current_question,omitempty"`
}

// Empty reports whether applying p would change nothing.
func (p ContextPatch) Empty() bool {
	return !p.Reset && p.Stage == nil && p.Intent == nil && p.TransactionID == nil &&
		p.DisputeType == nil && p.DisputeReason == nil && p.Merchant == nil &&
		p.Amount == nil && p.DisputeID == nil && len(p.DisputeDetails) == 0 &&
		p.CurrentQuestion == nil
}

// Apply returns a copy of c with p merged in. c itself is not modified.
func (c Conversation) Apply(p ContextPatch) Conversation {
	out := c.Clone()
	if p.Reset {
		out = out.Reset()
	}
	if p.Stage != nil {
		out.Stage = *p.Stage
	}
	if p.Intent != nil {
		out.Intent = *p.Intent
	}
	if p.TransactionID != nil {
		out.TransactionID = *p.TransactionID
	}
	if p.DisputeType != nil {
		out.DisputeType = *p.DisputeType
	}
	if p.DisputeReason != nil {
		out.DisputeReason = *p.DisputeReason
	}
	if p.Merchant != nil {
		out.Merchant = *p.Merchant
	}
	if p.Amount != nil {
		amount := *p.Amount
		out.Amount = &amount
	}
	if p.DisputeID != nil {
		out.DisputeID = *p.DisputeID
	}
	for k, v := range p.DisputeDetails {
		out.DisputeDetails[k] = v
	}
	if p.CurrentQuestion != nil {
		out.CurrentQuestion = *p.CurrentQuestion
	}
	return out
}

// Merge folds next into p; fields set in next win.
func (p ContextPatch) Merge(next ContextPatch) ContextPatch {
	out := p
	if next.Reset {
		out = ContextPatch{Reset: true}
	}
	if next.Stage != nil {
		out.Stage = next.Stage
	}
	if next.Intent != nil {
		out.Intent = next.Intent
	}
	if next.TransactionID != nil {
		out.TransactionID = next.TransactionID
	}
	if next.DisputeType != nil {
		out.DisputeType = next.DisputeType
	}
	if next.DisputeReason != nil {
		out.DisputeReason = next.DisputeReason
	}
	if next.Merchant != nil {
		out.Merchant = next.Merchant
	}
	if next.Amount != nil {
		out.Amount = next.Amount
	}
	if next.DisputeID != nil {
		out.DisputeID = next.DisputeID
	}
	if len(next.DisputeDetails) > 0 {
		details := make(map[string]string, len(out.DisputeDetails)+len(next.DisputeDetails))
		for k, v := range out.DisputeDetails {
			details[k] = v
		}
		for k, v := range next.DisputeDetails {
			details[k] = v
		}
		out.DisputeDetails = details
	}
	if next.CurrentQuestion != nil {
		out.CurrentQuestion = next.CurrentQuestion
	}
	return out
}

// Ptr returns a pointer to v. It keeps patch literals short.
func Ptr[T any](v T) *T {
	return &v
}
