package domain

import "strings"

// DisputeType classifies a customer claim.
type DisputeType string

const (
	DisputeTypeINR    DisputeType = "INR"
	DisputeTypeSNAD   DisputeType = "SNAD"
	DisputeTypeUNAUTH DisputeType = "UNAUTH"
)

// DisputeTypes lists the supported types in presentation order.
var DisputeTypes = []DisputeType{DisputeTypeINR, DisputeTypeSNAD, DisputeTypeUNAUTH}

// Detail field names collected during filing.
const (
	FieldExpectedDeliveryDate = "expected_delivery_date"
	FieldContactedSeller      = "contacted_seller"
	FieldItemCondition        = "item_condition"
	FieldRecognizesMerchant   = "recognizes_merchant"
	FieldContactedBank        = "contacted_bank"
)

var requiredFields = map[DisputeType][]string{
	DisputeTypeINR:    {FieldExpectedDeliveryDate, FieldContactedSeller},
	DisputeTypeSNAD:   {FieldItemCondition, FieldContactedSeller},
	DisputeTypeUNAUTH: {FieldRecognizesMerchant, FieldContactedBank},
}

var reasonOptions = map[DisputeType][]string{
	DisputeTypeINR: {
		"Item never arrived",
		"Package marked delivered but not received",
		"Delivery is significantly delayed",
	},
	DisputeTypeSNAD: {
		"Item is damaged or defective",
		"Item is different from the description",
		"Item is counterfeit",
		"Item is missing parts or pieces",
	},
	DisputeTypeUNAUTH: {
		"I did not make this payment",
		"Amount charged is different from what I authorized",
		"I was charged more than once",
	},
}

var typeLabels = map[DisputeType]string{
	DisputeTypeINR:    "Item Not Received (INR)",
	DisputeTypeSNAD:   "Item Not as Described (SNAD)",
	DisputeTypeUNAUTH: "Unauthorized Activity (UNAUTH)",
}

// ParseDisputeType accepts a type code or its display label, case-insensitively.
func ParseDisputeType(s string) (DisputeType, bool) {
	s = strings.TrimSpace(s)
	for _, t := range DisputeTypes {
		if strings.EqualFold(s, string(t)) || strings.EqualFold(s, typeLabels[t]) {
			return t, true
		}
	}
	return "", false
}

func (t DisputeType) Valid() bool {
	_, ok := requiredFields[t]
	return ok
}

// Label is the user-facing option text for t.
func (t DisputeType) Label() string {
	return typeLabels[t]
}

// RequiredFields returns the detail fields that must be collected for t.
func (t DisputeType) RequiredFields() []string {
	return append([]string(nil), requiredFields[t]...)
}

// Reasons returns the fixed reason options for t.
func (t DisputeType) Reasons() []string {
	return append([]string(nil), reasonOptions[t]...)
}

// MatchReason returns the canonical reason option equal to s, ignoring case
// and surrounding space.
func (t DisputeType) MatchReason(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, r := range reasonOptions[t] {
		if strings.EqualFold(s, r) {
			return r, true
		}
	}
	return "", false
}

// IsDetailField reports whether name is a detail field of any dispute type.
func IsDetailField(name string) bool {
	for _, fields := range requiredFields {
		for _, f := range fields {
			if f == name {
				return true
			}
		}
	}
	return false
}

// DisputeStatus is the lifecycle of a persisted dispute.
type DisputeStatus string

const (
	DisputeStatusOpen   DisputeStatus = "open"
	DisputeStatusClosed DisputeStatus = "closed"
)

// Dispute is a persisted customer claim against a transaction.
type Dispute struct {
	DisputeID     string            `json:"dispute_id"`
	TransactionID string            `json:"transaction_id"`
	Type          DisputeType       `json:"type"`
	Status        DisputeStatus     `json:"status"`
	CreationDate  string            `json:"creation_date"`
	Reason        string            `json:"reason"`
	Details       map[string]string `json:"details"`
	Merchant      string            `json:"merchant"`
	Amount        float64           `json:"amount"`
}

// Transaction is a payment the user may dispute.
type Transaction struct {
	TransactionID string  `json:"transaction_id"`
	Merchant      string  `json:"merchant"`
	Amount        float64 `json:"amount"`
	Date          string  `json:"date"`
}
