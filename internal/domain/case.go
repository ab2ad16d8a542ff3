package domain

import "strings"

// Eligibility is the back-office purchase-protection eligibility verdict.
type Eligibility string

const (
	EligibilityEligible   Eligibility = "eligible"
	EligibilityIneligible Eligibility = "ineligible"
	EligibilityUnknown    Eligibility = "unknown"
)

// ParseEligibility maps stored values onto the three known verdicts.
// Anything unrecognized is unknown.
func ParseEligibility(s string) Eligibility {
	switch Eligibility(strings.ToLower(strings.TrimSpace(s))) {
	case EligibilityEligible:
		return EligibilityEligible
	case EligibilityIneligible:
		return EligibilityIneligible
	}
	return EligibilityUnknown
}

// Party identifies a side of a dispute.
type Party string

const (
	PartyBuyer  Party = "buyer"
	PartySeller Party = "seller"
)

// CaseFlags is the binary-flag representation of a case, consumed only by the
// flag decision strategy.
type CaseFlags struct {
	BuyerFlagged      bool     `json:"buyer_fraud_flag"`
	SellerFlagged     bool     `json:"seller_fraud_flag"`
	OutcomeConfidence *float64 `json:"case_outcome_confidence,omitempty"`
	FavorParty        Party    `json:"favor_party,omitempty"`
}

// CaseRecord is the back-office risk evaluation attached to a dispute.
// Nil scores are unknown.
type CaseRecord struct {
	DisputeID     string `json:"dispute_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`

	BuyerFraud             *float64    `json:"buyer_fraud_score"`
	SellerFraud            *float64    `json:"seller_fraud_score"`
	Collusion              *float64    `json:"collusion_score"`
	AdjudicationConfidence *float64    `json:"adjudication_confidence"`
	Eligibility            Eligibility `json:"eligibility"`
	PayoutAmount           *float64    `json:"payout_amount"`

	Flags *CaseFlags `json:"flags,omitempty"`
}

// Normalize clears risk scores of ineligible cases, which are not applicable.
func (r CaseRecord) Normalize() CaseRecord {
	if r.Eligibility == "" {
		r.Eligibility = EligibilityUnknown
	}
	if r.Eligibility == EligibilityIneligible {
		r.BuyerFraud = nil
		r.SellerFraud = nil
		r.Collusion = nil
		r.AdjudicationConfidence = nil
	}
	return r
}

// CaseQuery selects a case. DisputeID alone is sufficient; otherwise
// TransactionID is required and UserID narrows the match.
type CaseQuery struct {
	DisputeID     string
	TransactionID string
	UserID        string
}

// Validate returns ErrInvalidQuery when neither key is present.
func (q CaseQuery) Validate() error {
	if strings.TrimSpace(q.DisputeID) == "" && strings.TrimSpace(q.TransactionID) == "" {
		return ErrInvalidQuery
	}
	return nil
}
