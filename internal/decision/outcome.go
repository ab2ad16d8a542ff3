// Package decision classifies back-office case records into resolution
// outcomes. Decisions are pure: nothing here reads or writes storage.
package decision

import "fmt"

// Kind names an outcome on the wire.
type Kind string

const (
	KindDeclined           Kind = "declined"
	KindNeedsInvestigation Kind = "needs_investigation"
	KindInstantPayout      Kind = "instant_payout"
	KindApproved           Kind = "approved"
	KindUnderReview        Kind = "under_review"
)

// Outcome is the closed set of case resolutions. Only the types in this
// package implement it.
type Outcome interface {
	Kind() Kind
	outcome()
}

// DeclineReason distinguishes the two decline paths.
type DeclineReason string

const (
	DeclineEligibility DeclineReason = "eligibility"
	DeclineBuyerRisk   DeclineReason = "buyer_risk"
)

type Declined struct{ Reason DeclineReason }

type NeedsInvestigation struct{}

type InstantPayout struct{ Amount float64 }

type Approved struct{}

type UnderReview struct{}

func (Declined) Kind() Kind           { return KindDeclined }
func (NeedsInvestigation) Kind() Kind { return KindNeedsInvestigation }
func (InstantPayout) Kind() Kind      { return KindInstantPayout }
func (Approved) Kind() Kind           { return KindApproved }
func (UnderReview) Kind() Kind        { return KindUnderReview }

func (Declined) outcome()           {}
func (NeedsInvestigation) outcome() {}
func (InstantPayout) outcome()      {}
func (Approved) outcome()           {}
func (UnderReview) outcome()        {}

// Message returns the customer-facing text for o.
func Message(o Outcome) string {
	switch v := o.(type) {
	case Declined:
		if v.Reason == DeclineEligibility {
			return "We regret to inform you that your dispute request has been declined as it does not meet our eligibility criteria."
		}
		return "We regret to inform you that your dispute has been declined based on our risk assessment."
	case NeedsInvestigation:
		return "We need additional time to investigate this matter thoroughly. We will notify you once we have more information."
	case InstantPayout:
		return fmt.Sprintf("Good news! Your dispute has been approved for instant refund. You will receive $%.2f in your account within 24 hours.", v.Amount)
	case Approved:
		return "Good news! Your dispute has been approved, and you will receive a refund within 3-5 business days."
	default:
		return "Your case is currently under review. We will notify you once a decision has been made."
	}
}

// Progress is the coarse lifecycle position reported by the status endpoint.
type Progress string

const (
	ProgressResolved      Progress = "resolved"
	ProgressInvestigating Progress = "investigating"
	ProgressUnderReview   Progress = "under_review"
)

func progressOf(o Outcome) Progress {
	switch o.(type) {
	case Declined, InstantPayout, Approved:
		return ProgressResolved
	case NeedsInvestigation:
		return ProgressInvestigating
	default:
		return ProgressUnderReview
	}
}
