package domain

import "time"

// ProofStatus is the review state of submitted payment evidence.
type ProofStatus string

const (
	ProofPendingReview ProofStatus = "PENDING_REVIEW"
	ProofAccepted      ProofStatus = "ACCEPTED"
	ProofRejected      ProofStatus = "REJECTED"
	ProofResubmitted   ProofStatus = "RESUBMITTED"
)

// Proof is evidence that a party paid the bill it owed.
type Proof struct {
	ID                string      `json:"id"`
	SwapID            string      `json:"swapId"`
	SubmitterID       string      `json:"submitterId"`
	Type              ProofType   `json:"type"`
	FileRef           string      `json:"fileRef"`
	Notes             string      `json:"notes,omitempty"`
	Status            ProofStatus `json:"status"`
	RejectionReason   string      `json:"rejectionReason,omitempty"`
	ReviewerID        string      `json:"reviewerId,omitempty"`
	ResubmissionCount int         `json:"resubmissionCount"`
	OriginalProofID   string      `json:"originalProofId,omitempty"`
	SubmittedAt       time.Time   `json:"submittedAt"`
	ReviewDeadline    time.Time   `json:"reviewDeadline"`
	ReviewedAt        *time.Time  `json:"reviewedAt,omitempty"`
}

// Clone returns a copy safe to mutate.
func (p *Proof) Clone() *Proof {
	c := *p
	return &c
}

// ExtensionStatus is the state of a deadline extension request.
type ExtensionStatus string

const (
	ExtensionPending  ExtensionStatus = "PENDING"
	ExtensionApproved ExtensionStatus = "APPROVED"
	ExtensionDenied   ExtensionStatus = "DENIED"
)

// ExtensionRequest asks the counterparty for more time to prove payment.
type ExtensionRequest struct {
	ID                  string          `json:"id"`
	SwapID              string          `json:"swapId"`
	RequesterID         string          `json:"requesterId"`
	Reason              string          `json:"reason"`
	RequestedDeadline   time.Time       `json:"requestedDeadline"`
	PartialPaymentCents *int64          `json:"partialPaymentCents,omitempty"`
	Status              ExtensionStatus `json:"status"`
	CreatedAt           time.Time       `json:"createdAt"`
	DecidedAt           *time.Time      `json:"decidedAt,omitempty"`
	DeciderID           string          `json:"deciderId,omitempty"`
}
