package domain

import "time"

// DisputeStatus is the state of a dispute.
type DisputeStatus string

const (
	DisputeOpen          DisputeStatus = "OPEN"
	DisputeInvestigating DisputeStatus = "INVESTIGATING"
	DisputeResolved      DisputeStatus = "RESOLVED"
	DisputeDismissed     DisputeStatus = "DISMISSED"
)

// IsActive reports whether the dispute still blocks new filings.
func (s DisputeStatus) IsActive() bool {
	return s == DisputeOpen || s == DisputeInvestigating
}

// DisputeReason categorizes a dispute.
type DisputeReason string

const (
	DisputeProofRejected   DisputeReason = "PROOF_REJECTED"
	DisputeNonPayment      DisputeReason = "NON_PAYMENT"
	DisputePartialPayment  DisputeReason = "PARTIAL_PAYMENT"
	DisputeFraudulentProof DisputeReason = "FRAUDULENT_PROOF"
	DisputeNoShow          DisputeReason = "NO_SHOW"
	DisputeOther           DisputeReason = "OTHER"
)

// Valid reports whether r is a known reason.
func (r DisputeReason) Valid() bool {
	switch r {
	case DisputeProofRejected, DisputeNonPayment, DisputePartialPayment,
		DisputeFraudulentProof, DisputeNoShow, DisputeOther:
		return true
	}
	return false
}

// DisputeResolution is the outcome chosen by the resolver.
type DisputeResolution string

const (
	ResolveSwapCompleted DisputeResolution = "SWAP_COMPLETED"
	ResolveSwapFailed    DisputeResolution = "SWAP_FAILED"
	ResolveDismissed     DisputeResolution = "DISMISSED"
)

// Valid reports whether r is a known resolution.
func (r DisputeResolution) Valid() bool {
	return r == ResolveSwapCompleted || r == ResolveSwapFailed || r == ResolveDismissed
}

// Dispute is a flagged disagreement on a swap.
type Dispute struct {
	ID            string            `json:"id"`
	SwapID        string            `json:"swapId"`
	ReporterID    string            `json:"reporterId"`
	ReportedID    string            `json:"reportedId"`
	Reason        DisputeReason     `json:"reason"`
	Description   string            `json:"description,omitempty"`
	Evidence      []string          `json:"evidence,omitempty"`
	Status        DisputeStatus     `json:"status"`
	Resolution    DisputeResolution `json:"resolution,omitempty"`
	AtFaultUserID string            `json:"atFaultUserId,omitempty"`
	ResolverID    string            `json:"resolverId,omitempty"`
	FiledAt       time.Time         `json:"filedAt"`
	ResolvedAt    *time.Time        `json:"resolvedAt,omitempty"`
}

// Clone returns a copy safe to mutate.
func (d *Dispute) Clone() *Dispute {
	c := *d
	c.Evidence = append([]string(nil), d.Evidence...)
	return &c
}
