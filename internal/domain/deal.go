package domain

import "time"

// DealStatus is the state of one version of a swap's terms.
type DealStatus string

const (
	DealProposed  DealStatus = "PROPOSED"
	DealCountered DealStatus = "COUNTERED"
	DealAccepted  DealStatus = "ACCEPTED"
	DealRejected  DealStatus = "REJECTED"
	DealExpired   DealStatus = "EXPIRED"
)

// PaymentOrder decides who pays first.
type PaymentOrder string

const (
	PaySimultaneous      PaymentOrder = "SIMULTANEOUS"
	PayInitiatorFirst    PaymentOrder = "INITIATOR_FIRST"
	PayCounterpartyFirst PaymentOrder = "COUNTERPARTY_FIRST"
)

// FallbackPolicy is what happens if a party misses the proof deadline.
type FallbackPolicy string

const (
	FallbackRefundFees     FallbackPolicy = "REFUND_FEES"
	FallbackExtendDeadline FallbackPolicy = "EXTEND_DEADLINE"
	FallbackAdminReview    FallbackPolicy = "ADMIN_REVIEW"
)

// ProofType is the kind of payment evidence.
type ProofType string

const (
	ProofScreenshot         ProofType = "SCREENSHOT"
	ProofConfirmationNumber ProofType = "CONFIRMATION_NUMBER"
	ProofBankStatement      ProofType = "BANK_STATEMENT"
	ProofPortalReceipt      ProofType = "PORTAL_RECEIPT"
)

// Valid reports whether t is a known proof type.
func (t ProofType) Valid() bool {
	switch t {
	case ProofScreenshot, ProofConfirmationNumber, ProofBankStatement, ProofPortalReceipt:
		return true
	}
	return false
}

// Terms are the negotiable parameters of a swap.
type Terms struct {
	PaymentOrder            PaymentOrder   `json:"paymentOrder"`
	InitiatorAmountCents    int64          `json:"initiatorAmountCents"`
	CounterpartyAmountCents int64          `json:"counterpartyAmountCents"`
	ProofWindowHours        int            `json:"proofWindowHours"`
	ProofType               ProofType      `json:"proofType"`
	Fallback                FallbackPolicy `json:"fallback"`
}

// Deal is one versioned proposal of terms for a swap.
// At most one deal per swap is ever ACCEPTED.
type Deal struct {
	ID         string     `json:"id"`
	SwapID     string     `json:"swapId"`
	Version    int        `json:"version"`
	ProposerID string     `json:"proposerId"`
	Terms      Terms      `json:"terms"`
	Status     DealStatus `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	DecidedAt  *time.Time `json:"decidedAt,omitempty"`
}

// IsExpired reports whether the proposal lapsed before a decision.
func (d *Deal) IsExpired(now time.Time) bool {
	return d.Status == DealProposed && now.After(d.ExpiresAt)
}

// Clone returns a copy safe to mutate.
func (d *Deal) Clone() *Deal {
	c := *d
	return &c
}

// ResponseAction is a counterparty's answer to the current deal.
type ResponseAction string

const (
	RespondAccept  ResponseAction = "ACCEPT"
	RespondCounter ResponseAction = "COUNTER"
	RespondReject  ResponseAction = "REJECT"
)
