package domain

import (
	"time"
)

// SwapStatus is the authoritative lifecycle state of a swap.
type SwapStatus string

const (
	SwapOffered            SwapStatus = "OFFERED"
	SwapCountered          SwapStatus = "COUNTERED"
	SwapAcceptedPendingFee SwapStatus = "ACCEPTED_PENDING_FEE"
	SwapLocked             SwapStatus = "LOCKED"
	SwapAwaitingProof      SwapStatus = "AWAITING_PROOF"
	SwapCompleted          SwapStatus = "COMPLETED"
	SwapFailed             SwapStatus = "FAILED"
	SwapDisputed           SwapStatus = "DISPUTED"
	SwapCancelled          SwapStatus = "CANCELLED"
	SwapExpired            SwapStatus = "EXPIRED"
)

// AllSwapStatuses lists every swap status in lifecycle order.
func AllSwapStatuses() []SwapStatus {
	return []SwapStatus{
		SwapOffered, SwapCountered, SwapAcceptedPendingFee, SwapLocked,
		SwapAwaitingProof, SwapCompleted, SwapFailed, SwapDisputed,
		SwapCancelled, SwapExpired,
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s SwapStatus) IsTerminal() bool {
	switch s {
	case SwapCompleted, SwapFailed, SwapCancelled, SwapExpired:
		return true
	}
	return false
}

// IsNegotiating reports whether the swap is still in offer/counter-offer.
func (s SwapStatus) IsNegotiating() bool {
	return s == SwapOffered || s == SwapCountered
}

// IsActive reports whether the swap counts toward a user's concurrent swap limit.
func (s SwapStatus) IsActive() bool {
	return !s.IsTerminal()
}

// IsCommitted reports whether the swap has been accepted and is not yet closed.
func (s SwapStatus) IsCommitted() bool {
	return s.IsActive() && !s.IsNegotiating()
}

// LegacySwapStatus is the state of the older BillSwapTransaction flow.
// It is a separate model and never interoperates with SwapStatus.
type LegacySwapStatus string

const (
	LegacyPending   LegacySwapStatus = "PENDING"
	LegacyActive    LegacySwapStatus = "ACTIVE"
	LegacyExpired   LegacySwapStatus = "EXPIRED"
	LegacyCompleted LegacySwapStatus = "COMPLETED"
	LegacyDispute   LegacySwapStatus = "DISPUTE"
)

// SwapType distinguishes mutual swaps from one-way assists.
type SwapType string

const (
	// SwapTwoSided: both parties pay each other's bill.
	SwapTwoSided SwapType = "TWO_SIDED"

	// SwapOneSidedAssist: a supporter pays the initiator's bill and is
	// reimbursed later.
	SwapOneSidedAssist SwapType = "ONE_SIDED_ASSIST"
)

// Valid reports whether t is a known swap type.
func (t SwapType) Valid() bool {
	return t == SwapTwoSided || t == SwapOneSidedAssist
}

// FeeStatus tracks one party's facilitation fee.
type FeeStatus string

const (
	FeeUnpaid      FeeStatus = "UNPAID"
	FeePaid        FeeStatus = "PAID"
	FeeWaived      FeeStatus = "WAIVED"
	FeeNotRequired FeeStatus = "NOT_REQUIRED"
)

// Settled reports whether the party owes nothing further.
func (s FeeStatus) Settled() bool {
	return s == FeePaid || s == FeeWaived || s == FeeNotRequired
}

// FeePaymentMethod is how a party settles its fee.
type FeePaymentMethod string

const (
	FeeMethodCard         FeePaymentMethod = "CARD"
	FeeMethodPointsWaiver FeePaymentMethod = "POINTS_WAIVER"
)

// Swap is a pairing between an initiator and a counterparty.
// For one-sided assists the counterparty is the supporter and BillBID is empty.
type Swap struct {
	ID             string     `json:"id"`
	Type           SwapType   `json:"type"`
	Status         SwapStatus `json:"status"`
	InitiatorID    string     `json:"initiatorId"`
	CounterpartyID string     `json:"counterpartyId,omitempty"`
	BillAID        string     `json:"billAId"`
	BillBID        string     `json:"billBId,omitempty"`

	// Fees, set on acceptance
	InitiatorFeeCents     int64     `json:"initiatorFeeCents"`
	CounterpartyFeeCents  int64     `json:"counterpartyFeeCents"`
	SpreadFeeCents        int64     `json:"spreadFeeCents"`
	InitiatorFeeStatus    FeeStatus `json:"initiatorFeeStatus,omitempty"`
	CounterpartyFeeStatus FeeStatus `json:"counterpartyFeeStatus,omitempty"`

	// Deadlines
	AcceptDeadline *time.Time `json:"acceptDeadline,omitempty"`
	FeeDeadline    *time.Time `json:"feeDeadline,omitempty"`
	ProofDueAt     *time.Time `json:"proofDueAt,omitempty"`

	// Phase timestamps
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	AcceptedAt  *time.Time `json:"acceptedAt,omitempty"`
	LockedAt    *time.Time `json:"lockedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ClosedAt    *time.Time `json:"closedAt,omitempty"`

	// PolicyNotes holds review-band reasons raised by policy rules at proposal time.
	PolicyNotes []string `json:"policyNotes,omitempty"`

	Version int64 `json:"version"`
}

// IsParty reports whether userID is the initiator or counterparty.
func (s *Swap) IsParty(userID string) bool {
	return userID != "" && (userID == s.InitiatorID || userID == s.CounterpartyID)
}

// OtherParty returns the party opposite userID, or "" if userID is not a party.
func (s *Swap) OtherParty(userID string) string {
	switch userID {
	case s.InitiatorID:
		return s.CounterpartyID
	case s.CounterpartyID:
		return s.InitiatorID
	}
	return ""
}

// BillIDs returns the bills referenced by the swap.
func (s *Swap) BillIDs() []string {
	if s.BillBID == "" {
		return []string{s.BillAID}
	}
	return []string{s.BillAID, s.BillBID}
}

// FeeStatusFor returns the fee status of the given party.
func (s *Swap) FeeStatusFor(userID string) (FeeStatus, bool) {
	switch userID {
	case s.InitiatorID:
		return s.InitiatorFeeStatus, true
	case s.CounterpartyID:
		return s.CounterpartyFeeStatus, true
	}
	return "", false
}

// FeeCentsFor returns the total fee owed by the given party.
func (s *Swap) FeeCentsFor(userID string) int64 {
	switch userID {
	case s.InitiatorID:
		return s.InitiatorFeeCents
	case s.CounterpartyID:
		return s.CounterpartyFeeCents
	}
	return 0
}

// FeesSettled reports whether both parties have settled their fees.
func (s *Swap) FeesSettled() bool {
	return s.InitiatorFeeStatus.Settled() && s.CounterpartyFeeStatus.Settled()
}

// RequiredProofSubmitters returns the parties that must prove payment.
// In a two-sided swap both pay; in an assist only the supporter pays.
func (s *Swap) RequiredProofSubmitters() []string {
	if s.Type == SwapOneSidedAssist {
		return []string{s.CounterpartyID}
	}
	return []string{s.InitiatorID, s.CounterpartyID}
}

// Clone returns a copy safe to mutate.
func (s *Swap) Clone() *Swap {
	c := *s
	c.PolicyNotes = append([]string(nil), s.PolicyNotes...)
	return &c
}
