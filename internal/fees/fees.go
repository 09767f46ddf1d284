// Package fees computes swap facilitation and spread fees.
//
// All amounts are integer cents. Floating point never touches a fee; the
// decimal helpers in this package exist for display formatting and for
// reconciling amounts that arrive as decimal currency.
package fees

import (
	"github.com/billix-app/swaprules/internal/domain"
)

const (
	// FacilitationFeeCents is the flat platform fee charged per paying party.
	FacilitationFeeCents int64 = 199

	// SpreadPercent is the share of the amount difference charged as spread.
	SpreadPercent int64 = 3
)

// Fees is the fee breakdown of a swap.
// The initiator is party A (bill A); the counterparty is party B.
type Fees struct {
	SwapType domain.SwapType `json:"swapType"`

	InitiatorFacilitationCents    int64 `json:"initiatorFacilitationCents"`
	CounterpartyFacilitationCents int64 `json:"counterpartyFacilitationCents"`

	// SpreadFeeCents is the full spread before splitting.
	SpreadFeeCents int64 `json:"spreadFeeCents"`

	// SpreadShareCents is each party's half of the spread (remainder dropped).
	SpreadShareCents int64 `json:"spreadShareCents"`

	InitiatorTotalCents    int64 `json:"initiatorTotalCents"`
	CounterpartyTotalCents int64 `json:"counterpartyTotalCents"`
}

// CalculateTotalFees returns the fees for a proposed swap.
//
// Two-sided swaps charge the facilitation fee to both parties plus half of
// the spread each. One-sided assists charge only the helper (counterparty);
// there is no second bill, so no spread.
func CalculateTotalFees(billACents int64, billBCents *int64, swapType domain.SwapType) Fees {
	f := Fees{SwapType: swapType}

	if swapType == domain.SwapOneSidedAssist {
		f.CounterpartyFacilitationCents = FacilitationFeeCents
		f.CounterpartyTotalCents = FacilitationFeeCents
		return f
	}

	f.InitiatorFacilitationCents = FacilitationFeeCents
	f.CounterpartyFacilitationCents = FacilitationFeeCents

	if billBCents != nil {
		f.SpreadFeeCents = SpreadFee(billACents, *billBCents)
		f.SpreadShareCents = f.SpreadFeeCents / 2
	}

	f.InitiatorTotalCents = f.InitiatorFacilitationCents + f.SpreadShareCents
	f.CounterpartyTotalCents = f.CounterpartyFacilitationCents + f.SpreadShareCents
	return f
}

// SpreadFee returns round(|a-b| × 3%) in cents, rounding halves up.
func SpreadFee(aCents, bCents int64) int64 {
	diff := aCents - bCents
	if diff < 0 {
		diff = -diff
	}
	return (diff*SpreadPercent + 50) / 100
}

// PlatformRevenueCents is the total the platform collects for the swap.
func (f Fees) PlatformRevenueCents() int64 {
	return f.InitiatorTotalCents + f.CounterpartyTotalCents
}
