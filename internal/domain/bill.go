package domain

import "time"

// BillStatus is the lifecycle state of a user's bill.
type BillStatus string

const (
	BillDraft   BillStatus = "DRAFT"
	BillActive  BillStatus = "ACTIVE"
	BillLocked  BillStatus = "LOCKED"
	BillPaid    BillStatus = "PAID"
	BillExpired BillStatus = "EXPIRED"
	BillRemoved BillStatus = "REMOVED"
)

// BillCategory groups bills for match scoring.
type BillCategory string

const (
	CategoryElectric     BillCategory = "ELECTRIC"
	CategoryGas          BillCategory = "GAS"
	CategoryWater        BillCategory = "WATER"
	CategoryInternet     BillCategory = "INTERNET"
	CategoryPhone        BillCategory = "PHONE"
	CategoryRent         BillCategory = "RENT"
	CategoryInsurance    BillCategory = "INSURANCE"
	CategorySubscription BillCategory = "SUBSCRIPTION"
	CategoryOther        BillCategory = "OTHER"
)

// Valid reports whether c is a known category.
func (c BillCategory) Valid() bool {
	switch c {
	case CategoryElectric, CategoryGas, CategoryWater, CategoryInternet,
		CategoryPhone, CategoryRent, CategoryInsurance, CategorySubscription, CategoryOther:
		return true
	}
	return false
}

// Bill is a user-owned financial obligation. Amounts are integer cents.
type Bill struct {
	ID          string       `json:"id"`
	OwnerID     string       `json:"ownerId"`
	AmountCents int64        `json:"amountCents"`
	DueDate     time.Time    `json:"dueDate"`
	Provider    string       `json:"provider"`
	Category    BillCategory `json:"category"`
	Status      BillStatus   `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	Version     int64        `json:"version"`
}

// Matchable reports whether the bill may be offered in a new swap.
func (b *Bill) Matchable() bool {
	return b.Status == BillActive
}

// Clone returns a copy safe to mutate.
func (b *Bill) Clone() *Bill {
	c := *b
	return &c
}
