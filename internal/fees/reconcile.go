package fees

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	hundred     = decimal.NewFromInt(100)
	spreadRatio = decimal.New(SpreadPercent, -2)
)

// Reconciliation compares the integer spread against a decimal recomputation.
type Reconciliation struct {
	IntegerSpreadCents int64  `json:"integerSpreadCents"`
	DecimalSpreadCents int64  `json:"decimalSpreadCents"`
	DecimalExact       string `json:"decimalExact"`
	Match              bool   `json:"match"`
}

// Reconcile recomputes the spread of two bills with decimal arithmetic.
// A mismatch means some caller is rounding differently from the engine.
func Reconcile(aCents, bCents int64) Reconciliation {
	diff := decimal.NewFromInt(aCents).Sub(decimal.NewFromInt(bCents)).Abs()
	exact := diff.Mul(spreadRatio)
	rounded := exact.Round(0).IntPart()

	integer := SpreadFee(aCents, bCents)
	return Reconciliation{
		IntegerSpreadCents: integer,
		DecimalSpreadCents: rounded,
		DecimalExact:       exact.String(),
		Match:              integer == rounded,
	}
}

// CentsFromDecimal converts a decimal currency amount (e.g. "104.37") into
// cents. It fails when the amount is negative or carries sub-cent precision.
func CentsFromDecimal(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("amount %s is negative", amount)
	}
	cents := amount.Mul(hundred)
	if !cents.Equal(cents.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has sub-cent precision", amount)
	}
	return cents.IntPart(), nil
}

// ParseAmount parses a decimal currency string into cents.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return CentsFromDecimal(d)
}

// FormatCents renders cents as a dollar string for display, e.g. "$2.44".
func FormatCents(cents int64) string {
	d := decimal.New(cents, -2)
	if d.IsNegative() {
		return "-$" + d.Neg().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}
