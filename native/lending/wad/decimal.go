package wad

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"fixedlend/native/lending"
)

var decimalScale = decimal.New(1, 18)

// Parse converts a decimal string such as "0.0023" or "1.02" into a WAD.
// Digits beyond the 18th decimal place are truncated.
func Parse(s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", s, err)
	}
	return FromDecimal(d)
}

// ParseSigned converts a decimal string into a signed WAD.
func ParseSigned(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", s, err)
	}
	return d.Mul(decimalScale).Truncate(0).BigInt(), nil
}

// FormatSigned renders a signed WAD.
func FormatSigned(x *big.Int) string {
	return decimal.NewFromBigInt(x, -18).String()
}

// FromDecimal scales d by 1e18.
func FromDecimal(d decimal.Decimal) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("negative value %s: %w", d, lending.ErrInvalidParameter)
	}
	return Unsigned(d.Mul(decimalScale).Truncate(0).BigInt())
}

// ToDecimal returns x / 1e18 as a decimal.
func ToDecimal(x *uint256.Int) decimal.Decimal {
	if x == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(x.ToBig(), -18)
}

// Format renders x / 1e18 without trailing zeros.
func Format(x *uint256.Int) string {
	return ToDecimal(x).String()
}

// Float returns an approximate float64 of x / 1e18, for metrics only.
func Float(x *uint256.Int) float64 {
	f, _ := ToDecimal(x).Float64()
	return f
}
