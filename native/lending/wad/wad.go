// Package wad implements the 18-decimal fixed-point arithmetic used by the
// lending engine. Every unsigned helper is checked: overflow, underflow and
// division by zero panic with an error wrapping lending.ErrArithmeticOverflow.
// The panic is recovered at the action boundary (see package txn) and turned
// into a failed, rolled back action.
package wad

import (
	"fmt"

	"github.com/holiman/uint256"

	"fixedlend/native/lending"
)

// Scale is the WAD unit, 1e18.
const Scale uint64 = 1_000_000_000_000_000_000

var one = uint256.NewInt(Scale)

// One returns a fresh 1e18.
func One() *uint256.Int { return new(uint256.Int).Set(one) }

// Zero returns a fresh zero.
func Zero() *uint256.Int { return new(uint256.Int) }

// New returns v as a fresh integer.
func New(v uint64) *uint256.Int { return uint256.NewInt(v) }

// Units returns v * 1e18.
func Units(v uint64) *uint256.Int {
	return Mul(uint256.NewInt(v), one)
}

// Clone copies x, treating nil as zero.
func Clone(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(x)
}

func fail(op string) {
	panic(fmt.Errorf("%s: %w", op, lending.ErrArithmeticOverflow))
}

// Add returns a + b.
func Add(a, b *uint256.Int) *uint256.Int {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		fail("add")
	}
	return z
}

// Sub returns a - b and panics on underflow.
func Sub(a, b *uint256.Int) *uint256.Int {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		fail("sub")
	}
	return z
}

// Mul returns a * b.
func Mul(a, b *uint256.Int) *uint256.Int {
	z, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		fail("mul")
	}
	return z
}

// Div returns floor(a / b).
func Div(a, b *uint256.Int) *uint256.Int {
	if b.IsZero() {
		fail("div")
	}
	return new(uint256.Int).Div(a, b)
}

// MulDivDown returns floor(x * y / d). The intermediate product is kept at
// 512 bits so only a result wider than 256 bits overflows.
func MulDivDown(x, y, d *uint256.Int) *uint256.Int {
	if d.IsZero() {
		fail("mulDivDown")
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		fail("mulDivDown")
	}
	return z
}

// MulDivUp returns ceil(x * y / d).
func MulDivUp(x, y, d *uint256.Int) *uint256.Int {
	z := MulDivDown(x, y, d)
	if !new(uint256.Int).MulMod(x, y, d).IsZero() {
		return Add(z, uint256.NewInt(1))
	}
	return z
}

// MulWadDown returns floor(x * y / 1e18).
func MulWadDown(x, y *uint256.Int) *uint256.Int { return MulDivDown(x, y, one) }

// MulWadUp returns ceil(x * y / 1e18).
func MulWadUp(x, y *uint256.Int) *uint256.Int { return MulDivUp(x, y, one) }

// DivWadDown returns floor(x * 1e18 / y).
func DivWadDown(x, y *uint256.Int) *uint256.Int { return MulDivDown(x, one, y) }

// DivWadUp returns ceil(x * 1e18 / y).
func DivWadUp(x, y *uint256.Int) *uint256.Int { return MulDivUp(x, one, y) }

// Min returns a fresh copy of the smaller operand.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

// Max returns a fresh copy of the larger operand.
func Max(a, b *uint256.Int) *uint256.Int {
	if a.Gt(b) {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

// SaturatingSub returns a - b, or zero when b > a.
func SaturatingSub(a, b *uint256.Int) *uint256.Int {
	if b.Gt(a) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}

// Pow10 returns 10^n.
func Pow10(n uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
}
