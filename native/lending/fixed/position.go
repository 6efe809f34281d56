package fixed

import (
	"github.com/holiman/uint256"

	"fixedlend/native/lending/wad"
)

// Position is one account's stake in one maturity.
type Position struct {
	Principal *uint256.Int
	Fee       *uint256.Int
}

// NewPosition returns a position with the given components.
func NewPosition(principal, fee *uint256.Int) Position {
	return Position{Principal: wad.Clone(principal), Fee: wad.Clone(fee)}
}

// Clone returns a deep copy of the position.
func (p Position) Clone() Position {
	return NewPosition(p.Principal, p.Fee)
}

// Total returns principal plus fee.
func (p Position) Total() *uint256.Int {
	return wad.Add(wad.Clone(p.Principal), wad.Clone(p.Fee))
}

// IsZero reports whether both components are zero.
func (p Position) IsZero() bool {
	return (p.Principal == nil || p.Principal.IsZero()) && (p.Fee == nil || p.Fee.IsZero())
}

// Add increases the position additively.
func (p Position) Add(principal, fee *uint256.Int) Position {
	return Position{
		Principal: wad.Add(wad.Clone(p.Principal), principal),
		Fee:       wad.Add(wad.Clone(p.Fee), fee),
	}
}

// Scale returns the position resized so that its total equals amount while
// keeping the principal to fee ratio.
func (p Position) Scale(amount *uint256.Int) Position {
	total := p.Total()
	if total.IsZero() {
		return NewPosition(nil, nil)
	}
	principal := wad.MulDivDown(amount, wad.Clone(p.Principal), total)
	return Position{Principal: principal, Fee: wad.Sub(amount, principal)}
}

// Reduce returns the position after removing amount from its total while
// keeping the principal to fee ratio.
func (p Position) Reduce(amount *uint256.Int) Position {
	total := p.Total()
	if total.IsZero() {
		return NewPosition(nil, nil)
	}
	remaining := wad.Sub(total, amount)
	principal := wad.MulDivDown(remaining, wad.Clone(p.Principal), total)
	return Position{Principal: principal, Fee: wad.Sub(remaining, principal)}
}
