package irm

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"fixedlend/native/lending"
	"fixedlend/native/lending/wad"
)

// precisionThreshold is the utilization width below which the fixed curve
// average is integrated numerically instead of in closed form.
var precisionThreshold = uint256.NewInt(750_000_000_000_000)

// Curve is the hyperbola R(U) = A/(Umax-U) + B.
type Curve struct {
	A              *uint256.Int
	B              *big.Int
	MaxUtilization *uint256.Int
}

// NewCurve validates and builds a curve.
func NewCurve(a *uint256.Int, b *big.Int, maxUtilization *uint256.Int) (Curve, error) {
	if a == nil || b == nil || maxUtilization == nil {
		return Curve{}, fmt.Errorf("curve parameters required: %w", lending.ErrInvalidParameter)
	}
	if !maxUtilization.Gt(wad.One()) {
		return Curve{}, fmt.Errorf("max utilization %s must exceed 1: %w", wad.Format(maxUtilization), lending.ErrInvalidParameter)
	}
	return Curve{A: wad.Clone(a), B: new(big.Int).Set(b), MaxUtilization: wad.Clone(maxUtilization)}, nil
}

// NewCurveFromPoints calibrates a curve passing through rate r0 at zero
// utilization and rate rb at utilization ub.
func NewCurveFromPoints(r0, rb, ub, maxUtilization *uint256.Int) (Curve, error) {
	if !rb.Gt(r0) || ub.IsZero() || !ub.Lt(maxUtilization) {
		return Curve{}, fmt.Errorf("calibration points out of order: %w", lending.ErrInvalidParameter)
	}
	// A = (rb-r0) * Umax * (Umax-ub) / ub
	a := wad.MulWadDown(wad.Sub(rb, r0), maxUtilization)
	a = wad.MulWadDown(a, wad.Sub(maxUtilization, ub))
	a = wad.DivWadDown(a, ub)
	// B = r0 - A/Umax
	b := new(big.Int).Sub(wad.Signed(r0), wad.Signed(wad.DivWadDown(a, maxUtilization)))
	return NewCurve(a, b, maxUtilization)
}

// Rate evaluates the curve at u, clamping negative values to zero.
func (c Curve) Rate(u *uint256.Int) (*uint256.Int, error) {
	if !u.Lt(c.MaxUtilization) {
		return nil, fmt.Errorf("utilization %s: %w", wad.Format(u), lending.ErrUtilizationExceeded)
	}
	r := wad.Signed(wad.DivWadDown(c.A, wad.Sub(c.MaxUtilization, u)))
	r.Add(r, c.B)
	return clampSigned(r)
}

// AverageRate averages the curve over [before, after].
func (c Curve) AverageRate(before, after *uint256.Int) (*uint256.Int, error) {
	if before.Gt(after) {
		return nil, fmt.Errorf("utilization decreased: %w", lending.ErrInvalidParameter)
	}
	if !after.Lt(c.MaxUtilization) {
		return nil, fmt.Errorf("utilization %s: %w", wad.Format(after), lending.ErrUtilizationExceeded)
	}
	delta := wad.Sub(after, before)
	if delta.Lt(precisionThreshold) {
		// Simpson's rule over the narrow interval
		mid := wad.Div(wad.Add(before, after), uint256.NewInt(2))
		lo, err := c.Rate(before)
		if err != nil {
			return nil, err
		}
		md, err := c.Rate(mid)
		if err != nil {
			return nil, err
		}
		hi, err := c.Rate(after)
		if err != nil {
			return nil, err
		}
		sum := wad.Add(wad.Add(lo, wad.Mul(md, uint256.NewInt(4))), hi)
		return wad.Div(sum, uint256.NewInt(6)), nil
	}
	// A * ln((Umax-before)/(Umax-after)) / delta + B
	alpha := wad.Sub(c.MaxUtilization, before)
	ratio := wad.DivWadDown(alpha, wad.Sub(c.MaxUtilization, after))
	ln, err := wad.LnWad(wad.Signed(ratio))
	if err != nil {
		return nil, err
	}
	avg, err := wad.SDivWad(wad.SMulWad(wad.Signed(c.A), ln), wad.Signed(delta))
	if err != nil {
		return nil, err
	}
	avg.Add(avg, c.B)
	return clampSigned(avg)
}

func clampSigned(r *big.Int) (*uint256.Int, error) {
	if r.Sign() <= 0 {
		return new(uint256.Int), nil
	}
	return wad.Unsigned(r)
}

// Hyperbolic prices floating borrows on one curve and fixed borrows on the
// average of a second curve over the utilization the borrow adds.
type Hyperbolic struct {
	Fixed    Curve
	Floating Curve
}

// NewHyperbolic builds the model from its two curves.
func NewHyperbolic(fixedCurve, floatingCurve Curve) *Hyperbolic {
	return &Hyperbolic{Fixed: fixedCurve, Floating: floatingCurve}
}

func (h *Hyperbolic) FloatingRate(u Utilization) (*uint256.Int, error) {
	return h.Floating.Rate(u.Floating)
}

func (h *Hyperbolic) FixedRate(maturity, now, _ uint64, u Utilization) (*uint256.Int, error) {
	if now >= maturity {
		return nil, fmt.Errorf("maturity %d reached: %w", maturity, lending.ErrInvalidPoolState)
	}
	rate, err := h.Fixed.AverageRate(u.FixedBefore, u.FixedAfter)
	if err != nil {
		return nil, err
	}
	return scaleByTime(rate, maturity, now), nil
}
