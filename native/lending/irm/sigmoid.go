package irm

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"fixedlend/native/lending"
	"fixedlend/native/lending/fixed"
	"fixedlend/native/lending/wad"
)

// SigmoidParams configures a Sigmoid model. Signed values are WAD scaled.
type SigmoidParams struct {
	Curve              Curve
	NaturalUtilization *uint256.Int
	SigmoidSpeed       *big.Int
	GrowthSpeed        *big.Int
	MaxRate            *uint256.Int
	SpreadFactor       *big.Int
	MaturitySpeed      *big.Int
	TimePreference     *big.Int
}

// Sigmoid scales the floating hyperbola up as global utilization passes
// the natural utilization, and prices fixed borrows with a spread over that
// base rate which grows with time to maturity and with how concentrated
// backup lending is in the priced maturity.
type Sigmoid struct {
	params     SigmoidParams
	auxSigmoid *big.Int
}

// NewSigmoid validates params and builds the model.
func NewSigmoid(params SigmoidParams) (*Sigmoid, error) {
	if params.NaturalUtilization == nil || params.NaturalUtilization.IsZero() || !params.NaturalUtilization.Lt(wad.One()) {
		return nil, fmt.Errorf("natural utilization must be within (0, 1): %w", lending.ErrInvalidParameter)
	}
	if params.MaxRate == nil || params.MaxRate.IsZero() {
		return nil, fmt.Errorf("max rate required: %w", lending.ErrInvalidParameter)
	}
	for name, v := range map[string]*big.Int{
		"sigmoid speed":   params.SigmoidSpeed,
		"growth speed":    params.GrowthSpeed,
		"spread factor":   params.SpreadFactor,
		"maturity speed":  params.MaturitySpeed,
		"time preference": params.TimePreference,
	} {
		if v == nil {
			return nil, fmt.Errorf("%s required: %w", name, lending.ErrInvalidParameter)
		}
	}
	natural := params.NaturalUtilization
	aux, err := wad.LnWad(wad.Signed(wad.DivWadDown(natural, wad.Sub(wad.One(), natural))))
	if err != nil {
		return nil, err
	}
	return &Sigmoid{params: params, auxSigmoid: aux}, nil
}

func (s *Sigmoid) baseRate(uFloating, uGlobal *uint256.Int) (*uint256.Int, error) {
	if uFloating.Gt(uGlobal) {
		return nil, fmt.Errorf("floating utilization above global: %w", lending.ErrUtilizationExceeded)
	}
	if !uGlobal.Lt(wad.One()) {
		return wad.Clone(s.params.MaxRate), nil
	}
	r, err := s.params.Curve.Rate(uFloating)
	if err != nil {
		return nil, err
	}
	if uGlobal.IsZero() {
		return wad.Min(r, s.params.MaxRate), nil
	}

	odds, err := wad.LnWad(wad.Signed(wad.DivWadDown(uGlobal, wad.Sub(wad.One(), uGlobal))))
	if err != nil {
		return nil, err
	}
	odds.Sub(odds, s.auxSigmoid)
	e, err := wad.ExpWad(wad.SMulWad(new(big.Int).Neg(s.params.SigmoidSpeed), odds))
	if err != nil {
		return nil, err
	}
	denominator, err := wad.Unsigned(e.Add(e, wad.Signed(wad.One())))
	if err != nil {
		return nil, err
	}
	sigmoid := wad.DivWadDown(wad.One(), denominator)

	inner, err := wad.LnWad(wad.Signed(wad.Sub(wad.One(), wad.MulWadDown(sigmoid, uGlobal))))
	if err != nil {
		return nil, err
	}
	growth, err := wad.ExpWad(wad.SMulWad(new(big.Int).Neg(s.params.GrowthSpeed), inner))
	if err != nil {
		return nil, err
	}
	factor, err := wad.Unsigned(growth)
	if err != nil {
		return nil, err
	}
	return wad.Min(wad.MulWadUp(r, factor), s.params.MaxRate), nil
}

func (s *Sigmoid) FloatingRate(u Utilization) (*uint256.Int, error) {
	return s.baseRate(u.Floating, u.Global)
}

func (s *Sigmoid) FixedRate(maturity, now, maxPools uint64, u Utilization) (*uint256.Int, error) {
	if now >= maturity {
		return nil, fmt.Errorf("maturity %d reached: %w", maturity, lending.ErrInvalidPoolState)
	}
	if maxPools == 0 {
		return nil, fmt.Errorf("no open pools: %w", lending.ErrInvalidParameter)
	}
	if u.FixedAfter.Gt(u.Global) {
		return nil, fmt.Errorf("fixed utilization above global: %w", lending.ErrUtilizationExceeded)
	}
	base, err := s.baseRate(u.Floating, u.Global)
	if err != nil {
		return nil, err
	}
	if !base.Lt(s.params.MaxRate) {
		return scaleByTime(s.params.MaxRate, maturity, now), nil
	}

	fixedFactor := wad.One()
	if !u.Global.IsZero() {
		fixedFactor = wad.MulDivDown(u.FixedAfter, wad.Units(maxPools), u.Global)
	}
	horizon := uint256.NewInt(maxPools * fixed.Interval)
	ttm := wad.Min(wad.DivWadDown(uint256.NewInt(maturity-now), horizon), wad.One())
	timeWeight, err := wad.PowWad(wad.Signed(ttm), s.params.MaturitySpeed)
	if err != nil {
		return nil, err
	}
	concentration := new(big.Int).Sub(wad.Signed(fixedFactor), wad.Signed(wad.One()))
	term := new(big.Int).Add(s.params.TimePreference, wad.SMulWad(s.params.SpreadFactor, concentration))
	spread := new(big.Int).Add(wad.Signed(wad.One()), wad.SMulWad(timeWeight, term))
	spreadU, err := clampSigned(spread)
	if err != nil {
		return nil, err
	}
	rate := wad.Min(wad.MulWadUp(base, spreadU), s.params.MaxRate)
	return scaleByTime(rate, maturity, now), nil
}
