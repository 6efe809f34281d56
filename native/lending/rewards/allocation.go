package rewards

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"fixedlend/native/lending"
	"fixedlend/native/lending/market"
	"fixedlend/native/lending/wad"
)

// Allocation is the utilization-driven reward model. While the market's
// debt is below TargetDebt part of each emission is held back as
// undistributed; the held balance drains at UndistributedFactor times the
// debt target ratio per distribution period, including after the period
// ended. The rest is split between depositors and borrowers by a sigmoid of
// utilization centred on TransitionFactor: borrowers are compensated for
// the floating rate below it and depositors take over above it.
type Allocation struct {
	TargetDebt                    *uint256.Int
	UndistributedFactor           *uint256.Int
	FlipSpeed                     *uint256.Int
	CompensationFactor            *uint256.Int
	TransitionFactor              *uint256.Int
	BorrowAllocationWeightFactor  *uint256.Int
	DepositAllocationWeightAddend *uint256.Int
	DepositAllocationWeightFactor *uint256.Int
}

func (a *Allocation) clone() *Allocation {
	if a == nil {
		return nil
	}
	return &Allocation{
		TargetDebt:                    wad.Clone(a.TargetDebt),
		UndistributedFactor:           wad.Clone(a.UndistributedFactor),
		FlipSpeed:                     wad.Clone(a.FlipSpeed),
		CompensationFactor:            wad.Clone(a.CompensationFactor),
		TransitionFactor:              wad.Clone(a.TransitionFactor),
		BorrowAllocationWeightFactor:  wad.Clone(a.BorrowAllocationWeightFactor),
		DepositAllocationWeightAddend: wad.Clone(a.DepositAllocationWeightAddend),
		DepositAllocationWeightFactor: wad.Clone(a.DepositAllocationWeightFactor),
	}
}

func (a *Allocation) validate() error {
	for _, v := range []*uint256.Int{
		a.TargetDebt, a.UndistributedFactor, a.FlipSpeed, a.CompensationFactor, a.TransitionFactor,
		a.BorrowAllocationWeightFactor, a.DepositAllocationWeightAddend, a.DepositAllocationWeightFactor,
	} {
		if v == nil {
			return fmt.Errorf("allocation parameter missing: %w", lending.ErrInvalidParameter)
		}
	}
	if a.TargetDebt.IsZero() {
		return fmt.Errorf("allocation target debt must be positive: %w", lending.ErrInvalidParameter)
	}
	if a.TransitionFactor.IsZero() || !a.TransitionFactor.Lt(wad.One()) {
		return fmt.Errorf("allocation transition factor %s outside (0, 1): %w", wad.Format(a.TransitionFactor), lending.ErrInvalidParameter)
	}
	return nil
}

// target is debt over TargetDebt, capped at one.
func (a *Allocation) target(debt *uint256.Int) *uint256.Int {
	if debt.Lt(a.TargetDebt) {
		return wad.DivWadDown(debt, a.TargetDebt)
	}
	return wad.One()
}

// decay returns e^(-factor*elapsed/period), the part of the undistributed
// balance still held after elapsed seconds.
func decay(factor *uint256.Int, elapsed, period uint64) (*uint256.Int, error) {
	if factor.IsZero() || elapsed == 0 {
		return wad.One(), nil
	}
	exponent := wad.Signed(wad.MulDivDown(factor, uint256.NewInt(elapsed), uint256.NewInt(period)))
	e, err := wad.ExpWad(exponent.Neg(exponent))
	if err != nil {
		return nil, err
	}
	return wad.Unsigned(e)
}

// emission returns what cfg releases to accounts between last and now and
// the undistributed balance held afterwards. The static split releases
// linearly and never holds anything back.
func emission(cfg Distribution, last, now uint64, undistributed *uint256.Int, in market.RewardInputs) (released, held *uint256.Int, err error) {
	a := cfg.Model
	if a == nil {
		return linear(cfg, last, now), wad.Clone(undistributed), nil
	}
	held = wad.Clone(undistributed)
	released = new(uint256.Int)
	end := cfg.Start + cfg.Period
	from := max(last, cfg.Start)
	if now <= from {
		return released, held, nil
	}

	target := a.target(in.Debt)
	factor := wad.MulWadDown(a.UndistributedFactor, target)
	if from < end {
		to := min(now, end)
		emitted := linear(cfg, from, to)
		var next *uint256.Int
		if factor.IsZero() {
			next = wad.Add(held, wad.MulWadDown(emitted, wad.Sub(wad.One(), target)))
		} else {
			e, err := decay(factor, to-from, cfg.Period)
			if err != nil {
				return nil, nil, err
			}
			steady := wad.MulDivDown(cfg.Total, wad.Sub(wad.One(), target), factor)
			next = wad.Add(wad.MulWadDown(held, e), wad.MulWadUp(steady, wad.Sub(wad.One(), e)))
		}
		released = wad.SaturatingSub(wad.Add(emitted, held), next)
		held = next
		from = to
	}
	if now > end && !held.IsZero() {
		e, err := decay(factor, now-max(from, end), cfg.Period)
		if err != nil {
			return nil, nil, err
		}
		left := wad.MulWadDown(held, e)
		released = wad.Add(released, wad.Sub(held, left))
		held = left
	}
	return released, held, nil
}

// depositShare returns the fraction of an emission depositors receive.
func (a *Allocation) depositShare(in market.RewardInputs) (*uint256.Int, error) {
	one := wad.One()
	utilization := new(uint256.Int)
	if !in.FloatingAssets.IsZero() {
		utilization = wad.Min(wad.DivWadDown(in.Debt, in.FloatingAssets), wad.Sub(one, uint256.NewInt(1)))
	}
	sigmoid, err := a.sigmoid(utilization)
	if err != nil {
		return nil, err
	}
	rateTerm := wad.MulWadDown(in.FloatingRate, wad.Sub(one, wad.MulWadUp(utilization, wad.Sub(one, in.TreasuryFeeRate))))
	borrowRule := wad.MulWadDown(
		wad.MulWadDown(a.CompensationFactor, wad.Add(rateTerm, a.BorrowAllocationWeightFactor)),
		wad.Sub(one, sigmoid),
	)
	depositRule := wad.Add(
		wad.MulWadDown(a.DepositAllocationWeightAddend, wad.Sub(one, sigmoid)),
		wad.MulWadDown(a.DepositAllocationWeightFactor, sigmoid),
	)
	total := wad.Add(borrowRule, depositRule)
	if total.IsZero() {
		return one, nil
	}
	return wad.Sub(one, wad.DivWadDown(borrowRule, total)), nil
}

// sigmoid is 1/(1+e^(-flipSpeed*(logit(u)-logit(transition)))), zero for
// an unused market.
func (a *Allocation) sigmoid(utilization *uint256.Int) (*uint256.Int, error) {
	one := wad.One()
	odds := wad.DivWadDown(utilization, wad.Sub(one, utilization))
	if odds.IsZero() {
		return new(uint256.Int), nil
	}
	lnOdds, err := wad.LnWad(wad.Signed(odds))
	if err != nil {
		return nil, err
	}
	lnTransition, err := wad.LnWad(wad.Signed(wad.DivWadDown(a.TransitionFactor, wad.Sub(one, a.TransitionFactor))))
	if err != nil {
		return nil, err
	}
	exponent := wad.SMulWad(wad.Signed(a.FlipSpeed), new(big.Int).Sub(lnOdds, lnTransition))
	e, err := wad.ExpWad(exponent.Neg(exponent))
	if err != nil {
		// utilization far below the transition
		return new(uint256.Int), nil
	}
	denominator, err := wad.Unsigned(new(big.Int).Add(wad.Signed(one), e))
	if err != nil {
		return nil, err
	}
	return wad.DivWadDown(one, denominator), nil
}
