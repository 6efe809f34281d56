package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"fixedlend/native/lending/auditor"
	"fixedlend/native/lending/irm"
	"fixedlend/native/lending/market"
	"fixedlend/native/lending/rewards"
	"fixedlend/native/lending/wad"
)

const secondsPerDay = 24 * 60 * 60

// Units converts a decimal amount into base units of a token with the given
// decimals, truncating extra digits.
func Units(d decimal.Decimal, decimals uint8) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount %s", d)
	}
	return wad.Unsigned(d.Shift(int32(decimals)).Truncate(0).BigInt())
}

func signed(d decimal.Decimal) *big.Int {
	return d.Shift(18).Truncate(0).BigInt()
}

// MarketParams converts the shared protocol section into market parameters.
func (p Protocol) MarketParams() (market.Params, error) {
	var (
		params = market.Params{MaxFuturePools: p.FuturePools}
		err    error
	)
	for _, f := range []struct {
		dst **uint256.Int
		src decimal.Decimal
	}{
		{&params.EarningsAccumulatorSmoothFactor, p.EarningsAccumulatorSmoothFactor},
		{&params.PenaltyRate, p.PenaltyRatePerDay.Div(decimal.NewFromInt(secondsPerDay))},
		{&params.BackupFeeRate, p.BackupFeeRate},
		{&params.ReserveFactor, p.ReserveFactor},
		{&params.TreasuryFeeRate, p.TreasuryFeeRate},
		{&params.DampSpeedUp, p.DampSpeed.Up},
		{&params.DampSpeedDown, p.DampSpeed.Down},
	} {
		if *f.dst, err = wad.FromDecimal(f.src); err != nil {
			return market.Params{}, err
		}
	}
	if p.Treasury != "" {
		params.Treasury = common.HexToAddress(p.Treasury)
	}
	return params, params.Validate()
}

// Incentive converts the liquidation incentive.
func (p Protocol) Incentive() (auditor.Incentive, error) {
	liquidator, err := wad.FromDecimal(p.LiquidationIncentive.Liquidator)
	if err != nil {
		return auditor.Incentive{}, err
	}
	lenders, err := wad.FromDecimal(p.LiquidationIncentive.Lenders)
	if err != nil {
		return auditor.Incentive{}, err
	}
	return auditor.Incentive{Liquidator: liquidator, Lenders: lenders}, nil
}

func (c Curve) build() (irm.Curve, error) {
	a, err := wad.FromDecimal(c.A)
	if err != nil {
		return irm.Curve{}, err
	}
	maxU, err := wad.FromDecimal(c.MaxUtilization)
	if err != nil {
		return irm.Curve{}, err
	}
	return irm.NewCurve(a, signed(c.B), maxU)
}

// InterestRateModel builds the market's rate model.
func (m Market) InterestRateModel() (irm.Model, error) {
	floating, err := m.FloatingCurve.build()
	if err != nil {
		return nil, fmt.Errorf("market %s floating curve: %w", m.Symbol, err)
	}
	switch strings.ToLower(m.Model) {
	case "", ModelHyperbolic:
		fixedCurve, err := m.FixedCurve.build()
		if err != nil {
			return nil, fmt.Errorf("market %s fixed curve: %w", m.Symbol, err)
		}
		return irm.NewHyperbolic(fixedCurve, floating), nil
	case ModelSigmoid:
		if m.Sigmoid == nil {
			return nil, fmt.Errorf("market %s: sigmoid parameters missing", m.Symbol)
		}
		s := m.Sigmoid
		natural, err := wad.FromDecimal(s.NaturalUtilization)
		if err != nil {
			return nil, err
		}
		maxRate, err := wad.FromDecimal(s.MaxRate)
		if err != nil {
			return nil, err
		}
		return irm.NewSigmoid(irm.SigmoidParams{
			Curve:              floating,
			NaturalUtilization: natural,
			SigmoidSpeed:       signed(s.SigmoidSpeed),
			GrowthSpeed:        signed(s.GrowthSpeed),
			MaxRate:            maxRate,
			SpreadFactor:       signed(s.SpreadFactor),
			MaturitySpeed:      signed(s.MaturitySpeed),
			TimePreference:     signed(s.TimePreference),
		})
	default:
		return nil, fmt.Errorf("market %s: unknown model %q", m.Symbol, m.Model)
	}
}

// AdjustFactorWad converts the collateral adjust factor.
func (m Market) AdjustFactorWad() (*uint256.Int, error) {
	return wad.FromDecimal(m.AdjustFactor)
}

// RewardModel returns the allocation model r uses, nil for static rewards.
func (c *Config) RewardModel(r Reward) *RewardModel {
	if !r.Dynamic {
		return nil
	}
	if r.Model != nil {
		return r.Model
	}
	return c.Protocol.Rewards
}

// Allocation converts a dynamic reward's model. marketDecimals scale its
// target debt. Static rewards return nil.
func (c *Config) Allocation(r Reward, marketDecimals uint8) (*rewards.Allocation, error) {
	if !r.Dynamic {
		return nil, nil
	}
	model := c.RewardModel(r)
	if model == nil {
		return nil, fmt.Errorf("reward %s/%s has no allocation model", r.Market, r.Token)
	}
	debt, err := Units(r.Debt, marketDecimals)
	if err != nil {
		return nil, fmt.Errorf("reward %s/%s debt: %w", r.Market, r.Token, err)
	}
	out := &rewards.Allocation{TargetDebt: debt}
	for _, f := range []struct {
		dst **uint256.Int
		src decimal.Decimal
	}{
		{&out.UndistributedFactor, model.UndistributedFactor},
		{&out.FlipSpeed, model.FlipSpeed},
		{&out.CompensationFactor, model.CompensationFactor},
		{&out.TransitionFactor, model.TransitionFactor},
		{&out.BorrowAllocationWeightFactor, model.BorrowAllocationWeightFactor},
		{&out.DepositAllocationWeightAddend, model.DepositAllocationWeightAddend},
		{&out.DepositAllocationWeightFactor, model.DepositAllocationWeightFactor},
	} {
		if *f.dst, err = wad.FromDecimal(f.src); err != nil {
			return nil, fmt.Errorf("reward %s/%s model: %w", r.Market, r.Token, err)
		}
	}
	return out, nil
}

// Market finds a market by symbol.
func (c *Config) Market(symbol string) (Market, bool) {
	for _, m := range c.Markets {
		if strings.EqualFold(m.Symbol, symbol) {
			return m, true
		}
	}
	return Market{}, false
}
