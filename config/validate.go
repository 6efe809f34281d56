package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"fixedlend/native/lending/fixed"
)

var one = decimal.NewFromInt(1)

func fraction(name string, d decimal.Decimal) error {
	if d.IsNegative() || d.GreaterThan(one) {
		return fmt.Errorf("%s must be within [0, 1], got %s", name, d)
	}
	return nil
}

func (m *RewardModel) check(name string) []error {
	var errs []error
	if !m.TransitionFactor.IsPositive() || !m.TransitionFactor.LessThan(one) {
		errs = append(errs, fmt.Errorf("%s: transitionFactor must be within (0, 1)", name))
	}
	for field, d := range map[string]decimal.Decimal{
		"undistributedFactor":           m.UndistributedFactor,
		"flipSpeed":                     m.FlipSpeed,
		"compensationFactor":            m.CompensationFactor,
		"borrowAllocationWeightFactor":  m.BorrowAllocationWeightFactor,
		"depositAllocationWeightAddend": m.DepositAllocationWeightAddend,
		"depositAllocationWeightFactor": m.DepositAllocationWeightFactor,
	} {
		if d.IsNegative() {
			errs = append(errs, fmt.Errorf("%s: %s must not be negative", name, field))
		}
	}
	return errs
}

// Validate reports every problem of the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	p := c.Protocol
	if p.Treasury != "" && !common.IsHexAddress(p.Treasury) {
		errs = append(errs, fmt.Errorf("protocol: treasury %q is not an address", p.Treasury))
	}
	for name, d := range map[string]decimal.Decimal{
		"protocol: treasuryFeeRate":                 p.TreasuryFeeRate,
		"protocol: backupFeeRate":                   p.BackupFeeRate,
		"protocol: liquidationIncentive.liquidator": p.LiquidationIncentive.Liquidator,
		"protocol: liquidationIncentive.lenders":    p.LiquidationIncentive.Lenders,
	} {
		if err := fraction(name, d); err != nil {
			errs = append(errs, err)
		}
	}
	if p.ReserveFactor.IsNegative() || !p.ReserveFactor.LessThan(one) {
		errs = append(errs, fmt.Errorf("protocol: reserveFactor must be within [0, 1)"))
	}
	if p.FuturePools == 0 || p.FuturePools > 224 {
		errs = append(errs, fmt.Errorf("protocol: futurePools must be within [1, 224]"))
	}
	if p.PenaltyRatePerDay.IsNegative() || p.EarningsAccumulatorSmoothFactor.IsNegative() || p.DampSpeed.Up.IsNegative() || p.DampSpeed.Down.IsNegative() {
		errs = append(errs, fmt.Errorf("protocol: rates must not be negative"))
	}
	if p.LiquidationIncentive.Liquidator.Add(p.LiquidationIncentive.Lenders).GreaterThan(one) {
		errs = append(errs, fmt.Errorf("protocol: liquidation incentive exceeds 1"))
	}

	symbols := make(map[string]struct{}, len(c.Markets))
	if len(c.Markets) == 0 {
		errs = append(errs, fmt.Errorf("markets: at least one market is required"))
	}
	for i, m := range c.Markets {
		symbol := strings.ToUpper(strings.TrimSpace(m.Symbol))
		if symbol == "" {
			errs = append(errs, fmt.Errorf("markets[%d]: symbol required", i))
			continue
		}
		if _, dup := symbols[symbol]; dup {
			errs = append(errs, fmt.Errorf("markets[%d]: duplicate symbol %s", i, symbol))
		}
		symbols[symbol] = struct{}{}
		if m.Decimals > 36 {
			errs = append(errs, fmt.Errorf("market %s: decimals %d out of range", symbol, m.Decimals))
		}
		if !m.AdjustFactor.IsPositive() || m.AdjustFactor.GreaterThan(one) {
			errs = append(errs, fmt.Errorf("market %s: adjustFactor must be within (0, 1]", symbol))
		}
		switch strings.ToLower(m.Model) {
		case "", ModelHyperbolic:
		case ModelSigmoid:
			if m.Sigmoid == nil {
				errs = append(errs, fmt.Errorf("market %s: sigmoid model needs a [markets.sigmoid] table", symbol))
			}
		default:
			errs = append(errs, fmt.Errorf("market %s: unknown model %q", symbol, m.Model))
		}
		if m.Price.InitialPrice <= 0 {
			errs = append(errs, fmt.Errorf("market %s: price.initialPrice must be positive", symbol))
		}
	}

	for i, r := range c.Rewards {
		if _, ok := symbols[strings.ToUpper(r.Market)]; !ok {
			errs = append(errs, fmt.Errorf("rewards[%d]: unknown market %q", i, r.Market))
		}
		if strings.TrimSpace(r.Token) == "" || r.Period == 0 || !r.Total.IsPositive() {
			errs = append(errs, fmt.Errorf("rewards[%d]: token, period and total are required", i))
		}
		if !r.Dynamic {
			if err := fraction(fmt.Sprintf("rewards[%d]: depositAllocation", i), r.DepositAllocation); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if !r.Debt.IsPositive() {
			errs = append(errs, fmt.Errorf("rewards[%d]: dynamic rewards need a positive debt", i))
		}
		if model := c.RewardModel(r); model == nil {
			errs = append(errs, fmt.Errorf("rewards[%d]: dynamic rewards need a model or protocol.rewards", i))
		} else {
			errs = append(errs, model.check(fmt.Sprintf("rewards[%d]", i))...)
		}
	}

	s := c.Simulation
	if s.Start == 0 || s.Start%fixed.Interval != 0 {
		errs = append(errs, fmt.Errorf("simulation: start must be a positive multiple of %d", fixed.Interval))
	}
	if s.StepSeconds == 0 || s.Steps < 0 || s.CheckpointEvery < 0 {
		errs = append(errs, fmt.Errorf("simulation: stepSeconds must be positive and counts non-negative"))
	}
	for _, m := range c.Markets {
		if m.Price.Steps < s.Steps {
			errs = append(errs, fmt.Errorf("market %s: price path has %d steps, simulation runs %d", strings.ToUpper(m.Symbol), m.Price.Steps, s.Steps))
		}
	}
	if s.Liquidator.Enabled && !s.Liquidator.Funds.IsPositive() {
		errs = append(errs, fmt.Errorf("simulation: liquidator.funds must be positive"))
	}
	names := make(map[string]struct{}, len(s.Agents))
	for i, a := range s.Agents {
		if strings.TrimSpace(a.Name) == "" {
			errs = append(errs, fmt.Errorf("agents[%d]: name required", i))
		} else if _, dup := names[a.Name]; dup {
			errs = append(errs, fmt.Errorf("agents[%d]: duplicate name %q", i, a.Name))
		}
		names[a.Name] = struct{}{}
		if _, ok := symbols[strings.ToUpper(a.Market)]; !ok {
			errs = append(errs, fmt.Errorf("agent %s: unknown market %q", a.Name, a.Market))
		}
		if !a.Amount.IsPositive() || a.Every <= 0 || a.Maturity < 0 || uint64(a.Maturity) > p.FuturePools {
			errs = append(errs, fmt.Errorf("agent %s: amount and every must be positive and maturity within the open pools", a.Name))
		}
		switch a.Kind {
		case AgentSaver:
		case AgentBorrower:
			if _, ok := symbols[strings.ToUpper(a.Collateral)]; !ok {
				errs = append(errs, fmt.Errorf("agent %s: unknown collateral market %q", a.Name, a.Collateral))
			}
			if !a.CollateralAmount.IsPositive() {
				errs = append(errs, fmt.Errorf("agent %s: collateralAmount must be positive", a.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("agent %s: unknown kind %q", a.Name, a.Kind))
		}
	}
	return errors.Join(errs...)
}
