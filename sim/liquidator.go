package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"fixedlend/native/lending"
	"fixedlend/native/lending/market"
	"fixedlend/native/lending/wad"
)

// Liquidator watches a set of accounts and liquidates every one whose
// adjusted debt exceeds its adjusted collateral. It repays in the market
// holding the account's largest debt by value and seizes from the market
// holding its largest floating deposit by value.
type Liquidator struct {
	account  common.Address
	accounts []common.Address
	logger   *slog.Logger
}

// NewLiquidator mints funds of every market's asset to the liquidator
// account.
func NewLiquidator(env *Environment, accounts []common.Address) (*Liquidator, error) {
	l := &Liquidator{
		account:  AccountAddress("liquidator"),
		accounts: append([]common.Address(nil), accounts...),
		logger:   env.logger.With("agent", "liquidator"),
	}
	for _, m := range env.Markets {
		if _, err := env.Fund(l.account, m.Symbol(), env.Config.Simulation.Liquidator.Funds); err != nil {
			return nil, fmt.Errorf("fund liquidator in %s: %w", m.Symbol(), err)
		}
	}
	return l, nil
}

func (l *Liquidator) Name() string            { return "liquidator" }
func (l *Liquidator) Account() common.Address { return l.account }

// Watch adds accounts to the watch list.
func (l *Liquidator) Watch(accounts ...common.Address) {
	l.accounts = append(l.accounts, accounts...)
}

type exposure struct {
	market     *market.Market
	debt       *uint256.Int
	collateral *uint256.Int
}

func (l *Liquidator) exposures(env *Environment, account common.Address) ([]exposure, error) {
	var out []exposure
	for _, m := range env.Auditor.AccountMarkets(account) {
		overview, err := m.AccountOverview(account)
		if err != nil {
			return nil, err
		}
		price, err := env.Auditor.Price(m)
		if err != nil {
			return nil, err
		}
		scale := wad.Pow10(m.Decimals())
		out = append(out, exposure{
			market:     m,
			debt:       wad.MulDivDown(overview.Debt, price, scale),
			collateral: wad.MulDivDown(overview.Assets, price, scale),
		})
	}
	return out, nil
}

// Step liquidates every watched account in shortfall. Accounts a
// liquidation cannot touch are logged and skipped.
func (l *Liquidator) Step(ctx context.Context, env *Environment, _ int) error {
	var errs []error
	for _, account := range l.accounts {
		if err := l.check(ctx, env, account); err != nil {
			errs = append(errs, fmt.Errorf("liquidate %s: %w", account.Hex(), err))
		}
	}
	return errors.Join(errs...)
}

func (l *Liquidator) check(ctx context.Context, env *Environment, account common.Address) error {
	liq, err := env.Auditor.AccountLiquidity(account)
	if err != nil {
		return err
	}
	if !liq.AdjustedCollateral.Lt(liq.AdjustedDebt) {
		return nil
	}
	l.logger.Info("account in shortfall",
		"account", account.Hex(),
		"health_factor", healthFactor(liq.AdjustedCollateral, liq.AdjustedDebt),
	)
	markets, err := l.exposures(env, account)
	if err != nil {
		return err
	}
	if len(markets) == 0 {
		return nil
	}
	repay, seize := markets[0], markets[0]
	for _, e := range markets[1:] {
		if e.debt.Gt(repay.debt) {
			repay = e
		}
		if e.collateral.Gt(seize.collateral) {
			seize = e
		}
	}
	if repay.debt.IsZero() {
		return nil
	}
	repaid, err := repay.market.Liquidate(ctx, l.account, account, maxUint(), seize.market)
	if err != nil {
		if errors.Is(err, lending.ErrInsufficientShortfall) {
			return nil
		}
		return err
	}
	l.logger.Info("liquidated",
		"account", account.Hex(),
		"repay_market", repay.market.Symbol(),
		"seize_market", seize.market.Symbol(),
		"repaid", wad.Format(repaid),
	)
	return nil
}

func healthFactor(collateral, debt *uint256.Int) float64 {
	if debt.IsZero() {
		return 0
	}
	return wad.Float(collateral) / wad.Float(debt)
}
