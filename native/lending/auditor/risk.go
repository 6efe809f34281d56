package auditor

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"fixedlend/core/events"
	"fixedlend/native/lending"
	"fixedlend/native/lending/market"
	"fixedlend/native/lending/txn"
	"fixedlend/native/lending/wad"
)

func bit(index int) *uint256.Int {
	return new(uint256.Int).Lsh(uint256.NewInt(1), uint(index))
}

func (a *Auditor) isMember(account common.Address, l *listing) bool {
	membership := a.st.accountMarkets[account]
	return !new(uint256.Int).And(&membership, bit(l.index)).IsZero()
}

func (a *Auditor) setMember(account common.Address, l *listing, member bool) {
	membership := a.st.accountMarkets[account]
	if member {
		membership.Or(&membership, bit(l.index))
	} else {
		membership.And(&membership, new(uint256.Int).Not(bit(l.index)))
	}
	if membership.IsZero() {
		delete(a.st.accountMarkets, account)
		return
	}
	a.st.accountMarkets[account] = membership
}

// entered returns the listings account is a member of, in listing order.
func (a *Auditor) entered(account common.Address) []*listing {
	var out []*listing
	for _, l := range a.st.listings {
		if a.isMember(account, l) {
			out = append(out, l)
		}
	}
	return out
}

// Liquidity is an account's risk-adjusted position in the base unit.
type Liquidity struct {
	// AdjustedCollateral is collateral value times each adjust factor.
	AdjustedCollateral *uint256.Int
	// AdjustedDebt is debt value divided by each adjust factor, plus the
	// simulated withdrawal.
	AdjustedDebt *uint256.Int
}

// accountLiquidity values account across its markets. withdraw simulates
// removing that many assets of simulate's collateral.
func (a *Auditor) accountLiquidity(account common.Address, simulate *listing, withdraw *uint256.Int, now uint64) (Liquidity, error) {
	out := Liquidity{AdjustedCollateral: new(uint256.Int), AdjustedDebt: new(uint256.Int)}
	for _, l := range a.entered(account) {
		collateral, debt, err := l.market.AccountSnapshot(account, now)
		if err != nil {
			return Liquidity{}, err
		}
		price, err := a.price(l, now)
		if err != nil {
			return Liquidity{}, err
		}
		unit := wad.Pow10(l.decimals)
		out.AdjustedCollateral = wad.Add(out.AdjustedCollateral, wad.MulWadDown(wad.MulDivDown(collateral, price, unit), l.adjustFactor))
		out.AdjustedDebt = wad.Add(out.AdjustedDebt, wad.DivWadUp(wad.MulDivUp(debt, price, unit), l.adjustFactor))
		if l == simulate && withdraw != nil && !withdraw.IsZero() {
			out.AdjustedDebt = wad.Add(out.AdjustedDebt, wad.MulWadDown(wad.MulDivDown(withdraw, price, unit), l.adjustFactor))
		}
	}
	return out, nil
}

// AccountLiquidity reads account's risk-adjusted collateral and debt.
func (a *Auditor) AccountLiquidity(account common.Address) (Liquidity, error) {
	var out Liquidity
	err := a.exec.View(func(now uint64) error {
		var err error
		out, err = a.accountLiquidity(account, nil, nil, now)
		return err
	})
	return out, err
}

// HealthFactor is adjusted collateral over adjusted debt. Accounts without
// debt report the largest representable value.
func (a *Auditor) HealthFactor(account common.Address) (*uint256.Int, error) {
	liq, err := a.AccountLiquidity(account)
	if err != nil {
		return nil, err
	}
	if liq.AdjustedDebt.IsZero() {
		return new(uint256.Int).SetAllOne(), nil
	}
	return wad.DivWadDown(liq.AdjustedCollateral, liq.AdjustedDebt), nil
}

// AccountMarkets lists the markets account entered.
func (a *Auditor) AccountMarkets(account common.Address) []*market.Market {
	var out []*market.Market
	_ = a.exec.View(func(uint64) error {
		for _, l := range a.entered(account) {
			out = append(out, l.market)
		}
		return nil
	})
	return out
}

func (a *Auditor) solvent(account common.Address, simulate *listing, withdraw *uint256.Int, now uint64) error {
	liq, err := a.accountLiquidity(account, simulate, withdraw, now)
	if err != nil {
		return err
	}
	if liq.AdjustedCollateral.Lt(liq.AdjustedDebt) {
		return fmt.Errorf("account %s collateral %s below debt %s: %w", account.Hex(), wad.Format(liq.AdjustedCollateral), wad.Format(liq.AdjustedDebt), lending.ErrInsufficientCollateral)
	}
	return nil
}

// EnterMarket makes account's deposits in m count as collateral.
func (a *Auditor) EnterMarket(ctx context.Context, account common.Address, m *market.Market) error {
	return a.exec.Run(ctx, "auditor.enter_market", func(_ context.Context, tx *txn.Tx) error {
		l, err := a.listingOf(m)
		if err != nil {
			return err
		}
		if a.isMember(account, l) {
			return nil
		}
		a.setMember(account, l, true)
		tx.Emit(events.MarketMembership{Entered: true, Market: m.Symbol(), Account: account})
		return nil
	})
}

// ExitMarket stops counting account's deposits in m as collateral. It
// fails while account owes m anything or when the rest of its collateral
// would not cover its debt.
func (a *Auditor) ExitMarket(ctx context.Context, account common.Address, m *market.Market) error {
	return a.exec.Run(ctx, "auditor.exit_market", func(_ context.Context, tx *txn.Tx) error {
		l, err := a.listingOf(m)
		if err != nil {
			return err
		}
		now := tx.Now()
		collateral, debt, err := m.AccountSnapshot(account, now)
		if err != nil {
			return err
		}
		if !debt.IsZero() {
			return fmt.Errorf("account %s owes %s: %w", account.Hex(), m.Symbol(), lending.ErrRemainingDebt)
		}
		if !a.isMember(account, l) {
			return nil
		}
		if err := a.solvent(account, l, collateral, now); err != nil {
			return err
		}
		a.setMember(account, l, false)
		tx.Emit(events.MarketMembership{Entered: false, Market: m.Symbol(), Account: account})
		return nil
	})
}

// CheckBorrow implements market.Auditor.
func (a *Auditor) CheckBorrow(ctx context.Context, m *market.Market, borrower common.Address) error {
	tx, err := txn.Require(ctx)
	if err != nil {
		return err
	}
	l, err := a.listingOf(m)
	if err != nil {
		return err
	}
	if !a.isMember(borrower, l) {
		a.setMember(borrower, l, true)
		tx.Emit(events.MarketMembership{Entered: true, Market: m.Symbol(), Account: borrower})
	}
	return a.solvent(borrower, nil, nil, tx.Now())
}

// CheckShortfall implements market.Auditor. Accounts that did not enter m
// may withdraw freely since their deposit backs nothing.
func (a *Auditor) CheckShortfall(ctx context.Context, m *market.Market, account common.Address, assets *uint256.Int) error {
	tx, err := txn.Require(ctx)
	if err != nil {
		return err
	}
	l, err := a.listingOf(m)
	if err != nil {
		return err
	}
	if !a.isMember(account, l) {
		return nil
	}
	return a.solvent(account, l, assets, tx.Now())
}

// CheckLiquidation implements market.Auditor. The repayable amount is the
// least of what brings the account back to TargetHealth, what the seize
// market's collateral can pay for including the incentive, and what the
// liquidator offered net of the lenders' cut. Floating and fixed deposits
// are both seizable.
func (a *Auditor) CheckLiquidation(ctx context.Context, repayMarket, seizeMarket *market.Market, borrower common.Address, maxLiquidatorAssets *uint256.Int) (*uint256.Int, error) {
	tx, err := txn.Require(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := a.listingOf(repayMarket); err != nil {
		return nil, err
	}
	if _, err := a.listingOf(seizeMarket); err != nil {
		return nil, err
	}
	now := tx.Now()
	var repayPrice, repayUnit *uint256.Int
	totalDebt, adjustedDebt := new(uint256.Int), new(uint256.Int)
	totalCollateral, adjustedCollateral := new(uint256.Int), new(uint256.Int)
	seizeAvailable := new(uint256.Int)
	for _, l := range a.entered(borrower) {
		price, err := a.price(l, now)
		if err != nil {
			return nil, err
		}
		unit := wad.Pow10(l.decimals)
		if l.market == repayMarket {
			repayPrice, repayUnit = price, unit
		}
		collateral, debt, err := l.market.AccountSnapshot(borrower, now)
		if err != nil {
			return nil, err
		}
		value := wad.MulDivUp(debt, price, unit)
		totalDebt = wad.Add(totalDebt, value)
		adjustedDebt = wad.Add(adjustedDebt, wad.DivWadUp(value, l.adjustFactor))
		value = wad.MulDivDown(collateral, price, unit)
		totalCollateral = wad.Add(totalCollateral, value)
		adjustedCollateral = wad.Add(adjustedCollateral, wad.MulWadDown(value, l.adjustFactor))
		if l.market == seizeMarket {
			seizeAvailable = value
		}
	}
	if adjustedCollateral.Cmp(adjustedDebt) >= 0 {
		return nil, fmt.Errorf("account %s is healthy: %w", borrower.Hex(), lending.ErrInsufficientShortfall)
	}
	if repayPrice == nil || totalCollateral.IsZero() {
		return new(uint256.Int), nil
	}

	incentive := a.st.incentive
	bonus := wad.Add(wad.One(), wad.Add(incentive.Liquidator, incentive.Lenders))
	averageFactor := wad.DivWadUp(wad.MulWadUp(adjustedCollateral, totalDebt), wad.MulWadUp(adjustedDebt, totalCollateral))
	closeFactor := wad.One()
	health := wad.DivWadUp(adjustedCollateral, adjustedDebt)
	if denominator := wad.MulWadDown(averageFactor, bonus); denominator.Lt(TargetHealth) {
		closeFactor = wad.Min(wad.One(), wad.DivWadUp(wad.SaturatingSub(TargetHealth, health), wad.Sub(TargetHealth, denominator)))
	}
	value := wad.Min(wad.MulWadUp(totalDebt, closeFactor), wad.DivWadUp(seizeAvailable, bonus))
	maxRepay := wad.MulDivUp(value, repayUnit, repayPrice)
	if maxLiquidatorAssets != nil && !isUnbounded(maxLiquidatorAssets) {
		maxRepay = wad.Min(maxRepay, wad.DivWadDown(maxLiquidatorAssets, wad.Add(wad.One(), incentive.Lenders)))
	}
	return maxRepay, nil
}

func isUnbounded(x *uint256.Int) bool {
	return x.Eq(new(uint256.Int).SetAllOne())
}

// CalculateSeize implements market.Auditor.
func (a *Auditor) CalculateSeize(ctx context.Context, repayMarket, seizeMarket *market.Market, borrower common.Address, repaidAssets *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	tx, err := txn.Require(ctx)
	if err != nil {
		return nil, nil, err
	}
	repay, err := a.listingOf(repayMarket)
	if err != nil {
		return nil, nil, err
	}
	seize, err := a.listingOf(seizeMarket)
	if err != nil {
		return nil, nil, err
	}
	now := tx.Now()
	incentive := a.st.incentive
	lendersAssets := wad.MulWadDown(repaidAssets, incentive.Lenders)
	borrowedPrice, err := a.price(repay, now)
	if err != nil {
		return nil, nil, err
	}
	collateralPrice, err := a.price(seize, now)
	if err != nil {
		return nil, nil, err
	}
	base := wad.MulDivUp(repaidAssets, borrowedPrice, wad.Pow10(repay.decimals))
	seizeAssets := wad.MulWadUp(wad.MulDivUp(base, wad.Pow10(seize.decimals), collateralPrice), wad.Add(wad.One(), wad.Add(incentive.Liquidator, incentive.Lenders)))
	available, _, err := seizeMarket.AccountSnapshot(borrower, now)
	if err != nil {
		return nil, nil, err
	}
	return lendersAssets, wad.Min(seizeAssets, available), nil
}

// CheckSeize implements market.Auditor.
func (a *Auditor) CheckSeize(_ context.Context, repayMarket, seizeMarket *market.Market) error {
	if _, err := a.listingOf(repayMarket); err != nil {
		return err
	}
	_, err := a.listingOf(seizeMarket)
	return err
}

// HandleBadDebt implements market.Auditor. Once account holds no
// collateral of any value in the markets it entered, every one of them
// writes its remaining debt off.
func (a *Auditor) HandleBadDebt(ctx context.Context, account common.Address) error {
	tx, err := txn.Require(ctx)
	if err != nil {
		return err
	}
	now := tx.Now()
	entered := a.entered(account)
	for _, l := range entered {
		collateral, _, err := l.market.AccountSnapshot(account, now)
		if err != nil {
			return err
		}
		price, err := a.price(l, now)
		if err != nil {
			return err
		}
		if !wad.MulWadDown(wad.MulDivDown(collateral, price, wad.Pow10(l.decimals)), l.adjustFactor).IsZero() {
			return nil
		}
	}
	for _, l := range entered {
		if err := l.market.ClearBadDebt(ctx, account); err != nil {
			return err
		}
	}
	return nil
}
