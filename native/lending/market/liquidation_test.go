package market_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"fixedlend/native/lending"
	"fixedlend/native/lending/market"
	"fixedlend/native/lending/wad"
)

// seedCrossMarketBorrow has bob borrow 80 DAI against 100 WETH.
func seedCrossMarketBorrow(t *testing.T, e *env) (weth, dai *market.Market) {
	t.Helper()
	weth = e.list("WETH", defaultParams(t), fivePercent(t))
	dai = e.list("DAI", defaultParams(t), fivePercent(t))
	e.fund("DAI", lp, units(1000))
	e.fund("WETH", bob, units(100))
	e.fund("DAI", keeper, units(1000))

	_, err := dai.Deposit(e.ctx, lp, units(1000), lp)
	require.NoError(t, err)
	_, err = weth.Deposit(e.ctx, bob, units(100), bob)
	require.NoError(t, err)
	require.NoError(t, e.auditor.EnterMarket(e.ctx, bob, weth))
	_, err = dai.Borrow(e.ctx, bob, units(80), bob, bob)
	require.NoError(t, err)
	return weth, dai
}

func TestLiquidateHealthyAccount(t *testing.T) {
	e := newEnv(t)
	weth, dai := seedCrossMarketBorrow(t, e)

	_, err := dai.Liquidate(e.ctx, keeper, bob, maxUint(), weth)
	require.ErrorIs(t, err, lending.ErrInsufficientShortfall)

	_, err = dai.Liquidate(e.ctx, bob, bob, maxUint(), weth)
	require.ErrorIs(t, err, lending.ErrSelfLiquidation)
}

func TestLiquidateSeizesAcrossMarkets(t *testing.T) {
	e := newEnv(t)
	weth, dai := seedCrossMarketBorrow(t, e)
	e.setPrice("WETH", "0.8")

	repaid, err := dai.Liquidate(e.ctx, keeper, bob, maxUint(), weth)
	require.NoError(t, err)

	// The close factor allows the whole debt, but 100 WETH at 0.8 only
	// covers 80 / 1.1 of it.
	expectedRepaid := mustWad(t, "72.727272727272727273")
	lenders := mustWad(t, "0.727272727272727272")
	require.Equal(t, expectedRepaid, repaid)
	require.Equal(t, units(100), e.balance("WETH", keeper))
	require.Equal(t, wad.Sub(units(1000), wad.Add(expectedRepaid, lenders)), e.balance("DAI", keeper))

	// Without collateral left the lenders' incentive is spent on the
	// remaining debt.
	debt, err := dai.PreviewDebt(bob, e.clock.Now())
	require.NoError(t, err)
	require.Equal(t, mustWad(t, "6.545454545454545455"), debt)
	require.True(t, weth.Totals().TotalSupply.IsZero())
	require.True(t, dai.Totals().EarningsAccumulator.IsZero())

	types := e.events.Types()
	require.Contains(t, types, "lending.liquidate")
	require.Contains(t, types, "lending.seize")
	require.Contains(t, types, "lending.spread_bad_debt")
}

func TestLiquidateRespectsMaxAssets(t *testing.T) {
	e := newEnv(t)
	weth, dai := seedCrossMarketBorrow(t, e)
	e.setPrice("WETH", "0.8")

	// The liquidator's budget also covers the lenders' 1%.
	repaid, err := dai.Liquidate(e.ctx, keeper, bob, mustWad(t, "10.1"), weth)
	require.NoError(t, err)
	require.Equal(t, units(10), repaid)
	require.Equal(t, mustWad(t, "989.9"), e.balance("DAI", keeper))

	// 10 repaid at 1.1 is worth 13.75 WETH at 0.8.
	require.Equal(t, mustWad(t, "13.75"), e.balance("WETH", keeper))
	require.Equal(t, mustWad(t, "0.1"), dai.Totals().EarningsAccumulator)

	debt, err := dai.PreviewDebt(bob, e.clock.Now())
	require.NoError(t, err)
	require.Equal(t, units(70), debt)
}

func TestLiquidateFixedBorrowFirst(t *testing.T) {
	e := newEnv(t)
	weth := e.list("WETH", defaultParams(t), fivePercent(t))
	dai := e.list("DAI", defaultParams(t), fivePercent(t))
	e.fund("DAI", lp, units(1000))
	e.fund("WETH", bob, units(100))
	e.fund("DAI", keeper, units(1000))
	_, err := dai.Deposit(e.ctx, lp, units(1000), lp)
	require.NoError(t, err)
	_, err = weth.Deposit(e.ctx, bob, units(100), bob)
	require.NoError(t, err)
	require.NoError(t, e.auditor.EnterMarket(e.ctx, bob, weth))

	_, err = dai.BorrowAtMaturity(e.ctx, bob, e.maturity, units(40), maxUint(), bob, bob)
	require.NoError(t, err)
	_, err = dai.Borrow(e.ctx, bob, units(30), bob, bob)
	require.NoError(t, err)

	e.setPrice("WETH", "0.7")
	repaid, err := dai.Liquidate(e.ctx, keeper, bob, mustWad(t, "50.5"), weth)
	require.NoError(t, err)
	require.Equal(t, units(50), repaid)

	// The fixed position of 42 is repaid whole without an early discount.
	require.True(t, dai.FixedBorrowPosition(e.maturity, bob).IsZero())
	debt, err := dai.PreviewDebt(bob, e.clock.Now())
	require.NoError(t, err)
	require.Equal(t, units(22), debt)
}

// seedFixedCollateral has bob borrow 80 DAI against floatingWETH in the
// floating pool and fixedWETH deposited at e.maturity.
func seedFixedCollateral(t *testing.T, e *env, floatingWETH, fixedWETH uint64) (weth, dai *market.Market) {
	t.Helper()
	weth = e.list("WETH", defaultParams(t), fivePercent(t))
	dai = e.list("DAI", defaultParams(t), fivePercent(t))
	e.fund("DAI", lp, units(1000))
	e.fund("WETH", bob, units(floatingWETH+fixedWETH))
	e.fund("DAI", keeper, units(1000))

	_, err := dai.Deposit(e.ctx, lp, units(1000), lp)
	require.NoError(t, err)
	if floatingWETH > 0 {
		_, err = weth.Deposit(e.ctx, bob, units(floatingWETH), bob)
		require.NoError(t, err)
	}
	position, err := weth.DepositAtMaturity(e.ctx, bob, e.maturity, units(fixedWETH), units(fixedWETH), bob)
	require.NoError(t, err)
	require.Equal(t, units(fixedWETH), position)
	require.NoError(t, e.auditor.EnterMarket(e.ctx, bob, weth))
	_, err = dai.Borrow(e.ctx, bob, units(80), bob, bob)
	require.NoError(t, err)
	return weth, dai
}

func TestLiquidateSeizesFixedDeposit(t *testing.T) {
	e := newEnv(t)
	weth, dai := seedFixedCollateral(t, e, 0, 100)
	e.setPrice("WETH", "0.5")

	liq, err := e.auditor.AccountLiquidity(bob)
	require.NoError(t, err)
	require.True(t, liq.AdjustedCollateral.Lt(liq.AdjustedDebt))

	repaid, err := dai.Liquidate(e.ctx, keeper, bob, maxUint(), weth)
	require.NoError(t, err)
	require.Equal(t, mustWad(t, "45.454545454545454546"), repaid)
	require.Equal(t, units(100), e.balance("WETH", keeper))

	require.True(t, weth.FixedDepositPosition(e.maturity, bob).IsZero())
	pool, err := weth.Pool(e.maturity)
	require.NoError(t, err)
	require.True(t, pool.Supplied.IsZero())
	overview, err := weth.AccountOverview(bob)
	require.NoError(t, err)
	require.Empty(t, overview.FixedDeposits)

	// Once the deposit is gone the lenders' incentive is spent on the
	// remaining debt.
	debt, err := dai.PreviewDebt(bob, e.clock.Now())
	require.NoError(t, err)
	require.True(t, debt.Lt(wad.Sub(units(80), repaid)))
	require.Contains(t, e.events.Types(), "lending.spread_bad_debt")
}

func TestLiquidateSeizesFloatingBeforeFixed(t *testing.T) {
	e := newEnv(t)
	weth, dai := seedFixedCollateral(t, e, 50, 50)
	e.setPrice("WETH", "0.5")

	repaid, err := dai.Liquidate(e.ctx, keeper, bob, mustWad(t, "30.3"), weth)
	require.NoError(t, err)
	require.Equal(t, units(30), repaid)
	require.Equal(t, mustWad(t, "969.7"), e.balance("DAI", keeper))

	// 30 repaid at 1.1 is worth 66 WETH at 0.5: the whole floating deposit
	// and 16 of the fixed one.
	require.Equal(t, units(66), e.balance("WETH", keeper))
	require.True(t, weth.Totals().TotalSupply.IsZero())
	remaining := weth.FixedDepositPosition(e.maturity, bob)
	require.Equal(t, units(34), remaining.Total())
	pool, err := weth.Pool(e.maturity)
	require.NoError(t, err)
	require.Equal(t, units(34), pool.Supplied)

	debt, err := dai.PreviewDebt(bob, e.clock.Now())
	require.NoError(t, err)
	require.Equal(t, units(50), debt)
}
