package market_test

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	nc "fixedlend/native/common"
	"fixedlend/native/lending"
	"fixedlend/native/lending/irm"
	"fixedlend/native/lending/market"
)

func TestDepositWithdrawRoundTrip(t *testing.T) {
	e := newEnv(t)
	m := e.list("WETH", defaultParams(t), fivePercent(t))
	e.fund("WETH", lp, units(1000))

	shares, err := m.Deposit(e.ctx, lp, units(1000), lp)
	require.NoError(t, err)
	require.Equal(t, units(1000), shares)
	require.True(t, e.balance("WETH", lp).IsZero())
	require.Equal(t, units(1000), e.balance("WETH", m.Address()))

	burned, err := m.Withdraw(e.ctx, lp, units(400), lp, lp)
	require.NoError(t, err)
	require.Equal(t, units(400), burned)
	require.Equal(t, units(400), e.balance("WETH", lp))

	assets, err := m.Redeem(e.ctx, lp, units(600), lp, lp)
	require.NoError(t, err)
	require.Equal(t, units(600), assets)
	require.Equal(t, units(1000), e.balance("WETH", lp))

	totals := m.Totals()
	require.True(t, totals.TotalSupply.IsZero())
	require.True(t, totals.FloatingAssets.IsZero())
	require.Contains(t, e.events.Types(), "lending.deposit")
	require.Contains(t, e.events.Types(), "lending.withdraw")
}

func TestDepositRejectsZeroShares(t *testing.T) {
	e := newEnv(t)
	m := e.list("WETH", defaultParams(t), fivePercent(t))
	_, err := m.Deposit(e.ctx, lp, new(uint256.Int), lp)
	require.ErrorIs(t, err, lending.ErrZeroAmount)
}

func TestWithdrawRequiresOwner(t *testing.T) {
	e := newEnv(t)
	m := e.list("WETH", defaultParams(t), fivePercent(t))
	e.fund("WETH", lp, units(100))
	_, err := m.Deposit(e.ctx, lp, units(100), lp)
	require.NoError(t, err)

	_, err = m.Withdraw(e.ctx, carol, units(10), carol, lp)
	require.ErrorIs(t, err, lending.ErrUnauthorized)
	_, err = m.Redeem(e.ctx, carol, units(10), carol, lp)
	require.ErrorIs(t, err, lending.ErrUnauthorized)
	_, err = m.Borrow(e.ctx, carol, units(1), carol, lp)
	require.ErrorIs(t, err, lending.ErrUnauthorized)
	require.Equal(t, units(100), m.Totals().TotalSupply)
}

func TestFloatingBorrowAccruesInterest(t *testing.T) {
	e := newEnv(t)
	model := flatModel{fixedRate: mustWad(t, "0.05"), floatingRate: mustWad(t, "0.1")}
	m := e.list("WETH", defaultParams(t), model)
	e.fund("WETH", lp, units(1000))
	e.fund("WETH", bob, units(1100))
	_, err := m.Deposit(e.ctx, lp, units(1000), lp)
	require.NoError(t, err)
	_, err = m.Deposit(e.ctx, bob, units(1000), bob)
	require.NoError(t, err)

	shares, err := m.Borrow(e.ctx, bob, units(100), bob, bob)
	require.NoError(t, err)
	require.Equal(t, units(100), shares)
	require.Equal(t, units(200), e.balance("WETH", bob))

	e.clock.Advance(irm.Year / 2)
	debt, err := m.PreviewDebt(bob, e.clock.Now())
	require.NoError(t, err)
	require.Equal(t, units(105), debt)

	overview, err := m.Overview()
	require.NoError(t, err)
	require.Equal(t, units(2005), overview.TotalAssets)

	repaid, retired, err := m.Repay(e.ctx, bob, units(105), bob)
	require.NoError(t, err)
	require.Equal(t, units(105), repaid)
	require.Equal(t, units(100), retired)
	require.Equal(t, units(95), e.balance("WETH", bob))

	totals := m.Totals()
	require.True(t, totals.FloatingDebt.IsZero())
	require.True(t, totals.BorrowShares.IsZero())
	require.Equal(t, units(2005), totals.FloatingAssets)
}

func TestBorrowInsufficientCollateral(t *testing.T) {
	e := newEnv(t)
	m := e.list("WETH", defaultParams(t), fivePercent(t))
	e.fund("WETH", lp, units(1000))
	e.fund("WETH", bob, units(100))
	_, err := m.Deposit(e.ctx, lp, units(1000), lp)
	require.NoError(t, err)
	_, err = m.Deposit(e.ctx, bob, units(100), bob)
	require.NoError(t, err)

	_, err = m.Borrow(e.ctx, bob, units(95), bob, bob)
	require.ErrorIs(t, err, lending.ErrInsufficientCollateral)
	require.True(t, m.Totals().FloatingDebt.IsZero())
	require.True(t, e.balance("WETH", bob).IsZero())

	_, err = m.Borrow(e.ctx, bob, units(80), bob, bob)
	require.NoError(t, err)
	require.Equal(t, units(80), e.balance("WETH", bob))
}

func TestBorrowInsufficientLiquidity(t *testing.T) {
	e := newEnv(t)
	params := defaultParams(t)
	params.ReserveFactor = mustWad(t, "0.1")
	m := e.list("WETH", params, fivePercent(t))
	e.fund("WETH", lp, units(100))
	e.fund("WETH", bob, units(1000))
	_, err := m.Deposit(e.ctx, lp, units(100), lp)
	require.NoError(t, err)
	_, err = m.Deposit(e.ctx, bob, units(1000), bob)
	require.NoError(t, err)

	_, err = m.Borrow(e.ctx, bob, units(995), bob, bob)
	require.ErrorIs(t, err, lending.ErrInsufficientLiquidity)
	require.Equal(t, "insufficient_liquidity", lending.Kind(err))
}

func TestWithdrawKeepsAccountSolvent(t *testing.T) {
	e := newEnv(t)
	m := e.list("WETH", defaultParams(t), fivePercent(t))
	e.fund("WETH", lp, units(1000))
	e.fund("WETH", bob, units(100))
	_, err := m.Deposit(e.ctx, lp, units(1000), lp)
	require.NoError(t, err)
	_, err = m.Deposit(e.ctx, bob, units(100), bob)
	require.NoError(t, err)
	_, err = m.Borrow(e.ctx, bob, units(72), bob, bob)
	require.NoError(t, err)

	// 89 * 0.9 of collateral still covers 72 / 0.9 = 80 of debt.
	_, err = m.Withdraw(e.ctx, bob, units(11), bob, bob)
	require.NoError(t, err)
	_, err = m.Withdraw(e.ctx, bob, units(1), bob, bob)
	require.ErrorIs(t, err, lending.ErrInsufficientCollateral)
}

func TestReentrantCallRollsBack(t *testing.T) {
	e := newEnv(t)
	m := e.list("WETH", defaultParams(t), fivePercent(t))
	e.fund("WETH", lp, units(1000))
	e.fund("WETH", bob, units(500))
	_, err := m.Deposit(e.ctx, lp, units(1000), lp)
	require.NoError(t, err)
	_, err = m.Deposit(e.ctx, bob, units(500), bob)
	require.NoError(t, err)

	before := m.Totals()
	recorded := len(e.events.Types())
	e.ledgers["WETH"].OnReceive(bob, func(ctx context.Context, _, _ common.Address, _ *uint256.Int) error {
		_, err := m.Deposit(ctx, bob, units(1), bob)
		return err
	})

	_, err = m.Borrow(e.ctx, bob, units(100), bob, bob)
	require.ErrorIs(t, err, lending.ErrReentrancy)
	require.Equal(t, before, m.Totals())
	require.True(t, e.balance("WETH", bob).IsZero())
	require.Equal(t, units(1500), e.balance("WETH", m.Address()))
	require.Len(t, e.events.Types(), recorded)

	e.ledgers["WETH"].OnReceive(bob, nil)
	_, err = m.Borrow(e.ctx, bob, units(100), bob, bob)
	require.NoError(t, err)
}

func TestPausedMarketStillRepays(t *testing.T) {
	e := newEnv(t)
	m := e.list("WETH", defaultParams(t), fivePercent(t))
	e.fund("WETH", lp, units(1000))
	e.fund("WETH", bob, units(500))
	_, err := m.Deposit(e.ctx, lp, units(1000), lp)
	require.NoError(t, err)
	_, err = m.Deposit(e.ctx, bob, units(400), bob)
	require.NoError(t, err)
	_, err = m.Borrow(e.ctx, bob, units(50), bob, bob)
	require.NoError(t, err)

	require.NoError(t, e.pauses.Set(e.cap, "market.weth", true))
	_, err = m.Deposit(e.ctx, bob, units(10), bob)
	require.ErrorIs(t, err, lending.ErrPaused)
	_, err = m.Borrow(e.ctx, bob, units(10), bob, bob)
	require.ErrorIs(t, err, lending.ErrPaused)
	_, err = m.BorrowAtMaturity(e.ctx, bob, e.maturity, units(10), maxUint(), bob, bob)
	require.ErrorIs(t, err, lending.ErrPaused)

	repaid, _, err := m.Repay(e.ctx, bob, units(50), bob)
	require.NoError(t, err)
	require.Equal(t, units(50), repaid)

	require.NoError(t, e.pauses.Set(e.cap, "market.weth", false))
	_, err = m.Withdraw(e.ctx, bob, units(400), bob, bob)
	require.NoError(t, err)
}

func TestAdminRequiresCapability(t *testing.T) {
	e := newEnv(t)
	m := e.list("WETH", defaultParams(t), fivePercent(t))
	err := m.SetPenaltyRate(e.ctx, nc.NewAuthority("other").Grant(), mustWad(t, "0.00001"))
	require.ErrorIs(t, err, lending.ErrUnauthorized)

	require.NoError(t, m.SetPenaltyRate(e.ctx, e.cap, mustWad(t, "0.00001")))
	require.Equal(t, mustWad(t, "0.00001"), m.Params().PenaltyRate)
	require.Contains(t, e.events.Types(), "lending.parameter_updated")

	err = m.SetReserveFactor(e.ctx, e.cap, mustWad(t, "1"))
	require.ErrorIs(t, err, lending.ErrInvalidParameter)
	require.True(t, m.Params().ReserveFactor.IsZero())

	err = m.SetMaxFuturePools(e.ctx, e.cap, 0)
	require.ErrorIs(t, err, lending.ErrInvalidParameter)
	require.Equal(t, uint64(3), m.Params().MaxFuturePools)
}

func TestMarketAddressIsCaseInsensitive(t *testing.T) {
	require.Equal(t, market.Address("weth"), market.Address("WETH"))
	require.NotEqual(t, market.Address("WETH"), market.Address("DAI"))
}
