package auditor_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	nc "fixedlend/native/common"
	"fixedlend/native/lending"
	"fixedlend/native/lending/asset"
	"fixedlend/native/lending/auditor"
	"fixedlend/native/lending/fixed"
	"fixedlend/native/lending/irm"
	"fixedlend/native/lending/market"
	"fixedlend/native/lending/oracle"
	"fixedlend/native/lending/txn"
	"fixedlend/native/lending/wad"
)

var (
	lp  = common.HexToAddress("0x1000000000000000000000000000000000000001")
	bob = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

const start = 100 * fixed.Interval

type zeroModel struct{}

func (zeroModel) FloatingRate(irm.Utilization) (*uint256.Int, error) { return new(uint256.Int), nil }

func (zeroModel) FixedRate(uint64, uint64, uint64, irm.Utilization) (*uint256.Int, error) {
	return new(uint256.Int), nil
}

type fixture struct {
	ctx     context.Context
	clock   *txn.ManualClock
	exec    *txn.Executor
	cap     nc.Capability
	auth    *nc.Authority
	auditor *auditor.Auditor
	ledgers map[string]*asset.Ledger
	feeds   map[string]*oracle.MockFeed
}

func wadOf(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := wad.Parse(s)
	require.NoError(t, err)
	return v
}

func newFixture(t *testing.T, maxPriceAge uint64) *fixture {
	t.Helper()
	clock := txn.NewManualClock(start)
	exec := txn.NewExecutor(clock)
	auth := nc.NewAuthority("test")
	a, err := auditor.New(auditor.Config{
		Executor:    exec,
		Authority:   auth,
		Incentive:   auditor.Incentive{Liquidator: wadOf(t, "0.09"), Lenders: wadOf(t, "0.01")},
		MaxPriceAge: maxPriceAge,
	})
	require.NoError(t, err)
	return &fixture{
		ctx:     context.Background(),
		clock:   clock,
		exec:    exec,
		cap:     auth.Grant(),
		auth:    auth,
		auditor: a,
		ledgers: make(map[string]*asset.Ledger),
		feeds:   make(map[string]*oracle.MockFeed),
	}
}

func (f *fixture) newMarket(t *testing.T, symbol string) *market.Market {
	t.Helper()
	ledger := asset.NewLedger(symbol, 18)
	m, err := market.New(market.Config{
		Symbol:    symbol,
		Asset:     ledger,
		Model:     zeroModel{},
		Executor:  f.exec,
		Authority: f.auth,
		Params: market.Params{
			MaxFuturePools:                  3,
			EarningsAccumulatorSmoothFactor: wad.One(),
			PenaltyRate:                     new(uint256.Int),
			BackupFeeRate:                   new(uint256.Int),
			ReserveFactor:                   new(uint256.Int),
			TreasuryFeeRate:                 new(uint256.Int),
			DampSpeedUp:                     wad.One(),
			DampSpeedDown:                   wad.One(),
		},
	})
	require.NoError(t, err)
	f.exec.Register(ledger)
	f.ledgers[symbol] = ledger
	return m
}

func (f *fixture) list(t *testing.T, symbol string) *market.Market {
	t.Helper()
	m := f.newMarket(t, symbol)
	feed := oracle.NewMockFeed(18, wad.One().ToBig())
	feed.SetPrice(wad.One().ToBig(), f.clock.Now())
	require.NoError(t, f.auditor.EnableMarket(f.ctx, f.cap, m, feed, wadOf(t, "0.9")))
	f.feeds[symbol] = feed
	return m
}

func (f *fixture) deposit(t *testing.T, m *market.Market, account common.Address, amount uint64) {
	t.Helper()
	require.NoError(t, f.ledgers[m.Symbol()].Mint(account, wad.Units(amount)))
	_, err := m.Deposit(f.ctx, account, wad.Units(amount), account)
	require.NoError(t, err)
}

func TestEnableMarketValidation(t *testing.T) {
	f := newFixture(t, 0)
	weth := f.list(t, "WETH")
	feed := oracle.NewMockFeed(18, wad.One().ToBig())

	err := f.auditor.EnableMarket(f.ctx, f.cap, weth, feed, wadOf(t, "0.9"))
	require.ErrorIs(t, err, lending.ErrMarketAlreadyListed)

	dai := f.newMarket(t, "DAI")
	err = f.auditor.EnableMarket(f.ctx, nc.NewAuthority("other").Grant(), dai, feed, wadOf(t, "0.9"))
	require.ErrorIs(t, err, lending.ErrUnauthorized)
	err = f.auditor.EnableMarket(f.ctx, f.cap, dai, feed, wadOf(t, "1.01"))
	require.ErrorIs(t, err, lending.ErrInvalidParameter)
	err = f.auditor.EnableMarket(f.ctx, f.cap, dai, feed, new(uint256.Int))
	require.ErrorIs(t, err, lending.ErrInvalidParameter)
	err = f.auditor.EnableMarket(f.ctx, f.cap, dai, oracle.NewMockFeed(19, big.NewInt(1)), wadOf(t, "0.9"))
	require.ErrorIs(t, err, lending.ErrPriceError)

	require.Len(t, f.auditor.Markets(), 1)
	got, ok := f.auditor.Market("weth")
	require.True(t, ok)
	require.Same(t, weth, got)
	_, ok = f.auditor.Market("dai")
	require.False(t, ok)
}

func TestUnlistedMarketRejectsActions(t *testing.T) {
	f := newFixture(t, 0)
	dai := f.newMarket(t, "DAI")
	require.NoError(t, f.ledgers["DAI"].Mint(lp, wad.Units(10)))
	_, err := dai.Deposit(f.ctx, lp, wad.Units(10), lp)
	require.ErrorIs(t, err, lending.ErrMarketNotListed)
}

func TestEnterAndExitMarket(t *testing.T) {
	f := newFixture(t, 0)
	weth := f.list(t, "WETH")
	dai := f.list(t, "DAI")
	f.deposit(t, dai, lp, 1000)
	f.deposit(t, weth, bob, 100)

	require.NoError(t, f.auditor.EnterMarket(f.ctx, bob, weth))
	require.NoError(t, f.auditor.EnterMarket(f.ctx, bob, weth))
	require.Equal(t, []*market.Market{weth}, f.auditor.AccountMarkets(bob))

	_, err := dai.Borrow(f.ctx, bob, wad.Units(50), bob, bob)
	require.NoError(t, err)
	require.Equal(t, []*market.Market{weth, dai}, f.auditor.AccountMarkets(bob))

	liq, err := f.auditor.AccountLiquidity(bob)
	require.NoError(t, err)
	require.Equal(t, wad.Units(90), liq.AdjustedCollateral)
	require.Equal(t, wadOf(t, "55.555555555555555556"), liq.AdjustedDebt)
	health, err := f.auditor.HealthFactor(bob)
	require.NoError(t, err)
	require.Equal(t, wadOf(t, "1.619999999999999999"), health)

	require.ErrorIs(t, f.auditor.ExitMarket(f.ctx, bob, dai), lending.ErrRemainingDebt)
	require.ErrorIs(t, f.auditor.ExitMarket(f.ctx, bob, weth), lending.ErrInsufficientCollateral)

	_, _, err = dai.Repay(f.ctx, bob, wad.Units(50), bob)
	require.NoError(t, err)
	require.NoError(t, f.auditor.ExitMarket(f.ctx, bob, dai))
	require.NoError(t, f.auditor.ExitMarket(f.ctx, bob, weth))
	require.Empty(t, f.auditor.AccountMarkets(bob))

	health, err = f.auditor.HealthFactor(bob)
	require.NoError(t, err)
	require.Equal(t, new(uint256.Int).SetAllOne(), health)
}

func TestWithdrawOutsideEnteredMarketsIsUnchecked(t *testing.T) {
	f := newFixture(t, 0)
	weth := f.list(t, "WETH")
	dai := f.list(t, "DAI")
	f.deposit(t, dai, lp, 1000)
	f.deposit(t, weth, bob, 100)
	f.deposit(t, dai, bob, 100)

	_, err := dai.Borrow(f.ctx, bob, wad.Units(50), bob, bob)
	require.NoError(t, err)
	// WETH was never entered, so it neither backs the loan nor blocks
	// withdrawals.
	_, err = weth.Withdraw(f.ctx, bob, wad.Units(100), bob, bob)
	require.NoError(t, err)
	_, err = dai.Withdraw(f.ctx, bob, wad.Units(60), bob, bob)
	require.ErrorIs(t, err, lending.ErrInsufficientCollateral)
}

func TestPriceChecks(t *testing.T) {
	f := newFixture(t, 60)
	weth := f.list(t, "WETH")
	dai := f.list(t, "DAI")
	f.deposit(t, dai, lp, 1000)
	f.deposit(t, weth, bob, 100)
	require.NoError(t, f.auditor.EnterMarket(f.ctx, bob, weth))

	f.clock.Advance(61)
	_, err := f.auditor.Price(weth)
	require.ErrorIs(t, err, lending.ErrPriceError)
	_, err = dai.Borrow(f.ctx, bob, wad.Units(1), bob, bob)
	require.ErrorIs(t, err, lending.ErrPriceError)

	f.feeds["WETH"].SetPrice(big.NewInt(0), f.clock.Now())
	_, err = f.auditor.AccountLiquidity(bob)
	require.ErrorIs(t, err, lending.ErrPriceError)

	eightDecimals := oracle.NewMockFeed(8, big.NewInt(2000_00000000))
	eightDecimals.SetPrice(big.NewInt(2000_00000000), f.clock.Now())
	require.NoError(t, f.auditor.SetPriceFeed(f.ctx, f.cap, weth, eightDecimals))
	price, err := f.auditor.Price(weth)
	require.NoError(t, err)
	require.Equal(t, wad.Units(2000), price)
}

func TestHooksRequireAction(t *testing.T) {
	f := newFixture(t, 0)
	weth := f.list(t, "WETH")

	err := f.auditor.CheckBorrow(f.ctx, weth, bob)
	require.ErrorIs(t, err, lending.ErrNotInTransaction)
	_, err = f.auditor.CheckLiquidation(f.ctx, weth, weth, bob, nil)
	require.ErrorIs(t, err, lending.ErrNotInTransaction)
	require.ErrorIs(t, weth.ClearBadDebt(f.ctx, bob), lending.ErrNotInTransaction)
	require.ErrorIs(t, weth.Seize(f.ctx, weth, lp, bob, wad.Units(1)), lending.ErrNotInTransaction)
}

func TestAdminSetters(t *testing.T) {
	f := newFixture(t, 0)
	weth := f.list(t, "WETH")

	require.NoError(t, f.auditor.SetAdjustFactor(f.ctx, f.cap, weth, wadOf(t, "0.5")))
	factor, err := f.auditor.AdjustFactor(weth)
	require.NoError(t, err)
	require.Equal(t, wadOf(t, "0.5"), factor)

	err = f.auditor.SetLiquidationIncentive(f.ctx, f.cap, auditor.Incentive{Liquidator: wadOf(t, "0.6"), Lenders: wadOf(t, "0.5")})
	require.ErrorIs(t, err, lending.ErrInvalidParameter)
	require.NoError(t, f.auditor.SetLiquidationIncentive(f.ctx, f.cap, auditor.Incentive{Liquidator: wadOf(t, "0.05"), Lenders: wadOf(t, "0.02")}))
	require.Equal(t, wadOf(t, "0.02"), f.auditor.Incentive().Lenders)

	err = f.auditor.SetAdjustFactor(f.ctx, nc.NewAuthority("other").Grant(), weth, wadOf(t, "0.8"))
	require.ErrorIs(t, err, lending.ErrUnauthorized)
}

func TestSnapshotRestore(t *testing.T) {
	f := newFixture(t, 0)
	weth := f.list(t, "WETH")
	dai := f.list(t, "DAI")
	f.deposit(t, weth, bob, 10)
	require.NoError(t, f.auditor.EnterMarket(f.ctx, bob, weth))
	require.NoError(t, f.auditor.SetAdjustFactor(f.ctx, f.cap, dai, wadOf(t, "0.8")))
	snap := f.auditor.Snapshot()
	require.Len(t, snap.Memberships, 1)

	other := newFixture(t, 0)
	otherWeth := other.list(t, "WETH")
	otherDai := other.list(t, "DAI")
	require.NoError(t, other.auditor.Restore(snap))
	require.Equal(t, snap, other.auditor.Snapshot())
	require.Equal(t, []*market.Market{otherWeth}, other.auditor.AccountMarkets(bob))
	factor, err := other.auditor.AdjustFactor(otherDai)
	require.NoError(t, err)
	require.Equal(t, wadOf(t, "0.8"), factor)

	reordered := newFixture(t, 0)
	reordered.list(t, "DAI")
	reordered.list(t, "WETH")
	require.ErrorIs(t, reordered.auditor.Restore(snap), lending.ErrInvalidParameter)
}
