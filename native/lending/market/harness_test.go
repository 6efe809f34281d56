package market_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"fixedlend/core/events"
	nc "fixedlend/native/common"
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
	lp       = common.HexToAddress("0x1000000000000000000000000000000000000001")
	bob      = common.HexToAddress("0x2000000000000000000000000000000000000002")
	carol    = common.HexToAddress("0x3000000000000000000000000000000000000003")
	keeper   = common.HexToAddress("0x4000000000000000000000000000000000000004")
	treasury = common.HexToAddress("0x5000000000000000000000000000000000000005")
)

// start sits at an interval boundary so the next maturity is one interval
// away.
const start = 100 * fixed.Interval

// flatModel charges constant rates. fixedRate is already time scaled.
type flatModel struct {
	fixedRate    *uint256.Int
	floatingRate *uint256.Int
}

func (f flatModel) FloatingRate(irm.Utilization) (*uint256.Int, error) {
	return wad.Clone(f.floatingRate), nil
}

func (f flatModel) FixedRate(uint64, uint64, uint64, irm.Utilization) (*uint256.Int, error) {
	return wad.Clone(f.fixedRate), nil
}

func units(v uint64) *uint256.Int { return wad.Units(v) }

func mustWad(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := wad.Parse(s)
	require.NoError(t, err)
	return v
}

func maxUint() *uint256.Int { return new(uint256.Int).SetAllOne() }

type env struct {
	t        *testing.T
	ctx      context.Context
	clock    *txn.ManualClock
	exec     *txn.Executor
	events   *events.Recorder
	auth     *nc.Authority
	cap      nc.Capability
	pauses   *nc.Pauses
	auditor  *auditor.Auditor
	markets  map[string]*market.Market
	ledgers  map[string]*asset.Ledger
	feeds    map[string]*oracle.MockFeed
	maturity uint64
}

func defaultParams(t *testing.T) market.Params {
	return market.Params{
		MaxFuturePools:                  3,
		EarningsAccumulatorSmoothFactor: wad.One(),
		PenaltyRate:                     mustWad(t, "0.000001"),
		BackupFeeRate:                   mustWad(t, "0.1"),
		ReserveFactor:                   new(uint256.Int),
		TreasuryFeeRate:                 new(uint256.Int),
		DampSpeedUp:                     mustWad(t, "0.0046"),
		DampSpeedDown:                   mustWad(t, "0.42"),
		Treasury:                        treasury,
	}
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := txn.NewManualClock(start)
	rec := &events.Recorder{}
	exec := txn.NewExecutor(clock, txn.WithEmitter(rec))
	auth := nc.NewAuthority("test")
	a, err := auditor.New(auditor.Config{
		Executor:  exec,
		Authority: auth,
		Incentive: auditor.Incentive{Liquidator: mustWad(t, "0.09"), Lenders: mustWad(t, "0.01")},
	})
	require.NoError(t, err)
	return &env{
		t:        t,
		ctx:      context.Background(),
		clock:    clock,
		exec:     exec,
		events:   rec,
		auth:     auth,
		cap:      auth.Grant(),
		pauses:   nc.NewPauses(auth),
		auditor:  a,
		markets:  make(map[string]*market.Market),
		ledgers:  make(map[string]*asset.Ledger),
		feeds:    make(map[string]*oracle.MockFeed),
		maturity: start + fixed.Interval,
	}
}

// list creates and lists a market whose asset is priced at one base unit.
func (e *env) list(symbol string, params market.Params, model irm.Model) *market.Market {
	e.t.Helper()
	ledger := asset.NewLedger(symbol, 18)
	m, err := market.New(market.Config{
		Symbol:    symbol,
		Asset:     ledger,
		Model:     model,
		Params:    params,
		Executor:  e.exec,
		Authority: e.auth,
		Pauses:    e.pauses,
	})
	require.NoError(e.t, err)
	e.exec.Register(ledger)
	feed := oracle.NewMockFeed(18, new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	require.NoError(e.t, e.auditor.EnableMarket(e.ctx, e.cap, m, feed, mustWad(e.t, "0.9")))
	e.markets[symbol] = m
	e.ledgers[symbol] = ledger
	e.feeds[symbol] = feed
	return m
}

func (e *env) fund(symbol string, account common.Address, amount *uint256.Int) {
	e.t.Helper()
	require.NoError(e.t, e.ledgers[symbol].Mint(account, amount))
}

func (e *env) balance(symbol string, account common.Address) *uint256.Int {
	return e.ledgers[symbol].BalanceOf(account)
}

func (e *env) setPrice(symbol, price string) {
	e.t.Helper()
	v, err := wad.Parse(price)
	require.NoError(e.t, err)
	e.feeds[symbol].SetPrice(v.ToBig(), e.clock.Now())
}

func fivePercent(t *testing.T) irm.Model {
	return flatModel{fixedRate: mustWad(t, "0.05"), floatingRate: new(uint256.Int)}
}
