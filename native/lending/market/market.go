// Package market implements one lending market: a floating pool whose
// depositors hold shares, a set of fixed-rate maturity pools backed by the
// floating pool, and the orchestration between them. Every state-changing
// operation runs as one action through txn.Executor.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	nc "fixedlend/native/common"
	"fixedlend/native/lending"
	"fixedlend/native/lending/asset"
	"fixedlend/native/lending/fixed"
	"fixedlend/native/lending/irm"
	"fixedlend/native/lending/txn"
	"fixedlend/native/lending/wad"
	"fixedlend/observability"
)

// Params are the market's governance parameters. Rates are WAD fractions;
// PenaltyRate and the damp speeds are per second.
type Params struct {
	MaxFuturePools                  uint64
	EarningsAccumulatorSmoothFactor *uint256.Int
	PenaltyRate                     *uint256.Int
	BackupFeeRate                   *uint256.Int
	ReserveFactor                   *uint256.Int
	TreasuryFeeRate                 *uint256.Int
	DampSpeedUp                     *uint256.Int
	DampSpeedDown                   *uint256.Int
	Treasury                        common.Address
}

// Clone returns a deep copy of the parameters.
func (p Params) Clone() Params {
	return Params{
		MaxFuturePools:                  p.MaxFuturePools,
		EarningsAccumulatorSmoothFactor: wad.Clone(p.EarningsAccumulatorSmoothFactor),
		PenaltyRate:                     wad.Clone(p.PenaltyRate),
		BackupFeeRate:                   wad.Clone(p.BackupFeeRate),
		ReserveFactor:                   wad.Clone(p.ReserveFactor),
		TreasuryFeeRate:                 wad.Clone(p.TreasuryFeeRate),
		DampSpeedUp:                     wad.Clone(p.DampSpeedUp),
		DampSpeedDown:                   wad.Clone(p.DampSpeedDown),
		Treasury:                        p.Treasury,
	}
}

// Validate checks the parameters are within their domains.
func (p Params) Validate() error {
	if p.MaxFuturePools == 0 || p.MaxFuturePools > 224 {
		return fmt.Errorf("max future pools %d: %w", p.MaxFuturePools, lending.ErrInvalidParameter)
	}
	fractions := map[string]*uint256.Int{
		"backup fee rate":   p.BackupFeeRate,
		"reserve factor":    p.ReserveFactor,
		"treasury fee rate": p.TreasuryFeeRate,
	}
	for name, v := range fractions {
		if v == nil || v.Gt(wad.One()) {
			return fmt.Errorf("%s must be within [0, 1]: %w", name, lending.ErrInvalidParameter)
		}
	}
	if p.ReserveFactor.Eq(wad.One()) {
		return fmt.Errorf("reserve factor must be below 1: %w", lending.ErrInvalidParameter)
	}
	if p.EarningsAccumulatorSmoothFactor == nil || p.PenaltyRate == nil || p.DampSpeedUp == nil || p.DampSpeedDown == nil {
		return fmt.Errorf("missing market parameter: %w", lending.ErrInvalidParameter)
	}
	return nil
}

// Account is the per-account bookkeeping of a market besides positions and
// share balances.
type Account struct {
	FixedDeposits        fixed.MaturitySet
	FixedBorrows         fixed.MaturitySet
	FloatingBorrowShares *uint256.Int
}

func (a *Account) clone() *Account {
	return &Account{
		FixedDeposits:        a.FixedDeposits,
		FixedBorrows:         a.FixedBorrows,
		FloatingBorrowShares: wad.Clone(a.FloatingBorrowShares),
	}
}

type state struct {
	params Params
	model  irm.Model

	totalSupply *uint256.Int
	shares      map[common.Address]*uint256.Int

	floatingAssets            *uint256.Int
	floatingDebt              *uint256.Int
	totalFloatingBorrowShares *uint256.Int
	floatingBackupBorrowed    *uint256.Int
	earningsAccumulator       *uint256.Int
	floatingAssetsAverage     *uint256.Int
	lastFloatingDebtUpdate    uint64
	lastAccumulatorAccrual    uint64
	lastAverageUpdate         uint64

	pools            map[uint64]*fixed.Pool
	depositPositions map[uint64]map[common.Address]fixed.Position
	borrowPositions  map[uint64]map[common.Address]fixed.Position
	accounts         map[common.Address]*Account
}

func newState(params Params, model irm.Model) *state {
	return &state{
		params:                    params.Clone(),
		model:                     model,
		totalSupply:               new(uint256.Int),
		shares:                    make(map[common.Address]*uint256.Int),
		floatingAssets:            new(uint256.Int),
		floatingDebt:              new(uint256.Int),
		totalFloatingBorrowShares: new(uint256.Int),
		floatingBackupBorrowed:    new(uint256.Int),
		earningsAccumulator:       new(uint256.Int),
		floatingAssetsAverage:     new(uint256.Int),
		pools:                     make(map[uint64]*fixed.Pool),
		depositPositions:          make(map[uint64]map[common.Address]fixed.Position),
		borrowPositions:           make(map[uint64]map[common.Address]fixed.Position),
		accounts:                  make(map[common.Address]*Account),
	}
}

func clonePositions(src map[uint64]map[common.Address]fixed.Position) map[uint64]map[common.Address]fixed.Position {
	out := make(map[uint64]map[common.Address]fixed.Position, len(src))
	for maturity, byAccount := range src {
		inner := make(map[common.Address]fixed.Position, len(byAccount))
		for account, pos := range byAccount {
			inner[account] = pos.Clone()
		}
		out[maturity] = inner
	}
	return out
}

func (s *state) clone() *state {
	c := &state{
		params:                    s.params.Clone(),
		model:                     s.model,
		totalSupply:               wad.Clone(s.totalSupply),
		shares:                    make(map[common.Address]*uint256.Int, len(s.shares)),
		floatingAssets:            wad.Clone(s.floatingAssets),
		floatingDebt:              wad.Clone(s.floatingDebt),
		totalFloatingBorrowShares: wad.Clone(s.totalFloatingBorrowShares),
		floatingBackupBorrowed:    wad.Clone(s.floatingBackupBorrowed),
		earningsAccumulator:       wad.Clone(s.earningsAccumulator),
		floatingAssetsAverage:     wad.Clone(s.floatingAssetsAverage),
		lastFloatingDebtUpdate:    s.lastFloatingDebtUpdate,
		lastAccumulatorAccrual:    s.lastAccumulatorAccrual,
		lastAverageUpdate:         s.lastAverageUpdate,
		pools:                     make(map[uint64]*fixed.Pool, len(s.pools)),
		depositPositions:          clonePositions(s.depositPositions),
		borrowPositions:           clonePositions(s.borrowPositions),
		accounts:                  make(map[common.Address]*Account, len(s.accounts)),
	}
	for k, v := range s.shares {
		c.shares[k] = wad.Clone(v)
	}
	for k, v := range s.pools {
		c.pools[k] = v.Clone()
	}
	for k, v := range s.accounts {
		c.accounts[k] = v.clone()
	}
	return c
}

// Config wires a market to its collaborators.
type Config struct {
	Symbol    string
	Asset     asset.Token
	Model     irm.Model
	Params    Params
	Executor  *txn.Executor
	Authority *nc.Authority
	Pauses    nc.PauseView
	Logger    *slog.Logger
	Metrics   *observability.LendingMetrics
}

// Market is one listed asset.
type Market struct {
	symbol    string
	address   common.Address
	asset     asset.Token
	exec      *txn.Executor
	authority *nc.Authority
	pauses    nc.PauseView
	logger    *slog.Logger
	metrics   *observability.LendingMetrics

	auditor Auditor
	rewards RewardsHook

	st *state
}

// Address derives the deterministic account a market holds its funds in.
func Address(symbol string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("fixedlend.market." + strings.ToUpper(symbol))))
}

// New builds a market and registers it with the executor.
func New(cfg Config) (*Market, error) {
	symbol := strings.ToUpper(strings.TrimSpace(cfg.Symbol))
	if symbol == "" {
		return nil, fmt.Errorf("market symbol required: %w", lending.ErrInvalidParameter)
	}
	if cfg.Asset == nil || cfg.Model == nil || cfg.Executor == nil || cfg.Authority == nil {
		return nil, fmt.Errorf("market %s missing collaborator: %w", symbol, lending.ErrInvalidParameter)
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("market %s: %w", symbol, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Market{
		symbol:    symbol,
		address:   Address(symbol),
		asset:     cfg.Asset,
		exec:      cfg.Executor,
		authority: cfg.Authority,
		pauses:    cfg.Pauses,
		logger:    logger.With("market", symbol),
		metrics:   cfg.Metrics,
		st:        newState(cfg.Params, cfg.Model),
	}
	now := cfg.Executor.Clock().Now()
	m.st.lastFloatingDebtUpdate = now
	m.st.lastAccumulatorAccrual = now
	m.st.lastAverageUpdate = now
	cfg.Executor.Register(m)
	return m, nil
}

// Checkpoint implements txn.Journaled.
func (m *Market) Checkpoint() func() {
	saved := m.st.clone()
	return func() { m.st = saved }
}

func (m *Market) Symbol() string           { return m.symbol }
func (m *Market) Address() common.Address  { return m.address }
func (m *Market) Asset() asset.Token       { return m.asset }
func (m *Market) Decimals() uint8          { return m.asset.Decimals() }
func (m *Market) Executor() *txn.Executor  { return m.exec }
func (m *Market) Params() Params           { return m.st.params.Clone() }
func (m *Market) InterestModel() irm.Model { return m.st.model }

// AttachAuditor sets the risk checker every borrow, withdrawal and
// liquidation consults. It must be set before the market is used.
func (m *Market) AttachAuditor(a Auditor) { m.auditor = a }

// AttachRewards sets the incentive hook notified after balance changes.
func (m *Market) AttachRewards(r RewardsHook) { m.rewards = r }

func (m *Market) guard(action string) error {
	if err := nc.Guard(m.pauses, "market."+strings.ToLower(m.symbol)); err != nil {
		return fmt.Errorf("%s %s: %w", m.symbol, action, err)
	}
	return nil
}

func (m *Market) run(ctx context.Context, action string, fn func(ctx context.Context, tx *txn.Tx) error) error {
	return m.exec.Run(ctx, "market."+action, func(ctx context.Context, tx *txn.Tx) error {
		if m.auditor == nil {
			return fmt.Errorf("market %s has no auditor: %w", m.symbol, lending.ErrMarketNotListed)
		}
		return fn(ctx, tx)
	})
}

func authorize(caller, owner common.Address) error {
	if caller != owner {
		return fmt.Errorf("caller %s acting for %s: %w", caller.Hex(), owner.Hex(), lending.ErrUnauthorized)
	}
	return nil
}

func (m *Market) account(addr common.Address) *Account {
	acc, ok := m.st.accounts[addr]
	if !ok {
		acc = &Account{FloatingBorrowShares: new(uint256.Int)}
		m.st.accounts[addr] = acc
	}
	return acc
}

func (m *Market) pool(maturity uint64) *fixed.Pool {
	p, ok := m.st.pools[maturity]
	if !ok {
		p = fixed.NewPool()
		m.st.pools[maturity] = p
	}
	return p
}

func position(book map[uint64]map[common.Address]fixed.Position, maturity uint64, account common.Address) fixed.Position {
	if byAccount, ok := book[maturity]; ok {
		if pos, ok := byAccount[account]; ok {
			return pos.Clone()
		}
	}
	return fixed.NewPosition(nil, nil)
}

func storePosition(book map[uint64]map[common.Address]fixed.Position, maturity uint64, account common.Address, pos fixed.Position) {
	if pos.IsZero() {
		if byAccount, ok := book[maturity]; ok {
			delete(byAccount, account)
			if len(byAccount) == 0 {
				delete(book, maturity)
			}
		}
		return
	}
	byAccount, ok := book[maturity]
	if !ok {
		byAccount = make(map[common.Address]fixed.Position)
		book[maturity] = byAccount
	}
	byAccount[account] = pos
}

func (m *Market) balanceOf(addr common.Address) *uint256.Int {
	return wad.Clone(m.st.shares[addr])
}

func (m *Market) mint(to common.Address, shares *uint256.Int) {
	m.st.totalSupply = wad.Add(m.st.totalSupply, shares)
	m.st.shares[to] = wad.Add(m.balanceOf(to), shares)
}

func (m *Market) burn(from common.Address, shares *uint256.Int) error {
	balance := m.balanceOf(from)
	if balance.Lt(shares) {
		return fmt.Errorf("%s shares %s below %s: %w", m.symbol, balance, shares, lending.ErrInsufficientBalance)
	}
	m.st.shares[from] = wad.Sub(balance, shares)
	if m.st.shares[from].IsZero() {
		delete(m.st.shares, from)
	}
	m.st.totalSupply = wad.Sub(m.st.totalSupply, shares)
	return nil
}

func (m *Market) pull(ctx context.Context, from common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := m.asset.Transfer(ctx, from, m.address, amount); err != nil {
		return fmt.Errorf("%s pull: %w", m.symbol, err)
	}
	return nil
}

func (m *Market) push(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := m.asset.Transfer(ctx, m.address, to, amount); err != nil {
		return fmt.Errorf("%s push: %w", m.symbol, err)
	}
	return nil
}

// PublishMetrics exports the floating pool gauges. Callers must not hold an
// action open.
func (m *Market) PublishMetrics() {
	if m.metrics == nil {
		return
	}
	_ = m.exec.View(func(uint64) error {
		st := m.st
		m.metrics.RecordMarket(m.symbol, observability.MarketState{
			FloatingAssets:      wad.Float(st.floatingAssets),
			FloatingDebt:        wad.Float(st.floatingDebt),
			BackupBorrowed:      wad.Float(st.floatingBackupBorrowed),
			EarningsAccumulator: wad.Float(st.earningsAccumulator),
			Utilization:         wad.Float(irm.FloatingUtilization(st.floatingAssets, st.floatingDebt)),
		})
		return nil
	})
}
