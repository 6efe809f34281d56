// Package rewards distributes incentive tokens to depositors and borrowers
// of each market, pro rata to their balances over time.
package rewards

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"fixedlend/core/events"
	nc "fixedlend/native/common"
	"fixedlend/native/lending"
	"fixedlend/native/lending/asset"
	"fixedlend/native/lending/market"
	"fixedlend/native/lending/txn"
	"fixedlend/native/lending/wad"
	"fixedlend/observability/metrics"
)

// Vault is the account reward tokens are paid from. Operators fund it by
// minting or transferring reward tokens to it.
var Vault = common.BytesToAddress(crypto.Keccak256([]byte("fixedlend.rewards.vault")))

// Distribution releases Total of a reward token over Period seconds from
// Start. Without a Model the release is linear and DepositAllocation of it
// goes to the market's depositors, the rest to its borrowers. With a Model
// the release and the split follow the market's debt and utilization.
type Distribution struct {
	Market            string
	Reward            string
	Start             uint64
	Period            uint64
	Total             *uint256.Int
	DepositAllocation *uint256.Int
	Model             *Allocation
}

func (d Distribution) clone() Distribution {
	d.Total = wad.Clone(d.Total)
	d.DepositAllocation = wad.Clone(d.DepositAllocation)
	d.Model = d.Model.clone()
	return d
}

func (d Distribution) validate() error {
	if d.Market == "" || d.Reward == "" {
		return fmt.Errorf("distribution needs market and reward: %w", lending.ErrInvalidParameter)
	}
	if d.Period == 0 || d.Total == nil {
		return fmt.Errorf("distribution %s/%s: %w", d.Market, d.Reward, lending.ErrInvalidParameter)
	}
	if d.Model != nil {
		if err := d.Model.validate(); err != nil {
			return fmt.Errorf("distribution %s/%s: %w", d.Market, d.Reward, err)
		}
		return nil
	}
	if d.DepositAllocation == nil || d.DepositAllocation.Gt(wad.One()) {
		return fmt.Errorf("distribution %s/%s deposit allocation: %w", d.Market, d.Reward, lending.ErrInvalidParameter)
	}
	return nil
}

type distKey struct{ market, reward string }

type sideKey struct {
	market string
	op     market.Operation
}

type balanceKey struct {
	side    sideKey
	account common.Address
}

type indexKey struct {
	dist    distKey
	op      market.Operation
	account common.Address
}

type accruedKey struct {
	reward  string
	account common.Address
}

type distribution struct {
	cfg           Distribution
	lastUpdate    uint64
	depositIndex  *uint256.Int
	borrowIndex   *uint256.Int
	undistributed *uint256.Int
}

func (d *distribution) index(op market.Operation) *uint256.Int {
	if op == market.OperationBorrow {
		return d.borrowIndex
	}
	return d.depositIndex
}

type state struct {
	dists        map[distKey]*distribution
	balances     map[balanceKey]*uint256.Int
	totals       map[sideKey]*uint256.Int
	accountIndex map[indexKey]*uint256.Int
	accrued      map[accruedKey]*uint256.Int
}

func newState() *state {
	return &state{
		dists:        make(map[distKey]*distribution),
		balances:     make(map[balanceKey]*uint256.Int),
		totals:       make(map[sideKey]*uint256.Int),
		accountIndex: make(map[indexKey]*uint256.Int),
		accrued:      make(map[accruedKey]*uint256.Int),
	}
}

func cloneMap[K comparable](src map[K]*uint256.Int) map[K]*uint256.Int {
	out := make(map[K]*uint256.Int, len(src))
	for k, v := range src {
		out[k] = wad.Clone(v)
	}
	return out
}

func (s *state) clone() *state {
	c := &state{
		dists:        make(map[distKey]*distribution, len(s.dists)),
		balances:     cloneMap(s.balances),
		totals:       cloneMap(s.totals),
		accountIndex: cloneMap(s.accountIndex),
		accrued:      cloneMap(s.accrued),
	}
	for k, d := range s.dists {
		c.dists[k] = &distribution{
			cfg:           d.cfg.clone(),
			lastUpdate:    d.lastUpdate,
			depositIndex:  wad.Clone(d.depositIndex),
			borrowIndex:   wad.Clone(d.borrowIndex),
			undistributed: wad.Clone(d.undistributed),
		}
	}
	return c
}

// Config wires a controller.
type Config struct {
	Executor  *txn.Executor
	Authority *nc.Authority
	// Tokens maps reward symbols to the tokens paid out.
	Tokens map[string]asset.Token
	// Markets feed the utilization-driven allocation. Markets notifying the
	// controller are added on their first action.
	Markets []*market.Market
	Logger  *slog.Logger
	Metrics *metrics.RewardsMetrics
}

// Controller implements market.RewardsHook.
type Controller struct {
	exec      *txn.Executor
	authority *nc.Authority
	tokens    map[string]asset.Token
	markets   map[string]*market.Market
	logger    *slog.Logger
	metrics   *metrics.RewardsMetrics

	st *state
}

// New builds a controller and registers it with the executor.
func New(cfg Config) (*Controller, error) {
	if cfg.Executor == nil || cfg.Authority == nil {
		return nil, fmt.Errorf("rewards controller missing collaborator: %w", lending.ErrInvalidParameter)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tokens := make(map[string]asset.Token, len(cfg.Tokens))
	for symbol, token := range cfg.Tokens {
		tokens[strings.ToUpper(symbol)] = token
		cfg.Metrics.InitReward(strings.ToUpper(symbol))
	}
	markets := make(map[string]*market.Market, len(cfg.Markets))
	for _, m := range cfg.Markets {
		markets[m.Symbol()] = m
	}
	c := &Controller{
		exec:      cfg.Executor,
		authority: cfg.Authority,
		tokens:    tokens,
		markets:   markets,
		logger:    logger.With("component", "rewards"),
		metrics:   cfg.Metrics,
		st:        newState(),
	}
	cfg.Executor.Register(c)
	return c, nil
}

// Checkpoint implements txn.Journaled.
func (c *Controller) Checkpoint() func() {
	saved := c.st.clone()
	return func() { c.st = saved }
}

// Configure installs or replaces a distribution. Rewards released under the
// previous configuration are booked first.
func (c *Controller) Configure(ctx context.Context, cap nc.Capability, d Distribution) error {
	if err := c.authority.Verify(cap); err != nil {
		return fmt.Errorf("configure rewards: %w", err)
	}
	d.Market = strings.ToUpper(d.Market)
	d.Reward = strings.ToUpper(d.Reward)
	if err := d.validate(); err != nil {
		return err
	}
	if _, ok := c.tokens[d.Reward]; !ok {
		return fmt.Errorf("unknown reward %s: %w", d.Reward, lending.ErrInvalidParameter)
	}
	err := c.exec.Run(ctx, "rewards.configure", func(_ context.Context, tx *txn.Tx) error {
		key := distKey{market: d.Market, reward: d.Reward}
		if d.Model != nil {
			if _, ok := c.markets[d.Market]; !ok {
				return fmt.Errorf("distribution %s/%s: %w", d.Market, d.Reward, lending.ErrMarketNotListed)
			}
		}
		dist, ok := c.st.dists[key]
		if ok {
			if err := c.updateIndexes(dist, tx.Now()); err != nil {
				return err
			}
		} else {
			dist = &distribution{lastUpdate: tx.Now(), depositIndex: new(uint256.Int), borrowIndex: new(uint256.Int), undistributed: new(uint256.Int)}
			c.st.dists[key] = dist
		}
		dist.cfg = d.clone()
		tx.Emit(events.ParameterUpdated{Market: d.Market, Name: "rewards." + strings.ToLower(d.Reward), Value: wad.Format(d.Total)})
		return nil
	})
	if err != nil {
		return err
	}
	c.metrics.SetDistribution(d.Market, d.Reward, c.whole(d.Reward, d.Total))
	return nil
}

func (c *Controller) whole(reward string, amount *uint256.Int) float64 {
	token, ok := c.tokens[reward]
	if !ok {
		return 0
	}
	return decimal.NewFromBigInt(amount.ToBig(), -int32(token.Decimals())).InexactFloat64()
}

// linear returns what cfg emits between from and to at a constant rate.
func linear(cfg Distribution, from, to uint64) *uint256.Int {
	end := cfg.Start + cfg.Period
	if from < cfg.Start {
		from = cfg.Start
	}
	if to > end {
		to = end
	}
	if to <= from {
		return new(uint256.Int)
	}
	return wad.MulDivDown(cfg.Total, uint256.NewInt(to-from), uint256.NewInt(cfg.Period))
}

func (c *Controller) total(symbol string, op market.Operation) *uint256.Int {
	return wad.Clone(c.st.totals[sideKey{market: symbol, op: op}])
}

// pending is a distribution advanced to some time without being booked.
type pending struct {
	deposit, borrow, undistributed *uint256.Int
}

// pendingIndexes returns dist's indexes and undistributed balance as of
// now without booking them.
func (c *Controller) pendingIndexes(dist *distribution, now uint64) (pending, error) {
	out := pending{deposit: wad.Clone(dist.depositIndex), borrow: wad.Clone(dist.borrowIndex), undistributed: wad.Clone(dist.undistributed)}
	if now <= dist.lastUpdate {
		return out, nil
	}
	cfg := dist.cfg
	var inputs market.RewardInputs
	depositAllocation := cfg.DepositAllocation
	if cfg.Model != nil {
		m, ok := c.markets[cfg.Market]
		if !ok {
			return pending{}, fmt.Errorf("rewards for %s: %w", cfg.Market, lending.ErrMarketNotListed)
		}
		inputs = m.RewardInputs()
		var err error
		if depositAllocation, err = cfg.Model.depositShare(inputs); err != nil {
			return pending{}, fmt.Errorf("rewards for %s allocation: %w", cfg.Market, err)
		}
	}
	emitted, held, err := emission(cfg, dist.lastUpdate, now, dist.undistributed, inputs)
	if err != nil {
		return pending{}, fmt.Errorf("rewards for %s emission: %w", cfg.Market, err)
	}
	out.undistributed = held
	if emitted.IsZero() {
		return out, nil
	}
	depositShare := wad.MulWadDown(emitted, depositAllocation)
	borrowShare := wad.Sub(emitted, depositShare)
	if total := c.total(cfg.Market, market.OperationDeposit); !total.IsZero() {
		out.deposit = wad.Add(out.deposit, wad.MulDivDown(depositShare, wad.One(), total))
	}
	if total := c.total(cfg.Market, market.OperationBorrow); !total.IsZero() {
		out.borrow = wad.Add(out.borrow, wad.MulDivDown(borrowShare, wad.One(), total))
	}
	return out, nil
}

func (c *Controller) updateIndexes(dist *distribution, now uint64) error {
	if now <= dist.lastUpdate {
		return nil
	}
	p, err := c.pendingIndexes(dist, now)
	if err != nil {
		return err
	}
	dist.depositIndex, dist.borrowIndex, dist.undistributed = p.deposit, p.borrow, p.undistributed
	dist.lastUpdate = now
	return nil
}

// pendingAccrual is what account earned on one side of dist since its
// last checkpoint, given the side's current index.
func (c *Controller) pendingAccrual(key distKey, op market.Operation, account common.Address, index *uint256.Int) *uint256.Int {
	balance := c.st.balances[balanceKey{side: sideKey{market: key.market, op: op}, account: account}]
	if balance == nil || balance.IsZero() {
		return new(uint256.Int)
	}
	last := wad.Clone(c.st.accountIndex[indexKey{dist: key, op: op, account: account}])
	return wad.MulDivDown(balance, wad.SaturatingSub(index, last), wad.One())
}

func (c *Controller) accrueAccount(key distKey, dist *distribution, op market.Operation, account common.Address) {
	index := dist.index(op)
	earned := c.pendingAccrual(key, op, account, index)
	if !earned.IsZero() {
		ak := accruedKey{reward: key.reward, account: account}
		c.st.accrued[ak] = wad.Add(wad.Clone(c.st.accrued[ak]), earned)
	}
	c.st.accountIndex[indexKey{dist: key, op: op, account: account}] = wad.Clone(index)
}

func (c *Controller) marketDists(symbol string) []distKey {
	var keys []distKey
	for key := range c.st.dists {
		if key.market == symbol {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].reward < keys[j].reward })
	return keys
}

// HandleAction implements market.RewardsHook. Indexes advance with the
// totals stored at the previous action, the account is credited for its
// previous balance, then the new balance and totals are stored.
func (c *Controller) HandleAction(ctx context.Context, m *market.Market, account common.Address, op market.Operation, newBalance *uint256.Int) {
	now := c.exec.Clock().Now()
	if tx := txn.FromContext(ctx); tx != nil {
		now = tx.Now()
	}
	symbol := m.Symbol()
	if _, ok := c.markets[symbol]; !ok {
		c.markets[symbol] = m
	}
	for _, key := range c.marketDists(symbol) {
		dist := c.st.dists[key]
		if err := c.updateIndexes(dist, now); err != nil {
			c.logger.Warn("reward index not advanced", "market", symbol, "reward", key.reward, "error", err)
		}
		c.accrueAccount(key, dist, op, account)
	}
	c.st.balances[balanceKey{side: sideKey{market: symbol, op: op}, account: account}] = wad.Clone(newBalance)
	deposits, borrows := m.RewardTotals()
	c.st.totals[sideKey{market: symbol, op: market.OperationDeposit}] = deposits
	c.st.totals[sideKey{market: symbol, op: market.OperationBorrow}] = borrows
}

// Claimable returns what account could claim now, per reward symbol.
func (c *Controller) Claimable(account common.Address) map[string]*uint256.Int {
	out := make(map[string]*uint256.Int)
	_ = c.exec.View(func(now uint64) error {
		for key, dist := range c.st.dists {
			p, err := c.pendingIndexes(dist, now)
			if err != nil {
				c.logger.Warn("pending rewards unavailable", "market", key.market, "reward", key.reward, "error", err)
				p = pending{deposit: dist.depositIndex, borrow: dist.borrowIndex}
			}
			earned := wad.Add(
				c.pendingAccrual(key, market.OperationDeposit, account, p.deposit),
				c.pendingAccrual(key, market.OperationBorrow, account, p.borrow),
			)
			out[key.reward] = wad.Add(wad.Clone(out[key.reward]), earned)
		}
		for key, amount := range c.st.accrued {
			if key.account == account {
				out[key.reward] = wad.Add(wad.Clone(out[key.reward]), amount)
			}
		}
		return nil
	})
	return out
}

// Claim pays every reward account earned to to and returns the amounts.
func (c *Controller) Claim(ctx context.Context, account, to common.Address) (map[string]*uint256.Int, error) {
	paid := make(map[string]*uint256.Int)
	err := c.exec.Run(ctx, "rewards.claim", func(ctx context.Context, tx *txn.Tx) error {
		now := tx.Now()
		keys := make([]distKey, 0, len(c.st.dists))
		for key := range c.st.dists {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i].market != keys[j].market {
				return keys[i].market < keys[j].market
			}
			return keys[i].reward < keys[j].reward
		})
		for _, key := range keys {
			dist := c.st.dists[key]
			if err := c.updateIndexes(dist, now); err != nil {
				return err
			}
			c.accrueAccount(key, dist, market.OperationDeposit, account)
			c.accrueAccount(key, dist, market.OperationBorrow, account)
			tx.Emit(events.RewardIndexUpdate{Market: key.market, Reward: key.reward, BorrowIndex: wad.Clone(dist.borrowIndex), DepositIndex: wad.Clone(dist.depositIndex), Timestamp: now})
		}
		rewardsOwed := make([]string, 0)
		for key := range c.st.accrued {
			if key.account == account {
				rewardsOwed = append(rewardsOwed, key.reward)
			}
		}
		sort.Strings(rewardsOwed)
		for _, reward := range rewardsOwed {
			key := accruedKey{reward: reward, account: account}
			amount := c.st.accrued[key]
			delete(c.st.accrued, key)
			if amount.IsZero() {
				continue
			}
			token, ok := c.tokens[reward]
			if !ok {
				return fmt.Errorf("unknown reward %s: %w", reward, lending.ErrInvalidParameter)
			}
			if err := token.Transfer(ctx, Vault, to, amount); err != nil {
				return fmt.Errorf("pay %s reward: %w", reward, err)
			}
			paid[reward] = wad.Clone(amount)
			tx.Emit(events.RewardClaimed{Account: account, Reward: reward, To: to, Amount: wad.Clone(amount)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(paid) > 0 {
		c.logger.Info("rewards claimed", "account", account.Hex(), "rewards", len(paid))
	}
	for reward, amount := range paid {
		c.metrics.ObserveClaim(reward, c.whole(reward, amount))
	}
	return paid, nil
}

// Distributions lists the configured distributions.
func (c *Controller) Distributions() []Distribution {
	var out []Distribution
	_ = c.exec.View(func(uint64) error {
		for _, d := range c.st.dists {
			out = append(out, d.cfg.clone())
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Market != out[j].Market {
			return out[i].Market < out[j].Market
		}
		return out[i].Reward < out[j].Reward
	})
	return out
}

// Undistributed returns the emissions a distribution holds back, as of its
// last update.
func (c *Controller) Undistributed(symbol, reward string) *uint256.Int {
	out := new(uint256.Int)
	_ = c.exec.View(func(uint64) error {
		if dist, ok := c.st.dists[distKey{market: strings.ToUpper(symbol), reward: strings.ToUpper(reward)}]; ok {
			out = wad.Clone(dist.undistributed)
		}
		return nil
	})
	return out
}
