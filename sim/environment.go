// Package sim drives a protocol deployment described by config.Config with
// scripted agents, a price process per market and a liquidator.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"fixedlend/config"
	"fixedlend/core/events"
	nc "fixedlend/native/common"
	"fixedlend/native/lending/asset"
	"fixedlend/native/lending/auditor"
	"fixedlend/native/lending/market"
	"fixedlend/native/lending/oracle"
	"fixedlend/native/lending/rewards"
	"fixedlend/native/lending/txn"
	"fixedlend/native/lending/wad"
	"fixedlend/observability"
	"fixedlend/observability/metrics"
)

// feedDecimals is the precision simulated feeds answer with.
const feedDecimals = 18

// Environment is a fully wired deployment running on a manual clock.
type Environment struct {
	Config     *config.Config
	Clock      *txn.ManualClock
	Executor   *txn.Executor
	Authority  *nc.Authority
	Capability nc.Capability
	Pauses     *nc.Pauses
	Auditor    *auditor.Auditor
	Rewards    *rewards.Controller

	// Markets holds the markets in listing order.
	Markets []*market.Market
	Ledgers map[string]*asset.Ledger
	Feeds   map[string]*oracle.MockFeed

	logger  *slog.Logger
	metrics *observability.LendingMetrics
	rewards *metrics.RewardsMetrics
}

type options struct {
	logger  *slog.Logger
	emitter events.Emitter
	metrics *observability.LendingMetrics
	rewards *metrics.RewardsMetrics
}

// Option customises NewEnvironment.
type Option func(*options)

// WithLogger sets the logger every component reports to.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEmitter publishes committed protocol events to emitter.
func WithEmitter(emitter events.Emitter) Option {
	return func(o *options) { o.emitter = emitter }
}

// WithMetrics records action outcomes and market gauges in metrics.
func WithMetrics(metrics *observability.LendingMetrics) Option {
	return func(o *options) { o.metrics = metrics }
}

// WithRewardsMetrics records reward distributions and claims in m.
func WithRewardsMetrics(m *metrics.RewardsMetrics) Option {
	return func(o *options) { o.rewards = m }
}

// NewEnvironment builds the executor, auditor, markets, ledgers, feeds and
// rewards controller cfg describes. The clock starts at
// cfg.Simulation.Start and every feed answers its initial price.
func NewEnvironment(ctx context.Context, cfg *config.Config, opts ...Option) (*Environment, error) {
	if cfg == nil {
		return nil, fmt.Errorf("sim: config required")
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	params, err := cfg.Protocol.MarketParams()
	if err != nil {
		return nil, fmt.Errorf("protocol params: %w", err)
	}
	incentive, err := cfg.Protocol.Incentive()
	if err != nil {
		return nil, fmt.Errorf("liquidation incentive: %w", err)
	}

	clock := txn.NewManualClock(cfg.Simulation.Start)
	execOpts := []txn.Option{txn.WithLogger(o.logger)}
	if o.emitter != nil {
		execOpts = append(execOpts, txn.WithEmitter(o.emitter))
	}
	if o.metrics != nil {
		execOpts = append(execOpts, txn.WithMetrics(o.metrics))
	}
	exec := txn.NewExecutor(clock, execOpts...)
	auth := nc.NewAuthority("fixedlend")
	env := &Environment{
		Config:     cfg,
		Clock:      clock,
		Executor:   exec,
		Authority:  auth,
		Capability: auth.Grant(),
		Pauses:     nc.NewPauses(auth),
		Ledgers:    make(map[string]*asset.Ledger),
		Feeds:      make(map[string]*oracle.MockFeed),
		logger:     o.logger,
		metrics:    o.metrics,
		rewards:    o.rewards,
	}

	env.Auditor, err = auditor.New(auditor.Config{
		Executor:    exec,
		Authority:   auth,
		Incentive:   incentive,
		MaxPriceAge: cfg.Protocol.MaxPriceAge,
		Logger:      o.logger,
	})
	if err != nil {
		return nil, err
	}

	for _, mc := range cfg.Markets {
		if err := env.list(ctx, mc, params); err != nil {
			return nil, err
		}
	}
	if err := env.configureRewards(ctx); err != nil {
		return nil, err
	}
	return env, nil
}

func (env *Environment) list(ctx context.Context, mc config.Market, params market.Params) error {
	model, err := mc.InterestRateModel()
	if err != nil {
		return err
	}
	adjust, err := mc.AdjustFactorWad()
	if err != nil {
		return fmt.Errorf("market %s adjust factor: %w", mc.Symbol, err)
	}
	ledger := asset.NewLedger(mc.Symbol, mc.Decimals)
	env.Executor.Register(ledger)
	m, err := market.New(market.Config{
		Symbol:    mc.Symbol,
		Asset:     ledger,
		Model:     model,
		Params:    params.Clone(),
		Executor:  env.Executor,
		Authority: env.Authority,
		Pauses:    env.Pauses,
		Logger:    env.logger,
		Metrics:   env.metrics,
	})
	if err != nil {
		return err
	}
	price := decimal.NewFromFloat(mc.Price.InitialPrice).Shift(feedDecimals).Truncate(0).BigInt()
	feed := oracle.NewMockFeed(feedDecimals, price)
	feed.SetPrice(price, env.Clock.Now())
	if err := env.Auditor.EnableMarket(ctx, env.Capability, m, feed, adjust); err != nil {
		return err
	}
	env.Markets = append(env.Markets, m)
	env.Ledgers[m.Symbol()] = ledger
	env.Feeds[m.Symbol()] = feed
	return nil
}

func (env *Environment) configureRewards(ctx context.Context) error {
	if len(env.Config.Rewards) == 0 {
		return nil
	}
	tokens := make(map[string]asset.Token)
	for _, r := range env.Config.Rewards {
		if _, ok := tokens[r.Token]; ok {
			continue
		}
		ledger, ok := env.Ledgers[r.Token]
		if !ok {
			ledger = asset.NewLedger(r.Token, r.Decimals)
			env.Executor.Register(ledger)
			env.Ledgers[r.Token] = ledger
		}
		tokens[r.Token] = ledger
	}
	controller, err := rewards.New(rewards.Config{
		Executor:  env.Executor,
		Authority: env.Authority,
		Tokens:    tokens,
		Markets:   env.Markets,
		Logger:    env.logger,
		Metrics:   env.rewards,
	})
	if err != nil {
		return err
	}
	env.Rewards = controller
	for _, m := range env.Markets {
		m.AttachRewards(controller)
	}
	for _, r := range env.Config.Rewards {
		ledger := env.Ledgers[r.Token]
		total, err := config.Units(r.Total, ledger.Decimals())
		if err != nil {
			return fmt.Errorf("reward %s/%s total: %w", r.Market, r.Token, err)
		}
		allocation, err := wad.FromDecimal(r.DepositAllocation)
		if err != nil {
			return fmt.Errorf("reward %s/%s allocation: %w", r.Market, r.Token, err)
		}
		underlying, ok := env.Ledgers[strings.ToUpper(r.Market)]
		if !ok {
			return fmt.Errorf("reward %s/%s: unknown market", r.Market, r.Token)
		}
		model, err := env.Config.Allocation(r, underlying.Decimals())
		if err != nil {
			return err
		}
		if err := ledger.Mint(rewards.Vault, total); err != nil {
			return err
		}
		if err := controller.Configure(ctx, env.Capability, rewards.Distribution{
			Market:            r.Market,
			Reward:            r.Token,
			Start:             r.Start,
			Period:            r.Period,
			Total:             total,
			DepositAllocation: allocation,
			Model:             model,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Market finds a market by symbol.
func (env *Environment) Market(symbol string) (*market.Market, error) {
	m, ok := env.Auditor.Market(symbol)
	if !ok {
		return nil, fmt.Errorf("sim: unknown market %q", symbol)
	}
	return m, nil
}

// Fund mints amount of symbol's token to account.
func (env *Environment) Fund(account common.Address, symbol string, amount decimal.Decimal) (*uint256.Int, error) {
	ledger, ok := env.Ledgers[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("sim: unknown token %q", symbol)
	}
	units, err := config.Units(amount, ledger.Decimals())
	if err != nil {
		return nil, err
	}
	if err := ledger.Mint(account, units); err != nil {
		return nil, err
	}
	return units, nil
}

// PublishMetrics exports every market's gauges.
func (env *Environment) PublishMetrics() {
	for _, m := range env.Markets {
		m.PublishMetrics()
	}
}

// AccountAddress derives the account an agent acts from.
func AccountAddress(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("fixedlend.sim." + strings.ToLower(name))))
}
