package sim

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"fixedlend/config"
	"fixedlend/native/lending/fixed"
	"fixedlend/native/lending/oracle"
)

// Agent acts once per simulation step.
type Agent interface {
	Name() string
	Step(ctx context.Context, env *Environment, step int) error
}

func maxUint() *uint256.Int { return new(uint256.Int).SetAllOne() }

// PriceChanger walks a market's feed along a sampled price path.
type PriceChanger struct {
	symbol string
	path   oracle.Path
	index  int
}

// NewPriceChanger samples params for symbol. rng seeds the path when params
// carries no seed.
func NewPriceChanger(symbol string, params oracle.ProcessParams, rng *rand.Rand) (*PriceChanger, error) {
	path, err := oracle.OrnsteinUhlenbeck(params, rng)
	if err != nil {
		return nil, fmt.Errorf("price path %s: %w", symbol, err)
	}
	return &PriceChanger{symbol: symbol, path: path, index: 1}, nil
}

func (p *PriceChanger) Name() string { return "price." + p.symbol }

// Step publishes the next point of the path. The last point is kept once
// the path is exhausted.
func (p *PriceChanger) Step(_ context.Context, env *Environment, _ int) error {
	feed, ok := env.Feeds[p.symbol]
	if !ok {
		return fmt.Errorf("no feed for %s", p.symbol)
	}
	i := p.index
	if i >= p.path.Len() {
		i = p.path.Len() - 1
	} else {
		p.index++
	}
	feed.SetPrice(p.path.Wad(i, feed.Decimals()), env.Clock.Now())
	return nil
}

// Price returns the path point last published.
func (p *PriceChanger) Price() float64 {
	i := p.index - 1
	if i >= p.path.Len() {
		i = p.path.Len() - 1
	}
	return p.path.Prices[i]
}

func maturityFor(env *Environment, nth int) uint64 {
	open := fixed.OpenMaturities(env.Clock.Now(), env.Config.Protocol.FuturePools)
	return open[nth-1]
}

func due(step, every int) bool {
	return every > 0 && step%every == 0
}

// Saver deposits a fixed amount every few steps, floating or at the nth
// open maturity, and withdraws fixed deposits once they mature.
type Saver struct {
	cfg     config.Agent
	account common.Address
}

// NewSaver builds a saver from its configuration.
func NewSaver(cfg config.Agent) *Saver {
	return &Saver{cfg: cfg, account: AccountAddress(cfg.Name)}
}

func (s *Saver) Name() string            { return s.cfg.Name }
func (s *Saver) Account() common.Address { return s.account }

func (s *Saver) Step(ctx context.Context, env *Environment, step int) error {
	m, err := env.Market(s.cfg.Market)
	if err != nil {
		return err
	}
	overview, err := m.AccountOverview(s.account)
	if err != nil {
		return err
	}
	now := env.Clock.Now()
	for _, pos := range overview.FixedDeposits {
		if pos.Maturity > now {
			continue
		}
		total := new(uint256.Int).Add(pos.Principal, pos.Fee)
		if _, err := m.WithdrawAtMaturity(ctx, s.account, pos.Maturity, total, new(uint256.Int), s.account, s.account); err != nil {
			return err
		}
	}
	if !due(step, s.cfg.Every) {
		return nil
	}
	assets, err := env.Fund(s.account, m.Symbol(), s.cfg.Amount)
	if err != nil {
		return err
	}
	if s.cfg.Maturity == 0 {
		_, err = m.Deposit(ctx, s.account, assets, s.account)
		return err
	}
	_, err = m.DepositAtMaturity(ctx, s.account, maturityFor(env, s.cfg.Maturity), assets, assets, s.account)
	return err
}

// Borrower posts collateral once and then borrows a fixed amount every few
// steps, floating or at the nth open maturity. Matured fixed borrows are
// repaid before new ones are taken.
type Borrower struct {
	cfg     config.Agent
	account common.Address
	posted  bool
}

// NewBorrower builds a borrower from its configuration.
func NewBorrower(cfg config.Agent) *Borrower {
	return &Borrower{cfg: cfg, account: AccountAddress(cfg.Name)}
}

func (b *Borrower) Name() string            { return b.cfg.Name }
func (b *Borrower) Account() common.Address { return b.account }

func (b *Borrower) post(ctx context.Context, env *Environment) error {
	collateral, err := env.Market(b.cfg.Collateral)
	if err != nil {
		return err
	}
	assets, err := env.Fund(b.account, collateral.Symbol(), b.cfg.CollateralAmount)
	if err != nil {
		return err
	}
	if _, err := collateral.Deposit(ctx, b.account, assets, b.account); err != nil {
		return err
	}
	if err := env.Auditor.EnterMarket(ctx, b.account, collateral); err != nil {
		return err
	}
	b.posted = true
	return nil
}

func (b *Borrower) Step(ctx context.Context, env *Environment, step int) error {
	if !b.posted {
		if err := b.post(ctx, env); err != nil {
			return fmt.Errorf("post collateral: %w", err)
		}
	}
	m, err := env.Market(b.cfg.Market)
	if err != nil {
		return err
	}
	overview, err := m.AccountOverview(b.account)
	if err != nil {
		return err
	}
	now := env.Clock.Now()
	ledger := env.Ledgers[m.Symbol()]
	for _, pos := range overview.FixedBorrows {
		if pos.Maturity > now {
			continue
		}
		total := new(uint256.Int).Add(pos.Principal, pos.Fee)
		if err := ledger.Mint(b.account, total); err != nil {
			return err
		}
		if _, err := m.RepayAtMaturity(ctx, b.account, pos.Maturity, total, ledger.BalanceOf(b.account), b.account); err != nil {
			return err
		}
	}
	if !due(step, b.cfg.Every) {
		return nil
	}
	assets, err := amountUnits(b.cfg, m.Decimals())
	if err != nil {
		return err
	}
	if b.cfg.Maturity == 0 {
		_, err = m.Borrow(ctx, b.account, assets, b.account, b.account)
		return err
	}
	_, err = m.BorrowAtMaturity(ctx, b.account, maturityFor(env, b.cfg.Maturity), assets, maxUint(), b.account, b.account)
	return err
}

func amountUnits(cfg config.Agent, decimals uint8) (*uint256.Int, error) {
	return config.Units(cfg.Amount, decimals)
}

// NewAgent builds the scripted agent cfg describes.
func NewAgent(cfg config.Agent) (Agent, error) {
	switch cfg.Kind {
	case config.AgentSaver:
		return NewSaver(cfg), nil
	case config.AgentBorrower:
		return NewBorrower(cfg), nil
	default:
		return nil, fmt.Errorf("unknown agent kind %q", cfg.Kind)
	}
}
