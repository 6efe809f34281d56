// Package auditor enforces cross-market solvency: it values every account's
// collateral and debt across the markets it entered, gates borrows and
// withdrawals, sizes liquidations and triggers bad debt clearing.
package auditor

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"fixedlend/core/events"
	nc "fixedlend/native/common"
	"fixedlend/native/lending"
	"fixedlend/native/lending/market"
	"fixedlend/native/lending/oracle"
	"fixedlend/native/lending/txn"
	"fixedlend/native/lending/wad"
)

// TargetHealth is the health factor a liquidation restores an account to
// when collateral allows.
var TargetHealth = uint256.NewInt(1_250_000_000_000_000_000)

// maxMarkets bounds listings so account membership fits one bitmap.
const maxMarkets = 256

// Incentive is the liquidation bonus, as WAD fractions of the repaid
// amount, paid to the liquidator and to the repaid market's lenders.
type Incentive struct {
	Liquidator *uint256.Int
	Lenders    *uint256.Int
}

func (i Incentive) clone() Incentive {
	return Incentive{Liquidator: wad.Clone(i.Liquidator), Lenders: wad.Clone(i.Lenders)}
}

func (i Incentive) validate() error {
	if i.Liquidator == nil || i.Lenders == nil || wad.Add(i.Liquidator, i.Lenders).Gt(wad.One()) {
		return fmt.Errorf("liquidation incentive: %w", lending.ErrInvalidParameter)
	}
	return nil
}

type listing struct {
	market       *market.Market
	feed         oracle.Feed
	adjustFactor *uint256.Int
	decimals     uint8
	index        int
}

type state struct {
	incentive      Incentive
	listings       []*listing
	accountMarkets map[common.Address]uint256.Int
}

func (s *state) clone() *state {
	c := &state{
		incentive:      s.incentive.clone(),
		listings:       make([]*listing, len(s.listings)),
		accountMarkets: make(map[common.Address]uint256.Int, len(s.accountMarkets)),
	}
	for i, l := range s.listings {
		cp := *l
		cp.adjustFactor = wad.Clone(l.adjustFactor)
		c.listings[i] = &cp
	}
	for k, v := range s.accountMarkets {
		c.accountMarkets[k] = v
	}
	return c
}

// Config wires an auditor.
type Config struct {
	Executor  *txn.Executor
	Authority *nc.Authority
	Incentive Incentive
	// MaxPriceAge rejects prices older than this many seconds. Zero
	// disables the check.
	MaxPriceAge uint64
	Logger      *slog.Logger
}

// Auditor is shared by every market of a deployment.
type Auditor struct {
	exec        *txn.Executor
	authority   *nc.Authority
	maxPriceAge uint64
	logger      *slog.Logger

	st *state
}

// New builds an auditor and registers it with the executor.
func New(cfg Config) (*Auditor, error) {
	if cfg.Executor == nil || cfg.Authority == nil {
		return nil, fmt.Errorf("auditor missing collaborator: %w", lending.ErrInvalidParameter)
	}
	if err := cfg.Incentive.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Auditor{
		exec:        cfg.Executor,
		authority:   cfg.Authority,
		maxPriceAge: cfg.MaxPriceAge,
		logger:      logger.With("component", "auditor"),
		st: &state{
			incentive:      cfg.Incentive.clone(),
			accountMarkets: make(map[common.Address]uint256.Int),
		},
	}
	cfg.Executor.Register(a)
	return a, nil
}

// Checkpoint implements txn.Journaled.
func (a *Auditor) Checkpoint() func() {
	saved := a.st.clone()
	return func() { a.st = saved }
}

func (a *Auditor) listingOf(m *market.Market) (*listing, error) {
	if m != nil {
		for _, l := range a.st.listings {
			if l.market == m {
				return l, nil
			}
		}
	}
	name := "<nil>"
	if m != nil {
		name = m.Symbol()
	}
	return nil, fmt.Errorf("market %s: %w", name, lending.ErrMarketNotListed)
}

// EnableMarket lists m with its price feed and collateral adjust factor.
func (a *Auditor) EnableMarket(ctx context.Context, cap nc.Capability, m *market.Market, feed oracle.Feed, adjustFactor *uint256.Int) error {
	if err := a.authority.Verify(cap); err != nil {
		return fmt.Errorf("enable market: %w", err)
	}
	return a.exec.Run(ctx, "auditor.enable_market", func(ctx context.Context, tx *txn.Tx) error {
		if m == nil || feed == nil {
			return fmt.Errorf("enable market: %w", lending.ErrInvalidParameter)
		}
		if _, err := a.listingOf(m); err == nil {
			return fmt.Errorf("market %s: %w", m.Symbol(), lending.ErrMarketAlreadyListed)
		}
		for _, l := range a.st.listings {
			if strings.EqualFold(l.market.Symbol(), m.Symbol()) {
				return fmt.Errorf("market %s: %w", m.Symbol(), lending.ErrMarketAlreadyListed)
			}
		}
		if len(a.st.listings) >= maxMarkets {
			return fmt.Errorf("market %s: listing limit reached: %w", m.Symbol(), lending.ErrInvalidParameter)
		}
		if err := validateAdjustFactor(adjustFactor); err != nil {
			return err
		}
		if feed.Decimals() > 18 {
			return fmt.Errorf("feed of %s has %d decimals: %w", m.Symbol(), feed.Decimals(), lending.ErrPriceError)
		}
		a.st.listings = append(a.st.listings, &listing{
			market:       m,
			feed:         feed,
			adjustFactor: wad.Clone(adjustFactor),
			decimals:     m.Decimals(),
			index:        len(a.st.listings),
		})
		m.AttachAuditor(a)
		tx.Emit(events.MarketListed{Market: m.Symbol(), Decimals: m.Decimals(), AdjustFactor: wad.Clone(adjustFactor)})
		a.logger.Info("market listed", "market", m.Symbol(), "adjustFactor", wad.Format(adjustFactor))
		return nil
	})
}

func validateAdjustFactor(f *uint256.Int) error {
	if f == nil || f.IsZero() || f.Gt(wad.One()) {
		return fmt.Errorf("adjust factor %v: %w", f, lending.ErrInvalidParameter)
	}
	return nil
}

// SetAdjustFactor changes how much of m's value counts as collateral.
func (a *Auditor) SetAdjustFactor(ctx context.Context, cap nc.Capability, m *market.Market, adjustFactor *uint256.Int) error {
	return a.admin(ctx, cap, "adjust_factor", func(tx *txn.Tx) error {
		l, err := a.listingOf(m)
		if err != nil {
			return err
		}
		if err := validateAdjustFactor(adjustFactor); err != nil {
			return err
		}
		l.adjustFactor = wad.Clone(adjustFactor)
		tx.Emit(events.ParameterUpdated{Market: m.Symbol(), Name: "adjust_factor", Value: wad.Format(adjustFactor)})
		return nil
	})
}

// SetPriceFeed replaces m's price source.
func (a *Auditor) SetPriceFeed(ctx context.Context, cap nc.Capability, m *market.Market, feed oracle.Feed) error {
	return a.admin(ctx, cap, "price_feed", func(tx *txn.Tx) error {
		l, err := a.listingOf(m)
		if err != nil {
			return err
		}
		if feed == nil || feed.Decimals() > 18 {
			return fmt.Errorf("price feed of %s: %w", m.Symbol(), lending.ErrPriceError)
		}
		l.feed = feed
		tx.Emit(events.ParameterUpdated{Market: m.Symbol(), Name: "price_feed", Value: fmt.Sprintf("%T", feed)})
		return nil
	})
}

// SetLiquidationIncentive changes the liquidation bonus.
func (a *Auditor) SetLiquidationIncentive(ctx context.Context, cap nc.Capability, incentive Incentive) error {
	return a.admin(ctx, cap, "liquidation_incentive", func(tx *txn.Tx) error {
		if err := incentive.validate(); err != nil {
			return err
		}
		a.st.incentive = incentive.clone()
		tx.Emit(events.ParameterUpdated{Name: "liquidation_incentive", Value: wad.Format(incentive.Liquidator) + "/" + wad.Format(incentive.Lenders)})
		return nil
	})
}

func (a *Auditor) admin(ctx context.Context, cap nc.Capability, name string, fn func(tx *txn.Tx) error) error {
	if err := a.authority.Verify(cap); err != nil {
		return fmt.Errorf("auditor set %s: %w", name, err)
	}
	return a.exec.Run(ctx, "auditor.set_"+name, func(_ context.Context, tx *txn.Tx) error {
		return fn(tx)
	})
}

// Incentive returns the liquidation bonus.
func (a *Auditor) Incentive() Incentive {
	var out Incentive
	_ = a.exec.View(func(uint64) error {
		out = a.st.incentive.clone()
		return nil
	})
	return out
}

// Markets lists the listed markets in listing order.
func (a *Auditor) Markets() []*market.Market {
	var out []*market.Market
	_ = a.exec.View(func(uint64) error {
		for _, l := range a.st.listings {
			out = append(out, l.market)
		}
		return nil
	})
	return out
}

// Market finds a listed market by symbol.
func (a *Auditor) Market(symbol string) (*market.Market, bool) {
	for _, m := range a.Markets() {
		if strings.EqualFold(m.Symbol(), symbol) {
			return m, true
		}
	}
	return nil, false
}

// AdjustFactor returns m's adjust factor.
func (a *Auditor) AdjustFactor(m *market.Market) (*uint256.Int, error) {
	var out *uint256.Int
	err := a.exec.View(func(uint64) error {
		l, err := a.listingOf(m)
		if err != nil {
			return err
		}
		out = wad.Clone(l.adjustFactor)
		return nil
	})
	return out, err
}

// price reads a listing's feed normalised to 18 decimals.
func (a *Auditor) price(l *listing, now uint64) (*uint256.Int, error) {
	answer, updatedAt, err := oracle.Validated(l.feed)
	if err != nil {
		return nil, fmt.Errorf("%s price: %w", l.market.Symbol(), err)
	}
	if a.maxPriceAge != 0 && now > updatedAt+a.maxPriceAge {
		return nil, fmt.Errorf("%s price updated at %d is stale: %w", l.market.Symbol(), updatedAt, lending.ErrPriceError)
	}
	scaled := new(big.Int).Mul(answer, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(18-l.feed.Decimals())), nil))
	price, err := wad.Unsigned(scaled)
	if err != nil {
		return nil, fmt.Errorf("%s price: %w", l.market.Symbol(), lending.ErrPriceError)
	}
	return price, nil
}

// Price returns m's price in the base unit, 18 decimals.
func (a *Auditor) Price(m *market.Market) (*uint256.Int, error) {
	var out *uint256.Int
	err := a.exec.View(func(now uint64) error {
		l, err := a.listingOf(m)
		if err != nil {
			return err
		}
		out, err = a.price(l, now)
		return err
	})
	return out, err
}
