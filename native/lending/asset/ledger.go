// Package asset provides the underlying token collaborator the markets move
// funds with, and an in-memory ledger implementing it.
package asset

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"fixedlend/native/lending"
	"fixedlend/native/lending/wad"
)

// Token is the transfer surface markets rely on. Transfer either moves the
// full amount or fails; the enclosing action rolls back whatever a failed
// transfer left behind.
type Token interface {
	Symbol() string
	Decimals() uint8
	BalanceOf(account common.Address) *uint256.Int
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
}

// TransferHook runs after a ledger transfer settles, before Transfer
// returns. Returning an error fails the transfer.
type TransferHook func(ctx context.Context, from, to common.Address, amount *uint256.Int) error

// Ledger is an in-memory token.
type Ledger struct {
	mu       sync.RWMutex
	symbol   string
	decimals uint8
	balances map[common.Address]*uint256.Int
	supply   *uint256.Int
	hooks    map[common.Address]TransferHook
}

// NewLedger returns an empty token.
func NewLedger(symbol string, decimals uint8) *Ledger {
	return &Ledger{
		symbol:   symbol,
		decimals: decimals,
		balances: make(map[common.Address]*uint256.Int),
		supply:   new(uint256.Int),
		hooks:    make(map[common.Address]TransferHook),
	}
}

func (l *Ledger) Symbol() string  { return l.symbol }
func (l *Ledger) Decimals() uint8 { return l.decimals }

// BalanceOf returns a copy of account's balance.
func (l *Ledger) BalanceOf(account common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return wad.Clone(l.balances[account])
}

// TotalSupply returns a copy of the minted supply.
func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return wad.Clone(l.supply)
}

// Mint credits amount to account.
func (l *Ledger) Mint(account common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	supply, overflow := new(uint256.Int).AddOverflow(l.supply, amount)
	if overflow {
		return fmt.Errorf("mint %s: %w", l.symbol, lending.ErrArithmeticOverflow)
	}
	l.supply = supply
	l.balances[account] = new(uint256.Int).Add(wad.Clone(l.balances[account]), amount)
	return nil
}

// OnReceive installs a hook run whenever account receives a transfer. A
// nil hook removes it.
func (l *Ledger) OnReceive(account common.Address, hook TransferHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if hook == nil {
		delete(l.hooks, account)
		return
	}
	l.hooks[account] = hook
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	balance := wad.Clone(l.balances[from])
	if balance.Lt(amount) {
		l.mu.Unlock()
		return fmt.Errorf("%s balance %s below %s: %w", l.symbol, balance, amount, lending.ErrInsufficientBalance)
	}
	l.balances[from] = new(uint256.Int).Sub(balance, amount)
	l.balances[to] = new(uint256.Int).Add(wad.Clone(l.balances[to]), amount)
	hook := l.hooks[to]
	l.mu.Unlock()

	if hook != nil {
		return hook(ctx, from, to, amount)
	}
	return nil
}

// Checkpoint snapshots every balance.
func (l *Ledger) Checkpoint() func() {
	l.mu.RLock()
	balances := make(map[common.Address]*uint256.Int, len(l.balances))
	for k, v := range l.balances {
		balances[k] = wad.Clone(v)
	}
	supply := wad.Clone(l.supply)
	l.mu.RUnlock()
	return func() {
		l.mu.Lock()
		l.balances = balances
		l.supply = supply
		l.mu.Unlock()
	}
}

// Holders lists accounts with a non-zero balance in address order.
func (l *Ledger) Holders() []common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]common.Address, 0, len(l.balances))
	for k, v := range l.balances {
		if !v.IsZero() {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}
