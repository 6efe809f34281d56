// Package fixed implements the per-maturity accounting of the lending engine:
// the maturity pool money flows, earnings accrual and the proportional
// position helpers.
package fixed

import (
	"fmt"

	"github.com/holiman/uint256"

	"fixedlend/native/lending"
	"fixedlend/native/lending/wad"
)

// Pool is the aggregate state of one maturity in one market.
type Pool struct {
	// Borrowed is the principal borrowed at this maturity.
	Borrowed *uint256.Int
	// Supplied is the principal deposited at this maturity.
	Supplied *uint256.Int
	// SuppliedSP is the floating pool's backup lending into this maturity. It
	// always equals Borrowed - min(Borrowed, Supplied).
	SuppliedSP *uint256.Int
	// UnassignedEarnings holds fees not yet attributed to a liquidity source.
	UnassignedEarnings *uint256.Int
	// LastAccrual is the timestamp unassigned earnings were last released at.
	LastAccrual uint64
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{
		Borrowed:           new(uint256.Int),
		Supplied:           new(uint256.Int),
		SuppliedSP:         new(uint256.Int),
		UnassignedEarnings: new(uint256.Int),
	}
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	return &Pool{
		Borrowed:           wad.Clone(p.Borrowed),
		Supplied:           wad.Clone(p.Supplied),
		SuppliedSP:         wad.Clone(p.SuppliedSP),
		UnassignedEarnings: wad.Clone(p.UnassignedEarnings),
		LastAccrual:        p.LastAccrual,
	}
}

// BackupSupplied recomputes the floating pool's share of the borrowed
// principal from Borrowed and Supplied.
func (p *Pool) BackupSupplied() *uint256.Int {
	return wad.Sub(p.Borrowed, wad.Min(p.Borrowed, p.Supplied))
}

func (p *Pool) syncBackup() {
	p.SuppliedSP = p.BackupSupplied()
}

// Accrue releases the share of unassigned earnings that vested between the
// last accrual and now. Before maturity the release is linear in time; at or
// after maturity everything left is released once.
func (p *Pool) Accrue(maturity, now uint64) *uint256.Int {
	last := p.LastAccrual
	if now < maturity {
		if now <= last {
			return new(uint256.Int)
		}
		earnings := wad.MulDivDown(p.UnassignedEarnings, uint256.NewInt(now-last), uint256.NewInt(maturity-last))
		p.UnassignedEarnings = wad.Sub(p.UnassignedEarnings, earnings)
		p.LastAccrual = now
		return earnings
	}
	if last == maturity {
		return new(uint256.Int)
	}
	earnings := wad.Clone(p.UnassignedEarnings)
	p.UnassignedEarnings = new(uint256.Int)
	p.LastAccrual = maturity
	return earnings
}

// Deposit adds amount to the maturity's supply and returns how much of the
// floating pool's backup lending it repaid.
func (p *Pool) Deposit(amount *uint256.Int) *uint256.Int {
	reduction := wad.Min(p.BackupSupplied(), amount)
	p.Supplied = wad.Add(p.Supplied, amount)
	p.syncBackup()
	return reduction
}

// Repay removes amount of borrowed principal and returns how much of the
// floating pool's backup lending it repaid.
func (p *Pool) Repay(amount *uint256.Int) *uint256.Int {
	reduction := wad.Min(p.BackupSupplied(), amount)
	p.Borrowed = wad.Sub(p.Borrowed, amount)
	p.syncBackup()
	return reduction
}

// Borrow adds amount of borrowed principal. Whatever the maturity's own
// supply cannot cover is lent by the floating pool, bounded by maxDebt.
func (p *Pool) Borrow(amount, maxDebt *uint256.Int) (*uint256.Int, error) {
	newBorrowed := wad.Add(p.Borrowed, amount)
	addition := wad.Sub(newBorrowed, wad.Min(wad.Max(p.Borrowed, p.Supplied), newBorrowed))
	if addition.Gt(maxDebt) {
		return nil, fmt.Errorf("backup addition %s exceeds %s: %w", addition, maxDebt, lending.ErrInsufficientLiquidity)
	}
	p.Borrowed = newBorrowed
	p.syncBackup()
	return addition, nil
}

// Withdraw removes amount of supplied principal. The floating pool covers
// whatever borrowed principal the remaining supply no longer matches,
// bounded by maxDebt.
func (p *Pool) Withdraw(amount, maxDebt *uint256.Int) (*uint256.Int, error) {
	newSupplied := wad.Sub(p.Supplied, amount)
	addition := wad.Sub(wad.Min(p.Supplied, p.Borrowed), wad.Min(newSupplied, p.Borrowed))
	if addition.Gt(maxDebt) {
		return nil, fmt.Errorf("backup addition %s exceeds %s: %w", addition, maxDebt, lending.ErrInsufficientLiquidity)
	}
	p.Supplied = newSupplied
	p.syncBackup()
	return addition, nil
}

// DistributeEarnings splits earnings generated by amountFunded between the
// floating pool and the treasury, proportionally to the part of
// amountFunded the floating pool's backup lending covered.
func DistributeEarnings(earnings, backupSupplied, amountFunded *uint256.Int) (floatingShare, treasuryShare *uint256.Int) {
	if amountFunded.IsZero() {
		return wad.Clone(earnings), new(uint256.Int)
	}
	unbacked := wad.Sub(amountFunded, wad.Min(backupSupplied, amountFunded))
	treasuryShare = wad.MulDivDown(earnings, unbacked, amountFunded)
	return wad.Sub(earnings, treasuryShare), treasuryShare
}

// DistributeEarnings applies the split against the pool's current backup
// lending, keeping the floating share as unassigned earnings. It returns
// the treasury share.
func (p *Pool) DistributeEarnings(earnings, amountFunded *uint256.Int) *uint256.Int {
	floatingShare, treasuryShare := DistributeEarnings(earnings, p.BackupSupplied(), amountFunded)
	p.UnassignedEarnings = wad.Add(p.UnassignedEarnings, floatingShare)
	return treasuryShare
}
