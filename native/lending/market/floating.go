package market

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"fixedlend/core/events"
	"fixedlend/native/lending"
	"fixedlend/native/lending/txn"
	"fixedlend/native/lending/wad"
)

func (m *Market) convertToShares(assets *uint256.Int, now uint64, roundUp bool) (*uint256.Int, error) {
	supply := m.st.totalSupply
	if supply.IsZero() {
		return wad.Clone(assets), nil
	}
	total, err := m.totalAssets(now)
	if err != nil {
		return nil, err
	}
	if total.IsZero() {
		return wad.Clone(assets), nil
	}
	if roundUp {
		return wad.MulDivUp(assets, supply, total), nil
	}
	return wad.MulDivDown(assets, supply, total), nil
}

func (m *Market) convertToAssets(shares *uint256.Int, now uint64, roundUp bool) (*uint256.Int, error) {
	supply := m.st.totalSupply
	if supply.IsZero() {
		return wad.Clone(shares), nil
	}
	total, err := m.totalAssets(now)
	if err != nil {
		return nil, err
	}
	if roundUp {
		return wad.MulDivUp(shares, total, supply), nil
	}
	return wad.MulDivDown(shares, total, supply), nil
}

// previewBorrow converts assets into borrow shares, rounding against the
// borrower.
func (m *Market) previewBorrow(assets *uint256.Int, now uint64) (*uint256.Int, error) {
	supply := m.st.totalFloatingBorrowShares
	if supply.IsZero() {
		return wad.Clone(assets), nil
	}
	total, err := m.totalFloatingBorrowAssets(now)
	if err != nil {
		return nil, err
	}
	return wad.MulDivUp(assets, supply, total), nil
}

// previewRepay converts assets into the borrow shares they retire.
func (m *Market) previewRepay(assets *uint256.Int, now uint64) (*uint256.Int, error) {
	supply := m.st.totalFloatingBorrowShares
	if supply.IsZero() {
		return wad.Clone(assets), nil
	}
	total, err := m.totalFloatingBorrowAssets(now)
	if err != nil {
		return nil, err
	}
	return wad.MulDivDown(assets, supply, total), nil
}

// previewRefund converts borrow shares into the assets owed for them.
func (m *Market) previewRefund(shares *uint256.Int, now uint64) (*uint256.Int, error) {
	supply := m.st.totalFloatingBorrowShares
	if supply.IsZero() {
		return wad.Clone(shares), nil
	}
	total, err := m.totalFloatingBorrowAssets(now)
	if err != nil {
		return nil, err
	}
	return wad.MulDivUp(shares, total, supply), nil
}

func (m *Market) afterDeposit(assets *uint256.Int, now uint64) (*uint256.Int, error) {
	if err := m.updateFloatingAssetsAverage(now); err != nil {
		return nil, err
	}
	fee, err := m.updateFloatingDebt(now)
	if err != nil {
		return nil, err
	}
	earnings := m.accrueAccumulatedEarnings(now)
	m.st.floatingAssets = wad.Add(m.st.floatingAssets, wad.Add(earnings, assets))
	return fee, nil
}

func (m *Market) beforeWithdraw(assets *uint256.Int, now uint64) (*uint256.Int, error) {
	if err := m.updateFloatingAssetsAverage(now); err != nil {
		return nil, err
	}
	fee, err := m.updateFloatingDebt(now)
	if err != nil {
		return nil, err
	}
	st := m.st
	earnings := m.accrueAccumulatedEarnings(now)
	available := wad.Add(st.floatingAssets, earnings)
	if available.Lt(assets) {
		return nil, fmt.Errorf("%s withdraw %s above %s: %w", m.symbol, assets, available, lending.ErrInsufficientLiquidity)
	}
	remaining := wad.Sub(available, assets)
	if wad.Add(st.floatingBackupBorrowed, st.floatingDebt).Gt(remaining) {
		return nil, fmt.Errorf("%s withdraw %s leaves %s lent: %w", m.symbol, assets, wad.Add(st.floatingBackupBorrowed, st.floatingDebt), lending.ErrInsufficientLiquidity)
	}
	st.floatingAssets = remaining
	return fee, nil
}

// Deposit supplies assets to the floating pool and mints shares to
// receiver.
func (m *Market) Deposit(ctx context.Context, caller common.Address, assets *uint256.Int, receiver common.Address) (*uint256.Int, error) {
	var shares *uint256.Int
	err := m.run(ctx, "deposit", func(ctx context.Context, tx *txn.Tx) error {
		if err := m.guard("deposit"); err != nil {
			return err
		}
		var err error
		if shares, err = m.convertToShares(assets, tx.Now(), false); err != nil {
			return err
		}
		if shares.IsZero() {
			return fmt.Errorf("%s deposit of %s mints no shares: %w", m.symbol, assets, lending.ErrZeroAmount)
		}
		if err := m.pull(ctx, caller, assets); err != nil {
			return err
		}
		m.mint(receiver, shares)
		fee, err := m.afterDeposit(assets, tx.Now())
		if err != nil {
			return err
		}
		if err := m.depositToTreasury(ctx, tx, fee); err != nil {
			return err
		}
		tx.Emit(events.FloatingAction{Kind: events.TypeDeposit, Market: m.symbol, Caller: caller, Receiver: receiver, Owner: receiver, Assets: wad.Clone(assets), Shares: shares})
		m.emitMarketUpdate(tx)
		m.notify(ctx, receiver, OperationDeposit)
		return nil
	})
	return shares, err
}

// Withdraw burns the shares worth assets from owner and sends assets to
// receiver.
func (m *Market) Withdraw(ctx context.Context, caller common.Address, assets *uint256.Int, receiver, owner common.Address) (*uint256.Int, error) {
	var shares *uint256.Int
	err := m.run(ctx, "withdraw", func(ctx context.Context, tx *txn.Tx) error {
		if err := m.guard("withdraw"); err != nil {
			return err
		}
		if err := authorize(caller, owner); err != nil {
			return err
		}
		if assets.IsZero() {
			return fmt.Errorf("%s withdraw: %w", m.symbol, lending.ErrZeroWithdraw)
		}
		var err error
		if shares, err = m.convertToShares(assets, tx.Now(), true); err != nil {
			return err
		}
		return m.withdraw(ctx, tx, caller, assets, shares, receiver, owner)
	})
	return shares, err
}

// Redeem burns shares from owner and sends the assets they are worth to
// receiver.
func (m *Market) Redeem(ctx context.Context, caller common.Address, shares *uint256.Int, receiver, owner common.Address) (*uint256.Int, error) {
	var assets *uint256.Int
	err := m.run(ctx, "redeem", func(ctx context.Context, tx *txn.Tx) error {
		if err := m.guard("withdraw"); err != nil {
			return err
		}
		if err := authorize(caller, owner); err != nil {
			return err
		}
		var err error
		if assets, err = m.convertToAssets(shares, tx.Now(), false); err != nil {
			return err
		}
		if assets.IsZero() {
			return fmt.Errorf("%s redeem of %s shares: %w", m.symbol, shares, lending.ErrZeroWithdraw)
		}
		return m.withdraw(ctx, tx, caller, assets, shares, receiver, owner)
	})
	return assets, err
}

func (m *Market) withdraw(ctx context.Context, tx *txn.Tx, caller common.Address, assets, shares *uint256.Int, receiver, owner common.Address) error {
	if err := m.auditor.CheckShortfall(ctx, m, owner, assets); err != nil {
		return err
	}
	fee, err := m.beforeWithdraw(assets, tx.Now())
	if err != nil {
		return err
	}
	if err := m.burn(owner, shares); err != nil {
		return err
	}
	if err := m.depositToTreasury(ctx, tx, fee); err != nil {
		return err
	}
	tx.Emit(events.FloatingAction{Kind: events.TypeWithdraw, Market: m.symbol, Caller: caller, Receiver: receiver, Owner: owner, Assets: wad.Clone(assets), Shares: wad.Clone(shares)})
	m.emitMarketUpdate(tx)
	m.notify(ctx, owner, OperationDeposit)
	return m.push(ctx, receiver, assets)
}

// Borrow lends assets from the floating pool to receiver against
// borrower's collateral and returns the borrow shares issued.
func (m *Market) Borrow(ctx context.Context, caller common.Address, assets *uint256.Int, receiver, borrower common.Address) (*uint256.Int, error) {
	var shares *uint256.Int
	err := m.run(ctx, "borrow", func(ctx context.Context, tx *txn.Tx) error {
		if err := m.guard("borrow"); err != nil {
			return err
		}
		if err := authorize(caller, borrower); err != nil {
			return err
		}
		if assets.IsZero() {
			return fmt.Errorf("%s borrow: %w", m.symbol, lending.ErrZeroAmount)
		}
		if err := m.settleFloating(ctx, tx); err != nil {
			return err
		}
		var err error
		if shares, err = m.previewBorrow(assets, tx.Now()); err != nil {
			return err
		}
		st := m.st
		st.floatingDebt = wad.Add(st.floatingDebt, assets)
		if err := m.checkLiquidity(st.floatingBackupBorrowed); err != nil {
			return err
		}
		st.totalFloatingBorrowShares = wad.Add(st.totalFloatingBorrowShares, shares)
		acc := m.account(borrower)
		acc.FloatingBorrowShares = wad.Add(acc.FloatingBorrowShares, shares)
		tx.Emit(events.FloatingAction{Kind: events.TypeBorrow, Market: m.symbol, Caller: caller, Receiver: receiver, Owner: borrower, Assets: wad.Clone(assets), Shares: shares})
		m.emitMarketUpdate(tx)
		m.notify(ctx, borrower, OperationBorrow)
		if err := m.auditor.CheckBorrow(ctx, m, borrower); err != nil {
			return err
		}
		return m.push(ctx, receiver, assets)
	})
	return shares, err
}

// Repay pays back up to assets of borrower's floating debt. It returns the
// assets actually taken and the shares retired.
func (m *Market) Repay(ctx context.Context, caller common.Address, assets *uint256.Int, borrower common.Address) (*uint256.Int, *uint256.Int, error) {
	var repaid, shares *uint256.Int
	err := m.run(ctx, "repay", func(ctx context.Context, tx *txn.Tx) error {
		if err := m.settleFloating(ctx, tx); err != nil {
			return err
		}
		requested, err := m.previewRepay(assets, tx.Now())
		if err != nil {
			return err
		}
		if repaid, shares, err = m.refund(ctx, tx, requested, borrower); err != nil {
			return err
		}
		tx.Emit(events.FloatingAction{Kind: events.TypeRepay, Market: m.symbol, Caller: caller, Receiver: m.address, Owner: borrower, Assets: wad.Clone(repaid), Shares: wad.Clone(shares)})
		m.emitMarketUpdate(tx)
		return m.pull(ctx, caller, repaid)
	})
	return repaid, shares, err
}

// Refund retires borrow shares of borrower and takes the assets they are
// worth from caller.
func (m *Market) Refund(ctx context.Context, caller common.Address, shares *uint256.Int, borrower common.Address) (*uint256.Int, *uint256.Int, error) {
	var repaid, retired *uint256.Int
	err := m.run(ctx, "refund", func(ctx context.Context, tx *txn.Tx) error {
		var err error
		if repaid, retired, err = m.refund(ctx, tx, shares, borrower); err != nil {
			return err
		}
		tx.Emit(events.FloatingAction{Kind: events.TypeRepay, Market: m.symbol, Caller: caller, Receiver: m.address, Owner: borrower, Assets: wad.Clone(repaid), Shares: wad.Clone(retired)})
		m.emitMarketUpdate(tx)
		return m.pull(ctx, caller, repaid)
	})
	return repaid, retired, err
}

// refund retires up to shares of borrower's floating debt without moving
// funds.
func (m *Market) refund(ctx context.Context, tx *txn.Tx, shares *uint256.Int, borrower common.Address) (*uint256.Int, *uint256.Int, error) {
	if err := m.settleFloating(ctx, tx); err != nil {
		return nil, nil, err
	}
	acc := m.account(borrower)
	shares = wad.Min(shares, acc.FloatingBorrowShares)
	assets, err := m.previewRefund(shares, tx.Now())
	if err != nil {
		return nil, nil, err
	}
	if assets.IsZero() {
		return nil, nil, fmt.Errorf("%s repay: %w", m.symbol, lending.ErrZeroRepay)
	}
	st := m.st
	st.floatingDebt = wad.SaturatingSub(st.floatingDebt, assets)
	acc.FloatingBorrowShares = wad.Sub(acc.FloatingBorrowShares, shares)
	st.totalFloatingBorrowShares = wad.Sub(st.totalFloatingBorrowShares, shares)
	m.notify(ctx, borrower, OperationBorrow)
	return assets, shares, nil
}
