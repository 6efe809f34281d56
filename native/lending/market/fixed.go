package market

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"fixedlend/core/events"
	"fixedlend/native/lending"
	"fixedlend/native/lending/fixed"
	"fixedlend/native/lending/irm"
	"fixedlend/native/lending/txn"
	"fixedlend/native/lending/wad"
)

// fixedRate prices a maturity whose borrowed principal moves to
// borrowedAfter, with the floating pool lending backupAfter in total.
func (m *Market) fixedRate(maturity, now uint64, pool *fixed.Pool, borrowedAfter, backupAfter *uint256.Int) (*uint256.Int, error) {
	average, err := m.previewFloatingAssetsAverage(now)
	if err != nil {
		return nil, err
	}
	st := m.st
	u := irm.Utilization{
		Floating:    wad.Min(irm.FloatingUtilization(average, st.floatingDebt), wad.One()),
		Global:      irm.GlobalUtilization(average, st.floatingDebt, backupAfter),
		FixedBefore: irm.FixedUtilization(pool.Supplied, pool.Borrowed, average),
		FixedAfter:  irm.FixedUtilization(pool.Supplied, borrowedAfter, average),
	}
	rate, err := st.model.FixedRate(maturity, now, st.params.MaxFuturePools, u)
	if err != nil {
		return nil, fmt.Errorf("%s fixed rate at %d: %w", m.symbol, maturity, err)
	}
	return rate, nil
}

// DepositAtMaturity lends assets to a maturity until it matures. The
// deposit earns the share of the maturity's unassigned earnings it
// displaces from backup lending; minAssetsRequired bounds the position.
func (m *Market) DepositAtMaturity(ctx context.Context, caller common.Address, maturity uint64, assets, minAssetsRequired *uint256.Int, receiver common.Address) (*uint256.Int, error) {
	var positionAssets *uint256.Int
	err := m.run(ctx, "deposit_at_maturity", func(ctx context.Context, tx *txn.Tx) error {
		if err := m.guard("deposit"); err != nil {
			return err
		}
		now := tx.Now()
		st := m.st
		if err := fixed.CheckPoolState(maturity, st.params.MaxFuturePools, now, fixed.StateValid, fixed.StateNone); err != nil {
			return err
		}
		if assets.IsZero() {
			return fmt.Errorf("%s deposit at maturity: %w", m.symbol, lending.ErrZeroAmount)
		}
		pool := m.accrueMaturity(maturity, now)
		fee, backupFee := irm.YieldForDeposit(pool.BackupSupplied(), pool.UnassignedEarnings, assets, st.params.BackupFeeRate)
		positionAssets = wad.Add(assets, fee)
		if positionAssets.Lt(minAssetsRequired) {
			return fmt.Errorf("%s position %s below %s: %w", m.symbol, positionAssets, minAssetsRequired, lending.ErrTooMuchSlippage)
		}
		st.floatingBackupBorrowed = wad.Sub(st.floatingBackupBorrowed, pool.Deposit(assets))
		pool.UnassignedEarnings = wad.Sub(pool.UnassignedEarnings, wad.Add(fee, backupFee))
		st.earningsAccumulator = wad.Add(st.earningsAccumulator, backupFee)

		acc := m.account(receiver)
		if err := acc.FixedDeposits.Set(maturity); err != nil {
			return err
		}
		storePosition(st.depositPositions, maturity, receiver, position(st.depositPositions, maturity, receiver).Add(assets, fee))

		tx.Emit(events.FixedAction{Kind: events.TypeDepositAtMaturity, Market: m.symbol, Caller: caller, Receiver: receiver, Owner: receiver, Maturity: maturity, Assets: wad.Clone(assets), PositionAssets: wad.Clone(positionAssets), Fee: fee})
		m.emitMarketUpdate(tx)
		m.emitFixedEarningsUpdate(tx, maturity)
		return m.pull(ctx, caller, assets)
	})
	return positionAssets, err
}

// BorrowAtMaturity borrows assets until maturity at a fixed fee. The part
// of the borrow the maturity's own deposits cannot fund is lent by the
// floating pool. maxAssets bounds what the borrower will owe.
func (m *Market) BorrowAtMaturity(ctx context.Context, caller common.Address, maturity uint64, assets, maxAssets *uint256.Int, receiver, borrower common.Address) (*uint256.Int, error) {
	var assetsOwed *uint256.Int
	err := m.run(ctx, "borrow_at_maturity", func(ctx context.Context, tx *txn.Tx) error {
		if err := m.guard("borrow"); err != nil {
			return err
		}
		if err := authorize(caller, borrower); err != nil {
			return err
		}
		now := tx.Now()
		st := m.st
		if err := fixed.CheckPoolState(maturity, st.params.MaxFuturePools, now, fixed.StateValid, fixed.StateNone); err != nil {
			return err
		}
		if assets.IsZero() {
			return fmt.Errorf("%s borrow at maturity: %w", m.symbol, lending.ErrZeroAmount)
		}
		pool := m.accrueMaturity(maturity, now)
		if err := m.settleFloating(ctx, tx); err != nil {
			return err
		}

		borrowedAfter := wad.Add(pool.Borrowed, assets)
		addition := wad.SaturatingSub(borrowedAfter, wad.Max(pool.Borrowed, pool.Supplied))
		rate, err := m.fixedRate(maturity, now, pool, borrowedAfter, wad.Add(st.floatingBackupBorrowed, addition))
		if err != nil {
			return err
		}
		fee := wad.MulWadDown(assets, rate)
		assetsOwed = wad.Add(assets, fee)
		if assetsOwed.Gt(maxAssets) {
			return fmt.Errorf("%s owed %s above %s: %w", m.symbol, assetsOwed, maxAssets, lending.ErrTooMuchSlippage)
		}

		lendable := wad.MulWadDown(st.floatingAssets, wad.Sub(wad.One(), st.params.ReserveFactor))
		maxDebt := wad.SaturatingSub(lendable, wad.Add(st.floatingDebt, st.floatingBackupBorrowed))
		added, err := pool.Borrow(assets, maxDebt)
		if err != nil {
			return fmt.Errorf("%s borrow at %d: %w", m.symbol, maturity, err)
		}
		st.floatingBackupBorrowed = wad.Add(st.floatingBackupBorrowed, added)

		acc := m.account(borrower)
		if err := acc.FixedBorrows.Set(maturity); err != nil {
			return err
		}
		net, err := m.chargeTreasuryFee(ctx, tx, fee)
		if err != nil {
			return err
		}
		if err := m.collectFreeLunch(ctx, tx, pool.DistributeEarnings(net, assets)); err != nil {
			return err
		}
		storePosition(st.borrowPositions, maturity, borrower, position(st.borrowPositions, maturity, borrower).Add(assets, fee))

		tx.Emit(events.FixedAction{Kind: events.TypeBorrowAtMaturity, Market: m.symbol, Caller: caller, Receiver: receiver, Owner: borrower, Maturity: maturity, Assets: wad.Clone(assets), PositionAssets: wad.Clone(assetsOwed), Fee: fee})
		m.emitMarketUpdate(tx)
		m.emitFixedEarningsUpdate(tx, maturity)
		m.notify(ctx, borrower, OperationBorrow)
		if err := m.auditor.CheckBorrow(ctx, m, borrower); err != nil {
			return err
		}
		return m.push(ctx, receiver, assets)
	})
	return assetsOwed, err
}

// WithdrawAtMaturity withdraws up to positionAssets of owner's deposit.
// Before maturity the amount is discounted at the maturity's current fixed
// rate; minAssetsRequired bounds what receiver gets.
func (m *Market) WithdrawAtMaturity(ctx context.Context, caller common.Address, maturity uint64, positionAssets, minAssetsRequired *uint256.Int, receiver, owner common.Address) (*uint256.Int, error) {
	var assetsDiscounted *uint256.Int
	err := m.run(ctx, "withdraw_at_maturity", func(ctx context.Context, tx *txn.Tx) error {
		if err := m.guard("withdraw"); err != nil {
			return err
		}
		if err := authorize(caller, owner); err != nil {
			return err
		}
		if positionAssets.IsZero() {
			return fmt.Errorf("%s withdraw at maturity: %w", m.symbol, lending.ErrZeroWithdraw)
		}
		now := tx.Now()
		st := m.st
		if err := fixed.CheckPoolState(maturity, st.params.MaxFuturePools, now, fixed.StateValid, fixed.StateMatured); err != nil {
			return err
		}
		pool := m.accrueMaturity(maturity, now)
		if err := m.settleFloating(ctx, tx); err != nil {
			return err
		}
		pos := position(st.depositPositions, maturity, owner)
		if pos.IsZero() {
			return fmt.Errorf("%s no deposit at %d: %w", m.symbol, maturity, lending.ErrZeroWithdraw)
		}
		requested := wad.Min(positionAssets, pos.Total())
		if err := m.auditor.CheckShortfall(ctx, m, owner, requested); err != nil {
			return err
		}

		maxDebt := wad.SaturatingSub(st.floatingAssets, wad.Add(st.floatingBackupBorrowed, st.floatingDebt))
		added, err := pool.Withdraw(pos.Scale(requested).Principal, maxDebt)
		if err != nil {
			return fmt.Errorf("%s withdraw at %d: %w", m.symbol, maturity, err)
		}
		st.floatingBackupBorrowed = wad.Add(st.floatingBackupBorrowed, added)

		assetsDiscounted = wad.Clone(requested)
		if now < maturity {
			rate, err := m.fixedRate(maturity, now, pool, pool.Borrowed, st.floatingBackupBorrowed)
			if err != nil {
				return err
			}
			assetsDiscounted = wad.DivWadDown(requested, wad.Add(wad.One(), rate))
		}
		if assetsDiscounted.Lt(minAssetsRequired) {
			return fmt.Errorf("%s withdrawal %s below %s: %w", m.symbol, assetsDiscounted, minAssetsRequired, lending.ErrTooMuchSlippage)
		}

		net, err := m.chargeTreasuryFee(ctx, tx, wad.Sub(requested, assetsDiscounted))
		if err != nil {
			return err
		}
		if err := m.collectFreeLunch(ctx, tx, pool.DistributeEarnings(net, assetsDiscounted)); err != nil {
			return err
		}

		remaining := pos.Reduce(requested)
		storePosition(st.depositPositions, maturity, owner, remaining)
		if remaining.IsZero() {
			m.account(owner).FixedDeposits.Clear(maturity)
		}

		tx.Emit(events.FixedAction{Kind: events.TypeWithdrawAtMaturity, Market: m.symbol, Caller: caller, Receiver: receiver, Owner: owner, Maturity: maturity, Assets: wad.Clone(assetsDiscounted), PositionAssets: wad.Clone(requested), Fee: wad.Sub(requested, assetsDiscounted)})
		m.emitMarketUpdate(tx)
		m.emitFixedEarningsUpdate(tx, maturity)
		return m.push(ctx, receiver, assetsDiscounted)
	})
	return assetsDiscounted, err
}

// RepayAtMaturity repays up to positionAssets of borrower's debt at a
// maturity. Early repayment is discounted by the yield a deposit would
// earn; late repayment is charged the penalty rate per second late.
// maxAssets bounds what caller pays.
func (m *Market) RepayAtMaturity(ctx context.Context, caller common.Address, maturity uint64, positionAssets, maxAssets *uint256.Int, borrower common.Address) (*uint256.Int, error) {
	var actual *uint256.Int
	err := m.run(ctx, "repay_at_maturity", func(ctx context.Context, tx *txn.Tx) error {
		if positionAssets.IsZero() {
			return fmt.Errorf("%s repay at maturity: %w", m.symbol, lending.ErrZeroRepay)
		}
		if err := fixed.CheckPoolState(maturity, m.st.params.MaxFuturePools, tx.Now(), fixed.StateValid, fixed.StateMatured); err != nil {
			return err
		}
		var err error
		if actual, err = m.repayAtMaturity(ctx, tx, caller, maturity, positionAssets, maxAssets, borrower, true); err != nil {
			return err
		}
		m.emitMarketUpdate(tx)
		return m.pull(ctx, caller, actual)
	})
	return actual, err
}

// repayAtMaturity settles debt without moving funds. Liquidations pass
// canDiscount false so early repayments forgo the discount.
func (m *Market) repayAtMaturity(ctx context.Context, tx *txn.Tx, caller common.Address, maturity uint64, positionAssets, maxAssets *uint256.Int, borrower common.Address, canDiscount bool) (*uint256.Int, error) {
	now := tx.Now()
	st := m.st
	pool := m.accrueMaturity(maturity, now)
	pos := position(st.borrowPositions, maturity, borrower)
	if pos.IsZero() {
		return nil, fmt.Errorf("%s no debt at %d: %w", m.symbol, maturity, lending.ErrZeroRepay)
	}
	debtCovered := wad.Min(positionAssets, pos.Total())
	principalCovered := pos.Scale(debtCovered).Principal

	// adjustment is the discount granted or the penalty charged.
	var actual, adjustment *uint256.Int
	switch {
	case now < maturity && canDiscount:
		discount, backupFee := irm.YieldForDeposit(pool.BackupSupplied(), pool.UnassignedEarnings, principalCovered, st.params.BackupFeeRate)
		pool.UnassignedEarnings = wad.Sub(pool.UnassignedEarnings, wad.Add(discount, backupFee))
		st.earningsAccumulator = wad.Add(st.earningsAccumulator, backupFee)
		actual, adjustment = wad.Sub(debtCovered, discount), discount
	case now < maturity:
		actual, adjustment = wad.Clone(debtCovered), new(uint256.Int)
	default:
		penalty := wad.MulWadDown(debtCovered, wad.Mul(uint256.NewInt(now-maturity), st.params.PenaltyRate))
		st.earningsAccumulator = wad.Add(st.earningsAccumulator, penalty)
		actual, adjustment = wad.Add(debtCovered, penalty), penalty
	}
	if actual.Gt(maxAssets) {
		return nil, fmt.Errorf("%s repayment %s above %s: %w", m.symbol, actual, maxAssets, lending.ErrTooMuchSlippage)
	}

	st.floatingBackupBorrowed = wad.Sub(st.floatingBackupBorrowed, pool.Repay(principalCovered))
	remaining := pos.Reduce(debtCovered)
	storePosition(st.borrowPositions, maturity, borrower, remaining)
	if remaining.IsZero() {
		m.account(borrower).FixedBorrows.Clear(maturity)
	}

	tx.Emit(events.FixedAction{Kind: events.TypeRepayAtMaturity, Market: m.symbol, Caller: caller, Receiver: m.address, Owner: borrower, Maturity: maturity, Assets: wad.Clone(actual), PositionAssets: debtCovered, Fee: adjustment})
	m.emitFixedEarningsUpdate(tx, maturity)
	m.notify(ctx, borrower, OperationBorrow)
	return actual, nil
}
