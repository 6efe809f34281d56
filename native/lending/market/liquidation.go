package market

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"fixedlend/core/events"
	"fixedlend/native/lending"
	"fixedlend/native/lending/fixed"
	"fixedlend/native/lending/txn"
	"fixedlend/native/lending/wad"
)

// Liquidate repays up to maxAssets of an unhealthy borrower's debt in this
// market and seizes collateral from seizeMarket. Fixed borrows are repaid
// oldest maturity first, then floating debt. The lenders' incentive is
// added to the earnings accumulator.
func (m *Market) Liquidate(ctx context.Context, caller, borrower common.Address, maxAssets *uint256.Int, seizeMarket *Market) (*uint256.Int, error) {
	var repaid *uint256.Int
	err := m.run(ctx, "liquidate", func(ctx context.Context, tx *txn.Tx) error {
		if caller == borrower {
			return fmt.Errorf("%s liquidate %s: %w", m.symbol, borrower.Hex(), lending.ErrSelfLiquidation)
		}
		if seizeMarket == nil {
			return fmt.Errorf("%s liquidate without seize market: %w", m.symbol, lending.ErrMarketNotListed)
		}
		if err := m.settleFloating(ctx, tx); err != nil {
			return err
		}
		budget, err := m.auditor.CheckLiquidation(ctx, m, seizeMarket, borrower, maxAssets)
		if err != nil {
			return err
		}
		if budget.IsZero() {
			return fmt.Errorf("%s liquidate %s: %w", m.symbol, borrower.Hex(), lending.ErrZeroRepay)
		}

		now := tx.Now()
		st := m.st
		repaid = new(uint256.Int)
		for _, maturity := range m.account(borrower).FixedBorrows.Maturities() {
			if budget.IsZero() {
				break
			}
			amount := budget
			if now >= maturity {
				owed := position(st.borrowPositions, maturity, borrower).Total()
				debt := wad.Add(owed, wad.MulWadDown(owed, wad.Mul(uint256.NewInt(now-maturity), st.params.PenaltyRate)))
				if debt.Gt(budget) {
					amount = wad.MulDivDown(budget, owed, debt)
				}
				if amount.IsZero() {
					budget = new(uint256.Int)
					break
				}
			}
			actual, err := m.repayAtMaturity(ctx, tx, caller, maturity, amount, budget, borrower, false)
			if err != nil {
				return err
			}
			budget = wad.Sub(budget, actual)
			repaid = wad.Add(repaid, actual)
		}
		if !budget.IsZero() && !m.account(borrower).FloatingBorrowShares.IsZero() {
			shares, err := m.previewRepay(budget, now)
			if err != nil {
				return err
			}
			if !shares.IsZero() {
				actual, _, err := m.refund(ctx, tx, shares, borrower)
				if err != nil {
					return err
				}
				repaid = wad.Add(repaid, actual)
			}
		}

		lendersAssets, seizeAssets, err := m.auditor.CalculateSeize(ctx, m, seizeMarket, borrower, repaid)
		if err != nil {
			return err
		}
		st.earningsAccumulator = wad.Add(st.earningsAccumulator, lendersAssets)
		if seizeMarket == m {
			if err := m.seize(ctx, tx, m, caller, borrower, seizeAssets); err != nil {
				return err
			}
		} else {
			if err := seizeMarket.Seize(ctx, m, caller, borrower, seizeAssets); err != nil {
				return err
			}
			m.emitMarketUpdate(tx)
		}
		tx.Emit(events.Liquidate{Market: m.symbol, Receiver: caller, Borrower: borrower, Assets: wad.Clone(repaid), LendersAssets: lendersAssets, SeizeMarket: seizeMarket.symbol, SeizedAssets: seizeAssets})
		if err := m.auditor.HandleBadDebt(ctx, borrower); err != nil {
			return err
		}
		if err := m.pull(ctx, caller, wad.Add(repaid, lendersAssets)); err != nil {
			return err
		}
		m.logger.Info("account liquidated", "borrower", borrower.Hex(), "repaid", wad.Format(repaid), "seizeMarket", seizeMarket.symbol, "seized", wad.Format(seizeAssets))
		m.metrics.RecordLiquidation(m.symbol)
		return nil
	})
	return repaid, err
}

// Seize transfers assets of borrower's deposits to liquidator on behalf
// of repayMarket, floating deposit first, then fixed deposits at face
// value. It is only callable from inside a liquidation.
func (m *Market) Seize(ctx context.Context, repayMarket *Market, liquidator, borrower common.Address, assets *uint256.Int) error {
	tx, err := txn.Require(ctx)
	if err != nil {
		return fmt.Errorf("%s seize: %w", m.symbol, err)
	}
	return m.seize(ctx, tx, repayMarket, liquidator, borrower, assets)
}

func (m *Market) seize(ctx context.Context, tx *txn.Tx, repayMarket *Market, liquidator, borrower common.Address, assets *uint256.Int) error {
	if assets.IsZero() {
		return fmt.Errorf("%s seize: %w", m.symbol, lending.ErrZeroWithdraw)
	}
	if err := m.auditor.CheckSeize(ctx, repayMarket, m); err != nil {
		return err
	}
	now := tx.Now()
	floating, err := m.MaxWithdraw(borrower, now)
	if err != nil {
		return err
	}
	fromFloating := wad.Min(assets, floating)
	if !fromFloating.IsZero() {
		shares, err := m.convertToShares(fromFloating, now, true)
		if err != nil {
			return err
		}
		shares = wad.Min(shares, m.balanceOf(borrower))
		fee, err := m.beforeWithdraw(fromFloating, now)
		if err != nil {
			return err
		}
		if err := m.burn(borrower, shares); err != nil {
			return err
		}
		if err := m.depositToTreasury(ctx, tx, fee); err != nil {
			return err
		}
		tx.Emit(events.FloatingAction{Kind: events.TypeWithdraw, Market: m.symbol, Caller: repayMarket.address, Receiver: liquidator, Owner: borrower, Assets: wad.Clone(fromFloating), Shares: shares})
	}
	if rest := wad.Sub(assets, fromFloating); !rest.IsZero() {
		if err := m.seizeFixedDeposits(tx, repayMarket, liquidator, borrower, rest); err != nil {
			return err
		}
	}
	tx.Emit(events.Seize{Market: m.symbol, Liquidator: liquidator, Borrower: borrower, Assets: wad.Clone(assets)})
	m.emitMarketUpdate(tx)
	m.notify(ctx, borrower, OperationDeposit)
	return m.push(ctx, liquidator, assets)
}

// seizeFixedDeposits takes assets out of borrower's fixed deposits at face
// value, earliest maturity first. The floating pool backs whatever
// borrowed principal the removed supply leaves uncovered.
func (m *Market) seizeFixedDeposits(tx *txn.Tx, repayMarket *Market, liquidator, borrower common.Address, assets *uint256.Int) error {
	now := tx.Now()
	st := m.st
	acc := m.account(borrower)
	remaining := wad.Clone(assets)
	for _, maturity := range acc.FixedDeposits.Maturities() {
		if remaining.IsZero() {
			break
		}
		pos := position(st.depositPositions, maturity, borrower)
		taken := wad.Min(remaining, pos.Total())
		if taken.IsZero() {
			continue
		}
		pool := m.accrueMaturity(maturity, now)
		maxDebt := wad.SaturatingSub(st.floatingAssets, wad.Add(st.floatingBackupBorrowed, st.floatingDebt))
		added, err := pool.Withdraw(pos.Scale(taken).Principal, maxDebt)
		if err != nil {
			return fmt.Errorf("%s seize at %d: %w", m.symbol, maturity, err)
		}
		st.floatingBackupBorrowed = wad.Add(st.floatingBackupBorrowed, added)

		left := pos.Reduce(taken)
		storePosition(st.depositPositions, maturity, borrower, left)
		if left.IsZero() {
			acc.FixedDeposits.Clear(maturity)
		}
		remaining = wad.Sub(remaining, taken)

		tx.Emit(events.FixedAction{Kind: events.TypeWithdrawAtMaturity, Market: m.symbol, Caller: repayMarket.address, Receiver: liquidator, Owner: borrower, Maturity: maturity, Assets: wad.Clone(taken), PositionAssets: wad.Clone(taken), Fee: new(uint256.Int)})
		m.emitFixedEarningsUpdate(tx, maturity)
	}
	if !remaining.IsZero() {
		return fmt.Errorf("%s seize %s above deposits of %s: %w", m.symbol, remaining, borrower.Hex(), lending.ErrInsufficientCollateral)
	}
	return nil
}

// ClearBadDebt writes off borrower's debt in this market against the
// earnings accumulator, as far as the accumulator covers it. Fixed
// positions are cleared whole, oldest first, then floating debt. It is
// called by the auditor once the borrower has no collateral left.
func (m *Market) ClearBadDebt(ctx context.Context, borrower common.Address) error {
	tx, err := txn.Require(ctx)
	if err != nil {
		return fmt.Errorf("%s clear bad debt: %w", m.symbol, err)
	}
	now := tx.Now()
	st := m.st
	st.floatingAssets = wad.Add(st.floatingAssets, m.accrueAccumulatedEarnings(now))
	available := wad.Clone(st.earningsAccumulator)
	total := new(uint256.Int)
	acc := m.account(borrower)
	for _, maturity := range acc.FixedBorrows.Maturities() {
		pos := position(st.borrowPositions, maturity, borrower)
		badDebt := pos.Total()
		if available.Lt(badDebt) {
			continue
		}
		available = wad.Sub(available, badDebt)
		total = wad.Add(total, badDebt)
		pool := m.accrueMaturity(maturity, now)
		st.floatingBackupBorrowed = wad.Sub(st.floatingBackupBorrowed, pool.Repay(pos.Principal))
		storePosition(st.borrowPositions, maturity, borrower, fixed.NewPosition(nil, nil))
		acc.FixedBorrows.Clear(maturity)
		tx.Emit(events.FixedAction{Kind: events.TypeRepayAtMaturity, Market: m.symbol, Caller: m.address, Receiver: m.address, Owner: borrower, Maturity: maturity, Assets: wad.Clone(badDebt), PositionAssets: wad.Clone(badDebt), Fee: new(uint256.Int)})
	}
	if !acc.FloatingBorrowShares.IsZero() {
		shares, err := m.previewRepay(available, now)
		if err != nil {
			return err
		}
		if !shares.IsZero() {
			badDebt, _, err := m.refund(ctx, tx, shares, borrower)
			if err != nil {
				return err
			}
			total = wad.Add(total, badDebt)
		}
	}
	if !total.IsZero() {
		st.earningsAccumulator = wad.SaturatingSub(st.earningsAccumulator, total)
		tx.Emit(events.SpreadBadDebt{Market: m.symbol, Borrower: borrower, Assets: total})
		m.logger.Warn("bad debt spread", "borrower", borrower.Hex(), "assets", wad.Format(total))
		m.metrics.RecordBadDebt(m.symbol, wad.Float(total))
	}
	m.notify(ctx, borrower, OperationBorrow)
	m.emitMarketUpdate(tx)
	return nil
}
