package market

import (
	"context"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"fixedlend/core/events"
	"fixedlend/native/lending"
	"fixedlend/native/lending/fixed"
	"fixedlend/native/lending/irm"
	"fixedlend/native/lending/txn"
	"fixedlend/native/lending/wad"
)

// accumulatedEarnings is the part of the earnings accumulator released to
// the floating pool since the last accrual. The release is smoothed over
// smoothFactor times the fixed pools' horizon.
func (m *Market) accumulatedEarnings(now uint64) *uint256.Int {
	st := m.st
	if now <= st.lastAccumulatorAccrual || st.earningsAccumulator.IsZero() {
		return new(uint256.Int)
	}
	elapsed := uint256.NewInt(now - st.lastAccumulatorAccrual)
	horizon := wad.MulWadDown(st.params.EarningsAccumulatorSmoothFactor, uint256.NewInt(st.params.MaxFuturePools*fixed.Interval))
	return wad.MulDivDown(st.earningsAccumulator, elapsed, wad.Add(elapsed, horizon))
}

func (m *Market) accrueAccumulatedEarnings(now uint64) *uint256.Int {
	earnings := m.accumulatedEarnings(now)
	m.st.earningsAccumulator = wad.Sub(m.st.earningsAccumulator, earnings)
	m.st.lastAccumulatorAccrual = now
	return earnings
}

func (m *Market) utilization(assets *uint256.Int) irm.Utilization {
	st := m.st
	return irm.Utilization{
		Floating: wad.Min(irm.FloatingUtilization(assets, st.floatingDebt), wad.One()),
		Global:   irm.GlobalUtilization(assets, st.floatingDebt, st.floatingBackupBorrowed),
	}
}

// newFloatingDebt is the interest floating borrowers owe since the last
// update.
func (m *Market) newFloatingDebt(now uint64) (*uint256.Int, error) {
	st := m.st
	if now <= st.lastFloatingDebtUpdate || st.floatingDebt.IsZero() {
		return new(uint256.Int), nil
	}
	rate, err := st.model.FloatingRate(m.utilization(st.floatingAssets))
	if err != nil {
		return nil, fmt.Errorf("%s floating rate: %w", m.symbol, err)
	}
	elapsed := uint256.NewInt(now - st.lastFloatingDebtUpdate)
	return wad.MulWadDown(st.floatingDebt, wad.MulDivDown(rate, elapsed, uint256.NewInt(irm.Year))), nil
}

func (m *Market) totalFloatingBorrowAssets(now uint64) (*uint256.Int, error) {
	interest, err := m.newFloatingDebt(now)
	if err != nil {
		return nil, err
	}
	return wad.Add(m.st.floatingDebt, interest), nil
}

// updateFloatingDebt capitalises floating interest and returns the treasury
// fee charged on it, which the caller must deposit to the treasury.
func (m *Market) updateFloatingDebt(now uint64) (*uint256.Int, error) {
	interest, err := m.newFloatingDebt(now)
	if err != nil {
		return nil, err
	}
	st := m.st
	treasuryFee := wad.MulWadDown(interest, st.params.TreasuryFeeRate)
	st.floatingDebt = wad.Add(st.floatingDebt, interest)
	st.floatingAssets = wad.Sub(wad.Add(st.floatingAssets, interest), treasuryFee)
	st.lastFloatingDebtUpdate = now
	return treasuryFee, nil
}

// totalAssets values the floating pool: its assets plus every earning that
// has vested but not yet been booked.
func (m *Market) totalAssets(now uint64) (*uint256.Int, error) {
	st := m.st
	backupEarnings := new(uint256.Int)
	latest := fixed.LatestMaturity(now)
	for maturity := latest; maturity <= latest+st.params.MaxFuturePools*fixed.Interval; maturity += fixed.Interval {
		pool, ok := st.pools[maturity]
		if !ok || maturity <= pool.LastAccrual {
			continue
		}
		if now < maturity {
			backupEarnings = wad.Add(backupEarnings, wad.MulDivDown(pool.UnassignedEarnings,
				uint256.NewInt(now-pool.LastAccrual), uint256.NewInt(maturity-pool.LastAccrual)))
		} else {
			backupEarnings = wad.Add(backupEarnings, pool.UnassignedEarnings)
		}
	}
	interest, err := m.newFloatingDebt(now)
	if err != nil {
		return nil, err
	}
	netInterest := wad.MulWadDown(interest, wad.Sub(wad.One(), st.params.TreasuryFeeRate))
	return wad.Add(wad.Add(st.floatingAssets, backupEarnings), wad.Add(m.accumulatedEarnings(now), netInterest)), nil
}

// previewFloatingAssetsAverage damps floatingAssets towards an exponential
// moving average. Increases are followed slower than decreases when
// DampSpeedUp is below DampSpeedDown.
func (m *Market) previewFloatingAssetsAverage(now uint64) (*uint256.Int, error) {
	st := m.st
	speed := st.params.DampSpeedUp
	if st.floatingAssets.Lt(st.floatingAssetsAverage) {
		speed = st.params.DampSpeedDown
	}
	elapsed := uint64(0)
	if now > st.lastAverageUpdate {
		elapsed = now - st.lastAverageUpdate
	}
	exponent := new(big.Int).Mul(wad.Signed(speed), new(big.Int).SetUint64(elapsed))
	decay, err := wad.ExpWad(exponent.Neg(exponent))
	if err != nil {
		return nil, fmt.Errorf("%s assets average: %w", m.symbol, err)
	}
	factor, err := wad.Unsigned(new(big.Int).Sub(wad.Signed(wad.One()), decay))
	if err != nil {
		return nil, fmt.Errorf("%s assets average: %w", m.symbol, err)
	}
	return wad.Add(
		wad.MulWadDown(st.floatingAssetsAverage, wad.Sub(wad.One(), factor)),
		wad.MulWadDown(factor, st.floatingAssets),
	), nil
}

func (m *Market) updateFloatingAssetsAverage(now uint64) error {
	average, err := m.previewFloatingAssetsAverage(now)
	if err != nil {
		return err
	}
	m.st.floatingAssetsAverage = average
	m.st.lastAverageUpdate = now
	return nil
}

// depositToTreasury mints floating shares worth fee to the treasury.
func (m *Market) depositToTreasury(ctx context.Context, tx *txn.Tx, fee *uint256.Int) error {
	if fee.IsZero() {
		return nil
	}
	shares, err := m.convertToShares(fee, tx.Now(), false)
	if err != nil {
		return err
	}
	treasury := m.st.params.Treasury
	m.mint(treasury, shares)
	m.st.floatingAssets = wad.Add(m.st.floatingAssets, fee)
	tx.Emit(events.TreasuryFee{Market: m.symbol, Treasury: treasury, Assets: fee})
	m.notify(ctx, treasury, OperationDeposit)
	return nil
}

// chargeTreasuryFee deposits the treasury's cut of fee and returns the rest.
func (m *Market) chargeTreasuryFee(ctx context.Context, tx *txn.Tx, fee *uint256.Int) (*uint256.Int, error) {
	treasuryFee := wad.MulWadDown(fee, m.st.params.TreasuryFeeRate)
	if err := m.depositToTreasury(ctx, tx, treasuryFee); err != nil {
		return nil, err
	}
	return wad.Sub(fee, treasuryFee), nil
}

// collectFreeLunch routes earnings no floating liquidity was put at risk
// for: to the treasury when it charges fees, otherwise to the accumulator.
func (m *Market) collectFreeLunch(ctx context.Context, tx *txn.Tx, earnings *uint256.Int) error {
	if earnings.IsZero() {
		return nil
	}
	if !m.st.params.TreasuryFeeRate.IsZero() {
		return m.depositToTreasury(ctx, tx, earnings)
	}
	m.st.earningsAccumulator = wad.Add(m.st.earningsAccumulator, earnings)
	return nil
}

// settleFloating brings every floating counter up to now and returns
// nothing to the caller besides errors; the treasury fee is deposited.
func (m *Market) settleFloating(ctx context.Context, tx *txn.Tx) error {
	fee, err := m.updateFloatingDebt(tx.Now())
	if err != nil {
		return err
	}
	return m.depositToTreasury(ctx, tx, fee)
}

func (m *Market) accrueMaturity(maturity, now uint64) *fixed.Pool {
	pool := m.pool(maturity)
	m.st.floatingAssets = wad.Add(m.st.floatingAssets, pool.Accrue(maturity, now))
	return pool
}

func (m *Market) emitMarketUpdate(tx *txn.Tx) {
	st := m.st
	tx.Emit(events.MarketUpdate{
		Market:                m.symbol,
		Timestamp:             tx.Now(),
		FloatingDepositShares: wad.Clone(st.totalSupply),
		FloatingAssets:        wad.Clone(st.floatingAssets),
		FloatingBorrowShares:  wad.Clone(st.totalFloatingBorrowShares),
		FloatingDebt:          wad.Clone(st.floatingDebt),
		EarningsAccumulator:   wad.Clone(st.earningsAccumulator),
	})
}

func (m *Market) emitFixedEarningsUpdate(tx *txn.Tx, maturity uint64) {
	tx.Emit(events.FixedEarningsUpdate{
		Market:             m.symbol,
		Timestamp:          tx.Now(),
		Maturity:           maturity,
		UnassignedEarnings: wad.Clone(m.pool(maturity).UnassignedEarnings),
	})
}

// checkLiquidity fails when the floating pool would lend more than its
// assets net of the reserve.
func (m *Market) checkLiquidity(backupBorrowed *uint256.Int) error {
	st := m.st
	lendable := wad.MulWadDown(st.floatingAssets, wad.Sub(wad.One(), st.params.ReserveFactor))
	if wad.Add(backupBorrowed, st.floatingDebt).Gt(lendable) {
		return fmt.Errorf("%s lending %s above %s: %w", m.symbol, wad.Add(backupBorrowed, st.floatingDebt), lendable, lending.ErrInsufficientLiquidity)
	}
	return nil
}
