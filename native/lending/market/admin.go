package market

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"fixedlend/core/events"
	nc "fixedlend/native/common"
	"fixedlend/native/lending"
	"fixedlend/native/lending/irm"
	"fixedlend/native/lending/txn"
	"fixedlend/native/lending/wad"
)

// admin runs a privileged update. Counters a parameter feeds into are
// settled at the old value first, then the candidate params are validated
// and applied.
func (m *Market) admin(ctx context.Context, cap nc.Capability, name string, update func(ctx context.Context, tx *txn.Tx, p *Params) (string, error)) error {
	if err := m.authority.Verify(cap); err != nil {
		return fmt.Errorf("%s set %s: %w", m.symbol, name, err)
	}
	return m.exec.Run(ctx, "market.set_"+name, func(ctx context.Context, tx *txn.Tx) error {
		next := m.st.params.Clone()
		value, err := update(ctx, tx, &next)
		if err != nil {
			return err
		}
		if err := next.Validate(); err != nil {
			return fmt.Errorf("%s set %s: %w", m.symbol, name, err)
		}
		m.st.params = next
		tx.Emit(events.ParameterUpdated{Market: m.symbol, Name: name, Value: value})
		m.logger.Info("market parameter updated", "name", name, "value", value)
		return nil
	})
}

// SetInterestRateModel swaps the rate model after capitalising floating
// interest at the old one.
func (m *Market) SetInterestRateModel(ctx context.Context, cap nc.Capability, model irm.Model) error {
	if model == nil {
		return fmt.Errorf("%s nil rate model: %w", m.symbol, lending.ErrInvalidParameter)
	}
	return m.admin(ctx, cap, "interest_rate_model", func(ctx context.Context, tx *txn.Tx, _ *Params) (string, error) {
		if err := m.settleFloating(ctx, tx); err != nil {
			return "", err
		}
		m.st.model = model
		return fmt.Sprintf("%T", model), nil
	})
}

// SetPenaltyRate sets the per-second late repayment penalty.
func (m *Market) SetPenaltyRate(ctx context.Context, cap nc.Capability, rate *uint256.Int) error {
	return m.admin(ctx, cap, "penalty_rate", func(_ context.Context, _ *txn.Tx, p *Params) (string, error) {
		p.PenaltyRate = wad.Clone(rate)
		return wad.Format(rate), nil
	})
}

// SetBackupFeeRate sets the cut of fixed deposit yield kept by the
// floating pool.
func (m *Market) SetBackupFeeRate(ctx context.Context, cap nc.Capability, rate *uint256.Int) error {
	return m.admin(ctx, cap, "backup_fee_rate", func(_ context.Context, _ *txn.Tx, p *Params) (string, error) {
		p.BackupFeeRate = wad.Clone(rate)
		return wad.Format(rate), nil
	})
}

// SetReserveFactor sets the share of floating assets that cannot be lent.
func (m *Market) SetReserveFactor(ctx context.Context, cap nc.Capability, factor *uint256.Int) error {
	return m.admin(ctx, cap, "reserve_factor", func(_ context.Context, _ *txn.Tx, p *Params) (string, error) {
		p.ReserveFactor = wad.Clone(factor)
		return wad.Format(factor), nil
	})
}

// SetTreasury sets the treasury account and its fee rate.
func (m *Market) SetTreasury(ctx context.Context, cap nc.Capability, treasury common.Address, feeRate *uint256.Int) error {
	return m.admin(ctx, cap, "treasury", func(ctx context.Context, tx *txn.Tx, p *Params) (string, error) {
		if err := m.settleFloating(ctx, tx); err != nil {
			return "", err
		}
		p.Treasury = treasury
		p.TreasuryFeeRate = wad.Clone(feeRate)
		return treasury.Hex() + "@" + wad.Format(feeRate), nil
	})
}

// SetDampSpeed sets how fast the floating assets average follows
// increases and decreases.
func (m *Market) SetDampSpeed(ctx context.Context, cap nc.Capability, up, down *uint256.Int) error {
	return m.admin(ctx, cap, "damp_speed", func(_ context.Context, tx *txn.Tx, p *Params) (string, error) {
		if err := m.updateFloatingAssetsAverage(tx.Now()); err != nil {
			return "", err
		}
		p.DampSpeedUp = wad.Clone(up)
		p.DampSpeedDown = wad.Clone(down)
		return wad.Format(up) + "/" + wad.Format(down), nil
	})
}

// SetEarningsAccumulatorSmoothFactor sets how slowly the accumulator is
// released to the floating pool.
func (m *Market) SetEarningsAccumulatorSmoothFactor(ctx context.Context, cap nc.Capability, factor *uint256.Int) error {
	return m.admin(ctx, cap, "earnings_accumulator_smooth_factor", func(_ context.Context, tx *txn.Tx, p *Params) (string, error) {
		m.st.floatingAssets = wad.Add(m.st.floatingAssets, m.accrueAccumulatedEarnings(tx.Now()))
		p.EarningsAccumulatorSmoothFactor = wad.Clone(factor)
		return wad.Format(factor), nil
	})
}

// SetMaxFuturePools sets how many maturities are open at once.
func (m *Market) SetMaxFuturePools(ctx context.Context, cap nc.Capability, pools uint64) error {
	return m.admin(ctx, cap, "max_future_pools", func(_ context.Context, _ *txn.Tx, p *Params) (string, error) {
		p.MaxFuturePools = pools
		return strconv.FormatUint(pools, 10), nil
	})
}
