package market

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"fixedlend/native/lending"
	"fixedlend/native/lending/fixed"
	"fixedlend/native/lending/wad"
)

// Snapshot is the persisted form of a market. Slices are sorted so equal
// states encode identically.
type Snapshot struct {
	Symbol                    string
	Params                    ParamsRecord
	TotalSupply               *uint256.Int
	FloatingAssets            *uint256.Int
	FloatingDebt              *uint256.Int
	TotalFloatingBorrowShares *uint256.Int
	FloatingBackupBorrowed    *uint256.Int
	EarningsAccumulator       *uint256.Int
	FloatingAssetsAverage     *uint256.Int
	LastFloatingDebtUpdate    uint64
	LastAccumulatorAccrual    uint64
	LastAverageUpdate         uint64
	Pools                     []PoolRecord
	Accounts                  []AccountRecord
	Positions                 []PositionRecord
}

// ParamsRecord mirrors Params.
type ParamsRecord struct {
	MaxFuturePools                  uint64
	EarningsAccumulatorSmoothFactor *uint256.Int
	PenaltyRate                     *uint256.Int
	BackupFeeRate                   *uint256.Int
	ReserveFactor                   *uint256.Int
	TreasuryFeeRate                 *uint256.Int
	DampSpeedUp                     *uint256.Int
	DampSpeedDown                   *uint256.Int
	Treasury                        common.Address
}

type PoolRecord struct {
	Maturity           uint64
	Borrowed           *uint256.Int
	Supplied           *uint256.Int
	SuppliedSP         *uint256.Int
	UnassignedEarnings *uint256.Int
	LastAccrual        uint64
}

type AccountRecord struct {
	Address              common.Address
	Shares               *uint256.Int
	FloatingBorrowShares *uint256.Int
	FixedDeposits        *uint256.Int
	FixedBorrows         *uint256.Int
}

type PositionRecord struct {
	Maturity  uint64
	Account   common.Address
	Borrow    bool
	Principal *uint256.Int
	Fee       *uint256.Int
}

func positionRecords(book map[uint64]map[common.Address]fixed.Position, borrow bool) []PositionRecord {
	var out []PositionRecord
	for maturity, byAccount := range book {
		for account, pos := range byAccount {
			out = append(out, PositionRecord{Maturity: maturity, Account: account, Borrow: borrow, Principal: wad.Clone(pos.Principal), Fee: wad.Clone(pos.Fee)})
		}
	}
	return out
}

// Snapshot exports the market state.
func (m *Market) Snapshot() Snapshot {
	var snap Snapshot
	_ = m.exec.View(func(uint64) error {
		snap = m.snapshot()
		return nil
	})
	return snap
}

func (m *Market) snapshot() Snapshot {
	st := m.st
	p := st.params
	snap := Snapshot{
		Symbol: m.symbol,
		Params: ParamsRecord{
			MaxFuturePools:                  p.MaxFuturePools,
			EarningsAccumulatorSmoothFactor: wad.Clone(p.EarningsAccumulatorSmoothFactor),
			PenaltyRate:                     wad.Clone(p.PenaltyRate),
			BackupFeeRate:                   wad.Clone(p.BackupFeeRate),
			ReserveFactor:                   wad.Clone(p.ReserveFactor),
			TreasuryFeeRate:                 wad.Clone(p.TreasuryFeeRate),
			DampSpeedUp:                     wad.Clone(p.DampSpeedUp),
			DampSpeedDown:                   wad.Clone(p.DampSpeedDown),
			Treasury:                        p.Treasury,
		},
		TotalSupply:               wad.Clone(st.totalSupply),
		FloatingAssets:            wad.Clone(st.floatingAssets),
		FloatingDebt:              wad.Clone(st.floatingDebt),
		TotalFloatingBorrowShares: wad.Clone(st.totalFloatingBorrowShares),
		FloatingBackupBorrowed:    wad.Clone(st.floatingBackupBorrowed),
		EarningsAccumulator:       wad.Clone(st.earningsAccumulator),
		FloatingAssetsAverage:     wad.Clone(st.floatingAssetsAverage),
		LastFloatingDebtUpdate:    st.lastFloatingDebtUpdate,
		LastAccumulatorAccrual:    st.lastAccumulatorAccrual,
		LastAverageUpdate:         st.lastAverageUpdate,
	}
	for maturity, pool := range st.pools {
		snap.Pools = append(snap.Pools, PoolRecord{
			Maturity:           maturity,
			Borrowed:           wad.Clone(pool.Borrowed),
			Supplied:           wad.Clone(pool.Supplied),
			SuppliedSP:         wad.Clone(pool.SuppliedSP),
			UnassignedEarnings: wad.Clone(pool.UnassignedEarnings),
			LastAccrual:        pool.LastAccrual,
		})
	}
	sort.Slice(snap.Pools, func(i, j int) bool { return snap.Pools[i].Maturity < snap.Pools[j].Maturity })

	addresses := make(map[common.Address]struct{})
	for addr := range st.shares {
		addresses[addr] = struct{}{}
	}
	for addr := range st.accounts {
		addresses[addr] = struct{}{}
	}
	for addr := range addresses {
		rec := AccountRecord{Address: addr, Shares: m.balanceOf(addr), FloatingBorrowShares: new(uint256.Int), FixedDeposits: new(uint256.Int), FixedBorrows: new(uint256.Int)}
		if acc, ok := st.accounts[addr]; ok {
			rec.FloatingBorrowShares = wad.Clone(acc.FloatingBorrowShares)
			rec.FixedDeposits = acc.FixedDeposits.Packed()
			rec.FixedBorrows = acc.FixedBorrows.Packed()
		}
		snap.Accounts = append(snap.Accounts, rec)
	}
	sort.Slice(snap.Accounts, func(i, j int) bool { return snap.Accounts[i].Address.Cmp(snap.Accounts[j].Address) < 0 })

	snap.Positions = append(positionRecords(st.depositPositions, false), positionRecords(st.borrowPositions, true)...)
	sort.Slice(snap.Positions, func(i, j int) bool {
		a, b := snap.Positions[i], snap.Positions[j]
		if a.Borrow != b.Borrow {
			return !a.Borrow
		}
		if a.Maturity != b.Maturity {
			return a.Maturity < b.Maturity
		}
		return a.Account.Cmp(b.Account) < 0
	})
	return snap
}

// Restore replaces the market state with snap. The rate model is kept.
func (m *Market) Restore(snap Snapshot) error {
	if snap.Symbol != m.symbol {
		return fmt.Errorf("snapshot of %s restored into %s: %w", snap.Symbol, m.symbol, lending.ErrInvalidParameter)
	}
	params := Params{
		MaxFuturePools:                  snap.Params.MaxFuturePools,
		EarningsAccumulatorSmoothFactor: snap.Params.EarningsAccumulatorSmoothFactor,
		PenaltyRate:                     snap.Params.PenaltyRate,
		BackupFeeRate:                   snap.Params.BackupFeeRate,
		ReserveFactor:                   snap.Params.ReserveFactor,
		TreasuryFeeRate:                 snap.Params.TreasuryFeeRate,
		DampSpeedUp:                     snap.Params.DampSpeedUp,
		DampSpeedDown:                   snap.Params.DampSpeedDown,
		Treasury:                        snap.Params.Treasury,
	}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("restore %s: %w", m.symbol, err)
	}
	return m.exec.View(func(uint64) error {
		st := newState(params, m.st.model)
		st.totalSupply = wad.Clone(snap.TotalSupply)
		st.floatingAssets = wad.Clone(snap.FloatingAssets)
		st.floatingDebt = wad.Clone(snap.FloatingDebt)
		st.totalFloatingBorrowShares = wad.Clone(snap.TotalFloatingBorrowShares)
		st.floatingBackupBorrowed = wad.Clone(snap.FloatingBackupBorrowed)
		st.earningsAccumulator = wad.Clone(snap.EarningsAccumulator)
		st.floatingAssetsAverage = wad.Clone(snap.FloatingAssetsAverage)
		st.lastFloatingDebtUpdate = snap.LastFloatingDebtUpdate
		st.lastAccumulatorAccrual = snap.LastAccumulatorAccrual
		st.lastAverageUpdate = snap.LastAverageUpdate
		for _, rec := range snap.Pools {
			st.pools[rec.Maturity] = &fixed.Pool{
				Borrowed:           wad.Clone(rec.Borrowed),
				Supplied:           wad.Clone(rec.Supplied),
				SuppliedSP:         wad.Clone(rec.SuppliedSP),
				UnassignedEarnings: wad.Clone(rec.UnassignedEarnings),
				LastAccrual:        rec.LastAccrual,
			}
		}
		for _, rec := range snap.Accounts {
			if rec.Shares != nil && !rec.Shares.IsZero() {
				st.shares[rec.Address] = wad.Clone(rec.Shares)
			}
			st.accounts[rec.Address] = &Account{
				FixedDeposits:        fixed.NewMaturitySet(rec.FixedDeposits),
				FixedBorrows:         fixed.NewMaturitySet(rec.FixedBorrows),
				FloatingBorrowShares: wad.Clone(rec.FloatingBorrowShares),
			}
		}
		for _, rec := range snap.Positions {
			book := st.depositPositions
			if rec.Borrow {
				book = st.borrowPositions
			}
			storePosition(book, rec.Maturity, rec.Account, fixed.NewPosition(rec.Principal, rec.Fee))
		}
		m.st = st
		return nil
	})
}
