package market

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"fixedlend/native/lending/fixed"
	"fixedlend/native/lending/wad"
)

// The lower-case views below assume the executor is held, either inside an
// action or through Executor.View. Exported methods taking now follow the
// same rule and exist for the auditor and rewards controller.

// AccountSnapshot returns account's collateral and debt in this market's
// assets. Collateral is the floating deposit plus fixed deposits at face
// value, all of which a liquidation can seize; debt includes late
// penalties and accrued floating interest.
func (m *Market) AccountSnapshot(account common.Address, now uint64) (collateral, debt *uint256.Int, err error) {
	collateral, err = m.MaxWithdraw(account, now)
	if err != nil {
		return nil, nil, err
	}
	st := m.st
	acc, ok := st.accounts[account]
	if !ok {
		return collateral, new(uint256.Int), nil
	}
	for _, maturity := range acc.FixedDeposits.Maturities() {
		collateral = wad.Add(collateral, position(st.depositPositions, maturity, account).Total())
	}
	debt, err = m.PreviewDebt(account, now)
	if err != nil {
		return nil, nil, err
	}
	return collateral, debt, nil
}

// MaxWithdraw is the floating deposit of account in assets.
func (m *Market) MaxWithdraw(account common.Address, now uint64) (*uint256.Int, error) {
	return m.convertToAssets(m.balanceOf(account), now, false)
}

// PreviewDebt returns everything account owes this market at now.
func (m *Market) PreviewDebt(account common.Address, now uint64) (*uint256.Int, error) {
	st := m.st
	acc, ok := st.accounts[account]
	if !ok {
		return new(uint256.Int), nil
	}
	debt := new(uint256.Int)
	for _, maturity := range acc.FixedBorrows.Maturities() {
		owed := position(st.borrowPositions, maturity, account).Total()
		debt = wad.Add(debt, owed)
		if now > maturity {
			debt = wad.Add(debt, wad.MulWadDown(owed, wad.Mul(uint256.NewInt(now-maturity), st.params.PenaltyRate)))
		}
	}
	if !acc.FloatingBorrowShares.IsZero() {
		floating, err := m.previewRefund(acc.FloatingBorrowShares, now)
		if err != nil {
			return nil, err
		}
		debt = wad.Add(debt, floating)
	}
	return debt, nil
}

// borrowWeight is the reward-bearing borrow balance of account: floating
// borrow shares plus fixed borrowed principal.
func (m *Market) borrowWeight(account common.Address) *uint256.Int {
	st := m.st
	acc, ok := st.accounts[account]
	if !ok {
		return new(uint256.Int)
	}
	weight := wad.Clone(acc.FloatingBorrowShares)
	for _, maturity := range acc.FixedBorrows.Maturities() {
		weight = wad.Add(weight, position(st.borrowPositions, maturity, account).Principal)
	}
	return weight
}

// RewardTotals returns the market-wide deposit and borrow weights rewards
// are shared over.
func (m *Market) RewardTotals() (deposits, borrows *uint256.Int) {
	st := m.st
	borrows = wad.Clone(st.totalFloatingBorrowShares)
	for _, pool := range st.pools {
		borrows = wad.Add(borrows, pool.Borrowed)
	}
	return wad.Clone(st.totalSupply), borrows
}

// RewardInputs are the market figures the utilization-driven reward
// allocation reads.
type RewardInputs struct {
	FloatingAssets *uint256.Int
	// Debt is floating debt plus the principal borrowed at every maturity.
	Debt            *uint256.Int
	FloatingRate    *uint256.Int
	TreasuryFeeRate *uint256.Int
}

// RewardInputs reads the current reward allocation inputs. A rate the
// model cannot price counts as zero.
func (m *Market) RewardInputs() RewardInputs {
	st := m.st
	debt := wad.Clone(st.floatingDebt)
	for _, pool := range st.pools {
		debt = wad.Add(debt, pool.Borrowed)
	}
	rate, err := st.model.FloatingRate(m.utilization(st.floatingAssets))
	if err != nil {
		rate = new(uint256.Int)
	}
	return RewardInputs{
		FloatingAssets:  wad.Clone(st.floatingAssets),
		Debt:            debt,
		FloatingRate:    rate,
		TreasuryFeeRate: wad.Clone(st.params.TreasuryFeeRate),
	}
}

// RewardBalances returns account's deposit and borrow weights.
func (m *Market) RewardBalances(account common.Address) (deposit, borrow *uint256.Int) {
	return m.balanceOf(account), m.borrowWeight(account)
}

// Overview is a read-only summary of the market.
type Overview struct {
	Symbol                    string
	Address                   common.Address
	Decimals                  uint8
	Timestamp                 uint64
	TotalAssets               *uint256.Int
	TotalSupply               *uint256.Int
	FloatingAssets            *uint256.Int
	FloatingAssetsAverage     *uint256.Int
	FloatingDebt              *uint256.Int
	TotalFloatingBorrowShares *uint256.Int
	FloatingBackupBorrowed    *uint256.Int
	EarningsAccumulator       *uint256.Int
	FloatingRate              *uint256.Int
	Params                    Params
	Pools                     []PoolOverview
}

// PoolOverview summarises one maturity.
type PoolOverview struct {
	Maturity           uint64
	State              string
	Borrowed           *uint256.Int
	Supplied           *uint256.Int
	BackupSupplied     *uint256.Int
	UnassignedEarnings *uint256.Int
	LastAccrual        uint64
}

// PositionOverview is one fixed position of an account.
type PositionOverview struct {
	Maturity  uint64
	Principal *uint256.Int
	Fee       *uint256.Int
}

// AccountOverview summarises an account's holdings in the market.
type AccountOverview struct {
	Account              common.Address
	Shares               *uint256.Int
	Assets               *uint256.Int
	FloatingBorrowShares *uint256.Int
	Debt                 *uint256.Int
	FixedDeposits        []PositionOverview
	FixedBorrows         []PositionOverview
}

func (m *Market) poolOverview(maturity, now uint64) PoolOverview {
	pool, ok := m.st.pools[maturity]
	if !ok {
		pool = fixed.NewPool()
	}
	return PoolOverview{
		Maturity:           maturity,
		State:              fixed.PoolState(maturity, m.st.params.MaxFuturePools, now).String(),
		Borrowed:           wad.Clone(pool.Borrowed),
		Supplied:           wad.Clone(pool.Supplied),
		BackupSupplied:     pool.BackupSupplied(),
		UnassignedEarnings: wad.Clone(pool.UnassignedEarnings),
		LastAccrual:        pool.LastAccrual,
	}
}

// Overview reads the market state at the executor's clock.
func (m *Market) Overview() (Overview, error) {
	var out Overview
	err := m.exec.View(func(now uint64) error {
		st := m.st
		total, err := m.totalAssets(now)
		if err != nil {
			return err
		}
		rate, err := st.model.FloatingRate(m.utilization(st.floatingAssets))
		if err != nil {
			rate = nil
		}
		out = Overview{
			Symbol:                    m.symbol,
			Address:                   m.address,
			Decimals:                  m.Decimals(),
			Timestamp:                 now,
			TotalAssets:               total,
			TotalSupply:               wad.Clone(st.totalSupply),
			FloatingAssets:            wad.Clone(st.floatingAssets),
			FloatingAssetsAverage:     wad.Clone(st.floatingAssetsAverage),
			FloatingDebt:              wad.Clone(st.floatingDebt),
			TotalFloatingBorrowShares: wad.Clone(st.totalFloatingBorrowShares),
			FloatingBackupBorrowed:    wad.Clone(st.floatingBackupBorrowed),
			EarningsAccumulator:       wad.Clone(st.earningsAccumulator),
			FloatingRate:              rate,
			Params:                    st.params.Clone(),
		}
		for _, maturity := range fixed.OpenMaturities(now, st.params.MaxFuturePools) {
			out.Pools = append(out.Pools, m.poolOverview(maturity, now))
		}
		return nil
	})
	return out, err
}

// Pool reads one maturity.
func (m *Market) Pool(maturity uint64) (PoolOverview, error) {
	var out PoolOverview
	err := m.exec.View(func(now uint64) error {
		out = m.poolOverview(maturity, now)
		return nil
	})
	return out, err
}

// AccountOverview reads account's holdings.
func (m *Market) AccountOverview(account common.Address) (AccountOverview, error) {
	var out AccountOverview
	err := m.exec.View(func(now uint64) error {
		st := m.st
		assets, err := m.MaxWithdraw(account, now)
		if err != nil {
			return err
		}
		debt, err := m.PreviewDebt(account, now)
		if err != nil {
			return err
		}
		out = AccountOverview{
			Account:              account,
			Shares:               m.balanceOf(account),
			Assets:               assets,
			FloatingBorrowShares: new(uint256.Int),
			Debt:                 debt,
		}
		acc, ok := st.accounts[account]
		if !ok {
			return nil
		}
		out.FloatingBorrowShares = wad.Clone(acc.FloatingBorrowShares)
		for _, maturity := range acc.FixedDeposits.Maturities() {
			pos := position(st.depositPositions, maturity, account)
			out.FixedDeposits = append(out.FixedDeposits, PositionOverview{Maturity: maturity, Principal: pos.Principal, Fee: pos.Fee})
		}
		for _, maturity := range acc.FixedBorrows.Maturities() {
			pos := position(st.borrowPositions, maturity, account)
			out.FixedBorrows = append(out.FixedBorrows, PositionOverview{Maturity: maturity, Principal: pos.Principal, Fee: pos.Fee})
		}
		return nil
	})
	return out, err
}

// FixedDepositPosition returns account's deposit at maturity.
func (m *Market) FixedDepositPosition(maturity uint64, account common.Address) fixed.Position {
	var pos fixed.Position
	_ = m.exec.View(func(uint64) error {
		pos = position(m.st.depositPositions, maturity, account)
		return nil
	})
	return pos
}

// FixedBorrowPosition returns account's borrow at maturity.
func (m *Market) FixedBorrowPosition(maturity uint64, account common.Address) fixed.Position {
	var pos fixed.Position
	_ = m.exec.View(func(uint64) error {
		pos = position(m.st.borrowPositions, maturity, account)
		return nil
	})
	return pos
}

// Totals reads the floating pool counters conserved across actions.
type Totals struct {
	FloatingAssets         *uint256.Int
	FloatingDebt           *uint256.Int
	FloatingBackupBorrowed *uint256.Int
	EarningsAccumulator    *uint256.Int
	TotalSupply            *uint256.Int
	BorrowShares           *uint256.Int
}

// Totals returns the floating pool counters.
func (m *Market) Totals() Totals {
	var out Totals
	_ = m.exec.View(func(uint64) error {
		st := m.st
		out = Totals{
			FloatingAssets:         wad.Clone(st.floatingAssets),
			FloatingDebt:           wad.Clone(st.floatingDebt),
			FloatingBackupBorrowed: wad.Clone(st.floatingBackupBorrowed),
			EarningsAccumulator:    wad.Clone(st.earningsAccumulator),
			TotalSupply:            wad.Clone(st.totalSupply),
			BorrowShares:           wad.Clone(st.totalFloatingBorrowShares),
		}
		return nil
	})
	return out
}
