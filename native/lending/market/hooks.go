package market

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Auditor is the cross-market risk checker. Every method runs inside the
// calling market's action; ctx carries it.
type Auditor interface {
	// CheckBorrow enters borrower into m if needed and fails when the
	// account's debt exceeds its collateral.
	CheckBorrow(ctx context.Context, m *Market, borrower common.Address) error
	// CheckShortfall fails when withdrawing assets from m would leave
	// account undercollateralised.
	CheckShortfall(ctx context.Context, m *Market, account common.Address, assets *uint256.Int) error
	// CheckLiquidation returns the most the liquidator may repay in
	// repayMarket's assets.
	CheckLiquidation(ctx context.Context, repayMarket, seizeMarket *Market, borrower common.Address, maxLiquidatorAssets *uint256.Int) (*uint256.Int, error)
	// CalculateSeize returns the lenders' cut of the repayment and the
	// collateral seized from seizeMarket.
	CalculateSeize(ctx context.Context, repayMarket, seizeMarket *Market, borrower common.Address, repaidAssets *uint256.Int) (lendersAssets, seizeAssets *uint256.Int, err error)
	// CheckSeize fails unless both markets are listed with this auditor.
	CheckSeize(ctx context.Context, repayMarket, seizeMarket *Market) error
	// HandleBadDebt clears account's debt in every market it entered once
	// no collateral is left.
	HandleBadDebt(ctx context.Context, account common.Address) error
}

// Operation selects which reward side a balance change affects.
type Operation uint8

const (
	OperationDeposit Operation = iota
	OperationBorrow
)

func (o Operation) String() string {
	if o == OperationBorrow {
		return "borrow"
	}
	return "deposit"
}

// RewardsHook is notified after an account's reward-bearing balance in a
// market changed. newBalance is the balance after the change. Hooks run
// inside the action and must not fail it.
type RewardsHook interface {
	HandleAction(ctx context.Context, m *Market, account common.Address, op Operation, newBalance *uint256.Int)
}

func (m *Market) notify(ctx context.Context, account common.Address, op Operation) {
	if m.rewards == nil {
		return
	}
	var balance *uint256.Int
	if op == OperationBorrow {
		balance = m.borrowWeight(account)
	} else {
		balance = m.balanceOf(account)
	}
	m.rewards.HandleAction(ctx, m, account, op, balance)
}
