package events

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"fixedlend/core/types"
)

const (
	TypeDeposit             = "lending.deposit"
	TypeWithdraw            = "lending.withdraw"
	TypeBorrow              = "lending.borrow"
	TypeRepay               = "lending.repay"
	TypeDepositAtMaturity   = "lending.deposit_at_maturity"
	TypeWithdrawAtMaturity  = "lending.withdraw_at_maturity"
	TypeBorrowAtMaturity    = "lending.borrow_at_maturity"
	TypeRepayAtMaturity     = "lending.repay_at_maturity"
	TypeLiquidate           = "lending.liquidate"
	TypeSeize               = "lending.seize"
	TypeSpreadBadDebt       = "lending.spread_bad_debt"
	TypeTreasuryFee         = "lending.treasury_fee"
	TypeMarketUpdate        = "lending.market_update"
	TypeFixedEarningsUpdate = "lending.fixed_earnings_update"
	TypeParameterUpdated    = "lending.parameter_updated"
	TypeMarketListed        = "lending.market_listed"
	TypeMarketEntered       = "lending.market_entered"
	TypeMarketExited        = "lending.market_exited"
	TypeRewardClaimed       = "lending.reward_claimed"
	TypeRewardIndexUpdate   = "lending.reward_index_update"
)

// FloatingAction is emitted for floating pool deposits, withdrawals, borrows
// and repayments. Kind selects which of the four it is.
type FloatingAction struct {
	Kind     string
	Market   string
	Caller   common.Address
	Receiver common.Address
	Owner    common.Address
	Assets   *uint256.Int
	Shares   *uint256.Int
}

func (e FloatingAction) EventType() string { return e.Kind }

func (e FloatingAction) Event() *types.Event {
	return &types.Event{
		Type: e.Kind,
		Attributes: map[string]string{
			"market":   normalizeSymbol(e.Market),
			"caller":   address(e.Caller),
			"receiver": address(e.Receiver),
			"owner":    address(e.Owner),
			"assets":   amount(e.Assets),
			"shares":   amount(e.Shares),
		},
	}
}

// FixedAction is emitted for every operation against a maturity pool.
// PositionAssets is the position value consumed or created; Assets is what
// moved between the caller and the market.
type FixedAction struct {
	Kind           string
	Market         string
	Caller         common.Address
	Receiver       common.Address
	Owner          common.Address
	Maturity       uint64
	Assets         *uint256.Int
	PositionAssets *uint256.Int
	Fee            *uint256.Int
}

func (e FixedAction) EventType() string { return e.Kind }

func (e FixedAction) Event() *types.Event {
	return &types.Event{
		Type: e.Kind,
		Attributes: map[string]string{
			"market":         normalizeSymbol(e.Market),
			"caller":         address(e.Caller),
			"receiver":       address(e.Receiver),
			"owner":          address(e.Owner),
			"maturity":       timestamp(e.Maturity),
			"assets":         amount(e.Assets),
			"positionAssets": amount(e.PositionAssets),
			"fee":            amount(e.Fee),
		},
	}
}

// Liquidate is emitted by the repaid market once a liquidation settles.
type Liquidate struct {
	Market        string
	Receiver      common.Address
	Borrower      common.Address
	Assets        *uint256.Int
	LendersAssets *uint256.Int
	SeizeMarket   string
	SeizedAssets  *uint256.Int
}

func (Liquidate) EventType() string { return TypeLiquidate }

func (e Liquidate) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidate,
		Attributes: map[string]string{
			"market":        normalizeSymbol(e.Market),
			"receiver":      address(e.Receiver),
			"borrower":      address(e.Borrower),
			"assets":        amount(e.Assets),
			"lendersAssets": amount(e.LendersAssets),
			"seizeMarket":   normalizeSymbol(e.SeizeMarket),
			"seizedAssets":  amount(e.SeizedAssets),
		},
	}
}

// Seize is emitted by the collateral market of a liquidation.
type Seize struct {
	Market     string
	Liquidator common.Address
	Borrower   common.Address
	Assets     *uint256.Int
}

func (Seize) EventType() string { return TypeSeize }

func (e Seize) Event() *types.Event {
	return &types.Event{
		Type: TypeSeize,
		Attributes: map[string]string{
			"market":     normalizeSymbol(e.Market),
			"liquidator": address(e.Liquidator),
			"borrower":   address(e.Borrower),
			"assets":     amount(e.Assets),
		},
	}
}

// SpreadBadDebt is emitted when uncollateralised debt is written off.
type SpreadBadDebt struct {
	Market   string
	Borrower common.Address
	Assets   *uint256.Int
}

func (SpreadBadDebt) EventType() string { return TypeSpreadBadDebt }

func (e SpreadBadDebt) Event() *types.Event {
	return &types.Event{
		Type: TypeSpreadBadDebt,
		Attributes: map[string]string{
			"market":   normalizeSymbol(e.Market),
			"borrower": address(e.Borrower),
			"assets":   amount(e.Assets),
		},
	}
}

// TreasuryFee is emitted when earnings are routed to the treasury.
type TreasuryFee struct {
	Market   string
	Treasury common.Address
	Assets   *uint256.Int
}

func (TreasuryFee) EventType() string { return TypeTreasuryFee }

func (e TreasuryFee) Event() *types.Event {
	return &types.Event{
		Type: TypeTreasuryFee,
		Attributes: map[string]string{
			"market":   normalizeSymbol(e.Market),
			"treasury": address(e.Treasury),
			"assets":   amount(e.Assets),
		},
	}
}

// MarketUpdate snapshots the floating pool after an action.
type MarketUpdate struct {
	Market                string
	Timestamp             uint64
	FloatingDepositShares *uint256.Int
	FloatingAssets        *uint256.Int
	FloatingBorrowShares  *uint256.Int
	FloatingDebt          *uint256.Int
	EarningsAccumulator   *uint256.Int
}

func (MarketUpdate) EventType() string { return TypeMarketUpdate }

func (e MarketUpdate) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketUpdate,
		Attributes: map[string]string{
			"market":                normalizeSymbol(e.Market),
			"timestamp":             timestamp(e.Timestamp),
			"floatingDepositShares": amount(e.FloatingDepositShares),
			"floatingAssets":        amount(e.FloatingAssets),
			"floatingBorrowShares":  amount(e.FloatingBorrowShares),
			"floatingDebt":          amount(e.FloatingDebt),
			"earningsAccumulator":   amount(e.EarningsAccumulator),
		},
	}
}

// FixedEarningsUpdate reports a maturity's unassigned earnings after an
// action touched it.
type FixedEarningsUpdate struct {
	Market             string
	Timestamp          uint64
	Maturity           uint64
	UnassignedEarnings *uint256.Int
}

func (FixedEarningsUpdate) EventType() string { return TypeFixedEarningsUpdate }

func (e FixedEarningsUpdate) Event() *types.Event {
	return &types.Event{
		Type: TypeFixedEarningsUpdate,
		Attributes: map[string]string{
			"market":             normalizeSymbol(e.Market),
			"timestamp":          timestamp(e.Timestamp),
			"maturity":           timestamp(e.Maturity),
			"unassignedEarnings": amount(e.UnassignedEarnings),
		},
	}
}

// ParameterUpdated is emitted by privileged setters.
type ParameterUpdated struct {
	Market string
	Name   string
	Value  string
}

func (ParameterUpdated) EventType() string { return TypeParameterUpdated }

func (e ParameterUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeParameterUpdated,
		Attributes: map[string]string{
			"market": normalizeSymbol(e.Market),
			"name":   e.Name,
			"value":  e.Value,
		},
	}
}

// MarketListed is emitted when the auditor enables a market.
type MarketListed struct {
	Market       string
	Decimals     uint8
	AdjustFactor *uint256.Int
}

func (MarketListed) EventType() string { return TypeMarketListed }

func (e MarketListed) Event() *types.Event {
	return &types.Event{
		Type: TypeMarketListed,
		Attributes: map[string]string{
			"market":       normalizeSymbol(e.Market),
			"decimals":     timestamp(uint64(e.Decimals)),
			"adjustFactor": amount(e.AdjustFactor),
		},
	}
}

// MarketMembership is emitted when an account enters or exits a market.
type MarketMembership struct {
	Entered bool
	Market  string
	Account common.Address
}

func (e MarketMembership) EventType() string {
	if e.Entered {
		return TypeMarketEntered
	}
	return TypeMarketExited
}

func (e MarketMembership) Event() *types.Event {
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"market":  normalizeSymbol(e.Market),
			"account": address(e.Account),
		},
	}
}

// RewardClaimed is emitted for every reward asset paid out by a claim.
type RewardClaimed struct {
	Account common.Address
	Reward  string
	To      common.Address
	Amount  *uint256.Int
}

func (RewardClaimed) EventType() string { return TypeRewardClaimed }

func (e RewardClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardClaimed,
		Attributes: map[string]string{
			"account": address(e.Account),
			"reward":  normalizeSymbol(e.Reward),
			"to":      address(e.To),
			"amount":  amount(e.Amount),
		},
	}
}

// RewardIndexUpdate reports a reward distribution index after accrual.
type RewardIndexUpdate struct {
	Market       string
	Reward       string
	BorrowIndex  *uint256.Int
	DepositIndex *uint256.Int
	Timestamp    uint64
}

func (RewardIndexUpdate) EventType() string { return TypeRewardIndexUpdate }

func (e RewardIndexUpdate) Event() *types.Event {
	return &types.Event{
		Type: TypeRewardIndexUpdate,
		Attributes: map[string]string{
			"market":       normalizeSymbol(e.Market),
			"reward":       normalizeSymbol(e.Reward),
			"borrowIndex":  amount(e.BorrowIndex),
			"depositIndex": amount(e.DepositIndex),
			"timestamp":    timestamp(e.Timestamp),
		},
	}
}
