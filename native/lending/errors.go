package lending

import "errors"

// Error taxonomy shared by every lending component. Callers match with
// errors.Is; components wrap these with call-site context.
var (
	ErrInsufficientLiquidity  = errors.New("lending: insufficient protocol liquidity")
	ErrTooMuchSlippage        = errors.New("lending: too much slippage")
	ErrMarketNotListed        = errors.New("lending: market not listed")
	ErrMarketAlreadyListed    = errors.New("lending: market already listed")
	ErrInvalidPoolState       = errors.New("lending: invalid pool state")
	ErrInsufficientCollateral = errors.New("lending: insufficient account liquidity")
	ErrArithmeticOverflow     = errors.New("lending: arithmetic overflow")
	ErrPriceError             = errors.New("lending: invalid oracle price")
	ErrZeroAmount             = errors.New("lending: zero amount")
	ErrZeroWithdraw           = errors.New("lending: zero withdraw")
	ErrZeroRepay              = errors.New("lending: zero repay")
	ErrUtilizationExceeded    = errors.New("lending: utilization exceeded")
	ErrMaturityOverflow       = errors.New("lending: maturity overflow")
	ErrReentrancy             = errors.New("lending: reentrant call")
	ErrNotInTransaction       = errors.New("lending: call requires an active action")
	ErrUnauthorized           = errors.New("lending: unauthorized")
	ErrInvalidParameter       = errors.New("lending: invalid parameter")
	ErrInsufficientShortfall  = errors.New("lending: insufficient shortfall")
	ErrSelfLiquidation        = errors.New("lending: self liquidation")
	ErrRemainingDebt          = errors.New("lending: remaining debt")
	ErrInsufficientBalance    = errors.New("lending: insufficient balance")
	ErrInsufficientAllowance  = errors.New("lending: insufficient allowance")
	ErrNotMarket              = errors.New("lending: caller is not a listed market")
	ErrPaused                 = errors.New("lending: market paused")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrInsufficientLiquidity, "insufficient_liquidity"},
	{ErrUtilizationExceeded, "insufficient_liquidity"},
	{ErrTooMuchSlippage, "too_much_slippage"},
	{ErrMarketNotListed, "market_not_listed"},
	{ErrMarketAlreadyListed, "market_already_listed"},
	{ErrInvalidPoolState, "invalid_pool_state"},
	{ErrInsufficientCollateral, "insufficient_collateral"},
	{ErrArithmeticOverflow, "arithmetic_overflow"},
	{ErrMaturityOverflow, "arithmetic_overflow"},
	{ErrPriceError, "price_error"},
	{ErrZeroAmount, "zero_amount"},
	{ErrZeroWithdraw, "zero_amount"},
	{ErrZeroRepay, "zero_amount"},
	{ErrReentrancy, "reentrancy"},
	{ErrNotInTransaction, "reentrancy"},
	{ErrUnauthorized, "unauthorized"},
	{ErrNotMarket, "unauthorized"},
	{ErrInvalidParameter, "invalid_parameter"},
	{ErrInsufficientShortfall, "insufficient_shortfall"},
	{ErrSelfLiquidation, "self_liquidation"},
	{ErrRemainingDebt, "remaining_debt"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrInsufficientAllowance, "insufficient_balance"},
	{ErrPaused, "paused"},
}

// Kind returns a stable label for err's taxonomy entry, or "internal" when
// err does not wrap any of them.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}
