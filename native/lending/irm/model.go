// Package irm implements the interest rate curves used by the markets. Every
// model is immutable once built and safe to share between markets.
package irm

import (
	"github.com/holiman/uint256"

	"fixedlend/native/lending/wad"
)

// Year is the period rates are quoted for.
const Year uint64 = 365 * 24 * 60 * 60

// Utilization is the market state a rate is priced from. All values are
// WAD fractions of the floating pool's assets.
type Utilization struct {
	// Floating is floating debt over floating assets.
	Floating *uint256.Int
	// Global is all floating pool lending (floating debt plus backup
	// lending into maturities) over floating assets.
	Global *uint256.Int
	// FixedBefore and FixedAfter bracket the maturity's backup lending
	// over floating assets around the priced operation.
	FixedBefore *uint256.Int
	FixedAfter  *uint256.Int
}

// Model prices floating and fixed borrows.
type Model interface {
	// FloatingRate returns the annual floating borrow rate.
	FloatingRate(u Utilization) (*uint256.Int, error)
	// FixedRate returns the rate charged for borrowing from now until
	// maturity, already scaled by the time left.
	FixedRate(maturity, now, maxPools uint64, u Utilization) (*uint256.Int, error)
}

// FloatingUtilization returns debt over assets, rounded up.
func FloatingUtilization(assets, debt *uint256.Int) *uint256.Int {
	if assets.IsZero() {
		return new(uint256.Int)
	}
	return wad.DivWadUp(debt, assets)
}

// FixedUtilization returns the backup lending a maturity needs over the
// floating pool's backup capacity, rounded up.
func FixedUtilization(supplied, borrowed, backupAssets *uint256.Int) *uint256.Int {
	if backupAssets.IsZero() {
		return new(uint256.Int)
	}
	return wad.DivWadUp(wad.Sub(borrowed, wad.Min(supplied, borrowed)), backupAssets)
}

// GlobalUtilization returns the floating pool's total lending over its
// assets.
func GlobalUtilization(assets, debt, backupBorrowed *uint256.Int) *uint256.Int {
	if assets.IsZero() {
		return new(uint256.Int)
	}
	lent := wad.Add(debt, backupBorrowed)
	idle := wad.SaturatingSub(assets, lent)
	return wad.SaturatingSub(wad.One(), wad.DivWadDown(idle, assets))
}

// YieldForDeposit returns the share of a maturity's unassigned earnings a
// deposit of amount captures by displacing backup lending, and the backup
// fee withheld from it for the floating pool.
func YieldForDeposit(backupSupplied, unassignedEarnings, amount, backupFeeRate *uint256.Int) (yield, backupFee *uint256.Int) {
	if backupSupplied.IsZero() {
		return new(uint256.Int), new(uint256.Int)
	}
	yield = wad.MulDivDown(unassignedEarnings, wad.Min(amount, backupSupplied), backupSupplied)
	backupFee = wad.MulWadDown(yield, backupFeeRate)
	return wad.Sub(yield, backupFee), backupFee
}

// scaleByTime converts an annual rate into the rate for the time left until
// maturity.
func scaleByTime(rate *uint256.Int, maturity, now uint64) *uint256.Int {
	return wad.MulDivDown(rate, uint256.NewInt(maturity-now), uint256.NewInt(Year))
}
