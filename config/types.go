package config

import (
	"github.com/shopspring/decimal"

	"fixedlend/native/lending/oracle"
)

// Config is a deployment of the protocol plus the simulation driving it.
// Fractions and amounts are decimal strings so they convert to fixed point
// without float rounding.
type Config struct {
	Protocol   Protocol   `toml:"protocol"`
	Markets    []Market   `toml:"markets"`
	Rewards    []Reward   `toml:"rewards"`
	Simulation Simulation `toml:"simulation"`
}

// Protocol holds the parameters shared by every market and the auditor.
type Protocol struct {
	Treasury                        string               `toml:"treasury"`
	TreasuryFeeRate                 decimal.Decimal      `toml:"treasuryFeeRate"`
	PenaltyRatePerDay               decimal.Decimal      `toml:"penaltyRatePerDay"`
	BackupFeeRate                   decimal.Decimal      `toml:"backupFeeRate"`
	ReserveFactor                   decimal.Decimal      `toml:"reserveFactor"`
	FuturePools                     uint64               `toml:"futurePools"`
	EarningsAccumulatorSmoothFactor decimal.Decimal      `toml:"earningsAccumulatorSmoothFactor"`
	MaxPriceAge                     uint64               `toml:"maxPriceAge"`
	DampSpeed                       DampSpeed            `toml:"dampSpeed"`
	LiquidationIncentive            LiquidationIncentive `toml:"liquidationIncentive"`
	// Rewards is the allocation model of dynamic rewards without their own.
	Rewards *RewardModel `toml:"rewards"`
}

type DampSpeed struct {
	Up   decimal.Decimal `toml:"up"`
	Down decimal.Decimal `toml:"down"`
}

type LiquidationIncentive struct {
	Liquidator decimal.Decimal `toml:"liquidator"`
	Lenders    decimal.Decimal `toml:"lenders"`
}

// Market lists one asset.
type Market struct {
	Symbol       string          `toml:"symbol"`
	Decimals     uint8           `toml:"decimals"`
	AdjustFactor decimal.Decimal `toml:"adjustFactor"`
	// Model is "hyperbolic" (default) or "sigmoid".
	Model         string               `toml:"model"`
	FloatingCurve Curve                `toml:"floatingCurve"`
	FixedCurve    Curve                `toml:"fixedCurve"`
	Sigmoid       *Sigmoid             `toml:"sigmoid"`
	Price         oracle.ProcessParams `toml:"price"`
}

// Curve is R(U) = a/(maxUtilization-U) + b.
type Curve struct {
	A              decimal.Decimal `toml:"a"`
	B              decimal.Decimal `toml:"b"`
	MaxUtilization decimal.Decimal `toml:"maxUtilization"`
}

// Sigmoid configures the sigmoid model on top of the floating curve.
type Sigmoid struct {
	NaturalUtilization decimal.Decimal `toml:"naturalUtilization"`
	SigmoidSpeed       decimal.Decimal `toml:"sigmoidSpeed"`
	GrowthSpeed        decimal.Decimal `toml:"growthSpeed"`
	MaxRate            decimal.Decimal `toml:"maxRate"`
	SpreadFactor       decimal.Decimal `toml:"spreadFactor"`
	MaturitySpeed      decimal.Decimal `toml:"maturitySpeed"`
	TimePreference     decimal.Decimal `toml:"timePreference"`
}

// Reward releases Total of the Token reward over Period seconds. Start is
// absolute; zero means the simulation start. Static rewards release
// linearly and give DepositAllocation to depositors. Dynamic rewards follow
// Model, or protocol.rewards without one, and hold emissions back while the
// market's debt is below Debt, in units of the market's asset.
type Reward struct {
	Market            string          `toml:"market"`
	Token             string          `toml:"token"`
	Decimals          uint8           `toml:"decimals"`
	Start             uint64          `toml:"start"`
	Period            uint64          `toml:"period"`
	Total             decimal.Decimal `toml:"total"`
	DepositAllocation decimal.Decimal `toml:"depositAllocation"`
	Dynamic           bool            `toml:"dynamic"`
	Debt              decimal.Decimal `toml:"debt"`
	Model             *RewardModel    `toml:"model"`
}

// RewardModel parameterises the utilization-driven reward allocation.
type RewardModel struct {
	UndistributedFactor           decimal.Decimal `toml:"undistributedFactor"`
	FlipSpeed                     decimal.Decimal `toml:"flipSpeed"`
	CompensationFactor            decimal.Decimal `toml:"compensationFactor"`
	TransitionFactor              decimal.Decimal `toml:"transitionFactor"`
	BorrowAllocationWeightFactor  decimal.Decimal `toml:"borrowAllocationWeightFactor"`
	DepositAllocationWeightAddend decimal.Decimal `toml:"depositAllocationWeightAddend"`
	DepositAllocationWeightFactor decimal.Decimal `toml:"depositAllocationWeightFactor"`
}

// Simulation drives the protocol with scripted agents.
type Simulation struct {
	// Start is the first timestamp. It must sit on a maturity boundary.
	Start       uint64 `toml:"start"`
	StepSeconds uint64 `toml:"stepSeconds"`
	Steps       int    `toml:"steps"`
	// CheckpointEvery persists protocol state every that many steps when
	// DataDir is set. Zero checkpoints only at the end.
	CheckpointEvery int        `toml:"checkpointEvery"`
	DataDir         string     `toml:"dataDir"`
	Liquidator      Liquidator `toml:"liquidator"`
	Agents          []Agent    `toml:"agents"`
}

// Liquidator configures the keeper that repays accounts in shortfall.
type Liquidator struct {
	Enabled bool `toml:"enabled"`
	// Funds is how many units of each market's asset the keeper holds.
	Funds decimal.Decimal `toml:"funds"`
}

const (
	AgentSaver    = "saver"
	AgentBorrower = "borrower"
)

// Agent is a scripted account. Savers deposit Amount every Every steps;
// borrowers post CollateralAmount of Collateral once and then borrow Amount
// every Every steps. Maturity selects the nth open maturity, zero is the
// floating pool.
type Agent struct {
	Name             string          `toml:"name"`
	Kind             string          `toml:"kind"`
	Market           string          `toml:"market"`
	Amount           decimal.Decimal `toml:"amount"`
	Every            int             `toml:"every"`
	Maturity         int             `toml:"maturity"`
	Collateral       string          `toml:"collateral"`
	CollateralAmount decimal.Decimal `toml:"collateralAmount"`
}
