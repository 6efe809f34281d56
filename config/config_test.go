package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fixedlend/native/lending/irm"
	"fixedlend/native/lending/wad"
)

const sample = `
[protocol]
treasury = "0x5000000000000000000000000000000000000005"
treasuryFeeRate = "0.1"
penaltyRatePerDay = "0.0864"
backupFeeRate = "0.1"
reserveFactor = "0.1"
futurePools = 3
earningsAccumulatorSmoothFactor = "1"
maxPriceAge = 3600

[protocol.dampSpeed]
up = "0.0046"
down = "0.42"

[protocol.liquidationIncentive]
liquidator = "0.09"
lenders = "0.01"

[[markets]]
symbol = "dai"
adjustFactor = "0.9"

[markets.floatingCurve]
a = "0.0023"
b = "-0.0025"
maxUtilization = "1.02"

[markets.fixedCurve]
a = "0.0023"
b = "-0.0025"
maxUtilization = "1.02"

[markets.price]
initialPrice = 1.0
mean = 1.0
stdDev = 0.01
theta = 3.0
t0 = 0.0
tN = 100.0
steps = 100
seed = 7

[[markets]]
symbol = "WETH"
decimals = 18
adjustFactor = "0.8"
model = "sigmoid"

[markets.floatingCurve]
a = "0.0023"
b = "0.002"
maxUtilization = "1.02"

[markets.sigmoid]
naturalUtilization = "0.7"
sigmoidSpeed = "2.5"
growthSpeed = "1"
maxRate = "0.5"
spreadFactor = "0.2"
maturitySpeed = "0.5"
timePreference = "0.01"

[markets.price]
initialPrice = 2000.0
mean = 2000.0
stdDev = 20.0
theta = 3.0
t0 = 0.0
tN = 100.0
steps = 100

[[rewards]]
market = "dai"
token = "op"
period = 86400
total = "1000"
depositAllocation = "0.5"

[[rewards]]
market = "weth"
token = "op"
period = 86400
total = "500"
dynamic = true
debt = "250"

[rewards.model]
undistributedFactor = "0.5"
flipSpeed = "2"
compensationFactor = "0.85"
transitionFactor = "0.64"
borrowAllocationWeightFactor = "0"
depositAllocationWeightAddend = "0.02"
depositAllocationWeightFactor = "0.01"

[simulation]
stepSeconds = 600
steps = 100

[simulation.liquidator]
enabled = true
funds = "1000000"

[[simulation.agents]]
name = "saver"
kind = "saver"
market = "DAI"
amount = "1000"
every = 1

[[simulation.agents]]
name = "borrower"
kind = "borrower"
market = "DAI"
amount = "10"
every = 5
maturity = 1
collateral = "weth"
collateralAmount = "1"
`

func TestParseAppliesDefaultsAndNormalises(t *testing.T) {
	cfg, err := Parse(sample)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Simulation.Start != DefaultStart {
		t.Fatalf("expected default start, got %d", cfg.Simulation.Start)
	}
	dai, ok := cfg.Market("DAI")
	if !ok || dai.Symbol != "DAI" || dai.Decimals != 18 || dai.Model != ModelHyperbolic {
		t.Fatalf("unexpected dai market: %+v", dai)
	}
	if cfg.Rewards[0].Start != DefaultStart || cfg.Rewards[0].Token != "OP" {
		t.Fatalf("unexpected reward: %+v", cfg.Rewards[0])
	}
	if cfg.Simulation.Agents[1].Collateral != "WETH" {
		t.Fatalf("collateral symbol not normalised: %q", cfg.Simulation.Agents[1].Collateral)
	}
	if seed := dai.Price.Seed; seed == nil || *seed != 7 {
		t.Fatalf("expected seed 7, got %v", seed)
	}
}

func TestProtocolConversion(t *testing.T) {
	cfg, err := Parse(sample)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	params, err := cfg.Protocol.MarketParams()
	if err != nil {
		t.Fatalf("market params: %v", err)
	}
	// 0.0864 per day is 1e-6 per second.
	if got := wad.Format(params.PenaltyRate); got != "0.000001" {
		t.Fatalf("penalty rate %s", got)
	}
	if params.MaxFuturePools != 3 || wad.Format(params.TreasuryFeeRate) != "0.1" {
		t.Fatalf("unexpected params %+v", params)
	}
	if params.Treasury.Hex() != "0x5000000000000000000000000000000000000005" {
		t.Fatalf("treasury %s", params.Treasury.Hex())
	}

	incentive, err := cfg.Protocol.Incentive()
	if err != nil {
		t.Fatalf("incentive: %v", err)
	}
	if wad.Format(incentive.Liquidator) != "0.09" || wad.Format(incentive.Lenders) != "0.01" {
		t.Fatalf("unexpected incentive %+v", incentive)
	}

	dai, _ := cfg.Market("DAI")
	model, err := dai.InterestRateModel()
	if err != nil {
		t.Fatalf("dai model: %v", err)
	}
	h, ok := model.(*irm.Hyperbolic)
	if !ok {
		t.Fatalf("expected hyperbolic model, got %T", model)
	}
	if wad.FormatSigned(h.Floating.B) != "-0.0025" {
		t.Fatalf("curve b %s", wad.FormatSigned(h.Floating.B))
	}

	weth, _ := cfg.Market("WETH")
	model, err = weth.InterestRateModel()
	if err != nil {
		t.Fatalf("weth model: %v", err)
	}
	if _, ok := model.(*irm.Sigmoid); !ok {
		t.Fatalf("expected sigmoid model, got %T", model)
	}

	units, err := Units(cfg.Simulation.Liquidator.Funds, 6)
	if err != nil {
		t.Fatalf("units: %v", err)
	}
	if units.Uint64() != 1_000_000_000_000 {
		t.Fatalf("units %s", units)
	}
}

func TestRewardAllocation(t *testing.T) {
	cfg, err := Parse(sample)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	static, err := cfg.Allocation(cfg.Rewards[0], 18)
	if err != nil || static != nil {
		t.Fatalf("static reward converted to %+v, %v", static, err)
	}

	dynamic, err := cfg.Allocation(cfg.Rewards[1], 6)
	if err != nil {
		t.Fatalf("allocation: %v", err)
	}
	if dynamic.TargetDebt.Uint64() != 250_000_000 {
		t.Fatalf("target debt %s", dynamic.TargetDebt)
	}
	if wad.Format(dynamic.TransitionFactor) != "0.64" || wad.Format(dynamic.CompensationFactor) != "0.85" {
		t.Fatalf("unexpected allocation %+v", dynamic)
	}
	if !dynamic.BorrowAllocationWeightFactor.IsZero() {
		t.Fatalf("borrow weight %s", dynamic.BorrowAllocationWeightFactor)
	}

	// Without a model of its own a dynamic reward uses protocol.rewards.
	fallback := cfg.Rewards[1]
	fallback.Model = nil
	cfg.Protocol.Rewards = Default().Protocol.Rewards
	if _, err := cfg.Allocation(fallback, 18); err != nil {
		t.Fatalf("fallback allocation: %v", err)
	}
	cfg.Protocol.Rewards = nil
	if _, err := cfg.Allocation(fallback, 18); err == nil {
		t.Fatal("expected an error without any model")
	}
}

func TestValidateDynamicRewards(t *testing.T) {
	cfg := Default()
	cfg.Protocol.Rewards = nil
	cfg.Rewards = []Reward{
		{Market: "DAI", Token: "OP", Decimals: 18, Start: DefaultStart, Period: 86400, Total: mustDecimal("1"), Dynamic: true},
		{Market: "DAI", Token: "OP", Decimals: 18, Start: DefaultStart, Period: 86400, Total: mustDecimal("1"), Dynamic: true,
			Debt: mustDecimal("10"), Model: &RewardModel{TransitionFactor: mustDecimal("1"), FlipSpeed: mustDecimal("-1")}},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"rewards[0]: dynamic rewards need a positive debt",
		"rewards[0]: dynamic rewards need a model",
		"rewards[1]: transitionFactor",
		"rewards[1]: flipSpeed must not be negative",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
	if strings.Contains(err.Error(), "depositAllocation") {
		t.Fatalf("dynamic rewards checked for a deposit allocation: %v", err)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse(sample + "\nfoo = 1\n")
	if err == nil || !strings.Contains(err.Error(), "unknown config key") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Protocol.ReserveFactor = mustDecimal("1")
	cfg.Markets[1].Symbol = "DAI"
	cfg.Simulation.Agents[0].Kind = "gambler"
	cfg.Simulation.Start = DefaultStart + 1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"reserveFactor", "duplicate symbol", "unknown kind", "simulation: start"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "fixedlend.toml")
	created, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(loaded.Markets) != len(created.Markets) || loaded.Simulation.Steps != created.Simulation.Steps {
		t.Fatalf("reloaded config differs: %+v", loaded.Simulation)
	}
	if !loaded.Protocol.PenaltyRatePerDay.Equal(created.Protocol.PenaltyRatePerDay) {
		t.Fatalf("penalty rate %s != %s", loaded.Protocol.PenaltyRatePerDay, created.Protocol.PenaltyRatePerDay)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixedlend.toml")
	if err := os.WriteFile(path, []byte(sample+"\n[extra]\nkey = true\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "extra") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}
