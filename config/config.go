// Package config loads the TOML description of a protocol deployment and
// the simulation that drives it, and converts it into engine parameters.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"fixedlend/native/lending/oracle"
)

const (
	ModelHyperbolic = "hyperbolic"
	ModelSigmoid    = "sigmoid"
)

// DefaultStart is the default simulation start, a maturity boundary.
const DefaultStart uint64 = 700 * 4 * 7 * 24 * 60 * 60

// Load loads the configuration from the given path. A missing file is
// created with the defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a configuration held in memory.
func Parse(data string) (*Config, error) {
	cfg := &Config{}
	meta, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config key %s", undecoded[0])
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Protocol.FuturePools == 0 {
		c.Protocol.FuturePools = 6
	}
	if c.Simulation.Start == 0 {
		c.Simulation.Start = DefaultStart
	}
	if c.Simulation.StepSeconds == 0 {
		c.Simulation.StepSeconds = 3600
	}
	for i := range c.Markets {
		m := &c.Markets[i]
		m.Symbol = strings.ToUpper(strings.TrimSpace(m.Symbol))
		if m.Decimals == 0 {
			m.Decimals = 18
		}
		if m.Model == "" {
			m.Model = ModelHyperbolic
		}
	}
	for i := range c.Rewards {
		r := &c.Rewards[i]
		r.Market = strings.ToUpper(strings.TrimSpace(r.Market))
		r.Token = strings.ToUpper(strings.TrimSpace(r.Token))
		if r.Decimals == 0 {
			r.Decimals = 18
		}
		if r.Start == 0 {
			r.Start = c.Simulation.Start
		}
	}
	for i := range c.Simulation.Agents {
		a := &c.Simulation.Agents[i]
		a.Market = strings.ToUpper(strings.TrimSpace(a.Market))
		a.Collateral = strings.ToUpper(strings.TrimSpace(a.Collateral))
	}
}

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func defaultCurve() Curve {
	return Curve{A: mustDecimal("0.0023"), B: mustDecimal("-0.0025"), MaxUtilization: mustDecimal("1.02")}
}

func defaultMarket(symbol string, price float64) Market {
	return Market{
		Symbol:        symbol,
		Decimals:      18,
		AdjustFactor:  mustDecimal("0.9"),
		Model:         ModelHyperbolic,
		FloatingCurve: defaultCurve(),
		FixedCurve:    defaultCurve(),
		Price: oracle.ProcessParams{
			InitialPrice: price,
			Mean:         price,
			StdDev:       0.01 * price,
			Theta:        3,
			T0:           0,
			TN:           100,
			Steps:        2500,
		},
	}
}

// Default returns a two market deployment with savers, a borrower and a
// liquidator.
func Default() *Config {
	cfg := &Config{
		Protocol: Protocol{
			TreasuryFeeRate:                 decimal.Zero,
			PenaltyRatePerDay:               mustDecimal("0.02"),
			BackupFeeRate:                   mustDecimal("0.1"),
			ReserveFactor:                   mustDecimal("0.1"),
			FuturePools:                     6,
			EarningsAccumulatorSmoothFactor: mustDecimal("2"),
			DampSpeed:                       DampSpeed{Up: mustDecimal("0.0046"), Down: mustDecimal("0.42")},
			LiquidationIncentive:            LiquidationIncentive{Liquidator: mustDecimal("0.09"), Lenders: mustDecimal("0.01")},
			Rewards: &RewardModel{
				UndistributedFactor:           mustDecimal("0.5"),
				FlipSpeed:                     mustDecimal("2"),
				CompensationFactor:            mustDecimal("0.85"),
				TransitionFactor:              mustDecimal("0.64"),
				BorrowAllocationWeightFactor:  decimal.Zero,
				DepositAllocationWeightAddend: mustDecimal("0.02"),
				DepositAllocationWeightFactor: mustDecimal("0.01"),
			},
		},
		Markets: []Market{defaultMarket("DAI", 1), defaultMarket("WETH", 2000)},
		Simulation: Simulation{
			Start:           DefaultStart,
			StepSeconds:     3600,
			Steps:           2500,
			CheckpointEvery: 500,
			Liquidator:      Liquidator{Enabled: true, Funds: mustDecimal("10000000")},
			Agents: []Agent{
				{Name: "dai-saver", Kind: AgentSaver, Market: "DAI", Amount: mustDecimal("10000"), Every: 24},
				{Name: "dai-fixed-saver", Kind: AgentSaver, Market: "DAI", Amount: mustDecimal("2000"), Every: 48, Maturity: 1},
				{Name: "weth-borrower", Kind: AgentBorrower, Market: "DAI", Amount: mustDecimal("500"), Every: 24, Collateral: "WETH", CollateralAmount: mustDecimal("10")},
				{Name: "weth-fixed-borrower", Kind: AgentBorrower, Market: "DAI", Amount: mustDecimal("300"), Every: 72, Maturity: 1, Collateral: "WETH", CollateralAmount: mustDecimal("5")},
			},
		},
	}
	return cfg
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
