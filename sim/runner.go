package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"fixedlend/native/lending"
	statelending "fixedlend/state/lending"
)

// Result summarises a finished run.
type Result struct {
	RunID string
	Steps int
	// Timestamp is the protocol time after the last step.
	Timestamp   uint64
	Failures    map[string]int
	Checkpoints []uint64
}

// Runner advances an environment step by step.
type Runner struct {
	env        *Environment
	prices     []*PriceChanger
	agents     []Agent
	liquidator *Liquidator
	store      *statelending.Store
	runID      string
	logger     *slog.Logger
}

type runnerOptions struct {
	store *statelending.Store
	runID string
	rng   *rand.Rand
}

// RunnerOption customises NewRunner.
type RunnerOption func(*runnerOptions)

// WithStore checkpoints the run into store.
func WithStore(store *statelending.Store) RunnerOption {
	return func(o *runnerOptions) { o.store = store }
}

// WithRunID replaces the generated run identifier.
func WithRunID(id string) RunnerOption {
	return func(o *runnerOptions) { o.runID = id }
}

// WithRand seeds price paths that carry no seed of their own.
func WithRand(rng *rand.Rand) RunnerOption {
	return func(o *runnerOptions) { o.rng = rng }
}

// NewRunner builds the price changers, agents and liquidator the
// environment's simulation section describes.
func NewRunner(env *Environment, opts ...RunnerOption) (*Runner, error) {
	o := runnerOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	r := &Runner{
		env:    env,
		store:  o.store,
		runID:  o.runID,
		logger: env.logger.With("run", o.runID),
	}
	for _, mc := range env.Config.Markets {
		p, err := NewPriceChanger(mc.Symbol, mc.Price, o.rng)
		if err != nil {
			return nil, err
		}
		r.prices = append(r.prices, p)
	}
	var accounts []common.Address
	for _, ac := range env.Config.Simulation.Agents {
		agent, err := NewAgent(ac)
		if err != nil {
			return nil, err
		}
		r.agents = append(r.agents, agent)
		accounts = append(accounts, AccountAddress(ac.Name))
	}
	if env.Config.Simulation.Liquidator.Enabled {
		liquidator, err := NewLiquidator(env, accounts)
		if err != nil {
			return nil, err
		}
		r.liquidator = liquidator
	}
	return r, nil
}

// RunID identifies the run in checkpoints and logs.
func (r *Runner) RunID() string { return r.runID }

// Liquidator returns the run's liquidator, nil when disabled.
func (r *Runner) Liquidator() *Liquidator { return r.liquidator }

// Run executes every configured step. Failed agent actions are logged and
// counted; only checkpoint failures and cancellation stop the run.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	cfg := r.env.Config.Simulation
	res := Result{RunID: r.runID, Failures: make(map[string]int)}
	started := time.Now()
	r.logger.Info("simulation started", "steps", cfg.Steps, "markets", len(r.env.Markets), "agents", len(r.agents))

	for step := 1; step <= cfg.Steps; step++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		r.env.Clock.Advance(cfg.StepSeconds)
		for _, p := range r.prices {
			if err := p.Step(ctx, r.env, step); err != nil {
				return res, err
			}
		}
		for _, agent := range r.agents {
			r.act(ctx, agent, step, res.Failures)
		}
		if r.liquidator != nil {
			r.act(ctx, r.liquidator, step, res.Failures)
		}
		r.env.PublishMetrics()
		res.Steps = step

		if cfg.CheckpointEvery > 0 && step%cfg.CheckpointEvery == 0 {
			if err := r.checkpoint(uint64(step), &res); err != nil {
				return res, err
			}
		}
	}
	res.Timestamp = r.env.Clock.Now()
	if n := len(res.Checkpoints); n == 0 || res.Checkpoints[n-1] != uint64(res.Steps) {
		if err := r.checkpoint(uint64(res.Steps), &res); err != nil {
			return res, err
		}
	}
	r.logger.Info("simulation finished",
		"steps", res.Steps,
		"timestamp", res.Timestamp,
		"failures", len(res.Failures),
		"elapsed", time.Since(started).String(),
	)
	return res, nil
}

func (r *Runner) act(ctx context.Context, agent Agent, step int, failures map[string]int) {
	if err := agent.Step(ctx, r.env, step); err != nil {
		kind := lending.Kind(err)
		failures[kind]++
		r.logger.Warn("agent action failed", "agent", agent.Name(), "step", step, "kind", kind, "error", err)
	}
}

func (r *Runner) checkpoint(step uint64, res *Result) error {
	if r.store == nil {
		return nil
	}
	cp := statelending.Capture(step, r.env.Clock.Now(), r.env.Auditor)
	if err := r.store.Save(r.runID, cp); err != nil {
		return fmt.Errorf("checkpoint step %d: %w", step, err)
	}
	res.Checkpoints = append(res.Checkpoints, step)
	r.logger.Debug("checkpoint saved", "step", step)
	return nil
}
