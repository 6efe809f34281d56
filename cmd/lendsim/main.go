package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"

	"fixedlend/config"
	"fixedlend/core/events"
	"fixedlend/native/lending/wad"
	"fixedlend/observability"
	"fixedlend/observability/logging"
	"fixedlend/observability/metrics"
	"fixedlend/sim"
	statelending "fixedlend/state/lending"
	"fixedlend/storage"
)

type eventCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *eventCounter) Emit(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[e.EventType()]++
}

type marketReport struct {
	Symbol         string `json:"symbol"`
	TotalAssets    string `json:"totalAssets"`
	FloatingAssets string `json:"floatingAssets"`
	FloatingDebt   string `json:"floatingDebt"`
	BackupBorrowed string `json:"backupBorrowed"`
	FloatingRate   string `json:"floatingRate"`
	Pools          int    `json:"pools"`
}

type report struct {
	RunID       string         `json:"runId"`
	Steps       int            `json:"steps"`
	Timestamp   uint64         `json:"timestamp"`
	Checkpoints []uint64       `json:"checkpoints,omitempty"`
	Failures    map[string]int `json:"failures"`
	Events      map[string]int `json:"events"`
	Markets     []marketReport `json:"markets"`
}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "./fixedlend.toml", "Path to the protocol and simulation configuration")
	steps := flag.Int("steps", 0, "Override the number of simulation steps")
	seed := flag.Int64("seed", 0, "Seed for price paths without a configured seed (0 draws one)")
	dataDir := flag.String("data-dir", "", "Directory checkpoints are written to, overriding the configuration")
	runID := flag.String("run-id", "", "Run identifier (default: random UUID)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn or error")
	logFile := flag.String("log-file", "", "Also write logs to this rotated file")
	flag.Parse()

	opts := []logging.Option{logging.WithLevel(logging.ParseLevel(*logLevel)), logging.WithOutput(os.Stderr)}
	if *logFile != "" {
		opts = append(opts, logging.WithFile(*logFile, 100, 3, 28))
	}
	logger := logging.Setup("lendsim", strings.TrimSpace(os.Getenv("FIXEDLEND_ENV")), opts...)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	if *steps > 0 {
		cfg.Simulation.Steps = *steps
	}
	if *dataDir != "" {
		cfg.Simulation.DataDir = *dataDir
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	counter := &eventCounter{}
	env, err := sim.NewEnvironment(ctx, cfg,
		sim.WithLogger(logger),
		sim.WithEmitter(counter),
		sim.WithMetrics(observability.Lending()),
		sim.WithRewardsMetrics(metrics.Rewards()),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build environment: %v\n", err)
		return 1
	}

	runnerOpts := []sim.RunnerOption{}
	if *runID != "" {
		runnerOpts = append(runnerOpts, sim.WithRunID(*runID))
	}
	if *seed != 0 {
		runnerOpts = append(runnerOpts, sim.WithRand(rand.New(rand.NewSource(*seed))))
	}
	if dir := strings.TrimSpace(cfg.Simulation.DataDir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create data dir: %v\n", err)
			return 1
		}
		db, err := storage.NewLevelDB(filepath.Join(dir, "checkpoints"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open checkpoint store: %v\n", err)
			return 1
		}
		defer db.Close()
		runnerOpts = append(runnerOpts, sim.WithStore(statelending.NewStore(db)))
	}

	runner, err := sim.NewRunner(env, runnerOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build runner: %v\n", err)
		return 1
	}
	res, runErr := runner.Run(ctx)
	if runErr != nil {
		logger.Error("simulation stopped", "step", res.Steps, "error", runErr)
	}

	out := report{
		RunID:       res.RunID,
		Steps:       res.Steps,
		Timestamp:   res.Timestamp,
		Checkpoints: res.Checkpoints,
		Failures:    res.Failures,
		Events:      counter.counts,
	}
	for _, m := range env.Markets {
		overview, err := m.Overview()
		if err != nil {
			logger.Warn("market overview failed", "market", m.Symbol(), "error", err)
			continue
		}
		out.Markets = append(out.Markets, marketReport{
			Symbol:         overview.Symbol,
			TotalAssets:    wad.Format(overview.TotalAssets),
			FloatingAssets: wad.Format(overview.FloatingAssets),
			FloatingDebt:   wad.Format(overview.FloatingDebt),
			BackupBorrowed: wad.Format(overview.FloatingBackupBorrowed),
			FloatingRate:   wad.Format(overview.FloatingRate),
			Pools:          len(overview.Pools),
		})
	}
	sort.Slice(out.Markets, func(i, j int) bool { return out.Markets[i].Symbol < out.Markets[j].Symbol })

	output, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode report: %v\n", err)
		return 1
	}
	fmt.Println(string(output))
	if runErr != nil {
		return 1
	}
	return 0
}
