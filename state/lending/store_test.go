package lending_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fixedlend/config"
	"fixedlend/sim"
	statelending "fixedlend/state/lending"
	"fixedlend/storage"
)

func deployment(t *testing.T) *sim.Environment {
	t.Helper()
	cfg := config.Default()
	cfg.Simulation.Steps = 4
	for i := range cfg.Markets {
		cfg.Markets[i].Price.Steps = 4
	}
	env, err := sim.NewEnvironment(context.Background(), cfg)
	require.NoError(t, err)
	return env
}

func populate(t *testing.T, env *sim.Environment) {
	t.Helper()
	ctx := context.Background()
	saver := sim.NewSaver(config.Agent{Name: "saver", Kind: config.AgentSaver, Market: "DAI", Amount: decimal.NewFromInt(5000), Every: 1})
	fixedSaver := sim.NewSaver(config.Agent{Name: "fixed", Kind: config.AgentSaver, Market: "DAI", Amount: decimal.NewFromInt(1000), Every: 1, Maturity: 2})
	borrower := sim.NewBorrower(config.Agent{
		Name: "borrower", Kind: config.AgentBorrower, Market: "DAI", Amount: decimal.NewFromInt(700), Every: 1, Maturity: 1,
		Collateral: "WETH", CollateralAmount: decimal.NewFromInt(2),
	})
	for _, agent := range []sim.Agent{saver, fixedSaver, borrower} {
		require.NoError(t, agent.Step(ctx, env, 1))
	}
	env.Clock.Advance(3600)
}

func TestStoreSaveLoad(t *testing.T) {
	env := deployment(t)
	populate(t, env)
	store := statelending.NewStore(storage.NewMemDB())

	cp := statelending.Capture(1, env.Clock.Now(), env.Auditor)
	require.Len(t, cp.Markets, 2)
	require.NoError(t, store.Save("run", cp))

	loaded, err := store.Load("run", 1)
	require.NoError(t, err)
	require.Equal(t, cp.Step, loaded.Step)
	require.Equal(t, cp.Timestamp, loaded.Timestamp)
	require.Equal(t, cp.Auditor.Memberships, loaded.Auditor.Memberships)
	require.Equal(t, cp.Markets[0].Positions, loaded.Markets[0].Positions)
	require.Equal(t, cp.Markets[0].FloatingAssets, loaded.Markets[0].FloatingAssets)

	_, err = store.Load("run", 2)
	require.ErrorIs(t, err, statelending.ErrNoCheckpoint)
	_, err = store.Load("other", 1)
	require.ErrorIs(t, err, statelending.ErrNoCheckpoint)
}

func TestStoreStepsAndLatest(t *testing.T) {
	env := deployment(t)
	store := statelending.NewStore(storage.NewMemDB())

	_, err := store.Latest("run")
	require.ErrorIs(t, err, statelending.ErrNoCheckpoint)

	for _, step := range []uint64{300, 2, 256} {
		require.NoError(t, store.Save("run", statelending.Capture(step, env.Clock.Now(), env.Auditor)))
	}
	require.NoError(t, store.Save("run-2", statelending.Capture(7, env.Clock.Now(), env.Auditor)))

	steps, err := store.Steps("run")
	require.NoError(t, err)
	require.Equal(t, []uint64{2, 256, 300}, steps)

	latest, err := store.Latest("run")
	require.NoError(t, err)
	require.Equal(t, uint64(300), latest.Step)

	require.Error(t, store.Save(" ", statelending.Capture(1, 0, env.Auditor)))
}

func TestApplyRestoresDeployment(t *testing.T) {
	env := deployment(t)
	populate(t, env)
	db, err := storage.NewLevelDB(filepath.Join(t.TempDir(), "checkpoints"))
	require.NoError(t, err)
	defer db.Close()
	store := statelending.NewStore(db)

	live := statelending.Capture(1, env.Clock.Now(), env.Auditor)
	require.NoError(t, store.Save("run", live))
	loaded, err := store.Latest("run")
	require.NoError(t, err)

	fresh := deployment(t)
	require.NoError(t, statelending.Apply(loaded, fresh.Auditor))
	again := statelending.Capture(1, env.Clock.Now(), fresh.Auditor)
	require.Equal(t, live.Markets, again.Markets)
	require.Equal(t, live.Auditor, again.Auditor)

	borrower := sim.AccountAddress("borrower")
	require.Len(t, fresh.Auditor.AccountMarkets(borrower), 2)
	dai, err := fresh.Market("DAI")
	require.NoError(t, err)
	overview, err := dai.AccountOverview(borrower)
	require.NoError(t, err)
	require.Len(t, overview.FixedBorrows, 1)
}

func TestApplyRejectsUnlistedMarket(t *testing.T) {
	env := deployment(t)
	cp := statelending.Capture(1, env.Clock.Now(), env.Auditor)
	cp.Markets[1].Symbol = "USDC"
	require.Error(t, statelending.Apply(cp, env.Auditor))
}
