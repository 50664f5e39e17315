package engine

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/chronicle/internal/config"
	"github.com/talgya/chronicle/internal/economy"
	"github.com/talgya/chronicle/internal/event"
	"github.com/talgya/chronicle/internal/social"
	"github.com/talgya/chronicle/internal/state"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Seed = 42
	cfg.World.Radius = 16
	cfg.World.Factions = 3
	cfg.World.SettlementsPerFaction = 2
	cfg.World.CourtSize = 4
	cfg.History.StatsCapacity = 50
	// Busy markets so every run records history.
	cfg.ComplexEvents.Trade.ShortageChance = 0.2
	cfg.ComplexEvents.Trade.SurplusChance = 0.2
	return cfg
}

func newTestSim(t *testing.T, cfg config.Config) *Simulation {
	t.Helper()
	sim, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, sim.GenerateWorld(context.Background()))
	return sim
}

func asJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.World.Factions = 1
	_, err := New(cfg)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestGenerateWorld(t *testing.T) {
	sim := newTestSim(t, testConfig())

	factions := sim.Factions()
	require.Len(t, factions, 3)
	assert.Equal(t, "The Crown", factions[0].Name)
	total := 0
	for _, f := range factions {
		assert.NotEmpty(t, f.Settlements, "%s holds land", f.Name)
		assert.True(t, f.HasRuler())
		total += len(f.Settlements)
	}

	ms := sim.MarketStatus()
	assert.Len(t, ms.Markets, total)
	assert.Len(t, sim.DiplomaticStatus().Relationships, 3)
	assert.Len(t, sim.PoliticalStatus(), 3)
	assert.Len(t, sim.StatsHistory(), 1)
	assert.Zero(t, sim.Tick())

	require.ErrorIs(t, sim.GenerateWorld(context.Background()), ErrAlreadyGenerated)
}

func TestDuplicateTemplatesAreRenamed(t *testing.T) {
	cfg := testConfig()
	cfg.World.Radius = 20
	cfg.World.Factions = 6
	cfg.World.SettlementsPerFaction = 1
	sim := newTestSim(t, cfg)

	names := make(map[string]bool)
	for _, f := range sim.Factions() {
		assert.False(t, names[f.Name], "duplicate faction name %q", f.Name)
		names[f.Name] = true
	}
	assert.Len(t, names, 6)
}

func TestStepBeforeGenerate(t *testing.T) {
	sim, err := New(testConfig())
	require.NoError(t, err)
	require.ErrorIs(t, sim.ProcessTimeStep(context.Background(), 1), ErrNotGenerated)
}

func TestProcessTimeStep(t *testing.T) {
	sim := newTestSim(t, testConfig())
	ctx := context.Background()

	require.NoError(t, sim.ProcessTimeStep(ctx, 0))
	assert.Equal(t, uint64(1), sim.Tick(), "a zero step advances one tick")

	require.NoError(t, sim.ProcessTimeStep(ctx, 59))
	assert.Equal(t, uint64(60), sim.Tick())

	history := sim.QueryHistory(Criteria{})
	require.NotEmpty(t, history)
	for i := 1; i < len(history); i++ {
		assert.LessOrEqual(t, history[i-1].Tick, history[i].Tick, "history is in tick order")
	}

	stats := sim.StatsHistory()
	assert.Len(t, stats, 50, "stats are bounded")
	assert.Equal(t, uint64(60), stats[len(stats)-1].Tick)
}

func TestCancelledStep(t *testing.T) {
	sim := newTestSim(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sim.ProcessTimeStep(ctx, 5), context.Canceled)
	assert.Zero(t, sim.Tick())
}

func TestComplexEventsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.ComplexEvents.Enabled = false
	sim := newTestSim(t, cfg)
	require.NoError(t, sim.ProcessTimeStep(context.Background(), 30))
	assert.Empty(t, sim.QueryHistory(Criteria{}))
	assert.Equal(t, uint64(30), sim.Tick())
}

func TestDeterministicAcrossSchedules(t *testing.T) {
	parallel := testConfig()
	serial := testConfig()
	serial.ParallelUpdates = false

	a := newTestSim(t, parallel)
	b := newTestSim(t, serial)
	ctx := context.Background()
	require.NoError(t, a.ProcessTimeStep(ctx, 120))
	require.NoError(t, b.ProcessTimeStep(ctx, 120))

	assert.Equal(t, asJSON(t, a.QueryHistory(Criteria{})), asJSON(t, b.QueryHistory(Criteria{})))
	assert.Equal(t, asJSON(t, a.Export()), asJSON(t, b.Export()))
}

func TestDifferentSeedsDiverge(t *testing.T) {
	other := testConfig()
	other.Seed = 7
	a := newTestSim(t, testConfig())
	b := newTestSim(t, other)
	require.NoError(t, a.ProcessTimeStep(context.Background(), 30))
	require.NoError(t, b.ProcessTimeStep(context.Background(), 30))
	assert.NotEqual(t, asJSON(t, a.Export().World), asJSON(t, b.Export().World))
}

func TestExportImportReplays(t *testing.T) {
	ctx := context.Background()
	a := newTestSim(t, testConfig())
	require.NoError(t, a.ProcessTimeStep(ctx, 40))

	raw := asJSON(t, a.Export())
	var snap Snapshot
	require.NoError(t, json.Unmarshal([]byte(raw), &snap))

	b, err := New(testConfig())
	require.NoError(t, err)
	require.NoError(t, b.Import(snap))
	assert.True(t, b.Generated())
	assert.Equal(t, uint64(40), b.Tick())
	assert.Equal(t, raw, asJSON(t, b.Export()))

	require.NoError(t, a.ProcessTimeStep(ctx, 40))
	require.NoError(t, b.ProcessTimeStep(ctx, 40))
	assert.Equal(t, asJSON(t, a.Export()), asJSON(t, b.Export()))
}

func TestImportAdoptsSnapshotSeedUnderLock(t *testing.T) {
	a := newTestSim(t, testConfig())
	require.NoError(t, a.ProcessTimeStep(context.Background(), 5))
	snap := a.Export()

	other := testConfig()
	other.Seed = 7
	b, err := New(other)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.Import(snap))
		}()
		go func() {
			defer wg.Done()
			_ = b.Export()
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(42), b.Export().World.Seed)
	assert.Equal(t, uint64(5), b.Tick())
}

func TestFactionDetail(t *testing.T) {
	sim := newTestSim(t, testConfig())
	f := sim.Factions()[0]

	d, err := sim.Faction(f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.Name, d.Faction.Name)
	assert.Equal(t, f.ID, d.Politics.FactionID)
	assert.Len(t, d.Settlements, len(f.Settlements))
	assert.Len(t, d.Markets, len(f.Settlements))
	assert.Len(t, d.Relationships, 2)
	assert.Empty(t, d.Wars)

	_, err = sim.Faction(social.FactionID(9999))
	require.ErrorIs(t, err, state.ErrNotFound)
	_, err = sim.Market(9999)
	require.ErrorIs(t, err, state.ErrNotFound)

	m, err := sim.Market(f.Settlements[0])
	require.NoError(t, err)
	assert.Equal(t, "Spring", m.Season)
	assert.Len(t, m.Prices, len(economy.Commodities))
}

func TestQueriesReturnCopies(t *testing.T) {
	sim := newTestSim(t, testConfig())
	f := sim.Factions()[0]
	f.Resources.Gold = -1
	f.Settlements[0] = 0
	again := sim.Factions()[0]
	assert.NotEqual(t, -1.0, again.Resources.Gold)
	assert.NotZero(t, again.Settlements[0])
}

func TestInterventions(t *testing.T) {
	sim := newTestSim(t, testConfig())
	f := sim.Factions()[0]
	d, err := sim.Faction(f.ID)
	require.NoError(t, err)
	town := d.Settlements[0]

	m, err := sim.economy.Market(town.ID)
	require.NoError(t, err)
	before := m.Commodities[economy.Food].Supply

	desc, err := sim.ProvisionSettlement(town.Name, "food", 250)
	require.NoError(t, err)
	assert.Contains(t, desc, town.Name)
	assert.InDelta(t, before+250, m.Commodities[economy.Food].Supply, 1e-9)

	_, err = sim.ProvisionSettlement(town.Name, "spice", 10)
	require.ErrorIs(t, err, economy.ErrUnknownCommodity)
	_, err = sim.ProvisionSettlement("Nowhere", "food", 10)
	require.ErrorIs(t, err, state.ErrNotFound)
	_, err = sim.ProvisionSettlement(town.Name, "food", 0)
	require.Error(t, err)

	_, err = sim.FundFaction(f.Name, 100, 10)
	require.NoError(t, err)
	after, err := sim.Faction(f.ID)
	require.NoError(t, err)
	assert.InDelta(t, f.Resources.Gold+100, after.Faction.Resources.Gold, 1e-9)
	assert.InDelta(t, f.Resources.Military+10, after.Faction.Resources.Military, 1e-9)

	_, err = sim.FundFaction(f.Name, -1, 0)
	require.ErrorIs(t, err, ErrInvalidAmount)

	recorded := sim.QueryHistory(Criteria{Types: []event.Type{event.Intervention}})
	require.Len(t, recorded, 2)
	assert.Equal(t, event.SettlementRef(town.ID), recorded[0].EntityID)
	assert.True(t, recorded[0].Involves(event.FactionRef(f.ID)))
	assert.InDelta(t, 0.1, recorded[1].Significance, 1e-9)
}

func TestInterventionsRejectNonFiniteAmounts(t *testing.T) {
	sim := newTestSim(t, testConfig())
	f := sim.Factions()[0]
	d, err := sim.Faction(f.ID)
	require.NoError(t, err)
	town := d.Settlements[0]

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := sim.ProvisionSettlement(town.Name, "food", v)
		require.ErrorIs(t, err, ErrInvalidAmount, "quantity %v", v)
		_, err = sim.FundFaction(f.Name, v, 0)
		require.ErrorIs(t, err, ErrInvalidAmount, "gold %v", v)
		_, err = sim.FundFaction(f.Name, 0, v)
		require.ErrorIs(t, err, ErrInvalidAmount, "military %v", v)
	}

	after, err := sim.Faction(f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.Resources, after.Faction.Resources)
	m, err := sim.Market(town.ID)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(m.Health))
	assert.Empty(t, sim.QueryHistory(Criteria{Types: []event.Type{event.Intervention}}))
}

func TestMarketsCrashAndBoom(t *testing.T) {
	cfg := testConfig()
	cfg.History.Capacity = 100000
	cfg.ComplexEvents.Trade.CrashChance = 0.3
	cfg.ComplexEvents.Trade.BoomChance = 0.3
	cfg.ComplexEvents.Trade.ShortageChance = 0.1
	cfg.ComplexEvents.Trade.SurplusChance = 0.1
	sim := newTestSim(t, cfg)
	require.NoError(t, sim.ProcessTimeStep(context.Background(), 1500))

	crashes := sim.QueryHistory(Criteria{Types: []event.Type{event.MarketCrash}})
	booms := sim.QueryHistory(Criteria{Types: []event.Type{event.MarketBoom}})
	assert.NotEmpty(t, crashes, "some market lost its nerve")
	assert.NotEmpty(t, booms, "some market ran hot")

	for _, ms := range sim.MarketStatus().Markets {
		assert.GreaterOrEqual(t, ms.Confidence, 0.0)
		assert.LessOrEqual(t, ms.Confidence, 1.0)
	}
}

func TestTreasuriesSurviveTheLongRun(t *testing.T) {
	if testing.Short() {
		t.Skip("long run")
	}
	sim := newTestSim(t, testConfig())
	ctx := context.Background()

	const ticks, window = 5000, 1000
	peak := make(map[social.FactionID]float64)
	for tick := 1; tick <= ticks; tick++ {
		require.NoError(t, sim.ProcessTimeStep(ctx, 1))
		if tick <= ticks-window {
			continue
		}
		for _, f := range sim.Factions() {
			peak[f.ID] = max(peak[f.ID], f.Resources.Military)
		}
	}

	for _, f := range sim.Factions() {
		assert.Greater(t, f.Resources.Gold, 0.0, "%s is solvent", f.Name)
		assert.Greater(t, peak[f.ID], 0.0, "%s keeps an army", f.Name)
	}
	assert.Positive(t, sim.StatsHistory()[len(sim.StatsHistory())-1].Gold)
}

func TestSubscribe(t *testing.T) {
	sim := newTestSim(t, testConfig())
	ch, cancel := sim.Subscribe(1024)

	require.NoError(t, sim.ProcessTimeStep(context.Background(), 30))
	history := sim.QueryHistory(Criteria{})
	require.NotEmpty(t, history)

	for _, want := range history {
		select {
		case got := <-ch:
			assert.Equal(t, want.ID, got.ID)
		case <-time.After(time.Second):
			t.Fatalf("missing event %s", want.ID)
		}
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
}
