package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/chronicle/internal/entropy"
	"github.com/talgya/chronicle/internal/event"
)

// fakeSubsystem proposes whatever propose returns and records handled ids.
type fakeSubsystem struct {
	name    string
	types   []event.Type
	propose func(tick uint64, gate event.Gate) []*event.Event
	fail    map[string]error
	panics  map[string]bool
	calls   int
	handled []string
}

func (f *fakeSubsystem) Name() string                         { return f.name }
func (f *fakeSubsystem) EventTypes() []event.Type             { return f.types }
func (f *fakeSubsystem) Reseed(entropy.Source)                {}
func (f *fakeSubsystem) Update(context.Context, uint64) error { return nil }
func (f *fakeSubsystem) CandidateEvents(tick uint64, gate event.Gate) []*event.Event {
	f.calls++
	if f.propose == nil {
		return nil
	}
	return f.propose(tick, gate)
}

func (f *fakeSubsystem) Handle(ev *event.Event) error {
	if f.panics[ev.ID] {
		panic("boom")
	}
	if err := f.fail[ev.ID]; err != nil {
		return err
	}
	f.handled = append(f.handled, ev.ID)
	return nil
}

var allTypes = []event.Type{
	event.Battle, event.WarDeclared, event.Unrest, event.RulerDied,
	event.DiplomaticIncident, event.MarketCrash, event.MarketBoom,
}

func newFake() *fakeSubsystem {
	return &fakeSubsystem{name: "fake", types: allTypes, fail: map[string]error{}, panics: map[string]bool{}}
}

func ev(id string, t event.Type, entity string) *event.Event {
	return &event.Event{ID: id, Type: t, EntityID: entity, Location: id}
}

func newTestOrchestrator(t *testing.T, cooldowns map[event.Type]uint64, capacity int) (*Orchestrator, *fakeSubsystem) {
	t.Helper()
	o := NewOrchestrator(cooldowns, capacity)
	f := newFake()
	require.NoError(t, o.Register(f))
	return o, f
}

func TestRegisterRejectsDuplicateType(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, 0)
	err := o.Register(&fakeSubsystem{name: "other", types: []event.Type{event.Battle}})
	require.ErrorIs(t, err, ErrDuplicateHandler)
	assert.Len(t, o.Subsystems(), 1)
}

func TestCooldownGatesCandidates(t *testing.T) {
	o, f := newTestOrchestrator(t, map[event.Type]uint64{event.Battle: 5}, 0)
	n := 0
	f.propose = func(tick uint64, gate event.Gate) []*event.Event {
		if !gate.CanTrigger(event.Battle, "pair:1-2") {
			return nil
		}
		n++
		return []*event.Event{ev(fmt.Sprintf("b%d", n), event.Battle, "pair:1-2")}
	}

	var fired []uint64
	for tick := uint64(1); tick <= 12; tick++ {
		evs := o.CheckEmergentEvents(tick)
		if len(o.ProcessEvents(context.Background(), tick, evs)) > 0 {
			fired = append(fired, tick)
			assert.False(t, o.CanTrigger(event.Battle, "pair:1-2"))
		}
	}
	assert.Equal(t, []uint64{1, 6, 11}, fired)
	assert.True(t, o.CanTrigger(event.Battle, "pair:3-4"), "other entities are unaffected")
}

func TestCooldownFiltersCandidatesThatIgnoreTheGate(t *testing.T) {
	o, f := newTestOrchestrator(t, map[event.Type]uint64{event.Battle: 5}, 0)
	f.propose = func(tick uint64, _ event.Gate) []*event.Event {
		return []*event.Event{ev(fmt.Sprintf("b%d", tick), event.Battle, "pair:1-2")}
	}
	o.ProcessEvents(context.Background(), 1, o.CheckEmergentEvents(1))
	assert.Empty(t, o.CheckEmergentEvents(2))
	assert.Len(t, o.CheckEmergentEvents(6), 1)
}

func TestSubsystemSkippedWhileAllTypesCool(t *testing.T) {
	o := NewOrchestrator(map[event.Type]uint64{event.Unrest: 10}, 0)
	f := &fakeSubsystem{name: "unrest", types: []event.Type{event.Unrest}}
	f.propose = func(tick uint64, _ event.Gate) []*event.Event {
		return []*event.Event{ev(fmt.Sprintf("u%d", tick), event.Unrest, "")}
	}
	require.NoError(t, o.Register(f))

	o.ProcessEvents(context.Background(), 1, o.CheckEmergentEvents(1))
	require.Equal(t, 1, f.calls)
	o.CheckEmergentEvents(2)
	assert.Equal(t, 1, f.calls, "not asked while cooling")
	o.CheckEmergentEvents(11)
	assert.Equal(t, 2, f.calls)
}

func TestAggregateSameTypeAndLocation(t *testing.T) {
	a := &event.Event{ID: "a", Type: event.MarketCrash, Location: "settlement:1", Magnitude: 1, ConsciousnessImpact: 0.2, Entities: []string{"x"}}
	b := &event.Event{ID: "b", Type: event.MarketCrash, Location: "settlement:1", Magnitude: 2, ConsciousnessImpact: 0.5, Entities: []string{"x", "y"}}
	c := &event.Event{ID: "c", Type: event.MarketCrash, Location: "settlement:2", Magnitude: 1}
	d := &event.Event{ID: "d", Type: event.MarketBoom, Location: "settlement:1", Magnitude: 1}

	out := Aggregate([]*event.Event{a, b, c, d})
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, 3.0, out[0].Magnitude)
	assert.Equal(t, 0.5, out[0].ConsciousnessImpact)
	assert.Equal(t, 1, out[0].Merged)
	assert.Equal(t, []string{"x", "y"}, out[0].Entities)
	assert.Equal(t, "c", out[1].ID)
	assert.Equal(t, "d", out[2].ID)
}

func TestPriority(t *testing.T) {
	tests := []struct {
		name string
		ev   event.Event
		want float64
	}{
		{"war", event.Event{Type: event.Battle}, 100},
		{"political", event.Event{Type: event.Unrest}, 75},
		{"diplomatic", event.Event{Type: event.DiplomaticIncident}, 60},
		{"market", event.Event{Type: event.MarketCrash}, 50},
		{"unknown", event.Event{Type: "comet"}, 10},
		{"magnitude and impact", event.Event{Type: event.MarketCrash, Magnitude: 2, ConsciousnessImpact: 0.5}, 150},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Priority(&tt.ev), 1e-9)
		})
	}
}

func TestProcessEventsDescendingPriority(t *testing.T) {
	o, f := newTestOrchestrator(t, nil, 0)
	evs := []*event.Event{
		ev("market", event.MarketCrash, ""),
		ev("diplomatic", event.DiplomaticIncident, ""),
		ev("war", event.Battle, ""),
		ev("political", event.Unrest, ""),
		ev("war2", event.WarDeclared, ""),
	}
	out := o.ProcessEvents(context.Background(), 1, evs)
	assert.Equal(t, []string{"war", "war2", "political", "diplomatic", "market"}, f.handled)

	var prios []float64
	for _, e := range out {
		prios = append(prios, e.Priority)
	}
	assert.Equal(t, []float64{100, 100, 75, 60, 50}, prios)
	assert.InDelta(t, 1.0, out[0].Significance, 1e-9)
}

func TestFailingHandlerDoesNotAbortTick(t *testing.T) {
	o, f := newTestOrchestrator(t, map[event.Type]uint64{event.Battle: 10, event.Unrest: 10}, 0)
	f.fail["bad"] = errors.New("bad state")
	f.panics["crash"] = true
	out := o.ProcessEvents(context.Background(), 1, []*event.Event{
		ev("bad", event.Battle, "pair:1-2"),
		ev("crash", event.WarDeclared, ""),
		ev("ok", event.Unrest, "faction:1"),
	})
	require.Len(t, out, 3)
	assert.Equal(t, []string{"ok"}, f.handled)

	hist := o.History()
	require.Len(t, hist, 3)
	assert.True(t, hist[0].Failed)
	assert.Equal(t, "bad state", hist[0].Error)
	assert.True(t, hist[1].Failed)
	assert.Contains(t, hist[1].Error, "panicked")
	assert.False(t, hist[2].Failed)

	o.CheckEmergentEvents(2)
	assert.True(t, o.CanTrigger(event.Battle, "pair:1-2"), "failed events leave the cooldown alone")
	assert.False(t, o.CanTrigger(event.Unrest, "faction:1"))
}

func TestUnhandledTypeFails(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, 0)
	o.ProcessEvents(context.Background(), 1, []*event.Event{ev("x", "comet", "")})
	hist := o.History()
	require.Len(t, hist, 1)
	assert.True(t, hist[0].Failed)
	assert.Contains(t, hist[0].Error, ErrNoHandler.Error())
}

func TestDependenciesDispatchFirst(t *testing.T) {
	o, f := newTestOrchestrator(t, nil, 0)
	low := ev("low", event.MarketCrash, "")
	high := ev("high", event.Battle, "")
	high.DependsOn = []string{"low"}
	o.ProcessEvents(context.Background(), 1, []*event.Event{low, high})
	assert.Equal(t, []string{"low", "high"}, f.handled)
}

func TestDependencyFailures(t *testing.T) {
	o, f := newTestOrchestrator(t, nil, 0)
	f.fail["root"] = errors.New("nope")

	root := ev("root", event.Unrest, "")
	child := ev("child", event.Battle, "")
	child.DependsOn = []string{"root"}
	c1 := ev("c1", event.RulerDied, "")
	c2 := ev("c2", event.WarDeclared, "")
	c1.DependsOn = []string{"c2"}
	c2.DependsOn = []string{"c1"}
	orphan := ev("orphan", event.MarketBoom, "")
	orphan.DependsOn = []string{"gone"}
	free := ev("free", event.MarketCrash, "")

	o.ProcessEvents(context.Background(), 1, []*event.Event{root, child, c1, c2, orphan, free})
	assert.Equal(t, []string{"free"}, f.handled)

	byID := map[string]event.Event{}
	for _, e := range o.History() {
		byID[e.ID] = e
	}
	assert.Contains(t, byID["child"].Error, "root failed")
	assert.Equal(t, "dependency cycle", byID["c1"].Error)
	assert.Equal(t, "dependency cycle", byID["c2"].Error)
	assert.Contains(t, byID["orphan"].Error, "gone missing")
}

func TestDependencyOnEarlierTick(t *testing.T) {
	o, f := newTestOrchestrator(t, nil, 0)
	o.ProcessEvents(context.Background(), 1, []*event.Event{ev("first", event.Unrest, "")})
	later := ev("later", event.Battle, "")
	later.DependsOn = []string{"first"}
	o.ProcessEvents(context.Background(), 2, []*event.Event{later})
	assert.Equal(t, []string{"first", "later"}, f.handled)
}

func TestScheduleLongChainIsIterative(t *testing.T) {
	const n = 20000
	evs := make([]*event.Event, n)
	for i := range evs {
		evs[i] = &event.Event{ID: fmt.Sprint(i)}
		if i > 0 {
			evs[i].DependsOn = []string{fmt.Sprint(i - 1)}
		}
	}
	// Reverse so every event has to wait for the one after it in the slice.
	for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
		evs[i], evs[j] = evs[j], evs[i]
	}
	order, cyclic := schedule(evs)
	require.Len(t, order, n)
	assert.Empty(t, cyclic)
	assert.Equal(t, "0", order[0].ID)
	assert.Equal(t, fmt.Sprint(n-1), order[n-1].ID)
}

func TestHistoryBounded(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, 3)
	for i := range 5 {
		o.ProcessEvents(context.Background(), uint64(i+1), []*event.Event{ev(fmt.Sprint(i), event.Unrest, "")})
	}
	hist := o.History()
	require.Len(t, hist, 3)
	assert.Equal(t, "2", hist[0].ID)
	assert.Equal(t, "4", hist[2].ID)
}

func TestQueryHistory(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, 0)
	for tick := uint64(1); tick <= 6; tick++ {
		war := ev(fmt.Sprintf("w%d", tick), event.Battle, "pair:1-2")
		war.Tick = tick
		war.Entities = []string{"faction:1", "faction:2"}
		mkt := ev(fmt.Sprintf("m%d", tick), event.MarketBoom, "settlement:4")
		mkt.Tick = tick
		o.ProcessEvents(context.Background(), tick, []*event.Event{war, mkt})
	}

	ids := func(evs []event.Event) []string {
		var out []string
		for _, e := range evs {
			out = append(out, e.ID)
		}
		return out
	}
	assert.Len(t, o.QueryHistory(Criteria{}), 12)
	assert.Equal(t, []string{"w2", "m2", "w3", "m3"}, ids(o.QueryHistory(Criteria{FromTick: 2, ToTick: 3})))
	assert.Equal(t, []string{"w5", "w6"}, ids(o.QueryHistory(Criteria{EntityID: "faction:2", Limit: 2})))
	assert.Equal(t, []string{"m6"}, ids(o.QueryHistory(Criteria{Types: []event.Type{event.MarketBoom}, FromTick: 6})))
	assert.Len(t, o.QueryHistory(Criteria{MinSignificance: 0.9}), 6)
}

func TestQueryHistoryDoesNotShareSlices(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, 0)
	low := ev("low", event.MarketCrash, "settlement:4")
	high := ev("high", event.Battle, "pair:1-2")
	high.Entities = []string{"faction:1", "faction:2"}
	high.DependsOn = []string{"low"}
	o.ProcessEvents(context.Background(), 1, []*event.Event{low, high})

	got := o.QueryHistory(Criteria{Types: []event.Type{event.Battle}})
	require.Len(t, got, 1)
	got[0].Entities[0] = "faction:9"
	got[0].DependsOn[0] = "forged"

	again := o.QueryHistory(Criteria{Types: []event.Type{event.Battle}})
	assert.Equal(t, []string{"faction:1", "faction:2"}, again[0].Entities)
	assert.Equal(t, []string{"low"}, again[0].DependsOn)
	assert.True(t, again[0].Involves("faction:1"))

	all := o.History()
	all[1].Entities[1] = "faction:9"
	assert.False(t, o.History()[1].Involves("faction:9"))
}

func TestOrchestratorExportImport(t *testing.T) {
	o, _ := newTestOrchestrator(t, map[event.Type]uint64{event.Battle: 5}, 0)
	o.ProcessEvents(context.Background(), 3, []*event.Event{ev("w", event.Battle, "pair:1-2")})
	snap := o.Export()

	p, _ := newTestOrchestrator(t, map[event.Type]uint64{event.Battle: 5}, 0)
	p.Import(snap)
	p.CheckEmergentEvents(4)
	assert.False(t, p.CanTrigger(event.Battle, "pair:1-2"))
	assert.Equal(t, o.History(), p.History())

	later := ev("later", event.Unrest, "")
	later.DependsOn = []string{"w"}
	p.ProcessEvents(context.Background(), 4, []*event.Event{later})
	assert.False(t, p.History()[1].Failed)
}
