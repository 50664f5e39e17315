package warfare

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/chronicle/internal/event"
	"github.com/talgya/chronicle/internal/resolve"
	"github.com/talgya/chronicle/internal/social"
	"github.com/talgya/chronicle/internal/state"
)

type stubRelations struct {
	hostile bool
	opinion float64
	adjusts [][2]float64
}

func (s *stubRelations) Hostile(a, b social.FactionID) bool    { return s.hostile }
func (s *stubRelations) Opinion(a, b social.FactionID) float64 { return s.opinion }
func (s *stubRelations) Adjust(a, b social.FactionID, o, t float64) {
	s.adjusts = append(s.adjusts, [2]float64{o, t})
	s.opinion += o
}

type blockAll struct{}

func (blockAll) CanTrigger(event.Type, string) bool { return false }

func newTestFront(t *testing.T) (*Front, *state.World, *stubRelations) {
	t.Helper()
	w := state.NewWorld(3)
	w.AddFaction(&social.Faction{
		ID: 1, Name: "North",
		Government: social.Government{Stability: 50},
		Resources:  social.Resources{Gold: 1000, Military: 100},
	})
	w.AddFaction(&social.Faction{
		ID: 2, Name: "South",
		Government: social.Government{Stability: 50},
		Resources:  social.Resources{Gold: 500, Military: 200},
	})
	rel := &stubRelations{hostile: true, opinion: -60}
	cfg := DefaultConfig()
	cfg.DeclarationChance = 1
	cfg.BattleChance = 1
	return New(w, rel, cfg), w, rel
}

func declare(t *testing.T, f *Front) *War {
	t.Helper()
	f.Reseed(resolve.Fixed(1))
	evs := f.CandidateEvents(1, event.Open{})
	require.Len(t, evs, 1)
	require.NoError(t, f.Handle(evs[0]))
	wars := f.ActiveWars()
	require.Len(t, wars, 1)
	war, err := f.War(wars[0].ID)
	require.NoError(t, err)
	return war
}

func TestDeclarationRequiresHostility(t *testing.T) {
	f, _, rel := newTestFront(t)
	f.Reseed(resolve.Fixed(1))

	rel.hostile = false
	assert.Empty(t, f.CandidateEvents(1, event.Open{}))

	rel.hostile = true
	rel.opinion = -10
	assert.Empty(t, f.CandidateEvents(1, event.Open{}), "opinion above threshold")

	rel.opinion = -60
	assert.Empty(t, f.CandidateEvents(1, blockAll{}))
}

func TestDeclarationStrongerSideAttacks(t *testing.T) {
	f, _, rel := newTestFront(t)
	f.Reseed(resolve.Fixed(1))
	evs := f.CandidateEvents(1, event.Open{})
	require.Len(t, evs, 1)
	ev := evs[0]
	assert.Equal(t, event.WarDeclared, ev.Type)
	assert.Equal(t, event.FactionRef(social.FactionID(2)), ev.EntityID)
	assert.Equal(t, 2.0, ev.Magnitude)

	require.NoError(t, f.Handle(ev))
	assert.True(t, f.AtWar(1, 2))
	assert.True(t, f.AtWar(2, 1))
	war := f.ActiveWars()[0]
	assert.Equal(t, social.FactionID(2), war.Attacker)
	assert.Equal(t, social.FactionID(1), war.Defender)
	assert.Equal(t, uint64(1), war.StartTick)
	assert.Equal(t, [][2]float64{{-20, -20}}, rel.adjusts)

	err := f.Handle(ev)
	require.Error(t, err, "already at war")
	assert.Len(t, f.ActiveWars(), 1)
}

func TestNoSecondDeclarationDuringWar(t *testing.T) {
	f, _, _ := newTestFront(t)
	war := declare(t, f)
	f.cfg.BattleChance = 0
	evs := f.CandidateEvents(2, event.Open{})
	assert.Empty(t, evs)
	assert.Equal(t, StatusActive, war.Status)
}

func TestBattleCriticalRout(t *testing.T) {
	f, w, _ := newTestFront(t)
	war := declare(t, f)

	f.Reseed(resolve.Fixed(1))
	evs := f.CandidateEvents(2, event.Open{})
	require.Len(t, evs, 1)
	require.Equal(t, event.Battle, evs[0].Type)
	assert.Equal(t, "war:"+war.ID, evs[0].Location)

	// Attacker (South) strength 10 rolls a natural 20; defender strength 6 rolls 1.
	f.Reseed(resolve.Fixed(20, 1))
	require.NoError(t, f.Handle(evs[0]))

	south, _ := w.Faction(2)
	north, _ := w.Faction(1)
	assert.InDelta(t, 16, north.Resources.Military, 1e-9)
	assert.InDelta(t, 195, south.Resources.Military, 1e-9)
	assert.InDelta(t, 3.3, war.AttackerScore, 1e-9)
	assert.Zero(t, war.DefenderScore)
	assert.InDelta(t, 10, war.DefenderWeariness, 1e-9)
	assert.InDelta(t, 5, war.AttackerWeariness, 1e-9)
	assert.Equal(t, 1, war.Battles)
}

func TestUpdateWearsDown(t *testing.T) {
	f, _, _ := newTestFront(t)
	war := declare(t, f)
	for range 4 {
		require.NoError(t, f.Update(context.Background(), 2))
	}
	assert.InDelta(t, 2, war.AttackerWeariness, 1e-9)
	assert.InDelta(t, 2, war.DefenderWeariness, 1e-9)
}

func TestPeaceAtExhaustion(t *testing.T) {
	f, w, rel := newTestFront(t)
	war := declare(t, f)
	war.AttackerScore = 4
	war.DefenderWeariness = f.cfg.PeaceExhaustion

	evs := f.CandidateEvents(9, event.Open{})
	require.Len(t, evs, 1)
	require.Equal(t, event.PeaceSigned, evs[0].Type)
	require.NoError(t, f.Handle(evs[0]))

	assert.Equal(t, StatusEnded, war.Status)
	assert.Equal(t, uint64(9), war.EndTick)
	assert.Equal(t, social.FactionID(2), war.Victor)
	assert.False(t, f.AtWar(1, 2))
	assert.Empty(t, f.ActiveWars())

	south, _ := w.Faction(2)
	north, _ := w.Faction(1)
	assert.InDelta(t, 900, north.Resources.Gold, 1e-9)
	assert.InDelta(t, 600, south.Resources.Gold, 1e-9)
	assert.InDelta(t, 10, south.Resources.Influence, 1e-9)
	assert.InDelta(t, 45, north.Government.Stability, 1e-9)
	assert.Equal(t, [2]float64{10, 5}, rel.adjusts[len(rel.adjusts)-1])

	require.Error(t, f.Handle(evs[0]), "war already ended")
}

func TestHandleUnknownWar(t *testing.T) {
	f, _, _ := newTestFront(t)
	err := f.Handle(&event.Event{Type: event.Battle, Payload: warPayload{War: "missing"}})
	require.ErrorIs(t, err, state.ErrNotFound)
	require.Error(t, f.Handle(&event.Event{Type: event.Battle, Payload: 3}))
}

func TestExportImport(t *testing.T) {
	f, w, rel := newTestFront(t)
	war := declare(t, f)
	snap := f.Export()
	require.Len(t, snap.Wars, 1)

	war.Battles = 9
	g := New(w, rel, DefaultConfig())
	g.Import(snap)
	got, err := g.War(war.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Battles)
	assert.True(t, g.AtWar(1, 2))
}
