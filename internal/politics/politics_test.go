package politics

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/chronicle/internal/event"
	"github.com/talgya/chronicle/internal/resolve"
	"github.com/talgya/chronicle/internal/social"
	"github.com/talgya/chronicle/internal/state"
)

func newGov(t *testing.T, rule social.SuccessionRule, heirs, courtSize int) (*Governance, *state.World, *social.Faction) {
	t.Helper()
	w := state.NewWorld(7)
	g := New(w, DefaultConfig())
	g.Reseed(rand.New(rand.NewSource(7)))
	tmpl := social.SeedTemplates()[0]
	tmpl.Government.Succession = rule
	f, err := g.CreateFaction(FactionConfig{ID: 1, Template: tmpl, CourtSize: courtSize, Heirs: heirs})
	require.NoError(t, err)
	return g, w, f
}

func TestAssignPositionRuleOrder(t *testing.T) {
	tests := []struct {
		name string
		c    Courtier
		want Position
	}{
		{"admin beats intrigue", Courtier{Skills: Skills{Administration: 16, Intrigue: 16}}, PositionChamberlain},
		{"intrigue", Courtier{Skills: Skills{Intrigue: 16}}, PositionSpymaster},
		{"strength", Courtier{Abilities: Abilities{Strength: 16}}, PositionMarshal},
		{"intelligence", Courtier{Abilities: Abilities{Intelligence: 16}}, PositionAdvisor},
		{"wisdom", Courtier{Abilities: Abilities{Wisdom: 16}}, PositionTreasurer},
		{"threshold is strict", Courtier{Skills: Skills{Administration: 15}}, PositionCourtier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AssignPosition(&tt.c))
		})
	}
}

func TestAssignAgenda(t *testing.T) {
	always := resolve.Fixed(1) // Float64 == 0
	assert.Equal(t, AgendaPowerGrab, AssignAgenda(always, &Courtier{Frequency: 3, Ambition: 0.8}))
	assert.Equal(t, AgendaReform, AssignAgenda(always, &Courtier{Frequency: 12, Ambition: 0.5}))
	assert.Equal(t, AgendaPersonalAdvancement, AssignAgenda(always, &Courtier{Frequency: 7, Ambition: 0.5}))
	assert.Equal(t, AgendaNone, AssignAgenda(resolve.Fixed(20), &Courtier{Frequency: 3, Ambition: 0.8}))
}

func TestCreateFactionValidation(t *testing.T) {
	g := New(state.NewWorld(1), DefaultConfig())
	_, err := g.CreateFaction(FactionConfig{})
	require.ErrorIs(t, err, ErrInvalidFaction)

	tmpl := social.SeedTemplates()[1]
	_, err = g.CreateFaction(FactionConfig{Template: tmpl, RulerAbilities: &Abilities{Strength: 0, Intelligence: 10, Wisdom: 10, Charisma: 10}})
	require.ErrorIs(t, err, resolve.ErrInvalidAbility)

	_, err = g.CreateFaction(FactionConfig{Template: tmpl, CourtSize: -1})
	require.ErrorIs(t, err, ErrInvalidFaction)
}

func TestCreateFaction(t *testing.T) {
	g, w, f := newGov(t, social.SuccessionHereditary, 2, 4)
	got, err := w.Faction(1)
	require.NoError(t, err)
	assert.Same(t, f, got)

	court, err := g.Court(1)
	require.NoError(t, err)
	assert.Len(t, court.Members, 7)
	ruler, ok := court.Ruler()
	require.True(t, ok)
	assert.Equal(t, ruler.ID, *f.RulerID)

	heirs := 0
	for _, m := range court.Members {
		if m.Heir {
			heirs++
		}
	}
	assert.Equal(t, 2, heirs)
}

func TestHereditaryNoHeirIsCrisis(t *testing.T) {
	g, _, f := newGov(t, social.SuccessionHereditary, 0, 3)
	before := f.Government.Stability

	res, err := g.DetermineSuccession(1, *f.RulerID)
	require.NoError(t, err)
	assert.True(t, res.Crisis)
	assert.False(t, f.HasRuler())
	assert.Equal(t, before-20, f.Government.Stability)

	court, _ := g.Court(1)
	assert.True(t, court.Vacant)
}

func TestHereditarySingleHeir(t *testing.T) {
	g, _, f := newGov(t, social.SuccessionHereditary, 1, 2)
	court, _ := g.Court(1)
	var heir *Courtier
	for _, m := range court.Members {
		if m.Heir {
			heir = m
		}
	}
	require.NotNil(t, heir)

	res, err := g.DetermineSuccession(1, *f.RulerID)
	require.NoError(t, err)
	assert.Equal(t, heir.ID, res.Successor)
	assert.False(t, res.Contested)
	assert.Equal(t, heir.ID, *f.RulerID)
	assert.Equal(t, PositionRuler, heir.Position)
	assert.False(t, heir.Heir)
}

func TestHereditaryClaimStrength(t *testing.T) {
	g, _, f := newGov(t, social.SuccessionHereditary, 2, 0)
	court, _ := g.Court(1)
	var heirs []*Courtier
	for _, m := range court.Members {
		if m.Heir {
			heirs = append(heirs, m)
		}
	}
	require.Len(t, heirs, 2)

	elder, younger := heirs[0], heirs[1]
	elder.Abilities = Abilities{Charisma: 3, Intelligence: 3, Strength: 10, Wisdom: 10}
	elder.LoyalTroops, elder.PopularSupport, elder.Frequency = 0, 0, 0
	younger.Abilities = Abilities{Charisma: 18, Intelligence: 18, Strength: 10, Wisdom: 10}
	younger.LoyalTroops, younger.PopularSupport, younger.Frequency = 100, 20, 12

	res, err := g.DetermineSuccession(1, *f.RulerID)
	require.NoError(t, err)
	assert.True(t, res.Contested)
	assert.InDelta(t, 24.5, res.Scores[elder.ID], 1e-9)
	assert.InDelta(t, 87.0, res.Scores[younger.ID], 1e-9)
	assert.Equal(t, younger.ID, res.Successor)
}

func TestMeritocraticSuccession(t *testing.T) {
	g, _, f := newGov(t, social.SuccessionMeritocratic, 0, 3)
	court, _ := g.Court(1)
	for _, m := range court.Members {
		m.Skills = Skills{Administration: 3, Diplomacy: 3, Intrigue: 3}
		m.Frequency = f.Consciousness.Frequency
	}
	star := court.Members[2]
	star.Skills = Skills{Administration: 18, Diplomacy: 18, Intrigue: 18}

	res, err := g.DetermineSuccession(1, *f.RulerID)
	require.NoError(t, err)
	assert.Equal(t, social.SuccessionMeritocratic, res.Method)
	assert.Equal(t, star.ID, res.Successor)
	assert.InDelta(t, 18.0, res.Scores[star.ID], 1e-9)
}

func TestConsciousnessSuccession(t *testing.T) {
	g, _, f := newGov(t, social.SuccessionConsciousness, 0, 3)
	court, _ := g.Court(1)
	for _, m := range court.Members {
		m.Frequency, m.Coherence, m.Abilities.Wisdom = 5, 0, 3
	}
	sage := court.Members[3]
	sage.Frequency, sage.Coherence, sage.Abilities.Wisdom = 20, 1, 18

	res, err := g.DetermineSuccession(1, *f.RulerID)
	require.NoError(t, err)
	assert.Equal(t, sage.ID, res.Successor)
	assert.InDelta(t, 20*10+20+36.0, res.Scores[sage.ID], 1e-9)
}

func TestElectiveSuccession(t *testing.T) {
	g, _, f := newGov(t, social.SuccessionElective, 0, 5)
	court, _ := g.Court(1)
	oldRuler := *f.RulerID
	stability := f.Government.Stability

	res, err := g.DetermineSuccession(1, oldRuler)
	require.NoError(t, err)
	assert.Equal(t, 30, res.Rounds)
	assert.NotEqual(t, oldRuler, res.Successor)

	top := byInfluence(court.Living())
	var ids []uint64
	for _, c := range top[:3] {
		ids = append(ids, c.ID)
	}
	assert.Contains(t, ids, res.Successor)
	assert.Equal(t, stability+3, f.Government.Stability)
}

func TestCourtDayPhaseOrder(t *testing.T) {
	g, _, _ := newGov(t, social.SuccessionHereditary, 1, 4)
	r, err := g.SimulateCourtDay(1)
	require.NoError(t, err)
	assert.Equal(t, []string{PhaseAudiences, PhaseCouncil, PhaseIntrigue, PhaseAdvancement}, r.Phases)
	assert.Equal(t, 1, r.Day)

	_, err = g.SimulateCourtDay(42)
	require.ErrorIs(t, err, state.ErrNotFound)
}

// quietCourt returns a court where only members[1] schemes.
func quietCourt(t *testing.T, g *Governance) (*Court, *Courtier, *Courtier) {
	t.Helper()
	court, err := g.Court(1)
	require.NoError(t, err)
	for _, m := range court.Members {
		m.Agenda = AgendaNone
		if m.Position != PositionRuler {
			m.Position = PositionCourtier
		}
	}
	ruler, _ := court.Ruler()
	ruler.Skills.Intrigue = 10
	plotter := court.Members[1]
	plotter.Skills.Intrigue = 10
	plotter.Frequency = 4
	return court, ruler, plotter
}

func TestPlotProgressDeterministic(t *testing.T) {
	g, _, _ := newGov(t, social.SuccessionMeritocratic, 0, 2)
	g.cfg.DiscoveryChance = 0
	court, _, plotter := quietCourt(t, g)
	p := &Plot{ID: "p1", FactionID: 1, Goal: GoalSeizePower, Leader: plotter.ID, Conspirators: []uint64{plotter.ID}, Status: PlotActive}
	court.Plots = append(court.Plots, p)

	_, err := g.SimulateCourtDay(1)
	require.NoError(t, err)
	assert.InDelta(t, 6.0, p.Progress, 1e-9)
	_, err = g.SimulateCourtDay(1)
	require.NoError(t, err)
	assert.InDelta(t, 12.0, p.Progress, 1e-9)
}

func TestSeizePowerPlot(t *testing.T) {
	g, _, f := newGov(t, social.SuccessionMeritocratic, 0, 2)
	court, ruler, plotter := quietCourt(t, g)
	p := &Plot{ID: "p1", FactionID: 1, Goal: GoalSeizePower, Leader: plotter.ID, Conspirators: []uint64{plotter.ID}, Status: PlotActive, Progress: 99}
	court.Plots = append(court.Plots, p)
	g.Reseed(resolve.Fixed(20))

	r, err := g.SimulateCourtDay(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, r.Resolved)
	require.Equal(t, PlotSucceeded, p.Status)
	assert.Equal(t, ruler.ID, *f.RulerID, "effects wait for dispatch")

	evs := g.CandidateEvents(1, event.Open{})
	require.Len(t, evs, 1)
	assert.Equal(t, event.PlotResolved, evs[0].Type)
	require.NoError(t, g.Handle(evs[0]))

	assert.Equal(t, plotter.ID, *f.RulerID)
	assert.Equal(t, PositionRuler, plotter.Position)
	assert.NotEqual(t, PositionRuler, ruler.Position)
	assert.True(t, p.Applied)
	assert.Empty(t, g.CandidateEvents(2, event.Open{}))
}

func TestTransformSocietyPlot(t *testing.T) {
	g, _, f := newGov(t, social.SuccessionMeritocratic, 0, 2)
	court, _, plotter := quietCourt(t, g)
	court.Plots = append(court.Plots, &Plot{ID: "p2", FactionID: 1, Goal: GoalTransformSociety, Leader: plotter.ID,
		Conspirators: []uint64{plotter.ID}, Status: PlotSucceeded})
	freq := f.Consciousness.Frequency
	values := len(f.Consciousness.Values)

	require.NoError(t, g.ApplyPlot(1, "p2"))
	assert.Equal(t, freq+2, f.Consciousness.Frequency)
	assert.Len(t, f.Consciousness.Values, values+1)
	require.ErrorIs(t, g.ApplyPlot(1, "missing"), state.ErrNotFound)
}

func TestIntrigueExposure(t *testing.T) {
	g, _, _ := newGov(t, social.SuccessionMeritocratic, 0, 1)
	g.cfg.DiscoveryChance = 1
	court, _, plotter := quietCourt(t, g)
	p := &Plot{ID: "p3", FactionID: 1, Goal: GoalAdvisorPromotion, Leader: plotter.ID, Conspirators: []uint64{plotter.ID}, Status: PlotActive}
	court.Plots = append(court.Plots, p)
	g.Reseed(resolve.Fixed(20))

	r, err := g.SimulateCourtDay(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"p3"}, r.Exposed)
	assert.Equal(t, PlotExposed, p.Status)
	assert.Zero(t, p.Progress)

	loyalty := plotter.Loyalty
	evs := g.CandidateEvents(1, event.Open{})
	require.Len(t, evs, 1)
	assert.Equal(t, event.IntrigueExposed, evs[0].Type)
	require.NoError(t, g.Handle(evs[0]))
	assert.Less(t, plotter.Loyalty, loyalty)
}

func TestDiplomatPicksBestSpeaker(t *testing.T) {
	g, _, _ := newGov(t, social.SuccessionHereditary, 1, 3)
	court, _ := g.Court(1)
	for _, m := range court.Members {
		m.Skills.Diplomacy = 5
	}
	court.Members[2].Skills.Diplomacy = 17

	d, ok := g.Diplomat(1)
	require.True(t, ok)
	assert.Equal(t, court.Members[2].ID, d.ID)
	assert.Equal(t, 17.0, d.Skill)

	_, ok = g.Diplomat(99)
	assert.False(t, ok)
}

func TestUpdateToleratesEmptyCourt(t *testing.T) {
	w := state.NewWorld(3)
	w.AddFaction(&social.Faction{ID: 5, Name: "Bare"})
	cfg := DefaultConfig()
	cfg.UnrestChance = 0
	g := New(w, cfg)
	require.NoError(t, g.Update(context.Background(), 1))
	assert.Empty(t, g.CandidateEvents(1, event.Open{}))
	require.Len(t, g.Status(), 1)
}

func TestUnrestHandler(t *testing.T) {
	g, _, f := newGov(t, social.SuccessionHereditary, 1, 1)
	f.Government.Stability = 10
	g.cfg.UnrestChance = 1
	g.Reseed(resolve.Fixed(10))

	var unrest *event.Event
	for _, ev := range g.CandidateEvents(1, event.Open{}) {
		if ev.Type == event.Unrest {
			unrest = ev
		}
	}
	require.NotNil(t, unrest)
	assert.InDelta(t, 2.5, unrest.Magnitude, 1e-9)
	require.NoError(t, g.Handle(unrest))
	assert.InDelta(t, 2.5, f.Government.Stability, 1e-9)
}

func TestExportImportCourts(t *testing.T) {
	g, w, _ := newGov(t, social.SuccessionHereditary, 2, 3)
	_, err := g.SimulateCourtDay(1)
	require.NoError(t, err)

	snap := g.Export()
	other := New(w, DefaultConfig())
	other.Import(snap)
	assert.Equal(t, snap, other.Export())

	c, _ := other.Court(1)
	c.Members[0].Loyalty = -1
	assert.NotEqual(t, -1.0, snap.Courts[0].Members[0].Loyalty)
}
