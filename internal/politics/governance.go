package politics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/talgya/chronicle/internal/diplomacy"
	"github.com/talgya/chronicle/internal/entropy"
	"github.com/talgya/chronicle/internal/event"
	"github.com/talgya/chronicle/internal/social"
	"github.com/talgya/chronicle/internal/state"
)

// ErrInvalidFaction is returned by CreateFaction for malformed configs.
var ErrInvalidFaction = errors.New("invalid faction config")

// Config tunes the political subsystem.
type Config struct {
	RulerDeathChance float64 `yaml:"rulerDeathChance"`
	PlotDifficulty   float64 `yaml:"plotDifficulty"`
	UnrestThreshold  float64 `yaml:"unrestThreshold"`
	UnrestChance     float64 `yaml:"unrestChance"`
	ElectionRounds   int     `yaml:"electionRounds"`
	DiscoveryChance  float64 `yaml:"discoveryChance"`
	InterregnumDays  int     `yaml:"interregnumDays"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		RulerDeathChance: 0.002,
		PlotDifficulty:   15,
		UnrestThreshold:  30,
		UnrestChance:     0.05,
		ElectionRounds:   30,
		DiscoveryChance:  0.05,
		InterregnumDays:  10,
	}
}

// Governance is the political subsystem. Courts are private to it; the
// faction fields it changes outside the update phase are changed by its
// event handlers.
type Governance struct {
	store state.Store
	cfg   Config
	rng   entropy.Source

	courts map[social.FactionID]*Court
}

// New returns a governance subsystem bound to store.
func New(store state.Store, cfg Config) *Governance {
	return &Governance{
		store:  store,
		cfg:    cfg,
		rng:    entropy.ForTick(store.Seed(), entropy.StreamPolitics, 0),
		courts: make(map[social.FactionID]*Court),
	}
}

func (g *Governance) Name() string { return "politics" }

func (g *Governance) EventTypes() []event.Type {
	return []event.Type{event.RulerDied, event.Succession, event.PlotResolved, event.IntrigueExposed, event.Unrest}
}

// Reseed replaces the random source for the coming tick.
func (g *Governance) Reseed(src entropy.Source) { g.rng = src }

// FactionConfig describes a faction to create.
type FactionConfig struct {
	ID             social.FactionID
	Template       social.Template
	CourtSize      int
	Heirs          int // hereditary factions only; negative rolls 1-3
	RulerAbilities *Abilities
}

// CreateFaction builds a faction from cfg, registers it with the store and
// seats its court.
func (g *Governance) CreateFaction(cfg FactionConfig) (*social.Faction, error) {
	if cfg.Template.Name == "" {
		return nil, fmt.Errorf("faction name is required: %w", ErrInvalidFaction)
	}
	if cfg.CourtSize < 0 || cfg.CourtSize > 50 {
		return nil, fmt.Errorf("court size %d out of range 0-50: %w", cfg.CourtSize, ErrInvalidFaction)
	}
	if cfg.RulerAbilities != nil {
		if err := cfg.RulerAbilities.Validate(); err != nil {
			return nil, fmt.Errorf("ruler of %s: %w", cfg.Template.Name, err)
		}
	}
	id := cfg.ID
	if id == 0 {
		id = social.FactionID(g.store.NextSerial())
	}

	t := cfg.Template
	f := &social.Faction{
		ID:         id,
		Name:       t.Name,
		Government: t.Government,
		Resources:  t.Resources,
		Consciousness: social.Consciousness{
			Frequency: t.Frequency,
			Coherence: t.Coherence,
			Values:    slices.Clone(t.Values),
		},
		Culture: social.Culture{
			Traits:          slices.Clone(t.Culture.Traits),
			Beliefs:         slices.Clone(t.Culture.Beliefs),
			SocialStructure: t.Culture.SocialStructure,
		},
	}
	g.store.AddFaction(f)

	court := &Court{FactionID: id, Cohesion: 60}
	g.courts[id] = court

	ruler := GenerateCourtier(g.rng, g.store.NextSerial(), f)
	if cfg.RulerAbilities != nil {
		ruler.Abilities = *cfg.RulerAbilities
	}
	ruler.Position = PositionRuler
	ruler.Agenda = AgendaNone
	ruler.Loyalty = 100
	court.Members = append(court.Members, ruler)
	f.SetRuler(ruler.ID)

	if f.Government.Succession == social.SuccessionHereditary {
		heirs := cfg.Heirs
		if heirs < 0 {
			heirs = 1 + g.rng.Intn(3)
		}
		g.spawnHeirs(court, f, heirs)
	}
	for i := 0; i < cfg.CourtSize; i++ {
		court.Members = append(court.Members, GenerateCourtier(g.rng, g.store.NextSerial(), f))
	}
	slog.Debug("faction created", "faction", f.Name, "court", len(court.Members), "succession", f.Government.Succession)
	return f, nil
}

// court returns the faction's court, creating an empty one for factions
// that were registered without one.
func (g *Governance) court(id social.FactionID) *Court {
	c, ok := g.courts[id]
	if !ok {
		c = &Court{FactionID: id, Cohesion: 50}
		g.courts[id] = c
	}
	return c
}

// Court returns the faction's court.
func (g *Governance) Court(id social.FactionID) (*Court, error) {
	if _, err := g.store.Faction(id); err != nil {
		return nil, err
	}
	return g.court(id), nil
}

// Courtier looks up a courtier of a faction.
func (g *Governance) Courtier(id social.FactionID, courtierID uint64) (*Courtier, error) {
	court, err := g.Court(id)
	if err != nil {
		return nil, err
	}
	c, ok := court.Member(courtierID)
	if !ok {
		return nil, fmt.Errorf("courtier %d of faction %d: %w", courtierID, id, state.ErrNotFound)
	}
	return c, nil
}

// Diplomat returns the faction's most skilled living diplomat.
func (g *Governance) Diplomat(id social.FactionID) (diplomacy.Diplomat, bool) {
	c, ok := g.courts[id]
	if !ok {
		return diplomacy.Diplomat{}, false
	}
	var best *Courtier
	for _, m := range c.Living() {
		if best == nil || m.Skills.Diplomacy > best.Skills.Diplomacy {
			best = m
		}
	}
	if best == nil {
		return diplomacy.Diplomat{}, false
	}
	return diplomacy.Diplomat{
		ID:       best.ID,
		Name:     best.Name,
		Charisma: best.Abilities.Charisma,
		Wisdom:   best.Abilities.Wisdom,
		Skill:    best.Skills.Diplomacy,
	}, true
}

// Update holds a court day for every faction. Government stability moves
// with the council's mood.
func (g *Governance) Update(ctx context.Context, tick uint64) error {
	for _, f := range g.store.Factions() {
		if err := ctx.Err(); err != nil {
			return err
		}
		report, err := g.SimulateCourtDay(f.ID)
		if err != nil {
			return err
		}
		if report.CouncilPass {
			f.Government.AdjustStability(0.5)
			f.Government.AdjustCorruption(-0.1)
		} else {
			f.Government.AdjustStability(-0.5)
			f.Government.AdjustCorruption(0.2)
		}
	}
	return nil
}

type rulerPayload struct {
	Faction social.FactionID
	Ruler   uint64
}

type plotPayload struct {
	Faction social.FactionID
	Plot    string
}

type unrestPayload struct {
	Faction social.FactionID
}

// CandidateEvents proposes this tick's political events.
func (g *Governance) CandidateEvents(tick uint64, gate event.Gate) []*event.Event {
	var out []*event.Event
	for _, f := range g.store.Factions() {
		ref := event.FactionRef(f.ID)
		court := g.court(f.ID)

		var died *event.Event
		if ruler, ok := court.Ruler(); ok {
			if gate.CanTrigger(event.RulerDied, ref) && g.rng.Float64() < g.cfg.RulerDeathChance {
				died = g.newEvent(event.RulerDied, tick, ref, f,
					fmt.Sprintf("%s, ruler of %s, has died", ruler.Name, f.Name),
					rulerPayload{Faction: f.ID, Ruler: ruler.ID})
				died.Magnitude = 2
				out = append(out, died)
			}
		} else if court.Vacant && tick-court.VacantSince >= uint64(g.cfg.InterregnumDays) &&
			gate.CanTrigger(event.Succession, ref) {
			ev := g.newEvent(event.Succession, tick, ref, f,
				fmt.Sprintf("The interregnum in %s draws to a close", f.Name),
				rulerPayload{Faction: f.ID})
			ev.Magnitude = 1.5
			out = append(out, ev)
		}

		for _, p := range court.Plots {
			if p.Applied || p.Status == PlotActive {
				continue
			}
			t := event.PlotResolved
			if p.Status == PlotExposed {
				t = event.IntrigueExposed
			}
			if !gate.CanTrigger(t, ref) {
				continue
			}
			ev := g.newEvent(t, tick, ref, f, fmt.Sprintf("A %s plot in %s has %s", p.Goal, f.Name, p.Status),
				plotPayload{Faction: f.ID, Plot: p.ID})
			ev.Location = "plot:" + p.ID
			ev.Magnitude = 1
			if p.Goal == GoalSeizePower && p.Status == PlotSucceeded {
				ev.Magnitude = 1.5
			}
			if p.Goal == GoalTransformSociety && p.Status == PlotSucceeded {
				ev.ConsciousnessImpact = 0.5
			}
			out = append(out, ev)
		}

		if f.Government.Stability < g.cfg.UnrestThreshold && gate.CanTrigger(event.Unrest, ref) &&
			g.rng.Float64() < g.cfg.UnrestChance {
			ev := g.newEvent(event.Unrest, tick, ref, f, fmt.Sprintf("Unrest spreads through %s", f.Name),
				unrestPayload{Faction: f.ID})
			ev.Magnitude = 0.5 + (g.cfg.UnrestThreshold-f.Government.Stability)/10
			// Unrest in a mourning realm follows the death and is worse for it.
			if died != nil {
				ev.DependsOn = []string{died.ID}
				ev.Magnitude += 0.5
			}
			out = append(out, ev)
		}
	}
	return out
}

func (g *Governance) newEvent(t event.Type, tick uint64, ref string, f *social.Faction, desc string, payload any) *event.Event {
	return &event.Event{
		ID:          g.store.NextID("event"),
		Type:        t,
		Tick:        tick,
		Source:      g.Name(),
		Location:    ref,
		EntityID:    ref,
		Entities:    []string{ref},
		Description: desc,
		Payload:     payload,
	}
}

// Handle applies a dispatched political event.
func (g *Governance) Handle(ev *event.Event) error {
	switch p := ev.Payload.(type) {
	case rulerPayload:
		court, err := g.Court(p.Faction)
		if err != nil {
			return err
		}
		if ev.Type == event.RulerDied {
			if ruler, ok := court.Ruler(); !ok || ruler.ID != p.Ruler {
				return fmt.Errorf("ruler %d of faction %d no longer reigns", p.Ruler, p.Faction)
			}
		}
		res, err := g.DetermineSuccession(p.Faction, p.Ruler)
		if err != nil {
			return err
		}
		if res.Crisis && ev.Type == event.Succession {
			g.raiseStrongman(court, p.Faction)
		}
		slog.Info("succession", "faction", p.Faction, "method", res.Method, "successor", res.Successor, "crisis", res.Crisis)
		return nil

	case plotPayload:
		return g.ApplyPlot(p.Faction, p.Plot)

	case unrestPayload:
		f, err := g.store.Faction(p.Faction)
		if err != nil {
			return err
		}
		mag := max(ev.Magnitude, 0.5)
		f.Government.AdjustStability(-3 * mag)
		f.Government.AdjustCorruption(mag)
		f.Resources.Add(social.Resources{Influence: -5 * mag})
		return nil
	}
	return fmt.Errorf("politics: unexpected payload %T for %s", ev.Payload, ev.Type)
}

// raiseStrongman seats a new courtier when an interregnum finds nobody.
func (g *Governance) raiseStrongman(court *Court, id social.FactionID) {
	f, err := g.store.Faction(id)
	if err != nil {
		return
	}
	c := GenerateCourtier(g.rng, g.store.NextSerial(), f)
	court.Members = append(court.Members, c)
	res := SuccessionResult{FactionID: id, Method: social.SuccessionMeritocratic, Successor: c.ID}
	g.install(court, f, &res)
}

var reformValues = []string{"equality", "enlightenment", "unity", "renewal", "compassion"}

// ApplyPlot carries out a resolved plot's consequences.
func (g *Governance) ApplyPlot(id social.FactionID, plotID string) error {
	f, err := g.store.Faction(id)
	if err != nil {
		return err
	}
	court := g.court(id)
	p, err := court.plot(plotID)
	if err != nil {
		return err
	}
	if p.Applied {
		return nil
	}
	p.Applied = true
	leader, hasLeader := court.Member(p.Leader)

	conspirators := func(fn func(c *Courtier)) {
		for _, cid := range p.Conspirators {
			if c, ok := court.Member(cid); ok {
				fn(c)
			}
		}
	}

	switch p.Status {
	case PlotSucceeded:
		switch p.Goal {
		case GoalSeizePower:
			if !hasLeader || !leader.Alive {
				return nil
			}
			if old, ok := court.Ruler(); ok {
				old.Position = PositionCourtier
				old.Influence /= 2
				old.Loyalty = 0
			}
			leader.Position = PositionRuler
			leader.Agenda = AgendaNone
			leader.Heir = false
			f.SetRuler(leader.ID)
			court.Vacant = false
			court.Successions++
			f.Government.AdjustStability(-15)
		case GoalTransformSociety:
			f.Consciousness.Frequency += 2
			start := g.rng.Intn(len(reformValues))
			for i := range reformValues {
				if f.Consciousness.AddValue(reformValues[(start+i)%len(reformValues)]) {
					break
				}
			}
			f.Government.AdjustStability(-5)
			conspirators(func(c *Courtier) { c.Agenda = AgendaNone })
		case GoalAdvisorPromotion:
			if hasLeader {
				leader.Position = PositionAdvisor
				leader.adjustInfluence(20)
				leader.Agenda = AgendaNone
			}
		}
	case PlotFailed:
		conspirators(func(c *Courtier) { c.adjustLoyalty(-20) })
		if hasLeader {
			leader.Influence /= 2
			leader.Agenda = AgendaNone
		}
		f.Government.AdjustStability(-3)
	case PlotExposed:
		ruler, hasRuler := court.Ruler()
		conspirators(func(c *Courtier) {
			c.adjustLoyalty(-15)
			c.Agenda = AgendaNone
			if hasRuler {
				c.adjustTrust(ruler.ID, -30)
				ruler.adjustTrust(c.ID, -30)
			}
		})
		if hasLeader {
			leader.adjustInfluence(-10)
		}
		f.Government.AdjustStability(-2)
	}
	return nil
}

// FactionStatus is the political summary of one faction.
type FactionStatus struct {
	FactionID   social.FactionID  `json:"faction_id"`
	Name        string            `json:"name"`
	Government  social.Government `json:"government"`
	RulerID     uint64            `json:"ruler_id,omitempty"`
	Ruler       string            `json:"ruler,omitempty"`
	CourtSize   int               `json:"court_size"`
	ActivePlots int               `json:"active_plots"`
	Vacant      bool              `json:"vacant"`
	Cohesion    float64           `json:"cohesion"`
	Successions int               `json:"successions"`
}

// Status summarizes every faction's government and court.
func (g *Governance) Status() []FactionStatus {
	var out []FactionStatus
	for _, f := range g.store.Factions() {
		court := g.court(f.ID)
		st := FactionStatus{
			FactionID:   f.ID,
			Name:        f.Name,
			Government:  f.Government,
			CourtSize:   len(court.Living()),
			ActivePlots: len(court.ActivePlots()),
			Vacant:      court.Vacant,
			Cohesion:    court.Cohesion,
			Successions: court.Successions,
		}
		if r, ok := court.Ruler(); ok {
			st.RulerID, st.Ruler = r.ID, r.Name
		}
		out = append(out, st)
	}
	return out
}

// Snapshot is the serializable state of every court.
type Snapshot struct {
	Courts []Court `json:"courts"`
}

// Export deep-copies every court, ordered by faction id.
func (g *Governance) Export() Snapshot {
	var snap Snapshot
	for _, id := range slices.Sorted(maps.Keys(g.courts)) {
		snap.Courts = append(snap.Courts, cloneCourt(g.courts[id]))
	}
	return snap
}

// Import replaces the courts with a copy of snap.
func (g *Governance) Import(snap Snapshot) {
	g.courts = make(map[social.FactionID]*Court, len(snap.Courts))
	for i := range snap.Courts {
		c := cloneCourt(&snap.Courts[i])
		g.courts[c.FactionID] = &c
	}
}

func cloneCourt(src *Court) Court {
	c := *src
	c.Members = make([]*Courtier, len(src.Members))
	for i, m := range src.Members {
		cp := *m
		cp.Relations = maps.Clone(m.Relations)
		c.Members[i] = &cp
	}
	c.Plots = make([]*Plot, len(src.Plots))
	for i, p := range src.Plots {
		cp := *p
		cp.Conspirators = slices.Clone(p.Conspirators)
		c.Plots[i] = &cp
	}
	if src.LastReport != nil {
		r := *src.LastReport
		r.Phases = slices.Clone(r.Phases)
		c.LastReport = &r
	}
	return c
}
