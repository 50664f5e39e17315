// Package engine runs the world: it owns the subsystems, drives them one
// tick at a time through the event orchestrator and answers queries about
// the result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/chronicle/internal/config"
	"github.com/talgya/chronicle/internal/diplomacy"
	"github.com/talgya/chronicle/internal/economy"
	"github.com/talgya/chronicle/internal/entropy"
	"github.com/talgya/chronicle/internal/event"
	"github.com/talgya/chronicle/internal/politics"
	"github.com/talgya/chronicle/internal/social"
	"github.com/talgya/chronicle/internal/state"
	"github.com/talgya/chronicle/internal/warfare"
	"github.com/talgya/chronicle/internal/world"
)

var (
	ErrAlreadyGenerated = errors.New("world already generated")
	ErrNotGenerated     = errors.New("world not generated")
)

// minSiteDistance keeps settlements at least this many hexes apart.
const minSiteDistance = 3

// Simulation is the world history engine. All methods are safe for
// concurrent use; ticks take the write lock and queries the read lock.
type Simulation struct {
	mu  sync.RWMutex
	cfg config.Config

	world     *state.World
	politics  *politics.Governance
	diplomacy *diplomacy.Ledger
	economy   *economy.Exchange
	warfare   *warfare.Front
	orch      *Orchestrator
	streams   map[string]entropy.Stream

	stats     []Stats
	feed      feed
	tracer    trace.Tracer
	generated bool
}

// New validates cfg and wires an empty world. Call GenerateWorld or Import
// before stepping it.
func New(cfg config.Config) (*Simulation, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Simulation{
		cfg:    cfg,
		tracer: otel.Tracer("github.com/talgya/chronicle/internal/engine"),
	}
	if err := s.wire(state.NewWorld(cfg.Seed)); err != nil {
		return nil, err
	}
	return s, nil
}

// wire builds the subsystems over w and registers them. Registration order
// is war, politics, diplomacy, economy.
func (s *Simulation) wire(w *state.World) error {
	ce := s.cfg.ComplexEvents
	s.world = w
	s.politics = politics.New(w, ce.Political)
	s.diplomacy = diplomacy.New(w, ce.Diplomatic)
	s.diplomacy.SetDiplomats(s.politics)
	s.economy = economy.New(w, ce.Trade)
	s.economy.SetPolicy(s.diplomacy)
	s.warfare = warfare.New(w, s.diplomacy, ce.War)

	s.orch = NewOrchestrator(s.cfg.CooldownTicks(), s.cfg.History.Capacity)
	s.streams = map[string]entropy.Stream{
		s.warfare.Name():   entropy.StreamWarfare,
		s.politics.Name():  entropy.StreamPolitics,
		s.diplomacy.Name(): entropy.StreamDiplomacy,
		s.economy.Name():   entropy.StreamEconomy,
	}
	for _, sys := range []Subsystem{s.warfare, s.politics, s.diplomacy, s.economy} {
		if err := s.orch.Register(sys); err != nil {
			return err
		}
	}
	return nil
}

// GenerateWorld lays out the map, founds the factions and their
// settlements, opens markets and trade routes and introduces every faction
// to every other.
func (s *Simulation) GenerateWorld(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generated {
		return ErrAlreadyGenerated
	}
	_, span := s.tracer.Start(ctx, "generate world")
	defer span.End()

	wc := s.cfg.World
	m := world.Generate(world.DefaultGenConfig(wc.Radius, s.cfg.Seed))
	s.world.SetMap(m)
	rng := entropy.ForTick(s.cfg.Seed, entropy.StreamWorldGen, 0)

	sites := world.PlaceSites(m, s.cfg.Seed, wc.Factions*wc.SettlementsPerFaction, minSiteDistance)
	if len(sites) < wc.Factions {
		return fmt.Errorf("map of radius %d fits %d settlements, need at least %d", wc.Radius, len(sites), wc.Factions)
	}

	templates := social.SeedTemplates()
	factions := make([]*social.Faction, 0, wc.Factions)
	for i := 0; i < wc.Factions; i++ {
		t := templates[i%len(templates)]
		if i >= len(templates) {
			t.Name = fmt.Sprintf("%s of %s", t.Name, sites[i].Name)
		}
		f, err := s.politics.CreateFaction(politics.FactionConfig{
			Template:  t,
			CourtSize: wc.CourtSize,
			Heirs:     -1,
		})
		if err != nil {
			return fmt.Errorf("found %s: %w", t.Name, err)
		}
		factions = append(factions, f)
	}

	for i, site := range sites {
		f := factions[i%len(factions)]
		t := &social.Settlement{
			ID:         s.world.NextSerial(),
			Name:       site.Name,
			Position:   site.Coord,
			Terrain:    m.TerrainAt(site.Coord),
			Population: uint32(500 + rng.Intn(1500)),
			FactionID:  f.ID,
		}
		s.world.AddSettlement(t)
		f.Settlements = append(f.Settlements, t.ID)
	}

	s.economy.OpenMarkets()
	routes := economy.BuildRoutes(s.world, wc.MaxRouteDistance, wc.RoutesPerSettlement)
	s.economy.AddRoutes(routes...)

	for i, a := range factions {
		for _, b := range factions[i+1:] {
			if _, err := s.diplomacy.Relationship(a.ID, b.ID); err != nil {
				return err
			}
		}
	}

	s.generated = true
	s.pushStats(s.collectStats(0, nil))
	slog.Info("world generated",
		"seed", s.cfg.Seed,
		"hexes", humanize.Comma(int64(m.HexCount())),
		"factions", len(factions),
		"settlements", len(sites),
		"routes", len(routes),
	)
	return nil
}

// ProcessTimeStep advances the world by step ticks. A step below one is
// treated as one.
func (s *Simulation) ProcessTimeStep(ctx context.Context, step int) error {
	if step < 1 {
		step = 1
	}
	for i := 0; i < step; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.advance(ctx); err != nil {
			return err
		}
	}
	return nil
}

// advance runs one tick: reseed, concurrent updates, then sequential event
// collection and dispatch.
func (s *Simulation) advance(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.generated {
		return ErrNotGenerated
	}

	tick := s.world.Tick() + 1
	s.world.SetTick(tick)
	ctx, span := s.tracer.Start(ctx, "tick", trace.WithAttributes(attribute.Int64("tick", int64(tick))))
	defer span.End()

	subsystems := s.orch.Subsystems()
	for _, sys := range subsystems {
		sys.Reseed(entropy.ForTick(s.cfg.Seed, s.streams[sys.Name()], tick))
	}

	g, gctx := errgroup.WithContext(ctx)
	if !s.cfg.ParallelUpdates {
		g.SetLimit(1)
	}
	for _, sys := range subsystems {
		g.Go(func() error {
			if err := sys.Update(gctx, tick); err != nil {
				return fmt.Errorf("%s update: %w", sys.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("tick %d: %w", tick, err)
	}

	var dispatched []*event.Event
	if s.cfg.ComplexEvents.Enabled {
		candidates := s.orch.CheckEmergentEvents(tick)
		dispatched = s.orch.ProcessEvents(ctx, tick, candidates)
		s.feed.publish(dispatched)
	}
	span.SetAttributes(attribute.Int("events", len(dispatched)))

	st := s.collectStats(tick, dispatched)
	s.pushStats(st)
	if tick%economy.TicksPerSeason == 0 {
		slog.Info("season turned",
			"time", SimTime(tick),
			"population", humanize.Comma(int64(st.Population)),
			"gold", humanize.Commaf(st.Gold),
			"wars", st.ActiveWars,
			"treaties", st.Treaties,
		)
	}
	return nil
}

// Tick returns the last processed tick.
func (s *Simulation) Tick() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.world.Tick()
}

// Generated reports whether the world has been generated or restored.
func (s *Simulation) Generated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generated
}

// ActiveWars returns the wars still being fought.
func (s *Simulation) ActiveWars() []warfare.War {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.warfare.ActiveWars()
}

// MarketStatus summarizes every market and the route network.
func (s *Simulation) MarketStatus() economy.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.economy.Status()
}

// Market describes the market of one settlement.
func (s *Simulation) Market(settlement uint64) (economy.MarketSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, err := s.economy.Market(settlement)
	if err != nil {
		return economy.MarketSummary{}, err
	}
	return s.economy.Summary(m), nil
}

// PoliticalStatus summarizes every faction's government and court.
func (s *Simulation) PoliticalStatus() []politics.FactionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.politics.Status()
}

// Factions returns copies of the active factions.
func (s *Simulation) Factions() []social.Faction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []social.Faction
	for _, f := range s.world.Factions() {
		out = append(out, copyFaction(f))
	}
	return out
}

func copyFaction(f *social.Faction) social.Faction {
	c := *f
	c.Settlements = slices.Clone(f.Settlements)
	c.Consciousness.Values = slices.Clone(f.Consciousness.Values)
	if f.RulerID != nil {
		id := *f.RulerID
		c.RulerID = &id
	}
	return c
}

// FactionDetail is everything known about one faction.
type FactionDetail struct {
	Faction       social.Faction           `json:"faction"`
	Politics      politics.FactionStatus   `json:"politics"`
	Settlements   []social.Settlement      `json:"settlements"`
	Markets       []economy.MarketSummary  `json:"markets"`
	Relationships []diplomacy.Relationship `json:"relationships"`
	Wars          []warfare.War            `json:"wars"`
}

// Faction returns the detail view of one faction.
func (s *Simulation) Faction(id social.FactionID) (FactionDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, err := s.world.Faction(id)
	if err != nil {
		return FactionDetail{}, err
	}
	d := FactionDetail{Faction: copyFaction(f)}
	for _, st := range s.politics.Status() {
		if st.FactionID == id {
			d.Politics = st
		}
	}
	for _, sid := range f.Settlements {
		t, err := s.world.Settlement(sid)
		if err != nil {
			continue
		}
		d.Settlements = append(d.Settlements, *t)
		if m, err := s.economy.Market(sid); err == nil {
			d.Markets = append(d.Markets, s.economy.Summary(m))
		}
	}
	for _, r := range s.diplomacy.Relationships() {
		if r.A == id || r.B == id {
			d.Relationships = append(d.Relationships, r)
		}
	}
	for _, w := range s.warfare.ActiveWars() {
		if w.Involves(id) {
			d.Wars = append(d.Wars, w)
		}
	}
	return d, nil
}

// DiplomaticStatus is the state of every relationship and treaty.
type DiplomaticStatus struct {
	Relationships []diplomacy.Relationship `json:"relationships"`
	Treaties      []diplomacy.Treaty       `json:"treaties"`
}

// DiplomaticStatus returns every relationship and treaty.
func (s *Simulation) DiplomaticStatus() DiplomaticStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds := DiplomaticStatus{Relationships: s.diplomacy.Relationships()}
	for _, t := range s.diplomacy.Treaties() {
		c := *t
		c.Rounds = slices.Clone(t.Rounds)
		c.Signatures = slices.Clone(t.Signatures)
		ds.Treaties = append(ds.Treaties, c)
	}
	return ds
}

// QueryHistory returns the recorded events matching c.
func (s *Simulation) QueryHistory(c Criteria) []event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orch.QueryHistory(c)
}

// StatsHistory returns the recorded per-tick statistics, oldest first.
func (s *Simulation) StatsHistory() []Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.stats)
}

// Subscribe returns a channel of dispatched events and a func that ends
// the subscription and closes the channel.
func (s *Simulation) Subscribe(buf int) (<-chan event.Event, func()) {
	return s.feed.subscribe(buf)
}

// Snapshot is the complete serializable state of a simulation.
type Snapshot struct {
	World        state.Snapshot       `json:"world"`
	Politics     politics.Snapshot    `json:"politics"`
	Diplomacy    diplomacy.Snapshot   `json:"diplomacy"`
	Economy      economy.Snapshot     `json:"economy"`
	Warfare      warfare.Snapshot     `json:"warfare"`
	Orchestrator OrchestratorSnapshot `json:"orchestrator"`
	Stats        []Stats              `json:"stats"`
}

// Export copies the whole simulation into a Snapshot.
func (s *Simulation) Export() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		World:        s.world.Export(),
		Politics:     s.politics.Export(),
		Diplomacy:    s.diplomacy.Export(),
		Economy:      s.economy.Export(),
		Warfare:      s.warfare.Export(),
		Orchestrator: s.orch.Export(),
		Stats:        slices.Clone(s.stats),
	}
}

// Import replaces the simulation's state with snap. The restored world
// continues exactly as the exported one would have.
func (s *Simulation) Import(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.World.Seed != s.cfg.Seed {
		slog.Warn("snapshot seed differs from config, using snapshot seed",
			"config", s.cfg.Seed, "snapshot", snap.World.Seed)
	}
	s.cfg.Seed = snap.World.Seed
	if err := s.wire(state.Restore(snap.World)); err != nil {
		return err
	}
	s.politics.Import(snap.Politics)
	s.diplomacy.Import(snap.Diplomacy)
	s.economy.Import(snap.Economy)
	s.warfare.Import(snap.Warfare)
	s.orch.Import(snap.Orchestrator)
	s.stats = slices.Clone(snap.Stats)
	s.generated = true
	slog.Info("world restored", "tick", snap.World.Tick, "events", len(snap.Orchestrator.History))
	return nil
}
