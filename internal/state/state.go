// Package state is the shared world model. Subsystems see it only through
// the Store interface; each keeps its own private collections alongside.
package state

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/talgya/chronicle/internal/social"
	"github.com/talgya/chronicle/internal/world"
)

// ErrNotFound is returned by lookups of unknown ids.
var ErrNotFound = errors.New("not found")

// idSpace namespaces the name-based ids minted by NextID.
var idSpace = uuid.MustParse("6f1c2b8e-4d0a-4e55-9b67-2a1d9c3e7f40")

// Store is the accessor surface subsystems are constructed with.
type Store interface {
	Tick() uint64
	Seed() int64
	Faction(id social.FactionID) (*social.Faction, error)
	Factions() []*social.Faction
	Settlement(id uint64) (*social.Settlement, error)
	Settlements() []*social.Settlement
	AddFaction(f *social.Faction)
	AddSettlement(s *social.Settlement)
	Distance(a, b uint64) (int, error)
	NextID(kind string) string
	NextSerial() uint64
	Map() *world.Map
}

// World is the in-memory Store.
type World struct {
	tick        uint64
	seed        int64
	factions    map[social.FactionID]*social.Faction
	settlements map[uint64]*social.Settlement
	grid        *world.Map

	// Counters are touched from concurrent subsystem updates. Each kind is
	// minted by a single subsystem, so per-kind sequences stay deterministic.
	mu       sync.Mutex
	counters map[string]uint64
}

// NewWorld returns an empty world for the given seed.
func NewWorld(seed int64) *World {
	return &World{
		seed:        seed,
		factions:    make(map[social.FactionID]*social.Faction),
		settlements: make(map[uint64]*social.Settlement),
		counters:    make(map[string]uint64),
	}
}

func (w *World) Tick() uint64 { return w.tick }
func (w *World) Seed() int64  { return w.seed }

// SetTick advances the clock. Only the engine calls this.
func (w *World) SetTick(t uint64) { w.tick = t }

// SetMap attaches the generated hex grid.
func (w *World) SetMap(m *world.Map) { w.grid = m }

// Map returns the hex grid, or nil before generation.
func (w *World) Map() *world.Map { return w.grid }

func (w *World) Faction(id social.FactionID) (*social.Faction, error) {
	f, ok := w.factions[id]
	if !ok {
		return nil, fmt.Errorf("faction %d: %w", id, ErrNotFound)
	}
	return f, nil
}

// Factions returns every non-dissolved faction ordered by id.
func (w *World) Factions() []*social.Faction {
	out := make([]*social.Faction, 0, len(w.factions))
	for _, id := range slices.Sorted(maps.Keys(w.factions)) {
		if f := w.factions[id]; !f.Dissolved {
			out = append(out, f)
		}
	}
	return out
}

func (w *World) Settlement(id uint64) (*social.Settlement, error) {
	s, ok := w.settlements[id]
	if !ok {
		return nil, fmt.Errorf("settlement %d: %w", id, ErrNotFound)
	}
	return s, nil
}

// Settlements returns every settlement ordered by id.
func (w *World) Settlements() []*social.Settlement {
	out := make([]*social.Settlement, 0, len(w.settlements))
	for _, id := range slices.Sorted(maps.Keys(w.settlements)) {
		out = append(out, w.settlements[id])
	}
	return out
}

func (w *World) AddFaction(f *social.Faction) { w.factions[f.ID] = f }

func (w *World) AddSettlement(s *social.Settlement) { w.settlements[s.ID] = s }

// Distance is the hex distance between two settlements.
func (w *World) Distance(a, b uint64) (int, error) {
	sa, err := w.Settlement(a)
	if err != nil {
		return 0, err
	}
	sb, err := w.Settlement(b)
	if err != nil {
		return 0, err
	}
	return world.Distance(sa.Position, sb.Position), nil
}

// NextID mints a stable id for kind. The same seed and call sequence
// always produce the same ids.
func (w *World) NextID(kind string) string {
	n := w.next(kind)
	return uuid.NewSHA1(idSpace, fmt.Appendf(nil, "%d/%s/%d", w.seed, kind, n)).String()
}

// NextSerial returns the next numeric id, used for courtiers and
// settlements that are referenced by number.
func (w *World) NextSerial() uint64 {
	return w.next("serial")
}

func (w *World) next(kind string) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counters[kind]++
	return w.counters[kind]
}

// Snapshot is the serializable form of a World.
type Snapshot struct {
	Tick        uint64              `json:"tick"`
	Seed        int64               `json:"seed"`
	Radius      int                 `json:"radius"`
	Factions    []social.Faction    `json:"factions"`
	Settlements []social.Settlement `json:"settlements"`
	Counters    map[string]uint64   `json:"counters"`
}

// Export copies the world into a Snapshot. The hex grid is not stored; it
// is regenerated from seed and radius.
func (w *World) Export() Snapshot {
	snap := Snapshot{
		Tick:     w.tick,
		Seed:     w.seed,
		Counters: maps.Clone(w.counters),
	}
	if w.grid != nil {
		snap.Radius = w.grid.Radius
	}
	for _, id := range slices.Sorted(maps.Keys(w.factions)) {
		f := *w.factions[id]
		f.Consciousness.Values = slices.Clone(f.Consciousness.Values)
		f.Settlements = slices.Clone(f.Settlements)
		snap.Factions = append(snap.Factions, f)
	}
	for _, s := range w.Settlements() {
		snap.Settlements = append(snap.Settlements, *s)
	}
	return snap
}

// Restore rebuilds a World from a Snapshot.
func Restore(snap Snapshot) *World {
	w := NewWorld(snap.Seed)
	w.tick = snap.Tick
	if snap.Counters != nil {
		w.counters = maps.Clone(snap.Counters)
	}
	if snap.Radius > 0 {
		w.grid = world.Generate(world.DefaultGenConfig(snap.Radius, snap.Seed))
	}
	for i := range snap.Factions {
		f := snap.Factions[i]
		w.factions[f.ID] = &f
	}
	for i := range snap.Settlements {
		s := snap.Settlements[i]
		w.settlements[s.ID] = &s
	}
	return w
}
