package diplomacy

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/talgya/chronicle/internal/entropy"
	"github.com/talgya/chronicle/internal/event"
	"github.com/talgya/chronicle/internal/resolve"
	"github.com/talgya/chronicle/internal/social"
	"github.com/talgya/chronicle/internal/state"
)

// MaxRounds bounds a single treaty negotiation.
const MaxRounds = 5

const negotiationDifficulty = 10

// Config tunes the diplomatic subsystem.
type Config struct {
	IncidentChance    float64 `yaml:"incidentChance"`
	ProposalChance    float64 `yaml:"proposalChance"`
	ActionChance      float64 `yaml:"actionChance"`
	DriftRate         float64 `yaml:"driftRate"`
	NegotiationRounds int     `yaml:"negotiationRounds"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		IncidentChance:    0.02,
		ProposalChance:    0.02,
		ActionChance:      0.05,
		DriftRate:         0.01,
		NegotiationRounds: MaxRounds,
	}
}

// Diplomat is the courtier who speaks for a faction.
type Diplomat struct {
	ID       uint64
	Name     string
	Charisma int
	Wisdom   int
	Skill    float64
}

var defaultDiplomat = Diplomat{Charisma: 10, Wisdom: 10, Skill: 5}

// DiplomatProvider finds the envoy of a faction.
type DiplomatProvider interface {
	Diplomat(f social.FactionID) (Diplomat, bool)
}

// Ledger is the diplomatic subsystem. It owns every relationship and
// treaty; other subsystems read it only through accessor methods.
type Ledger struct {
	store     state.Store
	diplomats DiplomatProvider
	cfg       Config
	rng       entropy.Source

	relations     map[pairKey]*Relationship
	treaties      map[string]*Treaty
	treatyOrder   []string
	pendingSigned []string
	expiring      []string
}

// New returns a ledger bound to store.
func New(store state.Store, cfg Config) *Ledger {
	return &Ledger{
		store:     store,
		cfg:       cfg,
		rng:       entropy.ForTick(store.Seed(), entropy.StreamDiplomacy, 0),
		relations: make(map[pairKey]*Relationship),
		treaties:  make(map[string]*Treaty),
	}
}

// SetDiplomats wires the envoy lookup.
func (l *Ledger) SetDiplomats(p DiplomatProvider) { l.diplomats = p }

func (l *Ledger) Name() string { return "diplomacy" }

func (l *Ledger) EventTypes() []event.Type {
	return []event.Type{
		event.DiplomaticIncident, event.DiplomaticAction,
		event.TreatyProposed, event.TreatySigned, event.TreatyExpired,
	}
}

// Reseed replaces the random source for the coming tick.
func (l *Ledger) Reseed(src entropy.Source) { l.rng = src }

// Relationship returns the pair's relationship, creating it on first use.
// The result is the same object for (a, b) and (b, a).
func (l *Ledger) Relationship(a, b social.FactionID) (*Relationship, error) {
	if a == b {
		return nil, fmt.Errorf("relationship of %d with itself: %w", a, ErrInvalidParties)
	}
	k := keyOf(a, b)
	if r, ok := l.relations[k]; ok {
		return r, nil
	}
	fa, err := l.store.Faction(a)
	if err != nil {
		return nil, err
	}
	fb, err := l.store.Faction(b)
	if err != nil {
		return nil, err
	}
	r := newRelationship(fa, fb)
	l.relations[k] = r
	return r, nil
}

// Relationships returns copies of every known relationship ordered by pair.
func (l *Ledger) Relationships() []Relationship {
	keys := slices.SortedFunc(maps.Keys(l.relations), func(x, y pairKey) int {
		if x.a != y.a {
			return cmpID(x.a, y.a)
		}
		return cmpID(x.b, y.b)
	})
	out := make([]Relationship, 0, len(keys))
	for _, k := range keys {
		out = append(out, *l.relations[k])
	}
	return out
}

func cmpID(a, b social.FactionID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Embargoed reports whether either side embargoes the other.
func (l *Ledger) Embargoed(a, b social.FactionID) bool {
	r, err := l.Relationship(a, b)
	return err == nil && r.Embargo
}

// TariffReduction is the reduction granted by an active trade agreement.
func (l *Ledger) TariffReduction(a, b social.FactionID) float64 {
	r, err := l.Relationship(a, b)
	if err != nil || !r.TradeAgreement {
		return 0
	}
	return r.TariffReduction
}

// Hostile reports whether the pair is cold or worse and not bound by a
// non-aggression pact.
func (l *Ledger) Hostile(a, b social.FactionID) bool {
	r, err := l.Relationship(a, b)
	if err != nil || r.NonAggression || r.Alliance {
		return false
	}
	return r.Status == StatusHostile || r.Status == StatusCold
}

// Allied reports whether the pair holds an alliance.
func (l *Ledger) Allied(a, b social.FactionID) bool {
	r, err := l.Relationship(a, b)
	return err == nil && r.Alliance
}

// Opinion returns the pair's opinion, or 0 for invalid pairs.
func (l *Ledger) Opinion(a, b social.FactionID) float64 {
	r, err := l.Relationship(a, b)
	if err != nil {
		return 0
	}
	return r.Opinion
}

// Adjust shifts the pair's opinion and trust.
func (l *Ledger) Adjust(a, b social.FactionID, opinion, trust float64) {
	if r, err := l.Relationship(a, b); err == nil {
		r.Adjust(opinion, trust)
	}
}

// diplomatFor returns the envoy and the negotiation modifier for f.
func (l *Ledger) diplomatFor(f *social.Faction) (Diplomat, float64) {
	d := defaultDiplomat
	if l.diplomats != nil {
		if found, ok := l.diplomats.Diplomat(f.ID); ok {
			d = found
		}
	}
	mod := resolve.AbilityModifier(d.Charisma) + resolve.AbilityModifier(d.Wisdom) + d.Skill +
		f.Consciousness.Coherence*3
	if f.Consciousness.Frequency > 10 {
		mod += 2
	}
	return d, mod
}

// Update relaxes every relationship toward its baseline and queues
// treaties whose term has run out.
func (l *Ledger) Update(ctx context.Context, tick uint64) error {
	for _, k := range slices.Collect(maps.Keys(l.relations)) {
		r := l.relations[k]
		if fa, err := l.store.Faction(r.A); err == nil {
			if fb, err := l.store.Faction(r.B); err == nil {
				r.Resonance = ResonanceFor(fa.Consciousness.Frequency, fb.Consciousness.Frequency)
			}
		}
		r.Opinion += (r.baseline() - r.Opinion) * l.cfg.DriftRate
		r.Trust += (baselineTrust - r.Trust) * l.cfg.DriftRate
		r.Adjust(0, 0)
	}

	l.expiring = l.expiring[:0]
	for _, id := range l.treatyOrder {
		tr := l.treaties[id]
		if tr.Status == TreatyActive && tick >= tr.ExpiresAt {
			l.expiring = append(l.expiring, id)
		}
	}
	return ctx.Err()
}

type incidentPayload struct {
	A, B social.FactionID
}

type proposalPayload struct {
	Proposer, Receiver social.FactionID
	Type               TreatyType
}

type actionPayload struct {
	Name          ActionName
	Actor, Target social.FactionID
}

type treatyPayload struct {
	ID string
}

// CandidateEvents proposes this tick's diplomatic events.
func (l *Ledger) CandidateEvents(tick uint64, gate event.Gate) []*event.Event {
	var out []*event.Event

	var waiting []string
	for _, id := range l.pendingSigned {
		tr := l.treaties[id]
		ref := event.PairRef(tr.Parties[0], tr.Parties[1])
		if !gate.CanTrigger(event.TreatySigned, ref) {
			waiting = append(waiting, id)
			continue
		}
		out = append(out, l.treatyEvent(event.TreatySigned, tick, tr, "comes into force"))
	}
	l.pendingSigned = waiting

	for _, id := range l.expiring {
		tr := l.treaties[id]
		if !gate.CanTrigger(event.TreatyExpired, event.PairRef(tr.Parties[0], tr.Parties[1])) {
			continue
		}
		out = append(out, l.treatyEvent(event.TreatyExpired, tick, tr, "lapses"))
	}

	factions := l.store.Factions()
	for i := 0; i < len(factions); i++ {
		for j := i + 1; j < len(factions); j++ {
			a, b := factions[i], factions[j]
			rel, err := l.Relationship(a.ID, b.ID)
			if err != nil {
				continue
			}
			ref := event.PairRef(a.ID, b.ID)

			chance := l.cfg.IncidentChance
			switch rel.Resonance {
			case Dissonant:
				chance *= 1.5
			case Resonant:
				chance *= 0.5
			}
			if gate.CanTrigger(event.DiplomaticIncident, ref) && l.rng.Float64() < chance {
				ev := l.newEvent(event.DiplomaticIncident, tick, ref, a.ID, b.ID,
					fmt.Sprintf("Border incident strains %s and %s", a.Name, b.Name), incidentPayload{A: a.ID, B: b.ID})
				ev.Magnitude = 1
				out = append(out, ev)
			}

			if gate.CanTrigger(event.TreatyProposed, ref) && l.rng.Float64() < l.cfg.ProposalChance {
				proposer, receiver := a, b
				if l.rng.Intn(2) == 1 {
					proposer, receiver = b, a
				}
				if tt := l.desiredTreaty(proposer, receiver, rel); tt != "" {
					ev := l.newEvent(event.TreatyProposed, tick, ref, proposer.ID, receiver.ID,
						fmt.Sprintf("%s proposes a %s to %s", proposer.Name, tt, receiver.Name),
						proposalPayload{Proposer: proposer.ID, Receiver: receiver.ID, Type: tt})
					ev.Magnitude = 1
					out = append(out, ev)
				}
			}

			if gate.CanTrigger(event.DiplomaticAction, ref) && l.rng.Float64() < l.cfg.ActionChance {
				actor, target := a, b
				if l.rng.Intn(2) == 1 {
					actor, target = b, a
				}
				options := AvailableActions(actor, target, rel)
				if len(options) == 0 {
					continue
				}
				name := options[l.rng.Intn(len(options))]
				ev := l.newEvent(event.DiplomaticAction, tick, ref, actor.ID, target.ID,
					fmt.Sprintf("%s attempts %s toward %s", actor.Name, name, target.Name),
					actionPayload{Name: name, Actor: actor.ID, Target: target.ID})
				ev.Magnitude = 0.5
				if name == CulturalExchange {
					ev.ConsciousnessImpact = 0.2
				}
				out = append(out, ev)
			}
		}
	}
	return out
}

// desiredTreaty picks the treaty the proposer would seek, or "".
func (l *Ledger) desiredTreaty(p, r *social.Faction, rel *Relationship) TreatyType {
	open := func(tt TreatyType) bool {
		return !l.hasTreaty(p.ID, r.ID, tt, TreatyNegotiating, TreatySigned, TreatyActive)
	}
	switch {
	case !rel.Alliance && rel.Opinion > 50 && rel.Trust > 40 &&
		p.Resources.Military >= 100 && r.Resources.Military >= 100 && open(MilitaryAlliance):
		return MilitaryAlliance
	case !rel.TradeAgreement && !rel.Embargo && rel.Opinion > 25 && open(TradeAgreement):
		return TradeAgreement
	case !rel.NonAggression && rel.Opinion < 0 && rel.Opinion > -50 && open(NonAggression):
		return NonAggression
	case rel.Overlord == 0 && rel.Opinion < 25 && p.Resources.Military >= 2*max(r.Resources.Military, 1) &&
		open(Vassalage):
		return Vassalage
	}
	return ""
}

// treatyEvent is located at the treaty itself so two treaties between the
// same pair never aggregate.
func (l *Ledger) treatyEvent(t event.Type, tick uint64, tr *Treaty, what string) *event.Event {
	ev := l.newEvent(t, tick, event.PairRef(tr.Parties[0], tr.Parties[1]), tr.Parties[0], tr.Parties[1],
		fmt.Sprintf("%s treaty %s", tr.Type, what), treatyPayload{ID: tr.ID})
	ev.Location = "treaty:" + tr.ID
	ev.Magnitude = 1
	return ev
}

func (l *Ledger) newEvent(t event.Type, tick uint64, ref string, a, b social.FactionID, desc string, payload any) *event.Event {
	return &event.Event{
		ID:          l.store.NextID("event"),
		Type:        t,
		Tick:        tick,
		Source:      l.Name(),
		Location:    ref,
		EntityID:    ref,
		Entities:    []string{event.FactionRef(a), event.FactionRef(b)},
		Description: desc,
		Payload:     payload,
	}
}

// Handle applies a dispatched diplomatic event.
func (l *Ledger) Handle(ev *event.Event) error {
	switch p := ev.Payload.(type) {
	case incidentPayload:
		rel, err := l.Relationship(p.A, p.B)
		if err != nil {
			return err
		}
		severity := resolve.Dice(2, 6).Resolve(l.rng, 0) * max(ev.Magnitude, 1)
		rel.Adjust(-severity, -severity/2)
		rel.LastIncident = ev.Tick
		return nil

	case proposalPayload:
		tr, err := l.NegotiateTreaty(p.Proposer, p.Receiver, p.Type)
		if err != nil {
			return err
		}
		slog.Debug("treaty negotiated", "treaty", tr.ID, "type", tr.Type, "status", tr.Status, "rounds", len(tr.Rounds))
		if tr.Status == TreatyFailed {
			l.Adjust(p.Proposer, p.Receiver, -2, -2)
		}
		return nil

	case actionPayload:
		out, err := l.ExecuteAction(p.Name, p.Actor, p.Target)
		if err != nil {
			return err
		}
		slog.Debug("diplomatic action", "action", out.Action, "success", out.Check.Success, "status", out.Status)
		return nil

	case treatyPayload:
		if ev.Type == event.TreatySigned {
			return l.Activate(p.ID)
		}
		return l.Expire(p.ID)
	}
	return fmt.Errorf("diplomacy: unexpected payload %T for %s", ev.Payload, ev.Type)
}

// Snapshot is the serializable state of the ledger.
type Snapshot struct {
	Relationships []Relationship `json:"relationships"`
	Treaties      []Treaty       `json:"treaties"`
	PendingSigned []string       `json:"pending_signed,omitempty"`
}

// Export copies the ledger into a Snapshot.
func (l *Ledger) Export() Snapshot {
	snap := Snapshot{
		Relationships: l.Relationships(),
		PendingSigned: slices.Clone(l.pendingSigned),
	}
	for _, id := range l.treatyOrder {
		tr := *l.treaties[id]
		tr.Rounds = slices.Clone(tr.Rounds)
		tr.Signatures = slices.Clone(tr.Signatures)
		snap.Treaties = append(snap.Treaties, tr)
	}
	return snap
}

// Import replaces the ledger's state with snap.
func (l *Ledger) Import(snap Snapshot) {
	l.relations = make(map[pairKey]*Relationship, len(snap.Relationships))
	for i := range snap.Relationships {
		r := snap.Relationships[i]
		l.relations[keyOf(r.A, r.B)] = &r
	}
	l.treaties = make(map[string]*Treaty, len(snap.Treaties))
	l.treatyOrder = l.treatyOrder[:0]
	for i := range snap.Treaties {
		tr := snap.Treaties[i]
		l.addTreaty(&tr)
	}
	l.pendingSigned = slices.Clone(snap.PendingSigned)
	l.expiring = nil
}
