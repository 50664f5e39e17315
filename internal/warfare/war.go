// Package warfare declares, fights and ends wars between factions.
package warfare

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/talgya/chronicle/internal/entropy"
	"github.com/talgya/chronicle/internal/event"
	"github.com/talgya/chronicle/internal/resolve"
	"github.com/talgya/chronicle/internal/social"
	"github.com/talgya/chronicle/internal/state"
)

// Status is whether a war is still being fought.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// War is an armed conflict between two factions.
type War struct {
	ID                string           `json:"id"`
	Attacker          social.FactionID `json:"attacker"`
	Defender          social.FactionID `json:"defender"`
	StartTick         uint64           `json:"start_tick"`
	EndTick           uint64           `json:"end_tick,omitempty"`
	Battles           int              `json:"battles"`
	AttackerScore     float64          `json:"attacker_score"`
	DefenderScore     float64          `json:"defender_score"`
	AttackerWeariness float64          `json:"attacker_weariness"`
	DefenderWeariness float64          `json:"defender_weariness"`
	Status            Status           `json:"status"`
	Victor            social.FactionID `json:"victor,omitempty"`
}

// Involves reports whether f is a belligerent.
func (w *War) Involves(f social.FactionID) bool {
	return w.Attacker == f || w.Defender == f
}

// Config tunes the war subsystem.
type Config struct {
	DeclarationChance  float64 `yaml:"declarationChance"`
	BattleChance       float64 `yaml:"battleChance"`
	PeaceExhaustion    float64 `yaml:"peaceExhaustion"`
	HostilityThreshold float64 `yaml:"hostilityThreshold"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		DeclarationChance:  0.01,
		BattleChance:       0.2,
		PeaceExhaustion:    60,
		HostilityThreshold: -40,
	}
}

// Relations is the diplomatic surface war reads and changes.
type Relations interface {
	Hostile(a, b social.FactionID) bool
	Opinion(a, b social.FactionID) float64
	Adjust(a, b social.FactionID, opinion, trust float64)
}

// Front is the war subsystem.
type Front struct {
	store     state.Store
	cfg       Config
	rng       entropy.Source
	relations Relations

	wars  map[string]*War
	order []string
}

// New returns a war subsystem bound to store and relations.
func New(store state.Store, relations Relations, cfg Config) *Front {
	return &Front{
		store:     store,
		cfg:       cfg,
		rng:       entropy.ForTick(store.Seed(), entropy.StreamWarfare, 0),
		relations: relations,
		wars:      make(map[string]*War),
	}
}

func (w *Front) Name() string { return "warfare" }

func (w *Front) EventTypes() []event.Type {
	return []event.Type{event.WarDeclared, event.Battle, event.PeaceSigned}
}

// Reseed replaces the random source for the coming tick.
func (w *Front) Reseed(src entropy.Source) { w.rng = src }

// War looks up a war by id.
func (w *Front) War(id string) (*War, error) {
	war, ok := w.wars[id]
	if !ok {
		return nil, fmt.Errorf("war %s: %w", id, state.ErrNotFound)
	}
	return war, nil
}

// ActiveWars returns copies of every war still being fought, oldest first.
func (w *Front) ActiveWars() []War {
	var out []War
	for _, id := range w.order {
		if war := w.wars[id]; war.Status == StatusActive {
			out = append(out, *war)
		}
	}
	return out
}

// AtWar reports whether a and b are fighting each other.
func (w *Front) AtWar(a, b social.FactionID) bool {
	return w.between(a, b) != nil
}

func (w *Front) between(a, b social.FactionID) *War {
	for _, id := range w.order {
		war := w.wars[id]
		if war.Status == StatusActive && war.Involves(a) && war.Involves(b) {
			return war
		}
	}
	return nil
}

// Update wears down both sides of every active war.
func (w *Front) Update(ctx context.Context, tick uint64) error {
	for _, id := range w.order {
		war := w.wars[id]
		if war.Status != StatusActive {
			continue
		}
		war.AttackerWeariness += 0.5
		war.DefenderWeariness += 0.5
	}
	return ctx.Err()
}

type declarePayload struct {
	Attacker, Defender social.FactionID
}

type warPayload struct {
	War string
}

// CandidateEvents proposes declarations between hostile factions, battles
// in ongoing wars and peace where a side is exhausted.
func (w *Front) CandidateEvents(tick uint64, gate event.Gate) []*event.Event {
	var out []*event.Event
	factions := w.store.Factions()
	for i := 0; i < len(factions); i++ {
		for j := i + 1; j < len(factions); j++ {
			a, b := factions[i], factions[j]
			if w.AtWar(a.ID, b.ID) || !w.relations.Hostile(a.ID, b.ID) ||
				w.relations.Opinion(a.ID, b.ID) > w.cfg.HostilityThreshold {
				continue
			}
			attacker, defender := a, b
			if b.Resources.Military > a.Resources.Military {
				attacker, defender = b, a
			}
			if !gate.CanTrigger(event.WarDeclared, event.FactionRef(attacker.ID)) || w.rng.Float64() >= w.cfg.DeclarationChance {
				continue
			}
			ev := w.newEvent(event.WarDeclared, tick, event.PairRef(a.ID, b.ID), attacker.ID, defender.ID,
				fmt.Sprintf("%s declares war on %s", attacker.Name, defender.Name),
				declarePayload{Attacker: attacker.ID, Defender: defender.ID})
			ev.EntityID = event.FactionRef(attacker.ID)
			ev.Magnitude = 2
			out = append(out, ev)
		}
	}

	for _, id := range w.order {
		war := w.wars[id]
		if war.Status != StatusActive {
			continue
		}
		ref := event.PairRef(war.Attacker, war.Defender)
		if max(war.AttackerWeariness, war.DefenderWeariness) >= w.cfg.PeaceExhaustion {
			if gate.CanTrigger(event.PeaceSigned, ref) {
				ev := w.newEvent(event.PeaceSigned, tick, ref, war.Attacker, war.Defender,
					fmt.Sprintf("Peace ends the war between %s and %s", w.name(war.Attacker), w.name(war.Defender)),
					warPayload{War: war.ID})
				ev.Location = "war:" + war.ID
				ev.Magnitude = 1.5
				out = append(out, ev)
			}
			continue
		}
		if gate.CanTrigger(event.Battle, ref) && w.rng.Float64() < w.cfg.BattleChance {
			ev := w.newEvent(event.Battle, tick, ref, war.Attacker, war.Defender,
				fmt.Sprintf("Armies of %s and %s clash", w.name(war.Attacker), w.name(war.Defender)),
				warPayload{War: war.ID})
			ev.Location = "war:" + war.ID
			ev.Magnitude = 1
			out = append(out, ev)
		}
	}
	return out
}

func (w *Front) name(id social.FactionID) string {
	if f, err := w.store.Faction(id); err == nil {
		return f.Name
	}
	return fmt.Sprintf("faction %d", id)
}

func (w *Front) newEvent(t event.Type, tick uint64, ref string, a, b social.FactionID, desc string, payload any) *event.Event {
	return &event.Event{
		ID:          w.store.NextID("event"),
		Type:        t,
		Tick:        tick,
		Source:      w.Name(),
		Location:    ref,
		EntityID:    ref,
		Entities:    []string{event.FactionRef(a), event.FactionRef(b)},
		Description: desc,
		Payload:     payload,
	}
}

// Handle applies a dispatched war event.
func (w *Front) Handle(ev *event.Event) error {
	switch p := ev.Payload.(type) {
	case declarePayload:
		if w.AtWar(p.Attacker, p.Defender) {
			return fmt.Errorf("factions %d and %d are already at war", p.Attacker, p.Defender)
		}
		war := &War{
			ID:        w.store.NextID("war"),
			Attacker:  p.Attacker,
			Defender:  p.Defender,
			StartTick: ev.Tick,
			Status:    StatusActive,
		}
		w.wars[war.ID] = war
		w.order = append(w.order, war.ID)
		w.relations.Adjust(p.Attacker, p.Defender, -20, -20)
		slog.Info("war declared", "war", war.ID, "attacker", p.Attacker, "defender", p.Defender)
		return nil

	case warPayload:
		war, err := w.War(p.War)
		if err != nil {
			return err
		}
		if war.Status != StatusActive {
			return fmt.Errorf("war %s has already ended", war.ID)
		}
		if ev.Type == event.PeaceSigned {
			return w.makePeace(war, ev.Tick)
		}
		return w.fight(war)
	}
	return fmt.Errorf("warfare: unexpected payload %T for %s", ev.Payload, ev.Type)
}

// strength is a faction's battle modifier.
func strength(f *social.Faction) float64 {
	return min(f.Resources.Military/25, 8) + f.Government.Stability/25
}

// fight resolves one battle as an opposed check. The winner scores and
// the loser bleeds troops; a critical success makes the rout worse.
func (w *Front) fight(war *War) error {
	att, err := w.store.Faction(war.Attacker)
	if err != nil {
		return err
	}
	def, err := w.store.Faction(war.Defender)
	if err != nil {
		return err
	}
	ra, rd, margin := resolve.Contest(w.rng, strength(att), strength(def), 10)
	winner, loser, res := att, def, ra
	if margin < 0 || (margin == 0 && def.ID < att.ID) {
		winner, loser, res = def, att, rd
	}
	spread := max(margin, -margin)
	losses := (10 + spread*2) * res.Scale()
	loser.Resources.Add(social.Resources{Military: -losses})
	winner.Resources.Add(social.Resources{Military: -5})

	score := 1 + spread/10
	if winner.ID == war.Attacker {
		war.AttackerScore += score
		war.DefenderWeariness += 5
	} else {
		war.DefenderScore += score
		war.AttackerWeariness += 5
	}
	war.AttackerWeariness += 5
	war.DefenderWeariness += 5
	war.Battles++
	w.relations.Adjust(war.Attacker, war.Defender, -3, -2)
	slog.Debug("battle", "war", war.ID, "winner", winner.Name, "losses", losses)
	return nil
}

// makePeace ends the war. The side with the better record takes a tenth
// of the loser's treasury.
func (w *Front) makePeace(war *War, tick uint64) error {
	war.Status = StatusEnded
	war.EndTick = tick
	switch {
	case war.AttackerScore > war.DefenderScore:
		war.Victor = war.Attacker
	case war.DefenderScore > war.AttackerScore:
		war.Victor = war.Defender
	}
	if war.Victor != 0 {
		loserID := war.Attacker
		if war.Victor == war.Attacker {
			loserID = war.Defender
		}
		victor, err := w.store.Faction(war.Victor)
		if err != nil {
			return err
		}
		loser, err := w.store.Faction(loserID)
		if err != nil {
			return err
		}
		tribute := loser.Resources.Spend(loser.Resources.Gold * 0.1)
		victor.Resources.Add(social.Resources{Gold: tribute, Influence: 10})
		loser.Government.AdjustStability(-5)
	}
	w.relations.Adjust(war.Attacker, war.Defender, 10, 5)
	slog.Info("peace signed", "war", war.ID, "victor", war.Victor, "battles", war.Battles)
	return nil
}

// Snapshot is the serializable state of every war.
type Snapshot struct {
	Wars []War `json:"wars"`
}

// Export copies every war in declaration order.
func (w *Front) Export() Snapshot {
	var snap Snapshot
	for _, id := range w.order {
		snap.Wars = append(snap.Wars, *w.wars[id])
	}
	return snap
}

// Import replaces the wars with a copy of snap.
func (w *Front) Import(snap Snapshot) {
	w.wars = make(map[string]*War, len(snap.Wars))
	w.order = nil
	for _, war := range snap.Wars {
		w.wars[war.ID] = &war
		w.order = append(w.order, war.ID)
	}
}
