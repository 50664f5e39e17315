package diplomacy

import (
	"errors"
	"fmt"
	"slices"

	"github.com/talgya/chronicle/internal/resolve"
	"github.com/talgya/chronicle/internal/social"
)

var (
	// ErrRequirementsNotMet is returned when an action's gate is closed.
	ErrRequirementsNotMet = errors.New("requirements not met")
	// ErrUnknownAction is returned for names missing from the catalog.
	ErrUnknownAction = errors.New("unknown diplomatic action")
)

// ActionName identifies a diplomatic action.
type ActionName string

const (
	ImproveRelations  ActionName = "improve_relations"
	SendGift          ActionName = "send_gift"
	TradeProposal     ActionName = "trade_proposal"
	AllianceProposal  ActionName = "alliance_proposal"
	NonAggressionPact ActionName = "non_aggression_pact"
	CulturalExchange  ActionName = "cultural_exchange"
	DeclareEmbargo    ActionName = "embargo"
	LiftEmbargo       ActionName = "lift_embargo"
	Denounce          ActionName = "denounce"
)

// Target names the relationship field an effect lands on.
type Target uint8

const (
	TargetOpinion Target = iota
	TargetTrust
	TargetAffinity
)

// Delta is one effect of an action on the relationship.
type Delta struct {
	Target Target
	Effect resolve.Effect
}

// Action is a catalog entry.
type Action struct {
	Name       ActionName
	Difficulty float64
	Cost       social.Resources
	Success    []Delta
	Failure    []Delta
	// Apply sets relationship flags on success.
	Apply func(rel *Relationship)

	requires func(actor, target *social.Faction, rel *Relationship) bool
}

func opinion(e resolve.Effect) Delta  { return Delta{Target: TargetOpinion, Effect: e} }
func trust(e resolve.Effect) Delta    { return Delta{Target: TargetTrust, Effect: e} }
func affinity(e resolve.Effect) Delta { return Delta{Target: TargetAffinity, Effect: e} }

// catalog is evaluated in order, so AvailableActions lists are stable.
var catalog = []Action{
	{
		Name:       ImproveRelations,
		Difficulty: 15,
		Cost:       social.Resources{Influence: 5},
		Success:    []Delta{opinion(resolve.Dice(1, 6)), opinion(resolve.Flat(2)), trust(resolve.Flat(3))},
		Failure:    []Delta{opinion(resolve.Flat(-2))},
		requires:   func(_, _ *social.Faction, rel *Relationship) bool { return rel.Status != StatusHostile },
	},
	{
		Name:       SendGift,
		Difficulty: 12,
		Cost:       social.Resources{Gold: 100},
		Success:    []Delta{opinion(resolve.Dice(2, 6)), trust(resolve.Flat(2))},
		Failure:    []Delta{opinion(resolve.Flat(1))},
		requires:   func(actor, _ *social.Faction, _ *Relationship) bool { return actor.Resources.Gold >= 100 },
	},
	{
		Name:       TradeProposal,
		Difficulty: 16,
		Success:    []Delta{opinion(resolve.Flat(5)), trust(resolve.Dice(1, 6))},
		Failure:    []Delta{trust(resolve.Flat(-2))},
		requires:   func(_, _ *social.Faction, rel *Relationship) bool { return rel.Opinion > 25 && !rel.Embargo },
	},
	{
		Name:       AllianceProposal,
		Difficulty: 20,
		Success:    []Delta{opinion(resolve.Flat(10)), trust(resolve.Flat(10))},
		Failure:    []Delta{opinion(resolve.Flat(-5))},
		Apply:      func(rel *Relationship) { rel.Alliance = true },
		requires: func(actor, _ *social.Faction, rel *Relationship) bool {
			return rel.Opinion > 50 && rel.Trust > 40 && !rel.Alliance && actor.Resources.Military >= 100
		},
	},
	{
		Name:       NonAggressionPact,
		Difficulty: 15,
		Success:    []Delta{trust(resolve.Flat(5))},
		Failure:    []Delta{trust(resolve.Flat(-3))},
		Apply:      func(rel *Relationship) { rel.NonAggression = true },
		requires: func(_, _ *social.Faction, rel *Relationship) bool {
			return !rel.NonAggression && rel.Opinion > -50
		},
	},
	{
		Name:       CulturalExchange,
		Difficulty: 14,
		Cost:       social.Resources{Influence: 10},
		Success:    []Delta{opinion(resolve.Dice(1, 8)), trust(resolve.Dice(2, 4)), affinity(resolve.Scale(10))},
		requires: func(actor, _ *social.Faction, rel *Relationship) bool {
			return actor.Consciousness.Frequency > 12 && (rel.Resonance == Compatible || rel.Resonance == Resonant)
		},
	},
	{
		Name:       DeclareEmbargo,
		Difficulty: 14,
		Cost:       social.Resources{Influence: 10},
		Success:    []Delta{opinion(resolve.Flat(-10)), trust(resolve.Flat(-5))},
		Failure:    []Delta{opinion(resolve.Flat(-3))},
		Apply:      func(rel *Relationship) { rel.Embargo = true },
		requires:   func(_, _ *social.Faction, rel *Relationship) bool { return rel.Opinion < -25 && !rel.Embargo },
	},
	{
		Name:       LiftEmbargo,
		Difficulty: 15,
		Success:    []Delta{opinion(resolve.Flat(5))},
		Apply:      func(rel *Relationship) { rel.Embargo = false },
		requires:   func(_, _ *social.Faction, rel *Relationship) bool { return rel.Embargo && rel.Opinion > -10 },
	},
	{
		Name:       Denounce,
		Difficulty: 12,
		Cost:       social.Resources{Influence: 5},
		Success:    []Delta{opinion(resolve.Dice(2, 6).Neg()), trust(resolve.Flat(-5))},
		Failure:    []Delta{opinion(resolve.Flat(-1))},
		requires:   func(_, _ *social.Faction, rel *Relationship) bool { return rel.Opinion < 0 },
	},
}

// Lookup returns the catalog entry for name.
func Lookup(name ActionName) (Action, bool) {
	i := slices.IndexFunc(catalog, func(a Action) bool { return a.Name == name })
	if i < 0 {
		return Action{}, false
	}
	return catalog[i], true
}

// AvailableActions lists the actions actor may take toward target given
// their relationship.
func AvailableActions(actor, target *social.Faction, rel *Relationship) []ActionName {
	var out []ActionName
	for _, a := range catalog {
		if !canAfford(actor, a.Cost) {
			continue
		}
		if a.requires == nil || a.requires(actor, target, rel) {
			out = append(out, a.Name)
		}
	}
	return out
}

func canAfford(f *social.Faction, cost social.Resources) bool {
	return f.Resources.Gold >= cost.Gold && f.Resources.Influence >= cost.Influence
}

// Outcome reports a resolved action.
type Outcome struct {
	Action       ActionName       `json:"action"`
	Actor        social.FactionID `json:"actor"`
	Target       social.FactionID `json:"target"`
	Check        resolve.Result   `json:"check"`
	OpinionDelta float64          `json:"opinion_delta"`
	TrustDelta   float64          `json:"trust_delta"`
	Status       Status           `json:"status"`
}

// ExecuteAction verifies requirements, pays the cost, rolls the check and
// applies effects. Success effects are scaled by the critical outcome;
// failure effects apply as written.
func (l *Ledger) ExecuteAction(name ActionName, actor, target social.FactionID) (Outcome, error) {
	action, ok := Lookup(name)
	if !ok {
		return Outcome{}, fmt.Errorf("%q: %w", name, ErrUnknownAction)
	}
	rel, err := l.Relationship(actor, target)
	if err != nil {
		return Outcome{}, err
	}
	fa, err := l.store.Faction(actor)
	if err != nil {
		return Outcome{}, err
	}
	ft, err := l.store.Faction(target)
	if err != nil {
		return Outcome{}, err
	}
	if !slices.Contains(AvailableActions(fa, ft, rel), name) {
		return Outcome{}, fmt.Errorf("%s by %d toward %d: %w", name, actor, target, ErrRequirementsNotMet)
	}

	fa.Resources.Spend(action.Cost.Gold)
	fa.Resources.Add(social.Resources{Influence: -action.Cost.Influence})

	_, mod := l.diplomatFor(fa)
	res := resolve.Check(l.rng, mod, action.Difficulty)

	deltas, scale := action.Failure, 1.0
	if res.Success {
		deltas, scale = action.Success, res.Scale()
	}
	var dOpinion, dTrust float64
	for _, d := range deltas {
		switch d.Target {
		case TargetOpinion:
			dOpinion += d.Effect.Resolve(l.rng, rel.Opinion) * scale
		case TargetTrust:
			dTrust += d.Effect.Resolve(l.rng, rel.Trust) * scale
		case TargetAffinity:
			rel.Affinity = clamp(rel.Affinity+d.Effect.Resolve(l.rng, rel.Affinity)*scale, 0, 1)
		}
	}
	rel.Adjust(dOpinion, dTrust)
	if res.Success && action.Apply != nil {
		action.Apply(rel)
	}

	return Outcome{
		Action:       name,
		Actor:        actor,
		Target:       target,
		Check:        res,
		OpinionDelta: dOpinion,
		TrustDelta:   dTrust,
		Status:       rel.Status,
	}, nil
}
