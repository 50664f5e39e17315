// Package diplomacy tracks relations between factions, negotiates treaties
// and resolves diplomatic actions.
package diplomacy

import (
	"math"

	"github.com/talgya/chronicle/internal/social"
)

// Status is the tier a relationship sits in.
type Status string

const (
	StatusHostile  Status = "hostile"
	StatusCold     Status = "cold"
	StatusNeutral  Status = "neutral"
	StatusWarm     Status = "warm"
	StatusFriendly Status = "friendly"
	StatusAllied   Status = "allied"
)

// Resonance is how closely two factions' consciousness frequencies align.
type Resonance string

const (
	Resonant   Resonance = "resonant"
	Compatible Resonance = "compatible"
	Neutral    Resonance = "neutral"
	Dissonant  Resonance = "dissonant"
)

// Relationship holds the state between one unordered pair of factions.
// A is always the lower id.
type Relationship struct {
	A         social.FactionID `json:"a"`
	B         social.FactionID `json:"b"`
	Status    Status           `json:"status"`
	Opinion   float64          `json:"opinion"` // -100..100
	Trust     float64          `json:"trust"`   // 0..100
	Affinity  float64          `json:"affinity"`
	Resonance Resonance        `json:"resonance"`

	Alliance        bool             `json:"alliance"`
	TradeAgreement  bool             `json:"trade_agreement"`
	NonAggression   bool             `json:"non_aggression"`
	Embargo         bool             `json:"embargo"`
	TariffReduction float64          `json:"tariff_reduction"`
	Overlord        social.FactionID `json:"overlord,omitempty"`
	LastIncident    uint64           `json:"last_incident,omitempty"`
}

// Other returns the pair member that is not id.
func (r *Relationship) Other(id social.FactionID) social.FactionID {
	if r.A == id {
		return r.B
	}
	return r.A
}

// Adjust shifts opinion and trust, clamps both and recomputes the tier.
func (r *Relationship) Adjust(opinion, trust float64) {
	r.Opinion = clamp(r.Opinion+opinion, -100, 100)
	r.Trust = clamp(r.Trust+trust, 0, 100)
	r.Status = StatusFor(r.Opinion, r.Trust)
}

// baseline is the opinion a relationship relaxes toward absent events.
func (r *Relationship) baseline() float64 {
	return (r.Affinity - 0.5) * 50
}

const baselineTrust = 40

// StatusFor maps opinion and trust onto a tier. Tiers are checked from
// allied downward, then hostile before cold.
func StatusFor(opinion, trust float64) Status {
	switch {
	case opinion >= 75 && trust >= 75:
		return StatusAllied
	case opinion >= 50 && trust >= 50:
		return StatusFriendly
	case opinion >= 25 && trust >= 25:
		return StatusWarm
	case opinion <= -50 && trust <= 20:
		return StatusHostile
	case opinion <= -25 && trust <= 40:
		return StatusCold
	default:
		return StatusNeutral
	}
}

// ResonanceFor bands the absolute frequency difference.
func ResonanceFor(a, b float64) Resonance {
	d := math.Abs(a - b)
	switch {
	case d < 2:
		return Resonant
	case d < 5:
		return Compatible
	case d < 10:
		return Neutral
	default:
		return Dissonant
	}
}

func (r Resonance) bonus() float64 {
	switch r {
	case Resonant:
		return 0.3
	case Compatible:
		return 0.1
	case Neutral:
		return 0
	default:
		return -0.2
	}
}

// Affinity averages trait, belief and social-structure overlap and adds
// the resonance bonus, clamped to [0, 1].
func Affinity(a, b *social.Faction) float64 {
	structure := 0.0
	if a.Culture.SocialStructure != "" && a.Culture.SocialStructure == b.Culture.SocialStructure {
		structure = 1
	}
	avg := (overlap(a.Culture.Traits, b.Culture.Traits) +
		overlap(a.Culture.Beliefs, b.Culture.Beliefs) +
		structure) / 3
	bonus := ResonanceFor(a.Consciousness.Frequency, b.Consciousness.Frequency).bonus()
	return clamp(avg+bonus, 0, 1)
}

// overlap is the Jaccard index of two string sets. Two empty sets overlap
// fully.
func overlap(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inA := make(map[string]bool, len(a))
	for _, s := range a {
		inA[s] = true
	}
	union := len(inA)
	shared := 0
	seen := make(map[string]bool, len(b))
	for _, s := range b {
		if seen[s] {
			continue
		}
		seen[s] = true
		if inA[s] {
			shared++
		} else {
			union++
		}
	}
	return float64(shared) / float64(union)
}

// newRelationship seeds a pair from culture and consciousness.
func newRelationship(a, b *social.Faction) *Relationship {
	if b.ID < a.ID {
		a, b = b, a
	}
	r := &Relationship{
		A:         a.ID,
		B:         b.ID,
		Affinity:  Affinity(a, b),
		Resonance: ResonanceFor(a.Consciousness.Frequency, b.Consciousness.Frequency),
		Trust:     baselineTrust,
	}
	r.Opinion = r.baseline()
	r.Status = StatusFor(r.Opinion, r.Trust)
	return r
}

type pairKey struct {
	a, b social.FactionID
}

func keyOf(a, b social.FactionID) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{a, b}
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
