// Package politics runs faction courts: who holds which office, who
// schemes against whom, and who inherits the throne.
package politics

import (
	"fmt"
	"slices"

	"github.com/talgya/chronicle/internal/entropy"
	"github.com/talgya/chronicle/internal/resolve"
	"github.com/talgya/chronicle/internal/social"
)

// Position is a courtier's office.
type Position string

const (
	PositionRuler       Position = "ruler"
	PositionAdvisor     Position = "advisor"
	PositionChamberlain Position = "chamberlain"
	PositionMarshal     Position = "marshal"
	PositionTreasurer   Position = "treasurer"
	PositionSpymaster   Position = "spymaster"
	PositionCourtier    Position = "courtier"
)

// Agenda is a courtier's secret aim.
type Agenda string

const (
	AgendaNone                Agenda = ""
	AgendaPowerGrab           Agenda = "power_grab"
	AgendaReform              Agenda = "reform"
	AgendaPersonalAdvancement Agenda = "personal_advancement"
)

// Abilities are the courtier's base scores, 1..30.
type Abilities struct {
	Strength     int `json:"strength"`
	Intelligence int `json:"intelligence"`
	Wisdom       int `json:"wisdom"`
	Charisma     int `json:"charisma"`
}

// Validate rejects out-of-range scores.
func (a Abilities) Validate() error {
	for _, s := range []struct {
		name  string
		score int
	}{
		{"strength", a.Strength},
		{"intelligence", a.Intelligence},
		{"wisdom", a.Wisdom},
		{"charisma", a.Charisma},
	} {
		if err := resolve.ValidateAbility(s.name, s.score); err != nil {
			return err
		}
	}
	return nil
}

// Skills are trained competences.
type Skills struct {
	Intrigue       float64 `json:"intrigue"`
	Administration float64 `json:"administration"`
	Diplomacy      float64 `json:"diplomacy"`
}

// Courtier is a member of a faction's court.
type Courtier struct {
	ID        uint64           `json:"id"`
	FactionID social.FactionID `json:"faction_id"`
	Name      string           `json:"name"`
	Position  Position         `json:"position"`
	Influence float64          `json:"influence"` // >= 0
	Loyalty   float64          `json:"loyalty"`   // 0..100
	Ambition  float64          `json:"ambition"`  // 0..1
	Agenda    Agenda           `json:"agenda,omitempty"`
	Abilities Abilities        `json:"abilities"`
	Skills    Skills           `json:"skills"`

	// Relations maps other courtier ids to trust, 0..100.
	Relations map[uint64]float64 `json:"relations,omitempty"`

	Frequency      float64 `json:"frequency"`
	Coherence      float64 `json:"coherence"`
	Heir           bool    `json:"heir,omitempty"`
	BirthOrder     int     `json:"birth_order,omitempty"`
	LoyalTroops    float64 `json:"loyal_troops"`
	PopularSupport float64 `json:"popular_support"`
	Alive          bool    `json:"alive"`
}

func (c *Courtier) adjustLoyalty(d float64) {
	c.Loyalty = max(0, min(100, c.Loyalty+d))
}

func (c *Courtier) adjustInfluence(d float64) {
	c.Influence = max(0, c.Influence+d)
}

func (c *Courtier) trust(other uint64) float64 {
	if t, ok := c.Relations[other]; ok {
		return t
	}
	return 50
}

func (c *Courtier) adjustTrust(other uint64, d float64) {
	if c.Relations == nil {
		c.Relations = make(map[uint64]float64)
	}
	c.Relations[other] = max(0, min(100, c.trust(other)+d))
}

// positionRule grants Position to the first courtier attribute that
// qualifies.
type positionRule struct {
	Position  Position
	Qualifies func(c *Courtier) bool
}

// positionRules is evaluated top to bottom; the first match wins.
var positionRules = []positionRule{
	{PositionChamberlain, func(c *Courtier) bool { return c.Skills.Administration > 15 }},
	{PositionSpymaster, func(c *Courtier) bool { return c.Skills.Intrigue > 15 }},
	{PositionMarshal, func(c *Courtier) bool { return c.Abilities.Strength > 15 }},
	{PositionAdvisor, func(c *Courtier) bool { return c.Abilities.Intelligence > 15 }},
	{PositionTreasurer, func(c *Courtier) bool { return c.Abilities.Wisdom > 15 }},
}

// AssignPosition returns the office c qualifies for.
func AssignPosition(c *Courtier) Position {
	for _, r := range positionRules {
		if r.Qualifies(c) {
			return r.Position
		}
	}
	return PositionCourtier
}

// AssignAgenda draws whether c schemes at all (probability equal to its
// ambition) and, if so, picks the agenda from its frequency band.
func AssignAgenda(rng entropy.Source, c *Courtier) Agenda {
	if rng.Float64() >= c.Ambition {
		return AgendaNone
	}
	switch {
	case c.Frequency < 5 && c.Ambition > 0.7:
		return AgendaPowerGrab
	case c.Frequency > 10 && c.Ambition >= 0.4 && c.Ambition <= 0.7:
		return AgendaReform
	default:
		return AgendaPersonalAdvancement
	}
}

var givenNames = []string{
	"Aldric", "Brenna", "Cassian", "Dara", "Edric", "Fenna", "Garrick", "Hale",
	"Isolde", "Jorah", "Kestrel", "Lira", "Maren", "Nolan", "Orla", "Perrin",
	"Quill", "Rowan", "Sable", "Tamsin", "Ulric", "Vesna", "Wren", "Yara",
}

var epithets = []string{
	"the Bold", "the Quiet", "of the Marches", "the Elder", "the Younger",
	"the Just", "Greycloak", "the Fair", "Ironhand", "the Wise",
}

func courtierName(rng entropy.Source) string {
	return fmt.Sprintf("%s %s", givenNames[rng.Intn(len(givenNames))], epithets[rng.Intn(len(epithets))])
}

// GenerateCourtier rolls a new courtier for faction f.
func GenerateCourtier(rng entropy.Source, id uint64, f *social.Faction) *Courtier {
	c := &Courtier{
		ID:        id,
		FactionID: f.ID,
		Name:      courtierName(rng),
		Abilities: Abilities{
			Strength:     resolve.Roll(rng, 3, 6),
			Intelligence: resolve.Roll(rng, 3, 6),
			Wisdom:       resolve.Roll(rng, 3, 6),
			Charisma:     resolve.Roll(rng, 3, 6),
		},
		Skills: Skills{
			Intrigue:       float64(resolve.Roll(rng, 3, 6)),
			Administration: float64(resolve.Roll(rng, 3, 6)),
			Diplomacy:      float64(resolve.Roll(rng, 3, 6)),
		},
		Influence:      float64(resolve.Roll(rng, 2, 10)),
		Loyalty:        float64(40 + resolve.Roll(rng, 1, 50)),
		Ambition:       rng.Float64(),
		Frequency:      max(0, f.Consciousness.Frequency+rng.Float64()*6-3),
		Coherence:      rng.Float64(),
		LoyalTroops:    float64(resolve.Roll(rng, 1, 100)),
		PopularSupport: float64(resolve.Roll(rng, 1, 20)),
		Alive:          true,
	}
	c.Position = AssignPosition(c)
	c.Agenda = AssignAgenda(rng, c)
	return c
}

// byInfluence orders courtiers by influence, highest first, ids breaking ties.
func byInfluence(cs []*Courtier) []*Courtier {
	out := slices.Clone(cs)
	slices.SortStableFunc(out, func(a, b *Courtier) int {
		switch {
		case a.Influence > b.Influence:
			return -1
		case a.Influence < b.Influence:
			return 1
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}
