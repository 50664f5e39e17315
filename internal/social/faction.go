// Package social holds the world's factions and settlements.
package social

import (
	"slices"
)

// FactionID is a unique identifier for a faction.
type FactionID uint64

// GovernmentType is the form of a faction's rule.
type GovernmentType string

const (
	GovMonarchy    GovernmentType = "monarchy"
	GovRepublic    GovernmentType = "republic"
	GovTechnocracy GovernmentType = "technocracy"
	GovTheocracy   GovernmentType = "theocracy"
)

// SuccessionRule decides how a new ruler is chosen.
type SuccessionRule string

const (
	SuccessionHereditary    SuccessionRule = "hereditary"
	SuccessionElective      SuccessionRule = "elective"
	SuccessionMeritocratic  SuccessionRule = "meritocratic"
	SuccessionConsciousness SuccessionRule = "consciousness"
)

// Government describes how a faction is ruled.
type Government struct {
	Type       GovernmentType `json:"type"`
	Succession SuccessionRule `json:"succession"`
	Stability  float64        `json:"stability"`  // 0–100
	Corruption float64        `json:"corruption"` // 0–100
}

// AdjustStability shifts stability and keeps it in [0, 100].
func (g *Government) AdjustStability(delta float64) {
	g.Stability = clamp(g.Stability+delta, 0, 100)
}

// AdjustCorruption shifts corruption and keeps it in [0, 100].
func (g *Government) AdjustCorruption(delta float64) {
	g.Corruption = clamp(g.Corruption+delta, 0, 100)
}

// Resources is a faction's pool. No field is ever negative.
type Resources struct {
	Gold      float64 `json:"gold"`
	Influence float64 `json:"influence"`
	Military  float64 `json:"military"`
}

// Add adds r2 field by field, flooring each at zero.
func (r *Resources) Add(r2 Resources) {
	r.Gold = max(0, r.Gold+r2.Gold)
	r.Influence = max(0, r.Influence+r2.Influence)
	r.Military = max(0, r.Military+r2.Military)
}

// Spend removes up to amount gold and returns what was actually spent.
func (r *Resources) Spend(amount float64) float64 {
	spent := min(max(amount, 0), r.Gold)
	r.Gold -= spent
	return spent
}

// Consciousness is a faction's collective frequency and values.
type Consciousness struct {
	Frequency float64  `json:"frequency"`
	Coherence float64  `json:"coherence"` // 0–1
	Values    []string `json:"values"`
}

// AddValue appends v unless already held.
func (c *Consciousness) AddValue(v string) bool {
	if slices.Contains(c.Values, v) {
		return false
	}
	c.Values = append(c.Values, v)
	return true
}

// Culture is the material used to seed cross-faction affinity.
type Culture struct {
	Traits          []string `json:"traits"`
	Beliefs         []string `json:"beliefs"`
	SocialStructure string   `json:"social_structure"`
}

// Faction is a governed political entity.
type Faction struct {
	ID            FactionID     `json:"id"`
	Name          string        `json:"name"`
	Government    Government    `json:"government"`
	RulerID       *uint64       `json:"ruler_id,omitempty"`
	Resources     Resources     `json:"resources"`
	Consciousness Consciousness `json:"consciousness"`
	Culture       Culture       `json:"culture"`
	Settlements   []uint64      `json:"settlements"`
	Dissolved     bool          `json:"dissolved,omitempty"`
}

// HasRuler reports whether the faction currently has a ruler.
func (f *Faction) HasRuler() bool {
	return f.RulerID != nil
}

// SetRuler installs id as ruler; zero clears the seat.
func (f *Faction) SetRuler(id uint64) {
	if id == 0 {
		f.RulerID = nil
		return
	}
	f.RulerID = &id
}

// Template is the static description a faction is created from.
type Template struct {
	Name       string
	Government Government
	Resources  Resources
	Frequency  float64
	Coherence  float64
	Values     []string
	Culture    Culture
}

// SeedTemplates returns the starting faction archetypes, cycled when a
// world asks for more factions than there are templates.
func SeedTemplates() []Template {
	return []Template{
		{
			Name:       "The Crown",
			Government: Government{Type: GovMonarchy, Succession: SuccessionHereditary, Stability: 70, Corruption: 20},
			Resources:  Resources{Gold: 1200, Influence: 80, Military: 150},
			Frequency:  6,
			Coherence:  0.6,
			Values:     []string{"order", "honor"},
			Culture:    Culture{Traits: []string{"martial", "proud", "pious"}, Beliefs: []string{"divine_right", "ancestors"}, SocialStructure: "feudal"},
		},
		{
			Name:       "Merchant's Compact",
			Government: Government{Type: GovRepublic, Succession: SuccessionElective, Stability: 60, Corruption: 35},
			Resources:  Resources{Gold: 2000, Influence: 60, Military: 80},
			Frequency:  9,
			Coherence:  0.5,
			Values:     []string{"prosperity", "freedom"},
			Culture:    Culture{Traits: []string{"mercantile", "cosmopolitan", "pragmatic"}, Beliefs: []string{"free_trade", "ancestors"}, SocialStructure: "guild"},
		},
		{
			Name:       "Iron Brotherhood",
			Government: Government{Type: GovMonarchy, Succession: SuccessionMeritocratic, Stability: 65, Corruption: 15},
			Resources:  Resources{Gold: 900, Influence: 50, Military: 220},
			Frequency:  4,
			Coherence:  0.7,
			Values:     []string{"strength", "honor"},
			Culture:    Culture{Traits: []string{"martial", "disciplined", "proud"}, Beliefs: []string{"strength_rules", "divine_right"}, SocialStructure: "feudal"},
		},
		{
			Name:       "Verdant Circle",
			Government: Government{Type: GovTheocracy, Succession: SuccessionConsciousness, Stability: 75, Corruption: 10},
			Resources:  Resources{Gold: 700, Influence: 90, Military: 60},
			Frequency:  14,
			Coherence:  0.8,
			Values:     []string{"harmony", "wisdom"},
			Culture:    Culture{Traits: []string{"contemplative", "pious", "pragmatic"}, Beliefs: []string{"living_land", "harmony"}, SocialStructure: "communal"},
		},
		{
			Name:       "Lantern Academy",
			Government: Government{Type: GovTechnocracy, Succession: SuccessionMeritocratic, Stability: 68, Corruption: 12},
			Resources:  Resources{Gold: 1100, Influence: 70, Military: 90},
			Frequency:  12,
			Coherence:  0.65,
			Values:     []string{"wisdom", "progress"},
			Culture:    Culture{Traits: []string{"curious", "cosmopolitan", "disciplined"}, Beliefs: []string{"free_trade", "harmony"}, SocialStructure: "guild"},
		},
	}
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
