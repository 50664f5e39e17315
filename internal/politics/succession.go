package politics

import (
	"slices"

	"github.com/talgya/chronicle/internal/resolve"
	"github.com/talgya/chronicle/internal/social"
)

// SuccessionResult describes how a throne changed hands.
type SuccessionResult struct {
	FactionID social.FactionID      `json:"faction_id"`
	Method    social.SuccessionRule `json:"method"`
	Deceased  uint64                `json:"deceased,omitempty"`
	Successor uint64                `json:"successor,omitempty"`
	Crisis    bool                  `json:"crisis,omitempty"`
	Contested bool                  `json:"contested,omitempty"`
	Scores    map[uint64]float64    `json:"scores,omitempty"`
	Rounds    int                   `json:"rounds,omitempty"`
}

// DetermineSuccession picks and installs the next ruler of a faction after
// deceased leaves the throne. When no candidate exists the throne is left
// vacant and the result reports a crisis.
func (g *Governance) DetermineSuccession(id social.FactionID, deceased uint64) (SuccessionResult, error) {
	f, err := g.store.Faction(id)
	if err != nil {
		return SuccessionResult{}, err
	}
	court := g.court(id)
	if d, ok := court.Member(deceased); ok {
		d.Alive = false
		d.Heir = false
	}

	res := SuccessionResult{FactionID: id, Method: f.Government.Succession, Deceased: deceased}
	switch f.Government.Succession {
	case social.SuccessionHereditary:
		g.hereditary(court, &res)
	case social.SuccessionElective:
		g.elective(court, &res)
	case social.SuccessionConsciousness:
		pickHighest(court.Living(), &res, func(c *Courtier) float64 {
			return c.Frequency*10 + c.Coherence*20 + float64(c.Abilities.Wisdom)*2
		})
	default:
		res.Method = social.SuccessionMeritocratic
		pickHighest(court.Living(), &res, meritScore(f))
	}

	g.install(court, f, &res)
	return res, nil
}

func meritScore(f *social.Faction) func(c *Courtier) float64 {
	return func(c *Courtier) float64 {
		return c.Skills.Administration*0.4 + c.Skills.Diplomacy*0.3 + c.Skills.Intrigue*0.3 +
			(c.Frequency-f.Consciousness.Frequency)*2
	}
}

// hereditary passes the throne to the direct heirs: nobody means crisis,
// one heir inherits outright and several compete on claim strength.
func (g *Governance) hereditary(court *Court, res *SuccessionResult) {
	var heirs []*Courtier
	for _, c := range court.Living() {
		if c.Heir {
			heirs = append(heirs, c)
		}
	}
	slices.SortStableFunc(heirs, func(a, b *Courtier) int { return a.BirthOrder - b.BirthOrder })

	switch len(heirs) {
	case 0:
		res.Crisis = true
		return
	case 1:
		res.Successor = heirs[0].ID
		return
	}

	res.Contested = true
	res.Scores = make(map[uint64]float64, len(heirs))
	n := len(heirs)
	best := -1.0
	for rank, h := range heirs {
		score := ClaimStrength(h, rank+1, n)
		res.Scores[h.ID] = score
		if score > best {
			best = score
			res.Successor = h.ID
		}
	}
}

// ClaimStrength scores an heir of the given birth rank among n heirs.
func ClaimStrength(h *Courtier, rank, n int) float64 {
	score := float64(n+1-rank)*10 +
		float64(h.Abilities.Charisma) +
		float64(h.Abilities.Intelligence)/2 +
		h.LoyalTroops*0.1 +
		h.PopularSupport
	if h.Frequency > 10 {
		score += 20
	}
	return score
}

// elective runs a campaign among the three most influential courtiers and
// then an influence-weighted vote of the rest of the court.
func (g *Governance) elective(court *Court, res *SuccessionResult) {
	living := byInfluence(court.Living())
	cands := living[:min(3, len(living))]
	switch len(cands) {
	case 0:
		res.Crisis = true
		return
	case 1:
		res.Successor = cands[0].ID
		return
	}
	res.Contested = true

	support := make(map[uint64]float64, len(cands))
	for _, c := range cands {
		support[c.ID] = c.Influence
	}
	rounds := max(g.cfg.ElectionRounds, 1)
	for round := 0; round < rounds; round++ {
		for _, c := range cands {
			switch round % 3 {
			case 0: // speeches
				r := resolve.Check(g.rng, resolve.AbilityModifier(c.Abilities.Charisma)+c.Skills.Diplomacy/2, 12)
				if r.Success {
					support[c.ID] += 1 + r.Margin()/5
				}
			case 1: // patronage
				if resolve.Check(g.rng, c.Skills.Intrigue/2, 14).Success {
					support[c.ID] += 3
				} else {
					support[c.ID] = max(0, support[c.ID]-2)
				}
			case 2: // alliances
				if resolve.Check(g.rng, resolve.AbilityModifier(c.Abilities.Wisdom)+c.Skills.Administration/4, 13).Success {
					support[c.ID] += 2
				}
			}
		}
	}
	res.Rounds = rounds

	isCand := func(id uint64) bool {
		return slices.ContainsFunc(cands, func(c *Courtier) bool { return c.ID == id })
	}
	votes := make(map[uint64]float64, len(cands))
	electors := 0
	for _, e := range court.Living() {
		if isCand(e.ID) {
			continue
		}
		electors++
		var choice *Courtier
		bestPref := 0.0
		for _, c := range cands {
			pref := support[c.ID] + e.trust(c.ID)/10
			if choice == nil || pref > bestPref {
				choice, bestPref = c, pref
			}
		}
		votes[choice.ID] += e.Influence + 1
	}
	if electors == 0 {
		votes = support
	}

	res.Scores = votes
	var winner *Courtier
	for _, c := range cands {
		if winner == nil || votes[c.ID] > votes[winner.ID] ||
			(votes[c.ID] == votes[winner.ID] && support[c.ID] > support[winner.ID]) {
			winner = c
		}
	}
	res.Successor = winner.ID
}

// pickHighest chooses the best-scoring courtier, lowest id on ties.
func pickHighest(cands []*Courtier, res *SuccessionResult, score func(*Courtier) float64) {
	if len(cands) == 0 {
		res.Crisis = true
		return
	}
	res.Scores = make(map[uint64]float64, len(cands))
	var best *Courtier
	for _, c := range cands {
		s := score(c)
		res.Scores[c.ID] = s
		if best == nil || s > res.Scores[best.ID] {
			best = c
		}
	}
	res.Successor = best.ID
	res.Contested = len(cands) > 1
}

// install seats the successor or declares the throne vacant.
func (g *Governance) install(court *Court, f *social.Faction, res *SuccessionResult) {
	if res.Crisis {
		f.SetRuler(0)
		court.Vacant = true
		court.VacantSince = g.store.Tick()
		f.Government.AdjustStability(-20)
		return
	}
	for _, m := range court.Members {
		if m.Position == PositionRuler && m.ID != res.Successor {
			m.Position = AssignPosition(m)
		}
	}
	heir, _ := court.Member(res.Successor)
	heir.Position = PositionRuler
	heir.Heir = false
	heir.BirthOrder = 0
	f.SetRuler(heir.ID)
	court.Vacant = false
	court.VacantSince = 0
	court.Successions++

	switch {
	case res.Method == social.SuccessionElective:
		f.Government.AdjustStability(3)
	case res.Contested:
		f.Government.AdjustStability(-5)
	}
	if f.Government.Succession == social.SuccessionHereditary {
		g.spawnHeirs(court, f, 1+g.rng.Intn(2))
	}
}

// spawnHeirs adds n new heirs after the existing line.
func (g *Governance) spawnHeirs(court *Court, f *social.Faction, n int) {
	order := 0
	for _, m := range court.Living() {
		if m.Heir {
			order = max(order, m.BirthOrder)
		}
	}
	for i := 0; i < n; i++ {
		c := GenerateCourtier(g.rng, g.store.NextSerial(), f)
		c.Heir = true
		order++
		c.BirthOrder = order
		court.Members = append(court.Members, c)
	}
}
