package politics

import (
	"fmt"

	"github.com/talgya/chronicle/internal/resolve"
	"github.com/talgya/chronicle/internal/social"
	"github.com/talgya/chronicle/internal/state"
)

// PlotGoal is what a conspiracy is after.
type PlotGoal string

const (
	GoalSeizePower       PlotGoal = "seize_power"
	GoalTransformSociety PlotGoal = "transform_society"
	GoalAdvisorPromotion PlotGoal = "advisor_promotion"
)

// PlotStatus tracks a plot from formation to its end.
type PlotStatus string

const (
	PlotActive    PlotStatus = "active"
	PlotSucceeded PlotStatus = "succeeded"
	PlotFailed    PlotStatus = "failed"
	PlotExposed   PlotStatus = "exposed"
)

func goalFor(a Agenda) PlotGoal {
	switch a {
	case AgendaPowerGrab:
		return GoalSeizePower
	case AgendaReform:
		return GoalTransformSociety
	default:
		return GoalAdvisorPromotion
	}
}

// Plot is a conspiracy inside a court.
type Plot struct {
	ID           string           `json:"id"`
	FactionID    social.FactionID `json:"faction_id"`
	Goal         PlotGoal         `json:"goal"`
	Leader       uint64           `json:"leader"`
	Conspirators []uint64         `json:"conspirators"`
	Progress     float64          `json:"progress"`
	Status       PlotStatus       `json:"status"`
	Formed       uint64           `json:"formed"`
	Ended        uint64           `json:"ended,omitempty"`
	// Applied is set once the outcome has been carried out on the faction.
	Applied bool `json:"applied,omitempty"`
}

// Court is a faction's ruling household.
type Court struct {
	FactionID   social.FactionID `json:"faction_id"`
	Members     []*Courtier      `json:"members"`
	Plots       []*Plot          `json:"plots"`
	Day         int              `json:"day"`
	Cohesion    float64          `json:"cohesion"` // 0..100
	Vacant      bool             `json:"vacant,omitempty"`
	VacantSince uint64           `json:"vacant_since,omitempty"`
	Successions int              `json:"successions"`
	LastReport  *DayReport       `json:"last_report,omitempty"`
}

// Member returns a courtier by id.
func (c *Court) Member(id uint64) (*Courtier, bool) {
	for _, m := range c.Members {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

// Living returns alive courtiers in id order.
func (c *Court) Living() []*Courtier {
	var out []*Courtier
	for _, m := range c.Members {
		if m.Alive {
			out = append(out, m)
		}
	}
	return out
}

// Ruler returns the sitting ruler, if any.
func (c *Court) Ruler() (*Courtier, bool) {
	for _, m := range c.Members {
		if m.Alive && m.Position == PositionRuler {
			return m, true
		}
	}
	return nil, false
}

// ActivePlots returns plots still in motion.
func (c *Court) ActivePlots() []*Plot {
	var out []*Plot
	for _, p := range c.Plots {
		if p.Status == PlotActive {
			out = append(out, p)
		}
	}
	return out
}

func (c *Court) plotOf(courtierID uint64) *Plot {
	for _, p := range c.ActivePlots() {
		for _, id := range p.Conspirators {
			if id == courtierID {
				return p
			}
		}
	}
	return nil
}

// spymaster is the living courtier best placed to uncover plots.
func (c *Court) spymaster() (*Courtier, bool) {
	var best *Courtier
	for _, m := range c.Living() {
		if m.Position == PositionSpymaster && (best == nil || m.Skills.Intrigue > best.Skills.Intrigue) {
			best = m
		}
	}
	if best == nil {
		best, _ = c.Ruler()
	}
	return best, best != nil
}

// Court day phases, always run in this order.
const (
	PhaseAudiences   = "audiences"
	PhaseCouncil     = "council_debate"
	PhaseIntrigue    = "intrigue"
	PhaseAdvancement = "advancement"
)

// DayReport summarizes one court day.
type DayReport struct {
	Day         int      `json:"day"`
	Tick        uint64   `json:"tick"`
	Phases      []string `json:"phases"`
	Audiences   int      `json:"audiences"`
	CouncilPass bool     `json:"council_pass"`
	PlotsFormed []string `json:"plots_formed,omitempty"`
	Exposed     []string `json:"exposed,omitempty"`
	Resolved    []string `json:"resolved,omitempty"`
}

// SimulateCourtDay runs one day of court for the faction: audiences,
// council debate, intrigue attempts, then relationship and plot
// advancement. Plot outcomes are decided here; their effects on the
// faction are applied when the matching event is dispatched.
func (g *Governance) SimulateCourtDay(id social.FactionID) (DayReport, error) {
	f, err := g.store.Faction(id)
	if err != nil {
		return DayReport{}, err
	}
	court := g.court(id)
	court.Day++
	report := DayReport{Day: court.Day, Tick: g.store.Tick()}

	report.Phases = append(report.Phases, PhaseAudiences)
	report.Audiences = g.holdAudiences(court)

	report.Phases = append(report.Phases, PhaseCouncil)
	report.CouncilPass = g.debate(court)

	report.Phases = append(report.Phases, PhaseIntrigue)
	report.PlotsFormed, report.Exposed = g.scheme(court)

	report.Phases = append(report.Phases, PhaseAdvancement)
	report.Resolved = g.advance(court, f)

	court.LastReport = &report
	return report, nil
}

// holdAudiences lets the ruler receive the three most influential
// courtiers. A vacant throne sours everyone a little.
func (g *Governance) holdAudiences(court *Court) int {
	ruler, ok := court.Ruler()
	if !ok {
		for _, m := range court.Living() {
			m.adjustLoyalty(-1)
		}
		return 0
	}
	heard := 0
	for _, m := range byInfluence(court.Living()) {
		if heard == 3 {
			break
		}
		if m.ID == ruler.ID {
			continue
		}
		heard++
		mod := resolve.AbilityModifier(ruler.Abilities.Charisma) + ruler.Skills.Administration/4
		if resolve.Check(g.rng, mod, 12).Success {
			m.adjustLoyalty(2)
			m.adjustInfluence(1)
			m.adjustTrust(ruler.ID, 2)
		} else {
			m.adjustLoyalty(-2)
		}
	}
	return heard
}

// debate has the officers argue policy. A majority of successful checks
// carries the council and lifts cohesion.
func (g *Governance) debate(court *Court) bool {
	votes, council := 0, 0
	for _, m := range court.Living() {
		if m.Position == PositionCourtier || m.Position == PositionRuler {
			continue
		}
		council++
		mod := resolve.AbilityModifier(m.Abilities.Intelligence) + m.Skills.Administration/5
		if resolve.Check(g.rng, mod, 12).Success {
			votes++
		}
	}
	pass := council == 0 || votes*2 >= council
	if pass {
		court.Cohesion = min(100, court.Cohesion+1)
	} else {
		court.Cohesion = max(0, court.Cohesion-2)
	}
	return pass
}

// scheme forms and joins plots, then lets the spymaster hunt for them.
func (g *Governance) scheme(court *Court) (formed, exposed []string) {
	for _, m := range court.Living() {
		if m.Agenda == AgendaNone || m.Position == PositionRuler || court.plotOf(m.ID) != nil {
			continue
		}
		goal := goalFor(m.Agenda)
		joined := false
		for _, p := range court.ActivePlots() {
			leader, ok := court.Member(p.Leader)
			if ok && p.Goal == goal && m.trust(leader.ID) > 50 {
				p.Conspirators = append(p.Conspirators, m.ID)
				joined = true
				break
			}
		}
		if joined || g.rng.Float64() >= m.Ambition*0.1 {
			continue
		}
		p := &Plot{
			ID:           g.store.NextID("plot"),
			FactionID:    court.FactionID,
			Goal:         goal,
			Leader:       m.ID,
			Conspirators: []uint64{m.ID},
			Status:       PlotActive,
			Formed:       g.store.Tick(),
		}
		court.Plots = append(court.Plots, p)
		formed = append(formed, p.ID)
	}

	spy, ok := court.spymaster()
	if !ok {
		return formed, exposed
	}
	for _, p := range court.ActivePlots() {
		for _, cid := range p.Conspirators {
			c, ok := court.Member(cid)
			if !ok || cid == spy.ID || g.rng.Float64() >= g.cfg.DiscoveryChance {
				continue
			}
			if resolve.Check(g.rng, spy.Skills.Intrigue/2, 10+c.Skills.Intrigue).Success {
				p.Status = PlotExposed
				p.Ended = g.store.Tick()
				exposed = append(exposed, p.ID)
				break
			}
		}
	}
	return formed, exposed
}

// advance drifts courtier trust, binds conspirators closer and moves
// every active plot forward. Plots that reach 100 are resolved.
func (g *Governance) advance(court *Court, f *social.Faction) []string {
	living := court.Living()
	ruler, hasRuler := court.Ruler()
	for _, m := range living {
		if hasRuler && m.ID != ruler.ID {
			m.adjustTrust(ruler.ID, (m.Loyalty-50)/50)
		}
	}

	var resolved []string
	for _, p := range court.ActivePlots() {
		var intrigue, freq float64
		var members []*Courtier
		for _, id := range p.Conspirators {
			if c, ok := court.Member(id); ok && c.Alive {
				members = append(members, c)
				intrigue += c.Skills.Intrigue
				freq += c.Frequency
			}
		}
		if len(members) == 0 {
			p.Status = PlotFailed
			p.Ended = g.store.Tick()
			resolved = append(resolved, p.ID)
			continue
		}
		for _, a := range members {
			for _, b := range members {
				if a.ID != b.ID {
					a.adjustTrust(b.ID, 1)
				}
			}
		}
		n := float64(len(members))
		p.Progress += (intrigue/n)*0.5 + (freq/n)*0.25
		if p.Progress < 100 {
			continue
		}

		leader, ok := court.Member(p.Leader)
		if !ok || !leader.Alive {
			leader = members[0]
		}
		difficulty := g.cfg.PlotDifficulty
		if hasRuler && p.Goal == GoalSeizePower {
			difficulty += ruler.Skills.Intrigue / 2
		}
		if f.Consciousness.Frequency > 10 && p.Goal == GoalTransformSociety {
			difficulty -= 2
		}
		if resolve.Check(g.rng, leader.Skills.Intrigue/2+float64(len(members)), difficulty).Success {
			p.Status = PlotSucceeded
		} else {
			p.Status = PlotFailed
		}
		p.Ended = g.store.Tick()
		resolved = append(resolved, p.ID)
	}
	return resolved
}

// plot looks up a plot by id.
func (c *Court) plot(id string) (*Plot, error) {
	for _, p := range c.Plots {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("plot %s of faction %d: %w", id, c.FactionID, state.ErrNotFound)
}
