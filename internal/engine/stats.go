package engine

import (
	"slices"

	"github.com/talgya/chronicle/internal/diplomacy"
	"github.com/talgya/chronicle/internal/economy"
	"github.com/talgya/chronicle/internal/event"
)

// Stats is the world-wide summary recorded after every tick.
type Stats struct {
	Tick         uint64  `json:"tick"`
	Season       string  `json:"season"`
	Factions     int     `json:"factions"`
	Settlements  int     `json:"settlements"`
	Population   uint64  `json:"population"`
	Gold         float64 `json:"gold"`
	Military     float64 `json:"military"`
	Stability    float64 `json:"avg_stability"`
	ActiveWars   int     `json:"active_wars"`
	Treaties     int     `json:"active_treaties"`
	ActiveRoutes int     `json:"active_routes"`
	Caravans     int     `json:"caravans"`
	Events       int     `json:"events"`
	Failed       int     `json:"failed_events"`
}

// collectStats summarizes the world after tick; dispatched are the events
// the tick produced. Caller holds the write lock.
func (s *Simulation) collectStats(tick uint64, dispatched []*event.Event) Stats {
	st := Stats{Tick: tick, Season: economy.SeasonOf(tick).String()}
	factions := s.world.Factions()
	st.Factions = len(factions)
	for _, f := range factions {
		st.Gold += f.Resources.Gold
		st.Military += f.Resources.Military
		st.Stability += f.Government.Stability
	}
	if st.Factions > 0 {
		st.Stability /= float64(st.Factions)
	}
	for _, t := range s.world.Settlements() {
		st.Settlements++
		st.Population += uint64(t.Population)
	}
	st.ActiveWars = len(s.warfare.ActiveWars())
	st.Treaties = len(s.diplomacy.Treaties(diplomacy.TreatyActive))
	es := s.economy.Status()
	st.ActiveRoutes, st.Caravans = es.ActiveRoutes, es.Caravans
	for _, ev := range dispatched {
		st.Events++
		if ev.Failed {
			st.Failed++
		}
	}
	return st
}

// pushStats appends st, dropping the oldest beyond the configured capacity.
func (s *Simulation) pushStats(st Stats) {
	s.stats = append(s.stats, st)
	if limit := s.cfg.History.StatsCapacity; limit > 0 && len(s.stats) > limit {
		s.stats = slices.Delete(s.stats, 0, len(s.stats)-limit)
	}
}
