package gardener

import (
	"math"

	"github.com/talgya/chronicle/internal/economy"
	"github.com/talgya/chronicle/internal/phi"
)

// Crisis levels, most severe first.
const (
	CrisisCritical = "CRITICAL"
	CrisisWarning  = "WARNING"
	CrisisWatch    = "WATCH"
	CrisisHealthy  = "HEALTHY"
)

// stabilitySlide is the drop in average stability across the observed
// history that counts as a collapse.
const stabilitySlide = 10

// WorldHealth holds derived diagnostic signals computed from a WorldSnapshot.
type WorldHealth struct {
	AvgMarketHealth float64
	MarketFloor     float64 // health of the weakest market
	WeakestMarket   string
	ScarceCommodity economy.Commodity // dearest good in the weakest market, relative to the world
	AvgStability    float64
	StabilityTrend  float64 // newest minus oldest in the history window
	PoorestFaction  string
	PoorestGold     float64
	MeanGold        float64
	ActiveWars      int
	CrisisLevel     string
}

// Triage computes a WorldHealth from the snapshot's data.
func Triage(snap *WorldSnapshot) *WorldHealth {
	h := &WorldHealth{
		MarketFloor:  1,
		AvgStability: snap.Status.Stats.Stability,
		ActiveWars:   snap.Status.Stats.ActiveWars,
	}

	markets := snap.Economy.Markets
	if len(markets) > 0 {
		worldAvg := make(map[economy.Commodity]float64, len(economy.Commodities))
		for _, m := range markets {
			h.AvgMarketHealth += m.Health
			for c, p := range m.Prices {
				worldAvg[c] += p / float64(len(markets))
			}
		}
		h.AvgMarketHealth /= float64(len(markets))

		weakest := markets[0]
		for _, m := range markets[1:] {
			if m.Health < weakest.Health {
				weakest = m
			}
		}
		h.MarketFloor = weakest.Health
		h.WeakestMarket = weakest.Name

		best := 0.0
		for _, c := range economy.Commodities {
			if worldAvg[c] <= 0 {
				continue
			}
			if ratio := weakest.Prices[c] / worldAvg[c]; ratio > best {
				best = ratio
				h.ScarceCommodity = c
			}
		}
	}

	alive := 0
	h.PoorestGold = math.Inf(1)
	for _, f := range snap.Factions {
		if f.Dissolved {
			continue
		}
		alive++
		h.MeanGold += f.Resources.Gold
		if f.Resources.Gold < h.PoorestGold {
			h.PoorestGold = f.Resources.Gold
			h.PoorestFaction = f.Name
		}
	}
	if alive > 0 {
		h.MeanGold /= float64(alive)
	} else {
		h.PoorestGold = 0
	}

	if len(snap.History) >= 2 {
		oldest := snap.History[0]
		newest := snap.History[len(snap.History)-1]
		h.StabilityTrend = newest.Stability - oldest.Stability
		h.AvgStability = newest.Stability
	}

	// Thresholds are Phi-derived.
	switch {
	case len(markets) > 0 && h.MarketFloor < phi.Agnosis:
		h.CrisisLevel = CrisisCritical
	case h.StabilityTrend < -stabilitySlide:
		h.CrisisLevel = CrisisCritical
	case h.Impoverished():
		h.CrisisLevel = CrisisWarning
	case h.AvgStability < 50 || h.ActiveWars > 0:
		h.CrisisLevel = CrisisWatch
	default:
		h.CrisisLevel = CrisisHealthy
	}

	return h
}

// Impoverished reports whether the poorest faction has fallen below the
// Agnosis share of the mean treasury.
func (h *WorldHealth) Impoverished() bool {
	return h.PoorestFaction != "" && h.MeanGold > 0 && h.PoorestGold < h.MeanGold*phi.Agnosis
}
