package economy

import (
	"github.com/talgya/chronicle/internal/entropy"
	"github.com/talgya/chronicle/internal/resolve"
)

// CaravanStatus tracks a caravan until its outcome is dispatched.
type CaravanStatus string

const (
	CaravanTraveling CaravanStatus = "traveling"
	CaravanArrived   CaravanStatus = "arrived"
	CaravanLost      CaravanStatus = "lost"
)

// Caravan is a shipment in transit on a route.
type Caravan struct {
	ID        string        `json:"id"`
	RouteID   string        `json:"route_id"`
	Commodity Commodity     `json:"commodity"`
	Quantity  float64       `json:"quantity"`
	Value     float64       `json:"value"` // purchase cost at origin
	Premium   float64       `json:"premium"`
	Tariff    float64       `json:"tariff"` // rate at departure
	Guards    int           `json:"guards"`
	Progress  float64       `json:"progress"` // 0..1
	Departed  uint64        `json:"departed"`
	Status    CaravanStatus `json:"status"`
	Incidents []string      `json:"incidents,omitempty"`
}

// Speed is the fraction of a route covered per tick.
func Speed(distance int) float64 {
	return 0.1 / float64(max(distance, 1))
}

// Difficulties of the road hazards.
const (
	banditBase            = 10
	weatherDifficulty     = 12
	opportunityDifficulty = 14
)

// Advance moves the caravan one tick along r. With probability chance a
// road event happens: bandits (only on routes below 0.6 safety), weather or
// a market opportunity, each settled with a check. The caravan reports
// arrival or loss through its status.
func (c *Caravan) Advance(rng entropy.Source, r *TradeRoute, chance float64) {
	if c.Status != CaravanTraveling {
		return
	}
	speed := Speed(r.Distance)
	if rng.Float64() < chance {
		switch rng.Intn(3) {
		case 0:
			if r.Safety < 0.6 {
				res := resolve.Check(rng, float64(c.Guards)/2, banditBase+(1-r.Safety)*10)
				if !res.Success {
					c.Status = CaravanLost
					c.Incidents = append(c.Incidents, "bandits")
					return
				}
				c.Incidents = append(c.Incidents, "bandits repelled")
			}
		case 1:
			if !resolve.Check(rng, r.Efficiency*5, weatherDifficulty).Success {
				c.Progress = max(0, c.Progress-speed*5)
				c.Incidents = append(c.Incidents, "storm")
			}
		case 2:
			if resolve.Check(rng, r.Efficiency*5, opportunityDifficulty).Success {
				c.Premium *= 1.1
				c.Incidents = append(c.Incidents, "opportunity")
			}
		}
	}
	c.Progress = min(1, c.Progress+speed)
	if c.Progress >= 1 {
		c.Status = CaravanArrived
	}
}
