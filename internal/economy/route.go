package economy

import (
	"math"
	"slices"

	"github.com/talgya/chronicle/internal/social"
	"github.com/talgya/chronicle/internal/state"
)

// RouteStatus is whether caravans may use a route.
type RouteStatus string

const (
	RouteActive RouteStatus = "active"
	RouteClosed RouteStatus = "closed"
)

// Policy is the political climate a route trades under. It is taken from
// diplomacy once per tick.
type Policy struct {
	Embargoed bool    `json:"embargoed,omitempty"`
	Tariff    float64 `json:"tariff"`
}

// Profitability is the itemized estimate for one caravan load.
type Profitability struct {
	Commodity Commodity `json:"commodity"`
	Quantity  float64   `json:"quantity"`
	Revenue   float64   `json:"revenue"`
	Cost      float64   `json:"cost"`
	Transport float64   `json:"transport"`
	Guards    float64   `json:"guards"`
	Insurance float64   `json:"insurance"`
	Tariffs   float64   `json:"tariffs"`
	Profit    float64   `json:"profit"`
}

// RouteStats accumulate over a route's life.
type RouteStats struct {
	Dispatched int            `json:"dispatched"`
	Delivered  int            `json:"delivered"`
	Lost       int            `json:"lost"`
	Revenue    float64        `json:"revenue"`
	Profit     float64        `json:"profit"`
	Last       *Profitability `json:"last,omitempty"`
}

// TradeRoute links two settlements' markets.
type TradeRoute struct {
	ID          string      `json:"id"`
	Origin      uint64      `json:"origin"`
	Destination uint64      `json:"destination"`
	Commodities []Commodity `json:"commodities"`
	Distance    int         `json:"distance"`
	Status      RouteStatus `json:"status"`
	Safety      float64     `json:"safety"`     // 0..1
	Efficiency  float64     `json:"efficiency"` // 0..1
	Caravans    []*Caravan  `json:"caravans,omitempty"`
	Stats       RouteStats  `json:"stats"`
	ClosedAt    uint64      `json:"closed_at,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

// MaxLoad caps the quantity of one caravan load.
const MaxLoad = 50

// Guards is the escort hired for the route's danger.
func (r *TradeRoute) Guards() int {
	return 2 + int((1-r.Safety)*8)
}

// CalculateProfitability estimates the best load from origin to
// destination: revenue less purchase cost, transport, guard wages,
// insurance and tariffs, scaled by the route's safety. The estimate is
// stored in the route's statistics.
func (r *TradeRoute) CalculateProfitability(origin, dest *Market, p Policy) Profitability {
	var best Profitability
	found := false
	for _, c := range r.Commodities {
		from, ok1 := origin.Commodities[c]
		to, ok2 := dest.Commodities[c]
		if !ok1 || !ok2 {
			continue
		}
		qty := math.Min(from.Supply*0.25, MaxLoad)
		if qty <= 0 {
			continue
		}
		est := Profitability{
			Commodity: c,
			Quantity:  qty,
			Revenue:   to.CurrentPrice * qty,
			Cost:      from.CurrentPrice * qty,
			Transport: float64(r.Distance) * 0.1 * qty,
			Guards:    float64(r.Guards()) * 2,
		}
		est.Insurance = est.Cost * (1 - r.Safety) * 0.1
		est.Tariffs = est.Revenue * p.Tariff
		est.Profit = (est.Revenue - est.Cost - est.Transport - est.Guards - est.Insurance - est.Tariffs) * r.Safety
		if !found || est.Profit > best.Profit {
			best, found = est, true
		}
	}
	r.Stats.Last = &best
	return best
}

// Close shuts the route to new caravans.
func (r *TradeRoute) Close(tick uint64, reason string) {
	r.Status = RouteClosed
	r.ClosedAt = tick
	r.Reason = reason
}

// InFlight counts caravans still on the road.
func (r *TradeRoute) InFlight() int {
	n := 0
	for _, c := range r.Caravans {
		if c.Status == CaravanTraveling {
			n++
		}
	}
	return n
}

func (r *TradeRoute) caravan(id string) (*Caravan, bool) {
	for _, c := range r.Caravans {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

func (r *TradeRoute) clone() TradeRoute {
	cp := *r
	cp.Commodities = slices.Clone(r.Commodities)
	cp.Caravans = make([]*Caravan, len(r.Caravans))
	for i, c := range r.Caravans {
		cc := *c
		cp.Caravans[i] = &cc
	}
	if r.Stats.Last != nil {
		last := *r.Stats.Last
		cp.Stats.Last = &last
	}
	return cp
}

// BuildRoutes links every settlement with up to perSettlement of its
// nearest neighbours within maxDistance hexes. Settlements are visited in
// id order and ties broken by id, so the network is reproducible.
func BuildRoutes(store state.Store, maxDistance, perSettlement int) []*TradeRoute {
	settlements := store.Settlements()
	linked := make(map[[2]uint64]bool)
	var routes []*TradeRoute
	for _, s := range settlements {
		type near struct {
			s    *social.Settlement
			dist int
		}
		var cands []near
		for _, o := range settlements {
			if o.ID == s.ID {
				continue
			}
			d, err := store.Distance(s.ID, o.ID)
			if err != nil || d > maxDistance {
				continue
			}
			cands = append(cands, near{o, d})
		}
		slices.SortStableFunc(cands, func(a, b near) int {
			if a.dist != b.dist {
				return a.dist - b.dist
			}
			return int(a.s.ID) - int(b.s.ID)
		})
		for _, n := range cands[:min(perSettlement, len(cands))] {
			k := [2]uint64{min(s.ID, n.s.ID), max(s.ID, n.s.ID)}
			if linked[k] {
				continue
			}
			linked[k] = true
			risk := 0.5
			if m := store.Map(); m != nil {
				risk = m.PathRisk(s.Position, n.s.Position)
			}
			routes = append(routes, &TradeRoute{
				ID:          store.NextID("route"),
				Origin:      s.ID,
				Destination: n.s.ID,
				Commodities: slices.Clone(Commodities),
				Distance:    max(n.dist, 1),
				Status:      RouteActive,
				Safety:      clamp01(1 - risk*0.8),
				Efficiency:  clamp01(1 - risk/2),
			})
		}
	}
	return routes
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
