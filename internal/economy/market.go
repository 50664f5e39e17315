package economy

import (
	"fmt"
	"math"
	"slices"

	"github.com/talgya/chronicle/internal/entropy"
	"github.com/talgya/chronicle/internal/event"
	"github.com/talgya/chronicle/internal/phi"
	"github.com/talgya/chronicle/internal/social"
)

// MaxTransactions bounds each market's transaction log.
const MaxTransactions = 200

// Durations of market events in ticks.
const (
	CrashDuration    = 30
	BoomDuration     = 20
	ShortageDuration = 15
)

// Confidence drift. Each price update pulls confidence a fraction of the
// way toward a target set by market health and recent trade.
const (
	confidencePull  = 0.1
	confidenceNoise = 0.06
	tradeWindow     = 30
)

// MarketEvent is a shock currently affecting a market. Supply and
// Confidence hold what the shock added so it can be taken back on expiry.
type MarketEvent struct {
	Type       event.Type `json:"type"`
	Commodity  Commodity  `json:"commodity,omitempty"`
	Start      uint64     `json:"start"`
	Until      uint64     `json:"until"`
	Supply     float64    `json:"supply,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
}

// Transaction is one entry of a market's trade log.
type Transaction struct {
	Tick      uint64    `json:"tick"`
	Commodity Commodity `json:"commodity"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Kind      string    `json:"kind"` // local, import, export
}

// Market is the exchange of one settlement.
type Market struct {
	SettlementID uint64                        `json:"settlement_id"`
	Commodities  map[Commodity]*CommodityState `json:"commodities"`
	Confidence   float64                       `json:"confidence"` // 0..1
	Season       Season                        `json:"season"`
	Events       []MarketEvent                 `json:"events,omitempty"`
	Transactions []Transaction                 `json:"transactions,omitempty"`
}

// NewMarket opens a market for s, stocked from its production.
func NewMarket(s *social.Settlement) *Market {
	out, cons := s.Output(), s.Consumption()
	m := &Market{
		SettlementID: s.ID,
		Commodities:  make(map[Commodity]*CommodityState, len(Commodities)),
		Confidence:   0.6,
	}
	for _, c := range Commodities {
		t := traits[c]
		m.Commodities[c] = &CommodityState{
			BasePrice:    t.BasePrice,
			CurrentPrice: t.BasePrice,
			Supply:       max(out[string(c)]*20, 5),
			Demand:       max(cons[string(c)]*20, 5),
			BaseDemand:   max(cons[string(c)]*20, 5),
			Volatility:   t.Volatility,
			Elasticity:   t.Elasticity,
		}
	}
	return m
}

// Commodity returns the state of one good.
func (m *Market) Commodity(c Commodity) (*CommodityState, error) {
	cs, ok := m.Commodities[c]
	if !ok {
		return nil, fmt.Errorf("market %d: %q: %w", m.SettlementID, c, ErrUnknownCommodity)
	}
	return cs, nil
}

// Price returns the current price of a good.
func (m *Market) Price(c Commodity) (float64, error) {
	cs, err := m.Commodity(c)
	if err != nil {
		return 0, err
	}
	return cs.CurrentPrice, nil
}

// priceBand maps a supply/demand ratio to a target price multiplier.
type priceBand struct {
	below      float64
	multiplier float64
}

var priceBands = []priceBand{
	{0.3, 2.0},
	{0.5, 1.6},
	{0.8, 1.25},
	{1.25, 1.0},
	{2.0, 0.8},
	{3.0, 0.55},
}

// PriceMultiplier returns the band multiplier for a supply/demand ratio.
func PriceMultiplier(ratio float64) float64 {
	for _, b := range priceBands {
		if ratio < b.below {
			return b.multiplier
		}
	}
	return 0.3
}

// TargetPrice is the price a commodity is being pulled toward.
func (m *Market) TargetPrice(c Commodity) float64 {
	cs := m.Commodities[c]
	ratio := cs.Supply / max(cs.Demand, 0.01)
	confidence := 0.7 + m.Confidence*0.6
	return cs.BasePrice * PriceMultiplier(ratio) * confidence * cs.modifier() * SeasonalModifier(m.Season, c)
}

// UpdatePrices moves every price part of the way toward its target, adds
// a little noise and lets demand fall off when goods are dear. Confidence
// then drifts toward what the market's health warrants as of tick.
func (m *Market) UpdatePrices(tick uint64, rng entropy.Source) {
	for _, c := range Commodities {
		cs := m.Commodities[c]
		target := m.TargetPrice(c)
		rate := 0.1 + cs.Volatility*0.2
		price := cs.CurrentPrice + (target-cs.CurrentPrice)*rate
		price *= 1 + (rng.Float64()*2-1)*cs.Volatility*0.05
		cs.CurrentPrice = max(price, 1)

		if cs.CurrentPrice > cs.BasePrice {
			over := cs.CurrentPrice/cs.BasePrice - 1
			cs.Demand = max(cs.Demand*(1-cs.Elasticity*over*0.05), cs.BaseDemand*0.1)
		}
	}
	m.driftConfidence(tick, rng)
}

// ConfidenceTarget is where confidence settles for the market as it
// stands at tick. Balanced markets with busy roads run hot; lopsided or
// starved ones run cold.
func (m *Market) ConfidenceTarget(tick uint64) float64 {
	target := 0.55 + 1.5*(m.Health()-0.75)
	for _, ev := range m.Events {
		switch ev.Type {
		case event.MarketShortage:
			target -= 0.2
		case event.MarketSurplus:
			target += 0.05
		}
	}
	target += min(0.1, 0.02*float64(m.tradeVolume(tick)))
	return min(max(target, 0.05), 0.95)
}

func (m *Market) driftConfidence(tick uint64, rng entropy.Source) {
	c := m.Confidence + (m.ConfidenceTarget(tick)-m.Confidence)*confidencePull
	c += (rng.Float64()*2 - 1) * confidenceNoise
	m.Confidence = min(max(c, 0), 1)
}

// tradeVolume counts caravan imports and exports in the trailing window.
func (m *Market) tradeVolume(tick uint64) int {
	n := 0
	for i := len(m.Transactions) - 1; i >= 0; i-- {
		tx := m.Transactions[i]
		if tx.Tick+tradeWindow < tick {
			break
		}
		if tx.Kind != "local" {
			n++
		}
	}
	return n
}

// Produce adds a tick of local production, consumes what the town eats and
// uses, spoils a little of the stockpile and lets demand recover.
func (m *Market) Produce(tick uint64, output, consumption map[string]float64) {
	for _, c := range Commodities {
		cs := m.Commodities[c]
		cs.Supply += output[string(c)]
		used := math.Min(cs.Supply, consumption[string(c)])
		cs.Supply = (cs.Supply - used) * 0.98
		cs.Demand += (cs.BaseDemand - cs.Demand) * 0.05
		if used > 0 {
			m.record(Transaction{Tick: tick, Commodity: c, Quantity: used, Price: cs.CurrentPrice, Kind: "local"})
		}
	}
}

// Sell delivers goods into the market and returns what they fetched.
func (m *Market) Sell(tick uint64, c Commodity, qty float64) (float64, error) {
	cs, err := m.Commodity(c)
	if err != nil {
		return 0, err
	}
	cs.Supply += qty
	m.record(Transaction{Tick: tick, Commodity: c, Quantity: qty, Price: cs.CurrentPrice, Kind: "import"})
	return cs.CurrentPrice * qty, nil
}

// Take removes up to qty of a good for export and returns how much left.
func (m *Market) Take(tick uint64, c Commodity, qty float64) (float64, error) {
	cs, err := m.Commodity(c)
	if err != nil {
		return 0, err
	}
	qty = math.Min(qty, cs.Supply)
	cs.Supply -= qty
	m.record(Transaction{Tick: tick, Commodity: c, Quantity: qty, Price: cs.CurrentPrice, Kind: "export"})
	return qty, nil
}

func (m *Market) record(tx Transaction) {
	m.Transactions = append(m.Transactions, tx)
	if n := len(m.Transactions) - MaxTransactions; n > 0 {
		m.Transactions = slices.Delete(m.Transactions, 0, n)
	}
}

// EventChances are the per-tick probabilities of market shocks.
type EventChances struct {
	Crash, Boom, Shortage, Surplus float64
}

// CheckForEvents draws once and partitions [0,1) into consecutive,
// non-overlapping bands: crash, boom, shortage, surplus. Crash needs
// confidence below 0.4 and boom needs it above 0.7; a draw landing in a
// band whose condition fails yields nothing. At most one shock per tick.
func (m *Market) CheckForEvents(rng entropy.Source, p EventChances) (event.Type, Commodity, bool) {
	roll := rng.Float64()
	lo := 0.0
	bands := []struct {
		t    event.Type
		p    float64
		cond bool
	}{
		{event.MarketCrash, p.Crash, m.Confidence < 0.4},
		{event.MarketBoom, p.Boom, m.Confidence > 0.7},
		{event.MarketShortage, p.Shortage, true},
		{event.MarketSurplus, p.Surplus, true},
	}
	for _, b := range bands {
		hi := lo + b.p
		if roll >= lo && roll < hi {
			if !b.cond {
				return "", "", false
			}
			var c Commodity
			if b.t == event.MarketShortage || b.t == event.MarketSurplus {
				c = Commodities[rng.Intn(len(Commodities))]
			}
			return b.t, c, true
		}
		lo = hi
	}
	return "", "", false
}

// ApplyEvent puts a shock into effect at tick.
func (m *Market) ApplyEvent(t event.Type, c Commodity, tick uint64) error {
	ev := MarketEvent{Type: t, Commodity: c, Start: tick}
	switch t {
	case event.MarketCrash:
		ev.Until = tick + CrashDuration
		m.Confidence *= 0.5
		for _, cs := range m.Commodities {
			cs.CurrentPrice = max(cs.CurrentPrice*0.5, 1)
			cs.Volatility *= 2
		}
	case event.MarketBoom:
		ev.Until = tick + BoomDuration
		ev.Confidence = min(1, m.Confidence+0.2) - m.Confidence
		m.Confidence += ev.Confidence
		for _, cs := range m.Commodities {
			cs.Modifiers = append(cs.Modifiers, PriceModifier{Source: string(t), Factor: 1.1, Until: ev.Until})
		}
	case event.MarketShortage, event.MarketSurplus:
		cs, err := m.Commodity(c)
		if err != nil {
			return err
		}
		ev.Until = tick + ShortageDuration
		factor, price := 0.3, 1.2
		if t == event.MarketSurplus {
			factor, price = 3, 0.85
		}
		ev.Supply = cs.Supply*factor - cs.Supply
		cs.Supply += ev.Supply
		cs.Modifiers = append(cs.Modifiers, PriceModifier{Source: string(t), Factor: price, Until: ev.Until})
	default:
		return fmt.Errorf("market %d: unexpected shock %s", m.SettlementID, t)
	}
	m.Events = append(m.Events, ev)
	return nil
}

// Expire ends shocks and price modifiers that have run their course. A
// lapsed crash returns volatility to normal, a lapsed boom gives back its
// confidence and a lapsed shortage or surplus returns the goods it moved.
func (m *Market) Expire(tick uint64) {
	m.Events = slices.DeleteFunc(m.Events, func(ev MarketEvent) bool {
		if tick < ev.Until {
			return false
		}
		switch ev.Type {
		case event.MarketCrash:
			for _, cs := range m.Commodities {
				cs.Volatility /= 2
			}
		case event.MarketBoom:
			m.Confidence = max(m.Confidence-ev.Confidence, 0)
		case event.MarketShortage, event.MarketSurplus:
			if cs, ok := m.Commodities[ev.Commodity]; ok {
				cs.Supply = max(cs.Supply-ev.Supply, 0)
			}
		}
		return true
	})
	for _, cs := range m.Commodities {
		cs.Modifiers = slices.DeleteFunc(cs.Modifiers, func(pm PriceModifier) bool { return tick >= pm.Until })
	}
}

// Active reports whether a shock of type t is running.
func (m *Market) Active(t event.Type) bool {
	return slices.ContainsFunc(m.Events, func(ev MarketEvent) bool { return ev.Type == t })
}

// Health averages how balanced supply and demand are across goods, 0..1.
func (m *Market) Health() float64 {
	total := 0.0
	for _, c := range Commodities {
		total += phi.HealthRatio(m.Commodities[c])
	}
	return total / float64(len(Commodities))
}

func (m *Market) clone() Market {
	cp := *m
	cp.Commodities = make(map[Commodity]*CommodityState, len(m.Commodities))
	for c, cs := range m.Commodities {
		s := *cs
		s.Modifiers = slices.Clone(cs.Modifiers)
		cp.Commodities[c] = &s
	}
	cp.Events = slices.Clone(m.Events)
	cp.Transactions = slices.Clone(m.Transactions)
	return cp
}
