package economy

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/dustin/go-humanize"

	"github.com/talgya/chronicle/internal/entropy"
	"github.com/talgya/chronicle/internal/event"
	"github.com/talgya/chronicle/internal/social"
	"github.com/talgya/chronicle/internal/state"
)

// Config tunes the economic subsystem.
type Config struct {
	CrashChance        float64 `yaml:"crashChance"`
	BoomChance         float64 `yaml:"boomChance"`
	ShortageChance     float64 `yaml:"shortageChance"`
	SurplusChance      float64 `yaml:"surplusChance"`
	CaravanEventChance float64 `yaml:"caravanEventChance"`
	DispatchThreshold  float64 `yaml:"dispatchThreshold"`
	MaxCaravans        int     `yaml:"maxCaravans"`
	BaseTariff         float64 `yaml:"baseTariff"`
	ReopenAfter        uint64  `yaml:"reopenAfter"`
	TaxRate            float64 `yaml:"taxRate"`
	UpkeepRate         float64 `yaml:"upkeepRate"`
	Garrison           float64 `yaml:"garrison"`
	RecruitRate        float64 `yaml:"recruitRate"`
	RecruitCost        float64 `yaml:"recruitCost"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		CrashChance:        0.01,
		BoomChance:         0.01,
		ShortageChance:     0.02,
		SurplusChance:      0.02,
		CaravanEventChance: 0.05,
		DispatchThreshold:  100,
		MaxCaravans:        5,
		BaseTariff:         0.1,
		ReopenAfter:        180,
		TaxRate:            0.1,
		UpkeepRate:         2,
		Garrison:           60,
		RecruitRate:        0.5,
		RecruitCost:        2,
	}
}

// PolicySource answers the diplomatic questions trade depends on.
type PolicySource interface {
	Embargoed(a, b social.FactionID) bool
	TariffReduction(a, b social.FactionID) float64
}

// Exchange is the economic subsystem: every market, route and caravan.
type Exchange struct {
	store  state.Store
	cfg    Config
	rng    entropy.Source
	policy PolicySource

	markets    map[uint64]*Market
	routes     map[string]*TradeRoute
	routeOrder []string
	// policies is taken while candidates are proposed and used by the next
	// update, which may not call into diplomacy.
	policies map[string]Policy
}

// New returns an exchange bound to store.
func New(store state.Store, cfg Config) *Exchange {
	return &Exchange{
		store:    store,
		cfg:      cfg,
		rng:      entropy.ForTick(store.Seed(), entropy.StreamEconomy, 0),
		markets:  make(map[uint64]*Market),
		routes:   make(map[string]*TradeRoute),
		policies: make(map[string]Policy),
	}
}

// SetPolicy wires the embargo and tariff lookup.
func (e *Exchange) SetPolicy(p PolicySource) { e.policy = p }

func (e *Exchange) Name() string { return "economy" }

func (e *Exchange) EventTypes() []event.Type {
	return []event.Type{
		event.MarketCrash, event.MarketBoom, event.MarketShortage, event.MarketSurplus,
		event.CaravanArrived, event.CaravanLost, event.RouteClosed,
	}
}

// Reseed replaces the random source for the coming tick.
func (e *Exchange) Reseed(src entropy.Source) { e.rng = src }

// OpenMarkets creates a market for every settlement that lacks one.
func (e *Exchange) OpenMarkets() {
	for _, s := range e.store.Settlements() {
		if _, ok := e.markets[s.ID]; !ok {
			e.markets[s.ID] = NewMarket(s)
		}
	}
}

// AddRoutes registers routes in the given order.
func (e *Exchange) AddRoutes(routes ...*TradeRoute) {
	for _, r := range routes {
		if _, ok := e.routes[r.ID]; !ok {
			e.routeOrder = append(e.routeOrder, r.ID)
		}
		e.routes[r.ID] = r
	}
}

// Market returns the market of a settlement.
func (e *Exchange) Market(settlement uint64) (*Market, error) {
	m, ok := e.markets[settlement]
	if !ok {
		return nil, fmt.Errorf("market %d: %w", settlement, state.ErrNotFound)
	}
	return m, nil
}

// Markets returns every market ordered by settlement id.
func (e *Exchange) Markets() []*Market {
	out := make([]*Market, 0, len(e.markets))
	for _, id := range slices.Sorted(maps.Keys(e.markets)) {
		out = append(out, e.markets[id])
	}
	return out
}

// Route looks up a trade route.
func (e *Exchange) Route(id string) (*TradeRoute, error) {
	r, ok := e.routes[id]
	if !ok {
		return nil, fmt.Errorf("route %s: %w", id, state.ErrNotFound)
	}
	return r, nil
}

// Routes returns every route in creation order.
func (e *Exchange) Routes() []*TradeRoute {
	out := make([]*TradeRoute, 0, len(e.routeOrder))
	for _, id := range e.routeOrder {
		out = append(out, e.routes[id])
	}
	return out
}

// Update runs a market day: production, consumption and pricing in every
// market, the faction treasuries, then caravan travel and dispatch on
// every route.
func (e *Exchange) Update(ctx context.Context, tick uint64) error {
	season := SeasonOf(tick)
	if tick > 0 && season != SeasonOf(tick-1) {
		slog.Info("season change", "tick", tick, "season", season)
	}
	for _, m := range e.Markets() {
		s, err := e.store.Settlement(m.SettlementID)
		if err != nil {
			continue
		}
		m.Season = season
		m.Expire(tick)
		m.Produce(tick, s.Output(), s.Consumption())
		m.UpdatePrices(tick, e.rng)
	}
	e.collectTaxes(tick)
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, r := range e.Routes() {
		p := e.policies[r.ID]
		if r.Status == RouteClosed {
			if tick >= r.ClosedAt+e.cfg.ReopenAfter && !p.Embargoed {
				r.Status = RouteActive
				r.Safety = max(r.Safety, 0.5)
				r.Reason = ""
				slog.Debug("route reopened", "route", r.ID)
			}
			continue
		}
		for _, c := range r.Caravans {
			c.Advance(e.rng, r, e.cfg.CaravanEventChance)
		}
		if p.Embargoed {
			continue
		}
		if _, err := e.DispatchCaravan(tick, r.ID); err != nil {
			slog.Warn("caravan dispatch", "route", r.ID, "error", err)
		}
	}
	return ctx.Err()
}

// DispatchCaravan sends a caravan down the route when the best load clears
// the dispatch threshold and fewer than MaxCaravans are on the road. It
// returns nil when nothing is sent.
func (e *Exchange) DispatchCaravan(tick uint64, routeID string) (*Caravan, error) {
	r, err := e.Route(routeID)
	if err != nil {
		return nil, err
	}
	if r.Status != RouteActive {
		return nil, fmt.Errorf("dispatch on %s: %w", routeID, ErrRouteClosed)
	}
	if r.InFlight() >= e.cfg.MaxCaravans {
		return nil, nil
	}
	origin, err := e.Market(r.Origin)
	if err != nil {
		return nil, err
	}
	dest, err := e.Market(r.Destination)
	if err != nil {
		return nil, err
	}
	p := e.policies[r.ID]
	est := r.CalculateProfitability(origin, dest, p)
	if est.Profit <= e.cfg.DispatchThreshold {
		return nil, nil
	}
	qty, err := origin.Take(tick, est.Commodity, est.Quantity)
	if err != nil {
		return nil, err
	}
	c := &Caravan{
		ID:        e.store.NextID("caravan"),
		RouteID:   r.ID,
		Commodity: est.Commodity,
		Quantity:  qty,
		Value:     est.Cost * qty / est.Quantity,
		Premium:   1,
		Tariff:    p.Tariff,
		Guards:    r.Guards(),
		Departed:  tick,
		Status:    CaravanTraveling,
	}
	r.Caravans = append(r.Caravans, c)
	r.Stats.Dispatched++
	return c, nil
}

// policyFor asks diplomacy how the two owners of r trade with each other.
func (e *Exchange) policyFor(r *TradeRoute) Policy {
	so, err := e.store.Settlement(r.Origin)
	if err != nil {
		return Policy{}
	}
	sd, err := e.store.Settlement(r.Destination)
	if err != nil {
		return Policy{}
	}
	a, b := so.FactionID, sd.FactionID
	if a == 0 || b == 0 || a == b {
		return Policy{}
	}
	if e.policy == nil {
		return Policy{Tariff: e.cfg.BaseTariff}
	}
	return Policy{
		Embargoed: e.policy.Embargoed(a, b),
		Tariff:    e.cfg.BaseTariff * (1 - e.policy.TariffReduction(a, b)),
	}
}

// RouteRef is the entity reference for a trade route.
func RouteRef(id string) string { return "route:" + id }

type marketPayload struct {
	Settlement uint64
	Commodity  Commodity
}

type caravanPayload struct {
	Route, Caravan string
}

type routePayload struct {
	Route, Reason string
}

var shockMagnitude = map[event.Type]float64{
	event.MarketCrash:    1.5,
	event.MarketBoom:     1,
	event.MarketShortage: 1,
	event.MarketSurplus:  0.5,
}

// CandidateEvents refreshes the trade policy of every route and proposes
// market shocks, caravan outcomes and embargo closures.
func (e *Exchange) CandidateEvents(tick uint64, gate event.Gate) []*event.Event {
	for _, r := range e.Routes() {
		e.policies[r.ID] = e.policyFor(r)
	}

	chances := EventChances{
		Crash:    e.cfg.CrashChance,
		Boom:     e.cfg.BoomChance,
		Shortage: e.cfg.ShortageChance,
		Surplus:  e.cfg.SurplusChance,
	}
	var out []*event.Event
	for _, m := range e.Markets() {
		t, c, ok := m.CheckForEvents(e.rng, chances)
		ref := event.SettlementRef(m.SettlementID)
		if !ok || !gate.CanTrigger(t, ref) {
			continue
		}
		name := e.settlementName(m.SettlementID)
		desc := fmt.Sprintf("%s in %s", t, name)
		if c != "" {
			desc = fmt.Sprintf("%s of %s in %s", t, c, name)
		}
		ev := e.newEvent(t, tick, ref, desc, marketPayload{Settlement: m.SettlementID, Commodity: c})
		ev.Entities = e.settlementRefs(m.SettlementID)
		ev.Magnitude = shockMagnitude[t]
		out = append(out, ev)
	}

	for _, r := range e.Routes() {
		ref := RouteRef(r.ID)
		for _, c := range r.Caravans {
			var t event.Type
			switch c.Status {
			case CaravanArrived:
				t = event.CaravanArrived
			case CaravanLost:
				t = event.CaravanLost
			default:
				continue
			}
			if !gate.CanTrigger(t, ref) {
				continue
			}
			ev := e.newEvent(t, tick, ref,
				fmt.Sprintf("Caravan of %s from %s to %s %s", c.Commodity,
					e.settlementName(r.Origin), e.settlementName(r.Destination), c.Status),
				caravanPayload{Route: r.ID, Caravan: c.ID})
			ev.Location = "caravan:" + c.ID
			ev.Entities = append(e.settlementRefs(r.Origin), e.settlementRefs(r.Destination)...)
			ev.Magnitude = 0.5
			if t == event.CaravanLost {
				ev.Magnitude = 1
			}
			out = append(out, ev)
		}
		if r.Status == RouteActive && e.policies[r.ID].Embargoed && gate.CanTrigger(event.RouteClosed, ref) {
			ev := e.newEvent(event.RouteClosed, tick, ref,
				fmt.Sprintf("Embargo closes the road from %s to %s", e.settlementName(r.Origin), e.settlementName(r.Destination)),
				routePayload{Route: r.ID, Reason: "embargo"})
			ev.Entities = append(e.settlementRefs(r.Origin), e.settlementRefs(r.Destination)...)
			ev.Magnitude = 1
			out = append(out, ev)
		}
	}
	return out
}

func (e *Exchange) settlementName(id uint64) string {
	if s, err := e.store.Settlement(id); err == nil {
		return s.Name
	}
	return fmt.Sprintf("settlement %d", id)
}

// settlementRefs names a settlement and its owner.
func (e *Exchange) settlementRefs(id uint64) []string {
	refs := []string{event.SettlementRef(id)}
	if s, err := e.store.Settlement(id); err == nil && s.FactionID != 0 {
		refs = append(refs, event.FactionRef(s.FactionID))
	}
	return refs
}

func (e *Exchange) newEvent(t event.Type, tick uint64, ref, desc string, payload any) *event.Event {
	return &event.Event{
		ID:          e.store.NextID("event"),
		Type:        t,
		Tick:        tick,
		Source:      e.Name(),
		Location:    ref,
		EntityID:    ref,
		Entities:    []string{ref},
		Description: desc,
		Payload:     payload,
	}
}

// Handle applies a dispatched economic event.
func (e *Exchange) Handle(ev *event.Event) error {
	switch p := ev.Payload.(type) {
	case marketPayload:
		m, err := e.Market(p.Settlement)
		if err != nil {
			return err
		}
		if err := m.ApplyEvent(ev.Type, p.Commodity, ev.Tick); err != nil {
			return err
		}
		f, ok := e.owner(p.Settlement)
		if !ok {
			return nil
		}
		switch ev.Type {
		case event.MarketCrash:
			lost := f.Resources.Spend(f.Resources.Gold * 0.05 * max(ev.Magnitude, 1))
			slog.Info("market crash", "settlement", p.Settlement, "faction", f.Name, "gold_lost", humanize.Commaf(lost))
		case event.MarketBoom:
			f.Resources.Add(social.Resources{Gold: 25 * max(ev.Magnitude, 1)})
		}
		return nil

	case caravanPayload:
		r, err := e.Route(p.Route)
		if err != nil {
			return err
		}
		c, ok := r.caravan(p.Caravan)
		if !ok {
			return fmt.Errorf("caravan %s on %s: %w", p.Caravan, p.Route, state.ErrNotFound)
		}
		r.Caravans = slices.DeleteFunc(r.Caravans, func(x *Caravan) bool { return x.ID == c.ID })
		if c.Status == CaravanArrived {
			return e.deliver(ev.Tick, r, c)
		}
		r.Stats.Lost++
		if origin, err := e.Market(r.Origin); err == nil {
			origin.Commodities[c.Commodity].Supply += c.Quantity
		}
		if f, ok := e.owner(r.Origin); ok {
			f.Resources.Spend(float64(c.Guards) * 2)
		}
		e.closeRoute(ev.Tick, r, "caravan lost")
		return nil

	case routePayload:
		r, err := e.Route(p.Route)
		if err != nil {
			return err
		}
		e.closeRoute(ev.Tick, r, p.Reason)
		return nil
	}
	return fmt.Errorf("economy: unexpected payload %T for %s", ev.Payload, ev.Type)
}

// deliver sells a caravan's goods at the destination. The owner of the
// origin keeps half the profit and the destination's owner collects the
// tariff.
func (e *Exchange) deliver(tick uint64, r *TradeRoute, c *Caravan) error {
	dest, err := e.Market(r.Destination)
	if err != nil {
		return err
	}
	revenue, err := dest.Sell(tick, c.Commodity, c.Quantity)
	if err != nil {
		return err
	}
	revenue *= c.Premium
	tariffs := revenue * c.Tariff
	profit := revenue - c.Value - tariffs

	r.Stats.Delivered++
	r.Stats.Revenue += revenue
	r.Stats.Profit += profit
	r.Safety = min(1, r.Safety+0.01)

	if f, ok := e.owner(r.Origin); ok && profit > 0 {
		f.Resources.Add(social.Resources{Gold: profit * 0.5})
	}
	if f, ok := e.owner(r.Destination); ok && tariffs > 0 {
		f.Resources.Add(social.Resources{Gold: tariffs})
	}
	slog.Debug("caravan arrived", "route", r.ID, "commodity", c.Commodity, "revenue", humanize.Commaf(revenue))
	return nil
}

// closeRoute shuts r and returns goods on the road to the origin market.
func (e *Exchange) closeRoute(tick uint64, r *TradeRoute, reason string) {
	origin, err := e.Market(r.Origin)
	r.Caravans = slices.DeleteFunc(r.Caravans, func(c *Caravan) bool {
		if c.Status != CaravanTraveling {
			return false
		}
		if err == nil {
			origin.Commodities[c.Commodity].Supply += c.Quantity
		}
		return true
	})
	r.Close(tick, reason)
}

func (e *Exchange) owner(settlement uint64) (*social.Faction, bool) {
	s, err := e.store.Settlement(settlement)
	if err != nil || s.FactionID == 0 {
		return nil, false
	}
	f, err := e.store.Faction(s.FactionID)
	return f, err == nil
}

// MarketSummary is the public view of one market.
type MarketSummary struct {
	SettlementID uint64                `json:"settlement_id"`
	Name         string                `json:"name"`
	Season       string                `json:"season"`
	Confidence   float64               `json:"confidence"`
	Health       float64               `json:"health"`
	Prices       map[Commodity]float64 `json:"prices"`
	Events       []event.Type          `json:"events,omitempty"`
}

// Status is the economic summary of the world.
type Status struct {
	Markets      []MarketSummary `json:"markets"`
	Routes       int             `json:"routes"`
	ActiveRoutes int             `json:"active_routes"`
	Caravans     int             `json:"caravans"`
	Delivered    int             `json:"delivered"`
	Lost         int             `json:"lost"`
}

// Summary describes one market.
func (e *Exchange) Summary(m *Market) MarketSummary {
	ms := MarketSummary{
		SettlementID: m.SettlementID,
		Name:         e.settlementName(m.SettlementID),
		Season:       m.Season.String(),
		Confidence:   m.Confidence,
		Health:       m.Health(),
		Prices:       make(map[Commodity]float64, len(m.Commodities)),
	}
	for c, cs := range m.Commodities {
		ms.Prices[c] = cs.CurrentPrice
	}
	for _, ev := range m.Events {
		ms.Events = append(ms.Events, ev.Type)
	}
	return ms
}

// Status summarizes every market and the route network.
func (e *Exchange) Status() Status {
	var st Status
	for _, m := range e.Markets() {
		st.Markets = append(st.Markets, e.Summary(m))
	}
	for _, r := range e.Routes() {
		st.Routes++
		if r.Status == RouteActive {
			st.ActiveRoutes++
		}
		st.Caravans += r.InFlight()
		st.Delivered += r.Stats.Delivered
		st.Lost += r.Stats.Lost
	}
	return st
}

// Snapshot is the serializable state of the exchange.
type Snapshot struct {
	Markets  []Market          `json:"markets"`
	Routes   []TradeRoute      `json:"routes"`
	Policies map[string]Policy `json:"policies,omitempty"`
}

// Export deep-copies markets and routes.
func (e *Exchange) Export() Snapshot {
	snap := Snapshot{Policies: maps.Clone(e.policies)}
	for _, m := range e.Markets() {
		snap.Markets = append(snap.Markets, m.clone())
	}
	for _, r := range e.Routes() {
		snap.Routes = append(snap.Routes, r.clone())
	}
	return snap
}

// Import replaces the exchange's state with a copy of snap.
func (e *Exchange) Import(snap Snapshot) {
	e.markets = make(map[uint64]*Market, len(snap.Markets))
	for i := range snap.Markets {
		m := snap.Markets[i].clone()
		e.markets[m.SettlementID] = &m
	}
	e.routes = make(map[string]*TradeRoute, len(snap.Routes))
	e.routeOrder = nil
	for i := range snap.Routes {
		r := snap.Routes[i].clone()
		e.AddRoutes(&r)
	}
	e.policies = maps.Clone(snap.Policies)
	if e.policies == nil {
		e.policies = make(map[string]Policy)
	}
}
