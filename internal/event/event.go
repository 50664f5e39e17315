// Package event defines the history record produced by subsystems and the
// cooldown gate they consult while proposing candidates.
package event

import (
	"fmt"
	"slices"
)

// Type names an event kind.
type Type string

// War events.
const (
	WarDeclared Type = "war_declared"
	Battle      Type = "battle"
	PeaceSigned Type = "peace_signed"
)

// Political events.
const (
	RulerDied       Type = "ruler_died"
	Succession      Type = "succession"
	PlotResolved    Type = "plot_resolved"
	IntrigueExposed Type = "intrigue_exposed"
	Unrest          Type = "unrest"
)

// Diplomatic events.
const (
	DiplomaticIncident Type = "diplomatic_incident"
	DiplomaticAction   Type = "diplomatic_action"
	TreatyProposed     Type = "treaty_proposed"
	TreatySigned       Type = "treaty_signed"
	TreatyExpired      Type = "treaty_expired"
)

// Market events.
const (
	MarketCrash    Type = "market_crash"
	MarketBoom     Type = "market_boom"
	MarketShortage Type = "market_shortage"
	MarketSurplus  Type = "market_surplus"
	CaravanArrived Type = "caravan_arrived"
	CaravanLost    Type = "caravan_lost"
	RouteClosed    Type = "route_closed"
)

// Intervention is recorded when an operator changes the world by hand.
const Intervention Type = "intervention"

// Category groups event types for prioritization.
type Category uint8

const (
	CategoryDefault Category = iota
	CategoryMarket
	CategoryDiplomatic
	CategoryPolitical
	CategoryWar
)

var categories = map[Type]Category{
	WarDeclared: CategoryWar, Battle: CategoryWar, PeaceSigned: CategoryWar,

	RulerDied: CategoryPolitical, Succession: CategoryPolitical, PlotResolved: CategoryPolitical,
	IntrigueExposed: CategoryPolitical, Unrest: CategoryPolitical,

	DiplomaticIncident: CategoryDiplomatic, DiplomaticAction: CategoryDiplomatic,
	TreatyProposed: CategoryDiplomatic, TreatySigned: CategoryDiplomatic, TreatyExpired: CategoryDiplomatic,

	MarketCrash: CategoryMarket, MarketBoom: CategoryMarket, MarketShortage: CategoryMarket,
	MarketSurplus: CategoryMarket, CaravanArrived: CategoryMarket, CaravanLost: CategoryMarket,
	RouteClosed: CategoryMarket,
}

// CategoryOf returns the category of t, or CategoryDefault for unknown types.
func CategoryOf(t Type) Category {
	return categories[t]
}

// BasePriority is the dispatch weight before magnitude and impact.
func (c Category) BasePriority() float64 {
	switch c {
	case CategoryWar:
		return 100
	case CategoryPolitical:
		return 75
	case CategoryDiplomatic:
		return 60
	case CategoryMarket:
		return 50
	default:
		return 10
	}
}

func (c Category) String() string {
	switch c {
	case CategoryWar:
		return "war"
	case CategoryPolitical:
		return "political"
	case CategoryDiplomatic:
		return "diplomatic"
	case CategoryMarket:
		return "market"
	default:
		return "default"
	}
}

// Global is the cooldown entity used when an event has no subject.
const Global = "global"

// Event is a proposed or recorded occurrence. Once recorded into history
// it is never modified.
type Event struct {
	ID                  string   `json:"id"`
	Type                Type     `json:"type"`
	Tick                uint64   `json:"tick"`
	Source              string   `json:"source"`
	Magnitude           float64  `json:"magnitude,omitempty"`
	ConsciousnessImpact float64  `json:"consciousness_impact,omitempty"`
	Location            string   `json:"location,omitempty"`
	EntityID            string   `json:"entity_id,omitempty"`
	Entities            []string `json:"entities,omitempty"`
	Description         string   `json:"description"`
	DependsOn           []string `json:"depends_on,omitempty"`

	// Payload carries the subsystem's typed detail to its own handler.
	Payload any `json:"-"`

	Priority     float64 `json:"priority"`
	Significance float64 `json:"significance"`
	Merged       int     `json:"merged,omitempty"`
	Failed       bool    `json:"failed,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// Clone copies e without sharing its slices.
func (e *Event) Clone() Event {
	cp := *e
	cp.Entities = slices.Clone(e.Entities)
	cp.DependsOn = slices.Clone(e.DependsOn)
	return cp
}

// CooldownEntity is the entity half of the event's cooldown key.
func (e *Event) CooldownEntity() string {
	if e.EntityID == "" {
		return Global
	}
	return e.EntityID
}

// Involves reports whether ref names the event's subject or any participant.
func (e *Event) Involves(ref string) bool {
	if e.EntityID == ref || e.Location == ref {
		return true
	}
	for _, r := range e.Entities {
		if r == ref {
			return true
		}
	}
	return false
}

// Gate answers whether an event key is off cooldown at the current tick.
type Gate interface {
	CanTrigger(t Type, entity string) bool
}

// Open is a Gate that never blocks.
type Open struct{}

func (Open) CanTrigger(Type, string) bool { return true }

// Key joins a type and entity into a cooldown key.
func Key(t Type, entity string) string {
	if entity == "" {
		entity = Global
	}
	return string(t) + "|" + entity
}

// FactionRef is the entity reference for a faction.
func FactionRef[T ~uint64](id T) string { return fmt.Sprintf("faction:%d", uint64(id)) }

// SettlementRef is the entity reference for a settlement.
func SettlementRef(id uint64) string { return fmt.Sprintf("settlement:%d", id) }

// PairRef is the order-independent reference for two factions.
func PairRef[T ~uint64](a, b T) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("pair:%d-%d", uint64(a), uint64(b))
}
