package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/dustin/go-humanize"

	"github.com/talgya/chronicle/internal/economy"
	"github.com/talgya/chronicle/internal/event"
	"github.com/talgya/chronicle/internal/social"
	"github.com/talgya/chronicle/internal/state"
)

// ErrInvalidAmount is returned for a quantity or grant that is negative,
// zero where it must be positive, or not a finite number.
var ErrInvalidAmount = errors.New("invalid amount")

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// ProvisionSettlement injects goods into a settlement's market supply.
func (s *Simulation) ProvisionSettlement(name, commodity string, quantity float64) (string, error) {
	if !finite(quantity) || quantity <= 0 {
		return "", fmt.Errorf("quantity must be positive, got %g: %w", quantity, ErrInvalidAmount)
	}
	c, err := economy.ParseCommodity(commodity)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sett := s.findSettlementByName(name)
	if sett == nil {
		return "", fmt.Errorf("settlement %q: %w", name, state.ErrNotFound)
	}
	m, err := s.economy.Market(sett.ID)
	if err != nil {
		return "", err
	}
	if _, err := m.Sell(s.world.Tick(), c, quantity); err != nil {
		return "", err
	}

	desc := fmt.Sprintf("A relief caravan arrives in %s bearing %s units of %s", name, humanize.Commaf(quantity), c)
	ref := event.SettlementRef(sett.ID)
	s.recordIntervention(ref, []string{ref, event.FactionRef(sett.FactionID)}, desc)
	slog.Info("provision intervention", "settlement", name, "commodity", c, "quantity", quantity)
	return desc, nil
}

// FundFaction grants gold and troops to a faction's treasury.
func (s *Simulation) FundFaction(name string, gold, military float64) (string, error) {
	if !finite(gold) || !finite(military) || gold < 0 || military < 0 {
		return "", fmt.Errorf("grants must be finite and not negative, got %g gold and %g military: %w",
			gold, military, ErrInvalidAmount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.findFactionByName(name)
	if f == nil {
		return "", fmt.Errorf("faction %q: %w", name, state.ErrNotFound)
	}
	f.Resources.Add(social.Resources{Gold: gold, Military: military})

	desc := fmt.Sprintf("Patrons fill the coffers of %s with %s gold and %s soldiers",
		name, humanize.Commaf(gold), humanize.Commaf(military))
	ref := event.FactionRef(f.ID)
	s.recordIntervention(ref, []string{ref}, desc)
	slog.Info("fund intervention", "faction", name, "gold", gold, "military", military)
	return desc, nil
}

func (s *Simulation) recordIntervention(ref string, entities []string, desc string) {
	ev := &event.Event{
		ID:          s.world.NextID("event"),
		Type:        event.Intervention,
		Tick:        s.world.Tick(),
		Source:      "operator",
		EntityID:    ref,
		Location:    ref,
		Entities:    entities,
		Description: desc,
	}
	s.orch.Record(ev)
	s.feed.publish([]*event.Event{ev})
}

// findSettlementByName looks up a settlement by name (case-sensitive).
func (s *Simulation) findSettlementByName(name string) *social.Settlement {
	for _, sett := range s.world.Settlements() {
		if sett.Name == name {
			return sett
		}
	}
	return nil
}

func (s *Simulation) findFactionByName(name string) *social.Faction {
	for _, f := range s.world.Factions() {
		if f.Name == name {
			return f
		}
	}
	return nil
}
