package gardener

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/talgya/chronicle/internal/phi"
)

// Actions the steward can take.
const (
	ActionNone      = "none"
	ActionProvision = "provision"
	ActionFund      = "fund"
)

const (
	// provisionQuantity is the stock delivered to a starving market.
	provisionQuantity = 25 * phi.Phi
	maxProvision      = 100.0
	// fundShare is the slice of the mean treasury granted to a poor faction.
	fundShare = 0.1
	maxFund   = 500.0
	// restCycles is how long a target is left alone after being tended.
	restCycles = 3
)

// Decision is the steward's recommended action.
type Decision struct {
	Action       string        `json:"action"`
	Rationale    string        `json:"rationale"`
	Intervention *Intervention `json:"intervention"`
}

// Intervention is the payload for POST /api/v1/intervention.
type Intervention struct {
	Type       string  `json:"type"`
	Settlement string  `json:"settlement,omitempty"`
	Commodity  string  `json:"commodity,omitempty"`
	Quantity   float64 `json:"quantity,omitempty"`
	Faction    string  `json:"faction,omitempty"`
	Gold       float64 `json:"gold,omitempty"`
	Military   float64 `json:"military,omitempty"`
}

// Decide picks zero or one intervention. Starving markets come before poor
// treasuries, and anything tended in the last few cycles is left to recover
// on its own.
func Decide(h *WorldHealth, mem *CycleMemory) *Decision {
	switch {
	case h.CrisisLevel == CrisisCritical && h.MarketFloor < phi.Agnosis && h.ScarceCommodity != "" &&
		!mem.RecentlyTended(h.WeakestMarket, restCycles):
		d := &Decision{
			Action: ActionProvision,
			Rationale: fmt.Sprintf("market in %s is failing (health %.2f), %s is scarcest",
				h.WeakestMarket, h.MarketFloor, h.ScarceCommodity),
			Intervention: &Intervention{
				Type:       ActionProvision,
				Settlement: h.WeakestMarket,
				Commodity:  string(h.ScarceCommodity),
				Quantity:   provisionQuantity,
			},
		}
		enforceGuardrails(d)
		return d

	case h.Impoverished() && !mem.RecentlyTended(h.PoorestFaction, restCycles):
		d := &Decision{
			Action: ActionFund,
			Rationale: fmt.Sprintf("%s holds %.0f gold against a mean of %.0f",
				h.PoorestFaction, h.PoorestGold, h.MeanGold),
			Intervention: &Intervention{
				Type:    ActionFund,
				Faction: h.PoorestFaction,
				Gold:    h.MeanGold * fundShare,
			},
		}
		enforceGuardrails(d)
		return d
	}

	return &Decision{
		Action:    ActionNone,
		Rationale: fmt.Sprintf("world is %s, letting it run", h.CrisisLevel),
	}
}

// enforceGuardrails clamps the intervention within safe bounds.
func enforceGuardrails(d *Decision) {
	iv := d.Intervention
	if iv == nil {
		d.Action = ActionNone
		return
	}
	iv.Type = d.Action

	switch d.Action {
	case ActionProvision:
		if iv.Quantity > maxProvision {
			slog.Warn("gardener provision capped", "requested", iv.Quantity, "capped", maxProvision)
			iv.Quantity = maxProvision
		}
		iv.Quantity = math.Max(iv.Quantity, 1)
	case ActionFund:
		if iv.Gold > maxFund {
			slog.Warn("gardener funding capped", "requested", iv.Gold, "capped", maxFund)
			iv.Gold = maxFund
		}
		iv.Gold = math.Max(iv.Gold, 1)
		iv.Military = 0
	}
}
