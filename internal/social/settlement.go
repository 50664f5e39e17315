package social

import "github.com/talgya/chronicle/internal/world"

// SettlementID is a unique identifier for a settlement.
type SettlementID = uint64

// Settlement is a population center on the hex grid.
type Settlement struct {
	ID         SettlementID   `json:"id"`
	Name       string         `json:"name"`
	Position   world.HexCoord `json:"position"`
	Terrain    world.Terrain  `json:"terrain"`
	Population uint32         `json:"population"`
	FactionID  FactionID      `json:"faction_id"`
}

// Output is the settlement's per-tick production of each commodity,
// driven by terrain and scaled by population.
func (s *Settlement) Output() map[string]float64 {
	scale := float64(s.Population) / 1000
	out := map[string]float64{"food": 2 * scale, "wood": 1 * scale, "iron": 0.5 * scale, "luxury": 0.2 * scale}
	switch s.Terrain {
	case world.TerrainPlains, world.TerrainRiver:
		out["food"] += 6 * scale
	case world.TerrainCoast:
		out["food"] += 4 * scale
		out["luxury"] += 0.5 * scale
	case world.TerrainForest:
		out["wood"] += 5 * scale
	case world.TerrainMountain:
		out["iron"] += 4 * scale
	case world.TerrainDesert, world.TerrainSwamp:
		out["luxury"] += 1.5 * scale
	case world.TerrainTundra:
		out["wood"] += 1 * scale
	}
	return out
}

// Consumption is the settlement's per-tick baseline demand.
func (s *Settlement) Consumption() map[string]float64 {
	scale := float64(s.Population) / 1000
	return map[string]float64{"food": 5 * scale, "wood": 2 * scale, "iron": 1 * scale, "luxury": 0.5 * scale}
}
