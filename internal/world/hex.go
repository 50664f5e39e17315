// Package world provides the hex grid, terrain, and settlement sites.
// Uses axial coordinates (q, r) for the hex grid.
package world

// HexCoord represents a position on the hex grid using axial coordinates.
// The third cube coordinate s is derived: s = -q - r.
type HexCoord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// S returns the implicit third cube coordinate.
func (h HexCoord) S() int {
	return -h.Q - h.R
}

// Less orders coordinates row-major for deterministic iteration.
func (h HexCoord) Less(o HexCoord) bool {
	if h.R != o.R {
		return h.R < o.R
	}
	return h.Q < o.Q
}

// Terrain types for hex tiles.
type Terrain uint8

const (
	TerrainPlains   Terrain = iota // Farmland
	TerrainForest                  // Timber
	TerrainMountain                // Iron, defensible
	TerrainCoast                   // Fishing, ports
	TerrainRiver                   // Freshwater, trade arteries
	TerrainDesert                  // Rare goods
	TerrainSwamp                   // Rare goods, bandit cover
	TerrainTundra                  // Harsh
	TerrainOcean                   // Impassable
)

// Hex represents a single tile on the world map.
type Hex struct {
	Coord       HexCoord `json:"coord"`
	Terrain     Terrain  `json:"terrain"`
	Elevation   float64  `json:"elevation"`   // 0.0 (sea level) to 1.0 (peak)
	Rainfall    float64  `json:"rainfall"`    // 0.0 (arid) to 1.0 (tropical)
	Temperature float64  `json:"temperature"` // 0.0 (frozen) to 1.0 (hot)

	SettlementID *uint64 `json:"settlement_id,omitempty"`
}

// HexNeighborDirections defines the six neighbor offsets in axial coordinates.
var HexNeighborDirections = [6]HexCoord{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

// Neighbors returns the six adjacent hex coordinates.
func (h HexCoord) Neighbors() [6]HexCoord {
	var result [6]HexCoord
	for i, dir := range HexNeighborDirections {
		result[i] = HexCoord{Q: h.Q + dir.Q, R: h.R + dir.R}
	}
	return result
}

// Distance returns the hex distance between two coordinates.
func Distance(a, b HexCoord) int {
	return max(abs(a.Q-b.Q), abs(a.R-b.R), abs(a.S()-b.S()))
}

// Risk returns how dangerous the terrain is for travelers, 0 (safe) to 1.
func (t Terrain) Risk() float64 {
	switch t {
	case TerrainPlains, TerrainRiver, TerrainCoast:
		return 0.1
	case TerrainForest:
		return 0.3
	case TerrainDesert, TerrainTundra:
		return 0.4
	case TerrainSwamp, TerrainMountain:
		return 0.5
	default:
		return 1
	}
}

// TerrainName returns a human-readable name for a terrain type.
func TerrainName(t Terrain) string {
	switch t {
	case TerrainPlains:
		return "Plains"
	case TerrainForest:
		return "Forest"
	case TerrainMountain:
		return "Mountain"
	case TerrainCoast:
		return "Coast"
	case TerrainRiver:
		return "River"
	case TerrainDesert:
		return "Desert"
	case TerrainSwamp:
		return "Swamp"
	case TerrainTundra:
		return "Tundra"
	case TerrainOcean:
		return "Ocean"
	default:
		return "Unknown"
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
