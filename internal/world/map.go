package world

import (
	"fmt"
	"slices"
)

// Map holds the complete hex grid.
type Map struct {
	Hexes  map[HexCoord]*Hex `json:"-"`
	Radius int               `json:"radius"`
}

// NewMap creates an empty map with the given radius.
// A hex grid of radius R contains hexes where max(|q|, |r|, |s|) <= R.
func NewMap(radius int) *Map {
	return &Map{
		Hexes:  make(map[HexCoord]*Hex),
		Radius: radius,
	}
}

// Get returns the hex at the given coordinate, or nil if out of bounds.
func (m *Map) Get(coord HexCoord) *Hex {
	return m.Hexes[coord]
}

// Set places a hex at the given coordinate.
func (m *Map) Set(hex *Hex) {
	m.Hexes[hex.Coord] = hex
}

// InBounds returns true if the coordinate is within the map radius.
func (m *Map) InBounds(coord HexCoord) bool {
	return max(abs(coord.Q), abs(coord.R), abs(coord.S())) <= m.Radius
}

// Coords returns every coordinate in row-major order.
func (m *Map) Coords() []HexCoord {
	coords := make([]HexCoord, 0, len(m.Hexes))
	for c := range m.Hexes {
		coords = append(coords, c)
	}
	slices.SortFunc(coords, func(a, b HexCoord) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		default:
			return 0
		}
	})
	return coords
}

// HexCount returns the total number of hexes in the map.
func (m *Map) HexCount() int {
	return len(m.Hexes)
}

// TerrainAt returns the terrain at coord, or ocean when off-map.
func (m *Map) TerrainAt(coord HexCoord) Terrain {
	if h := m.Get(coord); h != nil {
		return h.Terrain
	}
	return TerrainOcean
}

// PathRisk averages terrain risk along the straight line between a and b.
func (m *Map) PathRisk(a, b HexCoord) float64 {
	n := Distance(a, b)
	if n == 0 {
		return m.TerrainAt(a).Risk()
	}
	total := 0.0
	for i := 0; i <= n; i++ {
		t := float64(i) / float64(n)
		q := float64(a.Q) + float64(b.Q-a.Q)*t
		r := float64(a.R) + float64(b.R-a.R)*t
		total += m.TerrainAt(roundHex(q, r)).Risk()
	}
	return total / float64(n+1)
}

func roundHex(q, r float64) HexCoord {
	s := -q - r
	rq, rr, rs := roundf(q), roundf(r), roundf(s)
	dq, dr, ds := absf(rq-q), absf(rr-r), absf(rs-s)
	if dq > dr && dq > ds {
		rq = -rr - rs
	} else if dr > ds {
		rr = -rq - rs
	}
	return HexCoord{Q: int(rq), R: int(rr)}
}

func roundf(x float64) float64 {
	if x < 0 {
		return -float64(int(-x + 0.5))
	}
	return float64(int(x + 0.5))
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// String returns a summary of the map.
func (m *Map) String() string {
	return fmt.Sprintf("Map(radius=%d, hexes=%d)", m.Radius, m.HexCount())
}
