// Terrain generation from layered simplex noise. Elevation, rainfall and
// temperature fields are sampled per hex and folded into a terrain type.
package world

import (
	"math"
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// GenConfig holds world generation parameters.
type GenConfig struct {
	Radius      int     // Hex grid radius
	Seed        int64   // Noise seed; the same seed always yields the same map
	SeaLevel    float64 // Elevation threshold for ocean (0.0–1.0)
	MountainLvl float64 // Elevation threshold for mountains (0.0–1.0)
}

// DefaultGenConfig returns a generation config for the given radius and seed.
func DefaultGenConfig(radius int, seed int64) GenConfig {
	return GenConfig{
		Radius:      radius,
		Seed:        seed,
		SeaLevel:    0.25,
		MountainLvl: 0.72,
	}
}

// Generate creates a complete world map.
func Generate(cfg GenConfig) *Map {
	elevNoise := opensimplex.NewNormalized(cfg.Seed)
	rainNoise := opensimplex.NewNormalized(cfg.Seed + 1)
	tempNoise := opensimplex.NewNormalized(cfg.Seed + 2)

	m := NewMap(cfg.Radius)
	for q := -cfg.Radius; q <= cfg.Radius; q++ {
		for r := -cfg.Radius; r <= cfg.Radius; r++ {
			coord := HexCoord{Q: q, R: r}
			if !m.InBounds(coord) {
				continue
			}

			// Axial to cartesian for noise sampling.
			x := float64(q) + float64(r)*0.5
			y := float64(r) * math.Sqrt(3.0) / 2.0

			elev := octaveNoise(elevNoise, x, y, 4, 0.08, 0.5)
			rain := octaveNoise(rainNoise, x, y, 3, 0.06, 0.5)
			temp := octaveNoise(tempNoise, x, y, 3, 0.05, 0.5)

			// Continental falloff leaves an ocean rim.
			dist := math.Sqrt(x*x+y*y) / float64(cfg.Radius)
			elev *= math.Max(0, 1.0-math.Pow(dist, 3.5))

			temp = temp*0.6 + (1.0-math.Abs(y)/float64(cfg.Radius))*0.3 + (1.0-elev)*0.1

			m.Set(&Hex{
				Coord:       coord,
				Terrain:     deriveTerrain(elev, rain, temp, cfg),
				Elevation:   elev,
				Rainfall:    rain,
				Temperature: temp,
			})
		}
	}

	markCoast(m)
	placeRivers(m, cfg.Seed)
	return m
}

func deriveTerrain(elev, rain, temp float64, cfg GenConfig) Terrain {
	switch {
	case elev < cfg.SeaLevel:
		return TerrainOcean
	case elev > cfg.MountainLvl:
		return TerrainMountain
	case temp < 0.25:
		return TerrainTundra
	case rain < 0.25 && temp > 0.5:
		return TerrainDesert
	case rain > 0.7 && elev < 0.45:
		return TerrainSwamp
	case rain > 0.45 && elev > 0.45:
		return TerrainForest
	default:
		return TerrainPlains
	}
}

// markCoast turns low plains and forest next to the ocean into coast.
func markCoast(m *Map) {
	var coast []HexCoord
	for _, coord := range m.Coords() {
		hex := m.Get(coord)
		if hex.Terrain != TerrainPlains && hex.Terrain != TerrainForest {
			continue
		}
		if hex.Elevation >= 0.5 {
			continue
		}
		for _, n := range coord.Neighbors() {
			if nh := m.Get(n); nh != nil && nh.Terrain == TerrainOcean {
				coast = append(coast, coord)
				break
			}
		}
	}
	for _, c := range coast {
		m.Get(c).Terrain = TerrainCoast
	}
}

// placeRivers traces a handful of rivers downhill from highland sources.
func placeRivers(m *Map, seed int64) {
	rng := rand.New(rand.NewSource(seed + 100))

	var sources []HexCoord
	for _, coord := range m.Coords() {
		hex := m.Get(coord)
		if hex.Elevation > 0.65 && hex.Terrain != TerrainOcean {
			sources = append(sources, coord)
		}
	}

	n := min(max(len(sources)/8, 2), 10)
	rng.Shuffle(len(sources), func(i, j int) {
		sources[i], sources[j] = sources[j], sources[i]
	})
	if len(sources) > n {
		sources = sources[:n]
	}
	for _, start := range sources {
		traceRiver(m, start)
	}
}

// traceRiver follows steepest descent until it reaches ocean or a basin.
func traceRiver(m *Map, start HexCoord) {
	current := start
	visited := make(map[HexCoord]bool)

	for step := 0; step < 50; step++ {
		visited[current] = true
		hex := m.Get(current)
		if hex == nil || hex.Terrain == TerrainOcean {
			return
		}
		if hex.Terrain != TerrainMountain && hex.Terrain != TerrainCoast {
			hex.Terrain = TerrainRiver
		}

		next, found := current, false
		lowest := hex.Elevation
		for _, nc := range current.Neighbors() {
			nh := m.Get(nc)
			if nh == nil || visited[nc] {
				continue
			}
			if nh.Elevation < lowest {
				lowest = nh.Elevation
				next, found = nc, true
			}
		}
		if !found {
			return
		}
		current = next
	}
}

// octaveNoise layers several noise frequencies into fractal noise.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total, amplitude, maxVal := 0.0, 1.0, 0.0
	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}
	return total / maxVal
}

// TerrainCounts returns a summary of terrain type distribution.
func TerrainCounts(m *Map) map[Terrain]int {
	counts := make(map[Terrain]int)
	for _, hex := range m.Hexes {
		counts[hex.Terrain]++
	}
	return counts
}
