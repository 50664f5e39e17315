package world

import (
	"math/rand"
	"slices"
)

// Site is a scored location suitable for a settlement.
type Site struct {
	Coord HexCoord
	Score float64
	Name  string
}

// PlaceSites picks up to count settlement sites, best first, no two closer
// than minDist. Ties in score are broken by coordinate so placement is
// stable for a given map.
func PlaceSites(m *Map, seed int64, count, minDist int) []Site {
	var candidates []Site
	for _, coord := range m.Coords() {
		hex := m.Get(coord)
		if s := siteScore(m, coord, hex); s > 0 {
			candidates = append(candidates, Site{Coord: coord, Score: s})
		}
	}
	slices.SortStableFunc(candidates, func(a, b Site) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})

	var sites []Site
	for _, c := range candidates {
		if len(sites) >= count {
			break
		}
		if tooClose(c.Coord, sites, minDist) {
			continue
		}
		sites = append(sites, c)
	}

	rng := rand.New(rand.NewSource(seed + 200))
	names := GenerateNames(rng, len(sites))
	for i := range sites {
		sites[i].Name = names[i]
	}
	return sites
}

// siteScore prefers water access, fertile land and varied surroundings.
func siteScore(m *Map, coord HexCoord, hex *Hex) float64 {
	score := 0.0
	switch hex.Terrain {
	case TerrainPlains:
		score += 3.0
	case TerrainCoast:
		score += 4.0
	case TerrainRiver:
		score += 3.5
	case TerrainForest:
		score += 1.5
	case TerrainDesert, TerrainSwamp, TerrainTundra:
		score += 0.5
	case TerrainMountain:
		score += 0.3
	default:
		return 0
	}

	kinds := make(map[Terrain]bool)
	water := false
	for _, nc := range coord.Neighbors() {
		nh := m.Get(nc)
		if nh == nil || nh.Terrain == TerrainOcean {
			continue
		}
		kinds[nh.Terrain] = true
		if nh.Terrain == TerrainRiver || nh.Terrain == TerrainCoast {
			water = true
		}
	}
	score += float64(len(kinds)) * 0.3
	if water {
		score += 0.5
	}
	return score + hex.Rainfall*0.2
}

func tooClose(coord HexCoord, existing []Site, minDist int) bool {
	for _, s := range existing {
		if Distance(coord, s.Coord) < minDist {
			return true
		}
	}
	return false
}

var (
	namePrefixes = []string{
		"Iron", "Green", "Ash", "Stone", "Mill", "Cross", "Black",
		"Silver", "Red", "White", "Dark", "Bright", "High", "Low",
		"Old", "New", "Far", "Deep", "Long", "Broad", "Gold", "Frost",
		"Storm", "Thorn", "Elm", "Oak", "Pine", "Copper", "River",
	}
	nameSuffixes = []string{
		"haven", "ford", "hollow", "wick", "bridge", "gate", "keep",
		"stead", "wood", "field", "dale", "crest", "vale", "port",
		"town", "bury", "marsh", "well", "brook", "cliff", "moor",
		"ridge", "watch", "fall", "rest", "point", "reach", "helm",
	}
)

// GenerateNames produces count distinct names from syllable tables.
func GenerateNames(rng *rand.Rand, count int) []string {
	used := make(map[string]bool)
	names := make([]string, 0, count)
	limit := len(namePrefixes) * len(nameSuffixes)
	for len(names) < count && len(used) < limit {
		name := namePrefixes[rng.Intn(len(namePrefixes))] + nameSuffixes[rng.Intn(len(nameSuffixes))]
		if !used[name] {
			used[name] = true
			names = append(names, name)
		}
	}
	return names
}
