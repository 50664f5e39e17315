package economy

// TicksPerSeason is the length of one season in ticks.
const TicksPerSeason = 90

// Season is the time of year.
type Season uint8

const (
	Spring Season = iota
	Summer
	Autumn
	Winter
)

// SeasonOf returns the season a tick falls in.
func SeasonOf(tick uint64) Season {
	return Season((tick / TicksPerSeason) % 4)
}

func (s Season) String() string {
	switch s {
	case Spring:
		return "Spring"
	case Summer:
		return "Summer"
	case Autumn:
		return "Autumn"
	case Winter:
		return "Winter"
	default:
		return "Unknown"
	}
}

// SeasonalModifier returns the price modifier for a commodity in a season.
func SeasonalModifier(s Season, c Commodity) float64 {
	// Food is dear in winter and cheap after the harvest; wood is burned
	// through the cold months.
	switch s {
	case Winter:
		switch c {
		case Food:
			return 1.4
		case Wood:
			return 1.3
		default:
			return 1.05
		}
	case Spring:
		if c == Food {
			return 1.15
		}
		return 1.0
	case Summer:
		switch c {
		case Food:
			return 0.9
		case Luxury:
			return 1.1
		default:
			return 1.0
		}
	case Autumn:
		switch c {
		case Food:
			return 0.75
		case Wood:
			return 0.9
		default:
			return 1.0
		}
	}
	return 1.0
}
