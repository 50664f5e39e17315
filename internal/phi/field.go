package phi

// ConjugateField is anything with an accumulating and a draining pressure,
// such as the supply and demand of one commodity.
type ConjugateField interface {
	ChargingPressure() float64
	DischargingPressure() float64
}

// NullPoint returns the absolute difference between the two pressures.
func NullPoint(f ConjugateField) float64 {
	cp := f.ChargingPressure()
	dp := f.DischargingPressure()
	if cp > dp {
		return cp - dp
	}
	return dp - cp
}

// HealthRatio returns 0..1 for how balanced the pair is. Any ratio inside
// [Φ⁻¹, Φ] is fully healthy; outside it health falls off linearly and
// reaches zero at a deviation of Φ³.
func HealthRatio(f ConjugateField) float64 {
	dp := f.DischargingPressure()
	if dp < Agnosis {
		dp = Agnosis
	}
	ratio := f.ChargingPressure() / dp
	if ratio >= Matter && ratio <= Being {
		return 1.0
	}

	deviation := ratio - 1.0
	if deviation < 0 {
		deviation = -deviation
	}
	health := 1.0 - (deviation / Totality)
	if health < 0 {
		return 0
	}
	return health
}
