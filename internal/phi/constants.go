// Package phi holds the golden-ratio tolerances used to judge whether a
// market is in balance.
package phi

import "math"

// Phi is the golden ratio.
const Phi = 1.6180339887498948

var (
	// Agnosis (Φ⁻³) is the floor applied to near-zero pressures.
	Agnosis = math.Pow(Phi, -3) // 0.23606...

	// Matter (Φ⁻¹) is the lower edge of the healthy band.
	Matter = math.Pow(Phi, -1) // 0.61803...

	// Being (Φ) is the upper edge of the healthy band.
	Being = Phi

	// Totality (Φ³) is the deviation at which health reaches zero.
	Totality = math.Pow(Phi, 3) // 4.23606...
)
