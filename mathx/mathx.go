// Package mathx provides small numeric helpers shared by the drivers and the evaluator
package mathx

import "math"

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.001 for thousandth, and so on).
func Round(x, unit float64) float64 {
	return math.Round(x/unit) * unit
}
