// Package dsp holds the stateless numeric routines used to reduce captured
// waveforms to metrics: RMS, decibel conversions, tolerance width checks,
// percent change, divider correction and a Butterworth low-pass filter.
package dsp

import (
	"math"
)

// Front-end output divider, R1 over R2, ahead of the acquisition input
const (
	DividerR1 = 6200.
	DividerR2 = 2700.
)

// RMS returns the root-mean-square of x.  The RMS of no samples is NaN.
func RMS(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	var acc float64
	for _, v := range x {
		acc += v * v
	}
	return math.Sqrt(acc / float64(len(x)))
}

// RatioDB returns 20*log10(v2/v1), the level of v2 relative to v1 in decibels
func RatioDB(v1, v2 float64) float64 {
	return 20 * math.Log10(v2/v1)
}

// DBRatio converts decibels to a voltage ratio
func DBRatio(db float64) float64 {
	return math.Pow(10, db/20)
}

// DivDB converts a voltage ratio to decibels
func DivDB(div float64) float64 {
	return 20 * math.Log10(div)
}

// PercentChange returns |value-ref| / |ref| * 100.
// A zero reference is an infinite change.
func PercentChange(value, ref float64) float64 {
	if ref == 0 {
		return math.Inf(1)
	}
	return math.Abs(value-ref) / math.Abs(ref) * 100
}

// CheckWidth reports whether v lies outside [center-width, center+width].
// The bounds themselves are inside.  NaN is always outside.
func CheckWidth(width, center, v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	return v < center-width || v > center+width
}

// VoltageDividerPre undoes the output divider, returning the voltage
// present ahead of it for each sample.  x is not modified.
func VoltageDividerPre(x []float64) []float64 {
	k := (DividerR1 + DividerR2) / DividerR2
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v * k
	}
	return out
}

// Argmax returns the index of the largest element of x, the first on ties,
// or -1 for an empty slice
func Argmax(x []float64) int {
	idx := -1
	best := math.Inf(-1)
	for i, v := range x {
		if v > best || idx == -1 {
			if math.IsNaN(v) {
				continue
			}
			best = v
			idx = i
		}
	}
	return idx
}
