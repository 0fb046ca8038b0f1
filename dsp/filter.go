package dsp

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Section is one second-order (biquad) stage, normalized so a0 == 1.
// First-order stages carry B2 == A2 == 0.
type Section struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// ButterLowPass designs a digital Butterworth low-pass filter of the given
// order by bilinear transform of the analog prototype, pre-warped so the
// -3 dB point lands on cutoff.  The result is a cascade of sections.
func ButterLowPass(cutoff, fs float64, order int) ([]Section, error) {
	if order < 1 {
		return nil, fmt.Errorf("filter order must be >= 1, got %d", order)
	}
	if cutoff <= 0 || cutoff >= fs/2 {
		return nil, fmt.Errorf("cutoff %g Hz must lie in (0, %g) for sample rate %g", cutoff, fs/2, fs)
	}
	k := 2 * fs
	wc := k * math.Tan(math.Pi*cutoff/fs)
	w2 := wc * wc

	var secs []Section
	for i := 0; i < order/2; i++ {
		// left half-plane prototype pole, one per conjugate pair
		theta := math.Pi * float64(2*i+order+1) / float64(2*order)
		p := cmplx.Exp(complex(0, theta))
		a1 := -2 * real(p) * wc
		d0 := k*k + a1*k + w2
		g := w2 / d0
		secs = append(secs, Section{
			B0: g, B1: 2 * g, B2: g,
			A1: 2 * (w2 - k*k) / d0,
			A2: (k*k - a1*k + w2) / d0,
		})
	}
	if order%2 == 1 {
		d0 := k + wc
		g := wc / d0
		secs = append(secs, Section{B0: g, B1: g, A1: (wc - k) / d0})
	}
	return secs, nil
}

// Filter runs x through the cascade from a zero initial state, single pass
// and causal.  x is not modified.
func Filter(secs []Section, x []float64) []float64 {
	y := make([]float64, len(x))
	copy(y, x)
	for _, s := range secs {
		var z1, z2 float64
		for i, in := range y {
			out := s.B0*in + z1
			z1 = s.B1*in - s.A1*out + z2
			z2 = s.B2*in - s.A2*out
			y[i] = out
		}
	}
	return y
}

// LowPass filters x with a Butterworth low-pass of the given order
func LowPass(x []float64, cutoff, fs float64, order int) ([]float64, error) {
	secs, err := ButterLowPass(cutoff, fs, order)
	if err != nil {
		return nil, err
	}
	return Filter(secs, x), nil
}
