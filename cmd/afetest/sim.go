package main

import (
	"math"
	"math/rand"

	"github.com/hcitlab/afetest/dsp"
	"github.com/hcitlab/afetest/frontend"
	"github.com/hcitlab/afetest/redpitaya"
	"github.com/hcitlab/afetest/sequence"
)

// MCP23008 GPIO register, holds the attenuator step once the latch drops
const attenuatorGPIO = 9

// boardSim is a preamplifier board fitted to a simulated fixture.  The main
// output has a band-pass response with exactly 6 dB of droop at its edges,
// the limiter output likewise against its own edges.  VCA outputs only
// carry noise.
type boardSim struct {
	Board sequence.Board

	GainDB    float64
	GainLowDB float64
	LimiterDB float64

	// losses between the generator and the board, as on the real fixture
	PathLossDB    float64
	LimiterLossDB float64

	// Noise is the standard deviation of the output noise in volts
	Noise float64
}

func defaultSim() boardSim {
	b, _ := sequence.BoardByName("40")
	p := sequence.DefaultParams()
	return boardSim{
		Board:         b,
		GainDB:        60,
		GainLowDB:     42,
		LimiterDB:     100,
		PathLossDB:    p.PathLoss,
		LimiterLossDB: p.LimiterLoss,
		Noise:         0.03,
	}
}

// response is the magnitude of a band-pass centered on mid, which falls to
// one half at lo and hi
func response(f, mid, lo, hi float64) float64 {
	x := math.Log(f / mid)
	w := math.Log(hi / mid)
	if x < 0 {
		w = math.Log(mid / lo)
	}
	return 1 / (1 + (x/w)*(x/w))
}

// level is the RMS output of the board for the fixture state st
func (s boardSim) level(st redpitaya.Stimulus) float64 {
	if !st.GenOn || !st.Pins[redpitaya.PreampPower] {
		return 0
	}
	path, ok := frontend.PathOf(st.I2CByte[frontend.MuxAddr])
	if !ok {
		return 0
	}
	att := st.I2CReg[[2]int{frontend.AttenuatorAddr, attenuatorGPIO}]
	vin := st.GenAmpl / math.Sqrt2 / dsp.DBRatio(s.PathLossDB) / dsp.DBRatio(float64(att))
	b := s.Board
	switch path {
	case "ES_MAIN":
		g := s.GainDB
		if st.Pins[redpitaya.SSGainLow] {
			g = s.GainLowDB
		}
		return vin * dsp.DBRatio(g) * response(st.GenFreq, b.Mid, b.LowEdge, b.HighEdge)
	case "ES_LIM":
		return vin / dsp.DBRatio(s.LimiterLossDB) * dsp.DBRatio(s.LimiterDB) *
			response(st.GenFreq, b.Mid, b.LimLowEdge, b.LimHighEdge)
	}
	return 0
}

// simulatedBoard is a Mock signal source for s.  A driven output alternates
// sign every sample so any window of it has the modeled RMS, an idle one is
// Gaussian noise seeded by the capture number.
func simulatedBoard(s boardSim) func(redpitaya.Stimulus, int) []float64 {
	return func(st redpitaya.Stimulus, n int) []float64 {
		out := make([]float64, n)
		if a := s.level(st); a > 0 {
			for i := range out {
				out[i] = a
				if i%2 == 1 {
					out[i] = -a
				}
			}
			return out
		}
		rng := rand.New(rand.NewSource(int64(st.Capture)))
		for i := range out {
			out[i] = s.Noise * rng.NormFloat64()
		}
		return out
	}
}
