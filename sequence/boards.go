package sequence

import (
	"errors"
	"fmt"
	"math"

	"github.com/hcitlab/afetest/dsp"
)

// ErrNoBoard is returned when a test needs the board variant before it is
// known, or when identification sees no response at all
var ErrNoBoard = errors.New("board variant not identified")

// Board is one hardware revision of the preamplifier and the settings
// every later test in a run uses for it
type Board struct {
	Index int
	Name  string

	// IDFreq is the stimulus frequency this variant responds to most
	IDFreq float64

	NoiseGainCode int
	NoiseCutoff   float64
	GainCode      int

	// Mid is the passband center; LowEdge and HighEdge the -6 dB points
	Mid, LowEdge, HighEdge float64

	// limiter -3 dB points
	LimLowEdge, LimHighEdge float64
}

// Boards is the identification table, in candidate order
var Boards = []Board{
	{Index: 0, Name: "18", IDFreq: 26000, NoiseGainCode: 0x66, NoiseCutoff: 80000, GainCode: 0x26,
		Mid: 26000, LowEdge: 11600, HighEdge: 52200, LimLowEdge: 10850, LimHighEdge: 57900},
	{Index: 1, Name: "40", IDFreq: 60000, NoiseGainCode: 0x66, NoiseCutoff: 130000, GainCode: 0x26,
		Mid: 60000, LowEdge: 26800, HighEdge: 103500, LimLowEdge: 25550, LimHighEdge: 124000},
	{Index: 2, Name: "HS", IDFreq: 150000, NoiseGainCode: 0x55, NoiseCutoff: 300000, GainCode: 0x26,
		Mid: 150000, LowEdge: 58700, HighEdge: 209700, LimLowEdge: 56850, LimHighEdge: 290300},
}

// BoardByName looks a variant up in Boards
func BoardByName(name string) (Board, error) {
	for _, b := range Boards {
		if b.Name == name {
			return b, nil
		}
	}
	return Board{}, fmt.Errorf("unknown board variant %q", name)
}

// Identify picks the candidate with the largest response.  responses[i]
// belongs to boards[i]; NaN responses are skipped.
func Identify(responses []float64, boards []Board) (Board, error) {
	if len(responses) != len(boards) {
		return Board{}, fmt.Errorf("%d responses for %d board candidates", len(responses), len(boards))
	}
	i := dsp.Argmax(responses)
	if i < 0 {
		return Board{}, fmt.Errorf("%w: no usable response", ErrNoBoard)
	}
	return boards[i], nil
}

// margin is the relative gap between the best and runner-up responses
func margin(responses []float64) float64 {
	best, second := math.Inf(-1), math.Inf(-1)
	for _, v := range responses {
		switch {
		case math.IsNaN(v):
		case v > best:
			best, second = v, best
		case v > second:
			second = v
		}
	}
	if best <= 0 || math.IsInf(second, -1) {
		return math.Inf(1)
	}
	return (best - second) / best
}
