package sequence

import (
	"context"

	"github.com/hcitlab/afetest/frontend"
	"github.com/hcitlab/afetest/redpitaya"
)

// Acquirer performs captures
type Acquirer interface {
	Arm(cfg redpitaya.ArmConfig) error
	CaptureNow(ctx context.Context) (redpitaya.SampleBuffer, error)
	CaptureOnEdge(ctx context.Context) (redpitaya.SampleBuffer, error)
	WaitForSettledLevel(ctx context.Context, threshold float64, window, maxAttempts int) (redpitaya.SampleBuffer, error)
}

// Generator drives the stimulus
type Generator interface {
	SetSine(freq, ampl float64) error
	GeneratorOutput(on bool) error
}

// Lines drives the fixture's digital lines
type Lines interface {
	SetPin(p redpitaya.Pin, high bool) error
}

// Safer turns the stimulus and the board supply off
type Safer interface {
	Safe() error
}

// PathSelector routes a named board output to the acquisition input
type PathSelector interface {
	SetPath(name string) error
}

// AttenuationSetter sets the stimulus attenuator
type AttenuationSetter interface {
	SetAttenuation(value int) error
}

// GainCoder programs a gain register
type GainCoder interface {
	SetGainCode(code int) error
}

// VCA is a DAC-controlled gain stage
type VCA interface {
	GainCoder
	Init() error
	SetGainDB(gain float64) error
}

// RegisterReader reads a converter register
type RegisterReader interface {
	ReadRegister() (int, error)
}

// Archiver keeps raw captures
type Archiver interface {
	Store(info CaptureInfo, buf redpitaya.SampleBuffer) error
}

// CaptureInfo identifies an archived capture
type CaptureInfo struct {
	RunID string
	Index int
	Test  string
	Board string
	Seq   int
}

// Bench is every collaborator the procedures drive.  Fields a suite does
// not use may be nil.
type Bench struct {
	Acq   Acquirer
	Gen   Generator
	Lines Lines
	Safe  Safer
	Mux   PathSelector
	Att   AttenuationSetter
	Amp   GainCoder
	VCAs  map[frontend.Family]VCA
	ADCs  map[int]RegisterReader

	// Archive, if not nil, receives every capture a test makes
	Archive Archiver
}

// NewBench wires the fixture chips onto an instrument client
func NewBench(c *redpitaya.Client) Bench {
	b := Bench{
		Acq:   c,
		Gen:   c,
		Lines: c,
		Safe:  c,
		Mux:   frontend.NewMux(c),
		Att:   frontend.NewAttenuator(c),
		Amp:   frontend.NewAmp(c),
		VCAs: map[frontend.Family]VCA{
			frontend.ES: frontend.NewVCA(c, frontend.ES),
			frontend.SS: frontend.NewVCA(c, frontend.SS),
		},
		ADCs: map[int]RegisterReader{},
	}
	for _, n := range []int{1, 2} {
		adc, _ := frontend.NewADC(c, n)
		b.ADCs[n] = adc
	}
	return b
}
