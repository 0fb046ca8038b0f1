package frontend

import (
	"fmt"
	"math"

	"github.com/hcitlab/afetest/util"
)

// DAC70501 registers, pre-shifted into the command byte of a 24 bit frame
const (
	RegDevID   = 1 << 16
	RegSync    = 2 << 16
	RegConfig  = 3 << 16
	RegGain    = 4 << 16
	RegTrigger = 5 << 16
	RegStatus  = 7 << 16
	RegData    = 8 << 16

	softReset = 0x0A
	refDiv2   = 1
	bufGain2  = 1

	// DACWidth is full scale of the 14 bit DAC
	DACWidth = 0x3FFF
)

// DAC is the DAC70501 that sets a VCA board's gain control voltage
type DAC struct {
	bus    Bus
	family Family
}

// NewDAC returns the DAC on the family's board
func NewDAC(bus Bus, f Family) *DAC { return &DAC{bus: bus, family: f} }

// Send writes value to reg
func (d *DAC) Send(reg, value int) error {
	frame := uint32(reg | (value & 0xFFFF))
	return d.bus.SPIWriteTo(d.family.dacRoute(), util.BytesBigEndian(frame, 3))
}

// Init soft-resets the DAC and selects reference divide-by-2 with output gain 2
func (d *DAC) Init() error {
	if err := d.Send(RegTrigger, softReset); err != nil {
		return fmt.Errorf("%s DAC reset: %w", d.family, err)
	}
	if err := d.Send(RegGain, refDiv2<<8|bufGain2); err != nil {
		return fmt.Errorf("%s DAC gain: %w", d.family, err)
	}
	return nil
}

// SetGainCode writes the data register.  code is left-aligned, as the
// 14 bit value shifted up by two.
func (d *DAC) SetGainCode(code int) error {
	if code < 0 || code > 0xFFFF {
		return fmt.Errorf("DAC code %#x does not fit 16 bits", code)
	}
	return d.Send(RegData, code)
}

// VCA transfer constants: the control voltage divider and the DAC reference
var (
	vcaCoeff = DACWidth * (1.568 + 1.18) / 1.18 / 2.5

	// GainShift is the gain in dB at zero control voltage, per family
	GainShift = map[Family]float64{
		ES: 1.3767967,
		SS: 2.9319898,
	}
)

// VCAGainCode returns the left-aligned DAC code giving gain dB on the family's VCA
func VCAGainCode(gain float64, f Family) int {
	v := vcaCoeff * (gain - GainShift[f]) / 80
	code := int(math.Trunc(v))
	if code > DACWidth {
		code = DACWidth
	}
	return code << 2
}

// VCA is a voltage controlled gain stage set through its DAC
type VCA struct {
	*DAC
}

// NewVCA returns the VCA on the family's board
func NewVCA(bus Bus, f Family) *VCA { return &VCA{DAC: NewDAC(bus, f)} }

// Family is the board the VCA is on
func (v *VCA) Family() Family { return v.family }

// SetGainDB programs gain in decibels
func (v *VCA) SetGainDB(gain float64) error {
	code := VCAGainCode(gain, v.family)
	if code < 0 {
		return fmt.Errorf("gain %.2f dB below the %s VCA range", gain, v.family)
	}
	return v.SetGainCode(code)
}

// MaxGainCode is the left-aligned full scale code
const MaxGainCode = DACWidth << 2
