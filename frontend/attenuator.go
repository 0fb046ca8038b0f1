package frontend

import (
	"fmt"

	"github.com/hcitlab/afetest/util"
)

// DAT-31R5A step attenuator, driven in parallel mode from an MCP23008 port expander
const (
	AttenuatorAddr = 0x20

	regIODIR = 0
	regGPIO  = 9

	latchBit = 6
	maxStep  = 63
)

// Attenuator sets the stimulus attenuation ahead of the board under test
type Attenuator struct {
	bus      Bus
	prepared bool
}

// NewAttenuator returns an Attenuator on bus
func NewAttenuator(bus Bus) *Attenuator { return &Attenuator{bus: bus} }

// SetAttenuation programs the 6-bit step value and strobes the latch.
// Values are the raw step codes used by the bench calibration.
func (a *Attenuator) SetAttenuation(value int) error {
	if value < 0 || value > maxStep {
		return fmt.Errorf("attenuation step %d outside [0, %d]", value, maxStep)
	}
	if !a.prepared {
		// all expander pins as outputs
		if err := a.bus.I2CWriteRegister(AttenuatorAddr, regIODIR, 0); err != nil {
			return err
		}
		a.prepared = true
	}
	v := byte(value)
	for _, b := range []byte{v, util.SetBit(v, latchBit, true), v} {
		if err := a.bus.I2CWriteRegister(AttenuatorAddr, regGPIO, int(b)); err != nil {
			a.prepared = false
			return err
		}
	}
	return nil
}
