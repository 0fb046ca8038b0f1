package redpitaya

import (
	"fmt"
	"strconv"
	"strings"
)

// Waveform is a generator function name
type Waveform string

// waveforms understood by the generator
const (
	Sine     Waveform = "SINE"
	Square   Waveform = "SQUARE"
	Triangle Waveform = "TRIANGLE"
)

// SetGenerator resets output 1 and programs it with wave at freq Hz and
// ampl volts, enabling the output and firing its internal trigger
func (c *Client) SetGenerator(wave Waveform, freq, ampl float64) error {
	if freq <= 0 {
		return fmt.Errorf("generator frequency must be positive, got %g", freq)
	}
	if ampl < 0 || ampl > 1 {
		return fmt.Errorf("generator amplitude %g V outside [0, 1]", ampl)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(
		"GEN:RST",
		"SOUR1:FUNC "+strings.ToUpper(string(wave)),
		"SOUR1:FREQ:FIX "+strconv.FormatFloat(freq, 'f', -1, 64),
		"SOUR1:VOLT "+strconv.FormatFloat(ampl, 'f', -1, 64),
		"OUTPUT1:STATE ON",
		"SOUR1:TRIG:INT",
	)
}

// SetSine is SetGenerator with a sine wave
func (c *Client) SetSine(freq, ampl float64) error {
	return c.SetGenerator(Sine, freq, ampl)
}

// GeneratorOutput switches the generator outputs on or off
func (c *Client) GeneratorOutput(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write("OUTPUT:STATE " + onOff(on))
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
