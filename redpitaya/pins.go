package redpitaya

import (
	"fmt"
)

// Pin is a digital line of the extension connector wired to the test fixture
type Pin int

// fixture lines
const (
	// PreampPower switches the board under test's supply
	PreampPower Pin = 0
	// BoardSelect routes the SPI bus to the ES (low) or SS (high) board
	BoardSelect Pin = 1
	// ConverterSelect routes the SPI bus to the DAC (low) or ADC (high)
	ConverterSelect Pin = 2
	// ADCSelect picks ADC1 (low) or ADC2 (high)
	ADCSelect Pin = 3
	// SSGainLow engages the SS gain-low switch
	SSGainLow Pin = 4
	// ESGainLow engages the ES gain-low switch
	ESGainLow Pin = 5
)

var pinNames = map[Pin]string{
	PreampPower:     "preamp-power",
	BoardSelect:     "board-select",
	ConverterSelect: "converter-select",
	ADCSelect:       "adc-select",
	SSGainLow:       "ss-gain-low",
	ESGainLow:       "es-gain-low",
}

func (p Pin) String() string {
	if s, ok := pinNames[p]; ok {
		return s
	}
	return fmt.Sprintf("DIO%d_N", int(p))
}

// SetPin drives a fixture line
func (c *Client) SetPin(p Pin, high bool) error {
	if p < 0 || p > 7 {
		return fmt.Errorf("no such digital line DIO%d_N", int(p))
	}
	v := 0
	if high {
		v = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(fmt.Sprintf("DIG:PIN DIO%d_N,%d", int(p), v))
}

// PreampOn powers the board under test on or off
func (c *Client) PreampOn(on bool) error { return c.SetPin(PreampPower, on) }

// Safe turns the generator output and the board supply off.  Both are
// attempted even if the first fails.
func (c *Client) Safe() error {
	genErr := c.GeneratorOutput(false)
	pwrErr := c.PreampOn(false)
	if genErr != nil {
		return fmt.Errorf("generator off: %w", genErr)
	}
	if pwrErr != nil {
		return fmt.Errorf("preamp power off: %w", pwrErr)
	}
	return nil
}
