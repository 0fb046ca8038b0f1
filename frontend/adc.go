package frontend

import (
	"fmt"

	"github.com/hcitlab/afetest/redpitaya"
)

// ADC reference and resolution
const (
	ADCRef   = 3.0
	ADCWidth = 0x3FFF
)

// ADC is one monitor converter on the SS board
type ADC struct {
	bus   Bus
	route redpitaya.SPIRoute
}

// NewADC returns ADC 1 or 2
func NewADC(bus Bus, n int) (*ADC, error) {
	switch n {
	case 1:
		return &ADC{bus: bus, route: redpitaya.RouteSSADC1}, nil
	case 2:
		return &ADC{bus: bus, route: redpitaya.RouteSSADC2}, nil
	}
	return nil, fmt.Errorf("no ADC %d", n)
}

// ReadRegister clocks a conversion out and returns the code
func (a *ADC) ReadRegister() (int, error) {
	b, err := a.bus.SPIReadFrom(a.route, 3)
	if err != nil {
		return 0, err
	}
	return (b[0]<<8 | b[1]) >> 1, nil
}

// Volts converts a code to volts
func Volts(code int) float64 {
	return float64(code) * ADCRef / ADCWidth
}
