package frontend

import "fmt"

// LTC6912 gain codes, one nibble per channel.  Both channels are set alike.
var AmpGains = []struct {
	Code int
	DB   float64
}{
	{0x00, -120},
	{0x11, 0},
	{0x22, 6},
	{0x33, 12},
	{0x44, 18.1},
	{0x55, 24.1},
	{0x66, 30.1},
	{0x77, 36.1},
}

// Amp is the programmable gain stage following the board under test
type Amp struct {
	bus Bus
}

// NewAmp returns an Amp on bus
func NewAmp(bus Bus) *Amp { return &Amp{bus: bus} }

// SetGainCode sends one gain byte
func (a *Amp) SetGainCode(code int) error {
	if code < 0 || code > 0xFF {
		return fmt.Errorf("amp gain code %#x does not fit a byte", code)
	}
	return a.bus.SPIWrite([]int{code})
}
