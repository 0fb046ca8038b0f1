// Package frontend drives the fixture chips that sit between the instrument
// and the board under test.  Every device takes the bus it talks over at
// construction; none of them hold process-wide state.
package frontend

import (
	"fmt"

	"github.com/hcitlab/afetest/redpitaya"
)

// Bus is the register-level access the fixture chips need.
// *redpitaya.Client satisfies it.
type Bus interface {
	I2CWriteRegister(addr, reg, value int) error
	I2CReadRegister(addr, reg int) (int, error)
	I2CWriteByte(addr, value int) error
	SPIWrite(data []int) error
	SPIWriteTo(r redpitaya.SPIRoute, data []int) error
	SPIReadFrom(r redpitaya.SPIRoute, n int) ([]int, error)
}

// Family is a board family on the fixture
type Family string

// board families
const (
	ES Family = "ES"
	SS Family = "SS"
)

// ParseFamily is case sensitive, as names appear in test names
func ParseFamily(s string) (Family, error) {
	switch Family(s) {
	case ES, SS:
		return Family(s), nil
	}
	return "", fmt.Errorf("unknown board family %q", s)
}

func (f Family) dacRoute() redpitaya.SPIRoute {
	if f == SS {
		return redpitaya.RouteSSDAC
	}
	return redpitaya.RouteESDAC
}
