package frontend

import (
	"fmt"
	"sort"
)

// LTC1380 analog multiplexer
const (
	MuxAddr   = 0x48
	muxEnable = 8
)

// mux inputs by fixture path name
var muxPaths = map[string]int{
	"ES_VGAIN": 0,
	"ES_LIM":   1,
	"ES_MAIN":  2,
	"SS_VGAIN": 3,
	"SS_AOUT1": 4,
	"SS_AOUT2": 5,
	"S6":       6,
	"S7":       7,
}

// Paths lists the path names SetPath accepts
func Paths() []string {
	out := make([]string, 0, len(muxPaths))
	for k := range muxPaths {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Mux routes one board output to the acquisition input
type Mux struct {
	bus Bus
}

// NewMux returns a Mux on bus
func NewMux(bus Bus) *Mux { return &Mux{bus: bus} }

// SetPath enables the named input
func (m *Mux) SetPath(name string) error {
	ch, ok := muxPaths[name]
	if !ok {
		return fmt.Errorf("unknown mux path %q", name)
	}
	return m.bus.I2CWriteByte(MuxAddr, ch|muxEnable)
}

// Off disconnects every input
func (m *Mux) Off() error {
	return m.bus.I2CWriteByte(MuxAddr, 0)
}

// PathOf decodes a mux control byte into the enabled path name.  ok is false
// when the mux is disabled.
func PathOf(control int) (name string, ok bool) {
	if control&muxEnable == 0 {
		return "", false
	}
	for k, v := range muxPaths {
		if v == control&7 {
			return k, true
		}
	}
	return "", false
}
