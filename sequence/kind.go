package sequence

import (
	"fmt"
	"strings"
)

// Kind selects the measurement procedure a test runs
type Kind int

const (
	// KindBoardID identifies the board variant
	KindBoardID Kind = iota

	// KindNoise is the filtered output noise RMS with the stimulus off
	KindNoise

	// KindGain is the passband gain in dB
	KindGain

	// KindGainLow is the passband gain with the gain-low line asserted
	KindGainLow

	// KindBandwidth is the gain at mid band and its drop at both -6 dB points
	KindBandwidth

	// KindLimiterBandwidth is KindBandwidth through the limiter at high attenuation
	KindLimiterBandwidth

	// KindVCANoise is the output noise RMS at full VCA gain
	KindVCANoise

	// KindVCAGain is the gain with the VCA programmed to the test's gain
	KindVCAGain

	// KindVCAGainLow is KindVCAGain with the family's gain-low line asserted
	KindVCAGainLow

	// KindVCABandwidth is the gain at the family's three bandwidth frequencies
	KindVCABandwidth

	// KindADC reads back a converter with the VCA control at zero
	KindADC
)

var kindNames = map[Kind]string{
	KindBoardID:          "board-id",
	KindNoise:            "noise",
	KindGain:             "gain",
	KindGainLow:          "gain-low",
	KindBandwidth:        "bandwidth",
	KindLimiterBandwidth: "limiter-bandwidth",
	KindVCANoise:         "vca-noise",
	KindVCAGain:          "vca-gain",
	KindVCAGainLow:       "vca-gain-low",
	KindVCABandwidth:     "vca-bandwidth",
	KindADC:              "adc",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind is the inverse of String
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown test kind %q", s)
}

// MarshalText renders the kind name
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText reads a kind name
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// arity is the number of values the kind's metric carries; 0 for labels
func (k Kind) arity() int {
	switch k {
	case KindBoardID:
		return 0
	case KindBandwidth, KindLimiterBandwidth, KindVCABandwidth:
		return 3
	}
	return 1
}

func (k Kind) vector() bool { return k.arity() > 1 }
