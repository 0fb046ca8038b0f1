package sequence

import (
	"fmt"
	"strings"

	"github.com/hcitlab/afetest/frontend"
	"github.com/hcitlab/afetest/tolerance"
)

// Definition is one sub-test of a suite
type Definition struct {
	// Name is unique within a suite and is the ledger column
	Name string

	Kind Kind

	// Path is the mux path the measurement reads
	Path string

	// Family is the board family of VCA tests
	Family frontend.Family

	// GainDB is the programmed VCA gain
	GainDB float64

	// ADC is the converter number of ADC tests
	ADC int

	// Rule judges the metric; nil is informational
	Rule tolerance.Rule
}

// DefinitionConfig is the file form of a Definition
type DefinitionConfig struct {
	Name   string  `koanf:"name" yaml:"name" json:"name"`
	Kind   string  `koanf:"kind" yaml:"kind" json:"kind"`
	Path   string  `koanf:"path" yaml:"path" json:"path"`
	Family string  `koanf:"family" yaml:"family" json:"family"`
	GainDB float64 `koanf:"gain_db" yaml:"gain_db" json:"gainDB"`
	ADC    int     `koanf:"adc" yaml:"adc" json:"adc"`
	Rule   string  `koanf:"rule" yaml:"rule" json:"rule"`
}

// Definition parses the kind, family, and rule
func (c DefinitionConfig) Definition() (Definition, error) {
	k, err := ParseKind(c.Kind)
	if err != nil {
		return Definition{}, fmt.Errorf("%s: %w", c.Name, err)
	}
	r, err := tolerance.Parse(c.Rule)
	if err != nil {
		return Definition{}, fmt.Errorf("%s: %w", c.Name, err)
	}
	d := Definition{Name: c.Name, Kind: k, Path: c.Path, GainDB: c.GainDB, ADC: c.ADC, Rule: r}
	if c.Family != "" {
		if d.Family, err = frontend.ParseFamily(c.Family); err != nil {
			return Definition{}, fmt.Errorf("%s: %w", c.Name, err)
		}
	}
	return d, nil
}

// Config renders d in file form
func (d Definition) Config() DefinitionConfig {
	c := DefinitionConfig{Name: d.Name, Kind: d.Kind.String(), Path: d.Path, Family: string(d.Family), GainDB: d.GainDB, ADC: d.ADC}
	if d.Rule != nil {
		c.Rule = d.Rule.String()
	}
	return c
}

// Tiny is the preamplifier suite: identification, then noise, gain, and
// bandwidth of the main and limiter outputs
func Tiny() []Definition {
	return []Definition{
		{Name: "BRD_ID", Kind: KindBoardID, Path: "ES_MAIN", Rule: tolerance.Informational{}},
		{Name: "MAIN_NOISE", Kind: KindNoise, Path: "ES_MAIN", Rule: tolerance.LessThan{Max: 0.25}},
		{Name: "MAIN_GAIN_60", Kind: KindGain, Path: "ES_MAIN", Rule: tolerance.WithinBand{Width: 3, Center: 60}},
		{Name: "MAIN_GAIN_LOW", Kind: KindGainLow, Path: "ES_MAIN", Rule: tolerance.WithinBand{Width: 1.5, Center: 42}},
		{Name: "MAIN_BW", Kind: KindBandwidth, Path: "ES_MAIN", Rule: tolerance.BandVector{Width: 1, Centers: []float64{60, 6, 6}}},
		{Name: "LIM_NOISE", Kind: KindNoise, Path: "ES_LIM", Rule: tolerance.LessThan{Max: 0.35}},
		{Name: "LIM_BW", Kind: KindLimiterBandwidth, Path: "ES_LIM", Rule: tolerance.BandVector{Width: 1, Centers: []float64{100, 6, 6}}},
	}
}

// vcaOutput is the sub-tests of one VCA board output
func vcaOutput(f frontend.Family, path string) []Definition {
	return []Definition{
		{Name: path + "_NOISE", Kind: KindVCANoise, Path: path, Family: f, Rule: tolerance.WithinBand{Width: 0.04, Center: 0.14}},
		{Name: path + "_GAIN_40", Kind: KindVCAGain, Path: path, Family: f, GainDB: 40, Rule: tolerance.WithinBand{Width: 1.75, Center: 40}},
		{Name: path + "_GAIN_60", Kind: KindVCAGain, Path: path, Family: f, GainDB: 60, Rule: tolerance.WithinBand{Width: 1.75, Center: 60}},
		{Name: path + "_GAIN_LOW", Kind: KindVCAGainLow, Path: path, Family: f, GainDB: 60, Rule: tolerance.GreaterThan{Min: 50}},
		{Name: path + "_BW", Kind: KindVCABandwidth, Path: path, Family: f, GainDB: 60, Rule: tolerance.BandVector{Width: 1.75, Centers: []float64{54, 54, 60}}},
	}
}

func adcTest(n int) Definition {
	return Definition{
		Name:   fmt.Sprintf("SS_ADC%d", n),
		Kind:   KindADC,
		Family: frontend.SS,
		ADC:    n,
		Rule:   tolerance.PercentDeviation{MaxPercent: 4, Reference: 1.5},
	}
}

// VCASuite is the voltage controlled amplifier suite.  With a family, only that
// family's tests are returned.
func VCASuite(family frontend.Family) []Definition {
	var all []Definition
	all = append(all, vcaOutput(frontend.ES, "ES_MAIN")...)
	all = append(all, vcaOutput(frontend.SS, "SS_AOUT1")...)
	all = append(all, adcTest(1))
	all = append(all, vcaOutput(frontend.SS, "SS_AOUT2")...)
	all = append(all, adcTest(2))
	if family == "" {
		return all
	}
	var out []Definition
	for _, d := range all {
		if d.Family == family {
			out = append(out, d)
		}
	}
	return out
}

// Suite returns a built-in suite by name: "tiny", "vca", "vca-es", or "vca-ss"
func Suite(name string) ([]Definition, error) {
	switch strings.ToLower(name) {
	case "tiny":
		return Tiny(), nil
	case "vca":
		return VCASuite(""), nil
	case "vca-es":
		return VCASuite(frontend.ES), nil
	case "vca-ss":
		return VCASuite(frontend.SS), nil
	}
	return nil, fmt.Errorf("unknown suite %q", name)
}

// Validate checks that names are unique and non-empty and that each rule
// matches the shape of its kind's metric
func Validate(defs []Definition) error {
	if len(defs) == 0 {
		return fmt.Errorf("empty suite")
	}
	seen := make(map[string]bool, len(defs))
	for i, d := range defs {
		if d.Name == "" {
			return fmt.Errorf("test %d has no name", i)
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate test name %q", d.Name)
		}
		seen[d.Name] = true
		if _, ok := kindNames[d.Kind]; !ok {
			return fmt.Errorf("%s: unknown kind %d", d.Name, int(d.Kind))
		}
		if d.Rule == nil || d.Rule.Arity() == 0 {
			continue
		}
		if d.Kind.arity() == 0 {
			return fmt.Errorf("%s: %w: %s produces a label, rule %q is numeric", d.Name, tolerance.ErrArity, d.Kind, d.Rule)
		}
		if d.Rule.IsVector() != d.Kind.vector() || d.Rule.Arity() != d.Kind.arity() {
			return fmt.Errorf("%s: %w: %s produces %d values, rule %q judges %d",
				d.Name, tolerance.ErrArity, d.Kind, d.Kind.arity(), d.Rule, d.Rule.Arity())
		}
	}
	return nil
}
