// Package config loads the bench configuration from defaults, an optional
// YAML file, and AFETEST_ environment variables, in that order
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	yml "gopkg.in/yaml.v2"

	"github.com/hcitlab/afetest/frontend"
	"github.com/hcitlab/afetest/redpitaya"
	"github.com/hcitlab/afetest/sequence"
	"github.com/hcitlab/afetest/tolerance"
)

// EnvPrefix starts every environment override.  A double underscore
// separates sections, so AFETEST_INSTRUMENT__ADDR sets instrument.addr.
const EnvPrefix = "AFETEST_"

// FileName is the default config file
const FileName = "afetest.yml"

// Instrument is how to reach the Red Pitaya
type Instrument struct {
	// Addr is host:port of the SCPI server
	Addr string `koanf:"addr" yaml:"addr"`

	// Serial, if set, is a serial device used instead of Addr
	Serial string `koanf:"serial" yaml:"serial"`
	Baud   int    `koanf:"baud" yaml:"baud"`

	// Timeout bounds each command and reply
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`

	// PoolTimeout is how long an idle connection is kept
	PoolTimeout time.Duration `koanf:"pool_timeout" yaml:"pool_timeout"`

	// CommandRate limits commands per second, 0 for no limit
	CommandRate float64 `koanf:"command_rate" yaml:"command_rate"`

	// Handshake checks SYST:ERR? after every command
	Handshake bool `koanf:"handshake" yaml:"handshake"`

	// Samples per capture
	Samples int `koanf:"samples" yaml:"samples"`

	PollInterval time.Duration `koanf:"poll_interval" yaml:"poll_interval"`
	PollAttempts int           `koanf:"poll_attempts" yaml:"poll_attempts"`
}

// Suite picks the tests to run
type Suite struct {
	// Name is tiny or vca
	Name string `koanf:"name" yaml:"name"`

	// Family restricts the vca suite to ES or SS
	Family string `koanf:"family" yaml:"family"`

	// Rules overrides rules by test name, in rule syntax
	Rules map[string]string `koanf:"rules" yaml:"rules"`

	// Tests, if not empty, replaces the named suite
	Tests []sequence.DefinitionConfig `koanf:"tests" yaml:"tests"`
}

// Ledger is the results file
type Ledger struct {
	Path string `koanf:"path" yaml:"path"`
}

// Archive is the capture archive
type Archive struct {
	// Dir receives FITS captures; empty disables archiving
	Dir string `koanf:"dir" yaml:"dir"`
}

// Server is the HTTP surface
type Server struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// Config is the whole bench configuration
type Config struct {
	Instrument Instrument      `koanf:"instrument" yaml:"instrument"`
	Sequence   sequence.Params `koanf:"sequence" yaml:"sequence"`
	Suite      Suite           `koanf:"suite" yaml:"suite"`
	Ledger     Ledger          `koanf:"ledger" yaml:"ledger"`
	Archive    Archive         `koanf:"archive" yaml:"archive"`
	Server     Server          `koanf:"server" yaml:"server"`
}

// Default is the configuration with no file and no environment
func Default() Config {
	return Config{
		Instrument: Instrument{
			Addr:         "192.168.0.15:5000",
			Baud:         115200,
			Timeout:      3 * time.Second,
			PoolTimeout:  time.Minute,
			Samples:      redpitaya.BufferSize,
			PollInterval: redpitaya.DefaultPollInterval,
			PollAttempts: redpitaya.DefaultPollAttempts,
		},
		Sequence: sequence.DefaultParams(),
		Suite:    Suite{Name: "tiny", Rules: map[string]string{}},
		Ledger:   Ledger{Path: "results.csv"},
		Server:   Server{Addr: ":8000"},
	}
}

// Load layers the file at path (skipped if it does not exist) and the
// environment over the defaults
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, err
	}
	if path != "" {
		_, err := os.Stat(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, err
		default:
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("error loading config %s: %w", path, err)
			}
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, err
	}
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks what can be checked without hardware
func (c Config) Validate() error {
	if err := c.Sequence.Arm.Validate(); err != nil {
		return err
	}
	if c.Instrument.Addr == "" && c.Instrument.Serial == "" {
		return errors.New("instrument needs an addr or a serial device")
	}
	if c.Instrument.Samples < 1 || c.Instrument.Samples > redpitaya.BufferSize {
		return fmt.Errorf("instrument samples %d not in [1, %d]", c.Instrument.Samples, redpitaya.BufferSize)
	}
	if c.Sequence.SettleWindow > c.Instrument.Samples {
		return fmt.Errorf("settle window %d is longer than a capture of %d samples", c.Sequence.SettleWindow, c.Instrument.Samples)
	}
	_, err := c.Definitions()
	return err
}

// Definitions builds the suite with rule overrides applied
func (c Config) Definitions() ([]sequence.Definition, error) {
	var defs []sequence.Definition
	switch {
	case len(c.Suite.Tests) > 0:
		for _, tc := range c.Suite.Tests {
			d, err := tc.Definition()
			if err != nil {
				return nil, err
			}
			defs = append(defs, d)
		}
	case strings.EqualFold(c.Suite.Name, "vca") && c.Suite.Family != "":
		f, err := frontend.ParseFamily(strings.ToUpper(c.Suite.Family))
		if err != nil {
			return nil, err
		}
		defs = sequence.VCASuite(f)
	default:
		var err error
		if defs, err = sequence.Suite(c.Suite.Name); err != nil {
			return nil, err
		}
	}
	for name, src := range c.Suite.Rules {
		i := indexOf(defs, name)
		if i < 0 {
			return nil, fmt.Errorf("rule override for unknown test %q", name)
		}
		r, err := tolerance.Parse(src)
		if err != nil {
			return nil, err
		}
		defs[i].Rule = r
	}
	return defs, sequence.Validate(defs)
}

func indexOf(defs []sequence.Definition, name string) int {
	for i, d := range defs {
		if strings.EqualFold(d.Name, name) {
			return i
		}
	}
	return -1
}

// Write encodes c as YAML
func Write(w io.Writer, c Config) error {
	return yml.NewEncoder(w).Encode(c)
}
