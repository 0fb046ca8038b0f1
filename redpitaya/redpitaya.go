/*Package redpitaya talks to a Red Pitaya style instrument over its SCPI
server.  The Client owns the acquisition handshake (arm, trigger wait,
buffer-fill wait, fetch, stop), the signal generator, the digital pins that
steer the test fixture, and the I2C and SPI passthrough used by the
front-end chips.

All methods block.  A Client serializes its own exchanges but a capture is
only meaningful when nothing else reconfigures the fixture while it runs,
so callers should drive one Client from one goroutine.
*/
package redpitaya

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hcitlab/afetest/metrics"
	"github.com/hcitlab/afetest/scpi"
)

const (
	// SampleClock is the ADC clock in Hz
	SampleClock = 125e6

	// BufferSize is the number of samples in one acquisition buffer
	BufferSize = 16384

	// DefaultPollInterval is the sleep between trigger and fill status queries
	DefaultPollInterval = time.Millisecond

	// DefaultPollAttempts bounds each trigger and fill wait
	DefaultPollAttempts = 2000

	// DefaultSettleAttempts is used when WaitForSettledLevel is given maxAttempts <= 0
	DefaultSettleAttempts = 10

	triggered = "TD"
	filled    = "1"
)

var (
	// ErrNotArmed is returned by a capture requested before Arm
	ErrNotArmed = errors.New("acquisition not armed")

	// ErrTriggerTimeout is returned when the trigger status never reports triggered
	ErrTriggerTimeout = errors.New("trigger wait timed out")

	// ErrFillTimeout is returned when the buffer never reports full
	ErrFillTimeout = errors.New("buffer fill wait timed out")

	// ErrSettleTimeout is matched by every *SettleTimeoutError
	ErrSettleTimeout = errors.New("signal did not settle")

	// ErrEmptyReply marks a blank line where data or a status token was due
	ErrEmptyReply = errors.New("empty reply")
)

// ProtocolError is a malformed, empty or undecodable reply
type ProtocolError struct {
	Cmd   string
	Reply string
	Err   error
}

func (e *ProtocolError) Error() string {
	reply := e.Reply
	if len(reply) > 40 {
		reply = reply[:40] + "..."
	}
	return fmt.Sprintf("protocol error on %q (reply %q): %v", e.Cmd, reply, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// SettleTimeoutError reports a settle wait that used every attempt
type SettleTimeoutError struct {
	// Attempts is the number of captures made
	Attempts int

	// Delta is the head/tail RMS difference of the last capture
	Delta float64

	// Last is the last buffer captured
	Last SampleBuffer
}

func (e *SettleTimeoutError) Error() string {
	return fmt.Sprintf("signal did not settle after %d captures, last head/tail RMS difference %.3f V", e.Attempts, e.Delta)
}

// Is makes errors.Is(err, ErrSettleTimeout) work
func (e *SettleTimeoutError) Is(target error) bool { return target == ErrSettleTimeout }

// Trigger selects how a capture starts
type Trigger int

const (
	// TriggerEdge waits for a positive edge on the armed channel
	TriggerEdge Trigger = iota
	// TriggerNow forces a software trigger
	TriggerNow
)

func (t Trigger) String() string {
	if t == TriggerNow {
		return "now"
	}
	return "edge"
}

// ArmConfig is the acquisition setup applied by Arm
type ArmConfig struct {
	// Decimation divides the sample clock, a power of two from 1 to 65536
	Decimation int `json:"decimation" koanf:"decimation" yaml:"decimation"`

	// TriggerLevel in volts
	TriggerLevel float64 `json:"triggerLevel" koanf:"trigger_level" yaml:"trigger_level"`

	// TriggerChannel is 1 or 2, and is also the channel fetched
	TriggerChannel int `json:"triggerChannel" koanf:"trigger_channel" yaml:"trigger_channel"`
}

// SampleRate returns the effective sampling rate in Hz
func (a ArmConfig) SampleRate() float64 {
	return SampleClock / float64(a.Decimation)
}

// BufferTime returns the duration covered by a full buffer
func (a ArmConfig) BufferTime() time.Duration {
	return time.Duration(BufferSize) * time.Duration(a.Decimation) * time.Second / SampleClock
}

// Validate checks the decimation and channel
func (a ArmConfig) Validate() error {
	d := a.Decimation
	if d < 1 || d > 65536 || d&(d-1) != 0 {
		return fmt.Errorf("decimation %d is not a power of two in [1, 65536]", d)
	}
	if a.TriggerChannel != 1 && a.TriggerChannel != 2 {
		return fmt.Errorf("trigger channel %d is not 1 or 2", a.TriggerChannel)
	}
	return nil
}

// Client is the instrument
type Client struct {
	scpi *scpi.SCPI
	log  *slog.Logger

	// PollInterval is the sleep between status queries
	PollInterval time.Duration

	// PollAttempts bounds each trigger and fill wait
	PollAttempts int

	// Samples is the count fetched per capture, BufferSize if zero
	Samples int

	// Metrics, if not nil, counts captures and polls
	Metrics *metrics.Collectors

	// OnCapture, if not nil, is handed every decoded buffer
	OnCapture func(SampleBuffer)

	mu      sync.Mutex
	armed   bool
	cfg     ArmConfig
	i2cAddr int
}

// New returns a Client using s for communication.  A nil logger means slog.Default().
func New(s *scpi.SCPI, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		scpi:         s,
		log:          log,
		PollInterval: DefaultPollInterval,
		PollAttempts: DefaultPollAttempts,
		i2cAddr:      -1,
	}
}

// Armed reports whether Arm has succeeded, and the configuration it applied
func (c *Client) Armed() (ArmConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg, c.armed
}

// Raw passes a command straight to the instrument, returning the reply for queries
func (c *Client) Raw(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scpi.Raw(cmd)
}

func (c *Client) write(cmds ...string) error {
	for _, cmd := range cmds {
		c.log.Debug("scpi", "cmd", cmd)
	}
	return c.scpi.Write(cmds...)
}

func (c *Client) query(cmd string) (string, error) {
	c.log.Debug("scpi", "query", cmd)
	resp, err := c.scpi.ReadString(cmd)
	if err != nil {
		return resp, &ProtocolError{Cmd: cmd, Reply: resp, Err: err}
	}
	if resp == "" {
		return resp, &ProtocolError{Cmd: cmd, Err: ErrEmptyReply}
	}
	return resp, nil
}
