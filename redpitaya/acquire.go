package redpitaya

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/hcitlab/afetest/dsp"
	"github.com/hcitlab/afetest/mathx"
)

var errNotYet = errors.New("status not reached")

// Arm resets the acquisition engine and applies cfg.  It must succeed
// before any capture.
func (c *Client) Arm(cfg ArmConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armed = false
	err := c.write(
		"ACQ:RST",
		"ACQ:DATA:FORMAT ASCII",
		"ACQ:DATA:UNITS VOLTS",
		"ACQ:DEC "+strconv.Itoa(cfg.Decimation),
		"ACQ:TRIG:DLY 0",
		"ACQ:TRIG:LEV "+strconv.FormatFloat(cfg.TriggerLevel, 'g', -1, 64),
	)
	if err != nil {
		return fmt.Errorf("arming acquisition: %w", err)
	}
	c.cfg = cfg
	c.armed = true
	c.log.Debug("acquisition armed", "decimation", cfg.Decimation, "level", cfg.TriggerLevel, "channel", cfg.TriggerChannel)
	return nil
}

// CaptureOnEdge starts an acquisition, waits for a positive edge on the
// armed channel and for the buffer to fill, then fetches it
func (c *Client) CaptureOnEdge(ctx context.Context) (SampleBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture(ctx, TriggerEdge)
}

// CaptureNow is CaptureOnEdge with a forced software trigger
func (c *Client) CaptureNow(ctx context.Context) (SampleBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capture(ctx, TriggerNow)
}

func (c *Client) capture(ctx context.Context, trig Trigger) (buf SampleBuffer, err error) {
	defer func() { c.Metrics.Capture(trig.String(), err) }()
	if !c.armed {
		return SampleBuffer{}, ErrNotArmed
	}
	if err = ctx.Err(); err != nil {
		return SampleBuffer{}, err
	}
	cfg := c.cfg
	source := "ACQ:TRIG NOW"
	if trig == TriggerEdge {
		source = fmt.Sprintf("ACQ:TRIG CH%d_PE", cfg.TriggerChannel)
	}
	if err = c.write("ACQ:DEC "+strconv.Itoa(cfg.Decimation), "ACQ:START", source); err != nil {
		return SampleBuffer{}, err
	}
	defer func() {
		if err != nil {
			// leave the engine idle; the capture error is what the caller needs
			if stopErr := c.write("ACQ:STOP"); stopErr != nil {
				c.log.Warn("stopping acquisition after failed capture", "err", stopErr)
			}
		}
	}()

	if err = c.waitFor(ctx, "ACQ:TRIG:STAT?", triggered, 0, ErrTriggerTimeout); err != nil {
		return SampleBuffer{}, err
	}
	if err = c.waitFor(ctx, "ACQ:TRIG:FILL?", filled, cfg.BufferTime(), ErrFillTimeout); err != nil {
		return SampleBuffer{}, err
	}

	n := c.Samples
	if n <= 0 {
		n = BufferSize
	}
	cmd := fmt.Sprintf("ACQ:SOUR%d:DATA:OLD:N? %d", cfg.TriggerChannel, n)
	reply, err := c.query(cmd)
	if err != nil {
		return SampleBuffer{}, err
	}
	samples, err := DecodeSamples(reply)
	if err != nil {
		err = &ProtocolError{Cmd: cmd, Reply: reply, Err: err}
		return SampleBuffer{}, err
	}
	if err = c.write("ACQ:STOP"); err != nil {
		return SampleBuffer{}, err
	}
	buf = SampleBuffer{samples: samples, Decimation: cfg.Decimation, Channel: cfg.TriggerChannel, Trigger: trig, Captured: time.Now()}
	if c.OnCapture != nil {
		c.OnCapture(buf)
	}
	return buf, nil
}

// waitFor polls query until it answers want, at most PollAttempts times.
// With a poll interval set, the budget grows by the polls needed to cover
// expect, so a slow buffer fill at high decimation is not cut short.
func (c *Client) waitFor(ctx context.Context, query, want string, expect time.Duration, timeout error) error {
	attempts := c.PollAttempts
	if attempts < 1 {
		attempts = DefaultPollAttempts
	}
	if c.PollInterval > 0 && expect > 0 {
		attempts += int((expect + c.PollInterval - 1) / c.PollInterval)
	}
	polls := 0
	op := func() error {
		polls++
		c.Metrics.Poll(query)
		resp, err := c.query(query)
		if err != nil {
			return backoff.Permanent(err)
		}
		if resp != want {
			return errNotYet
		}
		return nil
	}
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.PollInterval), uint64(attempts-1)), ctx)
	err := backoff.Retry(op, b)
	if err == nil {
		c.log.Debug("status reached", "query", query, "polls", polls)
		return nil
	}
	if !errors.Is(err, errNotYet) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w after %d polls: %v", timeout, polls, ctxErr)
	}
	return fmt.Errorf("%w after %d polls", timeout, polls)
}

// WaitForSettledLevel captures with a forced trigger until the RMS of the
// first window samples and the RMS of the last window samples differ by less
// than threshold volts, compared at millivolt resolution.  It gives up after
// maxAttempts captures (DefaultSettleAttempts if maxAttempts <= 0) with a
// *SettleTimeoutError.
func (c *Client) WaitForSettledLevel(ctx context.Context, threshold float64, window, maxAttempts int) (SampleBuffer, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultSettleAttempts
	}
	if window <= 0 {
		return SampleBuffer{}, fmt.Errorf("settle window must be positive, got %d", window)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var (
		last  SampleBuffer
		delta float64
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		buf, err := c.capture(ctx, TriggerNow)
		if err != nil {
			return SampleBuffer{}, err
		}
		if window > buf.Len() {
			return SampleBuffer{}, fmt.Errorf("settle window %d exceeds capture length %d", window, buf.Len())
		}
		delta = mathx.Round(math.Abs(dsp.RMS(buf.Head(window))-dsp.RMS(buf.Tail(window))), 0.001)
		if delta < threshold {
			c.Metrics.Settled(attempt)
			c.log.Debug("signal settled", "attempts", attempt, "delta", delta)
			return buf, nil
		}
		last = buf
		c.log.Debug("signal not settled", "attempt", attempt, "delta", delta, "threshold", threshold)
	}
	return SampleBuffer{}, &SettleTimeoutError{Attempts: maxAttempts, Delta: delta, Last: last}
}
