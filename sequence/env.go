package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hcitlab/afetest/dsp"
	"github.com/hcitlab/afetest/frontend"
	"github.com/hcitlab/afetest/redpitaya"
	"github.com/hcitlab/afetest/tolerance"
)

// Env is what a procedure sees while it runs one test
type Env struct {
	Bench  Bench
	Params Params
	Log    *slog.Logger

	// Board is the identified variant, nil before identification
	Board *Board

	runID    string
	index    int
	test     string
	captures int
}

// Procedure measures one test's metric
type Procedure func(ctx context.Context, env *Env, def Definition) (tolerance.Metric, error)

func (e *Env) sleep(ctx context.Context, d time.Duration) error {
	d = e.Params.delay(d)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Env) board() (Board, error) {
	if e.Board == nil {
		return Board{}, ErrNoBoard
	}
	return *e.Board, nil
}

func (e *Env) acq() (Acquirer, error) {
	if e.Bench.Acq == nil {
		return nil, errors.New("no acquisition on the bench")
	}
	return e.Bench.Acq, nil
}

// settled captures until the level settles
func (e *Env) settled(ctx context.Context, threshold float64) (redpitaya.SampleBuffer, error) {
	acq, err := e.acq()
	if err != nil {
		return redpitaya.SampleBuffer{}, err
	}
	buf, err := acq.WaitForSettledLevel(ctx, threshold, e.Params.SettleWindow, e.Params.SettleAttempts)
	if err != nil {
		return buf, err
	}
	e.archive(buf)
	return buf, nil
}

// single takes one capture
func (e *Env) single(ctx context.Context) (redpitaya.SampleBuffer, error) {
	acq, err := e.acq()
	if err != nil {
		return redpitaya.SampleBuffer{}, err
	}
	var buf redpitaya.SampleBuffer
	if e.Params.EdgeCapture {
		buf, err = acq.CaptureOnEdge(ctx)
	} else {
		buf, err = acq.CaptureNow(ctx)
	}
	if err != nil {
		return buf, err
	}
	e.archive(buf)
	return buf, nil
}

func (e *Env) archive(buf redpitaya.SampleBuffer) {
	e.captures++
	if e.Bench.Archive == nil {
		return
	}
	info := CaptureInfo{RunID: e.runID, Index: e.index, Test: e.test, Seq: e.captures}
	if e.Board != nil {
		info.Board = e.Board.Name
	}
	if err := e.Bench.Archive.Store(info, buf); err != nil {
		e.Log.Warn("capture not archived", "test", e.test, "seq", e.captures, "err", err)
	}
}

// vca returns the family's gain stage
func (e *Env) vca(f frontend.Family) (VCA, error) {
	v, ok := e.Bench.VCAs[f]
	if !ok || v == nil {
		return nil, fmt.Errorf("no %s VCA on the bench", f)
	}
	return v, nil
}

// gainLowPin is the family's gain-low line
func gainLowPin(f frontend.Family) redpitaya.Pin {
	if f == frontend.SS {
		return redpitaya.SSGainLow
	}
	return redpitaya.ESGainLow
}

// outputRMS is the RMS at the board output, undoing the fixture divider
func outputRMS(buf redpitaya.SampleBuffer) float64 {
	return dsp.RMS(dsp.VoltageDividerPre(buf.Samples()))
}

// run applies fixture settings in order and stops at the first error
func run(steps ...func() error) error {
	for _, s := range steps {
		if err := s(); err != nil {
			return err
		}
	}
	return nil
}
