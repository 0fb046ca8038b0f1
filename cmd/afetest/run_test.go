package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcitlab/afetest/ledger"
	"github.com/hcitlab/afetest/sequence"
	"github.com/hcitlab/afetest/tolerance"
)

// lines is a progress display that keeps the final message of every test
type lines struct{ msgs []string }

func (l *lines) Message(string) {}
func (l *lines) Start() error { return nil }
func (l *lines) StopMessage(m string) { l.msgs = append(l.msgs, m) }
func (l *lines) Stop() error { return nil }
func (l *lines) StopFailMessage(m string) { l.msgs = append(l.msgs, m) }
func (l *lines) StopFail() error { return nil }

// twoTests builds an A (gain) then B (noise) suite over the given procedures
func twoTests(t *testing.T, a, b sequence.Procedure) *sequence.Sequencer {
	t.Helper()
	defs := []sequence.Definition{
		{Name: "A", Kind: sequence.KindGain, Rule: tolerance.WithinBand{Width: 1, Center: 10}},
		{Name: "B", Kind: sequence.KindNoise, Rule: tolerance.GreaterThan{Min: 0.2}},
	}
	seq, err := sequence.New(defs, sequence.Bench{},
		sequence.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		sequence.WithProcedure(sequence.KindGain, a),
		sequence.WithProcedure(sequence.KindNoise, b))
	require.NoError(t, err)
	return seq
}

func fixed(v float64) sequence.Procedure {
	return func(context.Context, *sequence.Env, sequence.Definition) (tolerance.Metric, error) {
		return tolerance.Scalar(v), nil
	}
}

func newSession(t *testing.T, seq *sequence.Sequencer, input string) (*session, *bytes.Buffer) {
	t.Helper()
	led, err := ledger.Open(filepath.Join(t.TempDir(), "results.csv"), seq.Names())
	require.NoError(t, err)
	out := &bytes.Buffer{}
	return &session{
		seq:  seq,
		led:  led,
		spin: &lines{},
		keys: bufio.NewScanner(strings.NewReader(input)),
		out:  out,
	}, out
}

func TestRetryAfterTestError(t *testing.T) {
	calls := 0
	flaky := func(context.Context, *sequence.Env, sequence.Definition) (tolerance.Metric, error) {
		calls++
		if calls == 1 {
			return tolerance.Metric{}, errors.New("instrument unplugged")
		}
		return tolerance.Scalar(10), nil
	}
	seq := twoTests(t, flaky, fixed(0.3))
	sess, out := newSession(t, seq, "r\nq\n")

	require.NoError(t, sess.loop(context.Background()))
	assert.Contains(t, out.String(), "A did not complete")

	rows, err := ledger.ReadAll(sess.led.Path())
	require.NoError(t, err)
	require.Len(t, rows, 1, "a retried run is saved once")
	rec := rows[0]
	assert.Equal(t, "10", rec[0])
	assert.Equal(t, "completed", rec[len(rec)-2])
}

func TestAbandonedRunIsSaved(t *testing.T) {
	broken := func(context.Context, *sequence.Env, sequence.Definition) (tolerance.Metric, error) {
		return tolerance.Metric{}, errors.New("no reply")
	}
	seq := twoTests(t, fixed(10), broken)
	sess, _ := newSession(t, seq, "q\n")

	err := sess.loop(context.Background())
	var te *sequence.TestError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "B", te.Name)

	rows, err := ledger.ReadAll(sess.led.Path())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	rec := rows[0]
	assert.Equal(t, "10", rec[0])
	assert.Equal(t, "", rec[1], "B never recorded")
	assert.Equal(t, "running", rec[len(rec)-2])
}

func TestAbandonAndStartAnotherBoard(t *testing.T) {
	calls := 0
	once := func(context.Context, *sequence.Env, sequence.Definition) (tolerance.Metric, error) {
		calls++
		if calls == 1 {
			return tolerance.Metric{}, errors.New("no reply")
		}
		return tolerance.Scalar(0.3), nil
	}
	seq := twoTests(t, fixed(10), once)
	sess, _ := newSession(t, seq, "\nq\n")

	require.NoError(t, sess.loop(context.Background()))
	rows, err := ledger.ReadAll(sess.led.Path())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "running", rows[0][len(rows[0])-2])
	assert.Equal(t, "completed", rows[1][len(rows[1])-2])
	assert.NotEqual(t, rows[0][2], rows[1][2], "each board gets its own run")
}
