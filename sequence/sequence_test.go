package sequence_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hcitlab/afetest/dsp"
	"github.com/hcitlab/afetest/frontend"
	"github.com/hcitlab/afetest/redpitaya"
	"github.com/hcitlab/afetest/sequence"
	"github.com/hcitlab/afetest/tolerance"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// script hands out metrics per test name; the last one repeats
type script map[string][]tolerance.Metric

func (s script) proc(_ context.Context, _ *sequence.Env, def sequence.Definition) (tolerance.Metric, error) {
	q := s[def.Name]
	m := q[0]
	if len(q) > 1 {
		s[def.Name] = q[1:]
	}
	return m, nil
}

type safer struct{ n int }

func (s *safer) Safe() error { s.n++; return nil }

func counter() func() string {
	n := 0
	return func() string { n++; return fmt.Sprintf("run-%d", n) }
}

func abc() []sequence.Definition {
	return []sequence.Definition{
		{Name: "A", Kind: sequence.KindGain, Rule: tolerance.WithinBand{Width: 1, Center: 10}},
		{Name: "B", Kind: sequence.KindNoise, Rule: tolerance.GreaterThan{Min: 0.2}},
		{Name: "C", Kind: sequence.KindGainLow, Rule: tolerance.LessThan{Max: 5}},
	}
}

func scripted(t *testing.T, s script, bench sequence.Bench, opts ...sequence.Option) *sequence.Sequencer {
	t.Helper()
	opts = append([]sequence.Option{
		sequence.WithLogger(quiet),
		sequence.WithRunIDs(counter()),
		sequence.WithProcedure(sequence.KindGain, s.proc),
		sequence.WithProcedure(sequence.KindNoise, s.proc),
		sequence.WithProcedure(sequence.KindGainLow, s.proc),
	}, opts...)
	seq, err := sequence.New(abc(), bench, opts...)
	require.NoError(t, err)
	return seq
}

func TestFailHaltResetComplete(t *testing.T) {
	ctx := context.Background()
	s := script{
		"A": {tolerance.Scalar(10.5)},
		"B": {tolerance.Scalar(0.1), tolerance.Scalar(0.3)},
		"C": {tolerance.Scalar(1)},
	}
	sf := &safer{}
	seq := scripted(t, s, sequence.Bench{Safe: sf})
	assert.Equal(t, sequence.NotStarted, seq.Status().State)

	rep, err := seq.Advance(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Passed)
	assert.Equal(t, sequence.Running, rep.Status.State)
	assert.Equal(t, 1, rep.Status.Cursor)

	rep, err = seq.Advance(ctx)
	require.NoError(t, err)
	assert.False(t, rep.Passed)
	assert.Equal(t, "B", rep.Name)
	assert.Equal(t, sequence.Errored, rep.Status.State)
	assert.Equal(t, 1, rep.Status.Cursor)
	assert.True(t, rep.Status.Errored)
	assert.Equal(t, 1, sf.n, "bench safed on failure")

	row := seq.Row()
	assert.Equal(t, 2, row.Recorded(), "failing metric is recorded")
	assert.Equal(t, sequence.Errored, row.Outcome)

	_, err = seq.Advance(ctx)
	assert.ErrorIs(t, err, sequence.ErrHalted)
	assert.Equal(t, 1, seq.Status().Cursor)

	seq.Reset()
	assert.Equal(t, sequence.NotStarted, seq.Status().State)
	assert.True(t, seq.Row().IsZero())

	for i := 0; i < 2; i++ {
		rep, err = seq.Advance(ctx)
		require.NoError(t, err)
		assert.True(t, rep.Passed)
	}
	assert.Equal(t, sequence.Running, rep.Status.State)
	assert.Equal(t, 2, rep.Status.Cursor)

	rep, err = seq.Advance(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Status.Completed)
	assert.Equal(t, sequence.Completed, seq.Status().State)
	assert.Equal(t, 2, sf.n, "bench safed on completion")

	_, err = seq.Advance(ctx)
	assert.ErrorIs(t, err, sequence.ErrHalted)

	row = seq.Row()
	assert.Equal(t, "run-2", row.RunID)
	assert.Equal(t, sequence.Completed, row.Outcome)
	m, ok := row.Metric("B")
	require.True(t, ok)
	assert.Equal(t, 0.3, m.Value())
}

func TestRowSnapshotsAreImmutable(t *testing.T) {
	s := script{"A": {tolerance.Scalar(10)}, "B": {tolerance.Scalar(0.3)}, "C": {tolerance.Scalar(1)}}
	seq := scripted(t, s, sequence.Bench{})
	_, err := seq.Advance(context.Background())
	require.NoError(t, err)
	before := seq.Row()
	_, err = seq.Advance(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, before.Recorded())
	_, ok := before.Metric("B")
	assert.False(t, ok)
	assert.Equal(t, 2, seq.Row().Recorded())
	assert.Equal(t, []string{"A", "B", "C"}, before.Names())
}

func TestResetWhileRunningSafesBench(t *testing.T) {
	s := script{"A": {tolerance.Scalar(10)}, "B": {tolerance.Scalar(0.3)}, "C": {tolerance.Scalar(1)}}
	sf := &safer{}
	seq := scripted(t, s, sequence.Bench{Safe: sf})

	seq.Reset()
	assert.Equal(t, 0, sf.n, "nothing to safe before a run")

	_, err := seq.Advance(context.Background())
	require.NoError(t, err)
	require.Equal(t, sequence.Running, seq.Status().State)
	seq.Reset()
	assert.Equal(t, 1, sf.n, "bench safed when a running suite is abandoned")
	assert.Equal(t, sequence.NotStarted, seq.Status().State)
}

func TestProcedureErrorKeepsCursor(t *testing.T) {
	boom := errors.New("instrument unplugged")
	calls := 0
	flaky := func(context.Context, *sequence.Env, sequence.Definition) (tolerance.Metric, error) {
		calls++
		if calls == 1 {
			return tolerance.Metric{}, boom
		}
		return tolerance.Scalar(10), nil
	}
	sf := &safer{}
	s := script{"B": {tolerance.Scalar(0.3)}, "C": {tolerance.Scalar(1)}}
	seq := scripted(t, s, sequence.Bench{Safe: sf}, sequence.WithProcedure(sequence.KindGain, flaky))

	rep, err := seq.Advance(context.Background())
	var te *sequence.TestError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "A", te.Name)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, sequence.Running, rep.Status.State)
	assert.Equal(t, 0, rep.Status.Cursor)
	assert.Equal(t, 0, seq.Row().Recorded())
	assert.Equal(t, 1, sf.n)

	rep, err = seq.Advance(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Passed)
	assert.Equal(t, 1, rep.Status.Cursor)
}

func TestSettleTimeoutIsFailure(t *testing.T) {
	unsettled := func(context.Context, *sequence.Env, sequence.Definition) (tolerance.Metric, error) {
		return tolerance.Metric{}, &redpitaya.SettleTimeoutError{Attempts: 10, Delta: 0.2}
	}
	s := script{"B": {tolerance.Scalar(0.3)}, "C": {tolerance.Scalar(1)}}

	seq := scripted(t, s, sequence.Bench{}, sequence.WithProcedure(sequence.KindGain, unsettled))
	rep, err := seq.Advance(context.Background())
	require.NoError(t, err)
	assert.False(t, rep.Passed)
	assert.Equal(t, sequence.Errored, rep.Status.State)
	m, ok := seq.Row().Metric("A")
	require.True(t, ok)
	assert.True(t, math.IsNaN(m.Value()))

	p := sequence.DefaultParams()
	p.SettleTimeoutFails = false
	seq = scripted(t, s, sequence.Bench{}, sequence.WithProcedure(sequence.KindGain, unsettled), sequence.WithParams(p))
	_, err = seq.Advance(context.Background())
	assert.ErrorIs(t, err, redpitaya.ErrSettleTimeout)
	assert.Equal(t, sequence.Running, seq.Status().State)
}

func TestShortBenchIsTestError(t *testing.T) {
	seq, err := sequence.New(sequence.Tiny(), sequence.Bench{}, sequence.WithLogger(quiet))
	require.NoError(t, err)
	_, err = seq.Advance(context.Background())
	var te *sequence.TestError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, err.Error(), "acquisition")
	assert.Equal(t, 0, seq.Status().Cursor)
}

func TestValidate(t *testing.T) {
	require.NoError(t, sequence.Validate(sequence.Tiny()))
	require.NoError(t, sequence.Validate(sequence.VCASuite("")))

	cases := map[string][]sequence.Definition{
		"empty": nil,
		"duplicate": {
			{Name: "X", Kind: sequence.KindGain},
			{Name: "X", Kind: sequence.KindGain},
		},
		"unnamed":       {{Kind: sequence.KindGain}},
		"vector rule":   {{Name: "G", Kind: sequence.KindGain, Rule: tolerance.BandVector{Width: 1, Centers: []float64{1, 2, 3}}}},
		"scalar rule":   {{Name: "BW", Kind: sequence.KindBandwidth, Rule: tolerance.WithinBand{Width: 1, Center: 60}}},
		"short vector":  {{Name: "BW", Kind: sequence.KindBandwidth, Rule: tolerance.BandVector{Width: 1, Centers: []float64{60, 6}}}},
		"label numeric": {{Name: "ID", Kind: sequence.KindBoardID, Rule: tolerance.LessThan{Max: 1}}},
		"unknown kind":  {{Name: "Q", Kind: sequence.Kind(99)}},
	}
	for name, defs := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, sequence.Validate(defs))
		})
	}
}

func TestIdentifyPicksLargestResponse(t *testing.T) {
	b, err := sequence.Identify([]float64{0.30, 0.55, 0.42}, sequence.Boards)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Index)
	assert.Equal(t, "40", b.Name)

	b, err = sequence.Identify([]float64{math.NaN(), 0.2, 0.9}, sequence.Boards)
	require.NoError(t, err)
	assert.Equal(t, "HS", b.Name)

	_, err = sequence.Identify([]float64{math.NaN(), math.NaN(), math.NaN()}, sequence.Boards)
	assert.ErrorIs(t, err, sequence.ErrNoBoard)

	_, err = sequence.Identify([]float64{1}, sequence.Boards)
	assert.Error(t, err)
}

func TestSuites(t *testing.T) {
	assert.Len(t, sequence.VCASuite(""), 17)
	assert.Len(t, sequence.VCASuite(frontend.ES), 5)
	assert.Len(t, sequence.VCASuite(frontend.SS), 12)

	tiny, err := sequence.Suite("TINY")
	require.NoError(t, err)
	assert.Equal(t, "BRD_ID", tiny[0].Name)
	_, err = sequence.Suite("bogus")
	assert.Error(t, err)
}

func TestDefinitionConfigRoundTrip(t *testing.T) {
	for _, d := range append(sequence.Tiny(), sequence.VCASuite("")...) {
		got, err := d.Config().Definition()
		require.NoError(t, err, d.Name)
		assert.Equal(t, d.Name, got.Name)
		assert.Equal(t, d.Kind, got.Kind)
		assert.Equal(t, d.Family, got.Family)
		assert.Equal(t, d.Rule.String(), got.Rule.String())
	}
	_, err := sequence.DefinitionConfig{Name: "X", Kind: "warp", Rule: ""}.Definition()
	assert.Error(t, err)
	_, err = sequence.DefinitionConfig{Name: "X", Kind: "gain", Rule: "~ 3"}.Definition()
	assert.Error(t, err)
}

func TestReportLine(t *testing.T) {
	old := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = old }()

	r := sequence.Report{Name: "MAIN_GAIN_60", Result: "60.123", Passed: true}
	assert.Equal(t, "MAIN_GAIN_60       60.123                   OK", r.Line())
	r.Passed = false
	assert.Equal(t, "BAD", r.Verdict())
}

// fixture answers with a flat level that depends on the stimulus frequency
// while the generator is on
func fixture(levels map[float64]float64) func(redpitaya.Stimulus, int) []float64 {
	return func(st redpitaya.Stimulus, n int) []float64 {
		out := make([]float64, n)
		if !st.GenOn {
			return out
		}
		for i := range out {
			out[i] = levels[st.GenFreq]
		}
		return out
	}
}

func TestTinySuiteOnMockInstrument(t *testing.T) {
	mock := &redpitaya.Mock{Signal: fixture(map[float64]float64{26000: 0.30, 60000: 0.55, 150000: 0.42})}
	client := mock.Client(quiet)
	client.Samples = 256

	p := sequence.DefaultParams()
	p.DelayScale = 0
	seq, err := sequence.New(sequence.Tiny(), sequence.NewBench(client), sequence.WithLogger(quiet), sequence.WithParams(p))
	require.NoError(t, err)
	ctx := context.Background()

	rep, err := seq.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "40", rep.Result)
	assert.Equal(t, "40", rep.Status.Board)
	armed, ok := client.Armed()
	require.True(t, ok)
	assert.Equal(t, 32, armed.Decimation)

	// generator off: the noise capture is flat zero
	rep, err = seq.Advance(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Passed)
	assert.Equal(t, 0.0, rep.Metric.Value())

	vin := math.Round(0.1/math.Sqrt2/dsp.DBRatio(40)/dsp.DBRatio(5)*1e6) / 1e6
	want := dsp.RatioDB(vin, 0.55)
	rep, err = seq.Advance(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Passed, rep.Result)
	assert.InDelta(t, want, rep.Metric.Value(), 1e-9)

	// the fixture ignores the gain-low line, so the gain stays near 63 dB
	rep, err = seq.Advance(ctx)
	require.NoError(t, err)
	assert.False(t, rep.Passed)
	assert.Equal(t, sequence.Errored, rep.Status.State)
	assert.Equal(t, 3, rep.Status.Cursor)

	st := mock.State()
	assert.False(t, st.GenOn, "generator off after failure")
	assert.False(t, st.Pins[redpitaya.PreampPower], "preamp off after failure")
	assert.Equal(t, 4, seq.Row().Recorded())
	assert.Equal(t, "40", seq.Row().Board)
}

func TestNoBoardBeforeIdentification(t *testing.T) {
	mock := &redpitaya.Mock{}
	client := mock.Client(quiet)
	client.Samples = 256
	defs := sequence.Tiny()[1:2]
	seq, err := sequence.New(defs, sequence.NewBench(client), sequence.WithLogger(quiet))
	require.NoError(t, err)
	_, err = seq.Advance(context.Background())
	assert.ErrorIs(t, err, sequence.ErrNoBoard)
}

func TestIdentificationNeedsResponse(t *testing.T) {
	mock := &redpitaya.Mock{Signal: fixture(map[float64]float64{26000: 0.01, 60000: 0.02, 150000: 0.01})}
	client := mock.Client(quiet)
	client.Samples = 256
	p := sequence.DefaultParams()
	p.DelayScale = 0
	seq, err := sequence.New(sequence.Tiny(), sequence.NewBench(client), sequence.WithLogger(quiet), sequence.WithParams(p))
	require.NoError(t, err)
	_, err = seq.Advance(context.Background())
	assert.ErrorIs(t, err, sequence.ErrNoBoard)
	assert.Empty(t, seq.Status().Board)
}

func TestVCAADCOnMockInstrument(t *testing.T) {
	// 0x7FFE >> 1 is full scale
	mock := &redpitaya.Mock{SPIReply: []int{0x7F, 0xFE, 0x00}}
	client := mock.Client(quiet)
	p := sequence.DefaultParams()
	p.DelayScale = 0
	defs := []sequence.Definition{{Name: "SS_ADC1", Kind: sequence.KindADC, Family: frontend.SS, ADC: 1,
		Rule: tolerance.PercentDeviation{MaxPercent: 4, Reference: 3}}}
	seq, err := sequence.New(defs, sequence.NewBench(client), sequence.WithLogger(quiet), sequence.WithParams(p))
	require.NoError(t, err)
	rep, err := seq.Advance(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 3.0, rep.Metric.Value(), 1e-9)
	assert.True(t, rep.Status.Completed)
	assert.Equal(t, 10, mock.Count("SPI:MSG0:RX?"))
}

type archive struct{ got []sequence.CaptureInfo }

func (a *archive) Store(info sequence.CaptureInfo, _ redpitaya.SampleBuffer) error {
	a.got = append(a.got, info)
	return nil
}

func TestCapturesAreArchived(t *testing.T) {
	mock := &redpitaya.Mock{Signal: fixture(map[float64]float64{26000: 0.30, 60000: 0.55, 150000: 0.42})}
	client := mock.Client(quiet)
	client.Samples = 256
	bench := sequence.NewBench(client)
	arc := &archive{}
	bench.Archive = arc
	p := sequence.DefaultParams()
	p.DelayScale = 0
	seq, err := sequence.New(sequence.Tiny(), bench, sequence.WithLogger(quiet), sequence.WithParams(p),
		sequence.WithRunIDs(func() string { return "r1" }))
	require.NoError(t, err)
	_, err = seq.Advance(context.Background())
	require.NoError(t, err)

	require.Len(t, arc.got, 3)
	for i, info := range arc.got {
		assert.Equal(t, sequence.CaptureInfo{RunID: "r1", Index: 0, Test: "BRD_ID", Seq: i + 1}, info)
	}
}
