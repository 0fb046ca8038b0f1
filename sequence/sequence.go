// Package sequence runs a suite of sub-tests against a board one step at a
// time, judging each metric against its rule and halting at the first
// failure.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hcitlab/afetest/metrics"
	"github.com/hcitlab/afetest/redpitaya"
	"github.com/hcitlab/afetest/tolerance"
)

// ErrHalted is returned by Advance once the run has errored or completed.
// Reset to start over.
var ErrHalted = errors.New("sequence halted, reset to run again")

// TestError is a procedure that could not produce a metric.  The cursor
// does not move.
type TestError struct {
	Index int
	Name  string
	Err   error
}

func (e *TestError) Error() string {
	return fmt.Sprintf("test %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *TestError) Unwrap() error { return e.Err }

// State is the sequencer's lifecycle state
type State int

const (
	// NotStarted means the next Advance begins a new run
	NotStarted State = iota

	// Running means the test at the cursor is next
	Running

	// Errored means the test at the cursor failed its rule
	Errored

	// Completed means every test passed
	Completed
)

var stateNames = [...]string{"not-started", "running", "errored", "completed"}

func (s State) String() string {
	if int(s) < len(stateNames) && s >= 0 {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText renders the state name
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText reads a state name
func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Status is a snapshot of the sequencer
type Status struct {
	State     State  `json:"state"`
	Cursor    int    `json:"cursor"`
	Current   string `json:"current"`
	Board     string `json:"board,omitempty"`
	RunID     string `json:"runId,omitempty"`
	Errored   bool   `json:"errored"`
	Completed bool   `json:"completed"`
}

// Report is the outcome of one Advance
type Report struct {
	Index     int                 `json:"index"`
	Name      string              `json:"name"`
	Kind      Kind                `json:"kind"`
	Metric    tolerance.Metric    `json:"-"`
	Result    string              `json:"result"`
	Passed    bool                `json:"passed"`
	Diagnosis tolerance.Diagnosis `json:"-"`
	Failing   []int               `json:"failing,omitempty"`
	Status    Status              `json:"status"`
}

// Sequencer steps through a suite
type Sequencer struct {
	defs    []Definition
	bench   Bench
	params  Params
	procs   map[Kind]Procedure
	custom  map[Kind]bool
	log     *slog.Logger
	metrics *metrics.Collectors
	now     func() time.Time
	newID   func() string

	mu     sync.Mutex
	state  State
	cursor int
	armed  bool
	board  *Board
	row    Row
}

// Option configures a Sequencer
type Option func(*Sequencer)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option { return func(s *Sequencer) { s.log = l } }

// WithMetrics sets the prometheus collectors
func WithMetrics(m *metrics.Collectors) Option { return func(s *Sequencer) { s.metrics = m } }

// WithParams replaces DefaultParams
func WithParams(p Params) Option { return func(s *Sequencer) { s.params = p } }

// WithProcedure replaces the procedure for a kind.  Bench checks are
// skipped for replaced kinds.
func WithProcedure(k Kind, p Procedure) Option {
	return func(s *Sequencer) {
		s.procs[k] = p
		s.custom[k] = true
	}
}

// WithClock sets the time source for row timestamps
func WithClock(now func() time.Time) Option { return func(s *Sequencer) { s.now = now } }

// WithRunIDs sets the run ID generator
func WithRunIDs(f func() string) Option { return func(s *Sequencer) { s.newID = f } }

// New validates the suite and returns a sequencer in NotStarted
func New(defs []Definition, bench Bench, opts ...Option) (*Sequencer, error) {
	if err := Validate(defs); err != nil {
		return nil, err
	}
	s := &Sequencer{
		defs:   append([]Definition(nil), defs...),
		bench:  bench,
		params: DefaultParams(),
		procs:  make(map[Kind]Procedure, len(Procedures)),
		custom: map[Kind]bool{},
		log:    slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for k, p := range Procedures {
		s.procs[k] = p
	}
	for _, o := range opts {
		o(s)
	}
	for _, d := range s.defs {
		if s.procs[d.Kind] == nil {
			return nil, fmt.Errorf("%s: no procedure for %s", d.Name, d.Kind)
		}
	}
	return s, nil
}

// Definitions returns the suite
func (s *Sequencer) Definitions() []Definition {
	return append([]Definition(nil), s.defs...)
}

// Names returns the test names in order
func (s *Sequencer) Names() []string {
	out := make([]string, len(s.defs))
	for i, d := range s.defs {
		out[i] = d.Name
	}
	return out
}

// Status returns a snapshot of the state
func (s *Sequencer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status()
}

func (s *Sequencer) status() Status {
	st := Status{
		State:     s.state,
		Cursor:    s.cursor,
		Current:   s.defs[s.cursor].Name,
		RunID:     s.row.RunID,
		Errored:   s.state == Errored,
		Completed: s.state == Completed,
	}
	if s.board != nil {
		st.Board = s.board.Name
	}
	return st
}

// Row returns the metrics recorded so far in the current run
func (s *Sequencer) Row() Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.row
}

// Reset abandons the run.  The next Advance starts a new one.  A run
// abandoned while Running leaves the bench safed.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Running {
		s.safe()
	}
	s.state = NotStarted
	s.cursor = 0
	s.armed = false
	s.board = nil
	s.row = Row{}
}

// Advance runs the test at the cursor.  A metric outside its rule is not an
// error: the report says so and the sequencer is Errored.  Procedure
// failures return a *TestError and leave the cursor where it was.
func (s *Sequencer) Advance(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Errored, Completed:
		return Report{Index: s.cursor, Name: s.defs[s.cursor].Name, Status: s.status()}, ErrHalted
	case NotStarted:
		s.row = newRow(s.newID(), s.Names(), s.now())
		s.state = Running
		s.cursor = 0
		s.log.Info("run started", "run", s.row.RunID, "tests", len(s.defs))
	}

	i := s.cursor
	def := s.defs[i]
	rep := Report{Index: i, Name: def.Name, Kind: def.Kind}
	log := s.log.With("run", s.row.RunID, "test", def.Name, "index", i)

	fail := func(err error) (Report, error) {
		log.Error("test did not complete", "err", err)
		s.safe()
		rep.Status = s.status()
		return rep, &TestError{Index: i, Name: def.Name, Err: err}
	}

	if err := s.arm(); err != nil {
		return fail(err)
	}
	if !s.custom[def.Kind] {
		if err := s.bench.check(def.Kind); err != nil {
			return fail(err)
		}
	}

	env := &Env{
		Bench:  s.bench,
		Params: s.params,
		Log:    log,
		Board:  s.board,
		runID:  s.row.RunID,
		index:  i,
		test:   def.Name,
	}
	metric, err := s.procs[def.Kind](ctx, env, def)
	if err != nil {
		if !s.params.SettleTimeoutFails || !errors.Is(err, redpitaya.ErrSettleTimeout) || def.Kind.arity() == 0 {
			return fail(err)
		}
		log.Warn("signal did not settle, recording NaN", "err", err)
		metric = nanMetric(def)
	}
	diag, err := tolerance.Diagnose(def.Rule, metric)
	if err != nil {
		return fail(err)
	}

	s.board = env.Board
	s.row = s.row.with(def.Name, metric)
	if s.board != nil {
		s.row.Board = s.board.Name
	}
	rep.Metric = metric
	rep.Result = metric.String()
	rep.Passed = !diag.Failed
	rep.Diagnosis = diag
	rep.Failing = diag.Failing
	s.metrics.Test(def.Name, rep.Passed, metric.Value())

	switch {
	case diag.Failed:
		s.state = Errored
		s.row.Outcome = Errored
		log.Warn("test failed", "result", rep.Result, "rule", ruleString(def.Rule), "worst", diag.Worst, "excess", diag.Excess)
		s.safe()
	case i == len(s.defs)-1:
		s.state = Completed
		s.row.Outcome = Completed
		log.Info("test passed", "result", rep.Result)
		log.Info("run completed", "board", s.row.Board)
		s.safe()
	default:
		s.cursor++
		log.Info("test passed", "result", rep.Result)
	}
	rep.Status = s.status()
	return rep, nil
}

// arm applies the acquisition setup once per run
func (s *Sequencer) arm() error {
	if s.armed || s.bench.Acq == nil {
		return nil
	}
	if err := s.bench.Acq.Arm(s.params.Arm); err != nil {
		return err
	}
	s.armed = true
	return nil
}

// safe turns the stimulus and board supply off
func (s *Sequencer) safe() {
	if s.bench.Safe == nil {
		return
	}
	if err := s.bench.Safe.Safe(); err != nil {
		s.log.Error("bench not safed", "err", err)
	}
}

// nanMetric is the metric recorded for a measurement that never settled
func nanMetric(def Definition) tolerance.Metric {
	n := def.Kind.arity()
	if n == 1 {
		return tolerance.Scalar(math.NaN())
	}
	vs := make([]float64, n)
	for i := range vs {
		vs[i] = math.NaN()
	}
	return tolerance.Vector(vs...)
}

func ruleString(r tolerance.Rule) string {
	if r == nil {
		return ""
	}
	return r.String()
}
