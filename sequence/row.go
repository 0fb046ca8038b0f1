package sequence

import (
	"time"

	"github.com/hcitlab/afetest/tolerance"
)

// Row is the set of metrics recorded during one run.  A Row is never
// modified once handed out; recording a metric makes a new Row.
type Row struct {
	RunID   string
	Board   string
	Started time.Time
	Outcome State

	names   []string
	metrics map[string]tolerance.Metric
}

func newRow(runID string, names []string, started time.Time) Row {
	return Row{RunID: runID, Started: started, Outcome: Running, names: names, metrics: map[string]tolerance.Metric{}}
}

// with returns a copy of r with name recorded
func (r Row) with(name string, m tolerance.Metric) Row {
	cp := make(map[string]tolerance.Metric, len(r.metrics)+1)
	for k, v := range r.metrics {
		cp[k] = v
	}
	cp[name] = m
	r.metrics = cp
	return r
}

// Names is every test of the suite, in order, recorded or not
func (r Row) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Metric returns the metric recorded for a test
func (r Row) Metric(name string) (tolerance.Metric, bool) {
	m, ok := r.metrics[name]
	return m, ok
}

// Recorded is the number of tests with a metric
func (r Row) Recorded() int { return len(r.metrics) }

// IsZero reports whether no run has started
func (r Row) IsZero() bool { return r.RunID == "" }
