// Package metrics holds the prometheus collectors shared by the acquisition
// client and the sequencer
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups every metric the bench exports.  A nil *Collectors is
// valid and records nothing.
type Collectors struct {
	Captures       *prometheus.CounterVec
	Polls          *prometheus.CounterVec
	SettleAttempts prometheus.Histogram
	Tests          *prometheus.CounterVec
	LastMetric     *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg, if reg is not nil
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		Captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "afetest",
			Name:      "captures_total",
			Help:      "acquisitions attempted, by trigger mode and outcome",
		}, []string{"mode", "outcome"}),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "afetest",
			Name:      "status_polls_total",
			Help:      "trigger and fill status queries sent to the instrument",
		}, []string{"query"}),
		SettleAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "afetest",
			Name:      "settle_attempts",
			Help:      "captures needed before the signal level settled",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		Tests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "afetest",
			Name:      "tests_total",
			Help:      "sub-tests executed, by name and verdict",
		}, []string{"test", "verdict"}),
		LastMetric: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "afetest",
			Name:      "last_metric",
			Help:      "most recent scalar metric (first element for vectors) per sub-test",
		}, []string{"test"}),
	}
	if reg == nil {
		return c, nil
	}
	for _, col := range []prometheus.Collector{c.Captures, c.Polls, c.SettleAttempts, c.Tests, c.LastMetric} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Capture counts one acquisition
func (c *Collectors) Capture(mode string, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.Captures.WithLabelValues(mode, outcome).Inc()
}

// Poll counts one status query
func (c *Collectors) Poll(query string) {
	if c == nil {
		return
	}
	c.Polls.WithLabelValues(query).Inc()
}

// Settled records how many captures a settle wait took
func (c *Collectors) Settled(attempts int) {
	if c == nil {
		return
	}
	c.SettleAttempts.Observe(float64(attempts))
}

// Test records the verdict and metric of one sub-test
func (c *Collectors) Test(name string, passed bool, value float64) {
	if c == nil {
		return
	}
	verdict := "bad"
	if passed {
		verdict = "ok"
	}
	c.Tests.WithLabelValues(name, verdict).Inc()
	c.LastMetric.WithLabelValues(name).Set(value)
}
