// Package tolerance judges measured metrics against declarative pass/fail
// rules.  Rules are a closed set of types; Evaluate answers yes/no and
// Diagnose additionally reports the worst element of a vector.
package tolerance

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hcitlab/afetest/dsp"
)

// ErrArity is returned when a metric's shape does not match its rule.
// This is a configuration defect.
var ErrArity = errors.New("metric arity does not match rule")

// Rule is an acceptance envelope for one test's metric
type Rule interface {
	// Arity is the number of values judged: 1 for scalar rules, N for vector
	// rules, 0 for rules that accept any metric
	Arity() int

	// IsVector reports whether the rule judges a vector metric
	IsVector() bool

	// String renders the rule in the form Parse reads
	String() string

	// judge element i of a metric.  excess is how far v lies beyond the
	// bound, >= 0 when failing.
	judge(i int, v float64) (fail bool, excess float64)
}

// Informational never fails and accepts any metric
type Informational struct{}

// GreaterThan fails if |value| <= Min
type GreaterThan struct{ Min float64 }

// LessThan fails if |value| >= Max
type LessThan struct{ Max float64 }

// WithinBand fails if value lies outside [Center-Width, Center+Width]
type WithinBand struct{ Width, Center float64 }

// PercentDeviation fails if value differs from Reference by more than
// MaxPercent of |Reference|.  A zero reference always fails.
type PercentDeviation struct{ MaxPercent, Reference float64 }

// BandVector applies WithinBand element-wise, one center per element
type BandVector struct {
	Width   float64
	Centers []float64
}

// PercentVector applies PercentDeviation element-wise, one reference per element
type PercentVector struct {
	MaxPercent float64
	References []float64
}

func (Informational) Arity() int    { return 0 }
func (GreaterThan) Arity() int      { return 1 }
func (LessThan) Arity() int         { return 1 }
func (WithinBand) Arity() int       { return 1 }
func (PercentDeviation) Arity() int { return 1 }
func (r BandVector) Arity() int     { return len(r.Centers) }
func (r PercentVector) Arity() int  { return len(r.References) }

func (Informational) IsVector() bool    { return false }
func (GreaterThan) IsVector() bool      { return false }
func (LessThan) IsVector() bool         { return false }
func (WithinBand) IsVector() bool       { return false }
func (PercentDeviation) IsVector() bool { return false }
func (BandVector) IsVector() bool       { return true }
func (PercentVector) IsVector() bool    { return true }

func (Informational) judge(int, float64) (bool, float64) { return false, math.Inf(-1) }

func (r GreaterThan) judge(_ int, v float64) (bool, float64) {
	a := math.Abs(v)
	return a <= r.Min, r.Min - a
}

func (r LessThan) judge(_ int, v float64) (bool, float64) {
	a := math.Abs(v)
	return a >= r.Max, a - r.Max
}

func (r WithinBand) judge(_ int, v float64) (bool, float64) {
	return dsp.CheckWidth(r.Width, r.Center, v), math.Abs(v-r.Center) - r.Width
}

func (r PercentDeviation) judge(_ int, v float64) (bool, float64) {
	p := dsp.PercentChange(v, r.Reference)
	return p > r.MaxPercent, p - r.MaxPercent
}

func (r BandVector) judge(i int, v float64) (bool, float64) {
	return WithinBand{Width: r.Width, Center: r.Centers[i]}.judge(0, v)
}

func (r PercentVector) judge(i int, v float64) (bool, float64) {
	return PercentDeviation{MaxPercent: r.MaxPercent, Reference: r.References[i]}.judge(0, v)
}

func num(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func nums(vs []float64) string {
	s := make([]string, len(vs))
	for i, v := range vs {
		s[i] = num(v)
	}
	return strings.Join(s, " ")
}

func (Informational) String() string      { return "" }
func (r GreaterThan) String() string      { return "> " + num(r.Min) }
func (r LessThan) String() string         { return "< " + num(r.Max) }
func (r WithinBand) String() string       { return "+- " + num(r.Width) + " " + num(r.Center) }
func (r PercentDeviation) String() string { return "% " + num(r.MaxPercent) + " " + num(r.Reference) }
func (r BandVector) String() string       { return "+- " + num(r.Width) + " " + nums(r.Centers) }
func (r PercentVector) String() string    { return "% " + num(r.MaxPercent) + " " + nums(r.References) }

// checkArity verifies m can be judged by r
func checkArity(r Rule, m Metric) error {
	if r.Arity() == 0 {
		return nil
	}
	switch {
	case m.IsLabel():
		return fmt.Errorf("%w: rule %q given label %q", ErrArity, r, m.Text())
	case r.IsVector() && (!m.IsVector() || m.Len() != r.Arity()):
		return fmt.Errorf("%w: rule %q wants %d values, got %d", ErrArity, r, r.Arity(), m.Len())
	case !r.IsVector() && !m.IsScalar():
		return fmt.Errorf("%w: rule %q wants a scalar, got %d values", ErrArity, r, m.Len())
	}
	return nil
}

// judgeNaN wraps judge so NaN always fails
func judgeNaN(r Rule, i int, v float64) (bool, float64) {
	if math.IsNaN(v) {
		return true, math.Inf(1)
	}
	return r.judge(i, v)
}

// Evaluate reports whether m falls outside the rule's envelope.  A nil rule
// is informational.  Vector rules stop at the first failing element; use
// Diagnose to see all of them.
func Evaluate(r Rule, m Metric) (bool, error) {
	if r == nil {
		return false, nil
	}
	if err := checkArity(r, m); err != nil {
		return false, err
	}
	if r.Arity() == 0 {
		return false, nil
	}
	for i, v := range m.values {
		if fail, _ := judgeNaN(r, i, v); fail {
			return true, nil
		}
	}
	return false, nil
}

// Diagnosis is the full element-by-element judgement of a metric
type Diagnosis struct {
	// Failed is the verdict, as Evaluate returns it
	Failed bool

	// Failing lists the indexes of every failing element
	Failing []int

	// Worst is the index of the element furthest beyond (or closest to) its
	// bound, -1 for informational rules
	Worst int

	// Excess is Worst's distance beyond its bound; positive means outside
	Excess float64
}

// Diagnose judges every element of m
func Diagnose(r Rule, m Metric) (Diagnosis, error) {
	d := Diagnosis{Worst: -1}
	if r == nil {
		return d, nil
	}
	if err := checkArity(r, m); err != nil {
		return d, err
	}
	if r.Arity() == 0 {
		return d, nil
	}
	for i, v := range m.values {
		fail, excess := judgeNaN(r, i, v)
		if fail {
			d.Failed = true
			d.Failing = append(d.Failing, i)
		}
		if d.Worst == -1 || excess > d.Excess {
			d.Worst, d.Excess = i, excess
		}
	}
	return d, nil
}
