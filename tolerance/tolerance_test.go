package tolerance_test

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hcitlab/afetest/tolerance"
)

func ExampleParse() {
	r, _ := tolerance.Parse("+-, 1.0, 60, 6, 6")
	fmt.Printf("%T %v\n", r, r)
	// Output: tolerance.BandVector +- 1 60 6 6
}

func ExampleMetric_String() {
	fmt.Println(tolerance.Vector(60.0004, 6.12345, 5.9))
	// Output: 60.000 6.123 5.900
}

func TestWithinBandBoundaries(t *testing.T) {
	r := tolerance.WithinBand{Width: 1, Center: 10}
	cases := []struct {
		v    float64
		fail bool
	}{
		{9, false}, {11, false}, {10.5, false},
		{8.9999, true}, {11.0001, true}, {-10, true},
	}
	for _, c := range cases {
		got, err := tolerance.Evaluate(r, tolerance.Scalar(c.v))
		if err != nil {
			t.Fatal(err)
		}
		if got != c.fail {
			t.Errorf("WithinBand(1, 10) at %v: expected fail=%v got %v", c.v, c.fail, got)
		}
	}
}

func TestWithinBandIsExhaustive(t *testing.T) {
	r := tolerance.WithinBand{Width: 0.5, Center: 2}
	for v := -1.0; v <= 5; v += 0.125 {
		got, _ := tolerance.Evaluate(r, tolerance.Scalar(v))
		expected := v < 1.5 || v > 2.5
		if got != expected {
			t.Errorf("at %v: expected fail=%v got %v", v, expected, got)
		}
	}
}

func TestGreaterLessThan(t *testing.T) {
	cases := []struct {
		r    tolerance.Rule
		v    float64
		fail bool
	}{
		{tolerance.GreaterThan{Min: 0.2}, 0.1, true},
		{tolerance.GreaterThan{Min: 0.2}, 0.2, true},
		{tolerance.GreaterThan{Min: 0.2}, -0.3, false},
		{tolerance.GreaterThan{Min: 0.2}, 0.21, false},
		{tolerance.LessThan{Max: 5}, 4.99, false},
		{tolerance.LessThan{Max: 5}, 5, true},
		{tolerance.LessThan{Max: 5}, -6, true},
	}
	for _, c := range cases {
		got, err := tolerance.Evaluate(c.r, tolerance.Scalar(c.v))
		if err != nil {
			t.Fatal(err)
		}
		if got != c.fail {
			t.Errorf("%v at %v: expected fail=%v got %v", c.r, c.v, c.fail, got)
		}
	}
}

func TestPercentDeviation(t *testing.T) {
	r := tolerance.PercentDeviation{MaxPercent: 25, Reference: 4}
	if fail, _ := tolerance.Evaluate(r, tolerance.Scalar(5)); fail {
		t.Error("expected exactly 25% to pass")
	}
	if fail, _ := tolerance.Evaluate(r, tolerance.Scalar(3)); fail {
		t.Error("expected -25% to pass")
	}
	if fail, _ := tolerance.Evaluate(r, tolerance.Scalar(5.5)); !fail {
		t.Error("expected 37.5% to fail")
	}
	if fail, _ := tolerance.Evaluate(r, tolerance.Scalar(-4)); !fail {
		t.Error("expected a sign flip to fail")
	}
}

func TestPercentDeviationZeroReferenceAlwaysFails(t *testing.T) {
	r := tolerance.PercentDeviation{MaxPercent: 1e9, Reference: 0}
	for _, v := range []float64{0, 1e-12, -3, 1e9} {
		fail, err := tolerance.Evaluate(r, tolerance.Scalar(v))
		if err != nil {
			t.Fatal(err)
		}
		if !fail {
			t.Errorf("expected zero reference to fail at %v", v)
		}
	}
	vr := tolerance.PercentVector{MaxPercent: 10, References: []float64{1, 0}}
	if fail, _ := tolerance.Evaluate(vr, tolerance.Vector(1, 0)); !fail {
		t.Error("expected zero reference element to fail")
	}
}

func TestNaNAlwaysFails(t *testing.T) {
	rules := []tolerance.Rule{
		tolerance.GreaterThan{Min: 0},
		tolerance.LessThan{Max: 1e9},
		tolerance.WithinBand{Width: 1e9, Center: 0},
		tolerance.PercentDeviation{MaxPercent: 1e9, Reference: 1},
	}
	for _, r := range rules {
		if fail, _ := tolerance.Evaluate(r, tolerance.Scalar(math.NaN())); !fail {
			t.Errorf("%v: expected NaN to fail", r)
		}
	}
}

func TestVectorRules(t *testing.T) {
	r := tolerance.BandVector{Width: 1, Centers: []float64{60, 6, 6}}
	if fail, _ := tolerance.Evaluate(r, tolerance.Vector(60.5, 6.9, 5.1)); fail {
		t.Error("expected all-in vector to pass")
	}
	if fail, _ := tolerance.Evaluate(r, tolerance.Vector(60.5, 6.9, 7.2)); !fail {
		t.Error("expected last element to fail the vector")
	}
}

func TestDiagnoseReportsWorstNotFirst(t *testing.T) {
	r := tolerance.BandVector{Width: 1, Centers: []float64{60, 6, 6}}
	d, err := tolerance.Diagnose(r, tolerance.Vector(61.5, 6, 9))
	if err != nil {
		t.Fatal(err)
	}
	if !d.Failed {
		t.Fatal("expected failure")
	}
	if diff := cmp.Diff([]int{0, 2}, d.Failing); diff != "" {
		t.Errorf("failing elements mismatch:\n%s", diff)
	}
	if d.Worst != 2 || math.Abs(d.Excess-2) > 1e-12 {
		t.Errorf("expected worst element 2 with excess 2, got %d / %v", d.Worst, d.Excess)
	}
}

func TestDiagnosePassingReportsClosest(t *testing.T) {
	d, err := tolerance.Diagnose(tolerance.LessThan{Max: 0.25}, tolerance.Scalar(0.2))
	if err != nil {
		t.Fatal(err)
	}
	if d.Failed || d.Worst != 0 || math.Abs(d.Excess+0.05) > 1e-12 {
		t.Errorf("unexpected diagnosis %+v", d)
	}
}

func TestArityMismatch(t *testing.T) {
	cases := []struct {
		r tolerance.Rule
		m tolerance.Metric
	}{
		{tolerance.WithinBand{Width: 1, Center: 10}, tolerance.Vector(1, 2)},
		{tolerance.BandVector{Width: 1, Centers: []float64{1, 2, 3}}, tolerance.Vector(1, 2)},
		{tolerance.BandVector{Width: 1, Centers: []float64{1, 2}}, tolerance.Scalar(1)},
		{tolerance.GreaterThan{Min: 1}, tolerance.Label("40")},
		{tolerance.LessThan{Max: 1}, tolerance.Metric{}},
	}
	for _, c := range cases {
		if _, err := tolerance.Evaluate(c.r, c.m); !errors.Is(err, tolerance.ErrArity) {
			t.Errorf("%v with %v: expected ErrArity got %v", c.r, c.m, err)
		}
		if _, err := tolerance.Diagnose(c.r, c.m); !errors.Is(err, tolerance.ErrArity) {
			t.Errorf("%v with %v: expected ErrArity from Diagnose got %v", c.r, c.m, err)
		}
	}
}

func TestInformationalAcceptsAnything(t *testing.T) {
	for _, m := range []tolerance.Metric{tolerance.Label("HS"), tolerance.Scalar(math.NaN()), tolerance.Vector(1, 2)} {
		for _, r := range []tolerance.Rule{nil, tolerance.Informational{}} {
			fail, err := tolerance.Evaluate(r, m)
			if err != nil || fail {
				t.Errorf("%v: expected pass, got %v %v", m, fail, err)
			}
		}
	}
}

func TestParse(t *testing.T) {
	cases := []struct {
		in       string
		expected tolerance.Rule
	}{
		{"> 0.3", tolerance.GreaterThan{Min: 0.3}},
		{"gt 0.3", tolerance.GreaterThan{Min: 0.3}},
		{"< 0.25", tolerance.LessThan{Max: 0.25}},
		{"+- 3 60", tolerance.WithinBand{Width: 3, Center: 60}},
		{"band 1.75,54,54,60", tolerance.BandVector{Width: 1.75, Centers: []float64{54, 54, 60}}},
		{"% 4 1.5", tolerance.PercentDeviation{MaxPercent: 4, Reference: 1.5}},
		{"pct 4 1 2", tolerance.PercentVector{MaxPercent: 4, References: []float64{1, 2}}},
		{"", tolerance.Informational{}},
		{"none", tolerance.Informational{}},
	}
	for _, c := range cases {
		got, err := tolerance.Parse(c.in)
		if err != nil {
			t.Errorf("%q: unexpected error %v", c.in, err)
			continue
		}
		if diff := cmp.Diff(c.expected, got); diff != "" {
			t.Errorf("%q: mismatch (-want +got):\n%s", c.in, diff)
		}
		again, err := tolerance.Parse(got.String())
		if err != nil {
			t.Errorf("%q: reparse of %q failed: %v", c.in, got.String(), err)
			continue
		}
		if diff := cmp.Diff(got, again); diff != "" {
			t.Errorf("%q: String form does not reparse identically:\n%s", c.in, diff)
		}
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"> ", "> 1 2", "+- 1", "% 4", "~ 1", "< abc", "none 1"} {
		if _, err := tolerance.Parse(in); err == nil {
			t.Errorf("%q: expected parse error", in)
		}
	}
}

func TestMetricCells(t *testing.T) {
	if got := tolerance.Vector(60.25, 6, -5.5).Cell(); got != "60.25 6 -5.5" {
		t.Errorf("expected space joined cell got %q", got)
	}
	if got := tolerance.Label("HS").Cell(); got != "HS" {
		t.Errorf("expected HS got %q", got)
	}
	if got := (tolerance.Metric{}).Cell(); got != "" {
		t.Errorf("expected blank cell got %q", got)
	}
	if !math.IsNaN((tolerance.Metric{}).Value()) {
		t.Error("expected NaN value for empty metric")
	}
}
