package tolerance

import (
	"math"
	"strconv"
	"strings"

	"github.com/hcitlab/afetest/util"
)

// Metric is the reduced result of one measurement: a scalar, a fixed-length
// vector, or a label (the identified board, for example).  The zero Metric
// is empty and records as a blank cell.
type Metric struct {
	values []float64
	vector bool
	label  string
	isLbl  bool
}

// Scalar makes a single-valued metric
func Scalar(v float64) Metric { return Metric{values: []float64{v}} }

// Vector makes a vector metric.  The values are copied.
func Vector(vs ...float64) Metric {
	cp := make([]float64, len(vs))
	copy(cp, vs)
	return Metric{values: cp, vector: true}
}

// Label makes a textual metric
func Label(s string) Metric { return Metric{label: s, isLbl: true} }

// IsZero reports whether m holds nothing
func (m Metric) IsZero() bool { return !m.isLbl && len(m.values) == 0 }

// IsScalar reports whether m is a scalar
func (m Metric) IsScalar() bool { return !m.isLbl && !m.vector && len(m.values) == 1 }

// IsVector reports whether m is a vector
func (m Metric) IsVector() bool { return m.vector }

// IsLabel reports whether m is a label
func (m Metric) IsLabel() bool { return m.isLbl }

// Len is the number of numeric values
func (m Metric) Len() int { return len(m.values) }

// Value is the scalar value, or the first element of a vector.  NaN if there is none.
func (m Metric) Value() float64 {
	if len(m.values) == 0 {
		return math.NaN()
	}
	return m.values[0]
}

// Values returns a copy of the numeric values
func (m Metric) Values() []float64 {
	cp := make([]float64, len(m.values))
	copy(cp, m.values)
	return cp
}

// Text is the label of a label metric
func (m Metric) Text() string { return m.label }

// Format renders numbers with prec decimals, vectors joined by a space
func (m Metric) Format(prec int) string {
	if m.isLbl {
		return m.label
	}
	return util.FormatFloats(m.values, prec, " ")
}

// String renders with three decimals
func (m Metric) String() string { return m.Format(3) }

// Cell renders at full precision for the ledger
func (m Metric) Cell() string {
	if m.isLbl {
		return m.label
	}
	s := make([]string, len(m.values))
	for i, v := range m.values {
		s[i] = strconv.FormatFloat(v, 'G', -1, 64)
	}
	return strings.Join(s, " ")
}
