package tolerance

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse reads a rule written as an operator followed by numbers, separated
// by spaces or commas:
//
//	> min                  GreaterThan
//	< max                  LessThan
//	+- width center        WithinBand
//	+- width c0 c1 ...     BandVector
//	% max ref              PercentDeviation
//	% max r0 r1 ...        PercentVector
//
// gt, lt, band and pct are accepted for the operators.  An empty string,
// "none" or "info" is Informational.
func Parse(s string) (Rule, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
	if len(fields) == 0 {
		return Informational{}, nil
	}
	op := strings.ToLower(fields[0])
	args := make([]float64, len(fields)-1)
	for i, f := range fields[1:] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("rule %q: argument %d: %w", s, i+1, err)
		}
		args[i] = v
	}
	want := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("rule %q: %s takes %d argument(s), got %d", s, op, n, len(args))
		}
		return nil
	}
	switch op {
	case "none", "info":
		if err := want(0); err != nil {
			return nil, err
		}
		return Informational{}, nil
	case ">", "gt":
		if err := want(1); err != nil {
			return nil, err
		}
		return GreaterThan{Min: args[0]}, nil
	case "<", "lt":
		if err := want(1); err != nil {
			return nil, err
		}
		return LessThan{Max: args[0]}, nil
	case "+-", "±", "band":
		switch {
		case len(args) < 2:
			return nil, fmt.Errorf("rule %q: %s takes a width and at least one center", s, op)
		case len(args) == 2:
			return WithinBand{Width: args[0], Center: args[1]}, nil
		}
		return BandVector{Width: args[0], Centers: args[1:]}, nil
	case "%", "pct":
		switch {
		case len(args) < 2:
			return nil, fmt.Errorf("rule %q: %s takes a percentage and at least one reference", s, op)
		case len(args) == 2:
			return PercentDeviation{MaxPercent: args[0], Reference: args[1]}, nil
		}
		return PercentVector{MaxPercent: args[0], References: args[1:]}, nil
	}
	return nil, fmt.Errorf("rule %q: unknown operator %q", s, fields[0])
}

// MustParse is Parse for rule tables fixed at compile time.  It panics on error.
func MustParse(s string) Rule {
	r, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return r
}
