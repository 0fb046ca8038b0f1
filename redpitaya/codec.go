package redpitaya

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeSamples renders samples in the instrument's data reply form, "{v0,v1,...}"
func EncodeSamples(samples []float64) string {
	var b strings.Builder
	b.Grow(len(samples)*10 + 2)
	b.WriteByte('{')
	for i, v := range samples {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	b.WriteByte('}')
	return b.String()
}

// DecodeSamples parses a data reply.  One pair of enclosing braces or
// brackets is stripped, whitespace around tokens is ignored, and every token
// must parse as a float.  An empty list is an error.
func DecodeSamples(reply string) ([]float64, error) {
	s := strings.TrimSpace(reply)
	if s == "" {
		return nil, ErrEmptyReply
	}
	switch {
	case strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}"),
		strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
		s = s[1 : len(s)-1]
	case strings.ContainsAny(s[:1], "{[") || strings.ContainsAny(s[len(s)-1:], "}]"):
		return nil, fmt.Errorf("unbalanced delimiters")
	}
	if strings.TrimSpace(s) == "" {
		return nil, ErrEmptyReply
	}
	tokens := strings.Split(s, ",")
	out := make([]float64, len(tokens))
	for i, tok := range tokens {
		v, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
