// Package util contains misc internal utilities.
package util

import (
	"fmt"
	"strconv"
	"strings"
)

// IntSliceToCSV converts a slice of ints to CSV formatted data.
// e.g., []int{1,2,3,4,5} => "1,2,3,4,5"
func IntSliceToCSV(is []int) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.Itoa(v)
	}
	return strings.Join(s, ",")
}

// ParseIntList parses a delimited list of integers such as "{1,2,3}".
// Braces, brackets, and whitespace around each token are ignored.
func ParseIntList(s string) ([]int, error) {
	s = strings.Trim(strings.TrimSpace(s), "{}[]")
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("empty integer list")
	}
	pieces := strings.Split(s, ",")
	out := make([]int, len(pieces))
	for i, p := range pieces {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// FormatFloats renders fs with fixed precision, joined by sep
// e.g., ([]float64{1, 2.5}, 3, " ") => "1.000 2.500"
func FormatFloats(fs []float64, prec int, sep string) string {
	s := make([]string, len(fs))
	for i, v := range fs {
		s[i] = strconv.FormatFloat(v, 'f', prec, 64)
	}
	return strings.Join(s, sep)
}

// BytesBigEndian splits the low n bytes of v into a big-endian slice
func BytesBigEndian(v uint32, n int) []int {
	out := make([]int, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = int(v & 0xFF)
		v >>= 8
	}
	return out
}

// SetBit sets a bit in a byte to 1 if value is true, or 0 if false
func SetBit(b byte, bitIndex uint, value bool) byte {
	if value {
		return b | 1<<bitIndex
	}
	return b &^ (1 << bitIndex)
}
