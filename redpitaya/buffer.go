package redpitaya

import (
	"bufio"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/hcitlab/afetest/dsp"
)

// SampleBuffer is one decoded capture.  It is a value: accessors return
// copies, so a buffer handed out can't be altered by its holder.
type SampleBuffer struct {
	samples []float64

	// Decimation in effect for the capture
	Decimation int

	// Channel the samples were fetched from
	Channel int

	// Trigger mode used
	Trigger Trigger

	// Captured is the time the fetch completed
	Captured time.Time
}

// NewSampleBuffer copies samples into a new buffer
func NewSampleBuffer(samples []float64, decimation, channel int) SampleBuffer {
	cp := make([]float64, len(samples))
	copy(cp, samples)
	return SampleBuffer{samples: cp, Decimation: decimation, Channel: channel, Captured: time.Now()}
}

// Len is the number of samples
func (b SampleBuffer) Len() int { return len(b.samples) }

// Samples returns a copy of the voltages
func (b SampleBuffer) Samples() []float64 {
	cp := make([]float64, len(b.samples))
	copy(cp, b.samples)
	return cp
}

// At returns sample i
func (b SampleBuffer) At(i int) float64 { return b.samples[i] }

// Head returns a copy of the first n samples
func (b SampleBuffer) Head(n int) []float64 {
	if n > len(b.samples) {
		n = len(b.samples)
	}
	cp := make([]float64, n)
	copy(cp, b.samples[:n])
	return cp
}

// Tail returns a copy of the last n samples
func (b SampleBuffer) Tail(n int) []float64 {
	if n > len(b.samples) {
		n = len(b.samples)
	}
	cp := make([]float64, n)
	copy(cp, b.samples[len(b.samples)-n:])
	return cp
}

// SampleRate in Hz
func (b SampleBuffer) SampleRate() float64 {
	if b.Decimation < 1 {
		return SampleClock
	}
	return SampleClock / float64(b.Decimation)
}

// RMS of the whole buffer
func (b SampleBuffer) RMS() float64 { return dsp.RMS(b.samples) }

// EncodeCSV writes a time,voltage table in streaming fashion
func (b SampleBuffer) EncodeCSV(w io.Writer) error {
	bw := bufio.NewWriter(w)
	writer := csv.NewWriter(bw)
	dt := 1 / b.SampleRate()
	row := []string{"time", "voltage"}
	if err := writer.Write(row); err != nil {
		return err
	}
	for i, v := range b.samples {
		row[0] = strconv.FormatFloat(float64(i)*dt, 'G', -1, 64)
		row[1] = strconv.FormatFloat(v, 'G', -1, 64)
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return bw.Flush()
}
