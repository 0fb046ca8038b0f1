// Package archive keeps the raw captures behind each measurement as FITS files
package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/astrogo/fitsio"

	"github.com/hcitlab/afetest/redpitaya"
	"github.com/hcitlab/afetest/sequence"
)

// WriteFits streams samples to w as a 1-D float64 image
func WriteFits(w io.Writer, metadata []fitsio.Card, samples []float64) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(-64, []int{len(samples)})
	defer im.Close()
	if err = im.Header().Append(metadata...); err != nil {
		return err
	}
	if err = im.Write(samples); err != nil {
		return err
	}
	return fits.Write(im)
}

// ReadFits reads back the primary image and its header written by WriteFits
func ReadFits(r io.Reader) ([]float64, *fitsio.Header, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	im, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return nil, nil, fmt.Errorf("primary HDU is not an image")
	}
	axes := im.Header().Axes()
	if len(axes) != 1 {
		return nil, nil, fmt.Errorf("expected a 1-D image, have %d axes", len(axes))
	}
	samples := make([]float64, axes[0])
	if err := im.Read(&samples); err != nil {
		return nil, nil, err
	}
	return samples, im.Header(), nil
}

// Cards describes a capture
func Cards(info sequence.CaptureInfo, buf redpitaya.SampleBuffer) []fitsio.Card {
	return []fitsio.Card{
		{Name: "TESTNAME", Value: info.Test, Comment: "sub-test the capture belongs to"},
		{Name: "RUNID", Value: info.RunID},
		{Name: "BOARD", Value: info.Board, Comment: "identified board variant"},
		{Name: "CAPSEQ", Value: info.Seq, Comment: "capture number within the test"},
		{Name: "DECIM", Value: buf.Decimation},
		{Name: "SRATE", Value: buf.SampleRate(), Comment: "Hz"},
		{Name: "CHANNEL", Value: buf.Channel},
		{Name: "TRIGGER", Value: buf.Trigger.String()},
		{Name: "DATE-OBS", Value: buf.Captured.UTC().Format("2006-01-02T15:04:05.000")},
	}
}

// Writer stores captures under Dir, one directory per run
type Writer struct {
	Dir string
}

// Path is where a capture is stored
func (w Writer) Path(info sequence.CaptureInfo) string {
	run := info.RunID
	if run == "" {
		run = "adhoc"
	}
	name := fmt.Sprintf("%d_%s_%d.fits", info.Index, sanitize(info.Test), info.Seq)
	return filepath.Join(w.Dir, run, name)
}

// Store writes one capture
func (w Writer) Store(info sequence.CaptureInfo, buf redpitaya.SampleBuffer) error {
	path := w.Path(info)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = WriteFits(f, Cards(info, buf), buf.Samples())
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '-'
		}
		return r
	}, s)
}
