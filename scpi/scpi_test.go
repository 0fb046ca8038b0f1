package scpi_test

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hcitlab/afetest/comm"
	"github.com/hcitlab/afetest/scpi"
)

// device answers queries from a fixed table and records every command
type device struct {
	mu      sync.Mutex
	answers map[string]string
	pending bytes.Buffer
	out     bytes.Buffer
	seen    []string
}

func (d *device) Write(b []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending.Write(b)
	for {
		line, err := d.pending.ReadString('\n')
		if err != nil {
			d.pending.WriteString(line)
			break
		}
		cmd := strings.TrimRight(line, "\r\n")
		d.seen = append(d.seen, cmd)
		if ans, ok := d.answers[cmd]; ok {
			d.out.WriteString(ans + "\r\n")
		}
	}
	return len(b), nil
}

func (d *device) Read(b []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.out.Len() == 0 {
		return 0, io.EOF
	}
	return d.out.Read(b)
}

func (d *device) Close() error { return nil }

func newSCPI(d *device) *scpi.SCPI {
	maker := func() (io.ReadWriteCloser, error) { return d, nil }
	return &scpi.SCPI{Pool: comm.NewPool(1, time.Minute, maker)}
}

func TestWriteTerminatesEachCommand(t *testing.T) {
	d := &device{}
	s := newSCPI(d)
	if err := s.Write("ACQ:RST", "ACQ:DEC 8"); err != nil {
		t.Fatal(err)
	}
	expected := []string{"ACQ:RST", "ACQ:DEC 8"}
	if len(d.seen) != 2 || d.seen[0] != expected[0] || d.seen[1] != expected[1] {
		t.Errorf("expected %v got %v", expected, d.seen)
	}
}

func TestReadTypes(t *testing.T) {
	d := &device{answers: map[string]string{
		"ACQ:TRIG:FILL?": "1",
		"ACQ:DEC?":       "64",
		"SOUR1:FREQ?":    "26000.5",
		"OUTPUT1:STATE?": "ON",
		"ACQ:TRIG:STAT?": "TD",
	}}
	s := newSCPI(d)
	i, err := s.ReadInt("ACQ:DEC?")
	if err != nil || i != 64 {
		t.Errorf("expected 64 got %v (%v)", i, err)
	}
	f, err := s.ReadFloat("SOUR1:FREQ?")
	if err != nil || f != 26000.5 {
		t.Errorf("expected 26000.5 got %v (%v)", f, err)
	}
	b, err := s.ReadBool("OUTPUT1:STATE?")
	if err != nil || !b {
		t.Errorf("expected true got %v (%v)", b, err)
	}
	str, err := s.ReadString("ACQ:TRIG:STAT?")
	if err != nil || str != "TD" {
		t.Errorf("expected TD got %q (%v)", str, err)
	}
	b, err = s.ReadBool("ACQ:TRIG:FILL?")
	if err != nil || !b {
		t.Errorf("expected true got %v (%v)", b, err)
	}
}

func TestHandshakingSurfacesDeviceErrors(t *testing.T) {
	d := &device{answers: map[string]string{
		"SYST:ERR?": `-113,"Undefined header"`,
	}}
	s := newSCPI(d)
	s.Handshaking = true
	if err := s.Write("BOGUS"); err == nil {
		t.Error("expected device error to be returned")
	}
}

func TestRawQueryAndCommand(t *testing.T) {
	d := &device{answers: map[string]string{"*IDN?": "REDPITAYA,INSTR2020"}}
	s := newSCPI(d)
	s.Limiter = rate.NewLimiter(rate.Inf, 1)
	resp, err := s.Raw("*IDN?")
	if err != nil || resp != "REDPITAYA,INSTR2020" {
		t.Errorf("expected IDN reply got %q (%v)", resp, err)
	}
	resp, err = s.Raw("GEN:RST")
	if err != nil || resp != "" {
		t.Errorf("expected blank reply to command got %q (%v)", resp, err)
	}
}

func TestMissingReplyIsAnError(t *testing.T) {
	d := &device{}
	s := newSCPI(d)
	if _, err := s.ReadString("ACQ:TRIG:STAT?"); err == nil {
		t.Error("expected an error when the device never answers")
	}
}
