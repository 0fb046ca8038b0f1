/*Package comm provides connection plumbing for line-oriented instruments.

Most usages of this package will boil down to:
	1.  pick a CreationFunc: BackingOffTCPConnMaker for LAN instruments,
		SerialConnMaker for a serial console, or a closure returning any
		io.ReadWriteCloser (a simulator, for example)
	2.  hand it to NewPool
	3.  on every exchange, Get a connection, wrap it in a Terminator (and
		optionally a Timeout), then ReturnWithError when done

A minimal example for a sensor that answers "RD?" with one line:

	pool := comm.NewPool(1, time.Minute, comm.BackingOffTCPConnMaker("10.0.0.5:5000", time.Second))
	conn, err := pool.Get()
	if err != nil {
		return err
	}
	defer func() { pool.ReturnWithError(conn, err) }()
	t := comm.NewTerminator(conn, '\n', "\r\n")
	resp, err := t.Query("RD?")
*/
package comm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")

	// ErrPoolClosed is returned by Get after Close
	ErrPoolClosed = errors.New("connection pool is closed")
)

// BackingOffTCPConnMaker returns a CreationFunc that dials addr with an
// exponential backoff.  Instruments that run a single-client SCPI server
// refuse connections for a short while after the previous client leaves,
// so refusals are retried until the backoff gives up.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		op := func() error {
			var err error
			conn, err = TCPSetup(addr, timeout)
			return err
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * time.Second,
			Clock:               backoff.SystemClock})
		if err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", addr, err)
		}
		return conn, nil
	}
}

// SerialConnMaker returns a CreationFunc that opens a serial port
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(conf)
	}
}

// TCPSetup opens a new TCP connection with a timeout on connect
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}

// Terminator wraps a ReadWriter, appending a transmit terminator to every
// write and reading replies up to a receive terminator
type Terminator struct {
	rw io.ReadWriter
	r  *bufio.Reader
	rx byte
	tx string
}

// NewTerminator returns a new Terminator.  rx is the byte which ends a reply,
// tx is appended to each outbound message.
func NewTerminator(rw io.ReadWriter, rx byte, tx string) *Terminator {
	return &Terminator{rw: rw, r: bufio.NewReader(rw), rx: rx, tx: tx}
}

// Write sends b followed by the transmit terminator.  The returned count
// excludes the terminator.
func (t *Terminator) Write(b []byte) (int, error) {
	buf := make([]byte, 0, len(b)+len(t.tx))
	buf = append(buf, b...)
	buf = append(buf, t.tx...)
	n, err := t.rw.Write(buf)
	if n > len(b) {
		n = len(b)
	}
	return n, err
}

// Read reads one reply, including the receive terminator, into b.
// Replies longer than b are an error; use ReadLine for those.
func (t *Terminator) Read(b []byte) (int, error) {
	line, err := t.r.ReadSlice(t.rx)
	n := copy(b, line)
	if err == nil && n < len(line) {
		err = io.ErrShortBuffer
	}
	return n, err
}

// ReadLine reads one reply of any length and strips the receive terminator
// and any trailing carriage return
func (t *Terminator) ReadLine() (string, error) {
	line, err := t.r.ReadString(t.rx)
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return line, ErrTerminatorNotFound
		}
		return line, err
	}
	line = strings.TrimSuffix(line, string(t.rx))
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

// Query writes cmd and returns the reply line
func (t *Terminator) Query(cmd string) (string, error) {
	if _, err := io.WriteString(t, cmd); err != nil {
		return "", err
	}
	return t.ReadLine()
}

type deadliner interface {
	SetDeadline(time.Time) error
}

// Timeout sets a deadline on the underlying connection before every
// Read and Write
type Timeout struct {
	rw io.ReadWriter
	dl deadliner
	d  time.Duration
}

// NewTimeout wraps rw.  If rw cannot carry deadlines (a pipe or a
// simulator, for example), it is returned as-is.
func NewTimeout(rw io.ReadWriter, d time.Duration) (io.ReadWriter, error) {
	dl, ok := rw.(deadliner)
	if !ok {
		return rw, nil
	}
	if err := dl.SetDeadline(time.Now().Add(d)); err != nil {
		return nil, err
	}
	return &Timeout{rw: rw, dl: dl, d: d}, nil
}

func (t *Timeout) Read(b []byte) (int, error) {
	if err := t.dl.SetDeadline(time.Now().Add(t.d)); err != nil {
		return 0, err
	}
	return t.rw.Read(b)
}

func (t *Timeout) Write(b []byte) (int, error) {
	if err := t.dl.SetDeadline(time.Now().Add(t.d)); err != nil {
		return 0, err
	}
	return t.rw.Write(b)
}
