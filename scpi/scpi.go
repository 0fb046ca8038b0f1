// Package scpi provides primitives for working with devices that
// have SCPI-style ASCII interfaces
package scpi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hcitlab/afetest/comm"
)

const (
	// DefaultTimeout bounds each exchange with the device
	DefaultTimeout = 5 * time.Second

	// TxTerminator ends every command sent to the device
	TxTerminator = "\r\n"

	// RxTerminator ends every reply from the device
	RxTerminator = '\n'
)

// ErrEmptyReply is returned when a query is answered with a blank line
var ErrEmptyReply = errors.New("empty reply")

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	Pool *comm.Pool

	// Handshaking indicates if the communication shall use handshaking,
	// where an error query is sent after every command
	// to ensure the device accepted the input
	Handshaking bool

	// Limiter paces commands.  Single-board instruments drop commands
	// that arrive faster than their SCPI server drains them.  nil means
	// no pacing.
	Limiter *rate.Limiter

	// Timeout bounds each exchange, DefaultTimeout if zero
	Timeout time.Duration
}

func (s *SCPI) timeout() time.Duration {
	if s.Timeout == 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

func (s *SCPI) wait() error {
	if s.Limiter == nil {
		return nil
	}
	return s.Limiter.Wait(context.Background())
}

// exchange sends each cmd on one connection.  If query is true the reply
// to the last command is returned.
func (s *SCPI) exchange(query bool, cmds ...string) (resp string, err error) {
	conn, err := s.Pool.Get()
	if err != nil {
		return "", err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	var wrap io.ReadWriter
	wrap, err = comm.NewTimeout(conn, s.timeout())
	if err != nil {
		return "", err
	}
	term := comm.NewTerminator(wrap, RxTerminator, TxTerminator)
	for i, cmd := range cmds {
		if err = s.wait(); err != nil {
			return "", err
		}
		if _, err = io.WriteString(term, cmd); err != nil {
			return "", err
		}
		if query && i == len(cmds)-1 {
			resp, err = term.ReadLine()
			if err != nil {
				return "", err
			}
		}
		if s.Handshaking {
			if err = s.checkError(term); err != nil {
				return "", err
			}
		}
	}
	return resp, nil
}

func (s *SCPI) checkError(term *comm.Terminator) error {
	str, err := term.Query("SYST:ERR?")
	if err != nil {
		return err
	}
	if strings.HasPrefix(str, "0") || strings.HasPrefix(str, "+0") {
		return nil
	}
	return fmt.Errorf("device error: %s", str)
}

// Write sends one or more commands to the device, one per line.
// if s.Handshaking == true, it also requests an error response
// after each and checks that it is OK.
func (s *SCPI) Write(cmds ...string) error {
	_, err := s.exchange(false, cmds...)
	return err
}

// WriteRead sends the commands, then returns the reply to the last one.
// It is assumed that "get" calls use this underlying mechanism
func (s *SCPI) WriteRead(cmds ...string) ([]byte, error) {
	resp, err := s.exchange(true, cmds...)
	return []byte(resp), err
}

// ReadString sends a command to the device, then reads the response
// and returns it with terminators removed
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	return s.exchange(true, cmds...)
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	if resp == "" {
		return 0, ErrEmptyReply
	}
	return strconv.ParseFloat(strings.TrimSpace(resp), 64)
}

// ReadBool sends a command to the device, then reads the
// response and parses it as a boolean
func (s *SCPI) ReadBool(cmds ...string) (bool, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return false, err
	}
	switch strings.ToUpper(strings.TrimSpace(resp)) {
	case "ON":
		return true, nil
	case "OFF":
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(resp))
}

// ReadInt sends a command to the device, then reads the
// response and parses it as an integer
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	if resp == "" {
		return 0, ErrEmptyReply
	}
	return strconv.Atoi(strings.TrimSpace(resp))
}

// Raw sends a command to the device and returns a response if it was a query,
// else a blank string
func (s *SCPI) Raw(str string) (string, error) {
	prev := s.Handshaking
	s.Handshaking = false
	defer func() { s.Handshaking = prev }()
	if strings.Contains(str, "?") {
		return s.ReadString(str)
	}
	return "", s.Write(str)
}
