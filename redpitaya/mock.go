package redpitaya

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hcitlab/afetest/comm"
	"github.com/hcitlab/afetest/scpi"
	"github.com/hcitlab/afetest/util"
)

// Stimulus is the fixture state the Mock hands to its Signal func
type Stimulus struct {
	Decimation int
	Channel    int

	GenOn   bool
	GenFunc string
	GenFreq float64
	GenAmpl float64

	Pins [8]bool

	// I2CByte holds the last raw byte written to each address
	I2CByte map[int]int

	// I2CReg holds SMBus registers by {address, register}
	I2CReg map[[2]int]int

	// LastSPI is the most recent SPI message sent
	LastSPI []int

	// Capture counts data fetches, starting at 1 for the first
	Capture int
}

// Mock is a simulated instrument.  It implements io.ReadWriteCloser and
// answers the same ASCII dialect as the real SCPI server, so a Client built
// on it exercises the full protocol path.  Zero value is ready to use and
// produces flat zero captures.
type Mock struct {
	// TriggerPolls is the number of "WAIT" answers before "TD"
	TriggerPolls int

	// FillPolls is the number of "0" answers before "1"
	FillPolls int

	// NeverTrigger keeps the trigger status at "WAIT" forever
	NeverTrigger bool

	// NeverFill keeps the fill status at "0" forever
	NeverFill bool

	// FillAfter keeps the fill status at "0" until this long after ACQ:START
	FillAfter time.Duration

	// DataReply, if not nil, replaces the data reply of every fetch
	DataReply func(capture int) string

	// Signal produces the samples of a capture, nil means zeros
	Signal func(st Stimulus, n int) []float64

	// SPIReply is the byte list returned by SPI:MSG0:RX?
	SPIReply []int

	mu       sync.Mutex
	pending  bytes.Buffer
	out      bytes.Buffer
	commands []string
	started  bool
	trigSeen int
	startAt  time.Time
	fillSeen int
	i2cAddr  int
	st       Stimulus
}

// Client returns a Client talking to m through a pool and SCPI layer, the
// same stack used against hardware
func (m *Mock) Client(log *slog.Logger) *Client {
	maker := func() (io.ReadWriteCloser, error) { return m, nil }
	s := &scpi.SCPI{Pool: comm.NewPool(1, time.Minute, maker), Timeout: time.Second}
	c := New(s, log)
	c.PollInterval = 0
	return c
}

// Commands returns every line received, in order
func (m *Mock) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.commands))
	copy(out, m.commands)
	return out
}

// Count returns how many received lines start with prefix
func (m *Mock) Count(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.commands {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// State returns a snapshot of the simulated fixture
func (m *Mock) State() Stimulus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

func (m *Mock) snapshot() Stimulus {
	st := m.st
	st.I2CByte = make(map[int]int, len(m.st.I2CByte))
	for k, v := range m.st.I2CByte {
		st.I2CByte[k] = v
	}
	st.I2CReg = make(map[[2]int]int, len(m.st.I2CReg))
	for k, v := range m.st.I2CReg {
		st.I2CReg[k] = v
	}
	st.LastSPI = append([]int(nil), m.st.LastSPI...)
	return st
}

// Write accepts command bytes; every complete line is executed
func (m *Mock) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending.Write(b)
	for {
		line, err := m.pending.ReadString('\n')
		if err != nil {
			// incomplete, keep for the next write
			m.pending.Reset()
			m.pending.WriteString(line)
			break
		}
		cmd := strings.TrimRight(line, "\r\n")
		m.commands = append(m.commands, cmd)
		if reply, ok := m.exec(cmd); ok {
			m.out.WriteString(reply + "\r\n")
		}
	}
	return len(b), nil
}

// Read returns queued replies.  With nothing queued it returns io.EOF
// rather than blocking, so an unanswered query fails fast.
func (m *Mock) Read(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.out.Len() == 0 {
		return 0, io.EOF
	}
	return m.out.Read(b)
}

// Close drops any partial command and unread reply, as a reconnect would
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending.Reset()
	m.out.Reset()
	return nil
}

func (m *Mock) exec(cmd string) (string, bool) {
	name, arg, _ := strings.Cut(cmd, " ")
	upper := strings.ToUpper(name)
	switch {
	case upper == "*IDN?":
		return "REDPITAYA,INSTR2020,0,OS-2.00", true
	case upper == "SYST:ERR?":
		return `0,"No error"`, true
	case upper == "ACQ:RST":
		m.started = false
		m.st.Decimation = 1
	case upper == "ACQ:DEC":
		m.st.Decimation, _ = strconv.Atoi(arg)
	case upper == "ACQ:START":
		m.started = true
		m.startAt = time.Now()
		m.trigSeen, m.fillSeen = 0, 0
	case upper == "ACQ:STOP":
		m.started = false
	case upper == "ACQ:TRIG":
		if strings.HasPrefix(arg, "CH2") {
			m.st.Channel = 2
		} else {
			m.st.Channel = 1
		}
	case upper == "ACQ:TRIG:STAT?":
		m.trigSeen++
		if !m.started || m.NeverTrigger || m.trigSeen <= m.TriggerPolls {
			return "WAIT", true
		}
		return "TD", true
	case upper == "ACQ:TRIG:FILL?":
		m.fillSeen++
		if !m.started || m.NeverFill || m.fillSeen <= m.FillPolls || time.Since(m.startAt) < m.FillAfter {
			return "0", true
		}
		return "1", true
	case strings.HasPrefix(upper, "ACQ:SOUR") && strings.HasSuffix(upper, ":DATA:OLD:N?"):
		m.st.Capture++
		if m.DataReply != nil {
			return m.DataReply(m.st.Capture), true
		}
		n, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil || n <= 0 {
			return "ERR!", true
		}
		var samples []float64
		if m.Signal != nil {
			samples = m.Signal(m.snapshot(), n)
		} else {
			samples = make([]float64, n)
		}
		return EncodeSamples(samples), true
	case upper == "GEN:RST":
		m.st.GenOn = false
		m.st.GenFunc, m.st.GenFreq, m.st.GenAmpl = "", 0, 0
	case upper == "SOUR1:FUNC":
		m.st.GenFunc = arg
	case upper == "SOUR1:FREQ:FIX":
		m.st.GenFreq, _ = strconv.ParseFloat(arg, 64)
	case upper == "SOUR1:VOLT":
		m.st.GenAmpl, _ = strconv.ParseFloat(arg, 64)
	case upper == "OUTPUT1:STATE", upper == "OUTPUT:STATE":
		m.st.GenOn = strings.EqualFold(arg, "ON")
	case upper == "DIG:PIN":
		var pin, v int
		if _, err := fmt.Sscanf(arg, "DIO%d_N,%d", &pin, &v); err == nil && pin >= 0 && pin < len(m.st.Pins) {
			m.st.Pins[pin] = v != 0
		}
	case strings.HasPrefix(upper, "I2C:DEV"):
		m.i2cAddr, _ = strconv.Atoi(strings.TrimPrefix(upper, "I2C:DEV"))
	case upper == "I2C:IO:W:B1":
		v, _ := strconv.Atoi(arg)
		if m.st.I2CByte == nil {
			m.st.I2CByte = make(map[int]int)
		}
		m.st.I2CByte[m.i2cAddr] = v
	case strings.HasPrefix(upper, "I2C:SMBUS:WRITE"):
		reg, _ := strconv.Atoi(strings.TrimPrefix(upper, "I2C:SMBUS:WRITE"))
		v, _ := strconv.Atoi(arg)
		if m.st.I2CReg == nil {
			m.st.I2CReg = make(map[[2]int]int)
		}
		m.st.I2CReg[[2]int{m.i2cAddr, reg}] = v
	case strings.HasPrefix(upper, "I2C:SMBUS:READ") && strings.HasSuffix(upper, "?"):
		reg, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(upper, "I2C:SMBUS:READ"), "?"))
		return strconv.Itoa(m.st.I2CReg[[2]int{m.i2cAddr, reg}]), true
	case strings.HasPrefix(upper, "SPI:MSG0:TX"):
		vals, err := util.ParseIntList(arg)
		if err == nil {
			m.st.LastSPI = vals
		}
	case upper == "SPI:MSG0:RX?":
		return "{" + util.IntSliceToCSV(m.SPIReply) + "}", true
	case strings.HasSuffix(upper, "?"):
		return "ERR!", true
	}
	return "", false
}
