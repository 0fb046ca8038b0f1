// Package ledger appends one CSV line per run to a results file.  Lines are
// never rewritten; the header is written once and checked on every open.
package ledger

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/snksoft/crc"

	"github.com/hcitlab/afetest/sequence"
)

// trailing columns after the test names
const (
	ColRunID   = "run_id"
	ColSavedAt = "saved_at"
	ColOutcome = "outcome"
	ColCRC     = "crc"
)

var (
	// ErrHeaderMismatch is returned when an existing file was written for a different suite
	ErrHeaderMismatch = errors.New("ledger header does not match the suite")

	// ErrCRC is returned by Verify for a line whose checksum does not match
	ErrCRC = errors.New("ledger line checksum mismatch")

	crcTable = crc.NewTable(crc.XMODEM)
)

// Ledger is an append-only results file
type Ledger struct {
	path   string
	header []string
	now    func() time.Time

	mu sync.Mutex
}

// Header returns the column names for a suite
func Header(names []string) []string {
	h := make([]string, 0, len(names)+4)
	h = append(h, names...)
	return append(h, ColRunID, ColSavedAt, ColOutcome, ColCRC)
}

// Open prepares a ledger at path for the named tests.  The file is created
// on the first Append; an existing file must carry the same header.
func Open(path string, names []string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger path is empty")
	}
	l := &Ledger{path: path, header: Header(names), now: time.Now}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := l.checkHeader(f); err != nil {
		return nil, err
	}
	return l, nil
}

// Path is the file the ledger writes
func (l *Ledger) Path() string { return l.path }

// Columns returns the header
func (l *Ledger) Columns() []string { return append([]string(nil), l.header...) }

// checkHeader compares the first line of r with the expected header.  An
// empty file passes.
func (l *Ledger) checkHeader(r io.Reader) error {
	rec, err := csv.NewReader(bufio.NewReader(r)).Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading ledger header: %w", err)
	}
	if len(rec) != len(l.header) {
		return fmt.Errorf("%w: %d columns in file, %d expected", ErrHeaderMismatch, len(rec), len(l.header))
	}
	for i := range rec {
		if rec[i] != l.header[i] {
			return fmt.Errorf("%w: column %d is %q, expected %q", ErrHeaderMismatch, i, rec[i], l.header[i])
		}
	}
	return nil
}

// Record renders a row as ledger cells, checksum included
func (l *Ledger) Record(row sequence.Row, savedAt time.Time) []string {
	names := l.header[:len(l.header)-4]
	rec := make([]string, 0, len(l.header))
	for _, n := range names {
		m, ok := row.Metric(n)
		if !ok {
			rec = append(rec, "")
			continue
		}
		rec = append(rec, m.Cell())
	}
	rec = append(rec, row.RunID, savedAt.UTC().Format(time.RFC3339), row.Outcome.String())
	return append(rec, checksum(rec))
}

// Append writes row as one line, and the header first if the file is new
func (l *Ledger) Append(row sequence.Row) error {
	if row.IsZero() {
		return errors.New("no run to record")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Size() > 0 {
		// the file may have been replaced since Open
		if err := l.checkHeader(f); err != nil {
			return err
		}
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(l.header); err != nil {
			return err
		}
	}
	if err := w.Write(l.Record(row, l.now())); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}

// checksum is the XMODEM CRC-16 of the cells joined by commas
func checksum(cells []string) string {
	c := crcTable.InitCrc()
	c = crcTable.UpdateCrc(c, []byte(strings.Join(cells, ",")))
	return fmt.Sprintf("%04X", crcTable.CRC16(c))
}

// Verify checks the trailing checksum of a ledger line
func Verify(rec []string) error {
	if len(rec) < 2 {
		return fmt.Errorf("%w: line has %d cells", ErrCRC, len(rec))
	}
	want := checksum(rec[:len(rec)-1])
	if got := rec[len(rec)-1]; got != want {
		return fmt.Errorf("%w: have %s, computed %s", ErrCRC, got, want)
	}
	return nil
}

// ReadAll returns every data line of the ledger at path, header excluded
func ReadAll(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[1:], nil
}
