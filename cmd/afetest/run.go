package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/theckman/yacspin"

	"github.com/hcitlab/afetest/ledger"
	"github.com/hcitlab/afetest/sequence"
)

var (
	saveRows bool
	oneBoard bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "step through the configured suite, board after board",
	Long: `run executes the configured suite one test at a time, printing each
result as it is judged.  The suite stops at the first failing test.  When it
stops, press ENTER to test another board or type anything else to quit.
When a test cannot complete, r retries it, ENTER abandons the board and
starts another, anything else quits.

With --save every finished board is appended to the results ledger.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBoards(cmd.Context(), os.Stdin, os.Stdout)
	},
}

func init() {
	runCmd.Flags().BoolVarP(&saveRows, "save", "s", false, "append every finished board to the ledger")
	runCmd.Flags().BoolVar(&oneBoard, "once", false, "test a single board and exit")
}

func newSpinner(w io.Writer) (*yacspin.Spinner, error) {
	return yacspin.New(yacspin.Config{
		Writer:            w,
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
}

// progress is the per-test activity display, a *yacspin.Spinner in the CLI
type progress interface {
	Message(string)
	Start() error
	StopMessage(string)
	Stop() error
	StopFailMessage(string)
	StopFail() error
}

func runBoards(ctx context.Context, in io.Reader, out io.Writer) error {
	log := slog.Default()
	inst, err := openInstrument(cfg, useMock, log)
	if err != nil {
		return err
	}
	defer inst.Close()
	defer func() {
		if err := inst.client.Safe(); err != nil {
			log.Error("could not leave the fixture safe", "err", err)
		}
	}()
	seq, err := inst.sequencer(cfg, log)
	if err != nil {
		return err
	}
	sess := &session{seq: seq, out: out, keys: bufio.NewScanner(in), once: oneBoard}
	if saveRows {
		sess.led, err = ledger.Open(cfg.Ledger.Path, seq.Names())
		if err != nil {
			return err
		}
	}
	sess.spin, err = newSpinner(out)
	if err != nil {
		return err
	}
	return sess.loop(ctx)
}

// session tests boards one after another until the operator quits
type session struct {
	seq  *sequence.Sequencer
	led  *ledger.Ledger
	spin progress
	keys *bufio.Scanner
	out  io.Writer
	once bool
}

func (s *session) loop(ctx context.Context) error {
	for {
		err := runBoard(ctx, s.seq, s.spin)
		var te *sequence.TestError
		if err != nil && !errors.As(err, &te) {
			return err
		}
		if te != nil {
			fmt.Fprintf(s.out, "%s did not complete: %v\n", te.Name, te.Err)
			if s.once || ctx.Err() != nil {
				return errors.Join(err, s.save())
			}
			switch s.ask("r to retry the test, ENTER to test another board, anything else to quit: ") {
			case "r":
				continue
			case "":
				if err := s.save(); err != nil {
					return err
				}
				s.seq.Reset()
				continue
			default:
				return errors.Join(err, s.save())
			}
		}

		row := s.seq.Row()
		fmt.Fprintf(s.out, "board %s %s, run %s\n", orUnknown(row.Board), row.Outcome, row.RunID)
		if err := s.save(); err != nil {
			return err
		}
		if s.once || s.ask("ENTER to test another board, anything else to quit: ") != "" {
			return nil
		}
		s.seq.Reset()
	}
}

// ask prompts and returns the trimmed answer; end of input reads as "q"
func (s *session) ask(prompt string) string {
	fmt.Fprint(s.out, prompt)
	if !s.keys.Scan() {
		return "q"
	}
	return strings.TrimSpace(s.keys.Text())
}

// save appends the current row, if anything was recorded, to the ledger.
// An abandoned run keeps its "running" outcome.
func (s *session) save() error {
	row := s.seq.Row()
	if s.led == nil || row.Recorded() == 0 {
		return nil
	}
	if err := s.led.Append(row); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "saved run %s to %s\n", row.RunID, s.led.Path())
	return nil
}

// runBoard advances seq until it errors or completes
func runBoard(ctx context.Context, seq *sequence.Sequencer, spin progress) error {
	for {
		spin.Message(seq.Status().Current)
		if err := spin.Start(); err != nil {
			return err
		}
		rep, err := seq.Advance(ctx)
		if err != nil {
			spin.StopFailMessage(err.Error())
			_ = spin.StopFail()
			return err
		}
		if rep.Passed {
			spin.StopMessage(rep.Line())
			err = spin.Stop()
		} else {
			spin.StopFailMessage(rep.Line())
			err = spin.StopFail()
		}
		if err != nil {
			return err
		}
		if rep.Status.Errored || rep.Status.Completed {
			return nil
		}
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "(unidentified)"
	}
	return s
}
