package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hcitlab/afetest/archive"
	"github.com/hcitlab/afetest/redpitaya"
	"github.com/hcitlab/afetest/sequence"
)

var (
	captureEdge bool
	captureFits string
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "take a single capture and print or archive it",
	Long: `capture arms with the configured decimation and trigger, takes one buffer
and writes it as CSV to stdout, or as a FITS file with --fits.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := slog.Default()
		inst, err := openInstrument(cfg, useMock, log)
		if err != nil {
			return err
		}
		defer inst.Close()
		c := inst.client
		if err := c.Arm(cfg.Sequence.Arm); err != nil {
			return err
		}
		var buf redpitaya.SampleBuffer
		if captureEdge {
			buf, err = c.CaptureOnEdge(cmd.Context())
		} else {
			buf, err = c.CaptureNow(cmd.Context())
		}
		if err != nil {
			return err
		}
		log.Info("captured", "samples", buf.Len(), "rate", buf.SampleRate(), "rms", buf.RMS())
		if captureFits == "" {
			return buf.EncodeCSV(os.Stdout)
		}
		f, err := os.Create(captureFits)
		if err != nil {
			return err
		}
		defer f.Close()
		info := sequence.CaptureInfo{Test: "capture", Seq: 1}
		return archive.WriteFits(f, archive.Cards(info, buf), buf.Samples())
	},
}

var genCmd = &cobra.Command{
	Use:   "gen on|off|sine <freq> <ampl>",
	Short: "drive the signal generator",
	Args:  cobra.RangeArgs(1, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := openInstrument(cfg, useMock, slog.Default())
		if err != nil {
			return err
		}
		defer inst.Close()
		c := inst.client
		switch args[0] {
		case "on", "off":
			if len(args) != 1 {
				return fmt.Errorf("gen %s takes no arguments", args[0])
			}
			return c.GeneratorOutput(args[0] == "on")
		case "sine":
			if len(args) != 3 {
				return fmt.Errorf("gen sine needs a frequency and an amplitude")
			}
			freq, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("frequency: %w", err)
			}
			ampl, err := strconv.ParseFloat(args[2], 64)
			if err != nil {
				return fmt.Errorf("amplitude: %w", err)
			}
			if err := c.SetSine(freq, ampl); err != nil {
				return err
			}
			return c.GeneratorOutput(true)
		}
		return fmt.Errorf("unknown generator command %q", args[0])
	},
}

var powerCmd = &cobra.Command{
	Use:       "power on|off",
	Short:     "switch the board supply",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, err := openInstrument(cfg, useMock, slog.Default())
		if err != nil {
			return err
		}
		defer inst.Close()
		return inst.client.PreampOn(args[0] == "on")
	},
}

var testsCmd = &cobra.Command{
	Use:   "tests",
	Short: "list the configured suite",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		defs, err := cfg.Definitions()
		if err != nil {
			return err
		}
		for i, d := range defs {
			c := d.Config()
			fmt.Printf("%2d %-18s %-18s %-9s %s\n", i, c.Name, c.Kind, c.Path, c.Rule)
		}
		return nil
	},
}

func init() {
	captureCmd.Flags().BoolVar(&captureEdge, "edge", false, "wait for a rising edge instead of triggering at once")
	captureCmd.Flags().StringVar(&captureFits, "fits", "", "write the capture to this FITS file")
}
