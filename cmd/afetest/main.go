/*Command afetest runs analog front-end board validation on a Red Pitaya test
fixture.  It steps operators through a suite interactively, serves the same
sequencer over HTTP, and exposes the fixture for bench debugging.

Usage:

	afetest <command> [flags]

Commands:

	run      step through the configured suite, board after board
	serve    expose the sequencer over HTTP
	capture  take a single capture and print or archive it
	gen      drive the signal generator
	power    switch the board supply
	tests    list the configured suite
	mkconf   write the effective configuration to afetest.yml
	conf     print the effective configuration
	version  print the version
*/
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/hcitlab/afetest/config"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// global flags
	configPath string
	useMock    bool
	verbose    bool

	// cfg is loaded before any command runs
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "afetest",
	Short: "analog front-end board validation",
	Long: `afetest validates analog front-end boards on a Red Pitaya test fixture.

The fixture routes a board output to the acquisition input through a
multiplexer, drives the board through a step attenuator, and programs the
board's amplifier, VCAs and ADCs over I2C and SPI.  Each test measures one
quantity and judges it against a tolerance rule; a run stops at the first
failure and can be appended to the results ledger.

Configuration comes from defaults, then afetest.yml (or --config), then
AFETEST_ environment variables.  "afetest mkconf" writes a starting file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger()
		c, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		cfg = c
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("afetest version %v\n", Version)
	},
}

var mkconfCmd = &cobra.Command{
	Use:   "mkconf",
	Short: "write the effective configuration to the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Create(configPath)
		if err != nil {
			return err
		}
		defer f.Close()
		return config.Write(f, cfg)
	},
}

var confCmd = &cobra.Command{
	Use:   "conf",
	Short: "print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return config.Write(os.Stdout, cfg)
	},
}

func setupLogger() {
	lvl := slog.LevelInfo
	if verbose {
		lvl = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: time.TimeOnly,
	})))
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.FileName, "configuration file")
	rootCmd.PersistentFlags().BoolVar(&useMock, "mock", false, "use a simulated fixture with a 40 board fitted")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(runCmd, serveCmd, captureCmd, genCmd, powerCmd, testsCmd, mkconfCmd, confCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGABRT)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
