package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hcitlab/afetest/ledger"
	"github.com/hcitlab/afetest/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "expose the sequencer over HTTP",
	Long: `serve runs the configured suite behind an HTTP interface.  Clients step it
with POST /advance, read /status and /row, and append finished boards to the
ledger with POST /save.  POST /lock claims the bench for one operator; while
claimed, other operators may only read.  Prometheus metrics are on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	log := slog.Default()
	inst, err := openInstrument(cfg, useMock, log)
	if err != nil {
		return err
	}
	defer inst.Close()
	seq, err := inst.sequencer(cfg, log)
	if err != nil {
		return err
	}
	led, err := ledger.Open(cfg.Ledger.Path, seq.Names())
	if err != nil {
		return err
	}
	srv := &server.Server{
		Seq:        seq,
		Ledger:     led,
		Instrument: inst.client,
		Gatherer:   inst.reg,
		Log:        log,
	}
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Mount("/", srv.Router())
	hs := &http.Server{Addr: cfg.Server.Addr, Handler: root}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("now listening for requests", "addr", hs.Addr)
		if err := hs.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(sctx)
	})
	err = g.Wait()
	if serr := inst.client.Safe(); serr != nil {
		log.Error("could not leave the fixture safe", "err", serr)
	}
	return err
}
