package main

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"

	"github.com/hcitlab/afetest/archive"
	"github.com/hcitlab/afetest/comm"
	"github.com/hcitlab/afetest/config"
	"github.com/hcitlab/afetest/metrics"
	"github.com/hcitlab/afetest/redpitaya"
	"github.com/hcitlab/afetest/scpi"
	"github.com/hcitlab/afetest/sequence"
)

// instrument is an open fixture and its collaborators
type instrument struct {
	client  *redpitaya.Client
	pool    *comm.Pool
	reg     *prometheus.Registry
	metrics *metrics.Collectors
}

// openInstrument connects to the fixture described by c, or to a simulated
// one when mock is set.  Nothing is sent until the first command.
func openInstrument(c config.Config, mock bool, log *slog.Logger) (*instrument, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	col, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}
	inst := &instrument{reg: reg, metrics: col}
	if mock {
		log.Info("using a simulated fixture")
		m := &redpitaya.Mock{Signal: simulatedBoard(defaultSim())}
		inst.client = m.Client(log)
	} else {
		i := c.Instrument
		var maker comm.CreationFunc
		if i.Serial != "" {
			maker = comm.SerialConnMaker(&serial.Config{Name: i.Serial, Baud: i.Baud, ReadTimeout: i.Timeout})
			log.Info("instrument on serial", "port", i.Serial, "baud", i.Baud)
		} else {
			maker = comm.BackingOffTCPConnMaker(i.Addr, i.Timeout)
			log.Info("instrument on tcp", "addr", i.Addr)
		}
		inst.pool = comm.NewPool(1, i.PoolTimeout, maker)
		s := &scpi.SCPI{Pool: inst.pool, Handshaking: i.Handshake, Timeout: i.Timeout}
		if i.CommandRate > 0 {
			s.Limiter = rate.NewLimiter(rate.Limit(i.CommandRate), 1)
		}
		inst.client = redpitaya.New(s, log)
		inst.client.PollInterval = i.PollInterval
		inst.client.PollAttempts = i.PollAttempts
	}
	inst.client.Samples = c.Instrument.Samples
	inst.client.Metrics = col
	return inst, nil
}

// sequencer builds the suite of c over inst
func (inst *instrument) sequencer(c config.Config, log *slog.Logger) (*sequence.Sequencer, error) {
	defs, err := c.Definitions()
	if err != nil {
		return nil, err
	}
	bench := sequence.NewBench(inst.client)
	if c.Archive.Dir != "" {
		bench.Archive = archive.Writer{Dir: c.Archive.Dir}
	}
	return sequence.New(defs, bench,
		sequence.WithParams(c.Sequence),
		sequence.WithLogger(log),
		sequence.WithMetrics(inst.metrics))
}

func (inst *instrument) Close() error {
	if inst.pool == nil {
		return nil
	}
	return inst.pool.Close()
}
