// Package server exposes the sequencer and the instrument over HTTP
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hcitlab/afetest/ledger"
	"github.com/hcitlab/afetest/sequence"
	"github.com/hcitlab/afetest/server/middleware/locker"
)

// Runner steps a suite.  *sequence.Sequencer satisfies it.
type Runner interface {
	Advance(ctx context.Context) (sequence.Report, error)
	Reset()
	Status() sequence.Status
	Row() sequence.Row
	Definitions() []sequence.Definition
}

// Recorder persists finished rows.  *ledger.Ledger satisfies it.
type Recorder interface {
	Append(row sequence.Row) error
}

// RawQuerier passes commands through to the instrument.  *redpitaya.Client satisfies it.
type RawQuerier interface {
	Raw(cmd string) (string, error)
}

// StrT is a JSON {"str": ...} payload
type StrT struct {
	Str string `json:"str"`
}

// RowT is the JSON form of a result row
type RowT struct {
	RunID   string            `json:"runId"`
	Board   string            `json:"board"`
	Outcome string            `json:"outcome"`
	Names   []string          `json:"names"`
	Cells   map[string]string `json:"cells"`
}

// TestT is the JSON form of a definition
type TestT struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Path   string `json:"path,omitempty"`
	Family string `json:"family,omitempty"`
	Rule   string `json:"rule"`
}

// Server holds the bench and serializes access to it
type Server struct {
	Seq        Runner
	Ledger     Recorder
	Instrument RawQuerier

	// Gatherer backs /metrics; nil uses the default registry
	Gatherer prometheus.Gatherer

	Log  *slog.Logger
	Lock *locker.Locker

	mu sync.Mutex
}

func (s *Server) log() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

// Router builds the chi router
func (s *Server) Router() chi.Router {
	if s.Lock == nil {
		s.Lock = locker.New()
	}
	g := s.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.Lock.Check)
	s.Lock.Bind(r)
	r.Get("/status", s.status)
	r.Post("/advance", s.advance)
	r.Post("/reset", s.reset)
	r.Post("/save", s.save)
	r.Get("/row", s.row)
	r.Get("/tests", s.tests)
	r.Post("/raw", s.raw)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	r.Get("/list-of-routes", func(w http.ResponseWriter, _ *http.Request) {
		encode(w, Routes(r))
	})
	return r
}

// Routes lists "METHOD /path" for every route on r
func Routes(r chi.Routes) []string {
	var out []string
	_ = chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		out = append(out, method+" "+route)
		return nil
	})
	sort.Strings(out)
	return out
}

func encode(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fstr := fmt.Sprintf("error encoding data to json %q", err)
		http.Error(w, fstr, http.StatusInternalServerError)
	}
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	encode(w, s.Seq.Status())
}

func (s *Server) advance(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep, err := s.Seq.Advance(r.Context())
	switch {
	case errors.Is(err, sequence.ErrHalted):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		s.log().Error("advance", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	encode(w, rep)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Seq.Reset()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) save(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Ledger == nil {
		http.Error(w, "no ledger configured", http.StatusServiceUnavailable)
		return
	}
	row := s.Seq.Row()
	if row.IsZero() {
		http.Error(w, "no run to save", http.StatusConflict)
		return
	}
	err := s.Ledger.Append(row)
	switch {
	case errors.Is(err, ledger.ErrHeaderMismatch):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.log().Info("row saved", "run", row.RunID, "outcome", row.Outcome)
	encode(w, StrT{Str: row.RunID})
}

func (s *Server) row(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	row := s.Seq.Row()
	names := make([]string, 0)
	for _, d := range s.Seq.Definitions() {
		names = append(names, d.Name)
	}
	s.mu.Unlock()

	out := RowT{RunID: row.RunID, Board: row.Board, Outcome: row.Outcome.String(), Names: names, Cells: map[string]string{}}
	for _, n := range names {
		if m, ok := row.Metric(n); ok {
			out.Cells[n] = m.Cell()
		}
	}
	encode(w, out)
}

func (s *Server) tests(w http.ResponseWriter, r *http.Request) {
	defs := s.Seq.Definitions()
	out := make([]TestT, len(defs))
	for i, d := range defs {
		c := d.Config()
		out[i] = TestT{Name: c.Name, Kind: c.Kind, Path: c.Path, Family: c.Family, Rule: c.Rule}
	}
	encode(w, out)
}

// raw sends {"str": cmd} to the instrument.  Commands containing ? are
// queries and the reply is returned as {"str": reply}.
func (s *Server) raw(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	if s.Instrument == nil {
		http.Error(w, "no instrument", http.StatusServiceUnavailable)
		return
	}
	in := StrT{}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, err := s.Instrument.Raw(in.Str)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if strings.Contains(in.Str, "?") {
		encode(w, StrT{Str: resp})
		return
	}
	w.WriteHeader(http.StatusOK)
}
