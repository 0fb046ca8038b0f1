package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hcitlab/afetest/ledger"
	"github.com/hcitlab/afetest/metrics"
	"github.com/hcitlab/afetest/redpitaya"
	"github.com/hcitlab/afetest/sequence"
	"github.com/hcitlab/afetest/server"
	"github.com/hcitlab/afetest/server/middleware/locker"
	"github.com/hcitlab/afetest/tolerance"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type bench struct {
	srv    *server.Server
	router http.Handler
	ledger string
	mock   *redpitaya.Mock
}

// newBench runs A (pass) then B, which fails on its first run and passes after
func newBench(t *testing.T) *bench {
	t.Helper()
	reg := prometheus.NewRegistry()
	col, err := metrics.New(reg)
	require.NoError(t, err)

	bCalls := 0
	proc := func(_ context.Context, _ *sequence.Env, d sequence.Definition) (tolerance.Metric, error) {
		if d.Name == "B" {
			bCalls++
			if bCalls == 1 {
				return tolerance.Scalar(0.1), nil
			}
			return tolerance.Scalar(0.3), nil
		}
		return tolerance.Scalar(10.5), nil
	}
	defs := []sequence.Definition{
		{Name: "A", Kind: sequence.KindGain, Rule: tolerance.WithinBand{Width: 1, Center: 10}},
		{Name: "B", Kind: sequence.KindNoise, Rule: tolerance.GreaterThan{Min: 0.2}},
	}
	seq, err := sequence.New(defs, sequence.Bench{},
		sequence.WithLogger(quiet), sequence.WithMetrics(col),
		sequence.WithProcedure(sequence.KindGain, proc),
		sequence.WithProcedure(sequence.KindNoise, proc))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "results.csv")
	l, err := ledger.Open(path, []string{"A", "B"})
	require.NoError(t, err)

	mock := &redpitaya.Mock{}
	s := &server.Server{Seq: seq, Ledger: l, Instrument: mock.Client(quiet), Gatherer: reg, Log: quiet}
	return &bench{srv: s, router: s.Router(), ledger: path, mock: mock}
}

func (b *bench) do(t *testing.T, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	b.router.ServeHTTP(w, req)
	return w
}

func TestAdvanceUntilHaltedThenReset(t *testing.T) {
	b := newBench(t)

	w := b.do(t, http.MethodPost, "/advance", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rep sequence.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rep))
	require.True(t, rep.Passed)
	require.Equal(t, "10.500", rep.Result)

	w = b.do(t, http.MethodPost, "/advance", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"errored":true`)

	w = b.do(t, http.MethodPost, "/advance", "")
	require.Equal(t, http.StatusConflict, w.Code)

	w = b.do(t, http.MethodGet, "/status", "")
	require.Contains(t, w.Body.String(), `"state":"errored"`)
	require.Contains(t, w.Body.String(), `"current":"B"`)

	require.Equal(t, http.StatusOK, b.do(t, http.MethodPost, "/reset", "").Code)
	require.Contains(t, b.do(t, http.MethodGet, "/status", "").Body.String(), `"state":"not-started"`)
}

func TestSaveAppendsToLedger(t *testing.T) {
	b := newBench(t)
	require.Equal(t, http.StatusConflict, b.do(t, http.MethodPost, "/save", "").Code, "nothing to save yet")

	b.do(t, http.MethodPost, "/advance", "")
	b.do(t, http.MethodPost, "/advance", "")

	w := b.do(t, http.MethodGet, "/row", "")
	var row server.RowT
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &row))
	require.Equal(t, "errored", row.Outcome)
	require.Equal(t, map[string]string{"A": "10.5", "B": "0.1"}, row.Cells)

	require.Equal(t, http.StatusOK, b.do(t, http.MethodPost, "/save", "").Code)
	recs, err := ledger.ReadAll(b.ledger)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, row.RunID, recs[0][2])
}

func TestTestsListing(t *testing.T) {
	b := newBench(t)
	var tests []server.TestT
	require.NoError(t, json.Unmarshal(b.do(t, http.MethodGet, "/tests", "").Body.Bytes(), &tests))
	require.Len(t, tests, 2)
	require.Equal(t, server.TestT{Name: "B", Kind: "noise", Rule: "> 0.2"}, tests[1])
}

func TestRawPassthrough(t *testing.T) {
	b := newBench(t)
	w := b.do(t, http.MethodPost, "/raw", `{"str": "*IDN?"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var out server.StrT
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.True(t, strings.HasPrefix(out.Str, "REDPITAYA"))

	require.Equal(t, http.StatusOK, b.do(t, http.MethodPost, "/raw", `{"str": "DIG:PIN DIO0_N,1"}`).Code)
	require.True(t, b.mock.State().Pins[redpitaya.PreampPower])

	require.Equal(t, http.StatusBadRequest, b.do(t, http.MethodPost, "/raw", `{`).Code)
}

func TestLockerBouncesOtherOperators(t *testing.T) {
	b := newBench(t)
	require.Equal(t, http.StatusOK, b.do(t, http.MethodPost, "/lock", `{"bool": true, "user": "ana"}`).Code)

	require.Equal(t, http.StatusLocked, b.do(t, http.MethodPost, "/advance", "").Code)
	require.Equal(t, http.StatusLocked, b.do(t, http.MethodPost, "/advance", "", locker.Header, "ben").Code)
	require.Equal(t, http.StatusOK, b.do(t, http.MethodPost, "/advance", "", locker.Header, "ana").Code)
	require.Equal(t, http.StatusOK, b.do(t, http.MethodGet, "/status", "").Code, "reads are never locked")
	require.Equal(t, http.StatusLocked, b.do(t, http.MethodPost, "/lock", `{"bool": true, "user": "ben"}`).Code)

	var c locker.Claim
	require.NoError(t, json.Unmarshal(b.do(t, http.MethodGet, "/lock", "").Body.Bytes(), &c))
	require.True(t, c.Locked)
	require.Equal(t, "ana", c.User)

	require.Equal(t, http.StatusOK, b.do(t, http.MethodPost, "/lock", `{"bool": false}`).Code)
	require.Equal(t, http.StatusOK, b.do(t, http.MethodPost, "/advance", "").Code)
}

func TestMetricsAndRoutes(t *testing.T) {
	b := newBench(t)
	b.do(t, http.MethodPost, "/advance", "")
	body := b.do(t, http.MethodGet, "/metrics", "").Body.String()
	require.Contains(t, body, `afetest_tests_total{test="A",verdict="ok"} 1`)

	var routes []string
	require.NoError(t, json.Unmarshal(b.do(t, http.MethodGet, "/list-of-routes", "").Body.Bytes(), &routes))
	require.Contains(t, routes, "POST /advance")
	require.Contains(t, routes, "GET /metrics")
}
