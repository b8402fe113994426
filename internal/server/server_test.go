package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"BoardLedger/internal/analysis"
	"BoardLedger/internal/event"
	"BoardLedger/internal/ledger"
	"BoardLedger/internal/observability"
	"BoardLedger/internal/persistence"
	"BoardLedger/internal/server"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const marketFeed = `[
	{"type":"market","date":100,"content":[{"to":{"id":1,"name":"A"},"player":5,"amount":1000000}]},
	{"type":"transfer","date":200,"content":[{"from":{"id":2,"name":"B"},"player":6,"amount":400000}]}
]`

type stubSource struct {
	err error
}

func (s *stubSource) FetchRoster(context.Context, string) ([]ledger.RosterEntry, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []ledger.RosterEntry{{ID: "1", Name: "A"}, {ID: "2", Name: "B"}}, nil
}

func (s *stubSource) FetchBoard(context.Context, string) ([]event.FeedEntry, error) {
	if s.err != nil {
		return nil, s.err
	}
	var entries []event.FeedEntry
	if err := json.Unmarshal([]byte(marketFeed), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

type stubReports struct {
	rows []persistence.ReportRow
	err  error
}

func (s *stubReports) Latest(_ context.Context, leagueID string) (*persistence.ReportRow, error) {
	if s.err != nil {
		return nil, s.err
	}
	for _, r := range s.rows {
		if r.LeagueID == leagueID {
			return &r, nil
		}
	}
	return nil, persistence.ErrReportNotFound
}

func (s *stubReports) List(_ context.Context, leagueID string, limit int) ([]persistence.ReportRow, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []persistence.ReportRow
	for _, r := range s.rows {
		if r.LeagueID == leagueID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

type testEnv struct {
	handler http.Handler
	metrics *observability.Metrics
	health  *observability.HealthChecker
}

func newEnv(t *testing.T, source *stubSource, reports server.ReportReader) *testEnv {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	health := observability.NewHealthChecker()

	deps := analysis.Deps{Metrics: m, Logger: zerolog.Nop()}
	if source != nil {
		deps.Source = source
	}
	svc := analysis.NewService(analysis.DefaultConfig(), deps)

	return &testEnv{
		handler: server.NewRouter(server.Deps{
			Analyzer:      svc,
			Reports:       reports,
			HealthChecker: health,
			Metrics:       m,
			Gatherer:      reg,
			CORSOrigins:   []string{"https://board.example"},
			Logger:        zerolog.Nop(),
		}),
		metrics: m,
		health:  health,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeReport(t *testing.T, w *httptest.ResponseRecorder) analysis.Report {
	t.Helper()
	var report analysis.Report
	require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
	return report
}

func TestAnalyze(t *testing.T) {
	env := newEnv(t, nil, nil)

	body := `{"roster":[{"id":1,"name":"A"},{"id":2,"name":"B","balance":12000000}],"feed":` + marketFeed + `}`
	w := env.do(t, http.MethodPost, "/api/v1/analyze", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	report := decodeReport(t, w)
	assert.Equal(t, analysis.AdhocLeague, report.LeagueID)
	assert.True(t, report.Reconciled)
	require.Len(t, report.Summary.Participants, 2)
	assert.Equal(t, "B", report.Summary.Participants[0].Name)
	assert.Equal(t, int64(12_000_000), report.Summary.Participants[0].CurrentBudget)
	require.Len(t, report.Adjustments, 1)
	assert.Equal(t, "2", report.Adjustments[0].ParticipantID)

	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.QueryRequests.WithLabelValues("/api/v1/analyze", "200")))
}

func TestAnalyze_ReconcileDisabled(t *testing.T) {
	env := newEnv(t, nil, nil)

	body := `{"league_id":"9","roster":[{"id":2,"name":"B","balance":1}],"feed":` + marketFeed + `,"reconcile":false}`
	w := env.do(t, http.MethodPost, "/api/v1/analyze", body)
	require.Equal(t, http.StatusOK, w.Code)

	report := decodeReport(t, w)
	assert.Equal(t, "9", report.LeagueID)
	assert.False(t, report.Reconciled)
	assert.Empty(t, report.Adjustments)
	assert.Equal(t, ledger.DefaultInitialBudget+400_000, report.Summary.Participants[0].CurrentBudget)
}

func TestAnalyze_BadRequests(t *testing.T) {
	env := newEnv(t, nil, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{roster`},
		{"roster not an array", `{"roster":{"id":1}}`},
		{"roster entry without id", `{"roster":[{"name":"A"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/analyze", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp server.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, http.StatusBadRequest, resp.Code)
		})
	}
	assert.Equal(t, float64(3), testutil.ToFloat64(env.metrics.QueryErrors.WithLabelValues("analyze", "400")))
}

func TestAnalyze_FeedNotAnArray(t *testing.T) {
	env := newEnv(t, nil, nil)

	w := env.do(t, http.MethodPost, "/api/v1/analyze", `{"roster":[{"id":1,"name":"A"}],"feed":"nope"}`)
	require.Equal(t, http.StatusOK, w.Code)
	report := decodeReport(t, w)
	assert.Equal(t, 0, report.Ingest.Entries)
	assert.Empty(t, report.Summary.Movements)
}

func TestGetBudgets(t *testing.T) {
	env := newEnv(t, &stubSource{}, nil)

	w := env.do(t, http.MethodGet, "/api/v1/leagues/42/budgets", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	report := decodeReport(t, w)
	assert.Equal(t, "42", report.LeagueID)
	assert.Equal(t, analysis.SourceUpstream, report.Source)
	assert.Equal(t, 2, report.Summary.Statistics.TotalTransactions)
	assert.Equal(t, int64(1_400_000), report.Summary.Statistics.TotalVolume)
}

func TestGetBudgets_Errors(t *testing.T) {
	t.Run("no source", func(t *testing.T) {
		env := newEnv(t, nil, nil)
		w := env.do(t, http.MethodGet, "/api/v1/leagues/42/budgets", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("upstream failure", func(t *testing.T) {
		env := newEnv(t, &stubSource{err: errors.New("status=500")}, nil)
		w := env.do(t, http.MethodGet, "/api/v1/leagues/42/budgets", "")
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("bad reconcile flag", func(t *testing.T) {
		env := newEnv(t, &stubSource{}, nil)
		w := env.do(t, http.MethodGet, "/api/v1/leagues/42/budgets?reconcile=maybe", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestReports(t *testing.T) {
	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	reports := &stubReports{rows: []persistence.ReportRow{
		{ID: uuid.New(), LeagueID: "42", Source: "upstream", StateHash: "abc", Summary: json.RawMessage(`{"initial_budget":1}`), CreatedAt: created},
		{ID: uuid.New(), LeagueID: "42", Source: "feed", StateHash: "def", Summary: json.RawMessage(`{}`), CreatedAt: created.Add(-time.Hour)},
	}}
	env := newEnv(t, nil, reports)

	w := env.do(t, http.MethodGet, "/api/v1/leagues/42/reports/latest", "")
	require.Equal(t, http.StatusOK, w.Code)
	var latest persistence.ReportRow
	require.NoError(t, json.NewDecoder(w.Body).Decode(&latest))
	assert.Equal(t, "abc", latest.StateHash)
	assert.JSONEq(t, `{"initial_budget":1}`, string(latest.Summary))

	w = env.do(t, http.MethodGet, "/api/v1/leagues/42/reports?limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Reports []persistence.ReportRow `json:"reports"`
		Count   int                     `json:"count"`
		Limit   int                     `json:"limit"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, 1, list.Limit)

	w = env.do(t, http.MethodGet, "/api/v1/leagues/7/reports/latest", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/leagues/7/reports", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"reports":[]`)
}

func TestReports_StorageErrors(t *testing.T) {
	env := newEnv(t, nil, nil)
	w := env.do(t, http.MethodGet, "/api/v1/leagues/42/reports/latest", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	env = newEnv(t, nil, &stubReports{err: errors.New("connection refused")})
	w = env.do(t, http.MethodGet, "/api/v1/leagues/42/reports", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newEnv(t, nil, nil)

	w := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	env.health.SetReady(true)
	w = env.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	env.do(t, http.MethodPost, "/api/v1/analyze", `{"feed":[]}`)
	w = env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "board_analysis_runs_total")
}

func TestCORSPreflight(t *testing.T) {
	env := newEnv(t, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/analyze", nil)
	req.Header.Set("Origin", "https://board.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	assert.Equal(t, "https://board.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/analyze", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestHTTPServer_ShutdownWaitsForInFlightRequests(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(200 * time.Millisecond)
		finished.Store(true)
		w.WriteHeader(http.StatusNoContent)
	})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := server.NewHTTPServer(lis.Addr().String(), slow, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, lis) }()

	go func() {
		resp, err := http.Get("http://" + lis.Addr().String())
		if err == nil {
			resp.Body.Close()
		}
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("request never reached the handler")
	}
	cancel()

	select {
	case err := <-served:
		require.NoError(t, err)
		assert.True(t, finished.Load(), "Serve returned before the handler finished")
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after shutdown")
	}
}
