package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"BoardLedger/internal/analysis"
	"BoardLedger/internal/observability"
	"BoardLedger/internal/persistence"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Analyzer runs league analyses.
type Analyzer interface {
	AnalyzeLeague(ctx context.Context, leagueID string, reconcile bool) (*analysis.Report, error)
	AnalyzeFeed(ctx context.Context, req analysis.FeedRequest) (*analysis.Report, error)
}

// ReportReader reads stored analysis reports.
type ReportReader interface {
	Latest(ctx context.Context, leagueID string) (*persistence.ReportRow, error)
	List(ctx context.Context, leagueID string, limit int) ([]persistence.ReportRow, error)
}

// Deps holds the dependencies of the HTTP API. Reports may be nil when
// no database is configured; the report endpoints then answer 503.
type Deps struct {
	Analyzer      Analyzer
	Reports       ReportReader
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Gatherer      prometheus.Gatherer
	CORSOrigins   []string
	Logger        zerolog.Logger
}

// NewRouter builds the HTTP API.
func NewRouter(deps Deps) http.Handler {
	h := &handler{
		analyzer: deps.Analyzer,
		reports:  deps.Reports,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-League", "X-User"},
		MaxAge:         300,
	}))

	if deps.HealthChecker != nil {
		r.Get("/healthz", deps.HealthChecker.LivenessHandler)
		r.Get("/readyz", deps.HealthChecker.ReadinessHandler)
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(instrument(deps.Metrics))

		r.Post("/analyze", h.Analyze)
		r.Get("/leagues/{leagueID}/budgets", h.GetBudgets)
		r.Get("/leagues/{leagueID}/reports/latest", h.GetLatestReport)
		r.Get("/leagues/{leagueID}/reports", h.ListReports)
	})

	return r
}

// instrument records request counts and latency per route pattern.
func instrument(m *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			endpoint := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					endpoint = pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
			m.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		})
	}
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("took", time.Since(start)).
				Msg("http request")
		})
	}
}
