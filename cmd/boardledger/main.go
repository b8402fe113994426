package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"BoardLedger/internal/analysis"
	"BoardLedger/internal/core"
	"BoardLedger/internal/ledger"
	"BoardLedger/internal/observability"
	"BoardLedger/internal/outbound"
	"BoardLedger/internal/persistence"
	"BoardLedger/internal/server"
	"BoardLedger/internal/upstream"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// Config holds all application configuration, loaded from environment
// variables. Postgres, Redis and NATS are optional: an empty URL disables
// the component.
type Config struct {
	// Storage
	PostgresDSN string
	RedisURL    string
	NATSURL     string

	// HTTP
	HTTPAddr    string
	CORSOrigins []string

	// Upstream
	UpstreamURL        string
	UpstreamToken      string
	UpstreamUser       string
	UpstreamLeagueSlug string
	UpstreamPageSize   int
	UpstreamTimeout    time.Duration
	CacheTTL           time.Duration

	// Engine
	InitialBudget      int64
	ReconcileTolerance int64

	// Channels
	ReportChanSize  int
	PublishChanSize int

	// Persistence worker
	PersistBatchSize    int
	PersistFlushTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		PostgresDSN:         envOrDefault("BOARD_POSTGRES_DSN", ""),
		RedisURL:            envOrDefault("BOARD_REDIS_URL", ""),
		NATSURL:             envOrDefault("BOARD_NATS_URL", ""),
		HTTPAddr:            envOrDefault("BOARD_HTTP_ADDR", ":8080"),
		CORSOrigins:         splitList(envOrDefault("BOARD_CORS_ORIGINS", "*")),
		UpstreamURL:         envOrDefault("BOARD_UPSTREAM_URL", upstream.DefaultBaseURL),
		UpstreamToken:       envOrDefault("BOARD_UPSTREAM_TOKEN", ""),
		UpstreamUser:        envOrDefault("BOARD_UPSTREAM_USER", ""),
		UpstreamLeagueSlug:  envOrDefault("BOARD_UPSTREAM_LEAGUE_SLUG", "la-liga"),
		UpstreamPageSize:    envIntOrDefault("BOARD_UPSTREAM_PAGE_SIZE", upstream.DefaultPageSize),
		UpstreamTimeout:     envDurationOrDefault("BOARD_UPSTREAM_TIMEOUT", 15*time.Second),
		CacheTTL:            envDurationOrDefault("BOARD_CACHE_TTL", time.Minute),
		InitialBudget:       int64(envIntOrDefault("BOARD_INITIAL_BUDGET", int(ledger.DefaultInitialBudget))),
		ReconcileTolerance:  int64(envIntOrDefault("BOARD_RECONCILE_TOLERANCE", int(core.DefaultTolerance))),
		ReportChanSize:      envIntOrDefault("BOARD_REPORT_CHAN_SIZE", 256),
		PublishChanSize:     envIntOrDefault("BOARD_PUBLISH_CHAN_SIZE", 256),
		PersistBatchSize:    envIntOrDefault("BOARD_PERSIST_BATCH_SIZE", 20),
		PersistFlushTimeout: envDurationOrDefault("BOARD_PERSIST_FLUSH_TIMEOUT", 500*time.Millisecond),
	}
}

func main() {
	logger := observability.NewLogger("boardledger")
	logger.Info().Msg("BoardLedger starting")

	cfg := DefaultConfig()

	// --- Context with graceful shutdown ---
	// Workers get their own context so they can drain after the HTTP server stops.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Observability ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)
	healthChecker := observability.NewHealthChecker()

	errChan := make(chan error, 10)
	var workers []chan struct{}
	startWorker := func(name string, run func(context.Context) error) {
		done := make(chan struct{})
		workers = append(workers, done)
		go func() {
			defer close(done)
			if err := run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	deps := analysis.Deps{
		Metrics: metrics,
		Logger:  observability.NewLogger("analysis"),
	}

	// --- Postgres ---
	var reports server.ReportReader
	var persistChan chan persistence.ReportRow
	if cfg.PostgresDSN != "" {
		db, err := openPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres")
		}
		defer db.Close()
		logger.Info().Msg("Postgres connected")

		if err := persistence.NewMigrator(db, observability.NewLogger("migrator")).Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}

		store := persistence.NewReportStore(db)
		reports = store
		deps.Archive = persistence.NewFeedArchive(db)

		// Blocking channel: analyses wait for the worker rather than lose reports.
		persistChan = make(chan persistence.ReportRow, cfg.ReportChanSize)
		deps.PersistChan = persistChan

		worker := persistence.NewReportWorker(store, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout,
			metrics, observability.NewLogger("report-worker"))
		startWorker("report worker", worker.Run)

		healthChecker.AddProbe("postgres", db.PingContext)
	} else {
		logger.Warn().Msg("BOARD_POSTGRES_DSN not set, reports and feed archive disabled")
	}

	// --- Upstream ---
	var source upstream.Source = upstream.NewClient(upstream.ClientConfig{
		BaseURL:    cfg.UpstreamURL,
		Token:      cfg.UpstreamToken,
		UserID:     cfg.UpstreamUser,
		LeagueSlug: cfg.UpstreamLeagueSlug,
		PageSize:   cfg.UpstreamPageSize,
		Timeout:    cfg.UpstreamTimeout,
	}, metrics)

	// --- Redis ---
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse redis url")
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("redis ping")
		}
		logger.Info().Dur("ttl", cfg.CacheTTL).Msg("Redis connected, upstream cache enabled")

		source = upstream.NewCachedSource(source, rdb, cfg.CacheTTL, metrics)
		healthChecker.AddProbe("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	deps.Source = source

	// --- NATS ---
	var publishChan chan outbound.ReportMessage
	if cfg.NATSURL != "" {
		natsLogger := observability.NewLogger("nats")
		nc, js, err := outbound.ConnectNATS(cfg.NATSURL, natsLogger)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()
		logger.Info().Msg("NATS connected")

		if err := outbound.EnsureReportStream(ctx, js); err != nil {
			logger.Fatal().Err(err).Msg("ensure report stream")
		}

		// Non-blocking channel: a slow broker drops reports instead of stalling analyses.
		publishChan = make(chan outbound.ReportMessage, cfg.PublishChanSize)
		deps.PublishChan = publishChan

		publisher := outbound.NewReportPublisher(js, publishChan, metrics, observability.NewLogger("publisher"))
		startWorker("report publisher", publisher.Run)

		healthChecker.AddProbe("nats", func(context.Context) error {
			if nc.Status() != nats.CONNECTED {
				return fmt.Errorf("nats status %s", nc.Status())
			}
			return nil
		})
	}

	// --- Analysis + HTTP ---
	analysisCfg := analysis.DefaultConfig()
	analysisCfg.InitialBudget = cfg.InitialBudget
	analysisCfg.Tolerance = cfg.ReconcileTolerance
	svc := analysis.NewService(analysisCfg, deps)

	router := server.NewRouter(server.Deps{
		Analyzer:      svc,
		Reports:       reports,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Gatherer:      registry,
		CORSOrigins:   cfg.CORSOrigins,
		Logger:        observability.NewLogger("http"),
	})
	httpServer := server.NewHTTPServer(cfg.HTTPAddr, router, observability.NewLogger("http"))

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		if err := httpServer.Start(ctx); err != nil {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	logger.Info().
		Str("http", cfg.HTTPAddr).
		Bool("postgres", cfg.PostgresDSN != "").
		Bool("redis", cfg.RedisURL != "").
		Bool("nats", cfg.NATSURL != "").
		Msg("BoardLedger ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	// Stop accepting requests, wait for in-flight dispatches, then drain
	// the report channels.
	healthChecker.SetReady(false)
	cancel()
	<-serverDone
	svc.Close()

	if persistChan != nil {
		close(persistChan)
	}
	if publishChan != nil {
		close(publishChan)
	}

	drained := make(chan struct{})
	go func() {
		for _, done := range workers {
			<-done
		}
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("workers did not drain in time")
		workerCancel()
		<-drained
	}

	logger.Info().Msg("BoardLedger shutdown complete")
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return defaultVal
	}
	return i
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
