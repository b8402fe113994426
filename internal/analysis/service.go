package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"BoardLedger/internal/core"
	"BoardLedger/internal/event"
	"BoardLedger/internal/ingestion"
	"BoardLedger/internal/ledger"
	"BoardLedger/internal/observability"
	"BoardLedger/internal/outbound"
	"BoardLedger/internal/persistence"
	"BoardLedger/internal/query"
	"BoardLedger/internal/upstream"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	SourceUpstream = "upstream"
	SourceFeed     = "feed"

	// AdhocLeague labels analyses of caller-supplied feeds without a league id.
	AdhocLeague = "adhoc"
)

var (
	ErrNoSource = errors.New("no upstream source configured")
	ErrClosed   = errors.New("analysis service closed")
)

// Archive keeps board entries the upstream may stop returning.
type Archive interface {
	Append(ctx context.Context, leagueID string, entries []event.FeedEntry) (int64, error)
	Load(ctx context.Context, leagueID string) ([]event.FeedEntry, error)
}

// Config holds the engine parameters applied to every analysis.
type Config struct {
	InitialBudget int64
	Tolerance     int64
	DedupCapacity int
}

func DefaultConfig() Config {
	return Config{
		InitialBudget: ledger.DefaultInitialBudget,
		Tolerance:     core.DefaultTolerance,
		DedupCapacity: core.DefaultDedupCapacity,
	}
}

// Deps are the optional collaborators of the service. Any nil field
// disables that step of the pipeline.
type Deps struct {
	Source      upstream.Source
	Archive     Archive
	PersistChan chan<- persistence.ReportRow
	PublishChan chan<- outbound.ReportMessage
	Metrics     *observability.Metrics
	Logger      zerolog.Logger
	Clock       func() time.Time
}

// Report is the outcome of one analysis.
type Report struct {
	ID          uuid.UUID         `json:"id"`
	LeagueID    string            `json:"league_id"`
	Source      string            `json:"source"`
	Reconciled  bool              `json:"reconciled"`
	StateHash   string            `json:"state_hash"`
	Ingest      core.IngestStats  `json:"ingest"`
	Adjustments []core.Adjustment `json:"adjustments"`
	Summary     query.Summary     `json:"summary"`
	CreatedAt   time.Time         `json:"created_at"`
}

// FeedRequest is a caller-supplied roster and board.
type FeedRequest struct {
	LeagueID  string
	Roster    []ledger.RosterEntry
	Feed      json.RawMessage
	Reconcile bool
}

// Service runs league analyses. Each analysis builds its own engine, so the
// service is safe for concurrent use.
type Service struct {
	cfg  Config
	deps Deps

	// mu guards closed; dispatch holds it shared while sending so Close
	// can wait for in-flight sends before the channels are closed.
	mu     sync.RWMutex
	closed bool
}

func NewService(cfg Config, deps Deps) *Service {
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{cfg: cfg, deps: deps}
}

// AnalyzeLeague fetches the roster and board of a league, merges the
// archived board history and runs one analysis.
func (s *Service) AnalyzeLeague(ctx context.Context, leagueID string, reconcile bool) (*Report, error) {
	if s.deps.Source == nil {
		return nil, ErrNoSource
	}

	roster, err := s.deps.Source.FetchRoster(ctx, leagueID)
	if err != nil {
		s.recordFailure(SourceUpstream)
		return nil, err
	}
	feed, err := s.deps.Source.FetchBoard(ctx, leagueID)
	if err != nil {
		s.recordFailure(SourceUpstream)
		return nil, err
	}

	feed = s.withArchive(ctx, leagueID, feed)
	return s.run(ctx, SourceUpstream, leagueID, roster, feed, reconcile)
}

// AnalyzeFeed runs one analysis over a caller-supplied roster and feed.
// A feed that is not a JSON array is analysed as empty.
func (s *Service) AnalyzeFeed(ctx context.Context, req FeedRequest) (*Report, error) {
	leagueID := req.LeagueID
	if leagueID == "" {
		leagueID = AdhocLeague
	}
	return s.run(ctx, SourceFeed, leagueID, req.Roster, ingestion.ParseFeed(req.Feed), req.Reconcile)
}

// withArchive stores the fresh board and prepends everything archived
// before. Overlapping entries are removed by the engine's dedup. Archive
// failures only degrade the analysis.
func (s *Service) withArchive(ctx context.Context, leagueID string, feed []event.FeedEntry) []event.FeedEntry {
	if s.deps.Archive == nil {
		return feed
	}

	if n, err := s.deps.Archive.Append(ctx, leagueID, feed); err != nil {
		s.deps.Logger.Warn().Err(err).Str("league_id", leagueID).Msg("archive append failed")
	} else if n > 0 {
		s.deps.Logger.Debug().Int64("entries", n).Str("league_id", leagueID).Msg("archived board entries")
		if s.deps.Metrics != nil {
			s.deps.Metrics.PersistEntriesWritten.Add(float64(n))
		}
	}

	archived, err := s.deps.Archive.Load(ctx, leagueID)
	if err != nil {
		s.deps.Logger.Warn().Err(err).Str("league_id", leagueID).Msg("archive load failed")
		return feed
	}
	return append(archived, feed...)
}

func (s *Service) run(ctx context.Context, source, leagueID string, roster []ledger.RosterEntry, feed []event.FeedEntry, reconcile bool) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	logger := s.deps.Logger.With().Str("league_id", leagueID).Str("source", source).Logger()
	observers := core.MultiObserver{observability.NewLogObserver(logger)}
	if s.deps.Metrics != nil {
		observers = append(observers, observability.NewMetricsObserver(s.deps.Metrics))
	}

	engine := core.NewLedgerEngine(
		core.WithInitialBudget(s.cfg.InitialBudget),
		core.WithTolerance(s.cfg.Tolerance),
		core.WithDedupCapacity(dedupCapacity(s.cfg.DedupCapacity, len(feed))),
		core.WithObserver(observers),
		core.WithClock(s.deps.Clock),
	)

	engine.SeedRoster(roster)
	stats := engine.Ingest(feed)

	adjustments := []core.Adjustment{}
	if reconcile {
		if adj := engine.Reconcile(); adj != nil {
			adjustments = adj
		}
	}

	summary := engine.Summary()
	report := &Report{
		ID:          uuid.New(),
		LeagueID:    leagueID,
		Source:      source,
		Reconciled:  reconcile,
		StateHash:   engine.StateHash(),
		Ingest:      stats,
		Adjustments: adjustments,
		Summary:     summary,
		CreatedAt:   s.deps.Clock(),
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.AnalysisRuns.WithLabelValues(source, "ok").Inc()
		s.deps.Metrics.AnalysisDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
		s.deps.Metrics.AnalysisParticipants.Set(float64(len(summary.Participants)))
		s.deps.Metrics.IdempotencyEvictions.Add(float64(stats.Evicted))
	}

	logger.Info().
		Str("report_id", report.ID.String()).
		Int("entries", stats.Entries).
		Int("applied", stats.Applied).
		Int("duplicates", stats.Duplicates).
		Int("evicted", stats.Evicted).
		Int("adjustments", len(adjustments)).
		Dur("took", time.Since(start)).
		Msg("analysis complete")

	if err := s.dispatch(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// Close stops report dispatch and waits for in-flight sends to finish.
// After Close returns the caller may close the persist and publish
// channels; later analyses fail with ErrClosed.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// dispatch hands the report to the persistence and publish channels.
// The persist channel uses a blocking send so no report is lost; the
// publish channel drops when full.
func (s *Service) dispatch(ctx context.Context, report *Report) error {
	if s.deps.PersistChan == nil && s.deps.PublishChan == nil {
		return nil
	}

	row, err := report.Row()
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("queue report %s: %w", report.ID, ErrClosed)
	}

	if s.deps.PersistChan != nil {
		select {
		case s.deps.PersistChan <- row:
		default:
			if s.deps.Metrics != nil {
				s.deps.Metrics.PersistBackpressure.Inc()
			}
			select {
			case s.deps.PersistChan <- row:
			case <-ctx.Done():
				return fmt.Errorf("queue report %s: %w", report.ID, ctx.Err())
			}
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.SetChannelMetrics("persist", len(s.deps.PersistChan), cap(s.deps.PersistChan))
		}
	}

	if s.deps.PublishChan != nil {
		select {
		case s.deps.PublishChan <- Message(row):
		default:
			if s.deps.Metrics != nil {
				s.deps.Metrics.PublishDrops.Inc()
			}
			s.deps.Logger.Warn().Str("report_id", report.ID.String()).Msg("publish channel full, report not published")
		}
	}
	return nil
}

// dedupCapacity grows the configured capacity to the feed length so one
// analysis never forgets an entry it has seen.
func dedupCapacity(configured, entries int) int {
	if entries > configured {
		return entries
	}
	return configured
}

func (s *Service) recordFailure(source string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.AnalysisRuns.WithLabelValues(source, "error").Inc()
	}
}

// Row encodes the report for storage.
func (r *Report) Row() (persistence.ReportRow, error) {
	summary, err := json.Marshal(r.Summary)
	if err != nil {
		return persistence.ReportRow{}, fmt.Errorf("marshal summary: %w", err)
	}
	adjustments, err := json.Marshal(r.Adjustments)
	if err != nil {
		return persistence.ReportRow{}, fmt.Errorf("marshal adjustments: %w", err)
	}
	return persistence.ReportRow{
		ID:           r.ID,
		LeagueID:     r.LeagueID,
		Source:       r.Source,
		Reconciled:   r.Reconciled,
		StateHash:    r.StateHash,
		Participants: len(r.Summary.Participants),
		Movements:    len(r.Summary.Movements),
		Adjustments:  adjustments,
		Summary:      summary,
		CreatedAt:    r.CreatedAt,
	}, nil
}

// Message converts a stored report row to its outbound form.
func Message(row persistence.ReportRow) outbound.ReportMessage {
	return outbound.ReportMessage{
		ReportID:     row.ID,
		LeagueID:     row.LeagueID,
		Source:       row.Source,
		Reconciled:   row.Reconciled,
		StateHash:    row.StateHash,
		Participants: row.Participants,
		Movements:    row.Movements,
		Adjustments:  row.Adjustments,
		Summary:      row.Summary,
		CreatedAt:    row.CreatedAt,
	}
}
