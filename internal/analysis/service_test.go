package analysis_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"BoardLedger/internal/analysis"
	"BoardLedger/internal/event"
	"BoardLedger/internal/ingestion"
	"BoardLedger/internal/ledger"
	"BoardLedger/internal/observability"
	"BoardLedger/internal/outbound"
	"BoardLedger/internal/persistence"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeSource struct {
	roster []ledger.RosterEntry
	board  []event.FeedEntry
	err    error
}

func (s *fakeSource) FetchRoster(context.Context, string) ([]ledger.RosterEntry, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.roster, nil
}

func (s *fakeSource) FetchBoard(context.Context, string) ([]event.FeedEntry, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.board, nil
}

// memArchive mimics the unique (league, key) constraint of the feed archive.
type memArchive struct {
	mu      sync.Mutex
	keys    map[string]bool
	entries []event.FeedEntry
	loadErr error
}

func newMemArchive() *memArchive {
	return &memArchive{keys: make(map[string]bool)}
}

func (a *memArchive) Append(_ context.Context, leagueID string, entries []event.FeedEntry) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int64
	for _, e := range entries {
		key := leagueID + "/" + ingestion.EntryKey(e)
		if a.keys[key] {
			continue
		}
		a.keys[key] = true
		a.entries = append(a.entries, e)
		n++
	}
	return n, nil
}

func (a *memArchive) Load(context.Context, string) ([]event.FeedEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loadErr != nil {
		return nil, a.loadErr
	}
	return append([]event.FeedEntry(nil), a.entries...), nil
}

func entry(t *testing.T, typ string, date int64, content interface{}) event.FeedEntry {
	t.Helper()
	data, err := json.Marshal(content)
	require.NoError(t, err)
	return event.FeedEntry{Type: typ, Date: date, Content: data}
}

func purchase(t *testing.T, date int64, id, name string, amount int64) event.FeedEntry {
	return entry(t, "market", date, []map[string]interface{}{{
		"to":     map[string]interface{}{"id": id, "name": name},
		"player": 10,
		"amount": amount,
	}})
}

func sale(t *testing.T, date int64, id, name string, amount int64) event.FeedEntry {
	return entry(t, "transfer", date, []map[string]interface{}{{
		"from":   map[string]interface{}{"id": id, "name": name},
		"player": 11,
		"amount": amount,
	}})
}

func roster() []ledger.RosterEntry {
	return []ledger.RosterEntry{{ID: "1", Name: "A"}, {ID: "2", Name: "B"}}
}

func newService(deps analysis.Deps) *analysis.Service {
	deps.Logger = zerolog.Nop()
	deps.Clock = func() time.Time { return fixedNow }
	return analysis.NewService(analysis.DefaultConfig(), deps)
}

func budgetOf(t *testing.T, r *analysis.Report, id string) int64 {
	t.Helper()
	for _, p := range r.Summary.Participants {
		if p.ID == id {
			return p.CurrentBudget
		}
	}
	t.Fatalf("participant %q missing", id)
	return 0
}

func TestAnalyzeLeague(t *testing.T) {
	src := &fakeSource{
		roster: roster(),
		board: []event.FeedEntry{
			purchase(t, 100, "1", "A", 1_000_000),
			sale(t, 200, "2", "B", 400_000),
		},
	}
	m := observability.NewMetrics(prometheus.NewRegistry())
	svc := newService(analysis.Deps{Source: src, Metrics: m})

	report, err := svc.AnalyzeLeague(context.Background(), "42", true)
	require.NoError(t, err)

	assert.Equal(t, "42", report.LeagueID)
	assert.Equal(t, analysis.SourceUpstream, report.Source)
	assert.True(t, report.Reconciled)
	assert.Empty(t, report.Adjustments)
	assert.Equal(t, fixedNow, report.CreatedAt)
	assert.Equal(t, 2, report.Ingest.Applied)
	assert.Len(t, report.StateHash, 64)

	assert.Equal(t, ledger.DefaultInitialBudget-1_000_000, budgetOf(t, report, "1"))
	assert.Equal(t, ledger.DefaultInitialBudget+400_000, budgetOf(t, report, "2"))
	assert.Equal(t, "2", report.Summary.Participants[0].ID)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.AnalysisRuns.WithLabelValues("upstream", "ok")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.AnalysisParticipants))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EngineEventsApplied.WithLabelValues("purchase")))
}

func TestAnalyzeLeague_ReconcilesToSnapshot(t *testing.T) {
	balance := int64(9_000_000)
	src := &fakeSource{
		roster: []ledger.RosterEntry{{ID: "1", Name: "A", Balance: &balance}},
		board:  []event.FeedEntry{purchase(t, 100, "1", "A", 1_000_000)},
	}
	svc := newService(analysis.Deps{Source: src})

	report, err := svc.AnalyzeLeague(context.Background(), "42", true)
	require.NoError(t, err)
	require.Len(t, report.Adjustments, 1)
	assert.Equal(t, balance-(ledger.DefaultInitialBudget-1_000_000), report.Adjustments[0].Delta)
	assert.Equal(t, balance, budgetOf(t, report, "1"))

	report, err = svc.AnalyzeLeague(context.Background(), "42", false)
	require.NoError(t, err)
	assert.Empty(t, report.Adjustments)
	assert.Equal(t, ledger.DefaultInitialBudget-1_000_000, budgetOf(t, report, "1"))
}

func TestAnalyzeLeague_NoSource(t *testing.T) {
	svc := newService(analysis.Deps{})
	_, err := svc.AnalyzeLeague(context.Background(), "42", true)
	assert.ErrorIs(t, err, analysis.ErrNoSource)
}

func TestAnalyzeLeague_SourceError(t *testing.T) {
	boom := errors.New("upstream down")
	m := observability.NewMetrics(prometheus.NewRegistry())
	svc := newService(analysis.Deps{Source: &fakeSource{err: boom}, Metrics: m})

	_, err := svc.AnalyzeLeague(context.Background(), "42", true)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AnalysisRuns.WithLabelValues("upstream", "error")))
}

func TestAnalyzeLeague_ArchiveKeepsExpiredEntries(t *testing.T) {
	first := purchase(t, 100, "1", "A", 1_000_000)
	second := sale(t, 200, "2", "B", 400_000)

	src := &fakeSource{roster: roster(), board: []event.FeedEntry{first, second}}
	archive := newMemArchive()
	svc := newService(analysis.Deps{Source: src, Archive: archive})

	full, err := svc.AnalyzeLeague(context.Background(), "42", false)
	require.NoError(t, err)

	// The upstream board no longer returns the oldest entry.
	src.board = []event.FeedEntry{second}
	later, err := svc.AnalyzeLeague(context.Background(), "42", false)
	require.NoError(t, err)

	assert.Equal(t, full.StateHash, later.StateHash)
	assert.Equal(t, full.Summary.Participants, later.Summary.Participants)
	assert.Equal(t, 1, later.Ingest.Duplicates)
	assert.Len(t, archive.entries, 2)
}

func TestAnalyzeLeague_ArchiveFailureDegrades(t *testing.T) {
	archive := newMemArchive()
	archive.loadErr = errors.New("db gone")
	src := &fakeSource{roster: roster(), board: []event.FeedEntry{purchase(t, 100, "1", "A", 5)}}
	svc := newService(analysis.Deps{Source: src, Archive: archive})

	report, err := svc.AnalyzeLeague(context.Background(), "42", false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Ingest.Applied)
}

func TestAnalyzeFeed(t *testing.T) {
	feed, err := json.Marshal([]event.FeedEntry{
		purchase(t, 100, "1", "A", 1_000_000),
		purchase(t, 100, "1", "A", 1_000_000),
	})
	require.NoError(t, err)

	svc := newService(analysis.Deps{})
	report, err := svc.AnalyzeFeed(context.Background(), analysis.FeedRequest{Roster: roster(), Feed: feed})
	require.NoError(t, err)

	assert.Equal(t, analysis.AdhocLeague, report.LeagueID)
	assert.Equal(t, analysis.SourceFeed, report.Source)
	assert.False(t, report.Reconciled)
	assert.Equal(t, 1, report.Ingest.Duplicates)
	assert.Equal(t, ledger.DefaultInitialBudget-1_000_000, budgetOf(t, report, "1"))
}

func TestAnalyzeFeed_DedupCoversWholeFeed(t *testing.T) {
	feed, err := json.Marshal([]event.FeedEntry{
		purchase(t, 100, "1", "A", 1_000_000),
		purchase(t, 100, "2", "B", 2_000_000),
		purchase(t, 100, "1", "A", 1_000_000),
	})
	require.NoError(t, err)

	m := observability.NewMetrics(prometheus.NewRegistry())
	cfg := analysis.DefaultConfig()
	cfg.DedupCapacity = 1
	svc := analysis.NewService(cfg, analysis.Deps{
		Metrics: m,
		Logger:  zerolog.Nop(),
		Clock:   func() time.Time { return fixedNow },
	})

	report, err := svc.AnalyzeFeed(context.Background(), analysis.FeedRequest{Roster: roster(), Feed: feed})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Ingest.Duplicates)
	assert.Equal(t, 0, report.Ingest.Evicted)
	assert.Equal(t, ledger.DefaultInitialBudget-1_000_000, budgetOf(t, report, "1"))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.IdempotencyEvictions))
}

func TestAnalyzeFeed_NotAnArray(t *testing.T) {
	svc := newService(analysis.Deps{})
	report, err := svc.AnalyzeFeed(context.Background(), analysis.FeedRequest{
		LeagueID: "7",
		Roster:   roster(),
		Feed:     json.RawMessage(`{"oops":true}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Ingest.Entries)
	assert.Equal(t, ledger.DefaultInitialBudget, budgetOf(t, report, "1"))
}

func TestAnalyzeFeed_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := newService(analysis.Deps{})
	_, err := svc.AnalyzeFeed(ctx, analysis.FeedRequest{Roster: roster()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDispatch_PersistAndPublish(t *testing.T) {
	persistCh := make(chan persistence.ReportRow, 1)
	publishCh := make(chan outbound.ReportMessage, 1)
	svc := newService(analysis.Deps{
		Source:      &fakeSource{roster: roster(), board: []event.FeedEntry{purchase(t, 100, "1", "A", 5)}},
		PersistChan: persistCh,
		PublishChan: publishCh,
	})

	report, err := svc.AnalyzeLeague(context.Background(), "42", true)
	require.NoError(t, err)

	row := <-persistCh
	assert.Equal(t, report.ID, row.ID)
	assert.Equal(t, 2, row.Participants)
	assert.Equal(t, 1, row.Movements)
	assert.JSONEq(t, `[]`, string(row.Adjustments))

	msg := <-publishCh
	assert.Equal(t, report.ID, msg.ReportID)
	assert.Equal(t, report.StateHash, msg.StateHash)
	assert.JSONEq(t, string(row.Summary), string(msg.Summary))
}

func TestDispatch_PublishDropsWhenFull(t *testing.T) {
	publishCh := make(chan outbound.ReportMessage, 1)
	publishCh <- outbound.ReportMessage{}
	m := observability.NewMetrics(prometheus.NewRegistry())
	svc := newService(analysis.Deps{PublishChan: publishCh, Metrics: m})

	_, err := svc.AnalyzeFeed(context.Background(), analysis.FeedRequest{Roster: roster()})
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PublishDrops))
}

func TestDispatch_PersistBlocksUntilCancelled(t *testing.T) {
	persistCh := make(chan persistence.ReportRow)
	m := observability.NewMetrics(prometheus.NewRegistry())
	svc := newService(analysis.Deps{PersistChan: persistCh, Metrics: m})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := svc.AnalyzeFeed(ctx, analysis.FeedRequest{Roster: roster()})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PersistBackpressure))
}

func TestClose_WaitsForInFlightDispatch(t *testing.T) {
	persistCh := make(chan persistence.ReportRow)
	m := observability.NewMetrics(prometheus.NewRegistry())
	svc := newService(analysis.Deps{PersistChan: persistCh, Metrics: m})

	analyzed := make(chan error, 1)
	go func() {
		_, err := svc.AnalyzeFeed(context.Background(), analysis.FeedRequest{Roster: roster()})
		analyzed <- err
	}()

	// The unbuffered send is blocked once backpressure is counted.
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.PersistBackpressure) == 1
	}, 2*time.Second, 5*time.Millisecond)

	closed := make(chan struct{})
	go func() {
		svc.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a report was still being queued")
	case <-time.After(50 * time.Millisecond):
	}

	<-persistCh
	require.NoError(t, <-analyzed)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the send completed")
	}

	_, err := svc.AnalyzeFeed(context.Background(), analysis.FeedRequest{Roster: roster()})
	assert.ErrorIs(t, err, analysis.ErrClosed)
	close(persistCh)
}
