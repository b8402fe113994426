package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"BoardLedger/internal/event"
	"BoardLedger/internal/ledger"
	"BoardLedger/internal/observability"

	"github.com/redis/go-redis/v9"
)

// CachedSource wraps a primary Source with a Redis read-through cache.
// Reads check Redis first then fall back to the primary; a Redis failure
// is treated as a miss.
type CachedSource struct {
	primary Source
	rdb     *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewCachedSource creates a cached wrapper around a primary source.
// metrics may be nil.
func NewCachedSource(primary Source, rdb *redis.Client, ttl time.Duration, metrics *observability.Metrics) *CachedSource {
	return &CachedSource{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		metrics: metrics,
	}
}

func (s *CachedSource) FetchRoster(ctx context.Context, leagueID string) ([]ledger.RosterEntry, error) {
	var roster []ledger.RosterEntry
	if s.lookup(ctx, "roster", rosterKey(leagueID), &roster) {
		return roster, nil
	}

	roster, err := s.primary.FetchRoster(ctx, leagueID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, rosterKey(leagueID), roster)
	return roster, nil
}

func (s *CachedSource) FetchBoard(ctx context.Context, leagueID string) ([]event.FeedEntry, error) {
	var entries []event.FeedEntry
	if s.lookup(ctx, "board", boardKey(leagueID), &entries) {
		return entries, nil
	}

	entries, err := s.primary.FetchBoard(ctx, leagueID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, boardKey(leagueID), entries)
	return entries, nil
}

// Invalidate drops the cached roster and board of a league.
func (s *CachedSource) Invalidate(ctx context.Context, leagueID string) error {
	return s.rdb.Del(ctx, rosterKey(leagueID), boardKey(leagueID)).Err()
}

func (s *CachedSource) lookup(ctx context.Context, resource, key string, out interface{}) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil && json.Unmarshal(data, out) == nil {
		if s.metrics != nil {
			s.metrics.CacheHits.WithLabelValues(resource).Inc()
		}
		return true
	}
	if s.metrics != nil {
		s.metrics.CacheMisses.WithLabelValues(resource).Inc()
	}
	return false
}

func (s *CachedSource) store(ctx context.Context, key string, v interface{}) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func rosterKey(leagueID string) string { return fmt.Sprintf("board:roster:%s", leagueID) }
func boardKey(leagueID string) string  { return fmt.Sprintf("board:feed:%s", leagueID) }
