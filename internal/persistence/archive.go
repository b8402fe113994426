package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"BoardLedger/internal/event"
	"BoardLedger/internal/ingestion"
)

// archiveBatchSize keeps multi-row inserts well under the Postgres bind
// parameter limit.
const archiveBatchSize = 500

// FeedArchive stores every board entry ever seen per league.
// The upstream board is truncated over time; the archive lets an analysis
// replay entries the upstream no longer returns.
type FeedArchive struct {
	db *sql.DB
}

func NewFeedArchive(db *sql.DB) *FeedArchive {
	return &FeedArchive{db: db}
}

// Append archives entries using multi-row INSERT. Entries already archived
// for the league (same dedup key) are ignored. Returns the number of new rows.
func (a *FeedArchive) Append(ctx context.Context, leagueID string, entries []event.FeedEntry) (int64, error) {
	var inserted int64
	for start := 0; start < len(entries); start += archiveBatchSize {
		end := start + archiveBatchSize
		if end > len(entries) {
			end = len(entries)
		}
		n, err := a.appendBatch(ctx, leagueID, entries[start:end])
		if err != nil {
			return inserted, fmt.Errorf("archive %s entries %d-%d: %w", leagueID, start, end, err)
		}
		inserted += n
	}
	return inserted, nil
}

func (a *FeedArchive) appendBatch(ctx context.Context, leagueID string, entries []event.FeedEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	query := `INSERT INTO board.feed_entries
		(league_id, entry_key, entry_type, entry_date, content)
		VALUES `

	values := make([]string, 0, len(entries))
	args := make([]interface{}, 0, len(entries)*5)

	for i, e := range entries {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, leagueID, ingestion.EntryKey(e), e.Type, e.Date, jsonArg(e.Content))
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (league_id, entry_key) DO NOTHING"

	res, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Load returns the archived entries of a league in date order.
func (a *FeedArchive) Load(ctx context.Context, leagueID string) ([]event.FeedEntry, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT entry_type, entry_date, content
		FROM board.feed_entries
		WHERE league_id = $1
		ORDER BY entry_date ASC, id ASC
	`, leagueID)
	if err != nil {
		return nil, fmt.Errorf("load archive %s: %w", leagueID, err)
	}
	defer rows.Close()

	var entries []event.FeedEntry
	for rows.Next() {
		var (
			e       event.FeedEntry
			content []byte
		)
		if err := rows.Scan(&e.Type, &e.Date, &content); err != nil {
			return nil, fmt.Errorf("scan archive %s: %w", leagueID, err)
		}
		if content != nil {
			e.Content = json.RawMessage(content)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// jsonArg converts raw JSON to a driver value. lib/pq sends []byte as
// bytea, so JSON columns receive a string.
func jsonArg(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
