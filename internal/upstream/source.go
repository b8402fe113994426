package upstream

import (
	"context"

	"BoardLedger/internal/event"
	"BoardLedger/internal/ledger"
)

// Source supplies the two inputs of a league analysis.
type Source interface {
	FetchRoster(ctx context.Context, leagueID string) ([]ledger.RosterEntry, error)
	FetchBoard(ctx context.Context, leagueID string) ([]event.FeedEntry, error)
}
