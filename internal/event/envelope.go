package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind discriminator for classified board events
type Kind int32

const (
	KindUnknown Kind = iota
	KindSale
	KindPurchase
	KindRealTeamTransfer
	KindLineup
	KindAdminMessage
	KindLeagueReset
)

var (
	ErrMissingParticipant = errors.New("event has no participant reference")
	ErrNonPositiveAmount  = errors.New("event amount is not positive")
)

// FeedEntry is one raw record of the league board, exactly as the upstream
// platform serves it. Content is kept undecoded until classification.
type FeedEntry struct {
	Type    string          `json:"type"`
	Date    int64           `json:"date"` // epoch seconds
	Content json.RawMessage `json:"content,omitempty"`
}

// Time returns the entry date as a UTC timestamp.
func (e FeedEntry) Time() time.Time {
	return time.Unix(e.Date, 0).UTC()
}

// Event is the interface all classified board events implement
type Event interface {
	// Kind returns the discriminator
	Kind() Kind

	// Timestamp returns the board date of the originating entry
	Timestamp() time.Time

	// EntryKey returns the dedup key of the originating feed entry
	EntryKey() string

	// Ref identifies this event within its entry (one entry may carry several movements)
	Ref() string

	// Validate checks the per-kind required fields
	Validate() error
}

// Header carries the fields every event shares with its feed entry.
type Header struct {
	At    time.Time
	Key   string
	Index int
}

func (h Header) Timestamp() time.Time {
	return h.At
}

func (h Header) EntryKey() string {
	return h.Key
}

func (h Header) Ref() string {
	return fmt.Sprintf("%s#%d", h.Key, h.Index)
}

func (k Kind) String() string {
	switch k {
	case KindSale:
		return "sale"
	case KindPurchase:
		return "purchase"
	case KindRealTeamTransfer:
		return "realTeamTransfer"
	case KindLineup:
		return "lineup"
	case KindAdminMessage:
		return "adminMessage"
	case KindLeagueReset:
		return "leagueReset"
	default:
		return "unknown"
	}
}
