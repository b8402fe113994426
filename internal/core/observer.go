package core

import (
	"time"

	"BoardLedger/internal/event"
)

// SkipReason explains why an entry or event left no trace in the ledger
type SkipReason string

const (
	SkipDuplicate          SkipReason = "duplicate"
	SkipMalformed          SkipReason = "malformed"
	SkipMissingParticipant SkipReason = "missing_participant"
	SkipNonPositiveAmount  SkipReason = "non_positive_amount"
	SkipOverflow           SkipReason = "overflow"
	SkipUnknownKind        SkipReason = "unknown_kind"
	SkipIgnored            SkipReason = "ignored"
)

// Adjustment is a reconciliation correction forced onto a participant.
type Adjustment struct {
	ParticipantID string    `json:"participant_id"`
	Name          string    `json:"name"`
	Computed      int64     `json:"computed"`
	Authoritative int64     `json:"authoritative"`
	Delta         int64     `json:"delta"`
	At            time.Time `json:"at"`
}

// Observer receives the engine's processing notifications.
// Calls happen synchronously on the ingesting goroutine.
type Observer interface {
	// EntrySkipped fires for entries rejected before classification
	// (duplicates, undecodable content).
	EntrySkipped(entry event.FeedEntry, reason SkipReason)

	// EventApplied fires once an event has been fully processed.
	EventApplied(evt event.Event)

	// EventSkipped fires for classified events that changed nothing.
	EventSkipped(evt event.Event, reason SkipReason)

	// AdjustmentRecorded fires for every reconciliation adjustment.
	AdjustmentRecorded(adj Adjustment)
}

// NopObserver ignores all notifications.
type NopObserver struct{}

func (NopObserver) EntrySkipped(event.FeedEntry, SkipReason) {}
func (NopObserver) EventApplied(event.Event)                 {}
func (NopObserver) EventSkipped(event.Event, SkipReason)     {}
func (NopObserver) AdjustmentRecorded(Adjustment)            {}

// MultiObserver fans notifications out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) EntrySkipped(entry event.FeedEntry, reason SkipReason) {
	for _, o := range m {
		o.EntrySkipped(entry, reason)
	}
}

func (m MultiObserver) EventApplied(evt event.Event) {
	for _, o := range m {
		o.EventApplied(evt)
	}
}

func (m MultiObserver) EventSkipped(evt event.Event, reason SkipReason) {
	for _, o := range m {
		o.EventSkipped(evt, reason)
	}
}

func (m MultiObserver) AdjustmentRecorded(adj Adjustment) {
	for _, o := range m {
		o.AdjustmentRecorded(adj)
	}
}
