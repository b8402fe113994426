package observability

import (
	"BoardLedger/internal/core"
	"BoardLedger/internal/event"

	"github.com/rs/zerolog"
)

// LogObserver reports engine activity to a zerolog logger.
// Applied events log at debug; skips and adjustments log at info or warn.
type LogObserver struct {
	logger zerolog.Logger
}

func NewLogObserver(logger zerolog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) EntrySkipped(entry event.FeedEntry, reason core.SkipReason) {
	evt := o.logger.Debug()
	if reason == core.SkipMalformed {
		evt = o.logger.Warn()
	}
	evt.Str("entry_type", entry.Type).
		Int64("date", entry.Date).
		Str("reason", string(reason)).
		Msg("feed entry skipped")
}

func (o *LogObserver) EventApplied(evt event.Event) {
	o.logger.Debug().
		Str("kind", evt.Kind().String()).
		Str("ref", evt.Ref()).
		Msg("event applied")
}

func (o *LogObserver) EventSkipped(evt event.Event, reason core.SkipReason) {
	l := o.logger.Info()
	switch reason {
	case core.SkipIgnored:
		l = o.logger.Debug()
	case core.SkipOverflow:
		l = o.logger.Warn()
	}
	l.Str("kind", evt.Kind().String()).
		Str("ref", evt.Ref()).
		Str("reason", string(reason)).
		Msg("event skipped")
}

func (o *LogObserver) AdjustmentRecorded(adj core.Adjustment) {
	o.logger.Warn().
		Str("participant_id", adj.ParticipantID).
		Str("name", adj.Name).
		Int64("computed", adj.Computed).
		Int64("authoritative", adj.Authoritative).
		Int64("delta", adj.Delta).
		Msg("budget adjusted to authoritative balance")
}

// MetricsObserver counts engine activity in Prometheus.
type MetricsObserver struct {
	metrics *Metrics
}

func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) EntrySkipped(entry event.FeedEntry, reason core.SkipReason) {
	o.metrics.EngineEntriesSkipped.WithLabelValues(entry.Type, string(reason)).Inc()
	if reason == core.SkipDuplicate {
		o.metrics.IdempotencyDuplicates.WithLabelValues(entry.Type).Inc()
	}
}

func (o *MetricsObserver) EventApplied(evt event.Event) {
	o.metrics.EngineEventsApplied.WithLabelValues(evt.Kind().String()).Inc()
}

func (o *MetricsObserver) EventSkipped(evt event.Event, reason core.SkipReason) {
	o.metrics.EngineEventsSkipped.WithLabelValues(evt.Kind().String(), string(reason)).Inc()
}

func (o *MetricsObserver) AdjustmentRecorded(adj core.Adjustment) {
	o.metrics.EngineAdjustments.Inc()
	delta := adj.Delta
	if delta < 0 {
		delta = -delta
	}
	o.metrics.EngineAdjustedVolume.Add(float64(delta))
}
