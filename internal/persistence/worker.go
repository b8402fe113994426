package persistence

import (
	"context"
	"fmt"
	"time"

	"BoardLedger/internal/observability"

	"github.com/rs/zerolog"
)

// BatchWriter persists a batch of reports atomically.
type BatchWriter interface {
	WriteBatch(ctx context.Context, reports []ReportRow) error
}

// ReportWorker drains the report channel and batch-writes to Postgres.
// It runs independently of the analyses. Analyses use blocking sends on
// the report channel, so if this worker falls behind they stall and no
// report is lost.
type ReportWorker struct {
	writer       BatchWriter
	inputChan    <-chan ReportRow
	batchSize    int
	flushTimeout time.Duration
	initialDelay time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewReportWorker(
	writer BatchWriter,
	inputChan <-chan ReportRow,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ReportWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &ReportWorker{
		writer:       writer,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		initialDelay: 100 * time.Millisecond,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run batches incoming reports and flushes either when the batch is full or
// the flush timeout expires. Blocks until ctx is cancelled or the channel
// is closed.
func (w *ReportWorker) Run(ctx context.Context) error {
	batch := make([]ReportRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.logger.Error().Err(err).Int("reports", len(batch)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case report, ok := <-w.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := w.flushWithRetry(ctx, batch); err != nil {
						w.logger.Error().Err(err).Int("reports", len(batch)).Msg("final flush failed")
					}
				}
				return nil
			}

			batch = append(batch, report)
			if len(batch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					w.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					w.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled, then makes one final attempt. Reports are never dropped
// while the service is running.
func (w *ReportWorker) flushWithRetry(ctx context.Context, batch []ReportRow) error {
	backoff := w.initialDelay
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("reports", len(batch)).
				Msg("report flush retry")
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				w.logger.Info().Int("retries", attempt).Msg("report flush succeeded after retries")
			}
			return nil
		}
		w.logger.Error().Err(err).Int("reports", len(batch)).Msg("report flush failed")
	}
}

func (w *ReportWorker) flush(ctx context.Context, batch []ReportRow) error {
	start := time.Now()

	if err := w.writer.WriteBatch(ctx, batch); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_reports").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistReportsWritten.Add(float64(len(batch)))
	}
	return nil
}
