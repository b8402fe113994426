package outbound

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"BoardLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Publisher is the subset of jetstream.JetStream the report publisher uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// ReportMessage is a finished analysis ready for downstream consumers.
type ReportMessage struct {
	ReportID     uuid.UUID       `json:"report_id"`
	LeagueID     string          `json:"league_id"`
	Source       string          `json:"source"`
	Reconciled   bool            `json:"reconciled"`
	StateHash    string          `json:"state_hash"`
	Participants int             `json:"participants"`
	Movements    int             `json:"movements"`
	Adjustments  json.RawMessage `json:"adjustments"`
	Summary      json.RawMessage `json:"summary"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ReportPublisher publishes finished reports to NATS.
// Subjects follow the pattern: board.ledger.reports.{league_id}
type ReportPublisher struct {
	js        Publisher
	inputChan <-chan ReportMessage
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewReportPublisher(js Publisher, inputChan <-chan ReportMessage, metrics *observability.Metrics, logger zerolog.Logger) *ReportPublisher {
	return &ReportPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the publisher loop. Publish failures are logged, not fatal:
// consumers can read stored reports through the API.
func (p *ReportPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-p.inputChan:
			if !ok {
				return nil
			}

			if err := p.publish(ctx, msg); err != nil {
				p.logger.Warn().Err(err).
					Str("report_id", msg.ReportID.String()).
					Str("league_id", msg.LeagueID).
					Msg("report publish failed")
				if p.metrics != nil {
					p.metrics.PublishErrors.Inc()
				}
				continue
			}
			if p.metrics != nil {
				p.metrics.ReportsPublished.Inc()
			}
		}
	}
}

func (p *ReportPublisher) publish(ctx context.Context, msg ReportMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	_, err = p.js.Publish(ctx, Subject(msg.LeagueID), data, jetstream.WithMsgID(msg.ReportID.String()))
	return err
}

// Subject returns the report subject of a league. Characters NATS treats
// as separators or wildcards are replaced.
func Subject(leagueID string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, leagueID)
	if token == "" {
		token = "_"
	}
	return ReportSubjectPrefix + "." + token
}
