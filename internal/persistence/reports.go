package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrReportNotFound = errors.New("report not found")

// ReportRow represents a row in board.analysis_reports.
// Summary and Adjustments are stored as the JSON the analysis produced.
type ReportRow struct {
	ID           uuid.UUID       `json:"id"`
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

// ReportStore reads and writes analysis reports.
type ReportStore struct {
	db *sql.DB
}

func NewReportStore(db *sql.DB) *ReportStore {
	return &ReportStore{db: db}
}

// Save writes one report.
func (s *ReportStore) Save(ctx context.Context, r ReportRow) error {
	return s.WriteBatch(ctx, []ReportRow{r})
}

// WriteBatch writes reports using multi-row INSERT. Re-writing a report
// with the same ID is a no-op.
func (s *ReportStore) WriteBatch(ctx context.Context, reports []ReportRow) error {
	if len(reports) == 0 {
		return nil
	}

	query := `INSERT INTO board.analysis_reports
		(report_id, league_id, source, reconciled, state_hash, participants, movements, adjustments, summary, created_at)
		VALUES `

	values := make([]string, 0, len(reports))
	args := make([]interface{}, 0, len(reports)*10)

	for i, r := range reports {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		adjustments := r.Adjustments
		if len(adjustments) == 0 {
			adjustments = json.RawMessage("[]")
		}
		args = append(args,
			r.ID, r.LeagueID, r.Source, r.Reconciled, r.StateHash,
			r.Participants, r.Movements, string(adjustments), string(r.Summary), r.CreatedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (report_id) DO NOTHING"

	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// Latest returns the newest report of a league, or ErrReportNotFound.
func (s *ReportStore) Latest(ctx context.Context, leagueID string) (*ReportRow, error) {
	reports, err := s.List(ctx, leagueID, 1)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, ErrReportNotFound
	}
	return &reports[0], nil
}

// List returns up to limit reports of a league, newest first.
func (s *ReportStore) List(ctx context.Context, leagueID string, limit int) ([]ReportRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT report_id, league_id, source, reconciled, state_hash,
		       participants, movements, adjustments, summary, created_at
		FROM board.analysis_reports
		WHERE league_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, leagueID, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports %s: %w", leagueID, err)
	}
	defer rows.Close()

	reports := []ReportRow{}
	for rows.Next() {
		var (
			r                    ReportRow
			adjustments, summary []byte
		)
		if err := rows.Scan(
			&r.ID, &r.LeagueID, &r.Source, &r.Reconciled, &r.StateHash,
			&r.Participants, &r.Movements, &adjustments, &summary, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		r.Adjustments = json.RawMessage(adjustments)
		r.Summary = json.RawMessage(summary)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
