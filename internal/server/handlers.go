package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"BoardLedger/internal/analysis"
	"BoardLedger/internal/ingestion"
	"BoardLedger/internal/ledger"
	"BoardLedger/internal/observability"
	"BoardLedger/internal/persistence"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const (
	maxBodyBytes     = 10 << 20
	defaultListLimit = 20
	maxListLimit     = 200
)

type handler struct {
	analyzer Analyzer
	reports  ReportReader
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

type analyzeRequest struct {
	LeagueID  string          `json:"league_id"`
	Roster    json.RawMessage `json:"roster"`
	Feed      json.RawMessage `json:"feed"`
	Reconcile *bool           `json:"reconcile"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Analyze runs an analysis over a roster and feed supplied in the body.
// Reconciliation is on unless the body sets "reconcile": false.
func (h *handler) Analyze(w http.ResponseWriter, r *http.Request) {
	const endpoint = "analyze"

	var req analyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.respondError(w, endpoint, http.StatusBadRequest, "invalid request body", err)
		return
	}

	var roster []ledger.RosterEntry
	if len(req.Roster) > 0 {
		parsed, err := ingestion.ParseRoster(req.Roster)
		if err != nil {
			h.respondError(w, endpoint, http.StatusBadRequest, err.Error(), nil)
			return
		}
		roster = parsed
	}

	report, err := h.analyzer.AnalyzeFeed(r.Context(), analysis.FeedRequest{
		LeagueID:  req.LeagueID,
		Roster:    roster,
		Feed:      req.Feed,
		Reconcile: req.Reconcile == nil || *req.Reconcile,
	})
	if err != nil {
		h.respondError(w, endpoint, statusFor(err), "analysis failed", err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}

// GetBudgets runs a live analysis of a league against the upstream.
// Query params: reconcile (default true)
func (h *handler) GetBudgets(w http.ResponseWriter, r *http.Request) {
	const endpoint = "budgets"

	leagueID := chi.URLParam(r, "leagueID")
	reconcile := true
	if v := r.URL.Query().Get("reconcile"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			h.respondError(w, endpoint, http.StatusBadRequest, "reconcile must be a boolean", nil)
			return
		}
		reconcile = parsed
	}

	report, err := h.analyzer.AnalyzeLeague(r.Context(), leagueID, reconcile)
	if err != nil {
		h.respondError(w, endpoint, statusFor(err), "league analysis failed", err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}

// GetLatestReport returns the newest stored report of a league.
func (h *handler) GetLatestReport(w http.ResponseWriter, r *http.Request) {
	const endpoint = "reports_latest"

	if h.reports == nil {
		h.respondError(w, endpoint, http.StatusServiceUnavailable, "report storage is not configured", nil)
		return
	}

	row, err := h.reports.Latest(r.Context(), chi.URLParam(r, "leagueID"))
	if errors.Is(err, persistence.ErrReportNotFound) {
		h.respondError(w, endpoint, http.StatusNotFound, "no report for league", nil)
		return
	}
	if err != nil {
		h.respondError(w, endpoint, http.StatusInternalServerError, "failed to load report", err)
		return
	}

	respondJSON(w, http.StatusOK, row)
}

// ListReports returns stored reports of a league, newest first.
// Query params: limit (default 20, max 200)
func (h *handler) ListReports(w http.ResponseWriter, r *http.Request) {
	const endpoint = "reports"

	if h.reports == nil {
		h.respondError(w, endpoint, http.StatusServiceUnavailable, "report storage is not configured", nil)
		return
	}

	limit := parseIntParam(r, "limit", defaultListLimit)
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	leagueID := chi.URLParam(r, "leagueID")
	rows, err := h.reports.List(r.Context(), leagueID, limit)
	if err != nil {
		h.respondError(w, endpoint, http.StatusInternalServerError, "failed to list reports", err)
		return
	}
	if rows == nil {
		rows = []persistence.ReportRow{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"league_id": leagueID,
		"reports":   rows,
		"count":     len(rows),
		"limit":     limit,
	})
}

// statusFor maps analysis errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, analysis.ErrNoSource), errors.Is(err, analysis.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func parseIntParam(r *http.Request, param string, defaultValue int) int {
	valueStr := r.URL.Query().Get(param)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *handler) respondError(w http.ResponseWriter, endpoint string, status int, message string, err error) {
	if h.metrics != nil {
		h.metrics.QueryErrors.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	}
	if err != nil {
		h.logger.Warn().Err(err).Str("endpoint", endpoint).Int("status", status).Msg(message)
	}

	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
