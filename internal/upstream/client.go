package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"BoardLedger/internal/event"
	"BoardLedger/internal/ingestion"
	"BoardLedger/internal/ledger"
	"BoardLedger/internal/observability"
)

const (
	DefaultBaseURL  = "https://biwenger.as.com"
	DefaultPageSize = 100
	DefaultMaxPages = 50

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

// ClientConfig holds the platform credentials and paging limits.
type ClientConfig struct {
	BaseURL    string
	Token      string
	UserID     string
	LeagueSlug string // x-league header
	Version    string // x-version header
	PageSize   int
	MaxPages   int
	Timeout    time.Duration
}

// Client fetches rosters and boards from the fantasy platform API.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	retry      *RetryPolicy
	metrics    *observability.Metrics
}

// NewClient creates an API client. metrics may be nil.
func NewClient(cfg ClientConfig, metrics *observability.Metrics) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.LeagueSlug == "" {
		cfg.LeagueSlug = "la-liga"
	}
	if cfg.Version == "" {
		cfg.Version = "2.0"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	retry := NewRetryPolicy(3, 500*time.Millisecond)
	if metrics != nil {
		retry.OnRetry = func(int, error) { metrics.UpstreamRetries.Inc() }
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retry:   retry,
		metrics: metrics,
	}
}

// WithRetryPolicy replaces the retry policy. Tests use it to drop the delays.
func (c *Client) WithRetryPolicy(r *RetryPolicy) *Client {
	c.retry = r
	return c
}

// apiResponse is the platform's response envelope.
type apiResponse struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

// FetchRoster returns the league standings as a roster.
func (c *Client) FetchRoster(ctx context.Context, leagueID string) ([]ledger.RosterEntry, error) {
	path := fmt.Sprintf("/api/v2/league/%s", url.PathEscape(leagueID))
	data, err := c.get(ctx, "league", path, url.Values{"fields": {"standings"}})
	if err != nil {
		return nil, fmt.Errorf("fetch roster %s: %w", leagueID, err)
	}

	var league struct {
		Standings json.RawMessage `json:"standings"`
	}
	if err := json.Unmarshal(data, &league); err != nil {
		return nil, fmt.Errorf("decode league %s: %w", leagueID, err)
	}
	if len(league.Standings) == 0 {
		return []ledger.RosterEntry{}, nil
	}

	roster, err := ingestion.ParseRoster(league.Standings)
	if err != nil {
		return nil, fmt.Errorf("decode standings %s: %w", leagueID, err)
	}
	return roster, nil
}

// FetchBoard pages through the league board until a short page or the
// page cap. Entries come back in upstream order.
func (c *Client) FetchBoard(ctx context.Context, leagueID string) ([]event.FeedEntry, error) {
	path := fmt.Sprintf("/api/v2/league/%s/board", url.PathEscape(leagueID))

	var entries []event.FeedEntry
	for page := 0; page < c.cfg.MaxPages; page++ {
		query := url.Values{
			"offset": {strconv.Itoa(page * c.cfg.PageSize)},
			"limit":  {strconv.Itoa(c.cfg.PageSize)},
		}
		data, err := c.get(ctx, "board", path, query)
		if err != nil {
			return nil, fmt.Errorf("fetch board %s page %d: %w", leagueID, page, err)
		}

		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("decode board %s page %d: %w", leagueID, page, err)
		}
		entries = append(entries, ingestion.ParseFeed(data)...)

		if len(raw) < c.cfg.PageSize {
			break
		}
	}
	return entries, nil
}

// get performs one authenticated GET with retries and returns the
// envelope's data field.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values) (json.RawMessage, error) {
	target := c.cfg.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var data json.RawMessage
	err := c.retry.Execute(ctx, func(ctx context.Context) error {
		start := time.Now()
		status, body, err := c.do(ctx, target)
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
			c.metrics.UpstreamRequests.WithLabelValues(endpoint, statusLabel(status, err)).Inc()
		}
		if err != nil {
			return &transientError{err: err}
		}

		switch {
		case status == http.StatusTooManyRequests || status >= 500:
			return &transientError{err: fmt.Errorf("upstream status=%d, body=%s", status, excerpt(body))}
		case status < 200 || status >= 300:
			return fmt.Errorf("upstream status=%d, body=%s", status, excerpt(body))
		}

		var resp apiResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		data = resp.Data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, target string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "es-ES,es;q=0.9,en;q=0.8")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Origin", c.cfg.BaseURL)
	req.Header.Set("Referer", c.cfg.BaseURL+"/")
	req.Header.Set("x-league", c.cfg.LeagueSlug)
	req.Header.Set("x-user", c.cfg.UserID)
	req.Header.Set("x-version", c.cfg.Version)
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func statusLabel(status int, err error) string {
	if err != nil && status == 0 {
		return "error"
	}
	return strconv.Itoa(status)
}

func excerpt(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
