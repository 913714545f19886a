package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/opdacuont2563-hash/surgibot/backoff"
)

var _ Source = (*HTTP)(nil)

// HTTP fetches rows from a JSON endpoint. Transient failures (connection
// errors, 429 and 5xx statuses) are retried with backoff; anything else
// fails fast. All fetches pass through one rate limiter so a misbehaving
// caller cannot hammer the remote end.
type HTTP struct {
	base    string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	retries int
	backoff backoff.Strategy
	logger  *slog.Logger
}

// Option configures an HTTP source.
type Option func(*HTTP)

// WithToken appends the access token to every request.
func WithToken(token string) Option {
	return func(h *HTTP) { h.token = token }
}

// WithClient replaces the HTTP client.
func WithClient(client *http.Client) Option {
	return func(h *HTTP) {
		if client != nil {
			h.client = client
		}
	}
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n int) Option {
	return func(h *HTTP) {
		if n >= 0 {
			h.retries = n
		}
	}
}

// WithBackoff replaces the delay strategy between retries.
func WithBackoff(strategy backoff.Strategy) Option {
	return func(h *HTTP) {
		if strategy != nil {
			h.backoff = strategy
		}
	}
}

// WithRateLimit caps outbound requests per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(h *HTTP) {
		if rps > 0 && burst > 0 {
			h.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithLogger sets the logger used for fetch diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(h *HTTP) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHTTP returns a source rooted at base, e.g. "http://10.0.0.5:8743".
func NewHTTP(base string, opts ...Option) *HTTP {
	h := &HTTP{
		base:    strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: 6 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(2), 4),
		retries: 3,
		backoff: backoff.DefaultFetch(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HTTP) Fetch(ctx context.Context, q Query) ([]Row, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint, err := h.endpoint(q)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= h.retries+1; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, h.backoff.Delay(attempt-1)); err != nil {
				return nil, err
			}
			h.logger.Debug("source: retrying fetch",
				"resource", q.Resource,
				"attempt", attempt,
			)
		}

		rows, retryable, err := h.fetchOnce(ctx, endpoint)
		if err == nil {
			return rows, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	h.logger.Warn("source: fetch failed after retries",
		"resource", q.Resource,
		"attempts", h.retries+1,
		"error", lastErr,
	)
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (h *HTTP) fetchOnce(ctx context.Context, endpoint string) (rows []Row, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, fmt.Errorf("source: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var body any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, false, fmt.Errorf("source: decode response: %w", err)
		}
		return normalize(body), false, nil
	case retryableStatus(resp.StatusCode):
		return nil, true, fmt.Errorf("source: status %s", resp.Status)
	default:
		return nil, false, fmt.Errorf("source: unexpected status %s", resp.Status)
	}
}

func (h *HTTP) endpoint(q Query) (string, error) {
	u, err := url.Parse(h.base + "/api/" + q.Resource)
	if err != nil {
		return "", fmt.Errorf("source: bad endpoint: %w", err)
	}
	values := u.Query()
	for k, v := range q.Params {
		values.Set(k, v)
	}
	if h.token != "" {
		values.Set("token", h.token)
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// normalize accepts the response shapes seen in the wild: a bare array,
// or an object carrying the array under a well-known key.
func normalize(body any) []Row {
	switch v := body.(type) {
	case []any:
		return toRows(v)
	case map[string]any:
		for _, key := range []string{"items", "data", "table", "rows", "list"} {
			if list, ok := v[key].([]any); ok {
				return toRows(list)
			}
		}
		for _, val := range v {
			if list, ok := val.([]any); ok {
				return toRows(list)
			}
		}
	}
	return nil
}

func toRows(list []any) []Row {
	rows := make([]Row, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			rows = append(rows, Row(m))
		}
	}
	return rows
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
