// Package extract pulls grader attempt records from the grader HTTP API.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"syscall"
	"time"

	"GraderUsageETL/internal/models"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TimeLayout is the timestamp format the grader API expects, always UTC.
const TimeLayout = "2006-01-02 15:04:05.000000"

var ErrInvalidWindow = errors.New("window end is before start")

// APIError is a non-2xx response from the grader API.
type APIError struct {
	StatusCode int
	Body       string // first 512 bytes
	retryAfter string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Client calls the grader API with client credentials, retries and rate limiting.
type Client struct {
	baseURL    string
	client     string
	clientKey  string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	limiter    *rate.Limiter
	log        *zap.Logger
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithRateLimit caps outgoing requests per second. Zero or less disables the limit.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithBackoff sets the first retry delay; later retries double it.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a Client for baseURL. client and clientKey are sent as query
// parameters; their case matters to the API.
func New(baseURL, client, clientKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		client:     client,
		clientKey:  clientKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch requests all records created inside w.
func (c *Client) Fetch(ctx context.Context, w models.Window) ([]models.RawRecord, error) {
	if w.End.Before(w.Start) {
		return nil, fmt.Errorf("Fetch(): %w", ErrInvalidWindow)
	}

	query := url.Values{}
	query.Set("client", c.client)
	query.Set("client_key", c.clientKey)
	query.Set("start", w.Start.UTC().Format(TimeLayout))
	query.Set("end", w.End.UTC().Format(TimeLayout))

	fullURL := c.baseURL + "?" + query.Encode()
	c.log.Info("requesting grader API",
		zap.String("url", c.baseURL),
		zap.String("start", query.Get("start")),
		zap.String("end", query.Get("end")))

	body, err := c.get(ctx, fullURL)
	if err != nil {
		return nil, fmt.Errorf("Fetch(): %w", err)
	}

	records, err := decodeRecords(body)
	if err != nil {
		return nil, fmt.Errorf("Fetch(): %w", err)
	}
	if len(records) == 0 {
		c.log.Warn("grader API returned no records", zap.String("url", c.baseURL))
	} else {
		c.log.Info("grader API data received", zap.Int("records", len(records)))
	}
	return records, nil
}

// FetchAll splits w into consecutive sub-windows of length chunk and fetches
// them in order. chunk <= 0 means a single request.
func (c *Client) FetchAll(ctx context.Context, w models.Window, chunk time.Duration) ([]models.RawRecord, error) {
	windows := SplitWindow(w, chunk)
	if len(windows) > 1 {
		c.log.Info("splitting extraction window", zap.Int("requests", len(windows)), zap.Duration("chunk", chunk))
	}

	var all []models.RawRecord
	for i, sub := range windows {
		records, err := c.Fetch(ctx, sub)
		if err != nil {
			return nil, fmt.Errorf("FetchAll(): window %d/%d: %w", i+1, len(windows), err)
		}
		all = append(all, records...)
	}
	return all, nil
}

// SplitWindow cuts w into sub-windows of at most chunk. The last one ends at w.End.
func SplitWindow(w models.Window, chunk time.Duration) []models.Window {
	if chunk <= 0 || !w.End.After(w.Start) {
		return []models.Window{w}
	}
	var out []models.Window
	for start := w.Start; start.Before(w.End); start = start.Add(chunk) {
		end := start.Add(chunk)
		if end.After(w.End) {
			end = w.End
		}
		out = append(out, models.Window{Start: start, End: end})
	}
	return out
}

// get performs the GET with retries on 429, 5xx and transient network errors.
func (c *Client) get(ctx context.Context, fullURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoffDelay(attempt, lastErr)
			c.log.Warn("retrying grader API request",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(lastErr))
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if isRetryableNetworkError(err) {
				lastErr = err
				continue
			}
			return nil, err
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}

		bodyStr := string(body)
		if len(bodyStr) > 512 {
			bodyStr = bodyStr[:512]
		}
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: bodyStr}

		if resp.StatusCode == http.StatusTooManyRequests {
			apiErr.retryAfter = resp.Header.Get("Retry-After")
			lastErr = apiErr
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = apiErr
			continue
		}
		return nil, apiErr
	}
	return nil, lastErr
}

func (c *Client) backoffDelay(attempt int, lastErr error) time.Duration {
	var apiErr *APIError
	if errors.As(lastErr, &apiErr) && apiErr.retryAfter != "" {
		if secs, err := strconv.Atoi(apiErr.retryAfter); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return c.backoff * time.Duration(1<<(attempt-1))
}

func isRetryableNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

// decodeRecords accepts a JSON array. An empty body or null is no records.
// Elements that are not objects come back as nil so Unpack can count them.
func decodeRecords(body []byte) ([]models.RawRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, fmt.Errorf("decodeRecords(): response is not a JSON array: %w", err)
	}
	records := make([]models.RawRecord, len(elems))
	for i, elem := range elems {
		var rec models.RawRecord
		if err := json.Unmarshal(elem, &rec); err != nil {
			continue
		}
		records[i] = rec
	}
	return records, nil
}
