package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pocketledger/ledgersync/internal/domain"
	domainerrors "github.com/pocketledger/ledgersync/internal/errors"
	"github.com/pocketledger/ledgersync/internal/ratelimit"
)

// HTTPConfig configures the HTTP adapter.
type HTTPConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// RateLimit is the per-collection request rate; zero disables pacing.
	RateLimit float64
	Burst     int
}

// RecordsResponse is the body of a records query.
type RecordsResponse struct {
	Records []json.RawMessage `json:"records"`
}

// HTTPClient talks to a remote store over its REST API.
type HTTPClient struct {
	base    *url.URL
	token   string
	client  *http.Client
	limiter *ratelimit.KeyedRateLimiter
	logger  *slog.Logger
}

// NewHTTPClient creates an adapter for the remote at cfg.BaseURL.
func NewHTTPClient(cfg HTTPConfig, logger *slog.Logger) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, domainerrors.Validationf("invalid remote base url %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPClient{
		base:    base,
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
		limiter: ratelimit.New(cfg.RateLimit, cfg.Burst),
		logger:  logger,
	}, nil
}

// Close stops the rate limiter.
func (c *HTTPClient) Close() error {
	c.limiter.Stop()
	return nil
}

// Upsert PUTs the record to /api/v1/collections/{collection}/records/{id}.
func (c *HTTPClient) Upsert(ctx context.Context, col domain.Collection, record json.RawMessage) error {
	h, err := domain.DecodeHeader(col, record)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeValidation, "invalid record")
	}

	endpoint := c.endpoint("api", "v1", "collections", col.String(), "records", h.ID)
	resp, err := c.do(ctx, col.String(), http.MethodPut, endpoint, record)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse
	return nil
}

// QueryUpdatedSince GETs /api/v1/collections/{collection}/records.
func (c *HTTPClient) QueryUpdatedSince(ctx context.Context, col domain.Collection, scope domain.ScopeFilter, since time.Time) ([]json.RawMessage, error) {
	endpoint := c.endpoint("api", "v1", "collections", col.String(), "records")
	q := url.Values{}
	if scope.UserID != "" {
		q.Set("user_id", scope.UserID)
	}
	if len(scope.GroupIDs) > 0 {
		q.Set("group_ids", strings.Join(scope.GroupIDs, ","))
	}
	if !since.IsZero() {
		q.Set("updated_after", since.UTC().Format(time.RFC3339Nano))
	}
	endpoint.RawQuery = q.Encode()

	resp, err := c.do(ctx, col.String(), http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body RecordsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, domainerrors.RemoteUnavailable(err, "decode records response")
	}
	return body.Records, nil
}

// Ping GETs /api/v1/health.
func (c *HTTPClient) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, "health", http.MethodGet, c.endpoint("api", "v1", "health"), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *HTTPClient) endpoint(segments ...string) *url.URL {
	u := *c.base
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.Path = c.base.Path + "/" + strings.Join(escaped, "/")
	u.RawPath = ""
	return &u
}

// do sends a request and returns the response for 2xx statuses. Every
// failure is reported as RemoteUnavailable so callers retry on the next cycle.
func (c *HTTPClient) do(ctx context.Context, limitKey, method string, u *url.URL, body []byte) (*http.Response, error) {
	if err := c.limiter.Wait(ctx, limitKey); err != nil {
		return nil, domainerrors.RemoteUnavailable(err, "rate limiter")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, domainerrors.RemoteUnavailable(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domainerrors.RemoteUnavailable(err, method+" "+u.Path)
	}
	c.logger.Debug("remote request",
		"method", method,
		"path", u.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, domainerrors.RemoteUnavailable(
			fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(detail)),
			method+" "+u.Path,
		).WithDetails(map[string]int{"status": resp.StatusCode})
	}
	return resp, nil
}

var _ Adapter = (*HTTPClient)(nil)
