// Package kgapi is the HTTP client of the knowledge-graph search API.
package kgapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/kgbrowse/internal/domain"
	"github.com/kailas-cloud/kgbrowse/internal/domain/group"
	"github.com/kailas-cloud/kgbrowse/internal/domain/instance"
	"github.com/kailas-cloud/kgbrowse/internal/domain/search"
	"github.com/kailas-cloud/kgbrowse/internal/domain/settings"
	"github.com/kailas-cloud/kgbrowse/internal/metrics"
)

// DefaultTimeout bounds a single API round trip.
const DefaultTimeout = 30 * time.Second

// maxBody bounds the size of a decoded response.
const maxBody = 32 << 20

// TokenSource returns the bearer token for a request. An empty token sends the
// request anonymously.
type TokenSource func(ctx context.Context) (string, error)

// Config holds the API client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Client calls the KG API. It is safe for concurrent use; WithTokenSource derives
// per-session clients sharing the same connection pool.
type Client struct {
	baseURL string
	http    *http.Client
	token   TokenSource
	logger  *zap.Logger
}

// NewClient creates an anonymous client.
func NewClient(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// WithTokenSource returns a copy of the client authenticating with ts.
func (c *Client) WithTokenSource(ts TokenSource) *Client {
	cp := *c
	cp.token = ts
	return &cp
}

// Settings fetches the type and facet mapping.
func (c *Client) Settings(ctx context.Context) (settings.Settings, error) {
	raw, err := c.do(ctx, "settings", http.MethodGet, "/settings", nil)
	if err != nil {
		return settings.Settings{}, err
	}
	s, err := settings.Parse(raw)
	if err != nil {
		return settings.Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	return s, nil
}

// Groups lists the groups visible to the caller.
func (c *Client) Groups(ctx context.Context) ([]group.Option, error) {
	var opts []group.Option
	if err := c.getJSON(ctx, "groups", "/groups", &opts); err != nil {
		return nil, err
	}
	return opts, nil
}

// Search runs a search in the request's group.
func (c *Client) Search(ctx context.Context, req search.Request) (search.Response, error) {
	params := url.Values{}
	if req.QueryString != "" {
		params.Set("q", req.QueryString)
	}
	if req.Type != "" {
		params.Set("type", req.Type)
	}
	params.Set("from", strconv.Itoa(req.From))
	params.Set("size", strconv.Itoa(req.Size))

	body, err := json.Marshal(req.Aggregations)
	if err != nil {
		return search.Response{}, fmt.Errorf("encode aggregations: %w", err)
	}
	path := "/groups/" + url.PathEscape(req.Group) + "/search?" + params.Encode()
	raw, err := c.do(ctx, "search", http.MethodPost, path, body)
	if err != nil {
		return search.Response{}, err
	}

	var resp search.Response
	if err := decode(raw, &resp); err != nil {
		return search.Response{}, fmt.Errorf("search response: %w", err)
	}
	return resp, nil
}

// Instance fetches an instance of a group. A payload without an id is malformed.
func (c *Client) Instance(ctx context.Context, g, id string) (*instance.Instance, error) {
	var inst instance.Instance
	path := "/groups/" + url.PathEscape(g) + "/documents/" + url.PathEscape(id)
	if err := c.getJSON(ctx, "instance", path, &inst); err != nil {
		return nil, err
	}
	if inst.ID == "" {
		return nil, fmt.Errorf("instance %q without id: %w", id, domain.ErrMalformed)
	}
	return &inst, nil
}

// Favorites returns the bookmarked instance ids of the caller.
func (c *Client) Favorites(ctx context.Context) ([]string, error) {
	var bookmarks []struct {
		ID string `json:"id"`
	}
	if err := c.getJSON(ctx, "favorites", "/bookmarks", &bookmarks); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(bookmarks))
	for _, b := range bookmarks {
		if b.ID != "" {
			ids = append(ids, b.ID)
		}
	}
	return ids, nil
}

// HealthCheck verifies the API answers the settings endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.do(ctx, "health", http.MethodGet, "/settings", nil); err != nil {
		return fmt.Errorf("kg api: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, op, path string, dst any) error {
	raw, err := c.do(ctx, op, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := decode(raw, dst); err != nil {
		return fmt.Errorf("%s response: %w", op, err)
	}
	return nil
}

func decode(raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.Join(domain.ErrMalformed, err)
	}
	return nil
}

// do performs one round trip and maps non-2xx statuses onto domain sentinels.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.KGRequestDuration.WithLabelValues(op, "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("%s request: %w", op, errors.Join(domain.ErrUnavailable, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	metrics.KGRequestDuration.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", op, errors.Join(domain.ErrUnavailable, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("KG API error",
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", extractDetail(raw)),
		)
		return nil, fmt.Errorf("%s: %w", op, domain.NewStatusError(resp.StatusCode))
	}
	return raw, nil
}

// extractDetail extracts a human-readable message from a JSON error body.
func extractDetail(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &parsed) != nil {
		return ""
	}
	if parsed.Message != "" {
		return parsed.Message
	}
	return parsed.Error
}
