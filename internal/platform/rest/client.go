// Package rest is the platform.Client for the hosted CRM's REST API.
package rest

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

	"crm-approvals/internal/logging"
	"crm-approvals/internal/observability"
	"crm-approvals/internal/platform"
	"crm-approvals/internal/soql"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

const (
	DefaultAPIVersion = "v59.0"
	DefaultTimeout    = 2 * time.Minute
	// MaxUpdateBatch is the composite API's per-request record limit.
	MaxUpdateBatch = 200

	maxResponseBytes = 64 << 20
)

// Config controls the REST client.
type Config struct {
	// InstanceURL is the org base URL, e.g. https://acme.my.example.com.
	InstanceURL string
	APIVersion  string
	// TokenSource authenticates every request. Required unless HTTPClient
	// already authenticates.
	TokenSource oauth2.TokenSource
	// HTTPClient overrides the instrumented default client.
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *logging.Logger
	Metrics    *observability.ReviewMetrics
}

// Client talks to the platform's REST endpoints.
type Client struct {
	base    *url.URL
	prefix  string
	http    *http.Client
	logger  *logging.Logger
	metrics *observability.ReviewMetrics
}

var _ platform.Client = (*Client)(nil)

// New returns a REST client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.InstanceURL) == "" {
		return nil, fmt.Errorf("platform instance URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.InstanceURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid platform instance URL: %w", err)
	}
	if base.Scheme != "https" && base.Scheme != "http" {
		return nil, fmt.Errorf("platform instance URL must be http or https, got %q", base.Scheme)
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = &logging.Logger{Logger: slog.Default()}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		if cfg.TokenSource == nil {
			return nil, fmt.Errorf("platform token source is required")
		}
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &oauth2.Transport{
				Source: cfg.TokenSource,
				Base:   otelhttp.NewTransport(http.DefaultTransport),
			},
		}
	}

	return &Client{
		base:    base,
		prefix:  "/services/data/" + cfg.APIVersion,
		http:    httpClient,
		logger:  cfg.Logger.ForComponent("platform_rest"),
		metrics: cfg.Metrics,
	}, nil
}

// Describe fetches object metadata. A missing object returns
// platform.ErrObjectNotFound.
func (c *Client) Describe(ctx context.Context, object string) (*platform.ObjectDescribe, error) {
	if !soql.ValidField(object) || strings.Contains(object, ".") {
		return nil, fmt.Errorf("describe %q: %w", object, platform.ErrObjectNotFound)
	}
	var desc platform.ObjectDescribe
	err := c.do(ctx, "describe", object, http.MethodGet, c.prefix+"/sobjects/"+object+"/describe", nil, nil, &desc)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", object, err)
	}
	return normalizeDescribe(&desc), nil
}

// Query renders q and runs it.
func (c *Client) Query(ctx context.Context, q soql.Query) (*platform.QueryResult, error) {
	text, err := soql.Render(q)
	if err != nil {
		return nil, err
	}
	var res platform.QueryResult
	if err := c.do(ctx, "query", q.Object, http.MethodGet, c.prefix+"/query", url.Values{"q": {text}}, nil, &res); err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Object, err)
	}
	return &res, nil
}

// QueryMore follows a continuation locator. Locators not under the API
// prefix, expired or unknown return platform.ErrInvalidLocator.
func (c *Client) QueryMore(ctx context.Context, locator string) (*platform.QueryResult, error) {
	if !strings.HasPrefix(locator, c.prefix+"/query/") || strings.ContainsAny(locator, "?#") || strings.Contains(locator, "..") {
		return nil, fmt.Errorf("query more %q: %w", locator, platform.ErrInvalidLocator)
	}
	var res platform.QueryResult
	if err := c.do(ctx, "query_more", "", http.MethodGet, locator, nil, nil, &res); err != nil {
		return nil, fmt.Errorf("query more: %w", err)
	}
	return &res, nil
}

// Update patches up to MaxUpdateBatch records through the composite API.
// Per-record failures are reported in the results, not as an error.
func (c *Client) Update(ctx context.Context, object string, updates []platform.RecordUpdate) ([]platform.SaveResult, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	if len(updates) > MaxUpdateBatch {
		return nil, fmt.Errorf("update %s: %d records exceeds the limit of %d", object, len(updates), MaxUpdateBatch)
	}
	body, err := json.Marshal(compositeBody(object, updates))
	if err != nil {
		return nil, fmt.Errorf("encode update: %w", err)
	}
	var results []compositeResult
	if err := c.do(ctx, "update", object, http.MethodPatch, c.prefix+"/composite/sobjects", nil, body, &results); err != nil {
		return nil, fmt.Errorf("update %s: %w", object, err)
	}
	out := make([]platform.SaveResult, len(results))
	for i, r := range results {
		id := ""
		if i < len(updates) {
			id = updates[i].ID
		}
		out[i] = r.toSaveResult(id)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op, object, method, path string, query url.Values, body []byte, out any) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordPlatformCall(ctx, op, object, time.Since(start), err)
	}()

	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.logger.Warn("platform request failed", slog.String("operation", op), slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", platform.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("platform request",
		slog.String("operation", op),
		slog.String("object", object),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	limited := io.LimitReader(resp.Body, maxResponseBytes)
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, limited)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	dec := json.NewDecoder(limited)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

// decodeError maps an error response to *platform.APIError, wrapping the
// sentinel errors callers branch on.
func decodeError(status int, body io.Reader) error {
	raw, _ := io.ReadAll(body)
	apiErr := &platform.APIError{StatusCode: status}
	var items []errorItem
	if err := json.Unmarshal(raw, &items); err == nil && len(items) > 0 {
		apiErr.Code = items[0].ErrorCode
		apiErr.Message = items[0].Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}

	switch {
	case apiErr.Code == "INVALID_QUERY_LOCATOR":
		return fmt.Errorf("%w: %w", platform.ErrInvalidLocator, apiErr)
	case status == http.StatusNotFound || apiErr.Code == "NOT_FOUND" || apiErr.Code == "INVALID_TYPE":
		return fmt.Errorf("%w: %w", platform.ErrObjectNotFound, apiErr)
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", platform.ErrUnavailable, apiErr)
	}
	return apiErr
}
