// Package hub is the client for the upstream imagery processing service. It
// exposes the single narrow operation the rest of the tool needs: given a
// bounding box, a time range, an evalscript and a collection, return raster
// bytes or an error.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/geofetch/geofetch/internal/geo"
)

const (
	processPath = "/api/v1/process"
	catalogPath = "/api/v1/catalog/1.0.0/search"

	// CRS84 is WGS84 with lon/lat axis order, matching our BBox layout.
	crs84 = "http://www.opengis.net/def/crs/OGC/1.3/CRS84"
)

// Options configures the client.
type Options struct {
	// BaseURL is the API deployment root, e.g. "https://services.sentinel-hub.com".
	BaseURL string

	// TokenURL is the OAuth token endpoint.
	TokenURL string

	// Timeout applies to each individual HTTP request.
	// Default: 5m, processing requests for large tiles are slow.
	Timeout time.Duration

	// RetryAttempts is the number of retries after the first try.
	// Zero selects the default of 3; a negative value disables retries.
	RetryAttempts int

	// RetryBackoff is the initial backoff; it doubles per attempt with
	// jitter, capped at RetryMaxBackoff.
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration
}

func (o *Options) applyDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Minute
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = 3
	}
	if o.RetryAttempts < 0 {
		o.RetryAttempts = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Second
	}
	if o.RetryMaxBackoff <= 0 {
		o.RetryMaxBackoff = 30 * time.Second
	}
}

// Client talks to the upstream processing and catalog APIs.
type Client struct {
	opts       Options
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client authenticating every request through the token
// source built from creds.
func NewClient(ctx context.Context, creds Credentials, opts Options) *Client {
	opts.applyDefaults()

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	source := oauth2.ReuseTokenSource(nil, creds.TokenSource(ctx, opts.TokenURL))

	return &Client{
		opts: opts,
		httpClient: &http.Client{
			Timeout:   opts.Timeout,
			Transport: &authTransport{base: transport, source: source},
		},
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger for the client.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// WithHTTPClient replaces the underlying HTTP client. Used by tests to talk
// to a fake upstream without OAuth.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithBaseURL returns a shallow copy of the client pointed at a different
// deployment, used for collections hosted on a dedicated service URL.
func (c *Client) WithBaseURL(baseURL string) *Client {
	clone := *c
	clone.opts.BaseURL = baseURL
	return &clone
}

// ProcessRequest carries everything needed for one processing request.
type ProcessRequest struct {
	// Collection is the upstream catalog identifier, e.g. "sentinel-2-l2a".
	Collection string

	// BBox is the tile footprint.
	BBox geo.BBox

	// From and To bound the acquisition time range.
	From time.Time
	To   time.Time

	// Evalscript is the full script text, already resolved.
	Evalscript string

	// Width and Height are the exact output pixel dimensions.
	Width  int
	Height int
}

// Wire types for the processing API request body.

type processBody struct {
	Input      processInput  `json:"input"`
	Output     processOutput `json:"output"`
	Evalscript string        `json:"evalscript"`
}

type processInput struct {
	Bounds processBounds `json:"bounds"`
	Data   []processData `json:"data"`
}

type processBounds struct {
	BBox       []float64         `json:"bbox"`
	Properties map[string]string `json:"properties"`
}

type processData struct {
	Type       string            `json:"type"`
	DataFilter processDataFilter `json:"dataFilter"`
	Processing map[string]any    `json:"processing,omitempty"`
}

type processDataFilter struct {
	TimeRange processTimeRange `json:"timeRange"`
}

type processTimeRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type processOutput struct {
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Responses []processResponse `json:"responses"`
}

type processResponse struct {
	Identifier string        `json:"identifier"`
	Format     processFormat `json:"format"`
}

type processFormat struct {
	Type string `json:"type"`
}

func (r ProcessRequest) body() ([]byte, error) {
	body := processBody{
		Input: processInput{
			Bounds: processBounds{
				BBox:       r.BBox.Slice(),
				Properties: map[string]string{"crs": crs84},
			},
			Data: []processData{{
				Type: r.Collection,
				DataFilter: processDataFilter{
					TimeRange: processTimeRange{
						From: r.From.UTC().Format(time.RFC3339),
						To:   r.To.UTC().Format(time.RFC3339),
					},
				},
			}},
		},
		Output: processOutput{
			Width:  r.Width,
			Height: r.Height,
			Responses: []processResponse{{
				Identifier: "default",
				Format:     processFormat{Type: "image/tiff"},
			}},
		},
		Evalscript: r.Evalscript,
	}
	return json.Marshal(body)
}

// Process issues one processing request and returns the raster bytes.
// Transient failures are retried with exponential backoff; authentication
// and request errors are returned immediately.
func (c *Client) Process(ctx context.Context, req ProcessRequest) ([]byte, error) {
	payload, err := req.body()
	if err != nil {
		return nil, fmt.Errorf("failed to encode process request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.DebugContext(ctx, "retrying process request",
				slog.Int("attempt", attempt),
				slog.String("collection", req.Collection),
				slog.String("error", lastErr.Error()),
			)
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		data, err := c.process(ctx, payload)
		if err == nil {
			return data, nil
		}
		if !Retryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("process request failed after %d attempts: %w", c.opts.RetryAttempts+1, lastErr)
}

func (c *Client) process(ctx context.Context, payload []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+processPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "image/tiff")
	httpReq.Header.Set("User-Agent", "geofetch/1.0")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("process request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read raster response: %w", err)
	}
	return data, nil
}

// checkStatus maps upstream status codes to classified errors. The response
// body is folded into the error, upstream error payloads carry the reason.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", ErrAuth, resp.StatusCode, body)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: status %d: %s", ErrNotFound, resp.StatusCode, body)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d: %s", ErrRateLimited, resp.StatusCode, body)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrServer, resp.StatusCode, body)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrBadRequest, resp.StatusCode, body)
	}
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	backoff := c.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > c.opts.RetryMaxBackoff {
		backoff = c.opts.RetryMaxBackoff
	}

	// Jitter: 0.5 to 1.5 of the nominal backoff.
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
		return nil
	}
}
