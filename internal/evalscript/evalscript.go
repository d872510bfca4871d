// Package evalscript resolves the evaluation script attached to a query. A
// script source may be the script text itself, a path to a local file, or an
// https URL fetched at run time. When the query carries no source at all the
// collection's default script URL is used.
package evalscript

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/geofetch/geofetch/internal/collection"
)

const maxScriptSize = 1 << 20 // 1 MiB

// Resolver turns script sources into script text.
type Resolver struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewResolver creates a resolver with a default HTTP client.
func NewResolver() *Resolver {
	return &Resolver{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
}

// WithLogger sets a custom logger for the resolver.
func (r *Resolver) WithLogger(logger *slog.Logger) *Resolver {
	r.logger = logger
	return r
}

// WithHTTPClient replaces the underlying HTTP client.
func (r *Resolver) WithHTTPClient(hc *http.Client) *Resolver {
	r.httpClient = hc
	return r
}

// Resolve returns the script text for source. An empty source falls back to
// the collection's default script URL.
func (r *Resolver) Resolve(ctx context.Context, source string, coll collection.Collection) (string, error) {
	if source == "" {
		if coll.DefaultScriptURL == "" {
			return "", fmt.Errorf("collection %s has no default evaluation script, provide one explicitly", coll.Name)
		}
		r.logger.DebugContext(ctx, "using default evaluation script",
			slog.String("collection", coll.Name),
			slog.String("url", coll.DefaultScriptURL),
		)
		return r.fetch(ctx, coll.DefaultScriptURL)
	}

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return r.fetch(ctx, source)
	}

	// A source naming an existing file is read from disk; anything else is
	// the script text itself.
	if info, err := os.Stat(source); err == nil && !info.IsDir() {
		data, err := os.ReadFile(source)
		if err != nil {
			return "", fmt.Errorf("failed to read evaluation script %q: %w", source, err)
		}
		return string(data), nil
	}

	return source, nil
}

func (r *Resolver) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch evaluation script from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("evaluation script fetch from %s returned status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxScriptSize))
	if err != nil {
		return "", fmt.Errorf("failed to read evaluation script body: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("evaluation script at %s is empty", url)
	}
	return string(data), nil
}
