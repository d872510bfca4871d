// Package geofetch provides a public API for embedding the imagery download
// service in another application.
package geofetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/geofetch/geofetch/internal/api"
	"github.com/geofetch/geofetch/internal/collection"
	"github.com/geofetch/geofetch/internal/evalscript"
	"github.com/geofetch/geofetch/internal/hub"
	"github.com/geofetch/geofetch/internal/job"
	"github.com/geofetch/geofetch/internal/regions"
	"github.com/geofetch/geofetch/internal/store"
)

// Options configures an embedded geofetch service.
type Options struct {
	// ClientID and ClientSecret are the OAuth client credentials (required).
	ClientID     string
	ClientSecret string

	// BaseURL is the upstream API deployment root.
	// Default: "https://services.sentinel-hub.com"
	BaseURL string

	// TokenURL is the OAuth token endpoint.
	// Default: BaseURL + "/oauth/token"
	TokenURL string

	// BucketURL is the gocloud blob URL outputs are written to (required).
	// Example: "file:///data/geofetch" or "s3://imagery-archive"
	BucketURL string

	// Timeout is the upstream request timeout.
	// Default: 5m
	Timeout time.Duration

	// Workers is the tile download pool size.
	// Default: 4
	Workers int

	// RateLimit caps upstream requests per second. Zero disables it.
	RateLimit float64

	// MaxPixelDim is the upstream per-request pixel cap per axis.
	// Default: 2500
	MaxPixelDim int

	// KeepTiles leaves per-tile rasters in the bucket after merging.
	KeepTiles bool

	// CollectionsDir is a directory of collection definition JSON files
	// folded over the built-in defaults.
	// Default: "" (built-in defaults only)
	CollectionsDir string

	// RegionsDir is a directory of named GeoJSON region polygons.
	// Default: "" (no named regions)
	RegionsDir string

	// Logger is the slog logger to use.
	// Default: slog.Default()
	Logger *slog.Logger
}

// Server is an embeddable geofetch service.
type Server struct {
	router http.Handler
	runner *job.Runner
	store  *store.Store
}

// New creates an embedded geofetch service with the given options.
func New(ctx context.Context, opts Options) (*Server, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, fmt.Errorf("client credentials are required")
	}
	if opts.BucketURL == "" {
		return nil, fmt.Errorf("bucket URL is required")
	}

	if opts.BaseURL == "" {
		opts.BaseURL = "https://services.sentinel-hub.com"
	}
	if opts.TokenURL == "" {
		opts.TokenURL = opts.BaseURL + "/oauth/token"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	client := hub.NewClient(ctx, hub.Credentials{ClientID: opts.ClientID, ClientSecret: opts.ClientSecret}, hub.Options{
		BaseURL:  opts.BaseURL,
		TokenURL: opts.TokenURL,
		Timeout:  opts.Timeout,
	}).WithLogger(opts.Logger)

	registry := collection.DefaultRegistry()
	if opts.CollectionsDir != "" {
		var err error
		registry, err = collection.LoadDir(opts.CollectionsDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load collection definitions: %w", err)
		}
	}

	regionStore := regions.NewStore()
	if opts.RegionsDir != "" {
		if err := regionStore.LoadDir(opts.RegionsDir); err != nil {
			return nil, fmt.Errorf("failed to load regions: %w", err)
		}
	}

	st, err := store.Open(ctx, opts.BucketURL)
	if err != nil {
		return nil, err
	}

	runner := job.NewRunner(registry, evalscript.NewResolver().WithLogger(opts.Logger), client, st.WithLogger(opts.Logger), job.Options{
		Workers:     opts.Workers,
		RateLimit:   opts.RateLimit,
		MaxPixelDim: opts.MaxPixelDim,
		KeepTiles:   opts.KeepTiles,
	}).WithLogger(opts.Logger)

	handlers := api.NewHandlers(runner, registry, regionStore, opts.Logger)

	return &Server{
		router: api.NewRouter(handlers, opts.Logger),
		runner: runner,
		store:  st,
	}, nil
}

// Handler returns the HTTP handler for mounting in an existing server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Runner returns the job runner for running downloads directly, without HTTP.
func (s *Server) Runner() *job.Runner {
	return s.runner
}

// Close releases the output bucket.
func (s *Server) Close() error {
	return s.store.Close()
}
