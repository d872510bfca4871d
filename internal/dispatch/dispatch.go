// Package dispatch fans tile downloads out over a bounded worker pool. One
// tile failing permanently does not cancel its siblings; an authentication
// failure aborts the whole batch since no tile can succeed without a token.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/geofetch/geofetch/internal/hub"
	"github.com/geofetch/geofetch/internal/metrics"
	"github.com/geofetch/geofetch/internal/planner"
)

// Fetcher issues one processing request. Retries for transient failures
// happen inside the fetcher; the dispatcher treats a returned error as final.
type Fetcher interface {
	Process(ctx context.Context, req hub.ProcessRequest) ([]byte, error)
}

// Job is one tile download: a tile of the plan, the acquisition date it
// belongs to, and the fully built upstream request.
type Job struct {
	Tile    planner.Tile
	Date    time.Time
	Request hub.ProcessRequest
}

// Result is a completed job with its raster bytes.
type Result struct {
	Job  Job
	Data []byte
}

// TileError records a tile that exhausted its retries.
type TileError struct {
	Index int
	Date  time.Time
	Err   error
}

func (e TileError) Error() string {
	return fmt.Sprintf("tile %d (%s): %v", e.Index, e.Date.Format("2006-01-02"), e.Err)
}

// Options configures the dispatcher.
type Options struct {
	// Workers is the pool size. Default: 4.
	Workers int

	// RateLimit caps requests per second across all workers. Zero disables
	// the limiter.
	RateLimit float64

	// Progress renders a terminal progress bar while the batch runs.
	Progress bool
}

// Dispatcher runs batches of tile downloads.
type Dispatcher struct {
	fetcher Fetcher
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a dispatcher over the given fetcher.
func New(fetcher Fetcher, opts Options) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 4
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}

	return &Dispatcher{
		fetcher: fetcher,
		opts:    opts,
		limiter: limiter,
		logger:  slog.Default(),
	}
}

// WithLogger sets a custom logger for the dispatcher.
func (d *Dispatcher) WithLogger(logger *slog.Logger) *Dispatcher {
	d.logger = logger
	return d
}

// Run downloads every job and blocks until the batch settles. Permanent
// per-tile failures come back as TileErrors alongside the successful results;
// the returned error is non-nil only when the batch as a whole aborted.
// Results are ordered by date, then tile index.
func (d *Dispatcher) Run(ctx context.Context, jobs []Job) ([]Result, []TileError, error) {
	if len(jobs) == 0 {
		return nil, nil, nil
	}

	var bar *progressbar.ProgressBar
	if d.opts.Progress {
		bar = progressbar.Default(int64(len(jobs)), "downloading tiles")
	}

	var (
		mu       sync.Mutex
		results  []Result
		failures []TileError
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Workers)

	for _, job := range jobs {
		g.Go(func() error {
			if d.limiter != nil {
				if err := d.limiter.Wait(gctx); err != nil {
					return err
				}
			}

			metrics.TilesStarted.Inc()
			start := time.Now()

			data, err := d.fetcher.Process(gctx, job.Request)

			metrics.TileDuration.Observe(time.Since(start).Seconds())
			if bar != nil {
				bar.Add(1)
			}

			if err != nil {
				metrics.TilesFailed.Inc()

				// Without a valid token every remaining tile fails the
				// same way, so stop the batch.
				if errors.Is(err, hub.ErrAuth) {
					return err
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}

				d.logger.WarnContext(gctx, "tile download failed",
					slog.Int("tile", job.Tile.Index),
					slog.Time("date", job.Date),
					slog.String("error", err.Error()),
				)

				mu.Lock()
				failures = append(failures, TileError{Index: job.Tile.Index, Date: job.Date, Err: err})
				mu.Unlock()
				return nil
			}

			metrics.TilesSucceeded.Inc()

			mu.Lock()
			results = append(results, Result{Job: job, Data: data})
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()

	sort.Slice(results, func(i, j int) bool {
		if !results[i].Job.Date.Equal(results[j].Job.Date) {
			return results[i].Job.Date.Before(results[j].Job.Date)
		}
		return results[i].Job.Tile.Index < results[j].Job.Tile.Index
	})
	sort.Slice(failures, func(i, j int) bool {
		if !failures[i].Date.Equal(failures[j].Date) {
			return failures[i].Date.Before(failures[j].Date)
		}
		return failures[i].Index < failures[j].Index
	})

	if err != nil {
		return results, failures, fmt.Errorf("batch aborted: %w", err)
	}
	return results, failures, nil
}
