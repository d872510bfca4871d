// Package job orchestrates one download: validate the query, plan the tile
// grid, find acquisition dates, fan the tile downloads out, merge per date
// and write the results. A job with some failed tiles still writes every
// date that completed and reports the failures.
package job

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/geofetch/geofetch/internal/collection"
	"github.com/geofetch/geofetch/internal/dispatch"
	"github.com/geofetch/geofetch/internal/evalscript"
	"github.com/geofetch/geofetch/internal/hub"
	"github.com/geofetch/geofetch/internal/merge"
	"github.com/geofetch/geofetch/internal/metrics"
	"github.com/geofetch/geofetch/internal/planner"
	"github.com/geofetch/geofetch/internal/query"
	"github.com/geofetch/geofetch/internal/store"
)

// Options bounds the fan-out and output handling of a runner.
type Options struct {
	// Workers is the tile download pool size.
	Workers int

	// RateLimit caps requests per second across workers. Zero disables it.
	RateLimit float64

	// MaxPixelDim is the upstream's per-request pixel cap per axis.
	MaxPixelDim int

	// KeepTiles leaves per-tile rasters in the store after a merge.
	KeepTiles bool

	// Progress renders a terminal progress bar during the batch.
	Progress bool
}

// Output is one raster written by a job.
type Output struct {
	Date   time.Time `json:"date"`
	Object string    `json:"object"`
	Tiles  int       `json:"tiles"`
}

// Report summarizes a finished job.
type Report struct {
	ID              string               `json:"id"`
	Collection      string               `json:"collection"`
	Mode            query.Mode           `json:"mode"`
	Resolution      float64              `json:"resolution"`
	Cols            int                  `json:"cols"`
	Rows            int                  `json:"rows"`
	Dates           int                  `json:"dates"`
	Outputs         []Output             `json:"outputs"`
	Failures        []dispatch.TileError `json:"-"`
	FailureMessages []string             `json:"failures,omitempty"`
	Duration        time.Duration        `json:"duration"`
}

// Partial reports whether the job wrote some outputs but not all.
func (r *Report) Partial() bool {
	return len(r.Failures) > 0 && len(r.Outputs) > 0
}

// Runner executes download jobs.
type Runner struct {
	registry *collection.Registry
	resolver *evalscript.Resolver
	client   *hub.Client
	store    *store.Store
	opts     Options
	logger   *slog.Logger
}

// NewRunner wires a runner from its collaborators.
func NewRunner(registry *collection.Registry, resolver *evalscript.Resolver, client *hub.Client, st *store.Store, opts Options) *Runner {
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.MaxPixelDim < 1 {
		opts.MaxPixelDim = 2500
	}

	return &Runner{
		registry: registry,
		resolver: resolver,
		client:   client,
		store:    st,
		opts:     opts,
		logger:   slog.Default(),
	}
}

// WithLogger sets a custom logger for the runner.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	return r
}

// Run executes one job. The returned report is non-nil whenever the query
// validated, even when every tile failed.
func (r *Runner) Run(ctx context.Context, q query.Query) (*Report, error) {
	start := time.Now()
	jobID := uuid.NewString()

	if err := q.Validate(r.registry); err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}

	logger := r.logger.With(slog.String("job_id", jobID))

	coll := r.registry.Get(q.Collection)
	if coll == nil {
		return nil, fmt.Errorf("unknown collection %q", q.Collection)
	}

	client := r.client
	if coll.ServiceURL != "" {
		client = client.WithBaseURL(coll.ServiceURL)
	}

	rec, err := planner.Reconcile(q.BBox, q.Resolution, q.Mode, coll.NativeResolution, r.opts.MaxPixelDim)
	if err != nil {
		return nil, err
	}
	if rec.Capped {
		logger.WarnContext(ctx, "requested resolution is finer than one request allows, coarsening",
			slog.Float64("resolution", rec.Resolution),
		)
	}
	if rec.Collapsed {
		logger.InfoContext(ctx, "area fits a single request at native resolution, downloading directly")
	}

	plan, err := planner.New(q.BBox, rec.Resolution, r.opts.MaxPixelDim)
	if err != nil {
		return nil, err
	}

	script, err := r.resolver.Resolve(ctx, q.Evalscript, *coll)
	if err != nil {
		return nil, err
	}

	dates, err := client.SearchDates(ctx, coll.ID, q.BBox, q.Interval)
	if err != nil {
		return nil, fmt.Errorf("catalog search failed: %w", err)
	}

	report := &Report{
		ID:         jobID,
		Collection: coll.Name,
		Mode:       rec.Mode,
		Resolution: rec.Resolution,
		Cols:       plan.Cols,
		Rows:       plan.Rows,
		Dates:      len(dates),
	}

	if len(dates) == 0 {
		logger.InfoContext(ctx, "no acquisitions found for the query",
			slog.String("collection", coll.Name),
			slog.String("interval", fmt.Sprintf("%s/%s", q.Interval.Start.Format("2006-01-02"), q.Interval.End.Format("2006-01-02"))),
		)
		report.Duration = time.Since(start)
		metrics.JobDuration.WithLabelValues("empty").Observe(report.Duration.Seconds())
		return report, nil
	}

	jobs := r.buildJobs(plan, dates, coll.ID, script)

	logger.InfoContext(ctx, "dispatching tile downloads",
		slog.String("collection", coll.Name),
		slog.Int("dates", len(dates)),
		slog.Int("tiles_per_date", len(plan.Tiles)),
		slog.Int("workers", r.opts.Workers),
	)

	dispatcher := dispatch.New(client, dispatch.Options{
		Workers:   r.opts.Workers,
		RateLimit: r.opts.RateLimit,
		Progress:  r.opts.Progress,
	}).WithLogger(logger)

	results, failures, err := dispatcher.Run(ctx, jobs)
	report.Failures = failures
	for _, f := range failures {
		report.FailureMessages = append(report.FailureMessages, f.Error())
	}
	if err != nil {
		report.Duration = time.Since(start)
		metrics.JobDuration.WithLabelValues("aborted").Observe(report.Duration.Seconds())
		return report, err
	}

	if err := r.writeOutputs(ctx, q, plan, rec.Mode, results, report); err != nil {
		report.Duration = time.Since(start)
		metrics.JobDuration.WithLabelValues("aborted").Observe(report.Duration.Seconds())
		return report, err
	}

	report.Duration = time.Since(start)

	outcome := "ok"
	if len(report.Failures) > 0 {
		outcome = "partial"
	}
	metrics.JobDuration.WithLabelValues(outcome).Observe(report.Duration.Seconds())

	return report, nil
}

// buildJobs crosses the tile grid with the acquisition dates. Each request
// covers the full acquisition day.
func (r *Runner) buildJobs(plan *planner.Plan, dates []time.Time, collectionID, script string) []dispatch.Job {
	jobs := make([]dispatch.Job, 0, len(dates)*len(plan.Tiles))
	for _, date := range dates {
		day := date.UTC().Truncate(24 * time.Hour)
		for _, tile := range plan.Tiles {
			jobs = append(jobs, dispatch.Job{
				Tile: tile,
				Date: day,
				Request: hub.ProcessRequest{
					Collection: collectionID,
					BBox:       tile.BBox,
					From:       day,
					To:         day.Add(24*time.Hour - time.Second),
					Evalscript: script,
					Width:      tile.Width,
					Height:     tile.Height,
				},
			})
		}
	}
	return jobs
}

// writeOutputs merges and stores one raster per date that downloaded
// completely. Dates missing tiles are skipped; their failures are already on
// the report.
func (r *Runner) writeOutputs(ctx context.Context, q query.Query, plan *planner.Plan, mode query.Mode, results []dispatch.Result, report *Report) error {
	byDate := make(map[time.Time]map[int][]byte)
	for _, res := range results {
		tiles, ok := byDate[res.Job.Date]
		if !ok {
			tiles = make(map[int][]byte)
			byDate[res.Job.Date] = tiles
		}
		tiles[res.Job.Tile.Index] = res.Data
	}

	name := q.Region
	if name == "" {
		name = q.BBox.String()
	}

	// Iterate dates in result order to keep output order deterministic.
	seen := make(map[time.Time]bool)
	for _, res := range results {
		date := res.Job.Date
		if seen[date] {
			continue
		}
		seen[date] = true

		tiles := byDate[date]
		if len(tiles) != len(plan.Tiles) {
			r.logger.WarnContext(ctx, "skipping date with missing tiles",
				slog.Time("date", date),
				slog.Int("got", len(tiles)),
				slog.Int("want", len(plan.Tiles)),
			)
			continue
		}

		key := store.Key{Date: date, Name: name, Collection: report.Collection, Mode: mode}

		var raster []byte
		if plan.SingleTile() {
			raster = tiles[0]
		} else {
			for index, data := range tiles {
				if _, err := r.store.WriteTile(ctx, key, index, data); err != nil {
					return err
				}
			}

			merged, err := merge.Mosaic(plan, tiles)
			if err != nil {
				return fmt.Errorf("merge failed for %s: %w", date.Format("2006-01-02"), err)
			}
			raster = merged
		}

		object, err := r.store.WriteOutput(ctx, key, raster)
		if err != nil {
			return err
		}
		metrics.OutputsWritten.Inc()

		if !plan.SingleTile() && !r.opts.KeepTiles {
			if err := r.store.RemoveTiles(ctx, key); err != nil {
				return err
			}
		}

		report.Outputs = append(report.Outputs, Output{Date: date, Object: object, Tiles: len(plan.Tiles)})
	}

	return nil
}
