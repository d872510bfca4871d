package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/geofetch/geofetch/internal/collection"
	"github.com/geofetch/geofetch/internal/config"
	"github.com/geofetch/geofetch/internal/evalscript"
	"github.com/geofetch/geofetch/internal/geo"
	"github.com/geofetch/geofetch/internal/hub"
	"github.com/geofetch/geofetch/internal/job"
	"github.com/geofetch/geofetch/internal/query"
	"github.com/geofetch/geofetch/internal/regions"
	"github.com/geofetch/geofetch/internal/store"
)

type downloadFlags struct {
	bbox       string
	region     string
	from       string
	to         string
	days       int
	collection string
	resolution float64
	mode       string
	evalscript string
	out        string
	keepTiles  bool
	noProgress bool
}

func newDownloadCmd() *cobra.Command {
	var flags downloadFlags

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download imagery for an area and date range",
		Example: `  geofetch download --bbox -51.22,64.10,-51.16,64.12 --from 2024-06-01 --to 2024-06-05 \
      --collection SENTINEL2_L2A --resolution 10
  geofetch download --region nuuk --days 7 --collection SENTINEL1_IW --mode direct`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.bbox, "bbox", "", "bounding box as min_lon,min_lat,max_lon,max_lat")
	cmd.Flags().StringVar(&flags.region, "region", "", "named region from the regions directory")
	cmd.Flags().StringVar(&flags.from, "from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&flags.to, "to", "", "end date (YYYY-MM-DD), defaults to the start date")
	cmd.Flags().IntVar(&flags.days, "days", 0, "download the past N days instead of an explicit date range")
	cmd.Flags().StringVar(&flags.collection, "collection", "", "data collection, e.g. SENTINEL2_L2A")
	cmd.Flags().Float64Var(&flags.resolution, "resolution", 0, "ground resolution in meters per pixel (0 = collection native)")
	cmd.Flags().StringVar(&flags.mode, "mode", "split-merge", "download mode: direct or split-merge")
	cmd.Flags().StringVar(&flags.evalscript, "evalscript", "", "evaluation script: inline text, file path or https URL")
	cmd.Flags().StringVar(&flags.out, "out", "", "output bucket URL, overrides the configured one")
	cmd.Flags().BoolVar(&flags.keepTiles, "keep-tiles", false, "keep per-tile rasters after merging")
	cmd.Flags().BoolVar(&flags.noProgress, "no-progress", false, "disable the progress bar")

	cmd.MarkFlagRequired("collection")

	return cmd
}

func runDownload(ctx context.Context, flags downloadFlags) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	q, err := buildQuery(flags, cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidArgs, err)
	}

	creds, err := hub.ReadCredentials(cfg.Auth.CredentialsFile)
	if err != nil {
		return fmt.Errorf("%w: %v", hub.ErrAuth, err)
	}

	client := hub.NewClient(ctx, creds, hub.Options{
		BaseURL:         cfg.API.BaseURL,
		TokenURL:        cfg.API.TokenURL,
		Timeout:         cfg.API.Timeout,
		RetryAttempts:   cfg.API.RetryAttempts,
		RetryBackoff:    cfg.API.RetryBackoff,
		RetryMaxBackoff: cfg.API.RetryMaxBackoff,
	}).WithLogger(logger)

	registry, err := loadRegistry(cfg)
	if err != nil {
		return err
	}

	bucketURL := cfg.Store.BucketURL
	if flags.out != "" {
		bucketURL = flags.out
	}
	st, err := store.Open(ctx, bucketURL)
	if err != nil {
		return fmt.Errorf("%w: %v", errStorage, err)
	}
	defer st.Close()

	runner := job.NewRunner(registry, evalscript.NewResolver().WithLogger(logger), client, st.WithLogger(logger), job.Options{
		Workers:     cfg.Download.Workers,
		RateLimit:   cfg.Download.RateLimit,
		MaxPixelDim: cfg.Download.MaxPixelDim,
		KeepTiles:   cfg.Download.KeepTiles || flags.keepTiles,
		Progress:    cfg.Download.Progress && !flags.noProgress,
	}).WithLogger(logger)

	report, err := runner.Run(ctx, q)
	if err != nil {
		return err
	}

	printReport(report)

	if len(report.Failures) > 0 {
		return fmt.Errorf("%w: %d of %d dates written", errPartial, len(report.Outputs), report.Dates)
	}
	return nil
}

// buildQuery assembles the query from flags, resolving a named region to its
// bounding box when one is given.
func buildQuery(flags downloadFlags, cfg *config.Config) (query.Query, error) {
	q := query.Query{
		Collection: flags.collection,
		Resolution: flags.resolution,
		Evalscript: flags.evalscript,
	}

	switch {
	case flags.bbox != "" && flags.region != "":
		return query.Query{}, fmt.Errorf("set either --bbox or --region, not both")
	case flags.region != "":
		regionStore := regions.NewStore()
		if err := regionStore.LoadDir(cfg.Regions.Dir); err != nil {
			return query.Query{}, err
		}
		region, err := regionStore.Get(flags.region)
		if err != nil {
			return query.Query{}, err
		}
		q.Region = region.Name
		q.BBox = region.BBox
	case flags.bbox != "":
		bbox, err := parseBBox(flags.bbox)
		if err != nil {
			return query.Query{}, err
		}
		q.BBox = bbox
	default:
		return query.Query{}, fmt.Errorf("an area is required: --bbox or --region")
	}

	if flags.days != 0 {
		q.Interval = query.LastDays(flags.days, time.Now())
	} else {
		interval, err := query.ParseInterval(flags.from, flags.to)
		if err != nil {
			return query.Query{}, err
		}
		q.Interval = interval
	}

	mode, err := query.ParseMode(flags.mode)
	if err != nil {
		return query.Query{}, err
	}
	q.Mode = mode

	return q, nil
}

func parseBBox(s string) (geo.BBox, error) {
	parts := strings.Split(s, ",")
	coords := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geo.BBox{}, fmt.Errorf("invalid bbox value %q: %w", p, err)
		}
		coords = append(coords, v)
	}
	return geo.NewBBox(coords)
}

// loadRegistry builds the collection registry, folding in JSON definitions
// from the configured directory when present.
func loadRegistry(cfg *config.Config) (*collection.Registry, error) {
	if cfg.Collections.Dir == "" {
		return collection.DefaultRegistry(), nil
	}
	registry, err := collection.LoadDir(cfg.Collections.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load collection definitions: %w", err)
	}
	return registry, nil
}

func printReport(r *job.Report) {
	fmt.Printf("collection: %s  mode: %s  resolution: %.0fm  grid: %dx%d\n",
		r.Collection, r.Mode, r.Resolution, r.Cols, r.Rows)
	fmt.Printf("acquisitions: %d  written: %d  failed tiles: %d  took: %s\n",
		r.Dates, len(r.Outputs), len(r.Failures), r.Duration.Round(time.Millisecond))

	for _, out := range r.Outputs {
		fmt.Printf("  %s\n", out.Object)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(os.Stderr, "  failed: %s\n", f.Error())
	}
}
