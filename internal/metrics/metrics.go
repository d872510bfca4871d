// Package metrics exposes Prometheus instrumentation shared by the CLI and
// serve mode.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the application registry; serve mode mounts it on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// TilesStarted counts tile downloads handed to a worker.
	TilesStarted = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "geofetch",
		Subsystem: "dispatch",
		Name:      "tiles_started_total",
		Help:      "Number of tile downloads started.",
	})

	// TilesSucceeded counts tile downloads that returned raster bytes.
	TilesSucceeded = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "geofetch",
		Subsystem: "dispatch",
		Name:      "tiles_succeeded_total",
		Help:      "Number of tile downloads that succeeded.",
	})

	// TilesFailed counts tile downloads that exhausted their retries.
	TilesFailed = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "geofetch",
		Subsystem: "dispatch",
		Name:      "tiles_failed_total",
		Help:      "Number of tile downloads that failed permanently.",
	})

	// TileDuration observes wall time per tile download.
	TileDuration = promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: "geofetch",
		Subsystem: "dispatch",
		Name:      "tile_duration_seconds",
		Help:      "Tile download duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
	})

	// JobDuration observes wall time per job, labelled by outcome.
	JobDuration = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "geofetch",
		Subsystem: "job",
		Name:      "duration_seconds",
		Help:      "Job duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"outcome"})

	// OutputsWritten counts merged rasters written to the store.
	OutputsWritten = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "geofetch",
		Subsystem: "store",
		Name:      "outputs_written_total",
		Help:      "Number of merged rasters written.",
	})
)
