// geofetch downloads satellite imagery through a processing API: it plans a
// tile grid over an area of interest, fans the downloads out, merges the
// tiles and writes one raster per acquisition date.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/geofetch/geofetch/internal/config"
	"github.com/geofetch/geofetch/internal/hub"
	"github.com/geofetch/geofetch/internal/store"
)

// Exit codes
const (
	ExitSuccess        = 0
	ExitGeneralError   = 1
	ExitInvalidArgs    = 2
	ExitAuthError      = 3
	ExitPartialFailure = 4
	ExitStorageError   = 5
)

// errPartial marks a job that wrote some outputs but had failing tiles.
var errPartial = errors.New("some tiles failed")

// errStorage marks a failure writing to the output bucket.
var errStorage = errors.New("storage error")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitCode(err)
	}
	return ExitSuccess
}

// exitCode maps an error to the exit code of its failure class. Bucket
// failures carry store.ErrWrite when they happen mid-job and errStorage when
// the bucket never opened; both are storage failures to the caller.
func exitCode(err error) int {
	switch {
	case errors.Is(err, hub.ErrAuth):
		return ExitAuthError
	case errors.Is(err, errPartial):
		return ExitPartialFailure
	case errors.Is(err, errStorage), errors.Is(err, store.ErrWrite):
		return ExitStorageError
	case errors.Is(err, errInvalidArgs):
		return ExitInvalidArgs
	default:
		return ExitGeneralError
	}
}

var errInvalidArgs = errors.New("invalid arguments")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "geofetch",
		Short:         "Batch downloader for satellite imagery",
		Long:          "geofetch plans, downloads, merges and stores satellite imagery rasters for an area and date range.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newDownloadCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newCollectionsCmd())
	root.AddCommand(newRegionsCmd())

	return root
}

// loadConfig loads configuration and builds the logger from it.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, setupLogger(cfg.Logging.Level, cfg.Logging.Format), nil
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
