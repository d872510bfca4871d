// Package query defines the download request parameters and validates them
// before any upstream request is built.
package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/geofetch/geofetch/internal/collection"
	"github.com/geofetch/geofetch/internal/geo"
)

// Mode selects how a query is downloaded.
type Mode string

const (
	// ModeDirect issues a single request at a resolution capped by the
	// upstream pixel limit.
	ModeDirect Mode = "direct"

	// ModeSplitMerge partitions the area into a grid of tiles downloaded at
	// the requested resolution and stitched back together.
	ModeSplitMerge Mode = "split-merge"
)

// ParseMode converts a user-supplied mode string, accepting the short
// aliases "D" and "SM".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "direct", "d":
		return ModeDirect, nil
	case "split-merge", "sm":
		return ModeSplitMerge, nil
	default:
		return "", fmt.Errorf("unknown download mode %q, must be %q or %q", s, ModeDirect, ModeSplitMerge)
	}
}

const dateLayout = "2006-01-02"

// Interval is an inclusive date range.
type Interval struct {
	Start time.Time
	End   time.Time
}

// ParseInterval builds an interval from "YYYY-MM-DD" date strings. An empty
// end date collapses the interval to the single start date.
func ParseInterval(start, end string) (Interval, error) {
	if start == "" {
		return Interval{}, fmt.Errorf("start date is required")
	}

	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return Interval{}, fmt.Errorf("invalid start date %q, expected YYYY-MM-DD: %w", start, err)
	}

	if end == "" {
		return Interval{Start: s, End: s}, nil
	}

	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return Interval{}, fmt.Errorf("invalid end date %q, expected YYYY-MM-DD: %w", end, err)
	}

	iv := Interval{Start: s, End: e}
	return iv, iv.Validate()
}

// LastDays returns the interval covering the past n days up to today.
// Negative values are treated as their absolute number of days.
func LastDays(n int, now time.Time) Interval {
	if n < 0 {
		n = -n
	}
	today := now.UTC().Truncate(24 * time.Hour)
	return Interval{Start: today.AddDate(0, 0, -n), End: today}
}

// Validate rejects intervals whose start date is after the end date.
func (iv Interval) Validate() error {
	if iv.Start.IsZero() || iv.End.IsZero() {
		return fmt.Errorf("time interval is required")
	}
	if iv.Start.After(iv.End) {
		return fmt.Errorf("start date (%s) must not be after end date (%s)",
			iv.Start.Format(dateLayout), iv.End.Format(dateLayout))
	}
	return nil
}

// Days returns every date in the interval, inclusive on both ends.
func (iv Interval) Days() []time.Time {
	var days []time.Time
	for d := iv.Start; !d.After(iv.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Query carries all parameters of one download request.
type Query struct {
	// BBox is the area of interest.
	BBox geo.BBox

	// Region is an optional named region the bbox was derived from, used for
	// output naming.
	Region string

	// Interval is the acquisition date range.
	Interval Interval

	// Collection is the data collection query name, e.g. "SENTINEL2_L2A".
	Collection string

	// Evalscript is the evaluation script source: inline text, a local file
	// path, or an https URL. Empty selects the collection default.
	Evalscript string

	// Resolution is the target ground resolution in meters per pixel.
	// Zero selects the collection's native resolution.
	Resolution float64

	// Mode selects Direct or Split-and-Merge download.
	Mode Mode
}

// Validate checks the query for well-formedness against the collection
// registry. It is the gate in front of the planner and dispatcher; nothing
// touches the network before this passes.
func (q *Query) Validate(registry *collection.Registry) error {
	if err := q.BBox.Validate(); err != nil {
		return fmt.Errorf("invalid bounding box: %w", err)
	}

	if err := q.Interval.Validate(); err != nil {
		return fmt.Errorf("invalid time interval: %w", err)
	}

	if strings.TrimSpace(q.Collection) == "" {
		return fmt.Errorf("data collection is required")
	}
	if registry != nil && !registry.Has(q.Collection) {
		return fmt.Errorf("unknown data collection %q, known: %s",
			q.Collection, strings.Join(registry.Names(), ", "))
	}

	if q.Resolution < 0 {
		return fmt.Errorf("resolution must not be negative, got %f", q.Resolution)
	}

	switch q.Mode {
	case ModeDirect, ModeSplitMerge:
	case "":
		return fmt.Errorf("download mode is required")
	default:
		return fmt.Errorf("unknown download mode %q", q.Mode)
	}

	return nil
}
