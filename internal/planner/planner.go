// Package planner decides whether a query downloads as a single upstream
// request or as a grid of tiles, and sizes every tile to stay within the
// upstream pixel limits.
package planner

import (
	"fmt"
	"math"

	"github.com/geofetch/geofetch/internal/geo"
	"github.com/geofetch/geofetch/internal/query"
)

// MaxTrialResolution is the coarsest resolution considered achievable.
// Areas that would need a coarser resolution to fit a single request are
// rejected in Direct mode.
const MaxTrialResolution = 10000

// Tile is one sub-request unit: a sub-box of the query area plus the exact
// pixel extent requested from the upstream for it. Col/Row/Index are stable
// and used for deterministic output naming and merge order (row-major,
// row 0 at the northern edge).
type Tile struct {
	Index  int
	Col    int
	Row    int
	BBox   geo.BBox
	Width  int
	Height int
}

// Plan is the partition of one query into tiles.
type Plan struct {
	// Resolution is the effective ground resolution in meters per pixel.
	Resolution float64

	// Cols and Rows give the grid shape; 1x1 for a direct download.
	Cols int
	Rows int

	// Width and Height are the mosaic pixel dimensions; per-column widths
	// and per-row heights sum to them exactly.
	Width      int
	Height     int
	ColWidths  []int
	RowHeights []int

	Tiles []Tile
}

// SingleTile reports whether the plan needs no merge step.
func (p *Plan) SingleTile() bool {
	return len(p.Tiles) == 1
}

// MaxResolution returns the finest resolution, in whole meters per pixel, at
// which the box still fits a single maxDim x maxDim upstream request.
func MaxResolution(b geo.BBox, maxDim int) (float64, error) {
	if maxDim < 1 {
		return 0, fmt.Errorf("maximum pixel dimension must be positive, got %d", maxDim)
	}

	needX := b.Width() / float64(maxDim)
	needY := b.Height() / float64(maxDim)
	res := math.Ceil(math.Max(needX, needY))
	if res < 1 {
		res = 1
	}

	if res > MaxTrialResolution {
		origin := "x and y"
		switch {
		case needX > MaxTrialResolution && needY <= MaxTrialResolution:
			origin = "x"
		case needY > MaxTrialResolution && needX <= MaxTrialResolution:
			origin = "y"
		}
		return 0, fmt.Errorf("direct download would need a resolution above %d m forced by the %s dimension(s), consider narrowing the area or using split-merge", MaxTrialResolution, origin)
	}

	return res, nil
}

// Reconciled is the outcome of reconciling the requested mode and resolution
// with what the area actually allows.
type Reconciled struct {
	Resolution float64
	Mode       query.Mode

	// Capped is set when a Direct request asked for a finer resolution than
	// achievable and was coarsened to the maximum.
	Capped bool

	// Collapsed is set when Split-and-Merge was requested but the native
	// resolution already fits a single request, so Direct is used instead.
	Collapsed bool
}

// Reconcile applies the mode/resolution rules: Direct caps the resolution at
// what a single request allows; Split-and-Merge defaults to the collection's
// native resolution and collapses to Direct when splitting gains nothing.
func Reconcile(b geo.BBox, requested float64, mode query.Mode, native float64, maxDim int) (Reconciled, error) {
	maxRes, err := MaxResolution(b, maxDim)
	if err != nil && mode == query.ModeDirect {
		return Reconciled{}, err
	}

	r := Reconciled{Resolution: requested, Mode: mode}

	if r.Resolution == 0 {
		switch mode {
		case query.ModeDirect:
			// Small areas could fit a single request at a finer resolution
			// than the data carries; the native resolution is the floor.
			r.Resolution = math.Max(maxRes, native)
		case query.ModeSplitMerge:
			r.Resolution = native
		}
	}

	if mode == query.ModeDirect && r.Resolution < maxRes {
		r.Resolution = maxRes
		r.Capped = true
	}

	if mode == query.ModeSplitMerge && err == nil && maxRes <= native && r.Resolution >= native {
		r.Mode = query.ModeDirect
		r.Collapsed = true
	}

	return r, nil
}

// New computes the tile partition of the box at the given resolution. The
// tiles form a regular grid that unions exactly to the box, and every tile's
// pixel extent is at most maxDim on each axis.
func New(b geo.BBox, resolution float64, maxDim int) (*Plan, error) {
	if resolution <= 0 {
		return nil, fmt.Errorf("resolution must be positive, got %f", resolution)
	}
	if maxDim < 1 {
		return nil, fmt.Errorf("maximum pixel dimension must be positive, got %d", maxDim)
	}

	width, height := b.Dimensions(resolution)

	cols := (width + maxDim - 1) / maxDim
	rows := (height + maxDim - 1) / maxDim

	plan := &Plan{
		Resolution: resolution,
		Cols:       cols,
		Rows:       rows,
		Width:      width,
		Height:     height,
		ColWidths:  splitPixels(width, cols),
		RowHeights: splitPixels(height, rows),
	}

	boxes := b.SplitGrid(cols, rows)
	plan.Tiles = make([]Tile, 0, len(boxes))
	for i, sub := range boxes {
		col := i % cols
		row := i / cols
		plan.Tiles = append(plan.Tiles, Tile{
			Index:  i,
			Col:    col,
			Row:    row,
			BBox:   sub,
			Width:  plan.ColWidths[col],
			Height: plan.RowHeights[row],
		})
	}

	return plan, nil
}

// splitPixels distributes total pixels over n buckets so that the bucket
// sizes sum to total and differ by at most one pixel.
func splitPixels(total, n int) []int {
	sizes := make([]int, n)
	for i := 0; i < n; i++ {
		sizes[i] = total*(i+1)/n - total*i/n
	}
	return sizes
}
