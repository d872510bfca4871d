package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geofetch/geofetch/internal/geo"
	"github.com/geofetch/geofetch/internal/query"
)

// Roughly 110 km x 110 km around the equator.
var bigBox = geo.BBox{MinX: 0, MinY: -0.5, MaxX: 1, MaxY: 0.5}

// Roughly 11 km x 11 km.
var smallBox = geo.BBox{MinX: 0, MinY: -0.05, MaxX: 0.1, MaxY: 0.05}

func TestNew_SingleTileWhenWithinLimit(t *testing.T) {
	// Small area at 10 m/px is ~1100 px, below the 2500 limit.
	plan, err := New(smallBox, 10, 2500)
	require.NoError(t, err)

	assert.True(t, plan.SingleTile())
	assert.Equal(t, 1, plan.Cols)
	assert.Equal(t, 1, plan.Rows)
	require.Len(t, plan.Tiles, 1)
	assert.Equal(t, smallBox, plan.Tiles[0].BBox)
	assert.Equal(t, plan.Width, plan.Tiles[0].Width)
	assert.Equal(t, plan.Height, plan.Tiles[0].Height)
}

func TestNew_SplitsWhenOverLimit(t *testing.T) {
	// Big area at 10 m/px is ~11100 px per axis: needs a 5x5 grid at 2500.
	plan, err := New(bigBox, 10, 2500)
	require.NoError(t, err)

	assert.Equal(t, 5, plan.Cols)
	assert.Equal(t, 5, plan.Rows)
	assert.Len(t, plan.Tiles, 25)
}

func TestNew_TilePixelExtentWithinLimit(t *testing.T) {
	boxes := []geo.BBox{bigBox, smallBox,
		{MinX: -51.2, MinY: 64.1, MaxX: -49.0, MaxY: 66.0},
	}
	resolutions := []float64{5, 10, 60, 300}
	maxDims := []int{512, 1000, 2500}

	for _, b := range boxes {
		for _, res := range resolutions {
			for _, maxDim := range maxDims {
				plan, err := New(b, res, maxDim)
				require.NoError(t, err)

				for _, tile := range plan.Tiles {
					assert.LessOrEqual(t, tile.Width, maxDim,
						"box %v res %f maxDim %d tile %d", b, res, maxDim, tile.Index)
					assert.LessOrEqual(t, tile.Height, maxDim,
						"box %v res %f maxDim %d tile %d", b, res, maxDim, tile.Index)
					assert.Greater(t, tile.Width, 0)
					assert.Greater(t, tile.Height, 0)
				}
			}
		}
	}
}

func TestNew_TilesUnionToOriginalBox(t *testing.T) {
	plan, err := New(bigBox, 10, 2500)
	require.NoError(t, err)

	for _, tile := range plan.Tiles {
		col := tile.Index % plan.Cols
		row := tile.Index / plan.Cols
		assert.Equal(t, col, tile.Col)
		assert.Equal(t, row, tile.Row)

		if col == 0 {
			assert.Equal(t, bigBox.MinX, tile.BBox.MinX)
		}
		if col == plan.Cols-1 {
			assert.Equal(t, bigBox.MaxX, tile.BBox.MaxX)
		}
		if row == 0 {
			assert.Equal(t, bigBox.MaxY, tile.BBox.MaxY)
		}
		if row == plan.Rows-1 {
			assert.Equal(t, bigBox.MinY, tile.BBox.MinY)
		}

		// Shared edges with grid neighbors: no gaps, no overlap.
		if col > 0 {
			assert.Equal(t, plan.Tiles[tile.Index-1].BBox.MaxX, tile.BBox.MinX)
		}
		if row > 0 {
			assert.Equal(t, plan.Tiles[tile.Index-plan.Cols].BBox.MinY, tile.BBox.MaxY)
		}
	}
}

func TestNew_PixelRowsAndColumnsSumExactly(t *testing.T) {
	plan, err := New(bigBox, 10, 2500)
	require.NoError(t, err)

	var w int
	for _, cw := range plan.ColWidths {
		w += cw
	}
	var h int
	for _, rh := range plan.RowHeights {
		h += rh
	}
	assert.Equal(t, plan.Width, w)
	assert.Equal(t, plan.Height, h)
}

func TestNew_InvalidInputs(t *testing.T) {
	_, err := New(bigBox, 0, 2500)
	assert.Error(t, err)

	_, err = New(bigBox, -10, 2500)
	assert.Error(t, err)

	_, err = New(bigBox, 10, 0)
	assert.Error(t, err)
}

func TestMaxResolution(t *testing.T) {
	// ~110 km wide at 2500 px needs at least ~45 m/px.
	res, err := MaxResolution(bigBox, 2500)
	require.NoError(t, err)
	assert.InDelta(t, 45, res, 2)

	// A small box already fits at 1 m/px.
	res, err = MaxResolution(smallBox, 2500)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res, float64(1))
	assert.LessOrEqual(t, res, float64(5))
}

func TestMaxResolution_AreaTooLarge(t *testing.T) {
	// A hemisphere-scale box cannot be fetched in one 10-pixel request.
	huge := geo.BBox{MinX: -179, MinY: -80, MaxX: 179, MaxY: 80}
	_, err := MaxResolution(huge, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "narrowing")
}

func TestReconcile(t *testing.T) {
	const native = 10
	const maxDim = 2500

	t.Run("direct with no resolution uses the achievable maximum", func(t *testing.T) {
		r, err := Reconcile(bigBox, 0, query.ModeDirect, native, maxDim)
		require.NoError(t, err)
		assert.Equal(t, query.ModeDirect, r.Mode)
		assert.Greater(t, r.Resolution, float64(native))
		assert.False(t, r.Capped)
	})

	t.Run("direct with no resolution never goes finer than native", func(t *testing.T) {
		// The small box would fit a single request at ~5 m/px, far finer
		// than a 300 m collection actually resolves.
		r, err := Reconcile(smallBox, 0, query.ModeDirect, 300, maxDim)
		require.NoError(t, err)
		assert.Equal(t, float64(300), r.Resolution)
		assert.False(t, r.Capped)
	})

	t.Run("direct caps a too-fine resolution", func(t *testing.T) {
		r, err := Reconcile(bigBox, native, query.ModeDirect, native, maxDim)
		require.NoError(t, err)
		assert.True(t, r.Capped)
		assert.Greater(t, r.Resolution, float64(native))
	})

	t.Run("split-merge defaults to native resolution", func(t *testing.T) {
		r, err := Reconcile(bigBox, 0, query.ModeSplitMerge, native, maxDim)
		require.NoError(t, err)
		assert.Equal(t, query.ModeSplitMerge, r.Mode)
		assert.Equal(t, float64(native), r.Resolution)
	})

	t.Run("split-merge collapses to direct when native fits", func(t *testing.T) {
		r, err := Reconcile(smallBox, 0, query.ModeSplitMerge, native, maxDim)
		require.NoError(t, err)
		assert.Equal(t, query.ModeDirect, r.Mode)
		assert.True(t, r.Collapsed)
		assert.Equal(t, float64(native), r.Resolution)
	})

	t.Run("split-merge keeps a finer-than-native request split", func(t *testing.T) {
		r, err := Reconcile(smallBox, 5, query.ModeSplitMerge, native, maxDim)
		require.NoError(t, err)
		assert.Equal(t, query.ModeSplitMerge, r.Mode)
		assert.Equal(t, float64(5), r.Resolution)
	})

	t.Run("direct on an oversized area errors", func(t *testing.T) {
		huge := geo.BBox{MinX: -179, MinY: -80, MaxX: 179, MaxY: 80}
		_, err := Reconcile(huge, 0, query.ModeDirect, native, 10)
		assert.Error(t, err)
	})
}

func TestSplitPixels(t *testing.T) {
	tests := []struct {
		total, n int
	}{
		{total: 100, n: 1},
		{total: 100, n: 3},
		{total: 2501, n: 2},
		{total: 11133, n: 5},
	}

	for _, tt := range tests {
		sizes := splitPixels(tt.total, tt.n)
		require.Len(t, sizes, tt.n)

		sum := 0
		min, max := sizes[0], sizes[0]
		for _, s := range sizes {
			sum += s
			if s < min {
				min = s
			}
			if s > max {
				max = s
			}
		}
		assert.Equal(t, tt.total, sum)
		assert.LessOrEqual(t, max-min, 1)
	}
}
