// Package merge assembles per-tile rasters into a single mosaic. Tiles are
// laid out row-major by their grid position; no resampling or blending
// happens, the planner guarantees tiles share exact pixel edges.
package merge

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"

	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/tiff"

	"github.com/geofetch/geofetch/internal/planner"
)

// Mosaic decodes one raster per tile of the plan and concatenates them into
// a single TIFF. Every tile index of the plan must be present and each
// raster's pixel extent must match its planned tile exactly.
func Mosaic(plan *planner.Plan, tiles map[int][]byte) ([]byte, error) {
	if plan == nil || len(plan.Tiles) == 0 {
		return nil, fmt.Errorf("empty plan")
	}

	// Pixel offset of each column and row in the mosaic.
	xOff := make([]int, plan.Cols)
	for col := 1; col < plan.Cols; col++ {
		xOff[col] = xOff[col-1] + plan.ColWidths[col-1]
	}
	yOff := make([]int, plan.Rows)
	for row := 1; row < plan.Rows; row++ {
		yOff[row] = yOff[row-1] + plan.RowHeights[row-1]
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, plan.Width, plan.Height))

	for _, tile := range plan.Tiles {
		data, ok := tiles[tile.Index]
		if !ok {
			return nil, fmt.Errorf("missing raster for tile %d (col %d, row %d)", tile.Index, tile.Col, tile.Row)
		}

		img, err := Decode(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode tile %d: %w", tile.Index, err)
		}

		b := img.Bounds()
		if b.Dx() != tile.Width || b.Dy() != tile.Height {
			return nil, fmt.Errorf("tile %d has extent %dx%d, plan expects %dx%d",
				tile.Index, b.Dx(), b.Dy(), tile.Width, tile.Height)
		}

		target := image.Rect(
			xOff[tile.Col],
			yOff[tile.Row],
			xOff[tile.Col]+tile.Width,
			yOff[tile.Row]+tile.Height,
		)
		draw.Draw(canvas, target, img, b.Min, draw.Src)
	}

	var buf bytes.Buffer
	opts := &tiff.Options{Compression: tiff.Deflate, Predictor: true}
	if err := tiff.Encode(&buf, canvas, opts); err != nil {
		return nil, fmt.Errorf("failed to encode mosaic: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a raster in any registered format; TIFF and PNG are what the
// upstream serves.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return img, nil
}
