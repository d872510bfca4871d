// Package geo provides the geographic bounding box type and the grid
// arithmetic used to partition an area into upstream-sized tiles.
package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// BBox is an axis-aligned bounding box in WGS84 lon/lat coordinates.
type BBox struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// NewBBox creates a bounding box from [min_x, min_y, max_x, max_y].
func NewBBox(coords []float64) (BBox, error) {
	if len(coords) != 4 {
		return BBox{}, fmt.Errorf("bbox must have 4 coordinates [min_x, min_y, max_x, max_y], got %d", len(coords))
	}

	b := BBox{MinX: coords[0], MinY: coords[1], MaxX: coords[2], MaxY: coords[3]}
	if err := b.Validate(); err != nil {
		return BBox{}, err
	}
	return b, nil
}

// FromOrbBound converts an orb.Bound into a BBox.
func FromOrbBound(bound orb.Bound) BBox {
	return BBox{
		MinX: bound.Min[0],
		MinY: bound.Min[1],
		MaxX: bound.Max[0],
		MaxY: bound.Max[1],
	}
}

// Validate checks coordinate ranges and that the box has positive extent on
// both axes. A degenerate box (zero width or height) is rejected here.
func (b BBox) Validate() error {
	if b.MinX < -180 || b.MinX > 180 {
		return fmt.Errorf("min_x longitude must be between -180 and 180, got %f", b.MinX)
	}
	if b.MaxX < -180 || b.MaxX > 180 {
		return fmt.Errorf("max_x longitude must be between -180 and 180, got %f", b.MaxX)
	}
	if b.MinY < -90 || b.MinY > 90 {
		return fmt.Errorf("min_y latitude must be between -90 and 90, got %f", b.MinY)
	}
	if b.MaxY < -90 || b.MaxY > 90 {
		return fmt.Errorf("max_y latitude must be between -90 and 90, got %f", b.MaxY)
	}
	if b.MinX >= b.MaxX {
		return fmt.Errorf("min_x (%f) must be less than max_x (%f)", b.MinX, b.MaxX)
	}
	if b.MinY >= b.MaxY {
		return fmt.Errorf("min_y (%f) must be less than max_y (%f)", b.MinY, b.MaxY)
	}
	return nil
}

// Width returns the east-west extent in meters, measured along the box
// midline latitude so that narrow high-latitude boxes are not overestimated.
func (b BBox) Width() float64 {
	midY := (b.MinY + b.MaxY) / 2
	return orbgeo.Distance(orb.Point{b.MinX, midY}, orb.Point{b.MaxX, midY})
}

// Height returns the north-south extent in meters.
func (b BBox) Height() float64 {
	return orbgeo.Distance(orb.Point{b.MinX, b.MinY}, orb.Point{b.MinX, b.MaxY})
}

// Dimensions returns the pixel extent of the box at the given ground
// resolution in meters per pixel.
func (b BBox) Dimensions(resolution float64) (width, height int) {
	width = int(math.Ceil(b.Width() / resolution))
	height = int(math.Ceil(b.Height() / resolution))
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	return width, height
}

// SplitGrid partitions the box into a cols x rows grid of sub-boxes in
// row-major order with row 0 at the northern edge. Adjoining sub-boxes share
// bit-identical edge coordinates, so the grid unions exactly to the original
// box with no gaps and no overlap.
func (b BBox) SplitGrid(cols, rows int) []BBox {
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	// Precompute shared edges once so neighbors agree exactly.
	xEdges := make([]float64, cols+1)
	for i := 0; i <= cols; i++ {
		xEdges[i] = b.MinX + (b.MaxX-b.MinX)*float64(i)/float64(cols)
	}
	xEdges[cols] = b.MaxX

	yEdges := make([]float64, rows+1)
	for i := 0; i <= rows; i++ {
		yEdges[i] = b.MaxY - (b.MaxY-b.MinY)*float64(i)/float64(rows)
	}
	yEdges[rows] = b.MinY

	boxes := make([]BBox, 0, cols*rows)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			boxes = append(boxes, BBox{
				MinX: xEdges[col],
				MinY: yEdges[row+1],
				MaxX: xEdges[col+1],
				MaxY: yEdges[row],
			})
		}
	}
	return boxes
}

// Slice returns the box as [min_x, min_y, max_x, max_y].
func (b BBox) Slice() []float64 {
	return []float64{b.MinX, b.MinY, b.MaxX, b.MaxY}
}

// String returns a compact representation suitable for output file names.
func (b BBox) String() string {
	return fmt.Sprintf("%.4f_%.4f_%.4f_%.4f", b.MinX, b.MinY, b.MaxX, b.MaxY)
}
