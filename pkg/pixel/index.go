// Package pixel maps raw raster coordinates onto a dense row-major pixel
// index space.
package pixel

import (
	"fmt"
	"math"
	"sort"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
)

// ResidueTolerance is the largest fractional part, in units of the axis step,
// accepted when a normalized coordinate is rounded to its grid cell.
const ResidueTolerance = 1e-3

// Coordinate is one physical measurement position.
type Coordinate struct {
	PixelID int
	X, Y    float64
}

// Bounds is the raw coordinate bounding box of a dataset.
type Bounds struct {
	MinX, MaxX float64
	MinY, MaxY float64
}

// Index is an immutable bijection from pixel ids to cells of a rows x cols
// grid, linearized as y*cols + x.
type Index struct {
	rows, cols int
	bounds     Bounds
	byID       map[int]int
	mask       []bool
}

// Build computes the pixel index for a set of coordinates.
func Build(coords []Coordinate) (*Index, error) {
	if len(coords) == 0 {
		return nil, &core.GeometryError{Reason: "no coordinates"}
	}

	xs := make([]float64, len(coords))
	ys := make([]float64, len(coords))
	for i, c := range coords {
		if math.IsNaN(c.X) || math.IsNaN(c.Y) || math.IsInf(c.X, 0) || math.IsInf(c.Y, 0) {
			return nil, &core.GeometryError{Reason: fmt.Sprintf("pixel %d has a non-finite coordinate", c.PixelID)}
		}
		xs[i], ys[i] = c.X, c.Y
	}

	minX, maxX, stepX, err := axis("x", xs)
	if err != nil {
		return nil, err
	}
	minY, maxY, stepY, err := axis("y", ys)
	if err != nil {
		return nil, err
	}

	cols, err := cell("x", maxX, minX, stepX)
	if err != nil {
		return nil, err
	}
	rows, err := cell("y", maxY, minY, stepY)
	if err != nil {
		return nil, err
	}
	cols++
	rows++

	idx := &Index{
		rows:   rows,
		cols:   cols,
		bounds: Bounds{MinX: minX, MaxX: maxX, MinY: minY, MaxY: maxY},
		byID:   make(map[int]int, len(coords)),
		mask:   make([]bool, rows*cols),
	}

	owner := make(map[int]int, len(coords))
	for _, c := range coords {
		x, err := cell("x", c.X, minX, stepX)
		if err != nil {
			return nil, err
		}
		y, err := cell("y", c.Y, minY, stepY)
		if err != nil {
			return nil, err
		}
		i := y*cols + x

		if prev, ok := idx.byID[c.PixelID]; ok {
			if prev != i {
				return nil, &core.GeometryError{Reason: fmt.Sprintf("pixel %d maps to indices %d and %d", c.PixelID, prev, i)}
			}
			continue
		}
		if other, ok := owner[i]; ok {
			return nil, &core.GeometryError{Reason: fmt.Sprintf("pixels %d and %d share index %d", other, c.PixelID, i)}
		}
		owner[i] = c.PixelID
		idx.byID[c.PixelID] = i
		idx.mask[i] = true
	}

	return idx, nil
}

// axis returns the minimum, maximum and modal step of one coordinate axis.
// Ties between equally frequent steps go to the smaller step.
func axis(name string, vals []float64) (lo, hi, step float64, err error) {
	uniq := append([]float64(nil), vals...)
	sort.Float64s(uniq)
	n := 0
	for i, v := range uniq {
		if i == 0 || v != uniq[n-1] {
			uniq[n] = v
			n++
		}
	}
	uniq = uniq[:n]
	if len(uniq) < 2 {
		return 0, 0, 0, &core.GeometryError{Reason: fmt.Sprintf("fewer than 2 distinct %s values", name)}
	}

	counts := map[float64]int{}
	for i := 1; i < len(uniq); i++ {
		// round away representation noise so equal spacings group together
		d := core.RoundFloat(uniq[i]-uniq[i-1], 9)
		counts[d]++
	}
	best := 0
	for d, c := range counts {
		if c > best || (c == best && d < step) {
			step, best = d, c
		}
	}
	if step <= 0 {
		return 0, 0, 0, &core.GeometryError{Reason: fmt.Sprintf("no positive %s step", name)}
	}
	return uniq[0], uniq[len(uniq)-1], step, nil
}

func cell(name string, v, lo, step float64) (int, error) {
	f := (v - lo) / step
	r := math.Round(f)
	if math.Abs(f-r) > ResidueTolerance {
		return 0, &core.GeometryError{Reason: fmt.Sprintf("%s=%g is not on the grid (step %g, residue %.4f)", name, v, step, f-r)}
	}
	return int(r), nil
}

// Dims returns the grid size as (rows, cols).
func (i *Index) Dims() (rows, cols int) {
	return i.rows, i.cols
}

// Size returns rows*cols.
func (i *Index) Size() int {
	return i.rows * i.cols
}

// Lookup returns the dense index of a pixel id.
func (i *Index) Lookup(pixelID int) (int, bool) {
	v, ok := i.byID[pixelID]
	return v, ok
}

// SampleMask returns a copy of the mask marking sampled cells.
func (i *Index) SampleMask() []bool {
	return append([]bool(nil), i.mask...)
}

// Len returns the number of mapped pixels.
func (i *Index) Len() int {
	return len(i.byID)
}

// Bounds returns the raw coordinate bounding box.
func (i *Index) Bounds() Bounds {
	return i.bounds
}
