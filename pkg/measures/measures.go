// Package measures implements the image quality measures used to score an
// ion's isotope image set. All measures operate on dense images and may
// return NaN or an infinity, which callers treat as invalid.
package measures

import (
	"fmt"
	"math"
	"sort"
)

// Dense is a row-major rows x cols image.
type Dense struct {
	Rows, Cols int
	Data       []float64
}

// NewDense allocates a zero image.
func NewDense(rows, cols int) Dense {
	return Dense{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// Sum returns the total intensity.
func (d Dense) Sum() float64 {
	s := 0.0
	for _, v := range d.Data {
		s += v
	}
	return s
}

// Measures computes the three quality measures of an isotope image set.
// Chaos is oriented so that higher means more spatially structured.
type Measures interface {
	Chaos(img Dense) float64
	SpatialCorrelation(imgs []Dense, weights []float64) float64
	PatternMatch(imgs []Dense, theor []float64) float64
}

// Default implements Measures with a level-set chaos measure, weighted
// Pearson correlation of the principal peak against the other peaks and a
// normalized intensity pattern match.
type Default struct {
	NLevels int
	Q       float64 // hot-spot clipping percentile, 0 disables
	// Mask restricts correlation and pattern match to sampled pixels.
	// A nil mask uses every pixel.
	Mask []bool
}

// NewDefault returns the measures with the usual image generation settings.
func NewDefault(mask []bool) *Default {
	return &Default{NLevels: 30, Q: 99, Mask: mask}
}

// Chaos returns 1 minus the mean number of connected components per level
// set, relative to the number of nonzero pixels. A value that rounds to 1
// (no structure detected at all) is reported as 0.
func (m *Default) Chaos(img Dense) float64 {
	if len(img.Data) != img.Rows*img.Cols {
		panic(fmt.Sprintf("measures: image data has %d values for %dx%d", len(img.Data), img.Rows, img.Cols))
	}
	nlevels := m.NLevels
	if nlevels <= 0 {
		nlevels = 30
	}

	data := append([]float64(nil), img.Data...)
	notNull := 0
	for _, v := range data {
		if v > 0 {
			notNull++
		}
	}
	if notNull == 0 {
		return 0
	}
	if m.Q > 0 && m.Q < 100 {
		clip(data, m.Q)
	}
	maxV := 0.0
	for _, v := range data {
		if v > maxV {
			maxV = v
		}
	}
	if maxV <= 0 {
		return 0
	}
	for i := range data {
		data[i] /= maxV
	}

	objects := 0
	for l := 0; l < nlevels; l++ {
		level := 0.0
		if nlevels > 1 {
			level = float64(l) / float64(nlevels-1)
		}
		objects += components(data, img.Rows, img.Cols, level)
	}

	chaos := float64(objects) / (float64(notNull) * float64(nlevels))
	if math.IsNaN(chaos) {
		chaos = 0
	}
	inv := 1 - chaos
	if math.Abs(inv-1) <= 1e-6 {
		return 0
	}
	return inv
}

// SpatialCorrelation returns the weighted mean of the Pearson correlations
// between the first image and each following image. Negative correlations
// count as 0. Fewer than two images yield 0.
func (m *Default) SpatialCorrelation(imgs []Dense, weights []float64) float64 {
	if len(imgs) < 2 {
		return 0
	}
	if len(weights) != len(imgs)-1 {
		panic(fmt.Sprintf("measures: %d weights for %d images", len(weights), len(imgs)))
	}
	first := m.masked(imgs[0])
	num, den := 0.0, 0.0
	for i, img := range imgs[1:] {
		c := pearson(first, m.masked(img))
		if math.IsNaN(c) || c < 0 {
			c = 0
		}
		num += weights[i] * c
		den += weights[i]
	}
	return num / den
}

// PatternMatch compares the normalized theoretical intensities with the
// normalized per-peak image intensities over the pixels where the principal
// peak is present. A single-peak pattern carries no information and yields 0.
func (m *Default) PatternMatch(imgs []Dense, theor []float64) float64 {
	if len(imgs) != len(theor) {
		return math.NaN()
	}
	if len(theor) < 2 {
		return 0
	}
	first := m.masked(imgs[0])
	sums := make([]float64, len(imgs))
	for i, img := range imgs {
		data := m.masked(img)
		for p, v := range data {
			if first[p] > 0 {
				sums[i] += v
			}
		}
	}

	tn, sn := norm(theor), norm(sums)
	diff := 0.0
	for i := range theor {
		diff += math.Abs(theor[i]/tn - sums[i]/sn)
	}
	return 1 - diff/float64(len(theor))
}

func (m *Default) masked(img Dense) []float64 {
	if m.Mask == nil || len(m.Mask) != len(img.Data) {
		return img.Data
	}
	out := make([]float64, 0, len(img.Data))
	for i, v := range img.Data {
		if m.Mask[i] {
			out = append(out, v)
		}
	}
	return out
}

// clip caps the values above the q-th percentile of the nonzero values.
func clip(data []float64, q float64) {
	var nz []float64
	for _, v := range data {
		if v > 0 {
			nz = append(nz, v)
		}
	}
	sort.Float64s(nz)
	limit := percentile(nz, q)
	for i, v := range data {
		if v > limit {
			data[i] = limit
		}
	}
}

// percentile uses linear interpolation between closest ranks.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// components counts 4-connected regions of pixels above level.
func components(data []float64, rows, cols int, level float64) int {
	seen := make([]bool, len(data))
	stack := make([]int, 0, 64)
	n := 0
	for start, v := range data {
		if seen[start] || v <= level {
			continue
		}
		n++
		seen[start] = true
		stack = append(stack[:0], start)
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			r, c := p/cols, p%cols
			for _, q := range [4][2]int{{r - 1, c}, {r + 1, c}, {r, c - 1}, {r, c + 1}} {
				if q[0] < 0 || q[0] >= rows || q[1] < 0 || q[1] >= cols {
					continue
				}
				i := q[0]*cols + q[1]
				if !seen[i] && data[i] > level {
					seen[i] = true
					stack = append(stack, i)
				}
			}
		}
	}
	return n
}

func pearson(a, b []float64) float64 {
	n := float64(len(a))
	if n == 0 {
		return math.NaN()
	}
	var ma, mb float64
	for i := range a {
		ma += a[i]
		mb += b[i]
	}
	ma /= n
	mb /= n
	var cov, va, vb float64
	for i := range a {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	return cov / math.Sqrt(va*vb)
}

func norm(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}
