// Package imager reconstructs per-isotope-peak ion images from pixel spectra.
package imager

import (
	"sort"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
	"github.com/ChrisMcGann/SMEngine/pkg/measures"
)

// Entry is one nonzero pixel of a sparse image.
type Entry struct {
	Index int
	Value float64
}

// SparseImage is a rows x cols image storing only its nonzero pixels,
// ordered by pixel index. An image with no entries is the zero image.
type SparseImage struct {
	Rows, Cols int
	Entries    []Entry
}

// NewSparseImage builds an image from a pixel index to intensity map.
func NewSparseImage(rows, cols int, pixels map[int]float64) *SparseImage {
	img := &SparseImage{Rows: rows, Cols: cols, Entries: make([]Entry, 0, len(pixels))}
	for i, v := range pixels {
		img.Entries = append(img.Entries, Entry{Index: i, Value: v})
	}
	sort.Slice(img.Entries, func(a, b int) bool { return img.Entries[a].Index < img.Entries[b].Index })
	return img
}

// NNZ returns the number of stored pixels.
func (s *SparseImage) NNZ() int {
	return len(s.Entries)
}

// Sum returns the total intensity.
func (s *SparseImage) Sum() float64 {
	t := 0.0
	for _, e := range s.Entries {
		t += e.Value
	}
	return t
}

// At returns the intensity at a pixel index.
func (s *SparseImage) At(index int) float64 {
	i := sort.Search(len(s.Entries), func(i int) bool { return s.Entries[i].Index >= index })
	if i < len(s.Entries) && s.Entries[i].Index == index {
		return s.Entries[i].Value
	}
	return 0
}

// Dense expands the image.
func (s *SparseImage) Dense() measures.Dense {
	d := measures.NewDense(s.Rows, s.Cols)
	for _, e := range s.Entries {
		d.Data[e.Index] = e.Value
	}
	return d
}

// ImageSet is the ordered isotope image set of one ion; Images[r] is the
// image of peak rank r.
type ImageSet struct {
	Ion    core.IonKey
	Images []*SparseImage
}

// Dense expands every image of the set.
func (s *ImageSet) Dense() []measures.Dense {
	out := make([]measures.Dense, len(s.Images))
	for i, img := range s.Images {
		out[i] = img.Dense()
	}
	return out
}

// Empty reports whether no image of the set has a nonzero pixel.
func (s *ImageSet) Empty() bool {
	for _, img := range s.Images {
		if img.NNZ() > 0 {
			return false
		}
	}
	return true
}
