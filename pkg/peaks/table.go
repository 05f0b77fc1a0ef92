// Package peaks builds theoretical isotope patterns for candidate ions and
// flattens them into the m/z window table used for image reconstruction.
package peaks

import (
	"fmt"
	"sort"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
	"github.com/ChrisMcGann/SMEngine/pkg/isocalc"
)

// Pattern is the theoretical isotope pattern of one candidate ion.
type Pattern struct {
	Ion     core.IonKey
	Formula string
	isocalc.Pattern
}

// Table is the flattened window table. Lower, Upper and Keys are aligned and
// ordered by (formula, adduct, rank). A Table is read-only once built.
type Table struct {
	Lower []float64
	Upper []float64
	Keys  []core.PeakKey

	ions     []core.IonKey
	patterns map[core.IonKey]Pattern
}

// NewTable computes [c*(1-ppm/1e6), c*(1+ppm/1e6)] for every centroid c of
// every pattern. Patterns without centroids are left out.
func NewTable(patterns []Pattern, ppm float64) (*Table, error) {
	if ppm <= 0 {
		return nil, &core.ValidationError{Field: "ppm", Message: "must be positive"}
	}

	t := &Table{patterns: make(map[core.IonKey]Pattern, len(patterns))}
	for _, p := range patterns {
		if len(p.CentroidMZs) == 0 {
			continue
		}
		if len(p.CentroidMZs) != len(p.CentroidInts) {
			return nil, fmt.Errorf("pattern %s: %d centroid m/z values, %d intensities", p.Ion, len(p.CentroidMZs), len(p.CentroidInts))
		}
		if _, dup := t.patterns[p.Ion]; dup {
			return nil, fmt.Errorf("duplicate pattern for %s", p.Ion)
		}
		t.patterns[p.Ion] = p
		t.ions = append(t.ions, p.Ion)
	}
	sort.Slice(t.ions, func(i, j int) bool { return t.ions[i].Less(t.ions[j]) })

	tol := ppm * 1e-6
	for _, ion := range t.ions {
		for rank, c := range t.patterns[ion].CentroidMZs {
			t.Lower = append(t.Lower, c*(1-tol))
			t.Upper = append(t.Upper, c*(1+tol))
			t.Keys = append(t.Keys, core.PeakKey{Ion: ion, Rank: rank})
		}
	}
	return t, nil
}

// Len returns the number of windows.
func (t *Table) Len() int {
	return len(t.Keys)
}

// Ions returns the candidate ions in table order.
func (t *Table) Ions() []core.IonKey {
	return t.ions
}

// Pattern returns the pattern of an ion.
func (t *Table) Pattern(ion core.IonKey) (Pattern, bool) {
	p, ok := t.patterns[ion]
	return p, ok
}

// Intensities returns the theoretical centroid intensities of an ion.
func (t *Table) Intensities(ion core.IonKey) []float64 {
	return t.patterns[ion].CentroidInts
}

// PeakCount returns the theoretical pattern length of an ion.
func (t *Table) PeakCount(ion core.IonKey) int {
	return len(t.patterns[ion].CentroidMZs)
}
