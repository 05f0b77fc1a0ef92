// Package isocalc computes theoretical isotope patterns of ions.
package isocalc

import (
	"fmt"
	"math"
	"sort"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
)

const (
	// ProfilePointsPerCentroid is the number of profile samples kept around
	// each centroid.
	ProfilePointsPerCentroid = 6
	// MaxDistToCentroid bounds the profile samples kept per centroid (m/z).
	MaxDistToCentroid = 0.15

	minRelIntensity = 0.01 // percent of the base peak
	minProbability  = 1e-12
)

// Params are the instrument parameters a pattern depends on.
type Params struct {
	Sigma    float64 `json:"isocalc_sigma" yaml:"isocalc_sigma"`
	Charge   int     `json:"charge" yaml:"charge"`
	PtsPerMZ int     `json:"isocalc_pts_per_mz" yaml:"isocalc_pts_per_mz"`
	MaxPeaks int     `json:"max_peaks" yaml:"max_peaks"`
}

// DefaultParams returns parameters for a high-resolution positive mode run.
func DefaultParams() Params {
	return Params{Sigma: 0.01, Charge: 1, PtsPerMZ: 10000, MaxPeaks: 4}
}

// Validate checks the parameters.
func (p Params) Validate() error {
	if p.Sigma <= 0 {
		return &core.ValidationError{Field: "Sigma", Message: "must be positive"}
	}
	if p.Charge == 0 {
		return &core.ValidationError{Field: "Charge", Message: "must be non-zero"}
	}
	if p.PtsPerMZ <= 0 {
		return &core.ValidationError{Field: "PtsPerMZ", Message: "must be positive"}
	}
	if p.MaxPeaks <= 0 {
		return &core.ValidationError{Field: "MaxPeaks", Message: "must be positive"}
	}
	return nil
}

// Pattern holds centroid and sampled profile spectra of one ion. Centroids
// are in ascending m/z order, intensities are relative to the base peak (100).
type Pattern struct {
	CentroidMZs  []float64
	CentroidInts []float64
	ProfileMZs   []float64
	ProfileInts  []float64
}

// Calculator computes isotope patterns. Invalid formula/adduct combinations
// return *core.ChemistryError.
type Calculator interface {
	IsotopePattern(sf, adduct string) (Pattern, error)
}

// Isocalc is the default Calculator. It is safe for concurrent use.
type Isocalc struct {
	params Params
}

// New creates a calculator.
func New(p Params) (*Isocalc, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Isocalc{params: p}, nil
}

// Params returns the parameters the calculator was built with.
func (c *Isocalc) Params() Params {
	return c.params
}

// bin accumulates the isotopologues sharing a nominal mass shift.
type bin struct {
	prob    float64
	massSum float64 // prob-weighted
}

type distribution map[int]bin

func (c *Isocalc) IsotopePattern(sf, adduct string) (Pattern, error) {
	comp, err := core.IonComposition(sf, adduct)
	if err != nil {
		return Pattern{}, err
	}
	if len(comp) == 0 {
		return Pattern{}, &core.ChemistryError{Formula: sf, Adduct: adduct, Reason: "empty ion"}
	}
	for el, n := range comp {
		if n < 0 {
			return Pattern{}, &core.ChemistryError{Formula: sf, Adduct: adduct, Reason: fmt.Sprintf("negative count of %s", el)}
		}
	}

	dist := distribution{0: {prob: 1}}
	for _, el := range comp.Symbols() {
		dist = convolve(dist, power(elementDistribution(core.Elements[el]), comp[el]))
	}

	shifts := make([]int, 0, len(dist))
	for s := range dist {
		shifts = append(shifts, s)
	}
	sort.Ints(shifts)

	var mzs, ints []float64
	base := 0.0
	for _, s := range shifts {
		if dist[s].prob > base {
			base = dist[s].prob
		}
	}
	for _, s := range shifts {
		b := dist[s]
		rel := b.prob / base * 100
		if rel < minRelIntensity {
			continue
		}
		mass := b.massSum / b.prob
		mzs = append(mzs, math.Abs((mass-float64(c.params.Charge)*core.ElectronMass)/float64(c.params.Charge)))
		ints = append(ints, rel)
		if len(mzs) == c.params.MaxPeaks {
			break
		}
	}

	p := Pattern{CentroidMZs: mzs, CentroidInts: ints}
	p.ProfileMZs, p.ProfileInts = c.sampleProfile(mzs, ints)
	return p, nil
}

// sampleProfile evaluates the Gaussian peak shape around each centroid and
// keeps about ProfilePointsPerCentroid points per centroid.
func (c *Isocalc) sampleProfile(mzs, ints []float64) ([]float64, []float64) {
	sigma := c.params.Sigma / float64(absInt(c.params.Charge))
	step := 1 / float64(c.params.PtsPerMZ)
	n := int(2 * MaxDistToCentroid / step)
	stride := n / ProfilePointsPerCentroid
	if stride < 1 {
		stride = 1
	}

	var pm, pi []float64
	for _, cmz := range mzs {
		for k := 0; k <= n; k += stride {
			x := cmz - MaxDistToCentroid + float64(k)*step
			y := 0.0
			for j, m := range mzs {
				d := (x - m) / sigma
				y += ints[j] * math.Exp(-0.5*d*d)
			}
			pm = append(pm, x)
			pi = append(pi, y)
		}
	}
	return pm, pi
}

func elementDistribution(e core.Element) distribution {
	d := distribution{}
	mono := e.MonoisotopicMass()
	for _, iso := range e.Isotopes {
		s := int(math.Round(iso.Mass - mono))
		b := d[s]
		b.prob += iso.Abundance
		b.massSum += iso.Abundance * iso.Mass
		d[s] = b
	}
	return d
}

func convolve(a, b distribution) distribution {
	out := distribution{}
	for sa, ba := range a {
		for sb, bb := range b {
			p := ba.prob * bb.prob
			if p < minProbability {
				continue
			}
			o := out[sa+sb]
			o.prob += p
			// mean mass of the product is the sum of the mean masses
			o.massSum += p * (ba.massSum/ba.prob + bb.massSum/bb.prob)
			out[sa+sb] = o
		}
	}
	return out
}

func power(d distribution, n int) distribution {
	result := distribution{0: {prob: 1}}
	for n > 0 {
		if n&1 == 1 {
			result = convolve(result, d)
		}
		n >>= 1
		if n > 0 {
			d = convolve(d, d)
		}
	}
	return result
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
