// Package core provides the shared data model, chemistry tables and error
// taxonomy used by every stage of the annotation engine.
package core

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Spectrum is a single pixel spectrum. CumIntensity holds partial sums of the
// peak intensities with a leading zero, so CumIntensity has len(MZ)+1 entries
// and the intensity of the peaks in [i, j) is CumIntensity[j]-CumIntensity[i].
type Spectrum struct {
	PixelID      int
	MZ           []float64 // ascending
	CumIntensity []float64
}

// Peak represents a single m/z, intensity pair.
type Peak struct {
	MZ        float64
	Intensity float64
}

// ValidationError represents an error found during spectrum validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", e.Field, e.Message)
}

// NewSpectrum builds a Spectrum from parallel m/z and intensity arrays,
// computing the cumulative intensities. Peaks are sorted by m/z if needed.
func NewSpectrum(pixelID int, mzs, ints []float64) (*Spectrum, error) {
	if len(mzs) != len(ints) {
		return nil, &ValidationError{
			Field:   "Spectrum",
			Message: fmt.Sprintf("m/z and intensity arrays differ in length (%d != %d)", len(mzs), len(ints)),
		}
	}

	peaks := make([]Peak, len(mzs))
	for i := range mzs {
		peaks[i] = Peak{MZ: mzs[i], Intensity: ints[i]}
	}
	if !sort.SliceIsSorted(peaks, func(i, j int) bool { return peaks[i].MZ < peaks[j].MZ }) {
		sort.SliceStable(peaks, func(i, j int) bool { return peaks[i].MZ < peaks[j].MZ })
	}

	sp := &Spectrum{
		PixelID:      pixelID,
		MZ:           make([]float64, len(peaks)),
		CumIntensity: make([]float64, len(peaks)+1),
	}
	for i, p := range peaks {
		sp.MZ[i] = p.MZ
		sp.CumIntensity[i+1] = sp.CumIntensity[i] + p.Intensity
	}

	if err := sp.Validate(); err != nil {
		return nil, err
	}
	return sp, nil
}

// Validate checks that a spectrum meets all requirements for processing.
func (s *Spectrum) Validate() error {
	var errs []string

	if s.PixelID < 0 {
		errs = append(errs, "pixel id must be non-negative")
	}
	if len(s.CumIntensity) != len(s.MZ)+1 {
		errs = append(errs, fmt.Sprintf("cumulative intensity must have %d entries, got %d", len(s.MZ)+1, len(s.CumIntensity)))
	}

	for i, mz := range s.MZ {
		if math.IsNaN(mz) || math.IsInf(mz, 0) {
			errs = append(errs, fmt.Sprintf("peak %d has invalid m/z", i))
		} else if mz <= 0 {
			errs = append(errs, fmt.Sprintf("peak %d m/z must be positive", i))
		}
	}
	for i, v := range s.CumIntensity {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Sprintf("cumulative intensity %d is invalid", i))
		}
	}

	if !s.IsSorted() {
		errs = append(errs, "m/z values must be sorted ascending")
	}

	if len(errs) > 0 {
		return &ValidationError{
			Field:   "Spectrum",
			Message: strings.Join(errs, "; "),
		}
	}
	return nil
}

// IsSorted checks if m/z values are sorted in ascending order.
func (s *Spectrum) IsSorted() bool {
	return sort.Float64sAreSorted(s.MZ)
}

// WindowSum returns the summed intensity of the peaks with lower <= mz < upper.
// It uses two binary searches over the m/z array.
func (s *Spectrum) WindowSum(lower, upper float64) float64 {
	if upper <= lower || len(s.MZ) == 0 {
		return 0
	}
	lo := sort.SearchFloat64s(s.MZ, lower)
	hi := sort.SearchFloat64s(s.MZ, upper)
	return s.CumIntensity[hi] - s.CumIntensity[lo]
}

// TotalIntensity returns the summed intensity of all peaks.
func (s *Spectrum) TotalIntensity() float64 {
	if len(s.CumIntensity) == 0 {
		return 0
	}
	return s.CumIntensity[len(s.CumIntensity)-1]
}

// Peaks returns the spectrum as individual peaks.
func (s *Spectrum) Peaks() []Peak {
	peaks := make([]Peak, len(s.MZ))
	for i, mz := range s.MZ {
		peaks[i] = Peak{MZ: mz, Intensity: s.CumIntensity[i+1] - s.CumIntensity[i]}
	}
	return peaks
}

// RoundFloat rounds a float to n decimal places
func RoundFloat(val float64, precision int) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}
