// Package metrics scores ion image sets and combines the measures into the
// MSM score.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
	"github.com/ChrisMcGann/SMEngine/pkg/imager"
	"github.com/ChrisMcGann/SMEngine/pkg/measures"
)

// Metrics are the quality measures of one ion and their product, MSM.
type Metrics struct {
	Chaos         float64 `json:"chaos"`
	SpatialCorr   float64 `json:"spatial"`
	SpectralMatch float64 `json:"spectral"`
	MSM           float64 `json:"msm"`
}

// New sanitizes the component measures and computes MSM. NaN and infinite
// components become 0; MSM is 0 unless every component is positive.
func New(chaos, spatial, spectral float64) Metrics {
	m := Metrics{Chaos: valid(chaos), SpatialCorr: valid(spatial), SpectralMatch: valid(spectral)}
	if m.Chaos > 0 && m.SpatialCorr > 0 && m.SpectralMatch > 0 {
		m.MSM = m.Chaos * m.SpatialCorr * m.SpectralMatch
	}
	return m
}

func valid(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Scorer computes metrics with a set of measures.
type Scorer struct {
	measures measures.Measures
	workers  int
	logger   *slog.Logger
}

// NewScorer creates a scorer.
func NewScorer(m measures.Measures, workers int, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Scorer{measures: m, workers: workers, logger: logger}
}

// Score computes the metrics of one image set. The set must be as long as
// the theoretical intensities; a mismatch is a programming error and panics.
// A measure that panics scores the ion as all zero.
func (s *Scorer) Score(set *imager.ImageSet, theor []float64) Metrics {
	if set == nil || len(set.Images) == 0 {
		return Metrics{}
	}
	if len(set.Images) != len(theor) {
		panic(fmt.Sprintf("metrics: %s has %d images for %d theoretical peaks", set.Ion, len(set.Images), len(theor)))
	}

	m, err := s.compute(set, theor)
	if err != nil {
		s.logger.Warn("scoring failed, using zero metrics", "error", err)
		return Metrics{}
	}
	return m
}

func (s *Scorer) compute(set *imager.ImageSet, theor []float64) (m Metrics, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &core.ScoringError{Ion: set.Ion, Cause: fmt.Errorf("%v", r)}
		}
	}()

	imgs := set.Dense()
	chaos := s.measures.Chaos(imgs[0])
	spatial := s.measures.SpatialCorrelation(imgs, theor[1:])
	spectral := s.measures.PatternMatch(imgs, theor)
	return New(chaos, spatial, spectral), nil
}

// IntensitySource supplies theoretical intensities per ion.
type IntensitySource interface {
	Intensities(ion core.IonKey) []float64
}

// ScoreAll scores every set in parallel.
func (s *Scorer) ScoreAll(ctx context.Context, sets map[core.IonKey]*imager.ImageSet, theor IntensitySource) (map[core.IonKey]Metrics, error) {
	out := make(map[core.IonKey]Metrics, len(sets))
	var mu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.workers)
	for ion, set := range sets {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			m := s.Score(set, theor.Intensities(ion))
			mu.Lock()
			out[ion] = m
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
