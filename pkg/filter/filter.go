// Package filter selects the annotations to keep from the scored candidates
package filter

import (
	"math"
	"sort"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
	"github.com/ChrisMcGann/SMEngine/pkg/metrics"
)

// NoThreshold is the sentinel lower bound of a disabled measure threshold.
const NoThreshold = -math.MaxFloat64

// DefaultMaxFDR is the FDR acceptance limit of the basic search.
const DefaultMaxFDR = 0.5

// Candidate is a scored target ion.
type Candidate struct {
	Ion     core.IonKey
	Metrics metrics.Metrics
	FDR     float64
}

// Config holds filtering configuration
type Config struct {
	MinChaos    float64 // Chaos must exceed this value
	MinSpatial  float64 // Spatial correlation must exceed this value
	MinSpectral float64 // Spectral match must exceed this value
	MaxFDR      float64 // Keep candidates with FDR <= MaxFDR
	TopN        int     // Keep only the N best scoring candidates (0 = no limit)
}

// DefaultConfig returns the basic search filter: no measure thresholds and
// an FDR limit of 0.5.
func DefaultConfig() Config {
	return Config{
		MinChaos:    NoThreshold,
		MinSpatial:  NoThreshold,
		MinSpectral: NoThreshold,
		MaxFDR:      DefaultMaxFDR,
	}
}

// Apply returns the accepted candidates ordered by descending MSM, ties
// broken by ion key.
func (c *Config) Apply(cands []Candidate) []Candidate {
	kept := RemoveZeroScored(cands)

	// Apply measure thresholds
	filtered := kept[:0]
	for _, cand := range kept {
		m := cand.Metrics
		if m.Chaos > c.MinChaos && m.SpatialCorr > c.MinSpatial && m.SpectralMatch > c.MinSpectral {
			filtered = append(filtered, cand)
		}
	}
	kept = filtered

	// Apply FDR limit
	filtered = kept[:0]
	for _, cand := range kept {
		if cand.FDR <= c.MaxFDR {
			filtered = append(filtered, cand)
		}
	}
	kept = filtered

	sort.Slice(kept, func(i, j int) bool {
		if kept[i].Metrics.MSM != kept[j].Metrics.MSM {
			return kept[i].Metrics.MSM > kept[j].Metrics.MSM
		}
		return kept[i].Ion.Less(kept[j].Ion)
	})

	// Apply top-N filter
	if c.TopN > 0 && len(kept) > c.TopN {
		kept = kept[:c.TopN]
	}
	return kept
}

// RemoveZeroScored returns a copy of cands without the candidates whose MSM
// is zero.
func RemoveZeroScored(cands []Candidate) []Candidate {
	out := make([]Candidate, 0, len(cands))
	for _, cand := range cands {
		if cand.Metrics.MSM > 0 {
			out = append(out, cand)
		}
	}
	return out
}
