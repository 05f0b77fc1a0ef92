// Package search runs the MSM basic search: theoretical patterns, ion image
// reconstruction, scoring, FDR estimation and filtering for one dataset and
// one molecular database.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
	"github.com/ChrisMcGann/SMEngine/pkg/fdr"
	"github.com/ChrisMcGann/SMEngine/pkg/filter"
	"github.com/ChrisMcGann/SMEngine/pkg/imager"
	"github.com/ChrisMcGann/SMEngine/pkg/measures"
	"github.com/ChrisMcGann/SMEngine/pkg/metrics"
	"github.com/ChrisMcGann/SMEngine/pkg/moldb"
	"github.com/ChrisMcGann/SMEngine/pkg/peaks"
	"github.com/ChrisMcGann/SMEngine/pkg/pixel"
	"github.com/ChrisMcGann/SMEngine/pkg/reader"
)

// Options configures a search.
type Options struct {
	PPM         float64
	Reconstruct imager.Config
	Filter      filter.Config
	Workers     int
	// Measures builds the measures for a dataset's sample mask. Nil uses
	// measures.NewDefault.
	Measures func(mask []bool) measures.Measures
}

// Input is the per-job data of a search.
type Input struct {
	MolDB    moldb.MolecularDB
	Formulas []moldb.Formula // after database filters
	FDR      *fdr.FDR        // with the decoy sample selected
	Pixels   *pixel.Index
	Spectra  reader.Source
}

// Annotation is an accepted target ion.
type Annotation struct {
	Ion       core.IonKey
	Formula   string
	Metrics   metrics.Metrics
	FDR       float64
	PeakCount int
	MZ        float64 // principal peak
}

// Result holds the accepted annotations, ordered by descending MSM, with
// their image sets.
type Result struct {
	Annotations []Annotation
	Images      map[core.IonKey]*imager.ImageSet
	Stats       imager.Stats
	Scored      int
}

// Search runs MSM basic searches.
type Search struct {
	gen    *peaks.Generator
	opts   Options
	logger *slog.Logger
}

// New creates a search.
func New(gen *peaks.Generator, opts Options, logger *slog.Logger) *Search {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Measures == nil {
		opts.Measures = func(mask []bool) measures.Measures { return measures.NewDefault(mask) }
	}
	return &Search{gen: gen, opts: opts, logger: logger}
}

// Run executes the search.
func (s *Search) Run(ctx context.Context, in Input) (*Result, error) {
	log := s.logger.With("mol_db", in.MolDB.String())

	if len(in.Formulas) == 0 {
		return nil, &core.EmptyCandidatePoolError{MolDB: in.MolDB.String()}
	}

	patterns, err := s.gen.Generate(ctx, in.MolDB.ID, in.FDR.Candidates(in.Formulas))
	if err != nil {
		return nil, fmt.Errorf("generating theoretical patterns: %w", err)
	}
	targets := 0
	for _, p := range patterns {
		if in.FDR.IsTarget(p.Ion.Adduct) {
			targets++
		}
	}
	if targets == 0 {
		return nil, &core.EmptyCandidatePoolError{MolDB: in.MolDB.String()}
	}

	table, err := peaks.NewTable(patterns, s.opts.PPM)
	if err != nil {
		return nil, fmt.Errorf("building peak window table: %w", err)
	}
	log.Info("peak window table built", "ions", len(table.Ions()), "targets", targets, "windows", table.Len())

	rc := imager.NewContext(in.Pixels, table, s.opts.Reconstruct.NoiseFloor)
	sets, stats, err := imager.NewReconstructor(s.opts.Reconstruct, s.logger).Reconstruct(ctx, in.Spectra, rc)
	if err != nil {
		return nil, fmt.Errorf("reconstructing ion images: %w", err)
	}

	scorer := metrics.NewScorer(s.opts.Measures(in.Pixels.SampleMask()), s.opts.Workers, s.logger)
	scored, err := scorer.ScoreAll(ctx, sets, table)
	if err != nil {
		return nil, fmt.Errorf("scoring ion images: %w", err)
	}

	msm := make(map[core.IonKey]float64, len(scored))
	for ion, m := range scored {
		msm[ion] = m.MSM
	}
	fdrTable := in.FDR.Estimate(msm)

	var cands []filter.Candidate
	for ion, m := range scored {
		if !in.FDR.IsTarget(ion.Adduct) {
			continue
		}
		cands = append(cands, filter.Candidate{Ion: ion, Metrics: m, FDR: fdrTable.Lookup(ion, m.MSM)})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].Ion.Less(cands[j].Ion) })
	accepted := s.opts.Filter.Apply(cands)

	res := &Result{
		Images: make(map[core.IonKey]*imager.ImageSet, len(accepted)),
		Stats:  stats,
		Scored: len(scored),
	}
	for _, c := range accepted {
		p, _ := table.Pattern(c.Ion)
		res.Annotations = append(res.Annotations, Annotation{
			Ion:       c.Ion,
			Formula:   p.Formula,
			Metrics:   c.Metrics,
			FDR:       c.FDR,
			PeakCount: len(p.CentroidMZs),
			MZ:        p.CentroidMZs[0],
		})
		res.Images[c.Ion] = sets[c.Ion]
	}
	log.Info("search finished", "scored", res.Scored, "accepted", len(res.Annotations))
	return res, nil
}
