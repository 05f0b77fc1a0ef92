package peaks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
	"github.com/ChrisMcGann/SMEngine/pkg/isocalc"
	"github.com/ChrisMcGann/SMEngine/pkg/moldb"
)

// Cache persists generated patterns per molecular database and isotope
// generation parameters.
type Cache interface {
	LoadPatterns(ctx context.Context, molDBID int, params isocalc.Params) ([]Pattern, error)
	SavePatterns(ctx context.Context, molDBID int, params isocalc.Params, patterns []Pattern) error
}

// Generator computes the patterns of (formula, adduct) candidates, reusing
// cached patterns and generating only the missing ones.
type Generator struct {
	calc    isocalc.Calculator
	params  isocalc.Params
	cache   Cache
	workers int
	logger  *slog.Logger
}

// NewGenerator creates a generator. cache may be nil.
func NewGenerator(calc isocalc.Calculator, params isocalc.Params, cache Cache, workers int, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Generator{calc: calc, params: params, cache: cache, workers: workers, logger: logger}
}

// Candidate is a (formula, adduct) pair to generate a pattern for.
type Candidate struct {
	Ion core.IonKey
	SF  string
}

// Candidates returns every combination of formulas and adducts.
func Candidates(formulas []moldb.Formula, adducts []string) []Candidate {
	out := make([]Candidate, 0, len(formulas)*len(adducts))
	for _, f := range formulas {
		for _, a := range adducts {
			out = append(out, Candidate{Ion: core.IonKey{FormulaID: f.ID, Adduct: a}, SF: f.SF})
		}
	}
	return out
}

// Generate returns the patterns of the chemically valid candidates.
// Invalid candidates are dropped and duplicates are generated once.
func (g *Generator) Generate(ctx context.Context, molDBID int, cands []Candidate) ([]Pattern, error) {
	cached := map[core.IonKey]Pattern{}
	if g.cache != nil {
		stored, err := g.cache.LoadPatterns(ctx, molDBID, g.params)
		if err != nil {
			return nil, fmt.Errorf("loading cached patterns: %w", err)
		}
		for _, p := range stored {
			cached[p.Ion] = p
		}
	}

	var out []Pattern
	var missing []Candidate
	invalid := 0
	seen := make(map[core.IonKey]bool, len(cands))
	for _, c := range cands {
		if seen[c.Ion] {
			continue
		}
		seen[c.Ion] = true
		if p, ok := cached[c.Ion]; ok {
			out = append(out, p)
			continue
		}
		if !core.ValidIon(c.SF, c.Ion.Adduct) {
			invalid++
			continue
		}
		missing = append(missing, c)
	}
	g.logger.Info("theoretical patterns", "mol_db_id", molDBID, "cached", len(out), "missing", len(missing), "invalid", invalid)
	if len(missing) == 0 {
		return out, nil
	}

	var mu sync.Mutex
	var generated []Pattern
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.workers)
	for _, c := range missing {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			p, err := g.calc.IsotopePattern(c.SF, c.Ion.Adduct)
			if err != nil {
				var chemErr *core.ChemistryError
				if errors.As(err, &chemErr) {
					g.logger.Debug("dropping candidate", "sf", c.SF, "adduct", c.Ion.Adduct, "error", err)
					return nil
				}
				return fmt.Errorf("pattern for %s%s: %w", c.SF, c.Ion.Adduct, err)
			}
			if len(p.CentroidMZs) == 0 {
				return nil
			}
			mu.Lock()
			generated = append(generated, Pattern{Ion: c.Ion, Formula: c.SF, Pattern: p})
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(generated, func(i, j int) bool { return generated[i].Ion.Less(generated[j].Ion) })

	if g.cache != nil && len(generated) > 0 {
		if err := g.cache.SavePatterns(ctx, molDBID, g.params, generated); err != nil {
			return nil, fmt.Errorf("saving patterns: %w", err)
		}
	}
	return append(out, generated...), nil
}
