// Package fdr estimates false discovery rates of ion annotations with a
// target-decoy approach: every target adduct is paired, per formula, with a
// random sample of implausible decoy adducts whose scores form the null
// distribution.
package fdr

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
	"github.com/ChrisMcGann/SMEngine/pkg/moldb"
	"github.com/ChrisMcGann/SMEngine/pkg/peaks"
)

// DefaultSampleSize is the number of decoy adducts drawn per formula and
// target adduct.
const DefaultSampleSize = 20

// DefaultLevels are the FDR levels reported values are rounded up to.
var DefaultLevels = []float64{0.05, 0.1, 0.2, 0.5}

// DecoyPair assigns a decoy adduct to a (formula, target adduct) pair.
type DecoyPair struct {
	FormulaID    int
	TargetAdduct string
	DecoyAdduct  string
}

// FDR holds the decoy sample of one job. The sample is drawn once and
// never changes afterwards.
type FDR struct {
	targets    []string
	pool       *core.AdductDatabase
	sampleSize int
	levels     []float64
	rng        *rand.Rand

	pairs    []DecoyPair
	selected bool
}

// New creates an estimator. A nil pool uses core.DefaultDecoyAdducts. A nil
// levels slice reports raw FDR values.
func New(targetAdducts []string, pool *core.AdductDatabase, sampleSize int, levels []float64, seed int64) *FDR {
	if pool == nil {
		pool = core.DefaultDecoyAdducts()
	}
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	return &FDR{
		targets:    append([]string(nil), targetAdducts...),
		pool:       pool,
		sampleSize: sampleSize,
		levels:     levels,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// SelectDecoys draws the decoy sample. Decoy candidates exclude the target
// adducts and any adduct that is chemically invalid for the formula.
func (f *FDR) SelectDecoys(formulas []moldb.Formula) error {
	if f.selected {
		return fmt.Errorf("decoy sample already selected")
	}

	isTarget := make(map[string]bool, len(f.targets))
	for _, t := range f.targets {
		isTarget[t] = true
	}
	var pool []string
	for _, name := range f.pool.Names() {
		if !isTarget[name] {
			pool = append(pool, name)
		}
	}
	if len(pool) == 0 {
		return fmt.Errorf("decoy adduct pool is empty after removing target adducts")
	}

	sorted := append([]moldb.Formula(nil), formulas...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, sf := range sorted {
		var cands []string
		for _, a := range pool {
			if core.ValidIon(sf.SF, a) {
				cands = append(cands, a)
			}
		}
		for _, ta := range f.targets {
			for _, da := range f.sample(cands) {
				f.pairs = append(f.pairs, DecoyPair{FormulaID: sf.ID, TargetAdduct: ta, DecoyAdduct: da})
			}
		}
	}
	f.selected = true
	return nil
}

// sample draws min(sampleSize, len(cands)) distinct adducts.
func (f *FDR) sample(cands []string) []string {
	if len(cands) <= f.sampleSize {
		out := append([]string(nil), cands...)
		f.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		return out
	}
	perm := f.rng.Perm(len(cands))[:f.sampleSize]
	out := make([]string, len(perm))
	for i, p := range perm {
		out[i] = cands[p]
	}
	return out
}

// DecoyPairs returns a copy of the decoy sample.
func (f *FDR) DecoyPairs() []DecoyPair {
	return append([]DecoyPair(nil), f.pairs...)
}

// Candidates returns the target and decoy ions that have to be scored.
func (f *FDR) Candidates(formulas []moldb.Formula) []peaks.Candidate {
	cands := peaks.Candidates(formulas, f.targets)
	sfByID := make(map[int]string, len(formulas))
	for _, sf := range formulas {
		sfByID[sf.ID] = sf.SF
	}
	for _, p := range f.pairs {
		sf, ok := sfByID[p.FormulaID]
		if !ok {
			continue
		}
		cands = append(cands, peaks.Candidate{Ion: core.IonKey{FormulaID: p.FormulaID, Adduct: p.DecoyAdduct}, SF: sf})
	}
	return cands
}

// IsTarget reports whether an adduct is one of the target adducts.
func (f *FDR) IsTarget(adduct string) bool {
	for _, t := range f.targets {
		if t == adduct {
			return true
		}
	}
	return false
}

// Curve maps score thresholds, in descending order, to estimated FDR.
// FDR never increases as the threshold rises.
type Curve struct {
	Thresholds []float64
	FDR        []float64
}

// At returns the FDR of accepting every target scoring at least score.
func (c *Curve) At(score float64) float64 {
	if c == nil || len(c.Thresholds) == 0 {
		return 1
	}
	// smallest threshold >= score
	i := sort.Search(len(c.Thresholds), func(i int) bool { return c.Thresholds[i] < score })
	if i == 0 {
		return c.FDR[0]
	}
	return c.FDR[i-1]
}

// Table holds the FDR curve of each target adduct. It is read-only.
type Table struct {
	curves map[string]*Curve
}

// Curve returns the curve of a target adduct.
func (t *Table) Curve(adduct string) *Curve {
	return t.curves[adduct]
}

// Lookup returns the FDR of a target ion with the given MSM. Ions with a
// zero score or an adduct without a curve get FDR 1.
func (t *Table) Lookup(ion core.IonKey, msm float64) float64 {
	if msm <= 0 || math.IsNaN(msm) {
		return 1
	}
	c, ok := t.curves[ion.Adduct]
	if !ok {
		return 1
	}
	return c.At(msm)
}

// Estimate builds the FDR table from the MSM of every scored ion. Ions
// missing from msm score 0. Each of the SampleSize rounds uses the r-th
// decoy of every (formula, target adduct) pair; the per-threshold FDR is
// the median over rounds, made monotone with a running minimum from the
// lowest threshold upwards and rounded up to the configured levels.
func (f *FDR) Estimate(msm map[core.IonKey]float64) *Table {
	t := &Table{curves: make(map[string]*Curve, len(f.targets))}

	decoysByTarget := map[string][]DecoyPair{}
	for _, p := range f.pairs {
		decoysByTarget[p.TargetAdduct] = append(decoysByTarget[p.TargetAdduct], p)
	}

	for _, ta := range f.targets {
		var targetScores []float64
		for ion, s := range msm {
			if ion.Adduct == ta && s > 0 {
				targetScores = append(targetScores, s)
			}
		}
		// without decoys there is no null distribution to compare against
		if len(targetScores) == 0 || len(decoysByTarget[ta]) == 0 {
			continue
		}
		sort.Sort(sort.Reverse(sort.Float64Slice(targetScores)))
		thresholds := dedupe(targetScores)

		rounds := f.rounds(decoysByTarget[ta], msm)
		perRound := make([][]float64, len(rounds))
		for r, decoyScores := range rounds {
			perRound[r] = rawFDR(thresholds, targetScores, decoyScores)
		}

		values := make([]float64, len(thresholds))
		for i := range thresholds {
			col := make([]float64, 0, len(perRound))
			for _, fdrs := range perRound {
				col = append(col, fdrs[i])
			}
			values[i] = median(col)
		}

		// thresholds descend, so walk from the end (lowest) upwards
		for i := len(values) - 2; i >= 0; i-- {
			if values[i+1] < values[i] {
				values[i] = values[i+1]
			}
		}
		for i, v := range values {
			values[i] = f.digitize(v)
		}
		t.curves[ta] = &Curve{Thresholds: thresholds, FDR: values}
	}
	return t
}

// rounds splits the decoy pairs of one target adduct into sample rounds and
// returns the descending positive decoy scores of each round.
func (f *FDR) rounds(pairs []DecoyPair, msm map[core.IonKey]float64) [][]float64 {
	byFormula := map[int][]DecoyPair{}
	var ids []int
	for _, p := range pairs {
		if _, ok := byFormula[p.FormulaID]; !ok {
			ids = append(ids, p.FormulaID)
		}
		byFormula[p.FormulaID] = append(byFormula[p.FormulaID], p)
	}

	n := 0
	for _, ps := range byFormula {
		if len(ps) > n {
			n = len(ps)
		}
	}

	out := make([][]float64, n)
	for r := 0; r < n; r++ {
		for _, id := range ids {
			ps := byFormula[id]
			if r >= len(ps) {
				continue
			}
			s := msm[core.IonKey{FormulaID: id, Adduct: ps[r].DecoyAdduct}]
			if s > 0 {
				out[r] = append(out[r], s)
			}
		}
		sort.Sort(sort.Reverse(sort.Float64Slice(out[r])))
	}
	return out
}

// rawFDR returns #decoys(>=T) / #targets(>=T) for each descending threshold.
// targets and decoys are sorted descending.
func rawFDR(thresholds, targets, decoys []float64) []float64 {
	out := make([]float64, len(thresholds))
	ti, di := 0, 0
	for i, th := range thresholds {
		for ti < len(targets) && targets[ti] >= th {
			ti++
		}
		for di < len(decoys) && decoys[di] >= th {
			di++
		}
		out[i] = float64(di) / float64(ti)
	}
	return out
}

func (f *FDR) digitize(v float64) float64 {
	if f.levels == nil {
		return v
	}
	for _, l := range f.levels {
		if v <= l {
			return l
		}
	}
	return 1
}

func dedupe(desc []float64) []float64 {
	out := make([]float64, 0, len(desc))
	for i, v := range desc {
		if i == 0 || v != desc[i-1] {
			out = append(out, v)
		}
	}
	return out
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 1
	}
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	m := len(s) / 2
	if len(s)%2 == 1 {
		return s[m]
	}
	return (s[m-1] + s[m]) / 2
}
