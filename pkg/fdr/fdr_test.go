package fdr

import (
	"math/rand"
	"testing"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
	"github.com/ChrisMcGann/SMEngine/pkg/moldb"
)

func formulas(n int) []moldb.Formula {
	out := make([]moldb.Formula, n)
	for i := range out {
		out[i] = moldb.Formula{ID: i + 1, SF: "C6H12O6"}
	}
	return out
}

func TestSelectDecoys(t *testing.T) {
	pool := core.NewAdductDatabase()
	for _, a := range []string{"+H", "+Na", "+Au", "+Xe", "+Pt", "-Cl", "-O"} {
		if err := pool.Add(a); err != nil {
			t.Fatal(err)
		}
	}
	f := New([]string{"+H", "+Na"}, pool, 3, nil, 42)
	if err := f.SelectDecoys(formulas(4)); err != nil {
		t.Fatalf("SelectDecoys() error = %v", err)
	}

	pairs := f.DecoyPairs()
	if len(pairs) != 4*2*3 {
		t.Fatalf("got %d decoy pairs, want 24", len(pairs))
	}
	type key struct {
		id int
		ta string
	}
	perKey := map[key]map[string]bool{}
	for _, p := range pairs {
		if p.DecoyAdduct == "+H" || p.DecoyAdduct == "+Na" {
			t.Errorf("target adduct %s used as decoy", p.DecoyAdduct)
		}
		if p.DecoyAdduct == "-Cl" {
			t.Errorf("-Cl selected for a formula without Cl")
		}
		k := key{p.FormulaID, p.TargetAdduct}
		if perKey[k] == nil {
			perKey[k] = map[string]bool{}
		}
		if perKey[k][p.DecoyAdduct] {
			t.Errorf("decoy %s drawn twice for %v", p.DecoyAdduct, k)
		}
		perKey[k][p.DecoyAdduct] = true
	}

	if err := f.SelectDecoys(formulas(4)); err == nil {
		t.Error("second SelectDecoys() expected error")
	}

	again := New([]string{"+H", "+Na"}, pool, 3, nil, 42)
	_ = again.SelectDecoys(formulas(4))
	for i, p := range again.DecoyPairs() {
		if p != pairs[i] {
			t.Fatalf("same seed produced a different sample at %d: %+v != %+v", i, p, pairs[i])
		}
	}
}

func TestCandidates(t *testing.T) {
	f := New([]string{"+H"}, nil, 2, nil, 1)
	fs := formulas(3)
	if err := f.SelectDecoys(fs); err != nil {
		t.Fatal(err)
	}
	if got := len(f.Candidates(fs)); got != 3+3*2 {
		t.Errorf("Candidates() returned %d, want 9", got)
	}
}

func TestEstimateSimple(t *testing.T) {
	f := New([]string{"+H"}, nil, 1, nil, 1)
	f.pairs = []DecoyPair{
		{FormulaID: 1, TargetAdduct: "+H", DecoyAdduct: "+Au"},
		{FormulaID: 2, TargetAdduct: "+H", DecoyAdduct: "+Au"},
		{FormulaID: 3, TargetAdduct: "+H", DecoyAdduct: "+Au"},
		{FormulaID: 4, TargetAdduct: "+H", DecoyAdduct: "+Au"},
	}
	f.selected = true
	msm := map[core.IonKey]float64{
		{FormulaID: 1, Adduct: "+H"}:  0.9,
		{FormulaID: 2, Adduct: "+H"}:  0.8,
		{FormulaID: 3, Adduct: "+H"}:  0.5,
		{FormulaID: 4, Adduct: "+H"}:  0.1,
		{FormulaID: 1, Adduct: "+Au"}: 0.6,
		{FormulaID: 2, Adduct: "+Au"}: 0.05,
	}
	table := f.Estimate(msm)

	tests := []struct {
		ion  core.IonKey
		want float64
	}{
		{core.IonKey{FormulaID: 1, Adduct: "+H"}, 0},
		{core.IonKey{FormulaID: 2, Adduct: "+H"}, 0},
		// raw 1/3 is lowered to 1/4 by the lower threshold
		{core.IonKey{FormulaID: 3, Adduct: "+H"}, 0.25},
		{core.IonKey{FormulaID: 4, Adduct: "+H"}, 0.25},
	}
	for _, tt := range tests {
		if got := table.Lookup(tt.ion, msm[tt.ion]); got != tt.want {
			t.Errorf("Lookup(%s) = %v, want %v", tt.ion, got, tt.want)
		}
	}

	if got := table.Lookup(core.IonKey{FormulaID: 9, Adduct: "+H"}, 0); got != 1 {
		t.Errorf("Lookup(zero score) = %v, want 1", got)
	}
	if got := table.Lookup(core.IonKey{FormulaID: 1, Adduct: "+K"}, 0.9); got != 1 {
		t.Errorf("Lookup(unknown adduct) = %v, want 1", got)
	}
}

func TestEstimateMonotone(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	fs := formulas(200)
	f := New([]string{"+H", "+K"}, nil, 5, nil, 99)
	if err := f.SelectDecoys(fs); err != nil {
		t.Fatal(err)
	}

	msm := map[core.IonKey]float64{}
	for _, c := range f.Candidates(fs) {
		if rng.Float64() < 0.2 {
			continue
		}
		msm[c.Ion] = rng.Float64()
	}
	table := f.Estimate(msm)

	for _, ta := range []string{"+H", "+K"} {
		c := table.Curve(ta)
		if c == nil {
			t.Fatalf("no curve for %s", ta)
		}
		for i := 1; i < len(c.Thresholds); i++ {
			if c.Thresholds[i] >= c.Thresholds[i-1] {
				t.Fatalf("thresholds not descending at %d", i)
			}
			if c.FDR[i-1] > c.FDR[i] {
				t.Errorf("%s: FDR at threshold %v (%v) exceeds FDR at lower threshold %v (%v)",
					ta, c.Thresholds[i-1], c.FDR[i-1], c.Thresholds[i], c.FDR[i])
			}
		}
		prev := 2.0
		for s := 0.0; s <= 1.0; s += 0.01 {
			v := c.At(s)
			if v > prev {
				t.Errorf("%s: At(%v) = %v exceeds At at a lower cutoff (%v)", ta, s, v, prev)
			}
			prev = v
		}
	}
}

func TestDigitize(t *testing.T) {
	f := New([]string{"+H"}, nil, 1, DefaultLevels, 1)
	tests := []struct {
		in, want float64
	}{
		{0, 0.05}, {0.05, 0.05}, {0.07, 0.1}, {0.3, 0.5}, {0.51, 1},
	}
	for _, tt := range tests {
		if got := f.digitize(tt.in); got != tt.want {
			t.Errorf("digitize(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
