package peaks

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
	"github.com/ChrisMcGann/SMEngine/pkg/isocalc"
	"github.com/ChrisMcGann/SMEngine/pkg/moldb"
)

func pattern(id int, adduct string, mzs ...float64) Pattern {
	ints := make([]float64, len(mzs))
	for i := range ints {
		ints[i] = 100 / float64(i+1)
	}
	return Pattern{
		Ion:     core.IonKey{FormulaID: id, Adduct: adduct},
		Pattern: isocalc.Pattern{CentroidMZs: mzs, CentroidInts: ints},
	}
}

func TestNewTable(t *testing.T) {
	patterns := []Pattern{
		pattern(2, "+H", 300, 301),
		pattern(1, "+Na", 200),
		pattern(1, "+H", 100, 101, 102),
		pattern(3, "+H"),
	}

	table, err := NewTable(patterns, 2)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	if table.Len() != 6 {
		t.Fatalf("Len() = %d, want 6", table.Len())
	}

	wantKeys := []string{"1+H#0", "1+H#1", "1+H#2", "1+Na#0", "2+H#0", "2+H#1"}
	for i, k := range table.Keys {
		if k.String() != wantKeys[i] {
			t.Errorf("Keys[%d] = %s, want %s", i, k, wantKeys[i])
		}
	}

	if math.Abs(table.Lower[3]-199.9996) > 1e-9 || math.Abs(table.Upper[3]-200.0004) > 1e-9 {
		t.Errorf("window 3 = [%v, %v], want [199.9996, 200.0004]", table.Lower[3], table.Upper[3])
	}

	if n := len(table.Ions()); n != 3 {
		t.Errorf("Ions() has %d ions, want 3 (empty pattern dropped)", n)
	}
	if table.PeakCount(core.IonKey{FormulaID: 1, Adduct: "+H"}) != 3 {
		t.Error("PeakCount(1+H) != 3")
	}
}

func TestNewTableErrors(t *testing.T) {
	if _, err := NewTable(nil, 0); err == nil {
		t.Error("NewTable() expected error for zero ppm")
	}
	dup := []Pattern{pattern(1, "+H", 100), pattern(1, "+H", 100)}
	if _, err := NewTable(dup, 3); err == nil {
		t.Error("NewTable() expected error for duplicate ion")
	}
}

type fakeCalc struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeCalc) IsotopePattern(sf, adduct string) (isocalc.Pattern, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if _, err := core.IonComposition(sf, adduct); err != nil {
		return isocalc.Pattern{}, err
	}
	return isocalc.Pattern{CentroidMZs: []float64{100}, CentroidInts: []float64{100}}, nil
}

type memCache struct {
	stored []Pattern
}

func (m *memCache) LoadPatterns(ctx context.Context, molDBID int, params isocalc.Params) ([]Pattern, error) {
	return m.stored, nil
}

func (m *memCache) SavePatterns(ctx context.Context, molDBID int, params isocalc.Params, patterns []Pattern) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.stored = append(m.stored, patterns...)
	return nil
}

func TestGeneratorUsesCache(t *testing.T) {
	calc := &fakeCalc{}
	cache := &memCache{}
	gen := NewGenerator(calc, isocalc.DefaultParams(), cache, 2, nil)

	formulas := []moldb.Formula{{ID: 1, SF: "C6H12O6"}, {ID: 2, SF: "NaCl"}}
	adducts := []string{"+H", "-H", "-Cl"}

	first, err := gen.Generate(context.Background(), 7, Candidates(formulas, adducts))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	// glucose-Cl and NaCl-H are invalid
	if len(first) != 4 {
		t.Fatalf("Generate() returned %d patterns, want 4", len(first))
	}
	if calc.calls != 4 {
		t.Errorf("calculator called %d times, want 4", calc.calls)
	}

	second, err := gen.Generate(context.Background(), 7, append(Candidates(formulas, adducts), Candidates(formulas[:1], []string{"+H"})...))
	if err != nil {
		t.Fatalf("second Generate() error = %v", err)
	}
	if len(second) != 4 || calc.calls != 4 {
		t.Errorf("second Generate() returned %d patterns after %d calls, want 4 cached", len(second), calc.calls)
	}
}

type failingCalc struct{}

func (failingCalc) IsotopePattern(sf, adduct string) (isocalc.Pattern, error) {
	return isocalc.Pattern{}, errors.New("boom")
}

func TestGeneratorPropagatesUnexpectedErrors(t *testing.T) {
	gen := NewGenerator(failingCalc{}, isocalc.DefaultParams(), nil, 1, nil)
	_, err := gen.Generate(context.Background(), 1, Candidates([]moldb.Formula{{ID: 1, SF: "H2O"}}, []string{"+H"}))
	if err == nil {
		t.Error("Generate() expected error")
	}
}
