package isocalc

import (
	"errors"
	"math"
	"testing"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
)

func TestIsotopePatternGlucose(t *testing.T) {
	calc, err := New(DefaultParams())
	if err != nil {
		t.Fatal(err)
	}

	p, err := calc.IsotopePattern("C6H12O6", "+H")
	if err != nil {
		t.Fatalf("IsotopePattern() error = %v", err)
	}
	if len(p.CentroidMZs) == 0 || len(p.CentroidMZs) > 4 {
		t.Fatalf("got %d centroids, want 1..4", len(p.CentroidMZs))
	}
	if len(p.CentroidMZs) != len(p.CentroidInts) {
		t.Fatalf("centroid arrays differ in length")
	}
	if math.Abs(p.CentroidMZs[0]-181.0707) > 0.001 {
		t.Errorf("first centroid = %.4f, want 181.0707", p.CentroidMZs[0])
	}
	if p.CentroidInts[0] != 100 {
		t.Errorf("base peak intensity = %v, want 100", p.CentroidInts[0])
	}
	for i := 1; i < len(p.CentroidMZs); i++ {
		if p.CentroidMZs[i] <= p.CentroidMZs[i-1] {
			t.Errorf("centroids not ascending: %v", p.CentroidMZs)
		}
		if d := p.CentroidMZs[i] - p.CentroidMZs[i-1]; math.Abs(d-1.003) > 0.01 {
			t.Errorf("isotope spacing %d = %.4f, want about 1.003", i, d)
		}
	}
	// M+1 of C6 is about 6.6% from carbon alone
	if len(p.CentroidInts) > 1 && (p.CentroidInts[1] < 5 || p.CentroidInts[1] > 10) {
		t.Errorf("M+1 intensity = %.2f, want 5..10", p.CentroidInts[1])
	}
	if len(p.ProfileMZs) == 0 || len(p.ProfileMZs) != len(p.ProfileInts) {
		t.Errorf("profile arrays: %d mzs, %d ints", len(p.ProfileMZs), len(p.ProfileInts))
	}
}

func TestIsotopePatternNegativeMode(t *testing.T) {
	params := DefaultParams()
	params.Charge = -1
	calc, err := New(params)
	if err != nil {
		t.Fatal(err)
	}
	p, err := calc.IsotopePattern("C6H12O6", "-H")
	if err != nil {
		t.Fatalf("IsotopePattern() error = %v", err)
	}
	if math.Abs(p.CentroidMZs[0]-179.0561) > 0.001 {
		t.Errorf("first centroid = %.4f, want 179.0561", p.CentroidMZs[0])
	}
}

func TestIsotopePatternMaxPeaks(t *testing.T) {
	params := DefaultParams()
	params.MaxPeaks = 2
	calc, _ := New(params)
	p, err := calc.IsotopePattern("C30H50O10S2", "+Na")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.CentroidMZs) != 2 {
		t.Errorf("got %d centroids, want 2", len(p.CentroidMZs))
	}
}

func TestIsotopePatternInvalidIon(t *testing.T) {
	calc, _ := New(DefaultParams())
	tests := []struct {
		sf, adduct string
	}{
		{"C6H12O6", "-Cl"},
		{"Qq", "+H"},
		{"H", "-H"},
	}
	for _, tt := range tests {
		t.Run(tt.sf+tt.adduct, func(t *testing.T) {
			_, err := calc.IsotopePattern(tt.sf, tt.adduct)
			var chemErr *core.ChemistryError
			if !errors.As(err, &chemErr) {
				t.Errorf("IsotopePattern() error = %v, want *core.ChemistryError", err)
			}
		})
	}
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Params)
		wantErr bool
	}{
		{"defaults", func(*Params) {}, false},
		{"zero sigma", func(p *Params) { p.Sigma = 0 }, true},
		{"zero charge", func(p *Params) { p.Charge = 0 }, true},
		{"zero points", func(p *Params) { p.PtsPerMZ = 0 }, true},
		{"zero peaks", func(p *Params) { p.MaxPeaks = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			if err := p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
