package core

import (
	"math"
	"math/rand"
	"testing"
)

func TestSpectrumValidation(t *testing.T) {
	tests := []struct {
		name    string
		sp      *Spectrum
		wantErr bool
	}{
		{
			name: "valid spectrum",
			sp: &Spectrum{
				PixelID:      0,
				MZ:           []float64{100.0, 200.0},
				CumIntensity: []float64{0, 100, 110},
			},
			wantErr: false,
		},
		{
			name: "negative pixel id",
			sp: &Spectrum{
				PixelID:      -1,
				MZ:           []float64{100.0},
				CumIntensity: []float64{0, 1},
			},
			wantErr: true,
		},
		{
			name: "cumulative length mismatch",
			sp: &Spectrum{
				MZ:           []float64{100.0, 200.0},
				CumIntensity: []float64{100, 110},
			},
			wantErr: true,
		},
		{
			name: "unsorted m/z",
			sp: &Spectrum{
				MZ:           []float64{200.0, 100.0},
				CumIntensity: []float64{0, 1, 2},
			},
			wantErr: true,
		},
		{
			name: "NaN m/z",
			sp: &Spectrum{
				MZ:           []float64{math.NaN()},
				CumIntensity: []float64{0, 1},
			},
			wantErr: true,
		},
		{
			name: "infinite intensity",
			sp: &Spectrum{
				MZ:           []float64{100},
				CumIntensity: []float64{0, math.Inf(1)},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sp.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewSpectrumSortsAndAccumulates(t *testing.T) {
	sp, err := NewSpectrum(3, []float64{300, 100, 200}, []float64{3, 1, 2})
	if err != nil {
		t.Fatalf("NewSpectrum() error = %v", err)
	}

	wantMZ := []float64{100, 200, 300}
	wantCum := []float64{0, 1, 3, 6}
	for i := range wantMZ {
		if sp.MZ[i] != wantMZ[i] {
			t.Errorf("MZ[%d] = %v, want %v", i, sp.MZ[i], wantMZ[i])
		}
	}
	for i := range wantCum {
		if sp.CumIntensity[i] != wantCum[i] {
			t.Errorf("CumIntensity[%d] = %v, want %v", i, sp.CumIntensity[i], wantCum[i])
		}
	}
	if sp.TotalIntensity() != 6 {
		t.Errorf("TotalIntensity() = %v, want 6", sp.TotalIntensity())
	}
}

func TestNewSpectrumLengthMismatch(t *testing.T) {
	if _, err := NewSpectrum(0, []float64{1, 2}, []float64{1}); err == nil {
		t.Error("NewSpectrum() expected error for mismatched arrays")
	}
}

func TestWindowSum(t *testing.T) {
	sp := &Spectrum{MZ: []float64{100, 200}, CumIntensity: []float64{0, 100, 110}}

	tests := []struct {
		name         string
		lower, upper float64
		want         float64
	}{
		{"first peak", 99, 101, 100},
		{"second peak", 199, 201, 10},
		{"both peaks", 50, 250, 110},
		{"lower bound inclusive", 100, 150, 100},
		{"upper bound exclusive", 50, 100, 0},
		{"empty window", 120, 180, 0},
		{"inverted window", 101, 99, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sp.WindowSum(tt.lower, tt.upper); got != tt.want {
				t.Errorf("WindowSum(%v, %v) = %v, want %v", tt.lower, tt.upper, got, tt.want)
			}
		})
	}
}

func naiveWindowSum(sp *Spectrum, lower, upper float64) float64 {
	sum := 0.0
	for _, p := range sp.Peaks() {
		if p.MZ >= lower && p.MZ < upper {
			sum += p.Intensity
		}
	}
	return sum
}

func TestWindowSumMatchesLinearScan(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		n := 1 + rng.Intn(60)
		mzs := make([]float64, n)
		ints := make([]float64, n)
		for i := range mzs {
			// Integral m/z values make exact boundary hits likely.
			mzs[i] = float64(100 + rng.Intn(50))
			ints[i] = rng.Float64() * 1000
		}
		sp, err := NewSpectrum(trial, mzs, ints)
		if err != nil {
			t.Fatalf("NewSpectrum() error = %v", err)
		}
		for w := 0; w < 20; w++ {
			lower := float64(95 + rng.Intn(60))
			upper := lower + float64(rng.Intn(10))
			got := sp.WindowSum(lower, upper)
			want := naiveWindowSum(sp, lower, upper)
			if math.Abs(got-want) > 1e-6 {
				t.Fatalf("WindowSum(%v, %v) = %v, naive = %v", lower, upper, got, want)
			}
		}
	}
}

func TestRoundFloat(t *testing.T) {
	tests := []struct {
		name      string
		val       float64
		precision int
		want      float64
	}{
		{"round to 2 decimals", 3.14159, 2, 3.14},
		{"round to 4 decimals", 3.14159, 4, 3.1416},
		{"round to 0 decimals", 3.6, 0, 4.0},
		{"round negative", -3.14159, 2, -3.14},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundFloat(tt.val, tt.precision)
			if got != tt.want {
				t.Errorf("RoundFloat() = %v, want %v", got, tt.want)
			}
		})
	}
}
