// Package core provides chemistry calculations for sum formulas and adducts
package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

const (
	// Proton mass for charge calculations
	ProtonMass = 1.00727646688
	// ElectronMass is subtracted per positive charge when computing ion m/z
	ElectronMass = 0.00054857990946
)

// Isotope is one stable isotope of an element.
type Isotope struct {
	Mass      float64
	Abundance float64
}

// Element stores the stable isotopes of an element, most abundant first.
type Element struct {
	Symbol   string
	Isotopes []Isotope
}

// MonoisotopicMass returns the mass of the most abundant isotope.
func (e Element) MonoisotopicMass() float64 {
	return e.Isotopes[0].Mass
}

// Elements maps element symbols to isotope data. Elements without a listed
// isotope distribution are treated as monoisotopic.
var Elements = map[string]Element{
	"H":  {"H", []Isotope{{1.0078250321, 0.999885}, {2.0141017780, 0.000115}}},
	"C":  {"C", []Isotope{{12.0000000000, 0.9893}, {13.0033548378, 0.0107}}},
	"N":  {"N", []Isotope{{14.0030740052, 0.99636}, {15.0001088984, 0.00364}}},
	"O":  {"O", []Isotope{{15.9949146221, 0.99757}, {17.9991604, 0.00205}, {16.99913150, 0.00038}}},
	"S":  {"S", []Isotope{{31.97207069, 0.9499}, {33.96786683, 0.0425}, {32.97145850, 0.0075}, {35.96708088, 0.0001}}},
	"P":  {"P", []Isotope{{30.97376151, 1.0}}},
	"F":  {"F", []Isotope{{18.99840320, 1.0}}},
	"Na": {"Na", []Isotope{{22.98976966, 1.0}}},
	"K":  {"K", []Isotope{{38.9637069, 0.932581}, {40.96182597, 0.067302}, {39.96399867, 0.000117}}},
	"Cl": {"Cl", []Isotope{{34.96885271, 0.7576}, {36.96590260, 0.2424}}},
	"Br": {"Br", []Isotope{{78.9183376, 0.5069}, {80.916291, 0.4931}}},
	"I":  {"I", []Isotope{{126.904468, 1.0}}},
	"Fe": {"Fe", []Isotope{{55.9349421, 0.91754}, {53.9396148, 0.05845}, {56.9353987, 0.02119}, {57.9332805, 0.00282}}},
	"Mg": {"Mg", []Isotope{{23.98504190, 0.7899}, {25.98259304, 0.1101}, {24.98583702, 0.1000}}},
	"Ca": {"Ca", []Isotope{{39.9625912, 0.96941}, {43.9554811, 0.02086}}},
	"Si": {"Si", []Isotope{{27.9769265327, 0.92223}, {28.97649472, 0.04685}, {29.97377022, 0.03092}}},
	"Cu": {"Cu", []Isotope{{62.9296011, 0.6915}, {64.9277937, 0.3085}}},
	"Zn": {"Zn", []Isotope{{63.9291466, 0.4917}, {65.9260368, 0.2773}, {67.9248476, 0.1845}, {66.9271309, 0.0404}}},
	"He": {"He", []Isotope{{4.00260325, 1.0}}},
	"Li": {"Li", []Isotope{{7.0160040, 1.0}}},
	"Be": {"Be", []Isotope{{9.0121821, 1.0}}},
	"B":  {"B", []Isotope{{11.0093055, 1.0}}},
	"Ne": {"Ne", []Isotope{{19.9924402, 1.0}}},
	"Al": {"Al", []Isotope{{26.9815384, 1.0}}},
	"Ar": {"Ar", []Isotope{{39.9623831, 1.0}}},
	"Sc": {"Sc", []Isotope{{44.9559102, 1.0}}},
	"Ti": {"Ti", []Isotope{{47.9479471, 1.0}}},
	"V":  {"V", []Isotope{{50.9439637, 1.0}}},
	"Cr": {"Cr", []Isotope{{51.9405119, 1.0}}},
	"Mn": {"Mn", []Isotope{{54.9380496, 1.0}}},
	"Co": {"Co", []Isotope{{58.9332002, 1.0}}},
	"Ni": {"Ni", []Isotope{{57.9353479, 1.0}}},
	"Ga": {"Ga", []Isotope{{68.925581, 1.0}}},
	"Ge": {"Ge", []Isotope{{73.9211782, 1.0}}},
	"As": {"As", []Isotope{{74.9215964, 1.0}}},
	"Se": {"Se", []Isotope{{79.9165218, 1.0}}},
	"Kr": {"Kr", []Isotope{{83.911507, 1.0}}},
	"Rb": {"Rb", []Isotope{{84.9117893, 1.0}}},
	"Sr": {"Sr", []Isotope{{87.9056143, 1.0}}},
	"Y":  {"Y", []Isotope{{88.9058479, 1.0}}},
	"Zr": {"Zr", []Isotope{{89.9047037, 1.0}}},
	"Nb": {"Nb", []Isotope{{92.9063775, 1.0}}},
	"Mo": {"Mo", []Isotope{{97.9054078, 1.0}}},
	"Ru": {"Ru", []Isotope{{101.9043495, 1.0}}},
	"Rh": {"Rh", []Isotope{{102.905504, 1.0}}},
	"Pd": {"Pd", []Isotope{{105.903483, 1.0}}},
	"Ag": {"Ag", []Isotope{{106.905093, 1.0}}},
	"Cd": {"Cd", []Isotope{{113.9033581, 1.0}}},
	"In": {"In", []Isotope{{114.903878, 1.0}}},
	"Sn": {"Sn", []Isotope{{119.9021966, 1.0}}},
	"Sb": {"Sb", []Isotope{{120.9038180, 1.0}}},
	"Te": {"Te", []Isotope{{129.9062228, 1.0}}},
	"Xe": {"Xe", []Isotope{{131.9041545, 1.0}}},
	"Cs": {"Cs", []Isotope{{132.905447, 1.0}}},
	"Ba": {"Ba", []Isotope{{137.905241, 1.0}}},
	"La": {"La", []Isotope{{138.906348, 1.0}}},
	"Ce": {"Ce", []Isotope{{139.905434, 1.0}}},
	"Pr": {"Pr", []Isotope{{140.907648, 1.0}}},
	"Nd": {"Nd", []Isotope{{141.907719, 1.0}}},
	"Sm": {"Sm", []Isotope{{151.919728, 1.0}}},
	"Eu": {"Eu", []Isotope{{152.921226, 1.0}}},
	"Gd": {"Gd", []Isotope{{157.924101, 1.0}}},
	"Tb": {"Tb", []Isotope{{158.925343, 1.0}}},
	"Dy": {"Dy", []Isotope{{163.929171, 1.0}}},
	"Ho": {"Ho", []Isotope{{164.930319, 1.0}}},
	"Er": {"Er", []Isotope{{165.930290, 1.0}}},
	"Tm": {"Tm", []Isotope{{168.934211, 1.0}}},
	"Yb": {"Yb", []Isotope{{173.938858, 1.0}}},
	"Lu": {"Lu", []Isotope{{174.940768, 1.0}}},
	"Hf": {"Hf", []Isotope{{179.946549, 1.0}}},
	"Ta": {"Ta", []Isotope{{180.947996, 1.0}}},
	"W":  {"W", []Isotope{{183.950933, 1.0}}},
	"Re": {"Re", []Isotope{{186.955751, 1.0}}},
	"Os": {"Os", []Isotope{{191.961479, 1.0}}},
	"Ir": {"Ir", []Isotope{{192.962924, 1.0}}},
	"Pt": {"Pt", []Isotope{{194.964774, 1.0}}},
	"Au": {"Au", []Isotope{{196.966552, 1.0}}},
	"Hg": {"Hg", []Isotope{{201.970626, 1.0}}},
	"Tl": {"Tl", []Isotope{{204.974412, 1.0}}},
	"Pb": {"Pb", []Isotope{{207.976636, 1.0}}},
	"Bi": {"Bi", []Isotope{{208.980383, 1.0}}},
	"Th": {"Th", []Isotope{{232.038050, 1.0}}},
	"U":  {"U", []Isotope{{238.050783, 1.0}}},
}

// Composition stores elemental counts of a formula.
type Composition map[string]int

// ParseFormula parses a sum formula like "C6H12O6" or "C2H5NO2".
func ParseFormula(sf string) (Composition, error) {
	sf = strings.TrimSpace(sf)
	if sf == "" {
		return nil, fmt.Errorf("empty sum formula")
	}

	comp := Composition{}
	runes := []rune(sf)
	for i := 0; i < len(runes); {
		if !unicode.IsUpper(runes[i]) {
			return nil, fmt.Errorf("unexpected character %q at position %d in %q", runes[i], i, sf)
		}
		j := i + 1
		for j < len(runes) && unicode.IsLower(runes[j]) {
			j++
		}
		symbol := string(runes[i:j])
		if _, ok := Elements[symbol]; !ok {
			return nil, fmt.Errorf("unknown element %q in %q", symbol, sf)
		}

		k := j
		for k < len(runes) && unicode.IsDigit(runes[k]) {
			k++
		}
		count := 1
		if k > j {
			n, err := strconv.Atoi(string(runes[j:k]))
			if err != nil {
				return nil, fmt.Errorf("invalid count for %s in %q: %w", symbol, sf, err)
			}
			count = n
		}
		comp[symbol] += count
		i = k
	}
	return comp, nil
}

// Has reports whether the composition contains the element.
func (c Composition) Has(symbol string) bool {
	return c[symbol] > 0
}

// Contains reports whether every element of o is present in c in at least
// the same amount.
func (c Composition) Contains(o Composition) bool {
	for el, n := range o {
		if c[el] < n {
			return false
		}
	}
	return true
}

// Symbols returns the element symbols of the composition in sorted order.
func (c Composition) Symbols() []string {
	out := make([]string, 0, len(c))
	for el, n := range c {
		if n > 0 {
			out = append(out, el)
		}
	}
	sort.Strings(out)
	return out
}

// MonoisotopicMass computes the neutral monoisotopic mass.
func (c Composition) MonoisotopicMass() float64 {
	mass := 0.0
	for el, n := range c {
		mass += float64(n) * Elements[el].MonoisotopicMass()
	}
	return mass
}

// Adduct is a parsed adduct such as "+H", "-H2O" or "+Na".
type Adduct struct {
	Sign        int
	Composition Composition
}

// ParseAdduct parses an adduct string with a mandatory leading sign.
func ParseAdduct(adduct string) (Adduct, error) {
	adduct = strings.TrimSpace(adduct)
	if len(adduct) < 2 {
		return Adduct{}, fmt.Errorf("invalid adduct %q", adduct)
	}
	var sign int
	switch adduct[0] {
	case '+':
		sign = 1
	case '-':
		sign = -1
	default:
		return Adduct{}, fmt.Errorf("adduct %q must start with '+' or '-'", adduct)
	}
	comp, err := ParseFormula(adduct[1:])
	if err != nil {
		return Adduct{}, fmt.Errorf("invalid adduct %q: %w", adduct, err)
	}
	return Adduct{Sign: sign, Composition: comp}, nil
}

// IonComposition applies an adduct to a formula. A subtractive adduct is
// only valid when the formula contains its elements.
func IonComposition(sf, adduct string) (Composition, error) {
	comp, err := ParseFormula(sf)
	if err != nil {
		return nil, &ChemistryError{Formula: sf, Adduct: adduct, Reason: err.Error()}
	}
	add, err := ParseAdduct(adduct)
	if err != nil {
		return nil, &ChemistryError{Formula: sf, Adduct: adduct, Reason: err.Error()}
	}
	if add.Sign < 0 && !comp.Contains(add.Composition) {
		return nil, &ChemistryError{Formula: sf, Adduct: adduct, Reason: "subtracted elements are absent from the formula"}
	}

	ion := Composition{}
	for el, n := range comp {
		ion[el] = n
	}
	for el, n := range add.Composition {
		ion[el] += add.Sign * n
		if ion[el] == 0 {
			delete(ion, el)
		}
	}
	return ion, nil
}

// ValidIon reports whether the (formula, adduct) combination is chemically
// valid.
func ValidIon(sf, adduct string) bool {
	_, err := IonComposition(sf, adduct)
	return err == nil
}

// IonMZ computes the monoisotopic m/z of an ion with the given charge.
func IonMZ(c Composition, charge int) float64 {
	mass := c.MonoisotopicMass()
	if charge == 0 {
		return mass
	}
	mz := (mass - float64(charge)*ElectronMass) / float64(charge)
	if mz < 0 {
		return -mz
	}
	return mz
}
