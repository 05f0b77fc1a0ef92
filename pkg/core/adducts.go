package core

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

// AdductDatabase stores a pool of adducts, e.g. the decoy adduct pool used
// for FDR estimation.
type AdductDatabase struct {
	adducts map[string]Adduct
}

// NewAdductDatabase creates an empty adduct database
func NewAdductDatabase() *AdductDatabase {
	return &AdductDatabase{
		adducts: make(map[string]Adduct),
	}
}

// LoadFromCSV loads adducts from a CSV file (format: adduct[,comment])
func (db *AdductDatabase) LoadFromCSV(r io.Reader) error {
	scanner := bufio.NewScanner(r)

	// Skip header line
	if scanner.Scan() {
		// header line
	}

	lineNum := 1
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Split(line, ",")
		name := strings.TrimSpace(parts[0])
		if err := db.Add(name); err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading CSV: %w", err)
	}

	return nil
}

// Add parses and adds an adduct
func (db *AdductDatabase) Add(name string) error {
	a, err := ParseAdduct(name)
	if err != nil {
		return err
	}
	db.adducts[name] = a
	return nil
}

// Get returns a parsed adduct by name
func (db *AdductDatabase) Get(name string) (Adduct, bool) {
	a, ok := db.adducts[name]
	return a, ok
}

// Len returns the number of adducts in the pool
func (db *AdductDatabase) Len() int {
	return len(db.adducts)
}

// Names returns all adduct names in sorted order. The order is stable so that
// seeded sampling over the pool is reproducible.
func (db *AdductDatabase) Names() []string {
	names := make([]string, 0, len(db.adducts))
	for name := range db.adducts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultDecoyAdducts returns the default decoy adduct pool: single atoms that
// are implausible as real adducts.
func DefaultDecoyAdducts() *AdductDatabase {
	db := NewAdductDatabase()
	for _, el := range []string{
		"He", "Li", "Be", "B", "C", "N", "O", "F", "Ne", "Mg", "Al", "Si", "P", "S", "Cl", "Ar",
		"Ca", "Sc", "Ti", "V", "Cr", "Mn", "Fe", "Co", "Ni", "Cu", "Zn", "Ga", "Ge", "As", "Se",
		"Br", "Kr", "Rb", "Sr", "Y", "Zr", "Nb", "Mo", "Ru", "Rh", "Pd", "Ag", "Cd", "In", "Sn",
		"Sb", "Te", "I", "Xe", "Cs", "Ba", "La", "Ce", "Pr", "Nd", "Sm", "Eu", "Gd", "Tb", "Dy",
		"Ho", "Ir", "Th", "Pt", "Os", "Yb", "Lu", "Bi", "Pb", "Re", "Tl", "Tm", "U", "W", "Au",
		"Er", "Hf", "Hg", "Ta",
	} {
		db.adducts["+"+el] = Adduct{Sign: 1, Composition: Composition{el: 1}}
	}
	return db
}
