// Package moldb holds molecular databases: named, versioned sets of sum
// formulas with the compounds that share each formula.
package moldb

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
)

// FilterOrganic keeps only formulas containing carbon.
const FilterOrganic = "organic"

// Formula is an aggregated sum formula. Names and IDs list the compounds
// sharing it, in load order.
type Formula struct {
	ID    int
	SF    string
	Names []string
	IDs   []string
}

// MolecularDB is a named molecular database.
type MolecularDB struct {
	ID       int
	Name     string
	Version  string
	Formulas []Formula
}

func (db MolecularDB) String() string {
	if db.Version == "" {
		return db.Name
	}
	return db.Name + "-" + db.Version
}

// Ref names a database in a dataset config.
type Ref struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// ApplyFilters drops formulas rejected by any of the named filters. Unknown
// filter names are logged and ignored.
func ApplyFilters(formulas []Formula, filters []string, logger *slog.Logger) []Formula {
	if logger == nil {
		logger = slog.Default()
	}
	out := formulas
	for _, f := range filters {
		switch strings.ToLower(strings.TrimSpace(f)) {
		case FilterOrganic:
			kept := make([]Formula, 0, len(out))
			for _, sf := range out {
				comp, err := core.ParseFormula(sf.SF)
				if err != nil || !comp.Has("C") {
					continue
				}
				kept = append(kept, sf)
			}
			logger.Info("organic sum formula filter applied", "before", len(out), "after", len(kept))
			out = kept
		default:
			logger.Warn("unknown formula filter ignored", "filter", f)
		}
	}
	return out
}

// LoadFromCSV reads compounds (format: sf,name,compound_id with a header
// line) and aggregates them by sum formula. Formula ids are assigned in
// order of first appearance starting at 1.
func LoadFromCSV(r io.Reader) ([]Formula, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	// Skip header line
	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty compound CSV")
		}
		return nil, fmt.Errorf("error reading CSV: %w", err)
	}

	var formulas []Formula
	bySF := map[string]int{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading CSV: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if len(rec) == 0 || strings.TrimSpace(rec[0]) == "" {
			continue
		}

		sf := strings.TrimSpace(rec[0])
		if _, err := core.ParseFormula(sf); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		i, ok := bySF[sf]
		if !ok {
			i = len(formulas)
			bySF[sf] = i
			formulas = append(formulas, Formula{ID: i + 1, SF: sf})
		}
		if len(rec) > 1 {
			formulas[i].Names = append(formulas[i].Names, strings.TrimSpace(rec[1]))
		}
		if len(rec) > 2 {
			formulas[i].IDs = append(formulas[i].IDs, strings.TrimSpace(rec[2]))
		}
	}

	if len(formulas) == 0 {
		return nil, fmt.Errorf("no formulas in compound CSV")
	}
	return formulas, nil
}
