package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
	"github.com/ChrisMcGann/SMEngine/pkg/isocalc"
	"github.com/ChrisMcGann/SMEngine/pkg/peaks"
)

// Sigma is matched after rounding to 6 decimals.
const sigmaPrecision = 6

// LoadPatterns returns the cached theoretical patterns of a molecular
// database generated with params.
func (s *Store) LoadPatterns(ctx context.Context, molDBID int, params isocalc.Params) ([]peaks.Pattern, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT sf_id, sf, adduct, centr_mzs, centr_ints, prof_mzs, prof_ints
		FROM theor_peaks
		WHERE db_id = ? AND sigma = ? AND charge = ? AND pts_per_mz = ? AND max_peaks = ?
		ORDER BY sf_id, adduct
	`), molDBID, core.RoundFloat(params.Sigma, sigmaPrecision), params.Charge, params.PtsPerMZ, params.MaxPeaks)
	if err != nil {
		return nil, fmt.Errorf("failed to load theoretical patterns: %w", err)
	}
	defer rows.Close()

	var out []peaks.Pattern
	for rows.Next() {
		var (
			p              peaks.Pattern
			cm, ci, pm, pi []byte
		)
		if err := rows.Scan(&p.Ion.FormulaID, &p.Formula, &p.Ion.Adduct, &cm, &ci, &pm, &pi); err != nil {
			return nil, fmt.Errorf("failed to load theoretical patterns: %w", err)
		}
		for _, f := range []struct {
			dst *[]float64
			buf []byte
		}{{&p.CentroidMZs, cm}, {&p.CentroidInts, ci}, {&p.ProfileMZs, pm}, {&p.ProfileInts, pi}} {
			v, err := decodeFloat64s(f.buf)
			if err != nil {
				return nil, fmt.Errorf("pattern %s: %w", p.Ion, err)
			}
			*f.dst = v
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SavePatterns caches generated patterns. Patterns already stored for the
// same parameters are kept.
func (s *Store) SavePatterns(ctx context.Context, molDBID int, params isocalc.Params, patterns []peaks.Pattern) error {
	if len(patterns) == 0 {
		return nil
	}
	sigma := core.RoundFloat(params.Sigma, sigmaPrecision)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.q(`
			INSERT INTO theor_peaks (
				db_id, sf_id, sf, adduct, sigma, charge, pts_per_mz, max_peaks,
				centr_mzs, centr_ints, prof_mzs, prof_ints
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`))
		if err != nil {
			return fmt.Errorf("failed to prepare pattern statement: %w", err)
		}
		defer stmt.Close()

		for _, p := range patterns {
			_, err := stmt.ExecContext(ctx,
				molDBID, p.Ion.FormulaID, p.Formula, p.Ion.Adduct,
				sigma, params.Charge, params.PtsPerMZ, params.MaxPeaks,
				encodeFloat64s(p.CentroidMZs), encodeFloat64s(p.CentroidInts),
				encodeFloat64s(p.ProfileMZs), encodeFloat64s(p.ProfileInts),
			)
			if err != nil {
				return fmt.Errorf("failed to insert pattern %s: %w", p.Ion, err)
			}
		}
		return nil
	})
}
