package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
	"github.com/ChrisMcGann/SMEngine/pkg/fdr"
	"github.com/ChrisMcGann/SMEngine/pkg/imager"
	"github.com/ChrisMcGann/SMEngine/pkg/metrics"
	"github.com/ChrisMcGann/SMEngine/pkg/search"
)

// SaveDecoys stores the decoy sample drawn for a job.
func (s *Store) SaveDecoys(ctx context.Context, jobID int64, molDBID int, pairs []fdr.DecoyPair) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.q(`
			INSERT INTO target_decoy_add (job_id, db_id, sf_id, target_add, decoy_add) VALUES (?, ?, ?, ?, ?)
		`))
		if err != nil {
			return fmt.Errorf("failed to prepare decoy statement: %w", err)
		}
		defer stmt.Close()

		for _, p := range pairs {
			if _, err := stmt.ExecContext(ctx, jobID, molDBID, p.FormulaID, p.TargetAdduct, p.DecoyAdduct); err != nil {
				return fmt.Errorf("failed to insert decoy pair: %w", err)
			}
		}
		return nil
	})
}

// Decoys returns the decoy sample of a job.
func (s *Store) Decoys(ctx context.Context, jobID int64) ([]fdr.DecoyPair, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT sf_id, target_add, decoy_add FROM target_decoy_add WHERE job_id = ? ORDER BY sf_id, target_add, decoy_add
	`), jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load decoys of job %d: %w", jobID, err)
	}
	defer rows.Close()

	var out []fdr.DecoyPair
	for rows.Next() {
		var p fdr.DecoyPair
		if err := rows.Scan(&p.FormulaID, &p.TargetAdduct, &p.DecoyAdduct); err != nil {
			return nil, fmt.Errorf("failed to load decoys of job %d: %w", jobID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveResults stores the accepted annotations of a job with their ion images.
func (s *Store) SaveResults(ctx context.Context, jobID int64, molDBID int, res *search.Result) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		metricsStmt, err := tx.PrepareContext(ctx, s.q(`
			INSERT INTO iso_image_metrics (
				job_id, db_id, sf_id, adduct, peaks_n, chaos, spatial, spectral, msm, fdr, mz
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`))
		if err != nil {
			return fmt.Errorf("failed to prepare metrics statement: %w", err)
		}
		defer metricsStmt.Close()

		imageStmt, err := tx.PrepareContext(ctx, s.q(`
			INSERT INTO iso_image (
				job_id, db_id, sf_id, adduct, peak, rows_n, cols_n, pixel_inds, intensities
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`))
		if err != nil {
			return fmt.Errorf("failed to prepare image statement: %w", err)
		}
		defer imageStmt.Close()

		for _, a := range res.Annotations {
			m := a.Metrics
			_, err := metricsStmt.ExecContext(ctx,
				jobID, molDBID, a.Ion.FormulaID, a.Ion.Adduct, a.PeakCount,
				m.Chaos, m.SpatialCorr, m.SpectralMatch, m.MSM, a.FDR, a.MZ,
			)
			if err != nil {
				return fmt.Errorf("failed to insert metrics of %s: %w", a.Ion, err)
			}

			set := res.Images[a.Ion]
			if set == nil {
				continue
			}
			for peak, img := range set.Images {
				inds := make([]int, len(img.Entries))
				vals := make([]float64, len(img.Entries))
				for i, e := range img.Entries {
					inds[i], vals[i] = e.Index, e.Value
				}
				_, err := imageStmt.ExecContext(ctx,
					jobID, molDBID, a.Ion.FormulaID, a.Ion.Adduct, peak,
					img.Rows, img.Cols, encodeInt32s(inds), encodeFloat64s(vals),
				)
				if err != nil {
					return fmt.Errorf("failed to insert image %d of %s: %w", peak, a.Ion, err)
				}
			}
		}
		return nil
	})
}

// Images returns the stored ion images of one annotation, ordered by peak.
func (s *Store) Images(ctx context.Context, jobID int64, ion core.IonKey) ([]*imager.SparseImage, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT rows_n, cols_n, pixel_inds, intensities FROM iso_image
		WHERE job_id = ? AND sf_id = ? AND adduct = ? ORDER BY peak
	`), jobID, ion.FormulaID, ion.Adduct)
	if err != nil {
		return nil, fmt.Errorf("failed to load images of %s: %w", ion, err)
	}
	defer rows.Close()

	var out []*imager.SparseImage
	for rows.Next() {
		var (
			img        imager.SparseImage
			inds, vals []byte
		)
		if err := rows.Scan(&img.Rows, &img.Cols, &inds, &vals); err != nil {
			return nil, fmt.Errorf("failed to load images of %s: %w", ion, err)
		}
		idx, err := decodeInt32s(inds)
		if err != nil {
			return nil, err
		}
		v, err := decodeFloat64s(vals)
		if err != nil {
			return nil, err
		}
		if len(idx) != len(v) {
			return nil, fmt.Errorf("image of %s has %d indices and %d values", ion, len(idx), len(v))
		}
		img.Entries = make([]imager.Entry, len(idx))
		for i := range idx {
			img.Entries[i] = imager.Entry{Index: idx[i], Value: v[i]}
		}
		out = append(out, &img)
	}
	return out, rows.Err()
}

// AnnotationRow is one stored annotation joined with its formula and
// molecular database.
type AnnotationRow struct {
	JobID     int64
	DatasetID string
	MolDBID   int
	MolDBName string
	FormulaID int
	SF        string
	Names     []string
	IDs       []string
	Adduct    string
	PeakCount int
	Metrics   metrics.Metrics
	FDR       float64
	MZ        float64
}

// AnnotationRows returns the stored annotations of a job ordered by
// descending MSM.
func (s *Store) AnnotationRows(ctx context.Context, jobID int64) ([]AnnotationRow, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT m.job_id, j.ds_id, m.db_id, d.name, m.sf_id, f.sf, f.names, f.ids, m.adduct, m.peaks_n,
			m.chaos, m.spatial, m.spectral, m.msm, m.fdr, m.mz
		FROM iso_image_metrics m
		JOIN job j ON j.id = m.job_id
		JOIN molecular_db d ON d.id = m.db_id
		JOIN formula f ON f.db_id = m.db_id AND f.sf_id = m.sf_id
		WHERE m.job_id = ?
		ORDER BY m.msm DESC, m.sf_id, m.adduct
	`), jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load annotations of job %d: %w", jobID, err)
	}
	defer rows.Close()

	var out []AnnotationRow
	for rows.Next() {
		var (
			r          AnnotationRow
			names, ids sql.NullString
		)
		err := rows.Scan(&r.JobID, &r.DatasetID, &r.MolDBID, &r.MolDBName, &r.FormulaID, &r.SF, &names, &ids,
			&r.Adduct, &r.PeakCount, &r.Metrics.Chaos, &r.Metrics.SpatialCorr, &r.Metrics.SpectralMatch,
			&r.Metrics.MSM, &r.FDR, &r.MZ)
		if err != nil {
			return nil, fmt.Errorf("failed to load annotations of job %d: %w", jobID, err)
		}
		if err := unmarshalList(names, &r.Names); err != nil {
			return nil, err
		}
		if err := unmarshalList(ids, &r.IDs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestAnnotationRows returns the annotations of the latest FINISHED job of
// every molecular database the dataset was searched against.
func (s *Store) LatestAnnotationRows(ctx context.Context, dsID string) ([]AnnotationRow, error) {
	jobs, err := s.JobsForDataset(ctx, dsID)
	if err != nil {
		return nil, err
	}
	latest := make(map[int]int64)
	var order []int
	for _, j := range jobs {
		if j.Status != core.JobFinished {
			continue
		}
		if _, ok := latest[j.MolDBID]; !ok {
			order = append(order, j.MolDBID)
		}
		latest[j.MolDBID] = j.ID
	}

	var out []AnnotationRow
	for _, dbID := range order {
		rows, err := s.AnnotationRows(ctx, latest[dbID])
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}
