package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
)

const datasetColumns = `id, name, input_path, metadata, config, status, upload_dt`

// SaveDataset inserts the dataset or replaces the stored row with the same id.
func (s *Store) SaveDataset(ctx context.Context, ds *core.Dataset) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO dataset (`+datasetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			input_path = excluded.input_path,
			metadata = excluded.metadata,
			config = excluded.config,
			status = excluded.status,
			upload_dt = excluded.upload_dt
	`), ds.ID, ds.Name, ds.InputPath, string(ds.Metadata), string(ds.Config), string(ds.Status), s.timestamp(ds.UploadDT))
	if err != nil {
		return fmt.Errorf("failed to save dataset %s: %w", ds.ID, err)
	}
	return nil
}

// GetDataset returns the stored dataset or an error wrapping
// core.ErrUnknownDataset.
func (s *Store) GetDataset(ctx context.Context, id string) (*core.Dataset, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+datasetColumns+` FROM dataset WHERE id = ?`), id)
	ds, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dataset %s: %w", id, core.ErrUnknownDataset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset %s: %w", id, err)
	}
	return ds, nil
}

// ListDatasets returns all datasets ordered by id.
func (s *Store) ListDatasets(ctx context.Context) ([]core.Dataset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+datasetColumns+` FROM dataset ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	var out []core.Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to list datasets: %w", err)
		}
		out = append(out, *ds)
	}
	return out, rows.Err()
}

// UpdateDatasetStatus sets the status of a stored dataset.
func (s *Store) UpdateDatasetStatus(ctx context.Context, id string, status core.DatasetStatus) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE dataset SET status = ? WHERE id = ?`), string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update dataset %s status: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("dataset %s: %w", id, core.ErrUnknownDataset)
	}
	return nil
}

// DeleteDataset removes the dataset row and everything computed for it:
// jobs, decoy samples, metrics and ion images.
func (s *Store) DeleteDataset(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"iso_image", "iso_image_metrics", "target_decoy_add"} {
			if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM `+table+` WHERE job_id IN (SELECT id FROM job WHERE ds_id = ?)`), id); err != nil {
				return fmt.Errorf("failed to delete %s rows of dataset %s: %w", table, id, err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM job WHERE ds_id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete jobs of dataset %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM dataset WHERE id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete dataset %s: %w", id, err)
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDataset(row scanner) (*core.Dataset, error) {
	var (
		ds                        core.Dataset
		inputPath, meta, conf, dt sql.NullString
		status                    string
	)
	if err := row.Scan(&ds.ID, &ds.Name, &inputPath, &meta, &conf, &status, &dt); err != nil {
		return nil, err
	}
	ds.InputPath = inputPath.String
	if meta.String != "" {
		ds.Metadata = []byte(meta.String)
	}
	if conf.String != "" {
		ds.Config = []byte(conf.String)
	}
	ds.Status = core.DatasetStatus(status)
	t, err := parseTimestamp(dt)
	if err != nil {
		return nil, err
	}
	ds.UploadDT = t
	return &ds, nil
}
