package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
)

// ErrUnknownJob is returned when a job id has no stored row.
var ErrUnknownJob = errors.New("unknown job")

// ErrJobNotRunning is returned when finishing a job that already finished.
var ErrJobNotRunning = errors.New("job not running")

const jobColumns = `id, db_id, ds_id, status, start, finish`

// InsertJob creates a STARTED job for the dataset and molecular database.
func (s *Store) InsertJob(ctx context.Context, dsID string, molDBID int) (*core.Job, error) {
	job := &core.Job{
		DatasetID: dsID,
		MolDBID:   molDBID,
		Status:    core.JobStarted,
		Start:     s.now().UTC().Truncate(1e9),
	}
	err := s.db.QueryRowContext(ctx, s.q(`
		INSERT INTO job (db_id, ds_id, status, start) VALUES (?, ?, ?, ?) RETURNING id
	`), molDBID, dsID, string(job.Status), s.timestamp(job.Start)).Scan(&job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job for dataset %s: %w", dsID, err)
	}
	return job, nil
}

// FinishJob moves a STARTED job to a terminal status and stamps its finish
// time. A job that already finished returns ErrJobNotRunning.
func (s *Store) FinishJob(ctx context.Context, id int64, status core.JobStatus) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE job SET status = ?, finish = ? WHERE id = ? AND status = ?`),
		string(status), s.timestamp(s.now()), id, string(core.JobStarted))
	if err != nil {
		return fmt.Errorf("failed to update job %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil || n > 0 {
		return nil
	}
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("job %d is %s: %w", id, job.Status, ErrJobNotRunning)
}

// GetJob returns a stored job.
func (s *Store) GetJob(ctx context.Context, id int64) (*core.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, s.q(`SELECT `+jobColumns+` FROM job WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", id, ErrUnknownJob)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %d: %w", id, err)
	}
	return job, nil
}

// JobsForDataset returns the jobs of a dataset in creation order.
func (s *Store) JobsForDataset(ctx context.Context, dsID string) ([]core.Job, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+jobColumns+` FROM job WHERE ds_id = ? ORDER BY id`), dsID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs of dataset %s: %w", dsID, err)
	}
	defer rows.Close()

	var out []core.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to list jobs of dataset %s: %w", dsID, err)
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func scanJob(row scanner) (*core.Job, error) {
	var (
		job           core.Job
		status        string
		start, finish sql.NullString
	)
	if err := row.Scan(&job.ID, &job.MolDBID, &job.DatasetID, &status, &start, &finish); err != nil {
		return nil, err
	}
	job.Status = core.JobStatus(status)
	var err error
	if job.Start, err = parseTimestamp(start); err != nil {
		return nil, err
	}
	if job.Finish, err = parseTimestamp(finish); err != nil {
		return nil, err
	}
	return &job, nil
}
