// Package job runs annotation jobs: one dataset against each of its
// configured molecular databases.
package job

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
	"github.com/ChrisMcGann/SMEngine/pkg/dataset"
	"github.com/ChrisMcGann/SMEngine/pkg/export"
	"github.com/ChrisMcGann/SMEngine/pkg/fdr"
	"github.com/ChrisMcGann/SMEngine/pkg/imager"
	"github.com/ChrisMcGann/SMEngine/pkg/isocalc"
	"github.com/ChrisMcGann/SMEngine/pkg/moldb"
	"github.com/ChrisMcGann/SMEngine/pkg/peaks"
	"github.com/ChrisMcGann/SMEngine/pkg/pixel"
	"github.com/ChrisMcGann/SMEngine/pkg/reader/txt"
	"github.com/ChrisMcGann/SMEngine/pkg/search"
	"github.com/ChrisMcGann/SMEngine/pkg/store"
)

// Options tunes the search pipeline of a job.
type Options struct {
	Reconstruct     imager.Config
	DecoySampleSize int
	// Seed fixes the decoy sample. Zero seeds each job with its id.
	Seed int64
	// DecoyAdducts overrides the default decoy adduct pool.
	DecoyAdducts *core.AdductDatabase
}

// DefaultOptions returns the default pipeline settings.
func DefaultOptions() Options {
	return Options{
		Reconstruct:     imager.DefaultConfig(),
		DecoySampleSize: fdr.DefaultSampleSize,
	}
}

// SearchJob annotates a stored dataset.
type SearchJob struct {
	store    *store.Store
	manager  *dataset.Manager
	exporter export.Exporter
	opts     Options
	logger   *slog.Logger
}

// New creates a search job runner.
func New(st *store.Store, mgr *dataset.Manager, exp export.Exporter, opts Options, logger *slog.Logger) *SearchJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchJob{store: st, manager: mgr, exporter: exp, opts: opts, logger: logger}
}

// Run annotates the dataset against every configured molecular database
// that has no finished job yet. The dataset ends FINISHED, or FAILED with
// the first error returned.
func (j *SearchJob) Run(ctx context.Context, dsID string) error {
	ds, err := j.store.GetDataset(ctx, dsID)
	if err != nil {
		return err
	}
	log := j.logger.With("ds_id", ds.ID)

	if err := j.manager.SetStatus(ctx, ds, core.DatasetStarted); err != nil {
		return err
	}
	if err := j.run(ctx, ds, log); err != nil {
		log.Error("annotation failed", "error", err)
		if serr := j.manager.SetStatus(context.WithoutCancel(ctx), ds, core.DatasetFailed); serr != nil {
			log.Error("failed to mark dataset failed", "error", serr)
		}
		return err
	}
	return j.manager.SetStatus(ctx, ds, core.DatasetFinished)
}

func (j *SearchJob) run(ctx context.Context, ds *core.Dataset, log *slog.Logger) error {
	cfg, err := dataset.ParseConfig(ds.Config)
	if err != nil {
		return err
	}
	pixels, err := txt.LoadPixels(ds.InputPath)
	if err != nil {
		return err
	}
	rows, cols := pixels.Dims()
	b := pixels.Bounds()
	log.Info("pixel index built", "rows", rows, "cols", cols, "pixels", pixels.Len(),
		"x", fmt.Sprintf("%g..%g", b.MinX, b.MaxX), "y", fmt.Sprintf("%g..%g", b.MinY, b.MaxY))

	jobs, err := j.store.JobsForDataset(ctx, ds.ID)
	if err != nil {
		return err
	}
	for _, ref := range cfg.Databases {
		db, err := j.store.FindMolDB(ctx, ref.Name, ref.Version)
		if err != nil {
			return err
		}
		if finished(jobs, db.ID) {
			log.Info("molecular database already annotated, skipping", "mol_db", db.String())
			continue
		}
		if err := j.runMolDB(ctx, ds, cfg, db, pixels, log.With("mol_db", db.String())); err != nil {
			return err
		}
	}
	return nil
}

func finished(jobs []core.Job, molDBID int) bool {
	for _, jb := range jobs {
		if jb.MolDBID == molDBID && jb.Status == core.JobFinished {
			return true
		}
	}
	return false
}

// runMolDB runs one job. Annotation and export failures both leave the job
// FAILED with whatever rows were written.
func (j *SearchJob) runMolDB(ctx context.Context, ds *core.Dataset, cfg *dataset.Config, db *moldb.MolecularDB, pixels *pixel.Index, log *slog.Logger) error {
	job, err := j.store.InsertJob(ctx, ds.ID, db.ID)
	if err != nil {
		return err
	}
	log = log.With("job_id", job.ID)
	log.Info("job started")

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := j.annotate(jobCtx, ds, job, cfg, db, pixels, log); err != nil {
		cancel()
		j.finish(ctx, job, core.JobFailed, log)
		return &core.JobFailedError{JobID: job.ID, DatasetID: ds.ID, MolDB: db.String(), Cause: err}
	}
	if err := j.exporter.Export(jobCtx, ds, job.ID, db); err != nil {
		j.finish(ctx, job, core.JobFailed, log)
		return &core.ExportFailedError{JobID: job.ID, DatasetID: ds.ID, MolDB: db.String(), Cause: err}
	}
	j.finish(ctx, job, core.JobFinished, log)
	return nil
}

func (j *SearchJob) finish(ctx context.Context, job *core.Job, status core.JobStatus, log *slog.Logger) {
	if err := j.store.FinishJob(context.WithoutCancel(ctx), job.ID, status); err != nil {
		log.Error("failed to update job status", "status", status, "error", err)
		return
	}
	job.Status = status
	log.Info("job finished", "status", status)
}

// decoySeed returns the configured seed, or the job id when none is set so
// that reruns draw fresh decoy samples.
func (j *SearchJob) decoySeed(job *core.Job) int64 {
	if j.opts.Seed != 0 {
		return j.opts.Seed
	}
	return job.ID
}

func (j *SearchJob) annotate(ctx context.Context, ds *core.Dataset, job *core.Job, cfg *dataset.Config, db *moldb.MolecularDB, pixels *pixel.Index, log *slog.Logger) error {
	formulas := moldb.ApplyFilters(db.Formulas, cfg.Filters, log)

	est := fdr.New(cfg.Isotopes.Adducts, j.opts.DecoyAdducts, j.opts.DecoySampleSize, fdr.DefaultLevels, j.decoySeed(job))
	if err := est.SelectDecoys(formulas); err != nil {
		return err
	}
	if err := j.store.SaveDecoys(ctx, job.ID, db.ID, est.DecoyPairs()); err != nil {
		return err
	}

	calc, err := isocalc.New(cfg.IsocalcParams())
	if err != nil {
		return err
	}
	workers := j.opts.Reconstruct.Workers
	gen := peaks.NewGenerator(calc, calc.Params(), j.store, workers, log)

	spectra, closer, err := txt.OpenSpectra(ds.InputPath)
	if err != nil {
		return err
	}
	defer closer.Close()

	s := search.New(gen, search.Options{
		PPM:         cfg.Images.PPM,
		Reconstruct: j.opts.Reconstruct,
		Filter:      cfg.FilterConfig(),
		Workers:     workers,
		Measures:    cfg.Measures(),
	}, log)

	res, err := s.Run(ctx, search.Input{
		MolDB:    *db,
		Formulas: formulas,
		FDR:      est,
		Pixels:   pixels,
		Spectra:  spectra,
	})
	if err != nil {
		return err
	}
	log.Info("search finished",
		"spectra", res.Stats.Records, "skipped", res.Stats.Skipped,
		"scored", res.Scored, "annotations", len(res.Annotations))

	if err := j.store.SaveResults(ctx, job.ID, db.ID, res); err != nil {
		return fmt.Errorf("saving results: %w", err)
	}
	return nil
}
