package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
	"github.com/ChrisMcGann/SMEngine/pkg/export"
	"github.com/ChrisMcGann/SMEngine/pkg/index"
	"github.com/ChrisMcGann/SMEngine/pkg/queue"
	"github.com/ChrisMcGann/SMEngine/pkg/store"
)

// NewID returns a fresh dataset id.
func NewID() string {
	return uuid.NewString()
}

type metadata struct {
	Options struct {
		Name            string `json:"Dataset_Name"`
		NotifySubmitter *bool  `json:"notify_submitter"`
	} `json:"metaspace_options"`
	SubmittedBy struct {
		Submitter struct {
			Email string `json:"Email"`
		} `json:"Submitter"`
	} `json:"Submitted_By"`
}

func parseMetadata(raw json.RawMessage) metadata {
	var m metadata
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &m)
	}
	return m
}

// ChooseName returns name, else the dataset name in the metadata, else id.
func ChooseName(id, name string, meta json.RawMessage) string {
	if name != "" {
		return name
	}
	if n := parseMetadata(meta).Options.Name; n != "" {
		return n
	}
	return id
}

// submitterEmail returns the lower-cased submitter email unless the
// submitter opted out of notifications.
func submitterEmail(meta json.RawMessage) string {
	m := parseMetadata(meta)
	if m.Options.NotifySubmitter != nil && !*m.Options.NotifySubmitter {
		return ""
	}
	return strings.ToLower(m.SubmittedBy.Submitter.Email)
}

// Manager drives dataset state changes. Every status change is saved to
// the store, synced to the index and, in queue mode, published to the
// status queue.
type Manager struct {
	store    *store.Store
	index    *index.Index
	exporter export.Exporter
	queue    queue.Publisher // nil in local mode
	logger   *slog.Logger
}

// NewManager creates a manager. A nil publisher selects local mode.
func NewManager(st *store.Store, ix *index.Index, exp export.Exporter, pub queue.Publisher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: st, index: ix, exporter: exp, queue: pub, logger: logger}
}

// SetStatus moves the dataset to status.
func (m *Manager) SetStatus(ctx context.Context, ds *core.Dataset, status core.DatasetStatus) error {
	ds.Status = status
	if err := m.store.SaveDataset(ctx, ds); err != nil {
		return err
	}
	if err := m.index.SyncDataset(ctx, ds); err != nil {
		return err
	}
	if m.queue != nil {
		if err := m.queue.Publish(ctx, queue.StatusQueue, queue.StatusMessage{DatasetID: ds.ID, Status: status}); err != nil {
			return err
		}
	}
	m.logger.Info("dataset status changed", "ds_id", ds.ID, "status", status)
	return nil
}

func validate(ds *core.Dataset) error {
	var missing []string
	if ds.ID == "" {
		missing = append(missing, "id")
	}
	if ds.Name == "" {
		missing = append(missing, "name")
	}
	if ds.InputPath == "" {
		missing = append(missing, "input_path")
	}
	if ds.UploadDT.IsZero() {
		missing = append(missing, "upload_dt")
	}
	if len(missing) > 0 {
		return &core.ValidationError{Field: "Dataset", Message: "missing " + strings.Join(missing, ", ")}
	}
	if _, err := ParseConfig(ds.Config); err != nil {
		return err
	}
	return nil
}

// Add stores a new dataset and requests its annotation. A stored dataset
// with the same id is deleted first.
func (m *Manager) Add(ctx context.Context, ds *core.Dataset) error {
	if err := validate(ds); err != nil {
		return err
	}
	_, err := m.store.GetDataset(ctx, ds.ID)
	switch {
	case err == nil:
		m.logger.Warn("dataset already exists, deleting", "ds_id", ds.ID)
		if err := m.Delete(ctx, ds, false); err != nil {
			return err
		}
	case !errors.Is(err, core.ErrUnknownDataset):
		return err
	}

	ds.Status = core.DatasetNew
	if err := m.store.SaveDataset(ctx, ds); err != nil {
		return err
	}
	if err := m.index.SyncDataset(ctx, ds); err != nil {
		return err
	}
	m.logger.Info("dataset added", "ds_id", ds.ID, "name", ds.Name)
	return m.requestJob(ctx, ds)
}

// requestJob posts a new-job message in queue mode and marks the dataset
// QUEUED.
func (m *Manager) requestJob(ctx context.Context, ds *core.Dataset) error {
	if m.queue != nil {
		msg := queue.AnnotateMessage{
			DatasetID:   ds.ID,
			DatasetName: ds.Name,
			InputPath:   ds.InputPath,
			UserEmail:   submitterEmail(ds.Metadata),
		}
		if err := m.queue.Publish(ctx, queue.AnnotateQueue, msg); err != nil {
			return err
		}
		m.logger.Info("new job message posted", "ds_id", ds.ID)
	}
	return m.SetStatus(ctx, ds, core.DatasetQueued)
}

// Update saves changed metadata or config and triggers the matching
// follow-up: a reindex when results are unaffected, a job for newly added
// molecular databases, or a full re-add when parameters changed.
func (m *Manager) Update(ctx context.Context, ds *core.Dataset) error {
	old, err := m.store.GetDataset(ctx, ds.ID)
	if err != nil {
		return err
	}
	if _, err := ParseConfig(ds.Config); err != nil {
		return err
	}
	diff, err := CompareConfigs(old.Config, ds.Config)
	if err != nil {
		return err
	}
	m.logger.Info("dataset config compared", "ds_id", ds.ID, "diff", diff)

	switch diff {
	case DiffNewMolDB:
		return m.requestJob(ctx, ds)
	case DiffInstrParams:
		return m.Add(ctx, ds)
	default:
		return m.Reindex(ctx, ds)
	}
}

// Reindex exports the latest finished results of every configured
// molecular database again without recomputation.
func (m *Manager) Reindex(ctx context.Context, ds *core.Dataset) error {
	cfg, err := ParseConfig(ds.Config)
	if err != nil {
		return err
	}
	if err := m.SetStatus(ctx, ds, core.DatasetIndexing); err != nil {
		return err
	}
	// documents of databases dropped from the config must not survive
	if err := m.index.DeleteAnnotations(ctx, ds.ID, ""); err != nil {
		return m.fail(ctx, ds, err)
	}

	jobs, err := m.store.JobsForDataset(ctx, ds.ID)
	if err != nil {
		return m.fail(ctx, ds, err)
	}
	for _, ref := range cfg.Databases {
		db, err := m.store.FindMolDB(ctx, ref.Name, ref.Version)
		if err != nil {
			return m.fail(ctx, ds, err)
		}
		job, ok := latestFinished(jobs, db.ID)
		if !ok {
			m.logger.Warn("no finished job to reindex", "ds_id", ds.ID, "mol_db", db.String())
			continue
		}
		if err := m.exporter.Export(ctx, ds, job.ID, db); err != nil {
			return m.fail(ctx, ds, &core.ExportFailedError{JobID: job.ID, DatasetID: ds.ID, MolDB: db.String(), Cause: err})
		}
	}
	return m.SetStatus(ctx, ds, core.DatasetFinished)
}

func (m *Manager) fail(ctx context.Context, ds *core.Dataset, cause error) error {
	if err := m.SetStatus(ctx, ds, core.DatasetFailed); err != nil {
		m.logger.Error("failed to mark dataset failed", "ds_id", ds.ID, "error", err)
	}
	return cause
}

func latestFinished(jobs []core.Job, molDBID int) (core.Job, bool) {
	var (
		best  core.Job
		found bool
	)
	for _, j := range jobs {
		if j.MolDBID == molDBID && j.Status == core.JobFinished && (!found || j.ID > best.ID) {
			best, found = j, true
		}
	}
	return best, found
}

// Delete removes the dataset with its results and index documents.
// delRawData also removes the input data directory.
func (m *Manager) Delete(ctx context.Context, ds *core.Dataset, delRawData bool) error {
	if err := m.store.DeleteDataset(ctx, ds.ID); err != nil {
		return err
	}
	if err := m.index.DeleteDataset(ctx, ds.ID); err != nil {
		return err
	}
	if delRawData && ds.InputPath != "" {
		m.logger.Warn("deleting raw data", "ds_id", ds.ID, "input_path", ds.InputPath)
		if err := os.RemoveAll(ds.InputPath); err != nil {
			return fmt.Errorf("failed to delete raw data: %w", err)
		}
	}
	if m.queue != nil {
		if err := m.queue.Publish(ctx, queue.StatusQueue, queue.StatusMessage{DatasetID: ds.ID, Status: core.DatasetDeleted}); err != nil {
			return err
		}
	}
	m.logger.Info("dataset deleted", "ds_id", ds.ID)
	return nil
}
