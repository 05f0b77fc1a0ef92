// Package export publishes stored annotations to the search index and
// renders them as XLSX workbooks.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
	"github.com/ChrisMcGann/SMEngine/pkg/index"
	"github.com/ChrisMcGann/SMEngine/pkg/moldb"
	"github.com/ChrisMcGann/SMEngine/pkg/store"
)

// Exporter exports the results of one job to the search index.
type Exporter interface {
	Export(ctx context.Context, ds *core.Dataset, jobID int64, db *moldb.MolecularDB) error
}

// RowSource loads stored annotations.
type RowSource interface {
	AnnotationRows(ctx context.Context, jobID int64) ([]store.AnnotationRow, error)
}

// DocumentIndex replaces the documents of a dataset and molecular database.
type DocumentIndex interface {
	IndexAnnotations(ctx context.Context, dsID, dbName string, docs []index.Document) error
}

// IndexExporter exports stored annotations to the search index, deleting
// the previous documents of the dataset and database first.
type IndexExporter struct {
	rows   RowSource
	index  DocumentIndex
	logger *slog.Logger
}

// NewIndexExporter creates an exporter.
func NewIndexExporter(rows RowSource, ix DocumentIndex, logger *slog.Logger) *IndexExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexExporter{rows: rows, index: ix, logger: logger}
}

func (e *IndexExporter) Export(ctx context.Context, ds *core.Dataset, jobID int64, db *moldb.MolecularDB) error {
	rows, err := e.rows.AnnotationRows(ctx, jobID)
	if err != nil {
		return fmt.Errorf("loading annotations: %w", err)
	}
	docs := make([]index.Document, len(rows))
	for i, r := range rows {
		docs[i] = Document(ds, r)
	}
	if err := e.index.IndexAnnotations(ctx, ds.ID, db.Name, docs); err != nil {
		return err
	}
	e.logger.Info("exported annotations", "ds_id", ds.ID, "job_id", jobID, "mol_db", db.String(), "docs", len(docs))
	return nil
}

// Document converts a stored annotation to its index document. Compound
// names and ids are joined with '|'; the m/z is zero padded to ten
// characters with four decimals.
func Document(ds *core.Dataset, r store.AnnotationRow) index.Document {
	names := make([]string, len(r.Names))
	for i, n := range r.Names {
		names[i] = strings.ReplaceAll(n, `"`, "")
	}
	return index.Document{
		DBName:       r.MolDBName,
		DatasetID:    ds.ID,
		DatasetName:  ds.Name,
		SF:           r.SF,
		CompNames:    strings.Join(names, "|"),
		CompIDs:      strings.Join(r.IDs, "|"),
		Chaos:        r.Metrics.Chaos,
		ImageCorr:    r.Metrics.SpatialCorr,
		PatternMatch: r.Metrics.SpectralMatch,
		MSM:          r.Metrics.MSM,
		Adduct:       r.Adduct,
		JobID:        r.JobID,
		SFID:         r.FormulaID,
		Peaks:        r.PeakCount,
		DBID:         r.MolDBID,
		FDR:          r.FDR,
		MZ:           fmt.Sprintf("%010.4f", r.MZ),
	}
}
