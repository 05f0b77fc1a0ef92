// Package index is the annotation search index. It keeps one JSON document
// per accepted annotation and one status document per dataset in a pebble
// key/value store.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
)

// Key prefixes simulate logical buckets in pebble's flat key space.
var (
	prefixAnnotation = []byte("ann:") // ann:dsID\x00dbName\x00docID -> Document
	prefixDataset    = []byte("ds:")  // ds:dsID -> DatasetDoc
)

const sep = 0x00

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Document is one accepted annotation of a dataset.
type Document struct {
	DBName       string  `json:"db_name"`
	DatasetID    string  `json:"ds_id"`
	DatasetName  string  `json:"ds_name"`
	SF           string  `json:"sf"`
	CompNames    string  `json:"comp_names"`
	CompIDs      string  `json:"comp_ids"`
	Chaos        float64 `json:"chaos"`
	ImageCorr    float64 `json:"image_corr"`
	PatternMatch float64 `json:"pattern_match"`
	MSM          float64 `json:"msm"`
	Adduct       string  `json:"adduct"`
	JobID        int64   `json:"job_id"`
	SFID         int     `json:"sf_id"`
	Peaks        int     `json:"peaks"`
	DBID         int     `json:"db_id"`
	FDR          float64 `json:"fdr"`
	MZ           string  `json:"mz"`
}

// ID returns the document id {ds_id}_{sf}_{adduct}.
func (d Document) ID() string {
	return d.DatasetID + "_" + d.SF + "_" + d.Adduct
}

// DatasetDoc mirrors the state of a dataset.
type DatasetDoc struct {
	ID       string             `json:"ds_id"`
	Name     string             `json:"ds_name"`
	Status   core.DatasetStatus `json:"status"`
	UploadDT string             `json:"upload_dt,omitempty"`
	Metadata json.RawMessage    `json:"metadata,omitempty"`
	Updated  string             `json:"updated"`
}

// Index is a pebble backed search index.
type Index struct {
	db     *pebble.DB
	logger *slog.Logger
}

// Open opens or creates the index at path.
func Open(path string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open search index %q: %w", path, err)
	}
	return &Index{db: db, logger: logger}, nil
}

// Close closes the index.
func (ix *Index) Close() error {
	if ix.db != nil {
		return ix.db.Close()
	}
	return nil
}

func annotationPrefix(dsID, dbName string) []byte {
	k := append([]byte{}, prefixAnnotation...)
	k = append(k, dsID...)
	k = append(k, sep)
	if dbName != "" {
		k = append(k, dbName...)
		k = append(k, sep)
	}
	return k
}

func datasetKey(dsID string) []byte {
	return append(append([]byte{}, prefixDataset...), dsID...)
}

// prefixEnd returns the smallest key greater than every key with prefix p.
func prefixEnd(p []byte) []byte {
	end := append([]byte{}, p...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// IndexAnnotations replaces the documents of a dataset and molecular
// database with docs in one atomic batch.
func (ix *Index) IndexAnnotations(ctx context.Context, dsID, dbName string, docs []Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dbName == "" {
		return fmt.Errorf("indexing %s: empty molecular database name", dsID)
	}
	prefix := annotationPrefix(dsID, dbName)

	batch := ix.db.NewBatch()
	defer batch.Close()
	if err := batch.DeleteRange(prefix, prefixEnd(prefix), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete documents of %s/%s: %w", dsID, dbName, err)
	}
	for _, d := range docs {
		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to encode document %s: %w", d.ID(), err)
		}
		key := append(append([]byte{}, prefix...), d.ID()...)
		if err := batch.Set(key, data, pebble.Sync); err != nil {
			return fmt.Errorf("failed to index document %s: %w", d.ID(), err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit documents of %s/%s: %w", dsID, dbName, err)
	}
	ix.logger.Info("indexed annotations", "ds_id", dsID, "mol_db", dbName, "docs", len(docs))
	return nil
}

// DeleteAnnotations removes the documents of a dataset. An empty dbName
// removes the documents of every molecular database.
func (ix *Index) DeleteAnnotations(ctx context.Context, dsID, dbName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix := annotationPrefix(dsID, dbName)
	if err := ix.db.DeleteRange(prefix, prefixEnd(prefix), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete documents of %s: %w", dsID, err)
	}
	return nil
}

// Annotations returns the documents of a dataset ordered by descending MSM.
// An empty dbName returns the documents of every molecular database.
func (ix *Index) Annotations(ctx context.Context, dsID, dbName string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := annotationPrefix(dsID, dbName)
	iter, err := ix.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var out []Document
	for iter.First(); iter.Valid(); iter.Next() {
		var d Document
		if err := json.Unmarshal(iter.Value(), &d); err != nil {
			return nil, fmt.Errorf("corrupt document %q: %w", iter.Key(), err)
		}
		out = append(out, d)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].MSM != out[j].MSM {
			return out[i].MSM > out[j].MSM
		}
		return out[i].ID() < out[j].ID()
	})
	return out, nil
}

// Count returns the number of documents of a dataset.
func (ix *Index) Count(ctx context.Context, dsID string) (int, error) {
	docs, err := ix.Annotations(ctx, dsID, "")
	return len(docs), err
}

// SyncDataset writes the status document of a dataset.
func (ix *Index) SyncDataset(ctx context.Context, ds *core.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := DatasetDoc{
		ID:       ds.ID,
		Name:     ds.Name,
		Status:   ds.Status,
		Metadata: ds.Metadata,
		Updated:  time.Now().UTC().Format(core.TimeFormat),
	}
	if !ds.UploadDT.IsZero() {
		doc.UploadDT = ds.UploadDT.UTC().Format(core.TimeFormat)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode dataset document %s: %w", ds.ID, err)
	}
	if err := ix.db.Set(datasetKey(ds.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to index dataset %s: %w", ds.ID, err)
	}
	return nil
}

// Dataset returns the status document of a dataset.
func (ix *Index) Dataset(ctx context.Context, dsID string) (*DatasetDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, closer, err := ix.db.Get(datasetKey(dsID))
	if err == pebble.ErrNotFound {
		return nil, fmt.Errorf("dataset %s: %w", dsID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var doc DatasetDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("corrupt dataset document %s: %w", dsID, err)
	}
	return &doc, nil
}

// DeleteDataset removes the status document and every annotation document
// of a dataset.
func (ix *Index) DeleteDataset(ctx context.Context, dsID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix := annotationPrefix(dsID, "")
	batch := ix.db.NewBatch()
	defer batch.Close()
	if err := batch.DeleteRange(prefix, prefixEnd(prefix), pebble.Sync); err != nil {
		return err
	}
	if err := batch.Delete(datasetKey(dsID), pebble.Sync); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete dataset %s from index: %w", dsID, err)
	}
	return nil
}
