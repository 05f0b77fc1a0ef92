package core

import (
	"encoding/json"
	"time"
)

// TimeFormat is the timestamp layout stored in the relational store.
const TimeFormat = "2006-01-02 15:04:05"

// DatasetStatus is the externally observable lifecycle state of a dataset.
// Store these exact strings.
type DatasetStatus string

const (
	DatasetNew      DatasetStatus = "NEW"
	DatasetQueued   DatasetStatus = "QUEUED"
	DatasetStarted  DatasetStatus = "STARTED"
	DatasetFinished DatasetStatus = "FINISHED"
	DatasetFailed   DatasetStatus = "FAILED"
	DatasetIndexing DatasetStatus = "INDEXING" // re-export without recomputation
	DatasetDeleted  DatasetStatus = "DELETED"
)

// JobStatus is the state of one annotation job.
type JobStatus string

const (
	JobStarted  JobStatus = "STARTED"
	JobFinished JobStatus = "FINISHED"
	JobFailed   JobStatus = "FAILED" // terminal; a re-run creates a new job
)

// Dataset is an imaging MS dataset. Config holds the dataset config JSON.
type Dataset struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	InputPath string          `json:"input_path"`
	UploadDT  time.Time       `json:"upload_dt"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Config    json.RawMessage `json:"config"`
	Status    DatasetStatus   `json:"status"`
}

// Job is one annotation run of a dataset against a molecular database.
type Job struct {
	ID        int64
	DatasetID string
	MolDBID   int
	Status    JobStatus
	Start     time.Time
	Finish    time.Time
}
