package core

import (
	"errors"
	"fmt"
)

// ErrUnknownDataset is returned when a dataset id has no stored row.
var ErrUnknownDataset = errors.New("unknown dataset")

// GeometryError reports that the pixel mapping cannot be constructed.
type GeometryError struct {
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("invalid geometry: %s", e.Reason)
}

// IngestionError reports that too many spectrum records were malformed.
type IngestionError struct {
	Skipped int
	Total   int
	Ceiling float64
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion failed: %d of %d spectra skipped (ceiling %.2f%%)",
		e.Skipped, e.Total, e.Ceiling*100)
}

// ChemistryError reports an invalid formula or formula/adduct combination.
type ChemistryError struct {
	Formula string
	Adduct  string
	Reason  string
}

func (e *ChemistryError) Error() string {
	return fmt.Sprintf("invalid ion %s%s: %s", e.Formula, e.Adduct, e.Reason)
}

// ScoringError reports a failed measure computation for one candidate.
type ScoringError struct {
	Ion   IonKey
	Cause error
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("scoring %s: %v", e.Ion, e.Cause)
}

func (e *ScoringError) Unwrap() error {
	return e.Cause
}

// EmptyCandidatePoolError is returned when no (formula, adduct) pairs remain
// after database filtering.
type EmptyCandidatePoolError struct {
	MolDB string
}

func (e *EmptyCandidatePoolError) Error() string {
	return fmt.Sprintf("empty candidate pool for molecular database %q", e.MolDB)
}

// JobFailedError reports a failure of the annotation itself
// (reconstruction, scoring or result storage).
type JobFailedError struct {
	JobID     int64
	DatasetID string
	MolDB     string
	Cause     error
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job failed (ds_id=%s, mol_db=%s, job_id=%d): %v", e.DatasetID, e.MolDB, e.JobID, e.Cause)
}

func (e *JobFailedError) Unwrap() error {
	return e.Cause
}

// ExportFailedError reports a failure to export scored results to the search
// index after the annotation itself succeeded.
type ExportFailedError struct {
	JobID     int64
	DatasetID string
	MolDB     string
	Cause     error
}

func (e *ExportFailedError) Error() string {
	return fmt.Sprintf("export to search index failed (ds_id=%s, mol_db=%s, job_id=%d): %v", e.DatasetID, e.MolDB, e.JobID, e.Cause)
}

func (e *ExportFailedError) Unwrap() error {
	return e.Cause
}
