// Package reader defines the per-record result type shared by the spectrum
// readers and the source interface the image reconstructor consumes.
package reader

import "github.com/ChrisMcGann/SMEngine/pkg/core"

// Record is the outcome of reading one spectrum line. Exactly one of
// Spectrum and Skip is set: a malformed line yields a Skip reason instead of
// aborting the stream.
type Record struct {
	Spectrum *core.Spectrum
	Skip     string
	Line     int
}

// Skipped reports whether the record was rejected.
func (r Record) Skipped() bool {
	return r.Spectrum == nil
}

// Source is a stream of spectrum records.
type Source interface {
	Next() bool
	Record() Record
	Err() error
}

// SliceSource serves records from memory.
type SliceSource struct {
	records []Record
	pos     int
}

// FromSpectra wraps already parsed spectra as a Source.
func FromSpectra(spectra []*core.Spectrum) *SliceSource {
	records := make([]Record, len(spectra))
	for i, sp := range spectra {
		records[i] = Record{Spectrum: sp, Line: i + 1}
	}
	return &SliceSource{records: records}
}

// FromRecords wraps arbitrary records, including skipped ones, as a Source.
func FromRecords(records []Record) *SliceSource {
	return &SliceSource{records: records}
}

func (s *SliceSource) Next() bool {
	if s.pos >= len(s.records) {
		return false
	}
	s.pos++
	return true
}

func (s *SliceSource) Record() Record {
	if s.pos == 0 {
		return Record{}
	}
	return s.records[s.pos-1]
}

func (s *SliceSource) Err() error {
	return nil
}
