// Package txt provides streaming readers for the plain-text dataset exchange
// format: one spectrum per line ("id|mz mz ...|int int ...") and a separate
// coordinates file ("id,x,y").
package txt

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
	"github.com/ChrisMcGann/SMEngine/pkg/pixel"
	"github.com/ChrisMcGann/SMEngine/pkg/reader"
)

const maxLineSize = 64 * 1024 * 1024

// Reader provides streaming access to a spectra text file
type Reader struct {
	scanner *bufio.Scanner
	lineNum int
	current reader.Record
	err     error
}

// NewReader creates a new spectra reader
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{scanner: scanner}
}

// Next advances to the next non-empty line. Returns false at end of input or
// on an I/O error. Malformed lines do not stop the reader; they surface as
// skipped records.
func (r *Reader) Next() bool {
	r.current = reader.Record{}

	for r.scanner.Scan() {
		r.lineNum++
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}

		sp, err := parseSpectrum(line)
		if err != nil {
			r.current = reader.Record{Skip: err.Error(), Line: r.lineNum}
		} else {
			r.current = reader.Record{Spectrum: sp, Line: r.lineNum}
		}
		return true
	}

	if err := r.scanner.Err(); err != nil {
		r.err = fmt.Errorf("line %d: %w", r.lineNum, err)
	}
	return false
}

// Record returns the current record
func (r *Reader) Record() reader.Record {
	return r.current
}

// Err returns any I/O error encountered during reading
func (r *Reader) Err() error {
	return r.err
}

// parseSpectrum parses "id|mz1 mz2 ...|int1 int2 ..." with per-peak
// (non-cumulative) intensities.
func parseSpectrum(line string) (*core.Spectrum, error) {
	parts := strings.Split(line, "|")
	if len(parts) != 3 {
		return nil, fmt.Errorf("expected 3 '|' separated fields, got %d", len(parts))
	}

	id, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("invalid pixel id: %w", err)
	}
	mzs, err := parseFloats(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid m/z array: %w", err)
	}
	ints, err := parseFloats(parts[2])
	if err != nil {
		return nil, fmt.Errorf("invalid intensity array: %w", err)
	}

	return core.NewSpectrum(id, mzs, ints)
}

func parseFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ReadCoordinates reads a whole "id,x,y" coordinates file. Unlike spectra,
// coordinates are not skippable: a bad line fails the read.
func ReadCoordinates(r io.Reader) ([]pixel.Coordinate, error) {
	scanner := bufio.NewScanner(r)
	var coords []pixel.Coordinate

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Split(line, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("line %d: expected 'id,x,y', got %q", lineNum, line)
		}
		id, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid pixel id: %w", lineNum, err)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid x: %w", lineNum, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid y: %w", lineNum, err)
		}
		coords = append(coords, pixel.Coordinate{PixelID: id, X: x, Y: y})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading coordinates: %w", err)
	}
	return coords, nil
}
