package txt

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ChrisMcGann/SMEngine/pkg/pixel"
)

// File names of a dataset input directory.
const (
	SpectraFile     = "ds.txt"
	CoordinatesFile = "ds_coord.txt"
)

// LoadPixels reads the coordinates file of a dataset directory and builds
// its pixel index.
func LoadPixels(dir string) (*pixel.Index, error) {
	f, err := os.Open(filepath.Join(dir, CoordinatesFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open coordinates: %w", err)
	}
	defer f.Close()

	coords, err := ReadCoordinates(f)
	if err != nil {
		return nil, err
	}
	return pixel.Build(coords)
}

// OpenSpectra opens the spectra file of a dataset directory. The caller
// must close the returned closer.
func OpenSpectra(dir string) (*Reader, io.Closer, error) {
	f, err := os.Open(filepath.Join(dir, SpectraFile))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open spectra: %w", err)
	}
	return NewReader(f), f, nil
}
