package imager

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
	"github.com/ChrisMcGann/SMEngine/pkg/peaks"
	"github.com/ChrisMcGann/SMEngine/pkg/pixel"
	"github.com/ChrisMcGann/SMEngine/pkg/reader"
)

// DefaultNoiseFloor is the absolute windowed intensity a peak must exceed
// to be kept.
const DefaultNoiseFloor = 1e-3

// Config controls reconstruction.
type Config struct {
	Workers         int
	PartitionSize   int     // spectra per work item
	NoiseFloor      float64 // absolute intensity
	MaxSkipFraction float64 // of records read
}

// DefaultConfig returns the default reconstruction settings.
func DefaultConfig() Config {
	return Config{
		Workers:         runtime.NumCPU(),
		PartitionSize:   512,
		NoiseFloor:      DefaultNoiseFloor,
		MaxSkipFraction: 0.01,
	}
}

// Context holds the tables every worker reads. It is built once per job and
// never modified.
type Context struct {
	pixels     *pixel.Index
	windows    *peaks.Table
	noiseFloor float64
}

// NewContext freezes the pixel index, window table and noise floor.
func NewContext(pixels *pixel.Index, windows *peaks.Table, noiseFloor float64) *Context {
	return &Context{pixels: pixels, windows: windows, noiseFloor: noiseFloor}
}

func (c *Context) Pixels() *pixel.Index  { return c.pixels }
func (c *Context) Windows() *peaks.Table { return c.windows }
func (c *Context) NoiseFloor() float64   { return c.noiseFloor }

// Stats summarizes a reconstruction run.
type Stats struct {
	Records  int // spectrum records read
	Skipped  int // malformed records
	Unmapped int // spectra whose pixel id is not in the pixel index
	Retained int // (window, pixel) intensities above the noise floor
	Ions     int // ions with at least one retained intensity
}

// Reconstructor turns spectra into ion image sets.
type Reconstructor struct {
	cfg    Config
	logger *slog.Logger
}

// NewReconstructor creates a reconstructor.
func NewReconstructor(cfg Config, logger *slog.Logger) *Reconstructor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.PartitionSize <= 0 {
		cfg.PartitionSize = 512
	}
	return &Reconstructor{cfg: cfg, logger: logger}
}

// partial maps a peak to pixel intensities.
type partial map[core.PeakKey]map[int]float64

type result struct {
	images   partial
	retained int
	unmapped int
}

// Reconstruct reads every record of src and returns the image sets of all
// ions with at least one retained intensity. Each set is padded with zero
// images to the ion's theoretical pattern length.
func (r *Reconstructor) Reconstruct(ctx context.Context, src reader.Source, rc *Context) (map[core.IonKey]*ImageSet, Stats, error) {
	var stats Stats

	parts := make(chan []*core.Spectrum, r.cfg.Workers)
	results := make([]result, r.cfg.Workers)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer close(parts)
		batch := make([]*core.Spectrum, 0, r.cfg.PartitionSize)
		for src.Next() {
			rec := src.Record()
			stats.Records++
			if rec.Skipped() {
				stats.Skipped++
				r.logger.Debug("skipping spectrum record", "line", rec.Line, "reason", rec.Skip)
				continue
			}
			batch = append(batch, rec.Spectrum)
			if len(batch) == r.cfg.PartitionSize {
				select {
				case parts <- batch:
				case <-egCtx.Done():
					return egCtx.Err()
				}
				batch = make([]*core.Spectrum, 0, r.cfg.PartitionSize)
			}
		}
		if err := src.Err(); err != nil {
			return fmt.Errorf("reading spectra: %w", err)
		}
		if len(batch) > 0 {
			select {
			case parts <- batch:
			case <-egCtx.Done():
				return egCtx.Err()
			}
		}
		return nil
	})

	for w := 0; w < r.cfg.Workers; w++ {
		eg.Go(func() error {
			res := result{images: partial{}}
			for batch := range parts {
				if err := egCtx.Err(); err != nil {
					return err
				}
				for _, sp := range batch {
					if !accumulate(rc, sp, &res) {
						res.unmapped++
					}
				}
			}
			results[w] = res
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, stats, err
	}

	merged := partial{}
	for _, res := range results {
		stats.Retained += res.retained
		stats.Unmapped += res.unmapped
		for key, pixels := range res.images {
			dst := merged[key]
			if dst == nil {
				merged[key] = pixels
				continue
			}
			for i, v := range pixels {
				dst[i] += v
			}
		}
	}

	rejected := stats.Skipped + stats.Unmapped
	if stats.Records > 0 && float64(rejected)/float64(stats.Records) > r.cfg.MaxSkipFraction {
		return nil, stats, &core.IngestionError{Skipped: rejected, Total: stats.Records, Ceiling: r.cfg.MaxSkipFraction}
	}
	if rejected > 0 {
		r.logger.Warn("spectra skipped", "skipped", stats.Skipped, "unmapped", stats.Unmapped, "records", stats.Records)
	}

	sets := assemble(rc, merged)
	stats.Ions = len(sets)
	r.logger.Info("reconstructed ion images", "records", stats.Records, "retained", stats.Retained, "ions", stats.Ions)
	return sets, stats, nil
}

// accumulate adds the windowed sums of one spectrum to res. It returns false
// when the spectrum's pixel is not part of the pixel index.
func accumulate(rc *Context, sp *core.Spectrum, res *result) bool {
	idx, ok := rc.pixels.Lookup(sp.PixelID)
	if !ok {
		return false
	}
	t := rc.windows
	for i := range t.Keys {
		v := sp.WindowSum(t.Lower[i], t.Upper[i])
		if v <= rc.noiseFloor {
			continue
		}
		pixels := res.images[t.Keys[i]]
		if pixels == nil {
			pixels = map[int]float64{}
			res.images[t.Keys[i]] = pixels
		}
		pixels[idx] += v
		res.retained++
	}
	return true
}

// assemble groups peak images by ion and pads every set to the pattern
// length with zero images.
func assemble(rc *Context, merged partial) map[core.IonKey]*ImageSet {
	rows, cols := rc.pixels.Dims()
	sets := map[core.IonKey]*ImageSet{}
	for key, pixels := range merged {
		set := sets[key.Ion]
		if set == nil {
			n := rc.windows.PeakCount(key.Ion)
			set = &ImageSet{Ion: key.Ion, Images: make([]*SparseImage, n)}
			sets[key.Ion] = set
		}
		set.Images[key.Rank] = NewSparseImage(rows, cols, pixels)
	}
	for _, set := range sets {
		for r, img := range set.Images {
			if img == nil {
				set.Images[r] = &SparseImage{Rows: rows, Cols: cols}
			}
		}
	}
	return sets
}
