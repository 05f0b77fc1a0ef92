// Package dataset manages the dataset lifecycle: configs, storage, status
// transitions, reindexing and job requests.
package dataset

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
	"github.com/ChrisMcGann/SMEngine/pkg/filter"
	"github.com/ChrisMcGann/SMEngine/pkg/isocalc"
	"github.com/ChrisMcGann/SMEngine/pkg/measures"
	"github.com/ChrisMcGann/SMEngine/pkg/moldb"
)

//go:embed config.schema.json
var configSchema []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("config.schema.json", bytes.NewReader(configSchema)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("config.schema.json")
	})
	return schema, schemaErr
}

// Config is the per-dataset annotation config.
type Config struct {
	Databases    []moldb.Ref      `json:"databases"`
	Isotopes     IsotopeConfig    `json:"isotope_generation"`
	Images       ImageConfig      `json:"image_generation"`
	Thresholds   *ThresholdConfig `json:"image_measure_thresholds,omitempty"`
	Filters      []string         `json:"filters,omitempty"`
	MoleculesNum int              `json:"molecules_num,omitempty"`
	MaxFDR       float64          `json:"max_fdr,omitempty"`
}

// IsotopeConfig controls theoretical pattern generation.
type IsotopeConfig struct {
	Adducts         []string `json:"adducts"`
	Charge          Charge   `json:"charge"`
	IsocalcSigma    float64  `json:"isocalc_sigma"`
	IsocalcPtsPerMZ int      `json:"isocalc_pts_per_mz,omitempty"`
	MaxPeaks        int      `json:"max_peaks,omitempty"`
}

// Charge is the ion charge state.
type Charge struct {
	Polarity string `json:"polarity"`
	NCharges int    `json:"n_charges"`
}

// ImageConfig controls image reconstruction and the chaos measure.
type ImageConfig struct {
	PPM     float64 `json:"ppm"`
	NLevels int     `json:"nlevels,omitempty"`
	Q       float64 `json:"q,omitempty"`
}

// ThresholdConfig holds optional lower bounds on the image measures.
type ThresholdConfig struct {
	Chaos        *float64 `json:"measure_of_chaos,omitempty"`
	ImageCorr    *float64 `json:"image_corr,omitempty"`
	PatternMatch *float64 `json:"pattern_match,omitempty"`
}

// ParseConfig validates data against the config schema and decodes it.
func ParseConfig(data []byte) (*Config, error) {
	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, &core.ValidationError{Field: "Config", Message: err.Error()}
	}
	if err := s.Validate(v); err != nil {
		return nil, &core.ValidationError{Field: "Config", Message: err.Error()}
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &core.ValidationError{Field: "Config", Message: err.Error()}
	}
	return &cfg, nil
}

// IsocalcParams returns the isotope generation parameters. The charge is
// the polarity sign times the number of charges.
func (c *Config) IsocalcParams() isocalc.Params {
	p := isocalc.DefaultParams()
	p.Sigma = c.Isotopes.IsocalcSigma
	p.Charge = c.Isotopes.Charge.NCharges
	if c.Isotopes.Charge.Polarity == "-" {
		p.Charge = -p.Charge
	}
	if c.Isotopes.IsocalcPtsPerMZ > 0 {
		p.PtsPerMZ = c.Isotopes.IsocalcPtsPerMZ
	}
	if c.Isotopes.MaxPeaks > 0 {
		p.MaxPeaks = c.Isotopes.MaxPeaks
	}
	return p
}

// FilterConfig returns the acceptance filter.
func (c *Config) FilterConfig() filter.Config {
	f := filter.DefaultConfig()
	if t := c.Thresholds; t != nil {
		if t.Chaos != nil {
			f.MinChaos = *t.Chaos
		}
		if t.ImageCorr != nil {
			f.MinSpatial = *t.ImageCorr
		}
		if t.PatternMatch != nil {
			f.MinSpectral = *t.PatternMatch
		}
	}
	if c.MaxFDR > 0 {
		f.MaxFDR = c.MaxFDR
	}
	f.TopN = c.MoleculesNum
	return f
}

// Measures returns a factory of the default measures with the image
// generation settings.
func (c *Config) Measures() func(mask []bool) measures.Measures {
	return func(mask []bool) measures.Measures {
		m := measures.NewDefault(mask)
		if c.Images.NLevels > 0 {
			m.NLevels = c.Images.NLevels
		}
		if c.Images.Q > 0 {
			m.Q = c.Images.Q
		}
		return m
	}
}

// ConfigDiff classifies a config change.
type ConfigDiff int

const (
	// DiffEqual: nothing affecting results changed.
	DiffEqual ConfigDiff = iota
	// DiffNewMolDB: only molecular databases were added.
	DiffNewMolDB
	// DiffInstrParams: instrument or processing parameters changed.
	DiffInstrParams
)

func (d ConfigDiff) String() string {
	switch d {
	case DiffEqual:
		return "EQUAL"
	case DiffNewMolDB:
		return "NEW_MOL_DB"
	case DiffInstrParams:
		return "INSTR_PARAMS_DIFF"
	}
	return fmt.Sprintf("ConfigDiff(%d)", int(d))
}

// CompareConfigs compares two config documents. Anything outside
// "databases" that differs is an instrument parameter change. Removing
// databases alone counts as equal.
func CompareConfigs(old, new []byte) (ConfigDiff, error) {
	var o, n map[string]interface{}
	if err := json.Unmarshal(old, &o); err != nil {
		return DiffEqual, fmt.Errorf("decoding old config: %w", err)
	}
	if err := json.Unmarshal(new, &n); err != nil {
		return DiffEqual, fmt.Errorf("decoding new config: %w", err)
	}
	if reflect.DeepEqual(o, n) {
		return DiffEqual, nil
	}

	oldDBs, newDBs := o["databases"], n["databases"]
	delete(o, "databases")
	delete(n, "databases")
	if !reflect.DeepEqual(o, n) {
		return DiffInstrParams, nil
	}

	seen := map[moldb.Ref]bool{}
	for _, r := range refs(oldDBs) {
		seen[r] = true
	}
	for _, r := range refs(newDBs) {
		if !seen[r] {
			return DiffNewMolDB, nil
		}
	}
	return DiffEqual, nil
}

func refs(v interface{}) []moldb.Ref {
	list, _ := v.([]interface{})
	out := make([]moldb.Ref, 0, len(list))
	for _, item := range list {
		m, _ := item.(map[string]interface{})
		name, _ := m["name"].(string)
		version, _ := m["version"].(string)
		out = append(out, moldb.Ref{Name: name, Version: version})
	}
	return out
}
