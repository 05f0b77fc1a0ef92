package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
	"github.com/ChrisMcGann/SMEngine/pkg/index"
	"github.com/ChrisMcGann/SMEngine/pkg/moldb"
	"github.com/ChrisMcGann/SMEngine/pkg/queue"
	"github.com/ChrisMcGann/SMEngine/pkg/store"
)

const baseConfig = `{
	"databases": [{"name": "HMDB", "version": "2016"}],
	"isotope_generation": {
		"adducts": ["+H", "+Na", "+K"],
		"charge": {"polarity": "+", "n_charges": 1},
		"isocalc_sigma": 0.01
	},
	"image_generation": {"ppm": 3.0, "nlevels": 30, "q": 99}
}`

func withConfig(t *testing.T, modify func(m map[string]interface{})) []byte {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(baseConfig), &m); err != nil {
		t.Fatal(err)
	}
	modify(m)
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestCompareConfigs(t *testing.T) {
	addDB := func(m map[string]interface{}) {
		m["databases"] = append(m["databases"].([]interface{}), map[string]interface{}{"name": "ChEBI"})
	}
	tests := []struct {
		name string
		new  []byte
		want ConfigDiff
	}{
		{"identical", []byte(baseConfig), DiffEqual},
		{"reformatted", withConfig(t, func(m map[string]interface{}) {}), DiffEqual},
		{"new molecular database", withConfig(t, addDB), DiffNewMolDB},
		{"removed molecular database", withConfig(t, func(m map[string]interface{}) { m["databases"] = []interface{}{} }), DiffEqual},
		{"ppm changed", withConfig(t, func(m map[string]interface{}) {
			m["image_generation"].(map[string]interface{})["ppm"] = 2.0
		}), DiffInstrParams},
		{"database added with ppm changed", withConfig(t, func(m map[string]interface{}) {
			addDB(m)
			m["image_generation"].(map[string]interface{})["ppm"] = 2.0
		}), DiffInstrParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CompareConfigs([]byte(baseConfig), tt.new)
			if err != nil {
				t.Fatalf("CompareConfigs() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("CompareConfigs() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := CompareConfigs([]byte(baseConfig), []byte("{")); err == nil {
		t.Error("CompareConfigs() expected error for malformed config")
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(baseConfig))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if len(cfg.Isotopes.Adducts) != 3 || cfg.Images.PPM != 3 || cfg.Databases[0] != (moldb.Ref{Name: "HMDB", Version: "2016"}) {
		t.Errorf("ParseConfig() = %+v", cfg)
	}

	invalid := []struct {
		name   string
		modify func(m map[string]interface{})
	}{
		{"no databases", func(m map[string]interface{}) { m["databases"] = []interface{}{} }},
		{"bad polarity", func(m map[string]interface{}) {
			m["isotope_generation"].(map[string]interface{})["charge"] = map[string]interface{}{"polarity": "x", "n_charges": 1}
		}},
		{"adduct without sign", func(m map[string]interface{}) {
			m["isotope_generation"].(map[string]interface{})["adducts"] = []interface{}{"H"}
		}},
		{"zero ppm", func(m map[string]interface{}) {
			m["image_generation"].(map[string]interface{})["ppm"] = 0
		}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(withConfig(t, tt.modify))
			var vErr *core.ValidationError
			if !errors.As(err, &vErr) {
				t.Errorf("ParseConfig() error = %v, want *core.ValidationError", err)
			}
		})
	}
}

func TestConfigDerivedSettings(t *testing.T) {
	data := withConfig(t, func(m map[string]interface{}) {
		m["isotope_generation"].(map[string]interface{})["charge"] = map[string]interface{}{"polarity": "-", "n_charges": 2}
		m["image_measure_thresholds"] = map[string]interface{}{"image_corr": 0.3}
		m["molecules_num"] = 10
	})
	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatal(err)
	}
	if p := cfg.IsocalcParams(); p.Charge != -2 || p.Sigma != 0.01 {
		t.Errorf("IsocalcParams() = %+v", p)
	}
	f := cfg.FilterConfig()
	if f.MinSpatial != 0.3 || f.TopN != 10 || f.MaxFDR != 0.5 {
		t.Errorf("FilterConfig() = %+v", f)
	}
}

func TestChooseNameAndSubmitter(t *testing.T) {
	meta := json.RawMessage(`{"metaspace_options":{"Dataset_Name":"brain"},"Submitted_By":{"Submitter":{"Email":"Jane@Lab.org"}}}`)
	optOut := json.RawMessage(`{"metaspace_options":{"notify_submitter":false},"Submitted_By":{"Submitter":{"Email":"a@b.org"}}}`)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"explicit name", ChooseName("ds1", "given", meta), "given"},
		{"name from metadata", ChooseName("ds1", "", meta), "brain"},
		{"name falls back to id", ChooseName("ds1", "", nil), "ds1"},
		{"email lowercased", submitterEmail(meta), "jane@lab.org"},
		{"opted out", submitterEmail(optOut), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

type fakeExporter struct {
	calls int
}

func (f *fakeExporter) Export(ctx context.Context, ds *core.Dataset, jobID int64, db *moldb.MolecularDB) error {
	f.calls++
	return nil
}

type env struct {
	store *store.Store
	index *index.Index
	pub   *queue.MemoryPublisher
	exp   *fakeExporter
	mgr   *Manager
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	st, err := store.Open(ctx, store.DriverSQLite, filepath.Join(dir, "sm.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	ix, err := index.Open(filepath.Join(dir, "index"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ix.Close() })
	if err := st.SaveMolDB(ctx, &moldb.MolecularDB{Name: "HMDB", Version: "2016", Formulas: []moldb.Formula{{ID: 1, SF: "C6H12O6"}}}); err != nil {
		t.Fatal(err)
	}

	e := &env{store: st, index: ix, pub: queue.NewMemoryPublisher(), exp: &fakeExporter{}}
	e.mgr = NewManager(st, ix, e.exp, e.pub, nil)
	return e
}

func newDataset() *core.Dataset {
	return &core.Dataset{
		ID:        "ds1",
		Name:      "brain",
		InputPath: "/data/brain",
		UploadDT:  time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC),
		Metadata:  json.RawMessage(`{"Submitted_By":{"Submitter":{"Email":"a@b.org"}}}`),
		Config:    json.RawMessage(baseConfig),
	}
}

func statuses(t *testing.T, pub *queue.MemoryPublisher) []core.DatasetStatus {
	t.Helper()
	msgs, err := pub.Statuses()
	if err != nil {
		t.Fatal(err)
	}
	var out []core.DatasetStatus
	for _, m := range msgs {
		out = append(out, m.Status)
	}
	return out
}

func equalStatuses(a, b []core.DatasetStatus) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestManagerAdd(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	if err := e.mgr.Add(ctx, newDataset()); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	got, err := e.store.GetDataset(ctx, "ds1")
	if err != nil || got.Status != core.DatasetQueued {
		t.Fatalf("GetDataset() = %+v, %v", got, err)
	}
	doc, err := e.index.Dataset(ctx, "ds1")
	if err != nil || doc.Status != core.DatasetQueued {
		t.Errorf("index Dataset() = %+v, %v", doc, err)
	}

	msgs := e.pub.Messages(queue.AnnotateQueue)
	if len(msgs) != 1 {
		t.Fatalf("annotate messages = %d, want 1", len(msgs))
	}
	var msg queue.AnnotateMessage
	if err := json.Unmarshal(msgs[0], &msg); err != nil {
		t.Fatal(err)
	}
	if msg.DatasetID != "ds1" || msg.InputPath != "/data/brain" || msg.UserEmail != "a@b.org" {
		t.Errorf("annotate message = %+v", msg)
	}

	// adding again deletes the stored dataset first
	if err := e.mgr.Add(ctx, newDataset()); err != nil {
		t.Fatalf("Add() again error = %v", err)
	}
	want := []core.DatasetStatus{core.DatasetQueued, core.DatasetDeleted, core.DatasetQueued}
	if got := statuses(t, e.pub); !equalStatuses(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
}

func TestManagerAddInvalid(t *testing.T) {
	e := newEnv(t)
	ds := newDataset()
	ds.InputPath = ""
	var vErr *core.ValidationError
	if err := e.mgr.Add(context.Background(), ds); !errors.As(err, &vErr) {
		t.Errorf("Add() error = %v, want *core.ValidationError", err)
	}
}

func TestManagerUpdateNewMolDB(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	if err := e.mgr.Add(ctx, newDataset()); err != nil {
		t.Fatal(err)
	}
	job, err := e.store.InsertJob(ctx, "ds1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.store.FinishJob(ctx, job.ID, core.JobFinished); err != nil {
		t.Fatal(err)
	}

	ds := newDataset()
	ds.Config = withConfig(t, func(m map[string]interface{}) {
		m["databases"] = append(m["databases"].([]interface{}), map[string]interface{}{"name": "ChEBI"})
	})
	if err := e.mgr.Update(ctx, ds); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	// the dataset is queued again without deleting results
	if n := len(e.pub.Messages(queue.AnnotateQueue)); n != 2 {
		t.Errorf("annotate messages = %d, want 2", n)
	}
	jobs, _ := e.store.JobsForDataset(ctx, "ds1")
	if len(jobs) != 1 {
		t.Errorf("jobs after update = %d, want 1", len(jobs))
	}
	got, _ := e.store.GetDataset(ctx, "ds1")
	if got.Status != core.DatasetQueued {
		t.Errorf("status = %s, want QUEUED", got.Status)
	}
	if diff, _ := CompareConfigs(got.Config, ds.Config); diff != DiffEqual {
		t.Errorf("stored config not updated, diff %v", diff)
	}
}

func TestManagerUpdateEqualReindexes(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	if err := e.mgr.Add(ctx, newDataset()); err != nil {
		t.Fatal(err)
	}
	job, _ := e.store.InsertJob(ctx, "ds1", 1)
	if err := e.store.FinishJob(ctx, job.ID, core.JobFinished); err != nil {
		t.Fatal(err)
	}

	ds := newDataset()
	ds.Metadata = json.RawMessage(`{"metaspace_options":{"Dataset_Name":"renamed"}}`)
	if err := e.mgr.Update(ctx, ds); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if e.exp.calls != 1 {
		t.Errorf("exports = %d, want 1", e.exp.calls)
	}
	want := []core.DatasetStatus{core.DatasetQueued, core.DatasetIndexing, core.DatasetFinished}
	if got := statuses(t, e.pub); !equalStatuses(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
}

func TestManagerDelete(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	ds := newDataset()
	ds.InputPath = filepath.Join(t.TempDir(), "raw")
	if err := e.mgr.Add(ctx, ds); err != nil {
		t.Fatal(err)
	}
	if err := e.mgr.Delete(ctx, ds, true); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := e.store.GetDataset(ctx, "ds1"); !errors.Is(err, core.ErrUnknownDataset) {
		t.Errorf("GetDataset() error = %v, want ErrUnknownDataset", err)
	}
	if _, err := e.index.Dataset(ctx, "ds1"); !errors.Is(err, index.ErrNotFound) {
		t.Errorf("index Dataset() error = %v, want ErrNotFound", err)
	}
	got := statuses(t, e.pub)
	if got[len(got)-1] != core.DatasetDeleted {
		t.Errorf("last status = %s, want DELETED", got[len(got)-1])
	}
}

func TestManagerUpdateDroppedMolDBClearsDocuments(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	ds := newDataset()
	ds.Config = withConfig(t, func(m map[string]interface{}) {
		m["databases"] = append(m["databases"].([]interface{}), map[string]interface{}{"name": "ChEBI"})
	})
	if err := e.mgr.Add(ctx, ds); err != nil {
		t.Fatal(err)
	}
	docs := []index.Document{{DatasetID: "ds1", DBName: "ChEBI", SF: "C6H12O6", Adduct: "+H", MSM: 0.9}}
	if err := e.index.IndexAnnotations(ctx, "ds1", "ChEBI", docs); err != nil {
		t.Fatal(err)
	}

	ds = newDataset()
	if err := e.mgr.Update(ctx, ds); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	want := []core.DatasetStatus{core.DatasetQueued, core.DatasetIndexing, core.DatasetFinished}
	if got := statuses(t, e.pub); !equalStatuses(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	if got, err := e.index.Annotations(ctx, "ds1", "ChEBI"); err != nil || len(got) != 0 {
		t.Errorf("ChEBI documents after reindex = %d, %v, want 0", len(got), err)
	}
}

func TestManagerUpdateInstrParamsReadds(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	if err := e.mgr.Add(ctx, newDataset()); err != nil {
		t.Fatal(err)
	}
	job, err := e.store.InsertJob(ctx, "ds1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.store.FinishJob(ctx, job.ID, core.JobFinished); err != nil {
		t.Fatal(err)
	}

	ds := newDataset()
	ds.Config = withConfig(t, func(m map[string]interface{}) {
		m["image_generation"].(map[string]interface{})["ppm"] = 5.0
	})
	if err := e.mgr.Update(ctx, ds); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	want := []core.DatasetStatus{core.DatasetQueued, core.DatasetDeleted, core.DatasetQueued}
	if got := statuses(t, e.pub); !equalStatuses(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	if jobs, _ := e.store.JobsForDataset(ctx, "ds1"); len(jobs) != 0 {
		t.Errorf("jobs after re-add = %d, want 0", len(jobs))
	}
	got, err := e.store.GetDataset(ctx, "ds1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != core.DatasetQueued {
		t.Errorf("status = %s, want QUEUED", got.Status)
	}
	if diff, _ := CompareConfigs(got.Config, ds.Config); diff != DiffEqual {
		t.Errorf("stored config not replaced, diff %v", diff)
	}
	if n := len(e.pub.Messages(queue.AnnotateQueue)); n != 2 {
		t.Errorf("annotate messages = %d, want 2", n)
	}
}
