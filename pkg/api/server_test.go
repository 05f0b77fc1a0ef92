package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
	"github.com/ChrisMcGann/SMEngine/pkg/dataset"
	"github.com/ChrisMcGann/SMEngine/pkg/export"
	"github.com/ChrisMcGann/SMEngine/pkg/fdr"
	"github.com/ChrisMcGann/SMEngine/pkg/imager"
	"github.com/ChrisMcGann/SMEngine/pkg/index"
	"github.com/ChrisMcGann/SMEngine/pkg/moldb"
	"github.com/ChrisMcGann/SMEngine/pkg/queue"
	"github.com/ChrisMcGann/SMEngine/pkg/search"
	"github.com/ChrisMcGann/SMEngine/pkg/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testConfig = `{
	"databases": [{"name": "HMDB", "version": "2016"}],
	"isotope_generation": {
		"adducts": ["+H"],
		"charge": {"polarity": "+", "n_charges": 1},
		"isocalc_sigma": 0.01
	},
	"image_generation": {"ppm": 3.0}
}`

type recordingRunner struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingRunner) Run(ctx context.Context, dsID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, dsID)
	return nil
}

// overlapRunner records how many runs of the same dataset overlap.
type overlapRunner struct {
	mu        sync.Mutex
	runs      int
	active    int
	maxActive int
}

func (r *overlapRunner) Run(ctx context.Context, dsID string) error {
	r.mu.Lock()
	r.runs++
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	r.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	r.mu.Lock()
	r.active--
	r.mu.Unlock()
	return nil
}

type env struct {
	store  *store.Store
	index  *index.Index
	pub    *queue.MemoryPublisher
	server *Server
}

func newEnv(t *testing.T, runner Runner) *env {
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
	db := &moldb.MolecularDB{Name: "HMDB", Version: "2016", Formulas: []moldb.Formula{{ID: 1, SF: "C6H12O6"}}}
	if err := st.SaveMolDB(ctx, db); err != nil {
		t.Fatal(err)
	}

	e := &env{store: st, index: ix}
	var pub queue.Publisher
	if runner == nil {
		e.pub = queue.NewMemoryPublisher()
		pub = e.pub
	}
	mgr := dataset.NewManager(st, ix, export.NewIndexExporter(st, ix, nil), pub, nil)
	e.server = NewServer(st, ix, mgr, runner, nil)
	return e
}

func (e *env) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func addBody(id string) map[string]interface{} {
	return map[string]interface{}{
		"id":         id,
		"input_path": "/data/ds1",
		"upload_dt":  "2016-01-01 10:00:00",
		"metadata":   json.RawMessage(`{"metaspace_options":{"Dataset_Name":"brain"}}`),
		"config":     json.RawMessage(testConfig),
	}
}

func TestAddDataset(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)

	w := e.do(t, http.MethodPost, "/v1/datasets/add", addBody("ds1"))
	if w.Code != http.StatusOK {
		t.Fatalf("add status = %d, body %s", w.Code, w.Body)
	}
	ds, err := e.store.GetDataset(ctx, "ds1")
	if err != nil {
		t.Fatal(err)
	}
	if ds.Name != "brain" || ds.Status != core.DatasetQueued || ds.UploadDT.Hour() != 10 {
		t.Errorf("stored dataset = %+v", ds)
	}
	if msgs := e.pub.Messages(queue.AnnotateQueue); len(msgs) != 1 {
		t.Errorf("annotate messages = %d, want 1", len(msgs))
	}

	w = e.do(t, http.MethodGet, "/v1/datasets/ds1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var got struct {
		Dataset     core.Dataset `json:"dataset"`
		Annotations int          `json:"annotations"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil || got.Dataset.ID != "ds1" || got.Annotations != 0 {
		t.Errorf("get body = %s, %v", w.Body, err)
	}
}

func TestAddDatasetGeneratesID(t *testing.T) {
	e := newEnv(t, nil)
	body := addBody("")
	delete(body, "upload_dt")
	w := e.do(t, http.MethodPost, "/v1/datasets/add", body)
	if w.Code != http.StatusOK {
		t.Fatalf("add status = %d, body %s", w.Code, w.Body)
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp["ds_id"] == "" {
		t.Errorf("add body = %s", w.Body)
	}
}

func TestAddDatasetInvalid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(map[string]interface{})
	}{
		{"missing config", func(b map[string]interface{}) { delete(b, "config") }},
		{"missing input path", func(b map[string]interface{}) { delete(b, "input_path") }},
		{"bad config", func(b map[string]interface{}) { b["config"] = json.RawMessage(`{"databases": []}`) }},
		{"bad upload time", func(b map[string]interface{}) { b["upload_dt"] = "yesterday" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, nil)
			body := addBody("ds1")
			tt.modify(body)
			if w := e.do(t, http.MethodPost, "/v1/datasets/add", body); w.Code != http.StatusBadRequest {
				t.Errorf("add status = %d, want 400 (body %s)", w.Code, w.Body)
			}
		})
	}
}

func TestAddDatasetRunsLocally(t *testing.T) {
	runner := &recordingRunner{}
	e := newEnv(t, runner)
	if w := e.do(t, http.MethodPost, "/v1/datasets/add", addBody("ds1")); w.Code != http.StatusOK {
		t.Fatalf("add status = %d, body %s", w.Code, w.Body)
	}
	e.server.Wait()
	if len(runner.ids) != 1 || runner.ids[0] != "ds1" {
		t.Errorf("runner ran %v, want [ds1]", runner.ids)
	}
}

func TestUpdateAndDeleteDataset(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	if w := e.do(t, http.MethodPost, "/v1/datasets/add", addBody("ds1")); w.Code != http.StatusOK {
		t.Fatalf("add status = %d", w.Code)
	}

	w := e.do(t, http.MethodPost, "/v1/datasets/ds1/update", map[string]string{"name": "renamed"})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", w.Code, w.Body)
	}
	ds, _ := e.store.GetDataset(ctx, "ds1")
	if ds.Name != "renamed" || ds.Status != core.DatasetFinished {
		t.Errorf("updated dataset = %+v, want renamed and FINISHED after reindex", ds)
	}

	if w := e.do(t, http.MethodPost, "/v1/datasets/missing/update", map[string]string{"name": "x"}); w.Code != http.StatusNotFound {
		t.Errorf("update unknown status = %d, want 404", w.Code)
	}

	if w := e.do(t, http.MethodPost, "/v1/datasets/ds1/delete", nil); w.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body %s", w.Code, w.Body)
	}
	if w := e.do(t, http.MethodGet, "/v1/datasets/ds1", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
	statuses, _ := e.pub.Statuses()
	if last := statuses[len(statuses)-1]; last.Status != core.DatasetDeleted {
		t.Errorf("last status message = %+v, want DELETED", last)
	}
}

func TestAnnotationsAndExport(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	if w := e.do(t, http.MethodPost, "/v1/datasets/add", addBody("ds1")); w.Code != http.StatusOK {
		t.Fatalf("add status = %d", w.Code)
	}
	docs := []index.Document{
		{DatasetID: "ds1", DBName: "HMDB", SF: "C6H12O6", Adduct: "+H", MSM: 0.9, FDR: 0.05},
		{DatasetID: "ds1", DBName: "HMDB", SF: "C5H10O5", Adduct: "+H", MSM: 0.5, FDR: 0.5},
	}
	if err := e.index.IndexAnnotations(ctx, "ds1", "HMDB", docs); err != nil {
		t.Fatal(err)
	}

	w := e.do(t, http.MethodGet, "/v1/datasets/ds1/annotations?max_fdr=0.1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("annotations status = %d", w.Code)
	}
	var got []index.Document
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil || len(got) != 1 || got[0].SF != "C6H12O6" {
		t.Errorf("annotations body = %s, %v", w.Body, err)
	}
	if w := e.do(t, http.MethodGet, "/v1/datasets/ds1/annotations?max_fdr=abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("annotations bad max_fdr status = %d, want 400", w.Code)
	}

	w = e.do(t, http.MethodGet, "/v1/datasets/ds1/export", nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != xlsxContentType {
		t.Fatalf("export status = %d, content type %q", w.Code, w.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("PK")) {
		t.Error("export body is not a zip archive")
	}
}

func TestListEndpoints(t *testing.T) {
	e := newEnv(t, nil)
	w := e.do(t, http.MethodGet, "/v1/datasets", nil)
	if w.Code != http.StatusOK || w.Body.String() != "[]" {
		t.Errorf("list datasets = %d %s", w.Code, w.Body)
	}
	w = e.do(t, http.MethodGet, "/v1/molecular_dbs", nil)
	var dbs []map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &dbs); err != nil || len(dbs) != 1 || dbs[0]["name"] != "HMDB" {
		t.Errorf("list molecular dbs = %s, %v", w.Body, err)
	}
}

func TestLocalRunsOfOneDatasetDoNotOverlap(t *testing.T) {
	runner := &overlapRunner{}
	e := newEnv(t, runner)
	for i := 0; i < 3; i++ {
		if w := e.do(t, http.MethodPost, "/v1/datasets/add", addBody("ds1")); w.Code != http.StatusOK {
			t.Fatalf("add status = %d, body %s", w.Code, w.Body)
		}
	}
	e.server.Wait()
	if runner.runs != 3 || runner.maxActive != 1 {
		t.Errorf("runs = %d, max overlapping = %d, want 3 and 1", runner.runs, runner.maxActive)
	}
}

func TestJobEndpoints(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	if w := e.do(t, http.MethodPost, "/v1/datasets/add", addBody("ds1")); w.Code != http.StatusOK {
		t.Fatalf("add status = %d", w.Code)
	}
	db, err := e.store.FindMolDB(ctx, "HMDB", "2016")
	if err != nil {
		t.Fatal(err)
	}
	job, err := e.store.InsertJob(ctx, "ds1", db.ID)
	if err != nil {
		t.Fatal(err)
	}
	pairs := []fdr.DecoyPair{{FormulaID: 1, TargetAdduct: "+H", DecoyAdduct: "+Cu"}}
	if err := e.store.SaveDecoys(ctx, job.ID, db.ID, pairs); err != nil {
		t.Fatal(err)
	}
	ion := core.IonKey{FormulaID: 1, Adduct: "+H"}
	res := &search.Result{
		Annotations: []search.Annotation{{Ion: ion, Formula: "C6H12O6", PeakCount: 2, MZ: 181.07}},
		Images: map[core.IonKey]*imager.ImageSet{ion: {Ion: ion, Images: []*imager.SparseImage{
			imager.NewSparseImage(2, 2, map[int]float64{0: 10, 3: 5}),
			imager.NewSparseImage(2, 2, map[int]float64{0: 2}),
		}}},
	}
	if err := e.store.SaveResults(ctx, job.ID, db.ID, res); err != nil {
		t.Fatal(err)
	}
	if err := e.store.FinishJob(ctx, job.ID, core.JobFinished); err != nil {
		t.Fatal(err)
	}
	jobPath := "/v1/jobs/" + strconv.FormatInt(job.ID, 10)

	tests := []struct {
		name   string
		path   string
		status int
		check  func(t *testing.T, body []byte)
	}{
		{"jobs", "/v1/datasets/ds1/jobs", http.StatusOK, func(t *testing.T, body []byte) {
			var got []map[string]interface{}
			if err := json.Unmarshal(body, &got); err != nil || len(got) != 1 || got[0]["status"] != "FINISHED" || got[0]["finish"] == nil {
				t.Errorf("jobs body = %s, %v", body, err)
			}
		}},
		{"jobs of unknown dataset", "/v1/datasets/missing/jobs", http.StatusNotFound, nil},
		{"decoys", jobPath + "/decoys", http.StatusOK, func(t *testing.T, body []byte) {
			var got []map[string]interface{}
			if err := json.Unmarshal(body, &got); err != nil || len(got) != 1 || got[0]["decoy_adduct"] != "+Cu" || got[0]["sf_id"] != 1.0 {
				t.Errorf("decoys body = %s, %v", body, err)
			}
		}},
		{"decoys of unknown job", "/v1/jobs/999/decoys", http.StatusNotFound, nil},
		{"decoys of bad job id", "/v1/jobs/abc/decoys", http.StatusBadRequest, nil},
		{"images", jobPath + "/images?sf_id=1&adduct=%2BH", http.StatusOK, func(t *testing.T, body []byte) {
			var got []struct {
				Peak        int       `json:"peak"`
				Rows        int       `json:"rows"`
				PixelInds   []int     `json:"pixel_inds"`
				Intensities []float64 `json:"intensities"`
			}
			if err := json.Unmarshal(body, &got); err != nil || len(got) != 2 {
				t.Fatalf("images body = %s, %v", body, err)
			}
			if got[0].Peak != 0 || got[0].Rows != 2 || len(got[0].PixelInds) != 2 || got[0].PixelInds[1] != 3 || got[0].Intensities[1] != 5 {
				t.Errorf("first image = %+v", got[0])
			}
			if got[1].Peak != 1 || len(got[1].Intensities) != 1 || got[1].Intensities[0] != 2 {
				t.Errorf("second image = %+v", got[1])
			}
		}},
		{"images of other ion", jobPath + "/images?sf_id=2&adduct=%2BH", http.StatusOK, func(t *testing.T, body []byte) {
			if string(body) != "[]" {
				t.Errorf("images body = %s, want []", body)
			}
		}},
		{"images without sf_id", jobPath + "/images?adduct=%2BH", http.StatusBadRequest, nil},
		{"images without adduct", jobPath + "/images?sf_id=1", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodGet, tt.path, nil)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.status, w.Body)
			}
			if tt.check != nil {
				tt.check(t, w.Body.Bytes())
			}
		})
	}
}
