// Package api exposes dataset management over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
	"github.com/ChrisMcGann/SMEngine/pkg/dataset"
	"github.com/ChrisMcGann/SMEngine/pkg/export"
	"github.com/ChrisMcGann/SMEngine/pkg/index"
	"github.com/ChrisMcGann/SMEngine/pkg/store"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Runner runs the annotation of a dataset.
type Runner interface {
	Run(ctx context.Context, dsID string) error
}

// Server serves the dataset endpoints. With a Runner set, QUEUED datasets
// are annotated in the background instead of waiting for a queue consumer.
type Server struct {
	store   *store.Store
	index   *index.Index
	manager *dataset.Manager
	runner  Runner
	logger  *slog.Logger

	wg sync.WaitGroup

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per dataset, serializes background runs
}

// NewServer creates a Server. runner may be nil.
func NewServer(st *store.Store, ix *index.Index, mgr *dataset.Manager, runner Runner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: st, index: ix, manager: mgr, runner: runner, logger: logger, locks: make(map[string]*sync.Mutex)}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())

	v1 := r.Group("/v1")
	{
		v1.GET("/datasets", s.listDatasets)
		v1.POST("/datasets/add", s.addDataset)
		v1.GET("/datasets/:ds_id", s.getDataset)
		v1.POST("/datasets/:ds_id/update", s.updateDataset)
		v1.POST("/datasets/:ds_id/delete", s.deleteDataset)
		v1.GET("/datasets/:ds_id/annotations", s.annotations)
		v1.GET("/datasets/:ds_id/export", s.exportXLSX)
		v1.GET("/datasets/:ds_id/jobs", s.listJobs)
		v1.GET("/jobs/:job_id/decoys", s.jobDecoys)
		v1.GET("/jobs/:job_id/images", s.jobImages)
		v1.GET("/molecular_dbs", s.listMolDBs)
	}
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down and waits
// for background annotations.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("api listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Wait()
	return err
}

// Wait blocks until background annotations started by the server finish.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": err.Error()})
	case errors.Is(err, core.ErrUnknownDataset), errors.Is(err, store.ErrUnknownJob):
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "error": err.Error()})
	default:
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
	}
}

func (s *Server) datasetLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// runQueued starts the annotation of ds when it waits for a job and the
// server runs jobs itself. Runs of one dataset never overlap, so a later
// run sees the jobs an earlier one finished.
func (s *Server) runQueued(ctx context.Context, ds *core.Dataset) {
	if s.runner == nil || ds.Status != core.DatasetQueued {
		return
	}
	lock := s.datasetLock(ds.ID)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		lock.Lock()
		defer lock.Unlock()
		if err := s.runner.Run(context.WithoutCancel(ctx), ds.ID); err != nil {
			s.logger.Error("annotation failed", "ds_id", ds.ID, "error", err)
		}
	}()
}

func (s *Server) listDatasets(c *gin.Context) {
	list, err := s.store.ListDatasets(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if list == nil {
		list = []core.Dataset{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getDataset(c *gin.Context) {
	ctx := c.Request.Context()
	ds, err := s.store.GetDataset(ctx, c.Param("ds_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	n, err := s.index.Count(ctx, ds.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dataset": ds, "annotations": n})
}

func (s *Server) addDataset(c *gin.Context) {
	var req addRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, &core.ValidationError{Field: "request", Message: err.Error()})
		return
	}
	ds, err := req.dataset(time.Now())
	if err != nil {
		s.writeError(c, err)
		return
	}
	if err := s.manager.Add(c.Request.Context(), ds); err != nil {
		s.writeError(c, err)
		return
	}
	s.runQueued(c.Request.Context(), ds)
	c.JSON(http.StatusOK, gin.H{"status": "success", "ds_id": ds.ID})
}

func (s *Server) updateDataset(c *gin.Context) {
	ctx := c.Request.Context()
	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, &core.ValidationError{Field: "request", Message: err.Error()})
		return
	}
	ds, err := s.store.GetDataset(ctx, c.Param("ds_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	req.apply(ds)
	if err := s.manager.Update(ctx, ds); err != nil {
		s.writeError(c, err)
		return
	}
	s.runQueued(ctx, ds)
	c.JSON(http.StatusOK, gin.H{"status": "success", "ds_id": ds.ID})
}

func (s *Server) deleteDataset(c *gin.Context) {
	ctx := c.Request.Context()
	var req deleteRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			s.writeError(c, &core.ValidationError{Field: "request", Message: err.Error()})
			return
		}
	}
	ds, err := s.store.GetDataset(ctx, c.Param("ds_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if err := s.manager.Delete(ctx, ds, req.DelRaw); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "ds_id": ds.ID})
}

func (s *Server) annotations(c *gin.Context) {
	ctx := c.Request.Context()
	dsID := c.Param("ds_id")
	if _, err := s.store.GetDataset(ctx, dsID); err != nil {
		s.writeError(c, err)
		return
	}
	maxFDR := 1.0
	if v := c.Query("max_fdr"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.writeError(c, &core.ValidationError{Field: "max_fdr", Message: err.Error()})
			return
		}
		maxFDR = f
	}

	docs, err := s.index.Annotations(ctx, dsID, c.Query("db"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	out := make([]index.Document, 0, len(docs))
	for _, d := range docs {
		if d.FDR <= maxFDR {
			out = append(out, d)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) exportXLSX(c *gin.Context) {
	ctx := c.Request.Context()
	ds, err := s.store.GetDataset(ctx, c.Param("ds_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	rows, err := s.store.LatestAnnotationRows(ctx, ds.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	data, err := export.AnnotationsXLSX(ds, rows)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+ds.ID+`.xlsx"`)
	c.Data(http.StatusOK, xlsxContentType, data)
}

func (s *Server) listMolDBs(c *gin.Context) {
	dbs, err := s.store.ListMolDBs(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	out := make([]gin.H, 0, len(dbs))
	for _, db := range dbs {
		out = append(out, gin.H{"id": db.ID, "name": db.Name, "version": db.Version})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) listJobs(c *gin.Context) {
	ctx := c.Request.Context()
	ds, err := s.store.GetDataset(ctx, c.Param("ds_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	jobs, err := s.store.JobsForDataset(ctx, ds.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	out := make([]gin.H, 0, len(jobs))
	for _, j := range jobs {
		h := gin.H{"id": j.ID, "ds_id": j.DatasetID, "db_id": j.MolDBID, "status": j.Status, "start": j.Start}
		if !j.Finish.IsZero() {
			h["finish"] = j.Finish
		}
		out = append(out, h)
	}
	c.JSON(http.StatusOK, out)
}

// job resolves the :job_id parameter to a stored job.
func (s *Server) job(c *gin.Context) (*core.Job, bool) {
	id, err := strconv.ParseInt(c.Param("job_id"), 10, 64)
	if err != nil {
		s.writeError(c, &core.ValidationError{Field: "job_id", Message: err.Error()})
		return nil, false
	}
	job, err := s.store.GetJob(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return nil, false
	}
	return job, true
}

func (s *Server) jobDecoys(c *gin.Context) {
	job, ok := s.job(c)
	if !ok {
		return
	}
	pairs, err := s.store.Decoys(c.Request.Context(), job.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	out := make([]gin.H, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, gin.H{"sf_id": p.FormulaID, "target_adduct": p.TargetAdduct, "decoy_adduct": p.DecoyAdduct})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) jobImages(c *gin.Context) {
	job, ok := s.job(c)
	if !ok {
		return
	}
	sfID, err := strconv.Atoi(c.Query("sf_id"))
	if err != nil {
		s.writeError(c, &core.ValidationError{Field: "sf_id", Message: err.Error()})
		return
	}
	adduct := c.Query("adduct")
	if adduct == "" {
		s.writeError(c, &core.ValidationError{Field: "adduct", Message: "missing"})
		return
	}
	imgs, err := s.store.Images(c.Request.Context(), job.ID, core.IonKey{FormulaID: sfID, Adduct: adduct})
	if err != nil {
		s.writeError(c, err)
		return
	}
	out := make([]gin.H, 0, len(imgs))
	for peak, img := range imgs {
		inds := make([]int, len(img.Entries))
		vals := make([]float64, len(img.Entries))
		for i, e := range img.Entries {
			inds[i], vals[i] = e.Index, e.Value
		}
		out = append(out, gin.H{"peak": peak, "rows": img.Rows, "cols": img.Cols, "pixel_inds": inds, "intensities": vals})
	}
	c.JSON(http.StatusOK, out)
}
