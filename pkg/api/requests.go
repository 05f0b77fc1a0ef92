package api

import (
	"encoding/json"
	"time"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
	"github.com/ChrisMcGann/SMEngine/pkg/dataset"
)

type addRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	InputPath string          `json:"input_path" binding:"required"`
	UploadDT  string          `json:"upload_dt"`
	Metadata  json.RawMessage `json:"metadata"`
	Config    json.RawMessage `json:"config" binding:"required"`
}

// dataset builds the dataset to add. A missing id is generated and a missing
// upload time defaults to now.
func (r addRequest) dataset(now time.Time) (*core.Dataset, error) {
	ds := &core.Dataset{
		ID:        r.ID,
		InputPath: r.InputPath,
		Metadata:  r.Metadata,
		Config:    r.Config,
		UploadDT:  now.UTC().Truncate(time.Second),
	}
	if ds.ID == "" {
		ds.ID = dataset.NewID()
	}
	ds.Name = dataset.ChooseName(ds.ID, r.Name, r.Metadata)
	if r.UploadDT != "" {
		t, err := parseTime(r.UploadDT)
		if err != nil {
			return nil, &core.ValidationError{Field: "upload_dt", Message: err.Error()}
		}
		ds.UploadDT = t
	}
	return ds, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t.UTC(), nil
	}
	return time.ParseInLocation(core.TimeFormat, s, time.UTC)
}

type updateRequest struct {
	Name     string          `json:"name"`
	Metadata json.RawMessage `json:"metadata"`
	Config   json.RawMessage `json:"config"`
}

func (r updateRequest) apply(ds *core.Dataset) {
	if r.Name != "" {
		ds.Name = r.Name
	}
	if len(r.Metadata) > 0 {
		ds.Metadata = r.Metadata
	}
	if len(r.Config) > 0 {
		ds.Config = r.Config
	}
}

type deleteRequest struct {
	DelRaw bool `json:"del_raw"`
}
