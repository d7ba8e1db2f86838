package ipc

import (
	"encoding/json"
	"time"

	"sdqueue/internal/events"
	"sdqueue/internal/jobs"
)

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon and worker status.
type StatusResponse struct {
	Running    bool               `json:"running"`
	PID        int                `json:"pid"`
	CurrentJob string             `json:"current_job,omitempty"`
	LastError  string             `json:"last_error,omitempty"`
	LastJob    *jobs.Job          `json:"last_job,omitempty"`
	Processed  uint64             `json:"processed"`
	Failed     uint64             `json:"failed"`
	Queued     int                `json:"queued"`
	Counts     map[string]int     `json:"counts"`
	Model      jobs.ModelSnapshot `json:"model"`
	StatePath  string             `json:"state_path"`
	LockPath   string             `json:"lock_path"`
	Preflight  []PreflightResult  `json:"preflight,omitempty"`
}

// PreflightResult mirrors a startup check.
type PreflightResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// SubmitRequest queues a job of Kind with raw params.
type SubmitRequest struct {
	Kind   string          `json:"kind"`
	Params json.RawMessage `json:"params"`
}

// SubmitResponse carries the new job id.
type SubmitResponse struct {
	ID string `json:"id"`
}

// SubmitDownloadRequest queues a download and its hash job.
type SubmitDownloadRequest struct {
	Params jobs.DownloadParams `json:"params"`
}

// SubmitDownloadResponse carries both linked job ids.
type SubmitDownloadResponse struct {
	DownloadID string `json:"download_id"`
	HashID     string `json:"hash_id"`
}

// JobRequest addresses a single job.
type JobRequest struct {
	ID string `json:"id"`
}

// JobResponse returns a live job view.
type JobResponse struct {
	Found bool     `json:"found"`
	Job   jobs.Job `json:"job"`
}

// ActionResponse reports whether a single-job transition applied.
type ActionResponse struct {
	Applied bool `json:"applied"`
}

// BulkRequest triggers a bulk recycle bin operation.
type BulkRequest struct{}

// BulkResponse reports how many jobs a bulk operation touched.
type BulkResponse struct {
	Count int `json:"count"`
}

// EventsRequest long-polls the daemon's event hub.
type EventsRequest struct {
	Since      uint64 `json:"since"`
	Limit      int    `json:"limit"`
	WaitMillis int    `json:"wait_ms"`
}

// EventsResponse returns events after Since and the cursor for the next
// call.
type EventsResponse struct {
	Events []events.Event `json:"events"`
	Next   uint64         `json:"next"`
}

// PreviewResponse returns the latest preview frame of a running job.
type PreviewResponse struct {
	Found        bool      `json:"found"`
	Step         int       `json:"step"`
	Frame        int       `json:"frame"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	Intermediate bool      `json:"intermediate"`
	Data         []byte    `json:"data,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}
