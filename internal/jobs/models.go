package jobs

import (
	"encoding/json"
	"slices"
	"strings"
	"time"
)

// Kind identifies the work a job performs.
type Kind string

const (
	KindGenerateImage          Kind = "generate_image"
	KindGenerateImageFromImage Kind = "generate_image_from_image"
	KindGenerateVideo          Kind = "generate_video"
	KindUpscale                Kind = "upscale"
	KindConvert                Kind = "convert"
	KindModelDownload          Kind = "model_download"
	KindModelHash              Kind = "model_hash"
)

var allKinds = []Kind{
	KindGenerateImage,
	KindGenerateImageFromImage,
	KindGenerateVideo,
	KindUpscale,
	KindConvert,
	KindModelDownload,
	KindModelHash,
}

// AllKinds returns every known kind in declaration order.
func AllKinds() []Kind {
	return slices.Clone(allKinds)
}

// ParseKind converts a user supplied string into a Kind.
func ParseKind(value string) (Kind, bool) {
	kind := Kind(strings.ToLower(strings.TrimSpace(value)))
	return kind, kind.Valid()
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return slices.Contains(allKinds, k)
}

// Generative reports whether the kind runs a diffusion sampler and therefore
// reports sampling steps and preview frames.
func (k Kind) Generative() bool {
	switch k {
	case KindGenerateImage, KindGenerateImageFromImage, KindGenerateVideo:
		return true
	}
	return false
}

// Status represents the lifecycle position of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusDeleted    Status = "deleted"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
	StatusDeleted,
}

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []Status {
	return slices.Clone(allStatuses)
}

// ParseStatus converts a user supplied string into a Status.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	return status, slices.Contains(allStatuses, status)
}

// Finished reports whether the status is a terminal worker or user outcome.
func (s Status) Finished() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ModelSnapshot describes the model that was loaded when a job was created.
type ModelSnapshot struct {
	Name         string `json:"name,omitempty"`
	Architecture string `json:"architecture,omitempty"`
	Path         string `json:"path,omitempty"`
	VAE          string `json:"vae,omitempty"`
	Upscaler     string `json:"upscaler,omitempty"`
	Loaded       bool   `json:"loaded"`
}

// ProgressInfo is the live step counter of the processing job.
type ProgressInfo struct {
	Step       int    `json:"step"`
	TotalSteps int    `json:"total_steps"`
	Phase      string `json:"phase,omitempty"`
}

// Percent returns completion in the range [0, 100].
func (p ProgressInfo) Percent() float64 {
	if p.TotalSteps <= 0 {
		return 0
	}
	pct := float64(p.Step) / float64(p.TotalSteps) * 100
	return min(max(pct, 0), 100)
}

// Job is one unit of admitted work.
type Job struct {
	ID             string          `json:"id"`
	Kind           Kind            `json:"kind"`
	Status         Status          `json:"status"`
	Params         json.RawMessage `json:"params,omitempty"`
	Model          ModelSnapshot   `json:"model"`
	Outputs        []string        `json:"outputs,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      time.Time       `json:"started_at,omitzero"`
	CompletedAt    time.Time       `json:"completed_at,omitzero"`
	DeletedAt      time.Time       `json:"deleted_at,omitzero"`
	PreviousStatus Status          `json:"previous_status,omitempty"`
	LinkedJobID    string          `json:"linked_job_id,omitempty"`
	Progress       *ProgressInfo   `json:"progress,omitempty"`

	// seq orders jobs created within the same clock tick.
	seq uint64
}

// Clone returns a deep copy safe to hand outside the store lock.
func (j Job) Clone() Job {
	out := j
	out.Params = slices.Clone(j.Params)
	out.Outputs = slices.Clone(j.Outputs)
	if j.Progress != nil {
		progress := *j.Progress
		out.Progress = &progress
	}
	return out
}

// Duration returns the processing time for jobs that started and finished.
func (j Job) Duration() time.Duration {
	if j.StartedAt.IsZero() || j.CompletedAt.IsZero() {
		return 0
	}
	return j.CompletedAt.Sub(j.StartedAt)
}

// Held reports whether the job is a linked hash job still waiting for its
// download to deliver a file.
func (j Job) Held() bool {
	if j.Kind != KindModelHash || j.LinkedJobID == "" || j.Status != StatusPending {
		return false
	}
	params, err := DecodeParams[HashParams](j.Params)
	return err != nil || params.FilePath == ""
}
