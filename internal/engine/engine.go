package engine

import (
	"context"
	"errors"

	"sdqueue/internal/jobs"
)

var (
	// ErrNoModelLoaded means the registry has no diffusion model selected.
	ErrNoModelLoaded = errors.New("no model loaded")
	// ErrNoUpscalerLoaded means an upscale job arrived without an upscaler.
	ErrNoUpscalerLoaded = errors.New("no upscaler loaded")
)

// ProgressFunc receives step counters during a dispatch.
type ProgressFunc func(step, total int)

// PreviewFunc receives an encoded preview frame during a dispatch.
type PreviewFunc func(step, frame int, data []byte, width, height int, intermediate bool)

// Callbacks are bound to a single dispatch. Either field may be nil.
type Callbacks struct {
	Progress ProgressFunc
	Preview  PreviewFunc
}

func (c Callbacks) progress(step, total int) {
	if c.Progress != nil {
		c.Progress(step, total)
	}
}

// Engine performs the actual compute for a job.
type Engine interface {
	GenerateImage(ctx context.Context, jobID string, params jobs.GenerateParams, outputDir string, cb Callbacks) ([]string, error)
	GenerateImageFromImage(ctx context.Context, jobID string, params jobs.GenerateParams, outputDir string, cb Callbacks) ([]string, error)
	GenerateVideo(ctx context.Context, jobID string, params jobs.GenerateParams, outputDir string, cb Callbacks) ([]string, error)
	Upscale(ctx context.Context, jobID string, params jobs.UpscaleParams, outputDir string, cb Callbacks) ([]string, error)
	Convert(ctx context.Context, jobID string, params jobs.ConvertParams, cb Callbacks) ([]string, error)
}

// Unavailable fails every request. Daemons without a configured backend
// still admit and administer jobs; they fail at dispatch.
type Unavailable struct{}

func (Unavailable) GenerateImage(context.Context, string, jobs.GenerateParams, string, Callbacks) ([]string, error) {
	return nil, ErrNoModelLoaded
}

func (Unavailable) GenerateImageFromImage(context.Context, string, jobs.GenerateParams, string, Callbacks) ([]string, error) {
	return nil, ErrNoModelLoaded
}

func (Unavailable) GenerateVideo(context.Context, string, jobs.GenerateParams, string, Callbacks) ([]string, error) {
	return nil, ErrNoModelLoaded
}

func (Unavailable) Upscale(context.Context, string, jobs.UpscaleParams, string, Callbacks) ([]string, error) {
	return nil, ErrNoUpscalerLoaded
}

func (Unavailable) Convert(context.Context, string, jobs.ConvertParams, Callbacks) ([]string, error) {
	return nil, errors.New("model conversion backend not configured")
}
