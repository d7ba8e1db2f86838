package workflow

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"sdqueue/internal/engine"
	"sdqueue/internal/jobs"
	"sdqueue/internal/logging"
)

// result is what a dispatch hands back to the outcome write-back.
type result struct {
	outputs []string
	// size is the byte size of a downloaded file.
	size int64
}

func (m *Manager) processJob(ctx context.Context, job jobs.Job) {
	ctx = logging.WithJob(ctx, job.ID, string(job.Kind))
	ctx = logging.WithCorrelationID(ctx, uuid.NewString())
	logger := logging.WithContext(ctx, m.logger)

	m.setCurrent(job.ID)
	defer m.setCurrent("")

	start := time.Now()
	res, err := m.prepare(ctx, logger, &job)
	if err == nil {
		logger.Info("job started",
			logging.String(logging.FieldEventType, "job_start"),
			logging.Int("queued", m.store.PendingCount()),
		)
		res, err = m.execute(ctx, logger, job)
	}
	m.settle(ctx, logger, job, res, err, time.Since(start))

	m.progress.Clear(job.ID)
	if m.previews != nil {
		m.previews.Clear(job.ID)
	}
}

// prepare writes the normalized params back once and resets progress with
// the expected step hint.
func (m *Manager) prepare(ctx context.Context, logger *slog.Logger, job *jobs.Job) (result, error) {
	normalized, err := jobs.NormalizeParams(job.Kind, job.Params, m.seed)
	if err != nil {
		m.progress.Begin(job.ID, 0)
		return result{}, err
	}
	if !bytes.Equal(normalized, job.Params) {
		if !m.store.SetParams(ctx, job.ID, normalized) {
			logger.Debug("normalized params not recorded")
		}
		job.Params = normalized
	}
	m.progress.Begin(job.ID, jobs.ExpectedSteps(job.Kind, job.Params))
	return result{}, nil
}

// execute runs the job and converts a panic anywhere below it into an
// error so the job still reaches a terminal state.
func (m *Manager) execute(ctx context.Context, logger *slog.Logger, job jobs.Job) (res result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
			logger.Error("job dispatch panicked",
				logging.String(logging.FieldEventType, "job_panic"),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
		}
	}()

	switch job.Kind {
	case jobs.KindGenerateImage, jobs.KindGenerateImageFromImage, jobs.KindGenerateVideo:
		return m.generate(ctx, job)
	case jobs.KindUpscale:
		params, err := jobs.DecodeParams[jobs.UpscaleParams](job.Params)
		if err != nil {
			return result{}, err
		}
		return m.dispatch(func() ([]string, error) {
			return m.engine.Upscale(ctx, job.ID, params, m.outputDir, m.callbacks(job))
		})
	case jobs.KindConvert:
		params, err := jobs.DecodeParams[jobs.ConvertParams](job.Params)
		if err != nil {
			return result{}, err
		}
		return m.dispatch(func() ([]string, error) {
			return m.engine.Convert(ctx, job.ID, params, m.callbacks(job))
		})
	case jobs.KindModelDownload:
		return m.download(ctx, job)
	case jobs.KindModelHash:
		return m.hash(ctx, job)
	default:
		return result{}, fmt.Errorf("%w: %q", jobs.ErrUnknownKind, job.Kind)
	}
}

func (m *Manager) generate(ctx context.Context, job jobs.Job) (result, error) {
	params, err := jobs.DecodeParams[jobs.GenerateParams](job.Params)
	if err != nil {
		return result{}, err
	}
	cb := m.callbacks(job)
	return m.dispatch(func() ([]string, error) {
		switch job.Kind {
		case jobs.KindGenerateImageFromImage:
			return m.engine.GenerateImageFromImage(ctx, job.ID, params, m.outputDir, cb)
		case jobs.KindGenerateVideo:
			return m.engine.GenerateVideo(ctx, job.ID, params, m.outputDir, cb)
		default:
			return m.engine.GenerateImage(ctx, job.ID, params, m.outputDir, cb)
		}
	})
}

// dispatch holds the registry lock for the engine call only.
func (m *Manager) dispatch(call func() ([]string, error)) (result, error) {
	m.registry.Lock()
	defer m.registry.Unlock()
	outputs, err := call()
	if err != nil {
		return result{}, err
	}
	if len(outputs) == 0 {
		return result{}, fmt.Errorf("engine returned no outputs")
	}
	return result{outputs: outputs}, nil
}

// callbacks binds progress, and previews for frame-producing kinds, to this
// dispatch only.
func (m *Manager) callbacks(job jobs.Job) engine.Callbacks {
	cb := engine.Callbacks{Progress: m.progress.Reporter(job.ID)}
	if m.previewsEnabled && job.Kind.Generative() {
		cb.Preview = m.previews.Reporter(job.ID)
	}
	return cb
}
