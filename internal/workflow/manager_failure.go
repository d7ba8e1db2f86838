package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"sdqueue/internal/download"
	"sdqueue/internal/engine"
	"sdqueue/internal/jobs"
	"sdqueue/internal/logging"
)

// settle writes the outcome back to the store and resolves linked jobs.
func (m *Manager) settle(ctx context.Context, logger *slog.Logger, job jobs.Job, res result, execErr error, elapsed time.Duration) {
	var (
		final jobs.Job
		ok    bool
	)
	if execErr == nil {
		final, ok = m.store.Complete(ctx, job.ID, res.outputs)
		if ok {
			logger.Info("job completed",
				logging.String(logging.FieldEventType, "job_complete"),
				logging.Int("outputs", len(res.outputs)),
				logging.Duration("job_duration", elapsed),
			)
		}
	} else {
		message := failureMessage(execErr)
		final, ok = m.store.Fail(ctx, job.ID, message)
		if ok {
			logging.ErrorWithContext(logger, "job failed", "job_failure",
				logging.Error(execErr),
				logging.String("error_message", message),
				logging.Duration("job_duration", elapsed),
				logging.String(logging.FieldErrorHint, failureHint(execErr)),
			)
		}
	}
	if !ok {
		logging.ErrorWithContext(logger, "job outcome not recorded", "job_outcome_lost",
			logging.String(logging.FieldImpact, "job left in its previous state"),
			logging.String(logging.FieldErrorHint, "job was no longer processing; check for concurrent store access"),
		)
		m.recordOutcome(job, execErr)
		return
	}
	m.recordOutcome(final, execErr)
	m.resolveLinked(ctx, job, res, execErr)
}

func failureMessage(err error) string {
	if err == nil {
		return ""
	}
	message := strings.TrimSpace(err.Error())
	if message == "" {
		return "job failed without error detail"
	}
	return message
}

func failureHint(err error) string {
	switch {
	case errors.Is(err, engine.ErrNoModelLoaded):
		return "set model.path in the config to an existing model file"
	case errors.Is(err, engine.ErrNoUpscalerLoaded):
		return "set model.upscaler in the config"
	case errors.Is(err, download.ErrUnsupportedScheme):
		return "use an http, https or s3 URL"
	case errors.Is(err, errNoDownloadSource):
		return "daemon started without download sources"
	case errors.Is(err, jobs.ErrInvalidParams):
		return "resubmit with corrected parameters"
	case errors.Is(err, context.DeadlineExceeded):
		return "raise download.timeout_seconds or check the source"
	default:
		return "check the job error message and engine logs"
	}
}
