package workflow

import (
	"context"
	"errors"
	"time"

	"sdqueue/internal/logging"
)

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	go m.run(runCtx, m.done)
	m.logger.Info("worker started", logging.String(logging.FieldEventType, "worker_start"))
	return nil
}

// Stop stops claiming new jobs and blocks until the in-flight job, if any,
// has been written back. A warning is logged each time the shutdown timeout
// elapses while still waiting.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	done := m.done
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.awaitWorker(done)
	m.logger.Info("worker stopped", logging.String(logging.FieldEventType, "worker_stop"))
}

func (m *Manager) awaitWorker(done <-chan struct{}) {
	if m.shutdownTimeout <= 0 {
		<-done
		return
	}
	ticker := time.NewTicker(m.shutdownTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			logging.WarnWithContext(m.logger, "still waiting for running job to finish", "shutdown_waiting",
				logging.JobID(m.currentJob()),
				logging.Duration("timeout", m.shutdownTimeout),
				logging.String(logging.FieldImpact, "shutdown is delayed until the job completes"),
				logging.String(logging.FieldErrorHint, "wait for the job; it cannot be interrupted"),
			)
		}
	}
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	// Jobs run to completion even after Stop; only claiming watches ctx.
	jobCtx := context.WithoutCancel(ctx)
	for {
		for ctx.Err() == nil {
			job, ok := m.store.ClaimNext(jobCtx)
			if !ok {
				break
			}
			m.processJob(jobCtx, job)
		}
		select {
		case <-ctx.Done():
			return
		case <-m.store.Ready():
		}
	}
}
