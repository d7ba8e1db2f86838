package jobs

import (
	"context"
	"encoding/json"

	"sdqueue/internal/events"
)

// Ready signals that the pending queue received work. Receivers should call
// ClaimNext until it reports nothing left.
func (s *Store) Ready() <-chan struct{} {
	return s.queue.Ready()
}

// ClaimNext pops queued ids in FIFO order, skipping any that are no longer
// pending, and moves the first eligible job to processing. The status check
// and the transition happen under the store lock so a concurrent Cancel
// either wins outright or loses outright.
func (s *Store) ClaimNext(ctx context.Context) (Job, bool) {
	if s.readOnly {
		return Job{}, false
	}
	s.mu.Lock()
	if s.current != "" {
		s.mu.Unlock()
		return Job{}, false
	}
	var job *Job
	for {
		id, ok := s.queue.Pop()
		if !ok {
			s.mu.Unlock()
			return Job{}, false
		}
		candidate, ok := s.jobs[id]
		if ok && candidate.claim(s.now()) {
			job = candidate
			break
		}
	}
	s.current = job.ID
	claimed := job.Clone()
	evt := statusEvent(job, StatusPending, nil)
	snap := s.commitLocked()
	s.mu.Unlock()

	s.finish(ctx, snap, []events.Event{evt})
	return claimed, true
}

// SetParams replaces the params of the processing job with their normalized
// form before dispatch.
func (s *Store) SetParams(ctx context.Context, id string, params json.RawMessage) bool {
	if s.readOnly {
		return false
	}
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || job.Status != StatusProcessing || s.current != id {
		s.mu.Unlock()
		return false
	}
	job.Params = append(json.RawMessage(nil), params...)
	snap := s.commitLocked()
	s.mu.Unlock()

	s.finish(ctx, snap, nil)
	return true
}

// Complete records a successful outcome for the processing job.
func (s *Store) Complete(ctx context.Context, id string, outputs []string) (Job, bool) {
	return s.settle(ctx, id, func(job *Job) (bool, map[string]any) {
		ok := job.complete(outputs, s.now())
		return ok, map[string]any{"outputs": job.Outputs}
	})
}

// Fail records a failed outcome for the processing job.
func (s *Store) Fail(ctx context.Context, id, message string) (Job, bool) {
	return s.settle(ctx, id, func(job *Job) (bool, map[string]any) {
		ok := job.fail(message, s.now())
		return ok, map[string]any{"error_message": message}
	})
}

func (s *Store) settle(ctx context.Context, id string, apply func(*Job) (bool, map[string]any)) (Job, bool) {
	if s.readOnly {
		return Job{}, false
	}
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || s.current != id {
		s.mu.Unlock()
		return Job{}, false
	}
	ok, fields := apply(job)
	if !ok {
		s.mu.Unlock()
		return Job{}, false
	}
	s.current = ""
	fields["duration_ms"] = job.Duration().Milliseconds()
	evt := statusEvent(job, StatusProcessing, fields)
	settled := job.Clone()
	snap := s.commitLocked()
	s.mu.Unlock()

	s.finish(ctx, snap, []events.Event{evt})
	return settled, true
}
