package jobs

import (
	"context"
	"encoding/json"

	"sdqueue/internal/events"
	"sdqueue/internal/logging"
)

// Create validates params, stores a pending job and queues it.
func (s *Store) Create(ctx context.Context, kind Kind, params json.RawMessage, model ModelSnapshot) (string, error) {
	if s.readOnly {
		return "", ErrReadOnly
	}
	if err := ValidateParams(kind, params); err != nil {
		return "", err
	}
	raw, err := compactParams(params)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	job := s.newJobLocked(kind, raw, model)
	s.queue.Push(job.ID)
	queued := s.queue.Len()
	snap := s.commitLocked()
	s.mu.Unlock()

	s.logger.Info("job admitted",
		logging.JobID(job.ID),
		logging.JobKind(kind),
		logging.Int("queued", queued),
	)
	s.finish(ctx, snap, []events.Event{addedEvent(job)})
	return job.ID, nil
}

func (s *Store) newJobLocked(kind Kind, params json.RawMessage, model ModelSnapshot) *Job {
	job := &Job{
		ID:        s.newID(),
		Kind:      kind,
		Status:    StatusPending,
		Params:    params,
		Model:     model,
		CreatedAt: s.now(),
	}
	s.insertLocked(job)
	return job
}

func addedEvent(job *Job) events.Event {
	fields := map[string]any{
		"kind":   string(job.Kind),
		"status": string(job.Status),
	}
	if job.LinkedJobID != "" {
		fields["linked_job_id"] = job.LinkedJobID
	}
	return events.New(events.JobAdded, job.ID, fields)
}

// Cancel moves a pending job to cancelled. It returns false for unknown ids
// and for jobs that are not pending.
func (s *Store) Cancel(ctx context.Context, id string) bool {
	if s.readOnly {
		return false
	}
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || !job.cancel(s.now()) {
		s.mu.Unlock()
		return false
	}
	s.queue.Remove(id)
	evts := []events.Event{events.New(events.JobCancelled, id, map[string]any{
		"from": string(StatusPending),
		"to":   string(StatusCancelled),
		"kind": string(job.Kind),
	})}
	evts = append(evts, s.cascadeLocked(job, "Download cancelled")...)
	snap := s.commitLocked()
	s.mu.Unlock()

	s.logger.Info("job cancelled", logging.JobID(id))
	s.finish(ctx, snap, evts)
	return true
}

// SoftDelete moves a job to the recycle bin, or removes it outright when
// soft delete is disabled. Processing and already deleted jobs are refused.
func (s *Store) SoftDelete(ctx context.Context, id string) bool {
	if s.readOnly {
		return false
	}
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || job.Status == StatusProcessing || job.Status == StatusDeleted {
		s.mu.Unlock()
		return false
	}
	evts, ok := s.deleteLocked(job)
	if !ok {
		s.mu.Unlock()
		return false
	}
	snap := s.commitLocked()
	s.mu.Unlock()

	s.logger.Info("job deleted",
		logging.JobID(id),
		logging.Bool("permanent", !s.softDelete),
	)
	s.finish(ctx, snap, evts)
	return true
}

// deleteLocked applies the configured delete mode to one job.
func (s *Store) deleteLocked(job *Job) ([]events.Event, bool) {
	if !s.softDelete {
		return s.removeLocked(job), true
	}
	from := job.Status
	if !job.softDelete(s.now()) {
		return nil, false
	}
	s.queue.Remove(job.ID)
	evts := []events.Event{events.New(events.JobDeleted, job.ID, map[string]any{
		"permanent":       false,
		"previous_status": string(from),
	})}
	return append(evts, s.cascadeLocked(job, "Download deleted")...), true
}

// Restore returns a recycled job to the status it held before deletion.
// Jobs restored to pending rejoin the back of the queue.
func (s *Store) Restore(ctx context.Context, id string) bool {
	if s.readOnly {
		return false
	}
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || !job.restore() {
		s.mu.Unlock()
		return false
	}
	evts := []events.Event{events.New(events.JobRestored, id, map[string]any{
		"status": string(job.Status),
	})}
	admitted, _ := s.admitLocked(job)
	evts = append(evts, admitted...)
	snap := s.commitLocked()
	s.mu.Unlock()

	s.logger.Info("job restored",
		logging.JobID(id),
		logging.String("status", string(job.Status)),
	)
	s.finish(ctx, snap, evts)
	return true
}

// Purge removes a job permanently. Only processing jobs are refused.
func (s *Store) Purge(ctx context.Context, id string) bool {
	if s.readOnly {
		return false
	}
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || job.Status == StatusProcessing {
		s.mu.Unlock()
		return false
	}
	evts := s.removeLocked(job)
	snap := s.commitLocked()
	s.mu.Unlock()

	s.logger.Info("job purged", logging.JobID(id))
	s.finish(ctx, snap, evts)
	return true
}

// removeLocked hard-removes job. Callers have already refused processing
// jobs.
func (s *Store) removeLocked(job *Job) []events.Event {
	delete(s.jobs, job.ID)
	s.queue.Remove(job.ID)
	evts := []events.Event{events.New(events.JobDeleted, job.ID, map[string]any{
		"permanent": true,
		"status":    string(job.Status),
	})}
	return append(evts, s.cascadeLocked(job, "Download deleted")...)
}
