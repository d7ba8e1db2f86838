package jobs

import (
	"context"

	"sdqueue/internal/events"
	"sdqueue/internal/logging"
)

// ClearCompleted deletes every finished job (completed, failed or
// cancelled) using the configured delete mode.
func (s *Store) ClearCompleted(ctx context.Context) int {
	if s.readOnly {
		return 0
	}
	s.mu.Lock()
	var evts []events.Event
	cleared := 0
	for _, job := range s.sortedLocked(createdAsc) {
		if !job.Status.Finished() {
			continue
		}
		deleted, ok := s.deleteLocked(job)
		if !ok {
			continue
		}
		evts = append(evts, deleted...)
		cleared++
	}
	return s.finishBulk(ctx, "finished jobs cleared", cleared, evts)
}

// PurgeExpired permanently removes recycled jobs deleted longer ago than
// the retention window. It is a no-op when retention is zero.
func (s *Store) PurgeExpired(ctx context.Context) int {
	if s.readOnly {
		return 0
	}
	s.mu.Lock()
	if s.retention <= 0 {
		s.mu.Unlock()
		return 0
	}
	now := s.now()
	var evts []events.Event
	purged := 0
	for _, job := range s.sortedLocked(createdAsc) {
		if job.Status != StatusDeleted || now.Sub(job.DeletedAt) <= s.retention {
			continue
		}
		evts = append(evts, s.removeLocked(job)...)
		purged++
	}
	return s.finishBulk(ctx, "expired jobs purged", purged, evts)
}

// ClearRecycleBin permanently removes every recycled job.
func (s *Store) ClearRecycleBin(ctx context.Context) int {
	if s.readOnly {
		return 0
	}
	s.mu.Lock()
	var evts []events.Event
	purged := 0
	for _, job := range s.sortedLocked(createdAsc) {
		if job.Status != StatusDeleted {
			continue
		}
		evts = append(evts, s.removeLocked(job)...)
		purged++
	}
	return s.finishBulk(ctx, "recycle bin cleared", purged, evts)
}

// finishBulk commits a bulk operation begun under s.mu, releases the lock
// and returns count.
func (s *Store) finishBulk(ctx context.Context, msg string, count int, evts []events.Event) int {
	if count == 0 {
		s.mu.Unlock()
		return 0
	}
	snap := s.commitLocked()
	s.mu.Unlock()

	s.logger.Info(msg, logging.Int("count", count))
	s.finish(ctx, snap, evts)
	return count
}

// ListDeleted returns recycled jobs, most recently deleted first.
func (s *Store) ListDeleted() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, job := range s.sortedLocked(deletedDesc) {
		if job.Status == StatusDeleted {
			out = append(out, job.Clone())
		}
	}
	return out
}
