package jobs

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"sdqueue/internal/events"
	"sdqueue/internal/logging"
)

// Persister writes and restores full job table snapshots.
type Persister interface {
	Load(ctx context.Context) ([]Job, error)
	Save(ctx context.Context, jobs []Job) error
}

// ProgressSource exposes the live progress of the processing job. It is
// read without holding the store lock.
type ProgressSource interface {
	Current() (jobID string, info ProgressInfo, ok bool)
}

// Options configures a Store.
type Options struct {
	Persister Persister
	Events    events.Sink
	Progress  ProgressSource
	Logger    *slog.Logger

	// SoftDelete moves deleted jobs to the recycle bin instead of removing
	// them.
	SoftDelete bool
	// Retention is how long recycled jobs survive PurgeExpired. Zero keeps
	// them until cleared explicitly.
	Retention time.Duration

	// ReadOnly loads the persisted table without recovering interrupted
	// jobs and never writes back. Used by CLI views while the daemon runs.
	ReadOnly bool

	Clock    func() time.Time
	Location *time.Location
	NewID    func() string
}

// Store is the authoritative job table and pending queue.
type Store struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	queue   *PendingQueue
	current string
	seq     uint64
	version uint64

	// finishMu orders persistence and publication by commit version.
	finishMu   sync.Mutex
	finishCond *sync.Cond
	finished   uint64

	persister  Persister
	events     events.Sink
	progress   ProgressSource
	logger     *slog.Logger
	softDelete bool
	retention  time.Duration
	readOnly   bool
	clock      func() time.Time
	loc        *time.Location
	newID      func() string
}

// snapshot is a versioned copy of the job table awaiting persistence.
type snapshot struct {
	version uint64
	jobs    []Job
}

// Open builds a store and restores any persisted jobs. Jobs interrupted
// while processing are returned to pending and every pending job is queued
// again in creation order.
func Open(ctx context.Context, opts Options) (*Store, error) {
	s := &Store{
		jobs:       make(map[string]*Job),
		queue:      NewPendingQueue(),
		persister:  opts.Persister,
		events:     opts.Events,
		progress:   opts.Progress,
		logger:     logging.NewComponentLogger(opts.Logger, "jobs"),
		softDelete: opts.SoftDelete,
		retention:  opts.Retention,
		readOnly:   opts.ReadOnly,
		clock:      opts.Clock,
		loc:        opts.Location,
		newID:      opts.NewID,
	}
	s.finishCond = sync.NewCond(&s.finishMu)
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.persister == nil {
		return s, nil
	}

	loaded, err := s.persister.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	s.mu.Lock()
	changed := s.restoreLoadedLocked(loaded)
	var snap snapshot
	if changed {
		snap = s.commitLocked()
	}
	s.mu.Unlock()

	if changed {
		s.finish(ctx, snap, nil)
	}
	s.logger.Info("job store opened",
		logging.Int("jobs", len(loaded)),
		logging.Int("queued", s.PendingCount()),
		logging.Bool("read_only", s.readOnly),
	)
	return s, nil
}

func (s *Store) restoreLoadedLocked(loaded []Job) bool {
	slices.SortStableFunc(loaded, func(a, b Job) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	changed := false
	for i := range loaded {
		job := loaded[i].Clone()
		if reason := invalidRecord(job); reason != "" {
			logging.WarnWithContext(s.logger, "skipping malformed job record", "job_record_skipped",
				logging.JobID(job.ID),
				logging.String("reason", reason),
				logging.String(logging.FieldImpact, "job is not visible and will not run"),
				logging.String(logging.FieldErrorHint, "inspect the jobs table in the state database"),
			)
			continue
		}
		if _, dup := s.jobs[job.ID]; dup {
			logging.WarnWithContext(s.logger, "skipping duplicate job record", "job_record_skipped",
				logging.JobID(job.ID),
			)
			continue
		}
		job.Progress = nil
		if !s.readOnly && job.recover() {
			logging.WarnWithContext(s.logger, "job interrupted while processing; returning to queue", "job_recovered",
				logging.JobID(job.ID),
				logging.JobKind(job.Kind),
				logging.String(logging.FieldImpact, "job restarts from the beginning"),
			)
			changed = true
		}
		s.insertLocked(&job)
	}

	if s.readOnly {
		return false
	}
	for _, job := range s.sortedLocked(createdAsc) {
		if job.Status != StatusPending {
			continue
		}
		if _, mutated := s.admitLocked(job); mutated {
			changed = true
		}
	}
	return changed
}

func invalidRecord(job Job) string {
	switch {
	case job.ID == "":
		return "missing id"
	case !job.Kind.Valid():
		return fmt.Sprintf("unknown kind %q", job.Kind)
	case !slices.Contains(allStatuses, job.Status):
		return fmt.Sprintf("unknown status %q", job.Status)
	case job.CreatedAt.IsZero():
		return "missing created_at"
	case job.Status == StatusDeleted && !CanTransition(StatusDeleted, job.PreviousStatus):
		return fmt.Sprintf("deleted job has invalid previous status %q", job.PreviousStatus)
	}
	return ""
}

func (s *Store) insertLocked(job *Job) {
	s.seq++
	job.seq = s.seq
	s.jobs[job.ID] = job
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}

// commitLocked bumps the table version and copies the table for the
// persister. Callers hold s.mu and pass the result to finish after
// unlocking.
func (s *Store) commitLocked() snapshot {
	s.version++
	snap := snapshot{version: s.version}
	if s.persister == nil || s.readOnly {
		return snap
	}
	snap.jobs = make([]Job, 0, len(s.jobs))
	for _, job := range s.sortedLocked(createdAsc) {
		clone := job.Clone()
		clone.Progress = nil
		snap.jobs = append(snap.jobs, clone)
	}
	return snap
}

// persist writes snap. Failures are logged; the in-memory table stays
// authoritative. Callers hold s.finishMu.
func (s *Store) persist(ctx context.Context, snap snapshot) {
	if snap.jobs == nil {
		return
	}
	if err := s.persister.Save(ctx, snap.jobs); err != nil {
		logging.ErrorWithContext(s.logger, "persist job table failed", "persist_failed",
			logging.Uint64("version", snap.version),
			logging.Error(err),
			logging.String(logging.FieldImpact, "changes since the last successful write are lost on crash"),
			logging.String(logging.FieldErrorHint, "check disk space and permissions on the state directory"),
		)
		return
	}
}

// finish persists and then publishes, waiting until every earlier commit
// has done the same so subscribers see events in commit order. It must be
// called without s.mu held, exactly once per commitLocked.
func (s *Store) finish(ctx context.Context, snap snapshot, evts []events.Event) {
	s.finishMu.Lock()
	defer s.finishMu.Unlock()
	for s.finished+1 < snap.version {
		s.finishCond.Wait()
	}
	s.persist(ctx, snap)
	for _, evt := range evts {
		s.events.Publish(evt)
	}
	s.finished = snap.version
	s.finishCond.Broadcast()
}

type jobOrder func(a, b *Job) int

func createdAsc(a, b *Job) int {
	return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.seq, b.seq))
}

func createdDesc(a, b *Job) int {
	return createdAsc(b, a)
}

func deletedDesc(a, b *Job) int {
	return cmp.Or(b.DeletedAt.Compare(a.DeletedAt), createdDesc(a, b))
}

func (s *Store) sortedLocked(order jobOrder) []*Job {
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	slices.SortFunc(out, order)
	return out
}

// viewLocked copies job for callers and merges live progress into the
// processing job.
func (s *Store) viewLocked(job *Job) Job {
	out := job.Clone()
	if job.Status == StatusProcessing && s.progress != nil {
		if id, info, ok := s.progress.Current(); ok && id == job.ID {
			out.Progress = &info
		}
	}
	return out
}

// Get returns a point-in-time copy of the job.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return s.viewLocked(job), true
}

// ListAll returns every job matching filter, newest first. Deleted jobs are
// included only when the filter names the deleted status.
func (s *Store) ListAll(filter Filter) []Job {
	return s.collect(filter)
}

// PendingCount returns the number of jobs waiting in the queue.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// QueuedIDs returns queued job ids in pickup order.
func (s *Store) QueuedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.IDs()
}

// Counts returns the number of jobs per status.
func (s *Store) Counts() map[Status]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[Status]int, len(allStatuses))
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts
}

// Current returns the processing job, if any.
func (s *Store) Current() (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[s.current]
	if !ok || job.Status != StatusProcessing {
		return Job{}, false
	}
	return s.viewLocked(job), true
}

// ReadOnly reports whether the store refuses writes.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

func statusEvent(job *Job, from Status, fields map[string]any) events.Event {
	if fields == nil {
		fields = make(map[string]any, 3)
	}
	fields["from"] = string(from)
	fields["to"] = string(job.Status)
	fields["kind"] = string(job.Kind)
	return events.New(events.JobStatusChanged, job.ID, fields)
}
