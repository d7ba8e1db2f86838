package telemetry

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sdqueue/internal/events"
	"sdqueue/internal/jobs"
)

// Progress phases.
const (
	PhaseSampling  = "sampling"
	PhaseAuxiliary = "auxiliary"
)

// ProgressTracker records the step counter of the running job.
type ProgressTracker struct {
	mu       sync.Mutex
	jobID    string
	info     jobs.ProgressInfo
	expected int
	throttle *rate.Sometimes

	sink     events.Sink
	interval time.Duration
}

// NewProgressTracker broadcasts at most one progress event per interval. A
// non-positive interval broadcasts every update.
func NewProgressTracker(sink events.Sink, interval time.Duration) *ProgressTracker {
	if sink == nil {
		sink = events.Nop{}
	}
	return &ProgressTracker{sink: sink, interval: interval}
}

// Begin resets the tracker to zero for jobID. expected is the sampling step
// count hint used to classify reports.
func (t *ProgressTracker) Begin(jobID string, expected int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobID = jobID
	t.expected = expected
	t.info = jobs.ProgressInfo{}
	t.throttle = &rate.Sometimes{Interval: t.interval}
}

// Reporter returns the progress callback for one dispatch. Reports arriving
// after the job was cleared or replaced are dropped.
func (t *ProgressTracker) Reporter(jobID string) func(step, total int) {
	return func(step, total int) {
		t.Update(jobID, step, total)
	}
}

// Update records step/total for jobID and broadcasts if the throttle allows.
func (t *ProgressTracker) Update(jobID string, step, total int) {
	t.mu.Lock()
	if jobID == "" || jobID != t.jobID {
		t.mu.Unlock()
		return
	}
	phase := PhaseAuxiliary
	if t.expected > 0 && total == t.expected {
		phase = PhaseSampling
	}
	t.info = jobs.ProgressInfo{Step: step, TotalSteps: total, Phase: phase}
	evt := events.New(events.JobProgress, jobID, map[string]any{
		"step":        step,
		"total_steps": total,
		"phase":       phase,
		"percent":     t.info.Percent(),
	})
	throttle := t.throttle
	t.mu.Unlock()

	if t.interval <= 0 {
		t.sink.Publish(evt)
		return
	}
	throttle.Do(func() { t.sink.Publish(evt) })
}

// Current reports the live progress of the running job.
func (t *ProgressTracker) Current() (string, jobs.ProgressInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.jobID == "" {
		return "", jobs.ProgressInfo{}, false
	}
	return t.jobID, t.info, true
}

// Clear forgets jobID if it is the tracked job.
func (t *ProgressTracker) Clear(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.jobID != jobID {
		return
	}
	t.jobID = ""
	t.expected = 0
	t.info = jobs.ProgressInfo{}
	t.throttle = nil
}
