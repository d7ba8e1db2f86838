package jobs

import (
	"slices"
	"time"
)

// transitions lists every legal status edge. Restore out of Deleted is only
// legal back to the recorded PreviousStatus; hard removal is not a status.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled, StatusDeleted, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusDeleted},
	StatusFailed:     {StatusDeleted},
	StatusCancelled:  {StatusDeleted},
	StatusDeleted:    {StatusPending, StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the job state
// machine.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// The methods below are the only code that writes Status. Each returns false
// and leaves the job untouched when the edge is not allowed.

// claim moves a pending job into processing on worker pickup.
func (j *Job) claim(now time.Time) bool {
	if j.Status != StatusPending {
		return false
	}
	j.Status = StatusProcessing
	j.StartedAt = now
	j.Progress = nil
	return true
}

// complete records a successful worker outcome.
func (j *Job) complete(outputs []string, now time.Time) bool {
	if j.Status != StatusProcessing {
		return false
	}
	j.Status = StatusCompleted
	j.Outputs = slices.Clone(outputs)
	j.CompletedAt = now
	j.Progress = nil
	return true
}

// fail records a failed worker outcome.
func (j *Job) fail(message string, now time.Time) bool {
	if j.Status != StatusProcessing {
		return false
	}
	j.Status = StatusFailed
	j.ErrorMessage = message
	j.CompletedAt = now
	j.Progress = nil
	return true
}

// failPendingDirectly fails a job that never reached the worker. Only the
// linked-job coordinator uses this edge.
func (j *Job) failPendingDirectly(message string, now time.Time) bool {
	if j.Status != StatusPending {
		return false
	}
	j.Status = StatusFailed
	j.ErrorMessage = message
	j.CompletedAt = now
	return true
}

func (j *Job) cancel(now time.Time) bool {
	if j.Status != StatusPending {
		return false
	}
	j.Status = StatusCancelled
	j.CompletedAt = now
	return true
}

func (j *Job) softDelete(now time.Time) bool {
	if !CanTransition(j.Status, StatusDeleted) {
		return false
	}
	j.PreviousStatus = j.Status
	j.Status = StatusDeleted
	j.DeletedAt = now
	return true
}

func (j *Job) restore() bool {
	if j.Status != StatusDeleted || !CanTransition(StatusDeleted, j.PreviousStatus) {
		return false
	}
	j.Status = j.PreviousStatus
	j.PreviousStatus = ""
	j.DeletedAt = time.Time{}
	return true
}

// recover resets a job interrupted by a crash so the worker picks it up
// again. StartedAt is cleared because the job is no longer past Pending.
func (j *Job) recover() bool {
	if j.Status != StatusProcessing {
		return false
	}
	j.Status = StatusPending
	j.StartedAt = time.Time{}
	j.Progress = nil
	return true
}
