package workflow

import (
	"sdqueue/internal/jobs"
)

// StatusSummary represents lightweight worker diagnostics.
type StatusSummary struct {
	Running    bool
	CurrentJob string
	LastError  string
	LastJob    *jobs.Job
	Processed  uint64
	Failed     uint64
	Queued     int
	Counts     map[jobs.Status]int
}

// Status returns the latest worker information.
func (m *Manager) Status() StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:    m.running,
		CurrentJob: m.current,
		Processed:  m.processed,
		Failed:     m.failed,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastJob != nil {
		copy := m.lastJob.Clone()
		summary.LastJob = &copy
	}
	m.mu.RUnlock()

	summary.Queued = m.store.PendingCount()
	summary.Counts = m.store.Counts()
	return summary
}

func (m *Manager) currentJob() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Manager) setCurrent(id string) {
	m.mu.Lock()
	m.current = id
	m.mu.Unlock()
}

func (m *Manager) recordOutcome(job jobs.Job, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed++
	if err != nil {
		m.failed++
		m.lastErr = err
	}
	copy := job.Clone()
	m.lastJob = &copy
}
