package telemetry

import (
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sdqueue/internal/events"
)

// Preview is the latest rendered frame of an in-flight job.
type Preview struct {
	JobID        string
	Step         int
	Frame        int
	Data         []byte
	Width        int
	Height       int
	Intermediate bool
	UpdatedAt    time.Time
}

// PreviewBuffer keeps one preview per in-flight job. Events announce that a
// new frame exists; consumers fetch the bytes with Get.
type PreviewBuffer struct {
	mu        sync.Mutex
	entries   map[string]Preview
	throttles map[string]*rate.Sometimes

	sink     events.Sink
	interval time.Duration
}

// NewPreviewBuffer broadcasts at most one preview event per job per
// interval. A non-positive interval broadcasts every frame.
func NewPreviewBuffer(sink events.Sink, interval time.Duration) *PreviewBuffer {
	if sink == nil {
		sink = events.Nop{}
	}
	return &PreviewBuffer{
		entries:   make(map[string]Preview),
		throttles: make(map[string]*rate.Sometimes),
		sink:      sink,
		interval:  interval,
	}
}

// Reporter returns the preview callback for one dispatch.
func (b *PreviewBuffer) Reporter(jobID string) func(step, frame int, data []byte, width, height int, intermediate bool) {
	return func(step, frame int, data []byte, width, height int, intermediate bool) {
		b.Update(Preview{
			JobID:        jobID,
			Step:         step,
			Frame:        frame,
			Data:         data,
			Width:        width,
			Height:       height,
			Intermediate: intermediate,
		})
	}
}

// Update replaces the stored frame for p.JobID. The byte slice is copied.
func (b *PreviewBuffer) Update(p Preview) {
	if p.JobID == "" {
		return
	}
	p.Data = slices.Clone(p.Data)
	p.UpdatedAt = time.Now().UTC()

	b.mu.Lock()
	b.entries[p.JobID] = p
	throttle, ok := b.throttles[p.JobID]
	if !ok {
		throttle = &rate.Sometimes{Interval: b.interval}
		b.throttles[p.JobID] = throttle
	}
	b.mu.Unlock()

	evt := events.New(events.JobPreview, p.JobID, map[string]any{
		"step":         p.Step,
		"frame":        p.Frame,
		"width":        p.Width,
		"height":       p.Height,
		"intermediate": p.Intermediate,
		"size_bytes":   len(p.Data),
	})
	if b.interval <= 0 {
		b.sink.Publish(evt)
		return
	}
	throttle.Do(func() { b.sink.Publish(evt) })
}

// Get returns a copy of the latest frame for jobID.
func (b *PreviewBuffer) Get(jobID string) (Preview, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.entries[jobID]
	if !ok {
		return Preview{}, false
	}
	p.Data = slices.Clone(p.Data)
	return p, true
}

// Clear drops the frame and throttle state for jobID.
func (b *PreviewBuffer) Clear(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, jobID)
	delete(b.throttles, jobID)
}

// Len returns the number of buffered previews.
func (b *PreviewBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
