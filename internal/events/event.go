package events

import "time"

// Type names a job lifecycle event.
type Type string

const (
	JobAdded         Type = "job_added"
	JobStatusChanged Type = "job_status_changed"
	JobProgress      Type = "job_progress"
	JobPreview       Type = "job_preview"
	JobCancelled     Type = "job_cancelled"
	JobDeleted       Type = "job_deleted"
	JobRestored      Type = "job_restored"
)

// Event is one job lifecycle notification. Fields carries only the delta
// relevant to the event type; preview events never carry image bytes.
type Event struct {
	Sequence  uint64         `json:"seq,omitempty"`
	Type      Type           `json:"type"`
	JobID     string         `json:"job_id"`
	Timestamp time.Time      `json:"ts"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// New builds an event stamped with the current time.
func New(eventType Type, jobID string, fields map[string]any) Event {
	return Event{
		Type:      eventType,
		JobID:     jobID,
		Timestamp: time.Now().UTC(),
		Fields:    fields,
	}
}

// Sink receives published events. Implementations must not block the caller
// for longer than an in-memory append.
type Sink interface {
	Publish(Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

// Multi fans an event out to several sinks in order.
type Multi []Sink

func (m Multi) Publish(evt Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Publish(evt)
		}
	}
}

// Recorder keeps every published event in memory. Tests use it to assert on
// emitted sequences.
type Recorder struct {
	hub *Hub
}

// NewRecorder returns a recorder backed by an unbounded-enough hub.
func NewRecorder() *Recorder {
	return &Recorder{hub: NewHub(4096)}
}

func (r *Recorder) Publish(evt Event) { r.hub.Publish(evt) }

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	events, _ := r.hub.Tail(0)
	return events
}

// OfType returns recorded events matching t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, evt := range r.Events() {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}
