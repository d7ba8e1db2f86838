package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sdqueue/internal/logging"
)

const sendTimeout = 5 * time.Second

// Publisher delivers events to an external broker.
type Publisher interface {
	Name() string
	Send(ctx context.Context, evt Event) error
	Close() error
}

// Forwarder adapts a Publisher into a non-blocking Sink. Events are queued on
// a bounded buffer and delivered by a single goroutine; when the buffer is
// full the event is dropped and counted.
type Forwarder struct {
	pub    Publisher
	logger *slog.Logger
	queue  chan Event
	done   chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewForwarder starts delivering queued events to pub.
func NewForwarder(pub Publisher, buffer int, logger *slog.Logger) *Forwarder {
	if buffer <= 0 {
		buffer = 256
	}
	f := &Forwarder{
		pub:    pub,
		logger: logging.NewComponentLogger(logger, "events-"+pub.Name()),
		queue:  make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	go f.run()
	return f
}

// Publish queues evt for delivery without blocking.
func (f *Forwarder) Publish(evt Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	select {
	case f.queue <- evt:
	default:
		if f.dropped.Add(1) == 1 {
			logging.WarnWithContext(f.logger, "event buffer full; dropping events", "event_forward_dropped",
				logging.String(logging.FieldErrorHint, "check broker availability or raise events.forward_buffer"),
				logging.String(logging.FieldImpact, "remote subscribers miss some job updates"),
			)
		}
	}
}

// Dropped reports how many events were discarded because the buffer was full.
func (f *Forwarder) Dropped() uint64 { return f.dropped.Load() }

// Failed reports how many deliveries the publisher rejected.
func (f *Forwarder) Failed() uint64 { return f.failed.Load() }

// Close stops accepting events, drains the buffer, and closes the publisher.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		<-f.done
		return nil
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	<-f.done
	return f.pub.Close()
}

func (f *Forwarder) run() {
	defer close(f.done)
	for evt := range f.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := f.pub.Send(ctx, evt)
		cancel()
		if err == nil {
			continue
		}
		if f.failed.Add(1)%100 == 1 {
			f.logger.Warn("event delivery failed",
				logging.Error(err),
				logging.JobID(evt.JobID),
				logging.String("event", string(evt.Type)),
				logging.Uint64("failures", f.failed.Load()),
				logging.String(logging.FieldEventType, "event_forward_failed"),
				logging.String(logging.FieldErrorHint, "check broker connectivity"),
				logging.String(logging.FieldImpact, "remote subscribers miss job updates"),
			)
		}
	}
}
