package jobs

import "slices"

// PendingQueue is the FIFO admission queue feeding the worker. It is not
// safe for concurrent use on its own; Store guards it with the store lock.
// Ready is the exception and may be received from any goroutine.
type PendingQueue struct {
	ids    []string
	queued map[string]struct{}
	ready  chan struct{}
}

// NewPendingQueue returns an empty queue.
func NewPendingQueue() *PendingQueue {
	return &PendingQueue{
		queued: make(map[string]struct{}),
		ready:  make(chan struct{}, 1),
	}
}

// Push appends id unless it is already queued and signals Ready.
func (q *PendingQueue) Push(id string) bool {
	if _, ok := q.queued[id]; ok {
		return false
	}
	q.queued[id] = struct{}{}
	q.ids = append(q.ids, id)
	q.signal()
	return true
}

// Pop removes and returns the oldest queued id.
func (q *PendingQueue) Pop() (string, bool) {
	if len(q.ids) == 0 {
		return "", false
	}
	id := q.ids[0]
	q.ids[0] = ""
	q.ids = q.ids[1:]
	delete(q.queued, id)
	return id, true
}

// Remove drops id from the queue.
func (q *PendingQueue) Remove(id string) bool {
	if _, ok := q.queued[id]; !ok {
		return false
	}
	delete(q.queued, id)
	q.ids = slices.DeleteFunc(q.ids, func(queued string) bool { return queued == id })
	return true
}

// Contains reports whether id is waiting in the queue.
func (q *PendingQueue) Contains(id string) bool {
	_, ok := q.queued[id]
	return ok
}

// Len returns the number of queued ids.
func (q *PendingQueue) Len() int {
	return len(q.queued)
}

// IDs returns the queued ids in pickup order.
func (q *PendingQueue) IDs() []string {
	return slices.Clone(q.ids)
}

// Ready delivers a token whenever an id is pushed. The channel holds at most
// one token, so a consumer that drains the queue after every receive never
// misses work.
func (q *PendingQueue) Ready() <-chan struct{} {
	return q.ready
}

func (q *PendingQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
