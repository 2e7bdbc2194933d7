package feed

import (
	"sync"

	"github.com/roach88/roomtodo/internal/model"
)

// eventQueue is a thread-safe unbounded FIFO of change events.
//
// The broker enqueues while holding its own lock, so Enqueue must never
// block. A buffered signal channel of size 1 coalesces wake-ups for the
// single consumer (the subscription pump).
type eventQueue struct {
	mu     sync.Mutex
	events []model.ChangeEvent
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]model.ChangeEvent, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends an event. Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e model.ChangeEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (model.ChangeEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return model.ChangeEvent{}, false
	}

	e := q.events[0]
	// Drop the reference so the record bytes can be collected.
	q.events[0] = model.ChangeEvent{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that fires when events may be available.
// It is closed once the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops further enqueues and wakes the consumer. Queued events stay
// available to TryDequeue.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
