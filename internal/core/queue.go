package core

import (
	"sync"

	"github.com/roach88/roomtodo/internal/model"
	"github.com/roach88/roomtodo/internal/remote"
)

// eventType distinguishes loop events.
type eventType int

const (
	evSelectRoom eventType = iota + 1
	evLeaveRoom
	evTodoSubscribed
	evTodoSubscribeFailed
	evTodosLoaded
	evTodoChange
	evTodoStreamEnded
	evTodoRetry
	evOwnerEmail
	evConnSubscribed
	evConnSubscribeFailed
	evConnChange
	evConnStreamEnded
	evConnRetry
	evConnectionsLoaded
	evConnectedInLoaded
	evReloadConnections
	evError
	evDismissError
)

// event is one unit of work for the Run loop. Only the fields relevant to
// the type are set.
type event struct {
	typ    eventType
	gen    uint64 // room or connection-feed generation
	seq    uint64 // connection reload stamp
	room   string
	sub    remote.Subscription
	change model.ChangeEvent
	todos  []model.Todo
	users  []model.User
	email  string
	err    error
}

// eventQueue is an unbounded, thread-safe FIFO of loop events.
//
// Helper goroutines and intent methods enqueue; only Run dequeues. The
// signal channel (buffer 1) coalesces wake-ups so Run can select on it
// alongside ctx.Done().
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds e to the back of the queue. Returns false once closed.
func (q *eventQueue) Enqueue(e event) bool {
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
func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event{}, false
	}
	e := q.events[0]
	// release references held by the backing array
	q.events[0] = event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns the wake-up channel. It is closed by Close.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close rejects further events and wakes waiters. Queued events are
// dropped by Drain.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Drain removes and returns every queued event.
func (q *eventQueue) Drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}
