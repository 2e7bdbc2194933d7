package feed

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/roomtodo/internal/model"
	"github.com/roach88/roomtodo/internal/query"
)

// ErrFeedClosed ends every subscription when the broker shuts down.
var ErrFeedClosed = errors.New("change feed closed")

// Subscription is one filtered view of the change feed.
type Subscription struct {
	id     string
	table  string
	filter query.Filter
	broker *Broker

	queue *eventQueue
	out   chan model.ChangeEvent

	done     chan struct{}
	doneOnce sync.Once
	endOnce  sync.Once

	mu  sync.Mutex
	err error
}

func newSubscription(b *Broker, table string, f query.Filter) *Subscription {
	s := &Subscription{
		id:     uuid.Must(uuid.NewV7()).String(),
		table:  table,
		filter: f,
		broker: b,
		queue:  newEventQueue(),
		out:    make(chan model.ChangeEvent, 16),
		done:   make(chan struct{}),
	}
	go s.pump()
	return s
}

// ID returns the subscription identifier (a UUIDv7).
func (s *Subscription) ID() string {
	return s.id
}

// Table returns the subscribed table.
func (s *Subscription) Table() string {
	return s.table
}

// Filter returns the subscription filter.
func (s *Subscription) Filter() query.Filter {
	return s.filter
}

// Events returns the delivery channel. It is closed when the stream ends.
func (s *Subscription) Events() <-chan model.ChangeEvent {
	return s.out
}

// Err returns ErrFeedClosed if the stream ended because the broker closed,
// and nil if it is still open or was closed by the consumer.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() error {
	s.broker.remove(s)
	s.end(nil)
	s.doneOnce.Do(func() { close(s.done) })
	return nil
}

// end stops accepting events. With a nil err the stream was closed on
// purpose; otherwise err is reported by Err once the queue drains.
func (s *Subscription) end(err error) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.queue.Close()
	})
}

// matches reports whether the event belongs to this subscription.
func (s *Subscription) matches(ev model.ChangeEvent, fields map[string]any) bool {
	if ev.Table != s.table {
		return false
	}
	if len(s.filter.Conditions) == 0 {
		return true
	}
	return fields != nil && s.filter.Match(fields)
}

// pump moves queued events onto the delivery channel until the queue is
// closed and drained, or the consumer closes the subscription.
func (s *Subscription) pump() {
	defer close(s.out)

	for {
		if ev, ok := s.queue.TryDequeue(); ok {
			select {
			case s.out <- ev:
			case <-s.done:
				return
			}
			continue
		}

		if s.queue.Closed() {
			// An event may have landed between the miss above and Close.
			if s.queue.Len() == 0 {
				return
			}
			continue
		}

		select {
		case <-s.done:
			return
		case <-s.queue.Wait():
		}
	}
}
