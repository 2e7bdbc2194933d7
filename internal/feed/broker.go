package feed

import (
	"log/slog"
	"sync"

	"github.com/roach88/roomtodo/internal/model"
	"github.com/roach88/roomtodo/internal/query"
)

// Sink receives a copy of every published event.
type Sink interface {
	Publish(ev model.ChangeEvent) error
}

// Broker fans change events out to subscriptions.
//
// Thread-safety: all methods are safe for concurrent use. Publish calls are
// serialised so sequence numbers and per-subscription delivery order agree.
type Broker struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
	seq    int64 // last stamped sequence number

	metrics *Metrics
	sinks   []Sink
	logger  *slog.Logger
}

// Option configures a Broker.
type Option func(*Broker)

// WithMetrics records feed metrics.
func WithMetrics(m *Metrics) Option {
	return func(b *Broker) {
		b.metrics = m
	}
}

// WithSink mirrors every published event to s.
func WithSink(s Sink) Option {
	return func(b *Broker) {
		b.sinks = append(b.sinks, s)
	}
}

// WithLogger sets the broker logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) {
		b.logger = l
	}
}

// NewBroker creates an open broker.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		subs:   make(map[*Subscription]struct{}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe opens a subscription on table. Events whose record does not
// satisfy f are not delivered.
func (b *Broker) Subscribe(table string, f query.Filter) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrFeedClosed
	}

	s := newSubscription(b, table, f)
	b.subs[s] = struct{}{}
	if b.metrics != nil {
		b.metrics.Subscriptions.WithLabelValues(table).Inc()
	}

	b.logger.Debug("feed subscription opened",
		"subscription", s.id,
		"table", table,
		"filter", f.Encode(),
	)
	return s, nil
}

// Publish stamps ev with the next sequence number and delivers it to every
// matching subscription. Returns the stamped event.
func (b *Broker) Publish(ev model.ChangeEvent) model.ChangeEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	ev.Seq = b.seq

	fields, err := model.RowFields(ev.Record)
	if err != nil {
		// Filtered subscriptions cannot judge an undecodable record; only
		// unfiltered ones receive it.
		b.logger.Warn("feed event record is not a JSON object",
			"table", ev.Table,
			"type", ev.Kind,
			"seq", ev.Seq,
			"error", err,
		)
		fields = nil
	}

	delivered := 0
	for s := range b.subs {
		if !s.matches(ev, fields) {
			continue
		}
		if s.queue.Enqueue(ev) {
			delivered++
		}
	}

	if b.metrics != nil {
		b.metrics.Published.WithLabelValues(ev.Table, string(ev.Kind)).Inc()
		b.metrics.Delivered.WithLabelValues(ev.Table).Add(float64(delivered))
	}

	for _, sink := range b.sinks {
		if err := sink.Publish(ev); err != nil {
			b.logger.Error("feed sink publish failed",
				"table", ev.Table,
				"type", ev.Kind,
				"seq", ev.Seq,
				"error", err,
			)
		}
	}

	b.logger.Debug("feed event published",
		"table", ev.Table,
		"type", ev.Kind,
		"seq", ev.Seq,
		"delivered", delivered,
	)
	return ev
}

// Len returns the number of open subscriptions.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription with ErrFeedClosed and rejects new ones.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for s := range b.subs {
		s.end(ErrFeedClosed)
		if b.metrics != nil {
			b.metrics.Subscriptions.WithLabelValues(s.table).Dec()
		}
	}
	b.subs = make(map[*Subscription]struct{})
	b.logger.Info("change feed closed")
}

// remove forgets a subscription closed by its consumer.
func (b *Broker) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	if b.metrics != nil {
		b.metrics.Subscriptions.WithLabelValues(s.table).Dec()
	}
	b.logger.Debug("feed subscription closed", "subscription", s.id, "table", s.table)
}
