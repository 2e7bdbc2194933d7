// Package feed implements the row-level change feed of the remote store.
//
// The store publishes one ChangeEvent per committed row change. The Broker
// stamps each event with a logical sequence number and fans it out to every
// Subscription whose table and filter match.
//
// # Delivery
//
// Each subscription owns an unbounded FIFO queue, so Publish never blocks on
// a slow consumer. A pump goroutine moves queued events onto the channel
// returned by Events(). Per subscription, events arrive in publish order.
//
// # Ending a stream
//
//   - Subscription.Close: the consumer is done; Err() stays nil.
//   - Broker.Close: the feed is going away; remaining queued events are
//     still delivered, then Events() is closed and Err() returns
//     ErrFeedClosed. Consumers treat that as a dropped stream and
//     re-subscribe.
//
// Events can additionally be mirrored to external sinks (see NATSSink) and
// are counted in Prometheus metrics when a Metrics value is supplied.
package feed
