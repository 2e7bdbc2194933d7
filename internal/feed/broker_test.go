package feed

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/roomtodo/internal/model"
	"github.com/roach88/roomtodo/internal/query"
)

func todoEvent(kind model.ChangeKind, id int64, owner string) model.ChangeEvent {
	row, err := model.EncodeRow(model.Todo{ID: id, Task: "t", OwnerID: owner, AssignedTo: []string{}})
	if err != nil {
		panic(err)
	}
	return model.ChangeEvent{Table: model.TableTodos, Kind: kind, Record: row}
}

func receive(t *testing.T, s *Subscription) model.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "events channel closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return model.ChangeEvent{}
}

func assertNoEvent(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroker_DeliversMatchingEvents(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	room1, err := b.Subscribe(model.TableTodos, query.New().Eq("owner_id", "u1"))
	require.NoError(t, err)
	all, err := b.Subscribe(model.TableTodos, query.New())
	require.NoError(t, err)

	b.Publish(todoEvent(model.ChangeInsert, 1, "u2"))
	b.Publish(todoEvent(model.ChangeInsert, 2, "u1"))

	got := receive(t, room1)
	todo, err := got.Todo()
	require.NoError(t, err)
	assert.Equal(t, int64(2), todo.ID)
	assert.Equal(t, int64(2), got.Seq)
	assertNoEvent(t, room1)

	assert.Equal(t, int64(1), receive(t, all).Seq)
	assert.Equal(t, int64(2), receive(t, all).Seq)
}

func TestBroker_IgnoresOtherTables(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	s, err := b.Subscribe(model.TableConnections, query.New())
	require.NoError(t, err)

	b.Publish(todoEvent(model.ChangeInsert, 1, "u1"))
	assertNoEvent(t, s)
}

func TestBroker_PreservesOrderPerSubscription(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	s, err := b.Subscribe(model.TableTodos, query.New())
	require.NoError(t, err)

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < n/4; j++ {
				b.Publish(todoEvent(model.ChangeUpdate, 1, "u1"))
			}
		}()
	}
	wg.Wait()

	var last int64
	for i := 0; i < n; i++ {
		ev := receive(t, s)
		require.Greater(t, ev.Seq, last, "sequence must increase")
		last = ev.Seq
	}
}

func TestSubscription_CloseByConsumer(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	s, err := b.Subscribe(model.TableTodos, query.New())
	require.NoError(t, err)
	require.Equal(t, 1, b.Len())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 0, b.Len())

	_, open := <-s.Events()
	assert.False(t, open)
	assert.NoError(t, s.Err(), "consumer close is not a drop")
}

func TestBroker_CloseDropsSubscriptions(t *testing.T) {
	b := NewBroker()

	s, err := b.Subscribe(model.TableTodos, query.New())
	require.NoError(t, err)

	b.Publish(todoEvent(model.ChangeInsert, 1, "u1"))
	b.Close()

	// Queued events drain before the channel closes.
	assert.Equal(t, int64(1), receive(t, s).Seq)
	_, open := <-s.Events()
	assert.False(t, open)
	assert.True(t, errors.Is(s.Err(), ErrFeedClosed))

	_, err = b.Subscribe(model.TableTodos, query.New())
	assert.ErrorIs(t, err, ErrFeedClosed)
}

func TestBroker_CloseRightAfterPublishDeliversEverything(t *testing.T) {
	for range 200 {
		b := NewBroker()
		s, err := b.Subscribe(model.TableTodos, query.New())
		require.NoError(t, err)

		var last int64
		for i := range 3 {
			last = b.Publish(todoEvent(model.ChangeInsert, int64(i+1), "u1")).Seq
		}
		b.Close()

		var got int64
		for ev := range s.Events() {
			got = ev.Seq
		}
		require.Equal(t, last, got, "last queued event must be delivered")
		require.ErrorIs(t, s.Err(), ErrFeedClosed)
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []model.ChangeEvent
	err    error
}

func (r *recordingSink) Publish(ev model.ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func TestBroker_MirrorsToSinks(t *testing.T) {
	sink := &recordingSink{err: errors.New("sink down")}
	b := NewBroker(WithSink(sink))
	defer b.Close()

	b.Publish(todoEvent(model.ChangeDelete, 7, "u1"))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, 1, "sink errors do not stop publishing")
	assert.Equal(t, model.ChangeDelete, sink.events[0].Kind)
	assert.Equal(t, int64(1), sink.events[0].Seq)
}

func TestBroker_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	b := NewBroker(WithMetrics(m))

	s, err := b.Subscribe(model.TableTodos, query.New())
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Subscriptions.WithLabelValues(model.TableTodos)))

	b.Publish(todoEvent(model.ChangeInsert, 1, "u1"))
	b.Publish(todoEvent(model.ChangeUpdate, 1, "u1"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Published.WithLabelValues(model.TableTodos, "INSERT")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Delivered.WithLabelValues(model.TableTodos)))

	require.NoError(t, s.Close())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Subscriptions.WithLabelValues(model.TableTodos)))
	b.Close()
}

func TestBroker_ConcurrentPublishStampsUniqueSeq(t *testing.T) {
	b := NewBroker()
	const n = 100

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool, n)
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev := b.Publish(todoEvent(model.ChangeInsert, int64(i+1), "u1"))
			mu.Lock()
			seen[ev.Seq] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	assert.True(t, seen[1])
	assert.True(t, seen[n])
	b.Close()
}
