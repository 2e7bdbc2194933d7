package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/roomtodo/internal/auth"
	"github.com/roach88/roomtodo/internal/model"
	"github.com/roach88/roomtodo/internal/query"
	"github.com/roach88/roomtodo/internal/remote"
	"github.com/roach88/roomtodo/internal/store"
	"github.com/roach88/roomtodo/internal/testutil"
)

const waitTimeout = 5 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(10 * time.Millisecond)
}

// startCore runs a Core for user until the test ends.
func startCore(t *testing.T, st remote.RemoteStore, user model.User, opts ...Option) *Core {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger()), WithBackOff(fastBackOff)}, opts...)
	c := New(st, auth.StaticSession{User: user}, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-c.Done()
	})
	return c
}

func waitView(t *testing.T, c *Core, pred func(View) bool) View {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	v, err := c.WaitFor(ctx, pred)
	require.NoError(t, err, "last view: %+v", v)
	return v
}

func waitSynced(t *testing.T, c *Core, room string) View {
	t.Helper()
	return waitView(t, c, func(v View) bool { return v.Room == room && v.Sync == StateSynced })
}

func todoIDs(todos []model.Todo) []int64 {
	out := make([]int64, len(todos))
	for i, td := range todos {
		out[i] = td.ID
	}
	return out
}

func hasTask(todos []model.Todo, task string) bool {
	for _, td := range todos {
		if td.Task == task {
			return true
		}
	}
	return false
}

func seedTodo(t *testing.T, st *store.Store, owner, task string) model.Todo {
	t.Helper()
	got, err := NewDispatcher(st).CreateTodo(context.Background(), NewTodo{Task: task, CreatedBy: owner, OwnerID: owner})
	require.NoError(t, err)
	return got
}

func TestCore_StartsInOwnRoom(t *testing.T) {
	st, _ := testutil.NewStore(t)
	c := startCore(t, st, testutil.Ann)

	<-c.Ready()
	v := waitSynced(t, c, "u1")

	assert.True(t, v.IsSelf())
	assert.Equal(t, testutil.Ann, v.Self)
	assert.False(t, v.Loading)
	assert.Empty(t, v.Todos)
	assert.Empty(t, v.Connections)
	assert.Empty(t, v.ConnectedIn)
	assert.Nil(t, v.RoomOwnerEmail)
	assert.Nil(t, v.LastError)
}

func TestCore_InitialFetchIsNewestFirst(t *testing.T) {
	st, _ := testutil.NewStore(t)
	first := seedTodo(t, st, "u1", "first")
	second := seedTodo(t, st, "u1", "second")
	seedTodo(t, st, "u2", "bob's")

	c := startCore(t, st, testutil.Ann)
	v := waitSynced(t, c, "u1")

	assert.Equal(t, []int64{second.ID, first.ID}, todoIDs(v.Todos))
}

func TestCore_AddTaskAppearsThroughFeed(t *testing.T) {
	st, _ := testutil.NewStore(t)
	c := startCore(t, st, testutil.Ann)
	waitSynced(t, c, "u1")

	created, err := c.AddTask(context.Background(), "  buy milk ", "u2")
	require.NoError(t, err)
	assert.Equal(t, "buy milk", created.Task)

	v := waitView(t, c, func(v View) bool { return len(v.Todos) == 1 })
	got := v.Todos[0]
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "u1", got.CreatedBy)
	assert.Equal(t, "u1", got.OwnerID)
	assert.Equal(t, []string{"u2"}, got.AssignedTo)
	assert.False(t, got.Completed)
}

func TestCore_RemoteWriteAppearsLive(t *testing.T) {
	st, _ := testutil.NewStore(t)
	ann := startCore(t, st, testutil.Ann)
	waitSynced(t, ann, "u1")

	// Bob writes straight into Ann's room.
	_, err := NewDispatcher(st).CreateTodo(context.Background(), NewTodo{Task: "from bob", CreatedBy: "u2", OwnerID: "u1"})
	require.NoError(t, err)
	seedTodo(t, st, "u2", "bob only")

	v := waitView(t, ann, func(v View) bool { return hasTask(v.Todos, "from bob") })
	assert.Len(t, v.Todos, 1)
}

func TestCore_UpdateAndSoftDeleteKeepPosition(t *testing.T) {
	st, _ := testutil.NewStore(t)
	_, err := st.DB().Exec(`INSERT INTO sqlite_sequence(name, seq) VALUES('todos', 41)`)
	require.NoError(t, err)

	target := seedTodo(t, st, "u1", "water plants")
	require.EqualValues(t, 42, target.ID)
	newer := seedTodo(t, st, "u1", "call mum")

	c := startCore(t, st, testutil.Ann)
	v := waitSynced(t, c, "u1")
	require.Equal(t, []int64{newer.ID, 42}, todoIDs(v.Todos))

	require.NoError(t, c.ToggleComplete(context.Background(), 42, true))
	v = waitView(t, c, func(v View) bool { return len(v.Todos) == 2 && v.Todos[1].Completed })
	assert.Equal(t, []int64{newer.ID, 42}, todoIDs(v.Todos))
	assert.Equal(t, "water plants", v.Todos[1].Task)

	require.NoError(t, c.EditTask(context.Background(), 42, "water all plants"))
	v = waitView(t, c, func(v View) bool { return hasTask(v.Todos, "water all plants") })
	assert.Equal(t, []int64{newer.ID, 42}, todoIDs(v.Todos))

	require.NoError(t, c.DeleteTask(context.Background(), 42))
	v = waitView(t, c, func(v View) bool { return len(v.Todos) == 1 })
	assert.Equal(t, []int64{newer.ID}, todoIDs(v.Todos))

	require.Len(t, v.Cached, 2)
	assert.EqualValues(t, 42, v.Cached[1].ID)
	assert.True(t, v.Cached[1].Deleted)
}

func TestCore_SelectConnectedRoom(t *testing.T) {
	st, _ := testutil.NewStore(t)
	ctx := context.Background()
	_, err := NewResolver(st).Grant(ctx, "u2", "u1")
	require.NoError(t, err)
	seedTodo(t, st, "u2", "bob's plan")
	seedTodo(t, st, "u1", "ann's plan")

	c := startCore(t, st, testutil.Ann)
	waitView(t, c, func(v View) bool { return v.Sync == StateSynced && len(v.ConnectedIn) == 1 })

	c.SelectRoom("u2")
	v := waitSynced(t, c, "u2")
	assert.False(t, v.IsSelf())
	require.NotNil(t, v.RoomOwnerEmail)
	assert.Equal(t, "bob@example.com", *v.RoomOwnerEmail)
	require.Len(t, v.Todos, 1)
	assert.Equal(t, "bob's plan", v.Todos[0].Task)

	created, err := c.AddTask(ctx, "help bob")
	require.NoError(t, err)
	assert.Equal(t, "u2", created.OwnerID)
	assert.Equal(t, "u1", created.CreatedBy)
	waitView(t, c, func(v View) bool { return hasTask(v.Todos, "help bob") })

	c.LeaveRoom()
	v = waitSynced(t, c, "u1")
	assert.True(t, v.IsSelf())
	assert.Nil(t, v.RoomOwnerEmail)
	require.Len(t, v.Todos, 1)
	assert.Equal(t, "ann's plan", v.Todos[0].Task)

	c.LeaveRoom()
	v = waitSynced(t, c, "u1")
	assert.Len(t, v.Todos, 1)
}

func TestCore_OwnerEmailWithoutConnection(t *testing.T) {
	st, _ := testutil.NewStore(t)
	c := startCore(t, st, testutil.Ann)
	waitSynced(t, c, "u1")

	c.SelectRoom("u3")
	v := waitView(t, c, func(v View) bool { return v.Room == "u3" && v.RoomOwnerEmail != nil })
	assert.Equal(t, "carol@example.com", *v.RoomOwnerEmail)
}

// gatedStore holds todo fetches of the rooms in gates until released.
type gatedStore struct {
	remote.RemoteStore

	mu    sync.Mutex
	gates map[string]chan struct{}
}

func (g *gatedStore) FetchRows(ctx context.Context, table string, f query.Filter) ([]model.Row, error) {
	if table == model.TableTodos {
		g.mu.Lock()
		gate := g.gates[roomOf(f)]
		g.mu.Unlock()
		if gate != nil {
			<-gate
			// Complete the fetch even though the room was left.
			ctx = context.WithoutCancel(ctx)
		}
	}
	return g.RemoteStore.FetchRows(ctx, table, f)
}

func roomOf(f query.Filter) string {
	for _, c := range f.Conditions {
		if c.Column == "owner_id" {
			return c.Value()
		}
	}
	return ""
}

func TestCore_StaleFetchIsDiscarded(t *testing.T) {
	st, _ := testutil.NewStore(t)
	seedTodo(t, st, "u2", "bob's plan")
	seedTodo(t, st, "u1", "ann's plan")

	release := make(chan struct{})
	gs := &gatedStore{RemoteStore: st, gates: map[string]chan struct{}{"u2": release}}
	c := startCore(t, gs, testutil.Ann)
	waitSynced(t, c, "u1")

	c.SelectRoom("u2")
	waitView(t, c, func(v View) bool { return v.Room == "u2" && v.Sync == StateLoading && v.Loading })

	c.LeaveRoom()
	waitSynced(t, c, "u1")
	close(release)

	assert.Never(t, func() bool {
		v := c.State()
		return v.Room != "u1" || hasTask(v.Todos, "bob's plan") || v.Sync != StateSynced
	}, 200*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, []string{"ann's plan"}, []string{c.State().Todos[0].Task})
}

// dropStore wraps subscriptions so tests can sever them.
type dropStore struct {
	remote.RemoteStore

	mu   sync.Mutex
	subs map[string][]*dropSub
	fail map[string]error
}

func newDropStore(st remote.RemoteStore) *dropStore {
	return &dropStore{RemoteStore: st, subs: map[string][]*dropSub{}, fail: map[string]error{}}
}

func (d *dropStore) Subscribe(ctx context.Context, table string, f query.Filter) (remote.Subscription, error) {
	d.mu.Lock()
	err := d.fail[table]
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	inner, err := d.RemoteStore.Subscribe(ctx, table, f)
	if err != nil {
		return nil, err
	}
	s := newDropSub(inner)
	d.mu.Lock()
	d.subs[table] = append(d.subs[table], s)
	d.mu.Unlock()
	return s, nil
}

func (d *dropStore) count(table string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs[table])
}

// drop severs the newest subscription on table.
func (d *dropStore) drop(table string) {
	d.mu.Lock()
	s := d.subs[table][len(d.subs[table])-1]
	d.mu.Unlock()
	s.drop()
}

func (d *dropStore) setFail(table string, err error) {
	d.mu.Lock()
	d.fail[table] = err
	d.mu.Unlock()
}

type dropSub struct {
	inner remote.Subscription
	out   chan model.ChangeEvent
	stop  chan struct{}
	once  sync.Once

	mu  sync.Mutex
	err error
}

func newDropSub(inner remote.Subscription) *dropSub {
	s := &dropSub{inner: inner, out: make(chan model.ChangeEvent), stop: make(chan struct{})}
	go s.forward()
	return s
}

func (s *dropSub) forward() {
	defer close(s.out)
	defer s.inner.Close()
	for {
		select {
		case <-s.stop:
			return
		case ev, ok := <-s.inner.Events():
			if !ok {
				s.mu.Lock()
				s.err = s.inner.Err()
				s.mu.Unlock()
				return
			}
			select {
			case s.out <- ev:
			case <-s.stop:
				return
			}
		}
	}
}

func (s *dropSub) drop() {
	s.mu.Lock()
	s.err = remote.ErrStreamDropped
	s.mu.Unlock()
	s.once.Do(func() { close(s.stop) })
}

func (s *dropSub) Events() <-chan model.ChangeEvent { return s.out }

func (s *dropSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *dropSub) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

func TestCore_TodoFeedDropIsReported(t *testing.T) {
	st, _ := testutil.NewStore(t)
	ds := newDropStore(st)
	c := startCore(t, ds, testutil.Ann, WithBackOff(func() backoff.BackOff { return &backoff.StopBackOff{} }))
	waitSynced(t, c, "u1")

	ds.drop(model.TableTodos)
	v := waitView(t, c, func(v View) bool { return v.LastError != nil })
	assert.Equal(t, ErrCodeStream, v.LastError.Code)
	assert.Equal(t, "todos feed", v.LastError.Op)
	assert.Equal(t, 1, ds.count(model.TableTodos))
}

func TestCore_TodoFeedResubscribesAndRefetches(t *testing.T) {
	st, _ := testutil.NewStore(t)
	ds := newDropStore(st)
	c := startCore(t, ds, testutil.Ann)
	waitSynced(t, c, "u1")

	ds.setFail(model.TableTodos, errors.New("still offline"))
	ds.drop(model.TableTodos)
	waitView(t, c, func(v View) bool { return v.LastError != nil && v.LastError.Code != "" })

	// Written while the feed is down; only the refetch can deliver it.
	seedTodo(t, st, "u1", "written offline")
	ds.setFail(model.TableTodos, nil)

	v := waitView(t, c, func(v View) bool {
		return v.Sync == StateSynced && v.LastError == nil && hasTask(v.Todos, "written offline")
	})
	assert.Len(t, v.Todos, 1)
	assert.GreaterOrEqual(t, ds.count(model.TableTodos), 2)

	seedTodo(t, st, "u1", "written online")
	waitView(t, c, func(v View) bool { return hasTask(v.Todos, "written online") })
}

func TestCore_ConnectionFeedResubscribes(t *testing.T) {
	st, _ := testutil.NewStore(t)
	ds := newDropStore(st)
	c := startCore(t, ds, testutil.Ann)
	waitSynced(t, c, "u1")
	require.Eventually(t, func() bool { return ds.count(model.TableConnections) == 1 }, waitTimeout, 5*time.Millisecond)

	ds.drop(model.TableConnections)
	require.Eventually(t, func() bool { return ds.count(model.TableConnections) == 2 }, waitTimeout, 5*time.Millisecond)

	_, err := NewResolver(st).Grant(context.Background(), "u3", "u1")
	require.NoError(t, err)
	v := waitView(t, c, func(v View) bool { return len(v.ConnectedIn) == 1 })
	assert.Equal(t, []model.User{testutil.Carol}, v.ConnectedIn)
}

func TestCore_ConnectionsFollowRemoteChanges(t *testing.T) {
	st, _ := testutil.NewStore(t)
	ctx := context.Background()
	c := startCore(t, st, testutil.Ann)
	waitSynced(t, c, "u1")

	bob := NewResolver(st)
	_, err := bob.Grant(ctx, "u2", "u1")
	require.NoError(t, err)
	v := waitView(t, c, func(v View) bool { return len(v.ConnectedIn) == 1 })
	assert.Equal(t, []model.User{testutil.Bob}, v.ConnectedIn)

	_, err = bob.Revoke(ctx, "u2", "u1")
	require.NoError(t, err)
	waitView(t, c, func(v View) bool { return len(v.ConnectedIn) == 0 })
}

func TestCore_AddAndRemoveConnection(t *testing.T) {
	st, _ := testutil.NewStore(t)
	ctx := context.Background()
	c := startCore(t, st, testutil.Ann)
	waitSynced(t, c, "u1")

	got, err := c.AddConnection(ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, []string{"u3"}, got)

	got, err = c.AddConnection(ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, []string{"u3"}, got)

	v := waitView(t, c, func(v View) bool { return len(v.Connections) == 1 })
	assert.Equal(t, []model.User{testutil.Carol}, v.Connections)

	got, err = c.RemoveConnection(ctx, "u3")
	require.NoError(t, err)
	assert.Empty(t, got)
	waitView(t, c, func(v View) bool { return len(v.Connections) == 0 })

	_, err = c.AddConnection(ctx, "u1")
	assert.True(t, IsValidationError(err))
}

func TestCore_LastErrorAndDismiss(t *testing.T) {
	st, _ := testutil.NewStore(t)
	c := startCore(t, st, testutil.Ann)
	waitSynced(t, c, "u1")

	_, err := c.AddTask(context.Background(), "   ")
	require.True(t, IsValidationError(err))

	v := waitView(t, c, func(v View) bool { return v.LastError != nil })
	assert.Equal(t, ErrCodeValidation, v.LastError.Code)
	assert.Equal(t, "create todo", v.LastError.Op)
	assert.Empty(t, v.Todos)

	c.DismissError()
	waitView(t, c, func(v View) bool { return v.LastError == nil })
}

func TestCore_StoreErrorCarriesRemoteMessage(t *testing.T) {
	st, _ := testutil.NewStore(t)
	fs := &failingStore{RemoteStore: st, fail: map[string]error{
		"insert:todos": &remote.Error{Status: 503, Message: "database is read-only"},
	}}
	c := startCore(t, fs, testutil.Ann)
	waitSynced(t, c, "u1")

	_, err := c.AddTask(context.Background(), "anything")
	require.True(t, IsStoreError(err))

	v := waitView(t, c, func(v View) bool { return v.LastError != nil })
	assert.Equal(t, "database is read-only", v.LastError.Message)
	assert.Empty(t, v.Todos)
}

func TestCore_SubscribeFailureLeavesRoomEmpty(t *testing.T) {
	st, _ := testutil.NewStore(t)
	seedTodo(t, st, "u1", "unreachable")
	fs := &failingStore{RemoteStore: st, fail: map[string]error{
		"subscribe:todos": errors.New("realtime unavailable"),
	}}
	c := startCore(t, fs, testutil.Ann)

	v := waitView(t, c, func(v View) bool { return v.LastError != nil })
	assert.Equal(t, ErrCodeStore, v.LastError.Code)
	assert.Equal(t, "subscribe todos", v.LastError.Op)
	assert.Equal(t, StateEmpty, v.Sync)
	assert.Empty(t, v.Todos)
}

func TestCore_NoSession(t *testing.T) {
	st, _ := testutil.NewStore(t)
	c := New(st, auth.StaticSession{}, WithLogger(quietLogger()))

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthError(err))

	<-c.Ready()
	<-c.Done()
	v := c.State()
	require.NotNil(t, v.LastError)
	assert.Equal(t, ErrCodeAuth, v.LastError.Code)
	assert.Equal(t, "please sign in", v.LastError.Message)

	_, err = c.AddTask(context.Background(), "x")
	assert.True(t, IsAuthError(err))

	_, err = c.WaitSynced(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestCore_RunTwice(t *testing.T) {
	st, _ := testutil.NewStore(t)
	c := startCore(t, st, testutil.Ann)
	<-c.Ready()

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "twice"))
}

func TestCore_StopsOnCancel(t *testing.T) {
	st, _ := testutil.NewStore(t)
	c := New(st, auth.StaticSession{User: testutil.Ann}, WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	_, err := c.WaitSynced(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return")
	}
	assert.Eventually(t, func() bool { return st.Broker().Len() == 0 }, waitTimeout, 5*time.Millisecond)
}

// connGateStore holds connection subscriptions until released.
type connGateStore struct {
	remote.RemoteStore
	release chan struct{}
}

func (g *connGateStore) Subscribe(ctx context.Context, table string, f query.Filter) (remote.Subscription, error) {
	if table == model.TableConnections {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.RemoteStore.Subscribe(ctx, table, f)
}

func TestCore_GrantDuringConnectionSubscribeIsSeen(t *testing.T) {
	st, _ := testutil.NewStore(t)
	gs := &connGateStore{RemoteStore: st, release: make(chan struct{})}
	c := startCore(t, gs, testutil.Ann)
	waitSynced(t, c, "u1")

	_, err := NewResolver(st).Grant(context.Background(), "u2", "u1")
	require.NoError(t, err)
	close(gs.release)

	v := waitView(t, c, func(v View) bool { return len(v.ConnectedIn) == 1 })
	assert.Equal(t, []model.User{testutil.Bob}, v.ConnectedIn)
}

func TestCore_ConnectionSubscribeFailureStillLoads(t *testing.T) {
	st, _ := testutil.NewStore(t)
	_, err := NewResolver(st).Grant(context.Background(), "u1", "u2")
	require.NoError(t, err)
	ds := newDropStore(st)
	ds.setFail(model.TableConnections, errors.New("realtime unavailable"))
	c := startCore(t, ds, testutil.Ann, WithBackOff(func() backoff.BackOff { return &backoff.StopBackOff{} }))

	v := waitView(t, c, func(v View) bool { return len(v.Connections) == 1 })
	assert.Equal(t, []model.User{testutil.Bob}, v.Connections)
	require.NotNil(t, v.LastError)
	assert.Equal(t, ErrCodeStream, v.LastError.Code)
	assert.Equal(t, "connections feed", v.LastError.Op)
}

func TestCore_TodoDropWhileLoadingKeepsError(t *testing.T) {
	st, _ := testutil.NewStore(t)
	seedTodo(t, st, "u1", "ann's plan")
	release := make(chan struct{})
	gs := &gatedStore{RemoteStore: st, gates: map[string]chan struct{}{"u1": release}}
	ds := newDropStore(gs)
	c := startCore(t, ds, testutil.Ann, WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(time.Minute) }))

	require.Eventually(t, func() bool { return ds.count(model.TableTodos) == 1 }, waitTimeout, 5*time.Millisecond)
	ds.drop(model.TableTodos)
	waitView(t, c, func(v View) bool { return v.LastError != nil })
	close(release)

	v := waitView(t, c, func(v View) bool { return v.Sync == StateSynced })
	require.NotNil(t, v.LastError)
	assert.Equal(t, ErrCodeStream, v.LastError.Code)
	assert.Equal(t, "todos feed", v.LastError.Op)
	assert.Never(t, func() bool { return c.State().LastError == nil }, 100*time.Millisecond, 10*time.Millisecond)
}
