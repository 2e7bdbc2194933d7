package core

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/roomtodo/internal/auth"
	"github.com/roach88/roomtodo/internal/model"
	"github.com/roach88/roomtodo/internal/query"
	"github.com/roach88/roomtodo/internal/remote"
)

// ErrStopped is returned by waits on a Core whose Run has returned.
var ErrStopped = errors.New("core stopped")

// View is the state exposed to the UI. Slices are fresh per publish and
// must not be modified.
type View struct {
	Self           model.User   `json:"self"`
	Room           string       `json:"room"`
	RoomOwnerEmail *string      `json:"room_owner_email"`
	Todos          []model.Todo `json:"todos"`
	Connections    []model.User `json:"connections"`
	ConnectedIn    []model.User `json:"connected_in"`
	Loading        bool         `json:"loading"`
	Sync           SyncState    `json:"sync"`
	LastError      *ErrorInfo   `json:"last_error"`

	// Cached is the whole todo cache, soft-deleted todos included.
	Cached []model.Todo `json:"-"`
}

// IsSelf reports whether the view shows the user's own room.
func (v View) IsSelf() bool {
	return v.Room == v.Self.ID
}

// Core is the realtime synchronisation core of one client.
//
// CRITICAL: all cache mutations happen in the Run goroutine. Intent methods
// are safe from any goroutine: remote writes run in the caller, and
// everything that touches a cache is posted to the loop.
type Core struct {
	store      remote.RemoteStore
	session    auth.Session
	resolver   *Resolver
	dispatcher *Dispatcher
	logger     *slog.Logger
	newBackOff func() backoff.BackOff

	queue   *eventQueue
	running atomic.Bool

	// Loop-owned state.
	runCtx       context.Context
	self         model.User
	room         RoomSelector
	todos        TodoCache
	roomGen      uint64
	roomCancel   context.CancelFunc
	todoSub      remote.Subscription
	todoBackOff  backoff.BackOff
	todoRetryGen uint64 // generation of the last retry activation
	ownerEmail   *string

	connections  []model.User
	connectedIn  []model.User
	connGen      uint64
	connSub      remote.Subscription
	connBackOff  backoff.BackOff
	connRetrying bool
	reloadSeq    uint64
	connApplied  uint64
	inApplied    uint64

	lastError *ErrorInfo

	// Published state.
	mu      sync.Mutex
	view    View
	changed chan struct{}
	ready   chan struct{}
	done    chan struct{}

	readyOnce sync.Once
}

// Option configures a Core.
type Option func(*Core)

// WithLogger sets the core logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Core) {
		c.logger = l
	}
}

// WithBackOff sets the policy for re-establishing dropped change feeds.
// newBackOff is called once per feed.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *Core) {
		c.newBackOff = newBackOff
	}
}

// DefaultBackOff retries forever, from 500ms up to 30s between attempts.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// New creates a Core over store for the user of session.
func New(store remote.RemoteStore, session auth.Session, opts ...Option) *Core {
	c := &Core{
		store:      store,
		session:    session,
		resolver:   NewResolver(store),
		dispatcher: NewDispatcher(store),
		logger:     slog.Default(),
		newBackOff: DefaultBackOff,
		queue:      newEventQueue(),
		changed:    make(chan struct{}),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.todoBackOff = c.newBackOff()
	c.connBackOff = c.newBackOff()
	c.view = View{Loading: true}
	return c
}

// Run resolves the session and runs the event loop until ctx is canceled.
// Returns an AUTH error if nobody is signed in.
//
// CRITICAL: call exactly once.
func (c *Core) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("core: Run called twice")
	}
	defer close(c.done)

	u, err := c.session.CurrentUser(ctx)
	if err == nil && u.ID == "" {
		err = auth.ErrNoSession
	}
	if err != nil {
		authErr := NewAuthError(err)
		c.lastError = authErr.Info()
		c.queue.Close()
		c.publish()
		c.logger.Warn("core not started: no session", "error", err)
		return authErr
	}

	c.runCtx = ctx
	c.self = u
	c.room.Resolve(u.ID)
	c.logger.Info("core starting", "user", u.ID)

	c.startConnFeed()
	c.activateRoom(false)
	c.publish()

	defer c.shutdown()

	for {
		if ev, ok := c.queue.TryDequeue(); ok {
			c.process(ev)
			if c.queue.Len() == 0 {
				c.publish()
			}
			continue
		}

		select {
		case <-ctx.Done():
			c.logger.Info("core stopping: context cancelled")
			return ctx.Err()
		case <-c.queue.Wait():
		}
	}
}

// shutdown releases every subscription, including ones still in the queue.
func (c *Core) shutdown() {
	c.queue.Close()
	if c.roomCancel != nil {
		c.roomCancel()
	}
	if c.todoSub != nil {
		c.todoSub.Close()
	}
	if c.connSub != nil {
		c.connSub.Close()
	}
	for _, ev := range c.queue.Drain() {
		if ev.sub != nil && (ev.typ == evTodoSubscribed || ev.typ == evConnSubscribed) {
			ev.sub.Close()
		}
	}
}

// post hands an event to the loop. Returns false once the loop has stopped.
func (c *Core) post(ev event) bool {
	return c.queue.Enqueue(ev)
}

// process routes one event.
// CRITICAL: called only from Run.
func (c *Core) process(ev event) {
	switch ev.typ {
	case evSelectRoom:
		if c.room.Select(ev.room) {
			c.activateRoom(false)
		}
	case evLeaveRoom:
		if c.room.Leave() {
			c.activateRoom(false)
		}

	case evTodoSubscribed:
		if ev.gen != c.roomGen {
			ev.sub.Close()
			return
		}
		c.todoSub = ev.sub
	case evTodoSubscribeFailed:
		if ev.gen != c.roomGen {
			return
		}
		c.todos.Fail(ev.gen)
		c.setError(NewStoreError("subscribe todos", ev.err))
		if ev.gen == c.todoRetryGen {
			c.scheduleTodoRetry(ev.gen)
		}
	case evTodosLoaded:
		c.applyTodoLoad(ev)
	case evTodoChange:
		if ev.gen != c.roomGen {
			return
		}
		if _, err := c.todos.Apply(ev.gen, ev.change); err != nil {
			c.logger.Warn("ignoring malformed todo event", "seq", ev.change.Seq, "error", err)
		}
	case evTodoStreamEnded:
		if ev.gen != c.roomGen || ev.err == nil {
			return
		}
		c.todoSub = nil
		c.todoRetryGen = 0
		c.setError(NewStreamError("todos feed", ev.err))
		c.scheduleTodoRetry(ev.gen)
	case evTodoRetry:
		if ev.gen == c.roomGen {
			c.activateRoom(true)
		}
	case evOwnerEmail:
		if ev.gen == c.roomGen && c.ownerEmail == nil && ev.email != "" {
			email := ev.email
			c.ownerEmail = &email
		}

	case evConnSubscribed:
		if ev.gen != c.connGen {
			ev.sub.Close()
			return
		}
		c.connSub = ev.sub
		if c.connRetrying {
			c.connRetrying = false
			c.connBackOff.Reset()
			c.clearFeedError("connections feed")
		}
		// Fetch only once the feed is live, as loadRoom does for todos.
		c.reloadConnections()
		c.reloadConnectedIn()
	case evConnSubscribeFailed:
		if ev.gen != c.connGen {
			return
		}
		c.setError(NewStreamError("connections feed", ev.err))
		if !c.connRetrying {
			// Show what the store has while the feed retries.
			c.reloadConnections()
			c.reloadConnectedIn()
		}
		c.scheduleConnRetry(ev.gen)
	case evConnChange:
		if ev.gen == c.connGen {
			c.applyConnChange(ev.change)
		}
	case evConnStreamEnded:
		if ev.gen != c.connGen || ev.err == nil {
			return
		}
		c.connSub = nil
		c.setError(NewStreamError("connections feed", ev.err))
		c.scheduleConnRetry(ev.gen)
	case evConnRetry:
		if ev.gen == c.connGen {
			c.connRetrying = true
			c.startConnFeed()
		}
	case evConnectionsLoaded:
		if ev.seq <= c.connApplied {
			return
		}
		c.connApplied = ev.seq
		if ev.err != nil {
			c.setError(ev.err)
			return
		}
		c.connections = ev.users
	case evConnectedInLoaded:
		if ev.seq <= c.inApplied {
			return
		}
		c.inApplied = ev.seq
		if ev.err != nil {
			c.setError(ev.err)
			return
		}
		c.connectedIn = ev.users
		if c.ownerEmail == nil && !c.room.IsSelf() {
			if u, ok := findUser(c.connectedIn, c.room.Active()); ok {
				email := u.Email
				c.ownerEmail = &email
			}
		}
	case evReloadConnections:
		c.reloadConnections()
		c.reloadConnectedIn()

	case evError:
		c.setError(ev.err)
	case evDismissError:
		c.lastError = nil

	default:
		c.logger.Error("unknown core event", "type", ev.typ)
	}
}

// activateRoom tears down the current room and starts loading the active
// one under a new generation.
func (c *Core) activateRoom(retry bool) {
	c.roomGen++
	gen := c.roomGen
	if c.roomCancel != nil {
		c.roomCancel()
	}
	if c.todoSub != nil {
		c.todoSub.Close()
		c.todoSub = nil
	}
	if retry {
		c.todoRetryGen = gen
	} else {
		c.todoBackOff.Reset()
	}

	room := c.room.Active()
	c.todos.Activate(room, gen)

	c.ownerEmail = nil
	if !c.room.IsSelf() {
		if u, ok := findUser(c.connectedIn, room); ok {
			email := u.Email
			c.ownerEmail = &email
		}
	}

	ctx, cancel := context.WithCancel(c.runCtx)
	c.roomCancel = cancel

	c.logger.Info("room activated", "room", room, "gen", gen, "retry", retry)
	go c.loadRoom(ctx, gen, room, c.ownerEmail == nil && !c.room.IsSelf())
}

// loadRoom subscribes before fetching so no event falls between the fetch
// snapshot and the feed. Runs in a helper goroutine.
func (c *Core) loadRoom(ctx context.Context, gen uint64, room string, lookupOwner bool) {
	if lookupOwner {
		go func() {
			email, err := c.resolver.RoomOwnerEmail(ctx, room)
			if err != nil {
				c.logger.Debug("room owner lookup failed", "room", room, "error", err)
				return
			}
			c.post(event{typ: evOwnerEmail, gen: gen, email: email})
		}()
	}

	sub, err := c.store.Subscribe(ctx, model.TableTodos, query.New().Eq("owner_id", room))
	if err != nil {
		c.post(event{typ: evTodoSubscribeFailed, gen: gen, err: err})
		return
	}
	if !c.post(event{typ: evTodoSubscribed, gen: gen, sub: sub}) {
		sub.Close()
		return
	}
	go c.pump(sub, gen, evTodoChange, evTodoStreamEnded)

	rows, err := c.store.FetchRows(ctx, model.TableTodos, RoomFilter(room))
	var todos []model.Todo
	if err == nil {
		todos, err = model.DecodeRows[model.Todo](rows)
	}
	c.post(event{typ: evTodosLoaded, gen: gen, todos: todos, err: err})
}

// RoomFilter selects the visible todos of room, newest first.
func RoomFilter(room string) query.Filter {
	return query.New().
		Eq("owner_id", room).
		Eq("deleted", "false").
		OrderBy("created_at", true)
}

func (c *Core) applyTodoLoad(ev event) {
	if ev.gen != c.roomGen {
		c.logger.Debug("discarding stale todo fetch", "gen", ev.gen, "current", c.roomGen)
		return
	}
	if ev.err != nil {
		c.todos.Fail(ev.gen)
		c.setError(NewStoreError("load todos", ev.err))
		if ev.gen == c.todoRetryGen {
			c.scheduleTodoRetry(ev.gen)
		}
		return
	}
	if !c.todos.Load(ev.gen, ev.todos) {
		return
	}
	// Only a retry activation proves the feed is back. A drop during the
	// initial load still has its retry pending.
	if ev.gen == c.todoRetryGen {
		c.todoRetryGen = 0
		c.todoBackOff.Reset()
		c.clearFeedError("todos feed", "subscribe todos", "load todos")
	}
	c.logger.Debug("todos loaded", "room", c.todos.Room(), "count", len(ev.todos), "gen", ev.gen)
}

// pump forwards a subscription's events to the loop, then reports how the
// stream ended.
func (c *Core) pump(sub remote.Subscription, gen uint64, change, ended eventType) {
	for ev := range sub.Events() {
		if !c.post(event{typ: change, gen: gen, change: ev}) {
			return
		}
	}
	c.post(event{typ: ended, gen: gen, err: sub.Err()})
}

func (c *Core) scheduleTodoRetry(gen uint64) {
	d := c.todoBackOff.NextBackOff()
	if d == backoff.Stop {
		c.logger.Error("giving up on todos feed", "room", c.todos.Room())
		return
	}
	c.logger.Info("todos feed retry scheduled", "room", c.todos.Room(), "in", d)
	time.AfterFunc(d, func() { c.post(event{typ: evTodoRetry, gen: gen}) })
}

// startConnFeed (re)subscribes to the connections table. The feed is
// unfiltered: a revocation removes self from the record, so a grantee
// filter would never deliver it.
func (c *Core) startConnFeed() {
	c.connGen++
	gen := c.connGen
	if c.connSub != nil {
		c.connSub.Close()
		c.connSub = nil
	}
	ctx := c.runCtx
	go func() {
		sub, err := c.store.Subscribe(ctx, model.TableConnections, query.New())
		if err != nil {
			c.post(event{typ: evConnSubscribeFailed, gen: gen, err: err})
			return
		}
		if !c.post(event{typ: evConnSubscribed, gen: gen, sub: sub}) {
			sub.Close()
			return
		}
		c.pump(sub, gen, evConnChange, evConnStreamEnded)
	}()
}

func (c *Core) scheduleConnRetry(gen uint64) {
	d := c.connBackOff.NextBackOff()
	if d == backoff.Stop {
		c.logger.Error("giving up on connections feed")
		return
	}
	c.logger.Info("connections feed retry scheduled", "in", d)
	time.AfterFunc(d, func() { c.post(event{typ: evConnRetry, gen: gen}) })
}

// applyConnChange reloads whichever side of the graph the record touches.
func (c *Core) applyConnChange(ev model.ChangeEvent) {
	conn, err := ev.Connector()
	if err != nil {
		c.logger.Warn("ignoring malformed connection event", "seq", ev.Seq, "error", err)
		return
	}
	if conn.Owner == c.self.ID {
		c.reloadConnections()
	}
	if _, known := findUser(c.connectedIn, conn.Owner); known || conn.HasGrantee(c.self.ID) {
		c.reloadConnectedIn()
	}
}

// reloadConnections starts a stamped reload; see evConnectionsLoaded.
func (c *Core) reloadConnections() {
	c.reloadSeq++
	seq, self, ctx := c.reloadSeq, c.self.ID, c.runCtx
	go func() {
		users, err := c.resolver.LoadConnections(ctx, self)
		c.post(event{typ: evConnectionsLoaded, seq: seq, users: users, err: err})
	}()
}

func (c *Core) reloadConnectedIn() {
	c.reloadSeq++
	seq, self, ctx := c.reloadSeq, c.self.ID, c.runCtx
	go func() {
		users, err := c.resolver.LoadConnectedIn(ctx, self)
		c.post(event{typ: evConnectedInLoaded, seq: seq, users: users, err: err})
	}()
}

func (c *Core) setError(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	info := asCoreError("", err).Info()
	c.lastError = info
	c.logger.Warn("core error", "code", info.Code, "op", info.Op, "message", info.Message)
}

// clearFeedError drops the last error if a feed recovery just resolved it.
func (c *Core) clearFeedError(ops ...string) {
	if c.lastError != nil && slices.Contains(ops, c.lastError.Op) {
		c.lastError = nil
	}
}

// publish snapshots loop state for readers and wakes waiters.
func (c *Core) publish() {
	v := View{
		Self:        c.self,
		Room:        c.room.Active(),
		Todos:       c.todos.Visible(),
		Cached:      c.todos.Todos(),
		Connections: slices.Clone(c.connections),
		ConnectedIn: slices.Clone(c.connectedIn),
		Loading:     !c.room.Resolved() || c.todos.State() == StateLoading,
		Sync:        c.todos.State(),
		LastError:   c.lastError,
	}
	if c.ownerEmail != nil {
		email := *c.ownerEmail
		v.RoomOwnerEmail = &email
	}
	if v.Connections == nil {
		v.Connections = []model.User{}
	}
	if v.ConnectedIn == nil {
		v.ConnectedIn = []model.User{}
	}

	c.mu.Lock()
	c.view = v
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()

	c.readyOnce.Do(func() { close(c.ready) })
}

func findUser(users []model.User, id string) (model.User, bool) {
	for _, u := range users {
		if u.ID == id {
			return u, true
		}
	}
	return model.User{}, false
}
