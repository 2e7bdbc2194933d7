package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/roomtodo/internal/auth"
	"github.com/roach88/roomtodo/internal/core"
	"github.com/roach88/roomtodo/internal/model"
	"github.com/roach88/roomtodo/internal/store"
	"github.com/roach88/roomtodo/internal/testutil"
)

// SettleTimeout bounds how long the harness waits for actors to converge
// after a step.
const SettleTimeout = 5 * time.Second

var defaultUsers = []model.User{testutil.Ann, testutil.Bob, testutil.Carol}

// Harness runs one scenario: a fresh store and one core per actor.
type Harness struct {
	store    *store.Store
	resolver *core.Resolver
	logger   *slog.Logger
	actors   []*actor
	users    map[string]model.User
	labels   map[string]int64
}

type actor struct {
	user model.User
	core *core.Core
	// room and lastError are what the actor's intents have asked for.
	room      string
	lastError string
}

// Option configures Run.
type Option func(*options)

type options struct {
	logger *slog.Logger
	dir    string
}

// WithLogger routes store and core logs to l. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDir places the scenario database in dir instead of a fresh temp dir.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh SQLite database with a deterministic
// wall clock, so todo ids and timestamps repeat across runs. After every
// step the harness waits until each actor's view matches the store: the
// active room is synced and its visible todos and both connection lists
// equal what a fresh fetch returns.
//
// A step that fails unexpectedly, or an assertion that does not hold,
// marks the result failed. Infrastructure failures, and actors that do not
// converge within SettleTimeout, are returned as errors.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dir == "" {
		dir, err := os.MkdirTemp("", "roomtodo-scenario-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create scenario dir: %w", err)
		}
		defer os.RemoveAll(dir)
		o.dir = dir
	}

	clock := testutil.NewDefaultWallClock()
	st, err := store.Open(filepath.Join(o.dir, "scenario.db"),
		store.WithClock(clock.Now),
		store.WithLogger(o.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario store: %w", err)
	}
	defer func() {
		st.Broker().Close()
		st.Close()
	}()

	h := &Harness{
		store:    st,
		resolver: core.NewResolver(st),
		logger:   o.logger,
		users:    make(map[string]model.User),
		labels:   make(map[string]int64),
	}
	for _, u := range scenario.users() {
		if _, err := st.PutUser(ctx, u); err != nil {
			return nil, fmt.Errorf("failed to seed user %s: %w", u.ID, err)
		}
		h.users[u.ID] = u
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	defer func() {
		cancel()
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			h.logger.Warn("core stopped with error", "error", err)
		}
	}()

	for _, id := range scenario.Actors {
		a := &actor{
			user: h.users[id],
			room: id,
		}
		a.core = core.New(st, auth.StaticSession{User: a.user},
			core.WithLogger(o.logger.With("actor", id)),
			core.WithBackOff(fastBackOff),
		)
		g.Go(func() error { return a.core.Run(gctx) })
		h.actors = append(h.actors, a)
	}

	if err := h.settle(ctx); err != nil {
		return nil, fmt.Errorf("initial sync: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		ev := h.execute(ctx, step)
		ev.Seq = i + 1
		result.Trace = append(result.Trace, ev)

		if ev.Error != step.ExpectError {
			result.AddError(fmt.Sprintf("steps[%d] %s %s: expected error %q, got %q",
				i, step.Actor, step.Do, step.ExpectError, ev.Error))
		}
		if err := h.settle(ctx); err != nil {
			return nil, fmt.Errorf("steps[%d] %s %s: %w", i, step.Actor, step.Do, err)
		}
	}

	for _, a := range h.actors {
		result.Views = append(result.Views, snapshot(a))
	}

	for _, msg := range h.evaluate(ctx, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func fastBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(10 * time.Millisecond)
}

// execute issues one intent and records its outcome.
func (h *Harness) execute(ctx context.Context, step Step) TraceEvent {
	a := h.actor(step.Actor)
	ev := TraceEvent{Actor: step.Actor, Do: step.Do}
	args := step.Args

	var err error
	switch step.Do {
	case OpAddTask:
		var t model.Todo
		t, err = a.core.AddTask(ctx, args.Task, args.Assign...)
		if err == nil {
			ev.Todo = t.ID
			if args.As != "" {
				h.labels[args.As] = t.ID
			}
		}
	case OpToggle:
		ev.Todo = h.labels[args.Todo]
		err = a.core.ToggleComplete(ctx, ev.Todo, args.Completed)
	case OpEdit:
		ev.Todo = h.labels[args.Todo]
		err = a.core.EditTask(ctx, ev.Todo, args.Task)
	case OpDelete:
		ev.Todo = h.labels[args.Todo]
		err = a.core.DeleteTask(ctx, ev.Todo)
	case OpConnect:
		ev.Grantees, err = a.core.AddConnection(ctx, args.User)
	case OpDisconnect:
		ev.Grantees, err = a.core.RemoveConnection(ctx, args.User)
	case OpSelectRoom:
		a.core.SelectRoom(args.Room)
		a.room = args.Room
	case OpLeaveRoom:
		a.core.LeaveRoom()
		a.room = a.user.ID
	case OpDismissError:
		a.core.DismissError()
		a.lastError = ""
	}

	if err != nil {
		ev.Error = errorCode(err)
		a.lastError = ev.Error
		ev.Grantees = nil
		h.logger.Debug("step failed", "actor", step.Actor, "do", step.Do, "error", err)
	}
	return ev
}

func errorCode(err error) string {
	var ce *core.Error
	if errors.As(err, &ce) {
		return string(ce.Code)
	}
	return err.Error()
}

func errorInfoCode(info *core.ErrorInfo) string {
	if info == nil {
		return ""
	}
	return string(info.Code)
}

func (h *Harness) actor(id string) *actor {
	for _, a := range h.actors {
		if a.user.ID == id {
			return a
		}
	}
	return nil
}

// settle polls until every actor has converged.
func (h *Harness) settle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, SettleTimeout)
	defer cancel()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		pending, err := h.pending(ctx)
		if err != nil {
			return err
		}
		if pending == "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("actors did not converge: %s", pending)
		case <-ticker.C:
		}
	}
}

// pending describes the first actor whose view differs from the store, or
// returns "" when all have converged.
func (h *Harness) pending(ctx context.Context) (string, error) {
	for _, a := range h.actors {
		v := a.core.State()
		switch {
		case v.Room != a.room:
			return fmt.Sprintf("%s: room %q, want %q", a.user.ID, v.Room, a.room), nil
		case v.Sync != core.StateSynced:
			return fmt.Sprintf("%s: room %s is %s", a.user.ID, v.Room, v.Sync), nil
		case errorInfoCode(v.LastError) != a.lastError:
			return fmt.Sprintf("%s: last error %q, want %q", a.user.ID, errorInfoCode(v.LastError), a.lastError), nil
		}

		if _, known := h.users[a.room]; known && a.room != a.user.ID && v.RoomOwnerEmail == nil {
			return fmt.Sprintf("%s: owner of %s not resolved", a.user.ID, a.room), nil
		}

		rows, err := h.store.FetchRows(ctx, model.TableTodos, core.RoomFilter(a.room))
		if err != nil {
			return "", fmt.Errorf("fetch todos of %s: %w", a.room, err)
		}
		want, err := model.DecodeRows[model.Todo](rows)
		if err != nil {
			return "", err
		}
		if !sameTodos(v.Todos, want) {
			return fmt.Sprintf("%s: todos of %s differ from the store", a.user.ID, a.room), nil
		}

		conns, err := h.resolver.LoadConnections(ctx, a.user.ID)
		if err != nil {
			return "", err
		}
		if !slices.Equal(userIDs(v.Connections), userIDs(conns)) {
			return fmt.Sprintf("%s: connections %v, want %v", a.user.ID, userIDs(v.Connections), userIDs(conns)), nil
		}

		in, err := h.resolver.LoadConnectedIn(ctx, a.user.ID)
		if err != nil {
			return "", err
		}
		if !slices.Equal(userIDs(v.ConnectedIn), userIDs(in)) {
			return fmt.Sprintf("%s: connected in %v, want %v", a.user.ID, userIDs(v.ConnectedIn), userIDs(in)), nil
		}
	}
	return "", nil
}

// sameTodos compares two todo sets regardless of order.
func sameTodos(got, want []model.Todo) bool {
	if len(got) != len(want) {
		return false
	}
	byID := make(map[int64]model.Todo, len(want))
	for _, t := range want {
		byID[t.ID] = t
	}
	for _, t := range got {
		w, ok := byID[t.ID]
		if !ok ||
			t.Task != w.Task ||
			t.Completed != w.Completed ||
			t.OwnerID != w.OwnerID ||
			t.Deleted != w.Deleted ||
			!slices.Equal(t.AssignedTo, w.AssignedTo) {
			return false
		}
	}
	return true
}

func userIDs(users []model.User) []string {
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids
}

func snapshot(a *actor) ActorView {
	v := a.core.State()
	out := ActorView{
		Actor:       a.user.ID,
		Room:        v.Room,
		Todos:       make([]TodoLine, len(v.Todos)),
		Connections: userIDs(v.Connections),
		ConnectedIn: userIDs(v.ConnectedIn),
	}
	if v.RoomOwnerEmail != nil {
		out.OwnerEmail = *v.RoomOwnerEmail
	}
	out.LastError = errorInfoCode(v.LastError)
	for i, t := range v.Todos {
		out.Todos[i] = TodoLine{
			ID:        t.ID,
			Task:      t.Task,
			Completed: t.Completed,
			CreatedBy: t.CreatedBy,
		}
		if len(t.AssignedTo) > 0 {
			out.Todos[i].AssignedTo = t.AssignedTo
		}
	}
	return out
}
