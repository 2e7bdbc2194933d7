package core

import (
	"fmt"
	"slices"

	"github.com/roach88/roomtodo/internal/model"
)

// SyncState is the state of a TodoCache.
type SyncState int

const (
	StateEmpty SyncState = iota
	StateLoading
	StateSynced
	StateReconciling
)

func (s SyncState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateSynced:
		return "synced"
	case StateReconciling:
		return "reconciling"
	default:
		return fmt.Sprintf("SyncState(%d)", int(s))
	}
}

// MarshalText renders the state name.
func (s SyncState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TodoCache is the local copy of one room's todos.
//
// CRITICAL: not safe for concurrent use. Core.Run is its only writer.
//
// INVARIANTS:
//   - every cached todo has OwnerID == Room()
//   - ids are unique
//   - soft-deleted todos stay cached; Visible hides them
type TodoCache struct {
	room    string
	gen     uint64
	state   SyncState
	items   []model.Todo
	pending []model.ChangeEvent
}

// Activate starts loading room under generation gen. The cache is cleared
// and events are buffered until Load.
func (c *TodoCache) Activate(room string, gen uint64) {
	c.room = room
	c.gen = gen
	c.state = StateLoading
	c.items = nil
	c.pending = nil
}

// Load replaces the cache with the fetched rows and replays events that
// arrived during the fetch. Returns false, changing nothing, if gen is
// stale or the cache is not loading.
func (c *TodoCache) Load(gen uint64, rows []model.Todo) bool {
	if gen != c.gen || c.state != StateLoading {
		return false
	}
	c.items = make([]model.Todo, 0, len(rows))
	for _, t := range rows {
		if t.OwnerID != c.room || c.index(t.ID) >= 0 {
			continue
		}
		c.items = append(c.items, t)
	}
	c.state = StateSynced

	pending := c.pending
	c.pending = nil
	for _, ev := range pending {
		c.reconcile(ev)
	}
	return true
}

// Fail abandons the load of generation gen. The cache returns to Empty;
// the room stays active.
func (c *TodoCache) Fail(gen uint64) bool {
	if gen != c.gen || c.state != StateLoading {
		return false
	}
	c.state = StateEmpty
	c.items = nil
	c.pending = nil
	return true
}

// Apply reconciles one change event. Returns true if the cache changed.
//
// Events from another generation, or for a todo of another room, are
// ignored. While loading, events are buffered. A DELETE whose record has
// no owner_id is matched by id alone.
func (c *TodoCache) Apply(gen uint64, ev model.ChangeEvent) (bool, error) {
	if gen != c.gen || ev.Table != model.TableTodos {
		return false, nil
	}
	t, err := ev.Todo()
	if err != nil {
		return false, err
	}
	if !c.inRoom(ev.Kind, t) {
		return false, nil
	}

	switch c.state {
	case StateLoading:
		c.pending = append(c.pending, ev)
		return false, nil
	case StateSynced:
		return c.reconcile(ev), nil
	default:
		return false, nil
	}
}

func (c *TodoCache) inRoom(kind model.ChangeKind, t model.Todo) bool {
	if kind == model.ChangeDelete && t.OwnerID == "" {
		return true
	}
	return t.OwnerID == c.room
}

// reconcile applies ev to a synced cache: Synced -> Reconciling -> Synced.
func (c *TodoCache) reconcile(ev model.ChangeEvent) bool {
	t, err := ev.Todo()
	if err != nil || !c.inRoom(ev.Kind, t) {
		return false
	}

	c.state = StateReconciling
	defer func() { c.state = StateSynced }()

	i := c.index(t.ID)
	switch ev.Kind {
	case model.ChangeInsert:
		if i >= 0 {
			return false
		}
		c.items = append(c.items, t)
		return true
	case model.ChangeUpdate:
		if i < 0 {
			return false
		}
		c.items[i] = t
		return true
	case model.ChangeDelete:
		if i < 0 {
			return false
		}
		c.items = slices.Delete(c.items, i, i+1)
		return true
	}
	return false
}

// Deactivate empties the cache and forgets the room.
func (c *TodoCache) Deactivate() {
	c.room = ""
	c.state = StateEmpty
	c.items = nil
	c.pending = nil
}

// Todos returns a copy of the cache, soft-deleted todos included.
func (c *TodoCache) Todos() []model.Todo {
	out := make([]model.Todo, len(c.items))
	for i, t := range c.items {
		out[i] = cloneTodo(t)
	}
	return out
}

// Visible returns the todos to render: those not soft-deleted.
func (c *TodoCache) Visible() []model.Todo {
	out := make([]model.Todo, 0, len(c.items))
	for _, t := range c.items {
		if t.Visible(c.room) {
			out = append(out, cloneTodo(t))
		}
	}
	return out
}

// State returns the sync state.
func (c *TodoCache) State() SyncState {
	return c.state
}

// Room returns the room being cached.
func (c *TodoCache) Room() string {
	return c.room
}

// Gen returns the generation of the current activation.
func (c *TodoCache) Gen() uint64 {
	return c.gen
}

// Pending returns the number of buffered events.
func (c *TodoCache) Pending() int {
	return len(c.pending)
}

func (c *TodoCache) index(id int64) int {
	return slices.IndexFunc(c.items, func(t model.Todo) bool { return t.ID == id })
}

func cloneTodo(t model.Todo) model.Todo {
	t.AssignedTo = slices.Clone(t.AssignedTo)
	return t
}
