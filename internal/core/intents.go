package core

import (
	"context"

	"github.com/roach88/roomtodo/internal/model"
)

// State returns the latest published view.
func (c *Core) State() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Changes returns a channel that is closed at the next state change.
// Call it again after each wake-up.
func (c *Core) Changes() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// Ready is closed once the session has been resolved (or rejected) and the
// first view published.
func (c *Core) Ready() <-chan struct{} {
	return c.ready
}

// Done is closed when Run returns.
func (c *Core) Done() <-chan struct{} {
	return c.done
}

// WaitFor blocks until pred holds for the published view and returns that
// view.
func (c *Core) WaitFor(ctx context.Context, pred func(View) bool) (View, error) {
	for {
		c.mu.Lock()
		v, ch := c.view, c.changed
		c.mu.Unlock()

		if pred(v) {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-c.done:
			return c.State(), ErrStopped
		case <-ch:
		}
	}
}

// WaitSynced waits until the active room's todos are synced.
func (c *Core) WaitSynced(ctx context.Context) (View, error) {
	return c.WaitFor(ctx, func(v View) bool { return v.Sync == StateSynced })
}

// WaitRoom waits until room is active and synced.
func (c *Core) WaitRoom(ctx context.Context, room string) (View, error) {
	return c.WaitFor(ctx, func(v View) bool { return v.Room == room && v.Sync == StateSynced })
}

// AddTask creates a todo in the active room. The todo appears in the view
// when the change feed echoes it.
func (c *Core) AddTask(ctx context.Context, text string, assignees ...string) (model.Todo, error) {
	v, err := c.signedIn()
	if err != nil {
		return model.Todo{}, err
	}
	t, err := c.dispatcher.CreateTodo(ctx, NewTodo{
		Task:       text,
		AssignedTo: assignees,
		CreatedBy:  v.Self.ID,
		OwnerID:    v.Room,
	})
	return t, c.report(err)
}

// ToggleComplete sets the completed flag of todo id.
func (c *Core) ToggleComplete(ctx context.Context, id int64, completed bool) error {
	if _, err := c.signedIn(); err != nil {
		return err
	}
	_, err := c.dispatcher.SetCompleted(ctx, id, completed)
	return c.report(err)
}

// EditTask replaces the text of todo id.
func (c *Core) EditTask(ctx context.Context, id int64, text string) error {
	if _, err := c.signedIn(); err != nil {
		return err
	}
	_, err := c.dispatcher.UpdateTodo(ctx, id, model.TodoPatch{Task: &text})
	return c.report(err)
}

// DeleteTask soft-deletes todo id.
func (c *Core) DeleteTask(ctx context.Context, id int64) error {
	if _, err := c.signedIn(); err != nil {
		return err
	}
	return c.report(c.dispatcher.DeleteTodo(ctx, id))
}

// AddConnection grants userID access to the user's room and returns the
// resulting grantee set.
func (c *Core) AddConnection(ctx context.Context, userID string) ([]string, error) {
	v, err := c.signedIn()
	if err != nil {
		return nil, err
	}
	grantees, err := c.resolver.Grant(ctx, v.Self.ID, userID)
	if err != nil {
		return nil, c.report(err)
	}
	c.post(event{typ: evReloadConnections})
	return grantees, nil
}

// RemoveConnection revokes userID's access and returns the resulting
// grantee set.
func (c *Core) RemoveConnection(ctx context.Context, userID string) ([]string, error) {
	v, err := c.signedIn()
	if err != nil {
		return nil, err
	}
	grantees, err := c.resolver.Revoke(ctx, v.Self.ID, userID)
	if err != nil {
		return nil, c.report(err)
	}
	c.post(event{typ: evReloadConnections})
	return grantees, nil
}

// SelectRoom switches to userID's room; empty selects the user's own.
func (c *Core) SelectRoom(userID string) {
	c.post(event{typ: evSelectRoom, room: userID})
}

// LeaveRoom returns to the user's own room. Idempotent.
func (c *Core) LeaveRoom() {
	c.post(event{typ: evLeaveRoom})
}

// DismissError clears View.LastError.
func (c *Core) DismissError() {
	c.post(event{typ: evDismissError})
}

func (c *Core) signedIn() (View, error) {
	v := c.State()
	if v.Self.ID == "" {
		return v, c.report(NewAuthError(nil))
	}
	return v, nil
}

// report records err as the last error and returns it as a core *Error.
func (c *Core) report(err error) error {
	if err == nil {
		return nil
	}
	ce := asCoreError("", err)
	c.post(event{typ: evError, err: ce})
	return ce
}
