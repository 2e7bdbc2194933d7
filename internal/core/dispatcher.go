package core

import (
	"context"
	"strconv"

	"github.com/roach88/roomtodo/internal/model"
	"github.com/roach88/roomtodo/internal/remote"
)

// NewTodo is the input of CreateTodo.
type NewTodo struct {
	Task       string
	AssignedTo []string
	CreatedBy  string
	OwnerID    string
}

// Dispatcher issues todo writes.
//
// It never touches a cache: the change-feed echo of a write is the only
// way the write becomes visible, and a failed write leaves nothing to roll
// back.
type Dispatcher struct {
	store remote.RemoteStore
}

// NewDispatcher creates a Dispatcher over store.
func NewDispatcher(store remote.RemoteStore) *Dispatcher {
	return &Dispatcher{store: store}
}

// CreateTodo inserts a new, incomplete todo and returns it as stored.
// The task is NFC-normalised and trimmed and must not be empty.
func (d *Dispatcher) CreateTodo(ctx context.Context, in NewTodo) (model.Todo, error) {
	const op = "create todo"
	task := model.NormalizeTask(in.Task)
	switch {
	case task == "":
		return model.Todo{}, NewValidationError(op, "task text is required")
	case in.CreatedBy == "":
		return model.Todo{}, NewValidationError(op, "creator is required")
	case in.OwnerID == "":
		return model.Todo{}, NewValidationError(op, "room is required")
	}
	assigned, err := assignees(op, in.AssignedTo)
	if err != nil {
		return model.Todo{}, err
	}

	row, err := model.EncodeRow(map[string]any{
		"task":        task,
		"completed":   false,
		"assigned_to": assigned,
		"created_by":  in.CreatedBy,
		"owner_id":    in.OwnerID,
		"deleted":     false,
	})
	if err != nil {
		return model.Todo{}, NewStoreError(op, err)
	}

	stored, err := d.store.InsertRow(ctx, model.TableTodos, row)
	if err != nil {
		return model.Todo{}, NewStoreError(op, err)
	}
	t, err := model.DecodeRow[model.Todo](stored)
	if err != nil {
		return model.Todo{}, NewStoreError(op, err)
	}
	return t, nil
}

// UpdateTodo applies a partial update to todo id and returns the stored
// row. An empty patch, or a patch setting an empty task, is rejected.
func (d *Dispatcher) UpdateTodo(ctx context.Context, id int64, patch model.TodoPatch) (model.Todo, error) {
	return d.update(ctx, "update todo", id, patch)
}

// DeleteTodo soft-deletes todo id.
func (d *Dispatcher) DeleteTodo(ctx context.Context, id int64) error {
	deleted := true
	_, err := d.update(ctx, "delete todo", id, model.TodoPatch{Deleted: &deleted})
	return err
}

// SetCompleted marks todo id complete or incomplete.
func (d *Dispatcher) SetCompleted(ctx context.Context, id int64, completed bool) (model.Todo, error) {
	return d.update(ctx, "set completed", id, model.TodoPatch{Completed: &completed})
}

func (d *Dispatcher) update(ctx context.Context, op string, id int64, patch model.TodoPatch) (model.Todo, error) {
	if id <= 0 {
		return model.Todo{}, NewValidationError(op, "todo id is required")
	}
	if patch.IsEmpty() {
		return model.Todo{}, NewValidationError(op, "nothing to update")
	}
	if patch.Task != nil {
		task := model.NormalizeTask(*patch.Task)
		if task == "" {
			return model.Todo{}, NewValidationError(op, "task text is required")
		}
		patch.Task = &task
	}
	if patch.OwnerID != nil && *patch.OwnerID == "" {
		return model.Todo{}, NewValidationError(op, "room is required")
	}
	if patch.AssignedTo != nil {
		assigned, err := assignees(op, patch.AssignedTo)
		if err != nil {
			return model.Todo{}, err
		}
		patch.AssignedTo = assigned
	}

	stored, err := d.store.UpdateRow(ctx, model.TableTodos, strconv.FormatInt(id, 10), patch.Patch())
	if err != nil {
		return model.Todo{}, NewStoreError(op, err)
	}
	t, err := model.DecodeRow[model.Todo](stored)
	if err != nil {
		return model.Todo{}, NewStoreError(op, err)
	}
	return t, nil
}

// assignees rejects empty ids and drops duplicates.
func assignees(op string, ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" {
			return nil, NewValidationError(op, "assignee id is empty")
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}
