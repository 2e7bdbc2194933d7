package model

import (
	"slices"
	"time"
)

// Table names of the remote store.
const (
	TableUsers       = "users"
	TableTodos       = "todos"
	TableConnections = "connections"
)

// User is an entry of the user directory.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Todo is a single list item.
//
// OwnerID names the room the todo belongs to. Deleted is the soft-delete
// flag: deleted rows stay in the store and in the local cache, and are
// filtered out of the visible list.
type Todo struct {
	ID         int64     `json:"id"`
	Task       string    `json:"task"`
	Completed  bool      `json:"completed"`
	AssignedTo []string  `json:"assigned_to"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	OwnerID    string    `json:"owner_id"`
	Deleted    bool      `json:"deleted"`
}

// Visible reports whether the todo should be rendered in room.
func (t Todo) Visible(room string) bool {
	return t.OwnerID == room && !t.Deleted
}

// Connector is the grant record of one owner: every grantee may open the
// owner's room.
type Connector struct {
	ID       string   `json:"id"`
	Owner    string   `json:"owner"`
	Grantees []string `json:"grantees"`
}

// HasGrantee reports whether id is in the grantee set.
func (c Connector) HasGrantee(id string) bool {
	return slices.Contains(c.Grantees, id)
}

// WithGrantee returns the grantee set with id added once.
// The receiver is not modified.
func (c Connector) WithGrantee(id string) []string {
	out := uniqueIDs(c.Grantees)
	if slices.Contains(out, id) {
		return out
	}
	return append(out, id)
}

// WithoutGrantee returns the grantee set with every occurrence of id removed.
// The receiver is not modified.
func (c Connector) WithoutGrantee(id string) []string {
	out := make([]string, 0, len(c.Grantees))
	for _, g := range uniqueIDs(c.Grantees) {
		if g != id {
			out = append(out, g)
		}
	}
	return out
}

// uniqueIDs returns ids without duplicates, keeping first occurrences in order.
func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids)+1)
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// TodoPatch is a partial update of a todo. Nil fields are left untouched.
// ID and CreatedAt have no field here because they are immutable.
type TodoPatch struct {
	Task       *string
	Completed  *bool
	AssignedTo []string
	CreatedBy  *string
	OwnerID    *string
	Deleted    *bool
}

// IsEmpty reports whether the patch changes nothing.
func (p TodoPatch) IsEmpty() bool {
	return p.Task == nil && p.Completed == nil && p.AssignedTo == nil &&
		p.CreatedBy == nil && p.OwnerID == nil && p.Deleted == nil
}

// Patch converts the typed patch to column values.
func (p TodoPatch) Patch() Patch {
	out := Patch{}
	if p.Task != nil {
		out["task"] = *p.Task
	}
	if p.Completed != nil {
		out["completed"] = *p.Completed
	}
	if p.AssignedTo != nil {
		out["assigned_to"] = p.AssignedTo
	}
	if p.CreatedBy != nil {
		out["created_by"] = *p.CreatedBy
	}
	if p.OwnerID != nil {
		out["owner_id"] = *p.OwnerID
	}
	if p.Deleted != nil {
		out["deleted"] = *p.Deleted
	}
	return out
}
