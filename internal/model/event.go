package model

import "fmt"

// ChangeKind is the kind of a change-feed event.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
)

// Valid reports whether k is one of the three known kinds.
func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeInsert, ChangeUpdate, ChangeDelete:
		return true
	}
	return false
}

// ChangeEvent is one row-level notification of the change feed.
//
// Record holds the row after the change, or the removed row for DELETE.
// Seq is assigned by the publishing feed and increases in commit order.
type ChangeEvent struct {
	Table  string     `json:"table"`
	Kind   ChangeKind `json:"type"`
	Record Row        `json:"record"`
	Seq    int64      `json:"seq"`
}

// Todo decodes the event record as a Todo.
func (e ChangeEvent) Todo() (Todo, error) {
	if e.Table != TableTodos {
		return Todo{}, fmt.Errorf("event for table %q is not a todo", e.Table)
	}
	return DecodeRow[Todo](e.Record)
}

// Connector decodes the event record as a Connector.
func (e ChangeEvent) Connector() (Connector, error) {
	if e.Table != TableConnections {
		return Connector{}, fmt.Errorf("event for table %q is not a connection", e.Table)
	}
	return DecodeRow[Connector](e.Record)
}
