package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/roomtodo/internal/model"
	"github.com/roach88/roomtodo/internal/query"
)

// kind is the storage type of a column.
type kind int

const (
	kindText kind = iota
	kindInt
	kindBool
	kindTime // INTEGER unix microseconds, RFC 3339 in filters and rows
	kindJSON // TEXT holding a JSON array of strings
)

type column struct {
	name     string
	kind     kind
	writable bool
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

type tableDef struct {
	name     string
	columns  []column
	readOnly bool
	scan     func(rowScanner) (model.Row, error)
}

var tables = map[string]*tableDef{
	model.TableUsers: {
		name: model.TableUsers,
		columns: []column{
			{name: "id", kind: kindText},
			{name: "email", kind: kindText},
		},
		readOnly: true,
		scan:     scanUser,
	},
	model.TableTodos: {
		name: model.TableTodos,
		columns: []column{
			{name: "id", kind: kindInt},
			{name: "task", kind: kindText, writable: true},
			{name: "completed", kind: kindBool, writable: true},
			{name: "assigned_to", kind: kindJSON, writable: true},
			{name: "created_by", kind: kindText, writable: true},
			{name: "created_at", kind: kindTime},
			{name: "owner_id", kind: kindText, writable: true},
			{name: "deleted", kind: kindBool, writable: true},
		},
		scan: scanTodo,
	},
	model.TableConnections: {
		name: model.TableConnections,
		columns: []column{
			{name: "id", kind: kindText},
			{name: "owner", kind: kindText, writable: true},
			{name: "grantees", kind: kindJSON, writable: true},
		},
		scan: scanConnector,
	},
}

func lookupTable(name string) (*tableDef, error) {
	t, ok := tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return t, nil
}

func (t *tableDef) column(name string) (column, error) {
	for _, c := range t.columns {
		if c.name == name {
			return c, nil
		}
	}
	return column{}, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.name, name)
}

func (t *tableDef) columnList() string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.name
	}
	return strings.Join(names, ", ")
}

// idColumn is always the first column.
func (t *tableDef) idColumn() column {
	return t.columns[0]
}

// validateFilter checks every referenced column and operator/type pairing.
func (t *tableDef) validateFilter(f query.Filter) error {
	for _, c := range f.Conditions {
		col, err := t.column(c.Column)
		if err != nil {
			return err
		}
		if (c.Op == query.OpContains) != (col.kind == kindJSON) {
			return fmt.Errorf("%w: operator %s not supported on %s.%s", ErrInvalidValue, c.Op, t.name, col.name)
		}
		if c.Op == query.OpContains {
			continue
		}
		for _, v := range c.Values {
			if _, err := bindFilterValue(col, v); err != nil {
				return err
			}
		}
	}
	for _, o := range f.Order {
		if _, err := t.column(o.Column); err != nil {
			return err
		}
	}
	return nil
}

// bindFilterValue converts a filter string to the column's SQL value.
func bindFilterValue(col column, s string) (any, error) {
	switch col.kind {
	case kindText:
		return s, nil
	case kindInt:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidValue, col.name, s)
		}
		return n, nil
	case kindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidValue, col.name, s)
		}
		return boolInt(b), nil
	case kindTime:
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q is not an RFC 3339 time", ErrInvalidValue, col.name, s)
		}
		return ts.UnixMicro(), nil
	default:
		return nil, fmt.Errorf("%w: %s cannot be compared by value", ErrInvalidValue, col.name)
	}
}

// bindPatchValue converts a JSON-decoded patch value to the column's SQL value.
func bindPatchValue(col column, v any) (any, error) {
	switch col.kind {
	case kindText:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidValue, col.name, v)
		}
		return s, nil
	case kindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a boolean, got %T", ErrInvalidValue, col.name, v)
		}
		return boolInt(b), nil
	case kindJSON:
		ids, err := stringList(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, col.name, err)
		}
		return encodeList(ids)
	default:
		return nil, fmt.Errorf("%w: %s", ErrImmutableColumn, col.name)
	}
}

// stringList accepts []string or a JSON-decoded []any of strings.
func stringList(v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, len(list))
		for i, elem := range list {
			s, ok := elem.(string)
			if !ok {
				return nil, fmt.Errorf("element %d must be a string, got %T", i, elem)
			}
			out[i] = s
		}
		return out, nil
	case nil:
		return []string{}, nil
	default:
		return nil, fmt.Errorf("must be a list of strings, got %T", v)
	}
}

func encodeList(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(data), nil
}

func decodeList(s string) ([]string, error) {
	out := []string{}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	return out, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanUser(sc rowScanner) (model.Row, error) {
	var u model.User
	if err := sc.Scan(&u.ID, &u.Email); err != nil {
		return nil, err
	}
	return model.EncodeRow(u)
}

func scanTodo(sc rowScanner) (model.Row, error) {
	var (
		t          model.Todo
		completed  int
		deleted    int
		assignedTo string
		createdAt  int64
	)
	if err := sc.Scan(&t.ID, &t.Task, &completed, &assignedTo, &t.CreatedBy, &createdAt, &t.OwnerID, &deleted); err != nil {
		return nil, err
	}
	ids, err := decodeList(assignedTo)
	if err != nil {
		return nil, fmt.Errorf("todo %d assigned_to: %w", t.ID, err)
	}
	t.AssignedTo = ids
	t.Completed = completed != 0
	t.Deleted = deleted != 0
	t.CreatedAt = time.UnixMicro(createdAt).UTC()
	return model.EncodeRow(t)
}

func scanConnector(sc rowScanner) (model.Row, error) {
	var (
		c        model.Connector
		grantees string
	)
	if err := sc.Scan(&c.ID, &c.Owner, &grantees); err != nil {
		return nil, err
	}
	ids, err := decodeList(grantees)
	if err != nil {
		return nil, fmt.Errorf("connection %s grantees: %w", c.ID, err)
	}
	c.Grantees = ids
	return model.EncodeRow(c)
}
