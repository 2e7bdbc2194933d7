package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/roomtodo/internal/model"
)

// InsertRow inserts row into table and publishes an INSERT event.
//
// Server-assigned columns are filled in here: todos get an id and
// created_at, connections get a UUIDv7 id when none is supplied. Any id or
// created_at sent for a todo is ignored.
func (s *Store) InsertRow(ctx context.Context, table string, row model.Row) (model.Row, error) {
	t, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	if t.readOnly {
		return nil, fmt.Errorf("insert %s: %w", table, ErrReadOnly)
	}

	fields, err := model.RowFields(row)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w: %v", table, ErrInvalidValue, err)
	}

	cols, params, err := s.insertValues(t, fields)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insert %s: %w", table, err)
	}
	defer tx.Rollback()

	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.name, strings.Join(cols, ", "), marks)
	res, err := tx.ExecContext(ctx, q, params...)
	if err != nil {
		return nil, wrapWriteErr("insert "+table, err)
	}

	var id any
	switch t.idColumn().kind {
	case kindInt:
		if id, err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("insert %s: last id: %w", table, err)
		}
	default:
		id = params[0]
	}

	stored, err := queryRowByID(ctx, tx, t, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert %s: %w", table, err)
	}

	s.publish(table, model.ChangeInsert, stored)
	return stored, nil
}

// insertValues resolves the column list and bound values of an insert.
// For text-keyed tables the id is always the first value.
func (s *Store) insertValues(t *tableDef, fields map[string]any) ([]string, []any, error) {
	var cols []string
	var params []any

	id := t.idColumn()
	if id.kind == kindText {
		v, _ := fields[id.name].(string)
		if v == "" {
			u, err := uuid.NewV7()
			if err != nil {
				return nil, nil, fmt.Errorf("generate id: %w", err)
			}
			v = u.String()
		}
		cols = append(cols, id.name)
		params = append(params, v)
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		col, err := t.column(name)
		if err != nil {
			return nil, nil, err
		}
		if !col.writable {
			// server-assigned
			continue
		}
		v, err := bindPatchValue(col, fields[name])
		if err != nil {
			return nil, nil, err
		}
		cols = append(cols, col.name)
		params = append(params, v)
	}

	for _, col := range t.columns {
		if col.writable && col.kind == kindText {
			if _, ok := fields[col.name]; !ok {
				return nil, nil, fmt.Errorf("%w: %s is required", ErrInvalidValue, col.name)
			}
		}
		if col.kind == kindTime {
			cols = append(cols, col.name)
			params = append(params, s.now().UTC().UnixMicro())
		}
	}
	return cols, params, nil
}

// UpdateRow applies patch to the row with the given id and publishes an
// UPDATE event carrying the full updated row.
func (s *Store) UpdateRow(ctx context.Context, table, id string, patch model.Patch) (model.Row, error) {
	t, err := lookupTable(table)
	if err != nil {
		return nil, err
	}
	if t.readOnly {
		return nil, fmt.Errorf("update %s: %w", table, ErrReadOnly)
	}
	if len(patch) == 0 {
		return nil, fmt.Errorf("update %s %s: %w: empty patch", table, id, ErrInvalidValue)
	}

	key, err := bindFilterValue(t.idColumn(), id)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}

	names := make([]string, 0, len(patch))
	for name := range patch {
		names = append(names, name)
	}
	sort.Strings(names)

	sets := make([]string, 0, len(names))
	params := make([]any, 0, len(names)+1)
	for _, name := range names {
		col, err := t.column(name)
		if err != nil {
			return nil, fmt.Errorf("update %s: %w", table, err)
		}
		if !col.writable {
			return nil, fmt.Errorf("update %s: %w: %s", table, ErrImmutableColumn, name)
		}
		v, err := bindPatchValue(col, patch[name])
		if err != nil {
			return nil, fmt.Errorf("update %s: %w", table, err)
		}
		sets = append(sets, col.name+" = ?")
		params = append(params, v)
	}
	params = append(params, key)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update %s: %w", table, err)
	}
	defer tx.Rollback()

	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", t.name, strings.Join(sets, ", "), t.idColumn().name)
	res, err := tx.ExecContext(ctx, q, params...)
	if err != nil {
		return nil, wrapWriteErr("update "+table, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("update %s: rows affected: %w", table, err)
	} else if n == 0 {
		return nil, fmt.Errorf("update %s %s: %w", table, id, ErrNotFound)
	}

	stored, err := queryRowByID(ctx, tx, t, key)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update %s: %w", table, err)
	}

	s.publish(table, model.ChangeUpdate, stored)
	return stored, nil
}

// DeleteRow removes the row with the given id and publishes a DELETE event
// carrying the removed row.
func (s *Store) DeleteRow(ctx context.Context, table, id string) error {
	t, err := lookupTable(table)
	if err != nil {
		return err
	}
	if t.readOnly {
		return fmt.Errorf("delete %s: %w", table, ErrReadOnly)
	}
	key, err := bindFilterValue(t.idColumn(), id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete %s: %w", table, err)
	}
	defer tx.Rollback()

	old, err := queryRowByID(ctx, tx, t, key)
	if err != nil {
		return err
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", t.name, t.idColumn().name)
	if _, err := tx.ExecContext(ctx, q, key); err != nil {
		return wrapWriteErr("delete "+table, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete %s: %w", table, err)
	}

	s.publish(table, model.ChangeDelete, old)
	return nil
}

// PutUser creates or updates a directory entry. The users table is
// read-only through the RemoteStore interface; accounts are managed by the
// operator.
func (s *Store) PutUser(ctx context.Context, u model.User) (model.User, error) {
	if u.Email == "" {
		return model.User{}, fmt.Errorf("put user: %w: email is required", ErrInvalidValue)
	}
	if u.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return model.User{}, fmt.Errorf("put user: generate id: %w", err)
		}
		u.ID = id.String()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.User{}, fmt.Errorf("begin put user: %w", err)
	}
	defer tx.Rollback()

	kind := model.ChangeUpdate
	var existing string
	err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = ?`, u.ID).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		kind = model.ChangeInsert
	case err != nil:
		return model.User{}, fmt.Errorf("put user: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, email) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET email = excluded.email
	`, u.ID, u.Email)
	if err != nil {
		return model.User{}, wrapWriteErr("put user", err)
	}
	if err := tx.Commit(); err != nil {
		return model.User{}, fmt.Errorf("commit put user: %w", err)
	}

	row, err := model.EncodeRow(u)
	if err != nil {
		return model.User{}, err
	}
	s.publish(model.TableUsers, kind, row)
	return u, nil
}
