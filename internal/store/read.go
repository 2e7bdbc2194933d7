package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/roomtodo/internal/model"
	"github.com/roach88/roomtodo/internal/query"
)

// FetchRows returns the rows of table matching f, ordered by f's order
// terms with the id column as final tiebreaker.
func (s *Store) FetchRows(ctx context.Context, table string, f query.Filter) ([]model.Row, error) {
	t, err := lookupTable(table)
	if err != nil {
		return nil, err
	}

	q, params, err := compileSelect(t, f)
	if err != nil {
		return nil, fmt.Errorf("compile %s query: %w", table, err)
	}

	rows, err := s.db.QueryContext(ctx, q, params...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	out := []model.Row{}
	for rows.Next() {
		row, err := t.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", table, err)
	}
	return out, nil
}

// Users returns the user directory ordered by email.
func (s *Store) Users(ctx context.Context) ([]model.User, error) {
	rows, err := s.FetchRows(ctx, model.TableUsers, query.New().OrderBy("email", false))
	if err != nil {
		return nil, err
	}
	return model.DecodeRows[model.User](rows)
}

// UserByEmail looks a user up by email. Returns ErrNotFound if absent.
func (s *Store) UserByEmail(ctx context.Context, email string) (model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx, `SELECT id, email FROM users WHERE email = ?`, email).Scan(&u.ID, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, fmt.Errorf("user %q: %w", email, ErrNotFound)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("query user %q: %w", email, err)
	}
	return u, nil
}

// queryRowByID reads one row by primary key inside tx.
func queryRowByID(ctx context.Context, tx *sql.Tx, t *tableDef, id any) (model.Row, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", t.columnList(), t.name, t.idColumn().name)
	row, err := t.scan(tx.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %v: %w", t.name, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s %v: %w", t.name, id, err)
	}
	return row, nil
}
