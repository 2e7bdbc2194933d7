package store

import (
	"fmt"
	"strings"

	"github.com/roach88/roomtodo/internal/query"
)

// compileSelect compiles a filter to a parameterised SELECT over t.
//
// MANDATORY: every query ends its ORDER BY with the id column so results
// are deterministic even when the requested ordering ties.
// MANDATORY: values are bound with placeholders, never interpolated.
func compileSelect(t *tableDef, f query.Filter) (string, []any, error) {
	if err := t.validateFilter(f); err != nil {
		return "", nil, err
	}

	where, params, err := compileWhere(t, f.Conditions)
	if err != nil {
		return "", nil, err
	}

	sql := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s",
		t.columnList(),
		t.name,
		where,
		compileOrder(t, f.Order),
	)
	return sql, params, nil
}

// compileWhere compiles the conjunction of conditions. Returns "" when
// there are none.
func compileWhere(t *tableDef, conds []query.Condition) (string, []any, error) {
	if len(conds) == 0 {
		return "", nil, nil
	}

	parts := make([]string, 0, len(conds))
	var params []any
	for _, c := range conds {
		col, err := t.column(c.Column)
		if err != nil {
			return "", nil, err
		}

		switch c.Op {
		case query.OpEq, query.OpNeq:
			v, err := bindFilterValue(col, c.Value())
			if err != nil {
				return "", nil, err
			}
			op := "="
			if c.Op == query.OpNeq {
				op = "!="
			}
			parts = append(parts, fmt.Sprintf("%s %s ?", col.name, op))
			params = append(params, v)

		case query.OpIn:
			if len(c.Values) == 0 {
				parts = append(parts, "0 = 1")
				continue
			}
			marks := make([]string, len(c.Values))
			for i, raw := range c.Values {
				v, err := bindFilterValue(col, raw)
				if err != nil {
					return "", nil, err
				}
				marks[i] = "?"
				params = append(params, v)
			}
			parts = append(parts, fmt.Sprintf("%s IN (%s)", col.name, strings.Join(marks, ", ")))

		case query.OpContains:
			parts = append(parts, fmt.Sprintf(
				"EXISTS (SELECT 1 FROM json_each(%s.%s) WHERE json_each.value = ?)", t.name, col.name))
			params = append(params, c.Value())

		default:
			return "", nil, fmt.Errorf("%w: unsupported operator %q", query.ErrInvalidFilter, c.Op)
		}
	}

	return " WHERE " + strings.Join(parts, " AND "), params, nil
}

// compileOrder renders the ORDER BY terms plus the id tiebreaker, which
// follows the direction of the last requested term.
func compileOrder(t *tableDef, order []query.Order) string {
	id := t.idColumn()
	terms := make([]string, 0, len(order)+1)
	desc := false
	hasID := false
	for _, o := range order {
		col, _ := t.column(o.Column)
		terms = append(terms, orderTerm(col, o.Desc))
		desc = o.Desc
		if col.name == id.name {
			hasID = true
		}
	}
	if !hasID {
		terms = append(terms, orderTerm(id, desc))
	}
	return strings.Join(terms, ", ")
}

func orderTerm(col column, desc bool) string {
	term := col.name
	if col.kind == kindText {
		// COLLATE BINARY keeps text ordering identical across SQLite builds
		term += " COLLATE BINARY"
	}
	if desc {
		return term + " DESC"
	}
	return term + " ASC"
}
