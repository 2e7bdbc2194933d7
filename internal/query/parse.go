package query

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Parse parses a filter in URL query form.
func Parse(s string) (Filter, error) {
	vals, err := url.ParseQuery(s)
	if err != nil {
		return Filter{}, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return FromValues(vals)
}

// FromValues parses a filter from URL query values. Columns are visited in
// sorted order so the resulting condition order is deterministic.
func FromValues(vals url.Values) (Filter, error) {
	var f Filter

	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if key == "" {
			return Filter{}, fmt.Errorf("%w: empty column name", ErrInvalidFilter)
		}
		for _, raw := range vals[key] {
			if key == "order" {
				order, err := parseOrder(raw)
				if err != nil {
					return Filter{}, err
				}
				f.Order = append(f.Order, order...)
				continue
			}
			cond, err := parseCondition(key, raw)
			if err != nil {
				return Filter{}, err
			}
			f.Conditions = append(f.Conditions, cond)
		}
	}
	return f, nil
}

// parseCondition parses "op.value" for column.
func parseCondition(column, raw string) (Condition, error) {
	opStr, value, ok := strings.Cut(raw, ".")
	if !ok {
		return Condition{}, fmt.Errorf("%w: %s=%q: missing operator", ErrInvalidFilter, column, raw)
	}
	op := Op(opStr)
	if !op.Valid() {
		return Condition{}, fmt.Errorf("%w: %s=%q: unknown operator %q", ErrInvalidFilter, column, raw, opStr)
	}

	if op != OpIn {
		return Condition{Column: column, Op: op, Values: []string{value}}, nil
	}

	if !strings.HasPrefix(value, "(") || !strings.HasSuffix(value, ")") {
		return Condition{}, fmt.Errorf("%w: %s=%q: in list must be parenthesised", ErrInvalidFilter, column, raw)
	}
	inner := value[1 : len(value)-1]
	values := []string{}
	if inner != "" {
		values = strings.Split(inner, ",")
	}
	return Condition{Column: column, Op: OpIn, Values: values}, nil
}

// parseOrder parses "col.desc,col2.asc,col3".
func parseOrder(raw string) ([]Order, error) {
	var out []Order
	for _, term := range strings.Split(raw, ",") {
		col, dir, _ := strings.Cut(term, ".")
		if col == "" {
			return nil, fmt.Errorf("%w: order %q: empty column", ErrInvalidFilter, raw)
		}
		switch dir {
		case "", "asc":
			out = append(out, Order{Column: col})
		case "desc":
			out = append(out, Order{Column: col, Desc: true})
		default:
			return nil, fmt.Errorf("%w: order %q: unknown direction %q", ErrInvalidFilter, raw, dir)
		}
	}
	return out, nil
}
