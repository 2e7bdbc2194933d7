package query

import (
	"encoding/json"
	"slices"
	"strconv"
)

// Match reports whether a decoded row satisfies every condition.
// Ordering terms are ignored.
//
// A missing column fails eq, in and cs, and satisfies neq.
func (f Filter) Match(fields map[string]any) bool {
	for _, c := range f.Conditions {
		if !c.match(fields) {
			return false
		}
	}
	return true
}

func (c Condition) match(fields map[string]any) bool {
	v, present := fields[c.Column]

	switch c.Op {
	case OpEq:
		s, ok := scalar(v)
		return present && ok && s == c.Value()
	case OpNeq:
		s, ok := scalar(v)
		return !present || !ok || s != c.Value()
	case OpIn:
		s, ok := scalar(v)
		return present && ok && slices.Contains(c.Values, s)
	case OpContains:
		arr, ok := v.([]any)
		if !present || !ok {
			return false
		}
		for _, elem := range arr {
			if s, ok := scalar(elem); ok && s == c.Value() {
				return true
			}
		}
		return false
	}
	return false
}

// scalar renders a JSON-decoded scalar the way filter values are written.
func scalar(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "null", true
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case json.Number:
		return val.String(), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	default:
		return "", false
	}
}
