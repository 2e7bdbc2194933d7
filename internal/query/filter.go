package query

import (
	"errors"
	"net/url"
	"slices"
	"strings"
)

// ErrInvalidFilter is returned for filters that cannot be parsed.
var ErrInvalidFilter = errors.New("invalid filter")

// Op is a condition operator.
type Op string

const (
	OpEq       Op = "eq"
	OpNeq      Op = "neq"
	OpIn       Op = "in"
	OpContains Op = "cs"
)

// Valid reports whether op is a known operator.
func (op Op) Valid() bool {
	switch op {
	case OpEq, OpNeq, OpIn, OpContains:
		return true
	}
	return false
}

// Condition is one column predicate. Values has exactly one element for
// every operator except OpIn.
type Condition struct {
	Column string
	Op     Op
	Values []string
}

// Value returns the first value, or "" when there is none.
func (c Condition) Value() string {
	if len(c.Values) == 0 {
		return ""
	}
	return c.Values[0]
}

// encodeValue renders the condition's right-hand side ("eq.u1", "in.(a,b)").
func (c Condition) encodeValue() string {
	if c.Op == OpIn {
		return string(c.Op) + ".(" + strings.Join(c.Values, ",") + ")"
	}
	return string(c.Op) + "." + c.Value()
}

// Order is one ORDER BY term.
type Order struct {
	Column string
	Desc   bool
}

func (o Order) String() string {
	if o.Desc {
		return o.Column + ".desc"
	}
	return o.Column + ".asc"
}

// Filter is a conjunction of conditions with an optional ordering.
// The zero value matches every row.
type Filter struct {
	Conditions []Condition
	Order      []Order
}

// New returns an empty filter.
func New() Filter {
	return Filter{}
}

// Eq adds column = value.
func (f Filter) Eq(column, value string) Filter {
	return f.with(Condition{Column: column, Op: OpEq, Values: []string{value}})
}

// Neq adds column != value.
func (f Filter) Neq(column, value string) Filter {
	return f.with(Condition{Column: column, Op: OpNeq, Values: []string{value}})
}

// In adds column IN (values...).
func (f Filter) In(column string, values ...string) Filter {
	return f.with(Condition{Column: column, Op: OpIn, Values: slices.Clone(values)})
}

// Contains adds "JSON array column contains value".
func (f Filter) Contains(column, value string) Filter {
	return f.with(Condition{Column: column, Op: OpContains, Values: []string{value}})
}

// OrderBy appends an ordering term.
func (f Filter) OrderBy(column string, desc bool) Filter {
	out := f.clone()
	out.Order = append(out.Order, Order{Column: column, Desc: desc})
	return out
}

// IsZero reports whether the filter has neither conditions nor ordering.
func (f Filter) IsZero() bool {
	return len(f.Conditions) == 0 && len(f.Order) == 0
}

// Columns returns every column referenced by a condition or ordering, in
// first-use order.
func (f Filter) Columns() []string {
	var cols []string
	add := func(c string) {
		if !slices.Contains(cols, c) {
			cols = append(cols, c)
		}
	}
	for _, c := range f.Conditions {
		add(c.Column)
	}
	for _, o := range f.Order {
		add(o.Column)
	}
	return cols
}

// Encode renders the filter in URL query form. Conditions keep their
// declaration order so the output is stable.
func (f Filter) Encode() string {
	parts := make([]string, 0, len(f.Conditions)+1)
	for _, c := range f.Conditions {
		parts = append(parts, url.QueryEscape(c.Column)+"="+url.QueryEscape(c.encodeValue()))
	}
	if len(f.Order) > 0 {
		terms := make([]string, len(f.Order))
		for i, o := range f.Order {
			terms[i] = o.String()
		}
		parts = append(parts, "order="+url.QueryEscape(strings.Join(terms, ",")))
	}
	return strings.Join(parts, "&")
}

// String is Encode.
func (f Filter) String() string {
	return f.Encode()
}

// Values returns the filter as url.Values, for merging into a request URL.
func (f Filter) Values() url.Values {
	v := url.Values{}
	for _, c := range f.Conditions {
		v.Add(c.Column, c.encodeValue())
	}
	if len(f.Order) > 0 {
		terms := make([]string, len(f.Order))
		for i, o := range f.Order {
			terms[i] = o.String()
		}
		v.Set("order", strings.Join(terms, ","))
	}
	return v
}

func (f Filter) with(c Condition) Filter {
	out := f.clone()
	out.Conditions = append(out.Conditions, c)
	return out
}

func (f Filter) clone() Filter {
	return Filter{
		Conditions: slices.Clone(f.Conditions),
		Order:      slices.Clone(f.Order),
	}
}
