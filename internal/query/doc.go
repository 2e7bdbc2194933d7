// Package query implements the row filter language shared by fetches and
// change-feed subscriptions.
//
// A filter is a conjunction of column conditions plus an optional ordering,
// written in URL query form:
//
//	owner_id=eq.u1&deleted=eq.false&order=created_at.desc
//
// Operators:
//   - eq:  column equals value
//   - neq: column differs from value
//   - in:  column equals one of a parenthesised list, e.g. id=in.(u1,u2)
//   - cs:  JSON array column contains value, e.g. grantees=cs.u1
//
// Values are always strings. Backends interpret them according to the column
// type (the SQLite store binds integers and booleans), and Match compares
// them against decoded rows for client-side filtering of change events.
//
// Filters are values: builder methods return a modified copy.
package query
