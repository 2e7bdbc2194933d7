package harness

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/roomtodo/internal/model"
	"github.com/roach88/roomtodo/internal/query"
)

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Steps that led here
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nSteps:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s", ev.Seq, ev.Actor, ev.Do)
		if ev.Todo != 0 {
			fmt.Fprintf(&buf, " todo=%d", ev.Todo)
		}
		if ev.Error != "" {
			fmt.Fprintf(&buf, " error=%s", ev.Error)
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

// evaluate runs every assertion and returns one message per failure.
func (h *Harness) evaluate(ctx context.Context, result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := h.check(ctx, result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %s", i, err))
		}
	}
	return errs
}

func (h *Harness) check(ctx context.Context, result *Result, a Assertion) error {
	if a.Type == AssertTodoState {
		return h.assertTodoState(ctx, result, a)
	}

	v, ok := result.View(a.Actor)
	if !ok {
		return fmt.Errorf("no view for actor %q", a.Actor)
	}
	switch a.Type {
	case AssertVisibleTasks:
		return assertVisibleTasks(result, v, a)
	case AssertRoom:
		return assertRoom(result, v, a)
	case AssertConnections:
		return assertUsers(result, AssertConnections, v.Connections, a.Users)
	case AssertConnectedIn:
		return assertUsers(result, AssertConnectedIn, v.ConnectedIn, a.Users)
	case AssertLastError:
		if v.LastError != a.Code {
			return &AssertionError{
				Type:     AssertLastError,
				Expected: fmt.Sprintf("%s has last error %q", a.Actor, a.Code),
				Actual:   fmt.Sprintf("%q", v.LastError),
				Trace:    result.Trace,
			}
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertVisibleTasks compares the task texts of the actor's view, in order.
func assertVisibleTasks(result *Result, v ActorView, a Assertion) error {
	tasks := make([]string, len(v.Todos))
	for i, t := range v.Todos {
		tasks[i] = t.Task
	}
	if slices.Equal(tasks, a.Tasks) {
		return nil
	}
	return &AssertionError{
		Type:     AssertVisibleTasks,
		Expected: fmt.Sprintf("%s sees %q", v.Actor, a.Tasks),
		Actual:   fmt.Sprintf("%q", tasks),
		Trace:    result.Trace,
	}
}

func assertRoom(result *Result, v ActorView, a Assertion) error {
	if v.Room == a.Room && (a.OwnerEmail == "" || v.OwnerEmail == a.OwnerEmail) {
		return nil
	}
	expected := fmt.Sprintf("%s in room %s", v.Actor, a.Room)
	if a.OwnerEmail != "" {
		expected += fmt.Sprintf(" owned by %s", a.OwnerEmail)
	}
	return &AssertionError{
		Type:     AssertRoom,
		Expected: expected,
		Actual:   fmt.Sprintf("room %s owned by %q", v.Room, v.OwnerEmail),
		Trace:    result.Trace,
	}
}

func assertUsers(result *Result, typ string, got, want []string) error {
	if slices.Equal(got, want) || (len(got) == 0 && len(want) == 0) {
		return nil
	}
	return &AssertionError{
		Type:     typ,
		Expected: fmt.Sprintf("%v", want),
		Actual:   fmt.Sprintf("%v", got),
		Trace:    result.Trace,
	}
}

// assertTodoState reads the labelled todo from the store and compares the
// requested fields. Soft-deleted rows are still readable.
func (h *Harness) assertTodoState(ctx context.Context, result *Result, a Assertion) error {
	id := h.labels[a.Todo]
	rows, err := h.store.FetchRows(ctx, model.TableTodos,
		query.New().Eq("id", strconv.FormatInt(id, 10)))
	if err != nil {
		return fmt.Errorf("fetch todo %s: %w", a.Todo, err)
	}
	if len(rows) != 1 {
		return &AssertionError{
			Type:     AssertTodoState,
			Expected: fmt.Sprintf("todo %s (id %d) in store", a.Todo, id),
			Actual:   fmt.Sprintf("%d rows", len(rows)),
			Trace:    result.Trace,
		}
	}
	t, err := model.DecodeRow[model.Todo](rows[0])
	if err != nil {
		return err
	}

	var diffs []string
	if a.Task != "" && t.Task != a.Task {
		diffs = append(diffs, fmt.Sprintf("task %q, want %q", t.Task, a.Task))
	}
	if a.Completed != nil && t.Completed != *a.Completed {
		diffs = append(diffs, fmt.Sprintf("completed %t, want %t", t.Completed, *a.Completed))
	}
	if a.Deleted != nil && t.Deleted != *a.Deleted {
		diffs = append(diffs, fmt.Sprintf("deleted %t, want %t", t.Deleted, *a.Deleted))
	}
	if len(diffs) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertTodoState,
		Expected: fmt.Sprintf("todo %s (id %d) matches", a.Todo, id),
		Actual:   strings.Join(diffs, "; "),
		Trace:    result.Trace,
	}
}
