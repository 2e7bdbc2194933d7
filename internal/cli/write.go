package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/roomtodo/internal/core"
)

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		room   string
		assign []string
	)

	cmd := &cobra.Command{
		Use:   "add <task...>",
		Short: "Add a todo",
		Long: `Add a todo to your room, or to a room you are connected to.

Examples:
  roomtodo add buy milk
  roomtodo add --room u2 --assign u3 book the venue`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			task := strings.Join(args, " ")
			err := rootOpts.withCore(cmd.Context(), room, func(ctx context.Context, c *core.Core, _ core.View) error {
				t, err := c.AddTask(ctx, task, assign...)
				if err != nil {
					return err
				}
				return formatter.Render(t, func(w io.Writer) {
					fmt.Fprint(w, "added")
					writeTodo(w, t)
				})
			})
			if err != nil {
				return formatter.Fail(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "room owner id (default: your own room)")
	cmd.Flags().StringArrayVar(&assign, "assign", nil, "assign to a user id (repeatable)")

	return cmd
}

// NewDoneCommand creates the done command.
func NewDoneCommand(rootOpts *RootOptions) *cobra.Command {
	return todoIDCommand(rootOpts, "done <id>", "Mark a todo complete", "completed",
		func(ctx context.Context, c *core.Core, id int64, _ []string) error {
			return c.ToggleComplete(ctx, id, true)
		})
}

// NewUndoCommand creates the undo command.
func NewUndoCommand(rootOpts *RootOptions) *cobra.Command {
	return todoIDCommand(rootOpts, "undo <id>", "Mark a todo incomplete", "reopened",
		func(ctx context.Context, c *core.Core, id int64, _ []string) error {
			return c.ToggleComplete(ctx, id, false)
		})
}

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	return todoIDCommand(rootOpts, "edit <id> <task...>", "Replace the text of a todo", "edited",
		func(ctx context.Context, c *core.Core, id int64, rest []string) error {
			return c.EditTask(ctx, id, strings.Join(rest, " "))
		})
}

// NewRmCommand creates the rm command.
func NewRmCommand(rootOpts *RootOptions) *cobra.Command {
	return todoIDCommand(rootOpts, "rm <id>", "Delete a todo", "deleted",
		func(ctx context.Context, c *core.Core, id int64, _ []string) error {
			return c.DeleteTask(ctx, id)
		})
}

// TodoResult is the JSON output of the commands that change one todo.
type TodoResult struct {
	ID     int64  `json:"id"`
	Action string `json:"action"`
}

// todoIDCommand builds a command taking a todo id plus, for "edit", the
// new text.
func todoIDCommand(rootOpts *RootOptions, use, short, action string,
	apply func(ctx context.Context, c *core.Core, id int64, rest []string) error) *cobra.Command {
	args := cobra.ExactArgs(1)
	if strings.Contains(use, "...") {
		args = cobra.MinimumNArgs(2)
	}

	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          args,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			id, err := parseTodoID(args[0])
			if err != nil {
				return formatter.Fail(err)
			}
			err = rootOpts.withCore(cmd.Context(), "", func(ctx context.Context, c *core.Core, _ core.View) error {
				if err := apply(ctx, c, id, args[1:]); err != nil {
					return err
				}
				return formatter.Render(TodoResult{ID: id, Action: action}, func(w io.Writer) {
					fmt.Fprintf(w, "%s %d\n", action, id)
				})
			})
			if err != nil {
				return formatter.Fail(err)
			}
			return nil
		},
	}
}

func parseTodoID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid todo id %q", s))
	}
	return id, nil
}
