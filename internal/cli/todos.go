package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/roomtodo/internal/core"
)

// NewTodosCommand creates the todos command.
func NewTodosCommand(rootOpts *RootOptions) *cobra.Command {
	var room string

	cmd := &cobra.Command{
		Use:   "todos",
		Short: "List the todos of a room",
		Long: `List the visible todos of your room, or of a room you are connected to.

Examples:
  roomtodo todos
  roomtodo todos --room u2 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			err := rootOpts.withCore(cmd.Context(), room, func(ctx context.Context, c *core.Core, v core.View) error {
				l := listing(v)
				return formatter.Render(l, func(w io.Writer) { writeListing(w, l) })
			})
			if err != nil {
				return formatter.Fail(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "room owner id (default: your own room)")

	return cmd
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		room  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a room live",
		Long: `Print a room, then print it again every time it changes, until
interrupted. With --format json each view is one JSON line.

Examples:
  roomtodo watch
  roomtodo watch --room u2 --limit 5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			err := rootOpts.withCore(cmd.Context(), room, func(ctx context.Context, c *core.Core, _ core.View) error {
				return watch(ctx, c, formatter, limit)
			})
			if err != nil {
				return formatter.Fail(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "room owner id (default: your own room)")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after printing this many views (0: until interrupted)")

	return cmd
}

// watch prints the view whenever it changes. Views that render the same
// as the previous one are skipped.
func watch(ctx context.Context, c *core.Core, f *OutputFormatter, limit int) error {
	var last []byte
	printed := 0
	for {
		changed := c.Changes()
		v := c.State()

		l := listing(v)
		key, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("encode view: %w", err)
		}
		if string(key) != string(last) {
			last = key
			if err := f.Render(l, func(w io.Writer) {
				if printed > 0 {
					fmt.Fprintln(w, "--")
				}
				writeListing(w, l)
			}); err != nil {
				return err
			}
			printed++
			if limit > 0 && printed >= limit {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-c.Done():
			return core.ErrStopped
		case <-changed:
		}
	}
}
