package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/roomtodo/internal/model"
	"github.com/roach88/roomtodo/internal/store"
)

// NewUserCommand creates the user command group. User commands work on
// the server database directly.
func NewUserCommand(rootOpts *RootOptions) *cobra.Command {
	var db string

	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage the user directory",
		Long: `Manage the user directory in the server database.

Examples:
  roomtodo user add u1 ann@example.com --db ./roomtodo.db
  roomtodo user list --db ./roomtodo.db`,
	}
	cmd.PersistentFlags().StringVar(&db, "db", "", "path to SQLite database (default server.db)")

	cmd.AddCommand(&cobra.Command{
		Use:           "add <id> <email>",
		Short:         "Add or update a user",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserAdd(rootOpts, db, args[0], args[1], cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:           "list",
		Short:         "List users",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(rootOpts, db, cmd)
		},
	})

	return cmd
}

// openStore opens the server database named by flag or config.
func (o *RootOptions) openStore(dbFlag string) (*store.Store, func(), error) {
	path := firstNonEmpty(dbFlag, o.Config.Server.DB)
	st, err := store.Open(path, store.WithLogger(o.Logger))
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	closeFn := func() {
		st.Broker().Close()
		if err := st.Close(); err != nil {
			o.Logger.Error("error closing database", "error", err)
		}
	}
	return st, closeFn, nil
}

func runUserAdd(opts *RootOptions, db, id, email string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	st, closeFn, err := opts.openStore(db)
	if err != nil {
		return formatter.Fail(err)
	}
	defer closeFn()

	u, err := st.PutUser(cmd.Context(), model.User{ID: id, Email: email})
	if err != nil {
		return formatter.Fail(WrapExitError(ExitFailure, "failed to save user", err))
	}
	return formatter.Render(u, func(w io.Writer) {
		fmt.Fprintf(w, "saved %s %s\n", u.ID, u.Email)
	})
}

func runUserList(opts *RootOptions, db string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	st, closeFn, err := opts.openStore(db)
	if err != nil {
		return formatter.Fail(err)
	}
	defer closeFn()

	users, err := st.Users(cmd.Context())
	if err != nil {
		return formatter.Fail(WrapExitError(ExitFailure, "failed to list users", err))
	}
	return formatter.Render(users, func(w io.Writer) {
		writeUsers(w, "Users", users)
	})
}
