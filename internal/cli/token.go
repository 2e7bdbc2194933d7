package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/roomtodo/internal/auth"
	"github.com/roach88/roomtodo/internal/model"
)

// TokenResult is the JSON output of the token command.
type TokenResult struct {
	User  model.User `json:"user"`
	Token string     `json:"token"`
}

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var db string

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token for a user",
		Long: `Issue a bearer token for a user in the server database, signed with
server.jwt_secret. Clients pass it with --token or ROOMTODO_TOKEN.

Example:
  export ROOMTODO_TOKEN=$(roomtodo token u1 --db ./roomtodo.db)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(rootOpts, db, args[0], cmd)
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "path to SQLite database (default server.db)")

	return cmd
}

func runToken(opts *RootOptions, db, userID string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	secret, err := opts.Config.RequireSecret()
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "cannot sign tokens", err))
	}
	ttl, err := opts.Config.Server.TTL()
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "invalid config", err))
	}
	issuer, err := auth.NewIssuer(secret, auth.WithTTL(ttl))
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "cannot sign tokens", err))
	}

	st, closeFn, err := opts.openStore(db)
	if err != nil {
		return formatter.Fail(err)
	}
	defer closeFn()

	users, err := st.Users(cmd.Context())
	if err != nil {
		return formatter.Fail(WrapExitError(ExitFailure, "failed to read users", err))
	}
	var user model.User
	for _, u := range users {
		if u.ID == userID {
			user = u
		}
	}
	if user.ID == "" {
		return formatter.Fail(NewExitError(ExitCommandError, fmt.Sprintf("unknown user %q", userID)))
	}

	token, err := issuer.Issue(user)
	if err != nil {
		return formatter.Fail(WrapExitError(ExitFailure, "failed to sign token", err))
	}
	return formatter.Render(TokenResult{User: user, Token: token}, func(w io.Writer) {
		fmt.Fprintln(w, token)
	})
}
