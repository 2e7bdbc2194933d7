package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/roomtodo/internal/core"
	"github.com/roach88/roomtodo/internal/model"
)

// ConnectionsResult is the JSON output of the connections command.
type ConnectionsResult struct {
	Connections []model.User `json:"connections"`
	ConnectedIn []model.User `json:"connected_in"`
}

// GranteesResult is the JSON output of connect and disconnect.
type GranteesResult struct {
	Grantees []string `json:"grantees"`
}

// NewConnectCommand creates the connect command.
func NewConnectCommand(rootOpts *RootOptions) *cobra.Command {
	return granteeCommand(rootOpts, "connect <user-id>", "Let a user open your room",
		func(ctx context.Context, c *core.Core, id string) ([]string, error) {
			return c.AddConnection(ctx, id)
		})
}

// NewDisconnectCommand creates the disconnect command.
func NewDisconnectCommand(rootOpts *RootOptions) *cobra.Command {
	return granteeCommand(rootOpts, "disconnect <user-id>", "Revoke a user's access to your room",
		func(ctx context.Context, c *core.Core, id string) ([]string, error) {
			return c.RemoveConnection(ctx, id)
		})
}

func granteeCommand(rootOpts *RootOptions, use, short string,
	apply func(ctx context.Context, c *core.Core, id string) ([]string, error)) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			err := rootOpts.withCore(cmd.Context(), "", func(ctx context.Context, c *core.Core, _ core.View) error {
				grantees, err := apply(ctx, c, args[0])
				if err != nil {
					return err
				}
				return formatter.Render(GranteesResult{Grantees: grantees}, func(w io.Writer) {
					if len(grantees) == 0 {
						fmt.Fprintln(w, "grantees: none")
						return
					}
					fmt.Fprintf(w, "grantees: %s\n", strings.Join(grantees, ", "))
				})
			})
			if err != nil {
				return formatter.Fail(err)
			}
			return nil
		},
	}
}

// NewConnectionsCommand creates the connections command.
func NewConnectionsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "connections",
		Short: "Show who can open your room and whose rooms you can open",
		Long: `Show both sides of your connections: the users you granted access to
your room, and the users whose rooms you can open.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			result, err := loadConnections(cmd.Context(), rootOpts)
			if err != nil {
				return formatter.Fail(err)
			}
			return formatter.Render(result, func(w io.Writer) {
				writeUsers(w, "Connections", result.Connections)
				writeUsers(w, "Connected in", result.ConnectedIn)
			})
		},
	}
}

// loadConnections reads both sides of the graph once, without starting a
// change feed.
func loadConnections(ctx context.Context, opts *RootOptions) (ConnectionsResult, error) {
	rc, err := opts.remoteClient()
	if err != nil {
		return ConnectionsResult{}, err
	}
	self, err := rc.CurrentUser(ctx)
	if err != nil {
		return ConnectionsResult{}, core.NewAuthError(err)
	}

	r := core.NewResolver(rc)
	conns, err := r.LoadConnections(ctx, self.ID)
	if err != nil {
		return ConnectionsResult{}, err
	}
	in, err := r.LoadConnectedIn(ctx, self.ID)
	if err != nil {
		return ConnectionsResult{}, err
	}
	return ConnectionsResult{Connections: conns, ConnectedIn: in}, nil
}
