package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/roomtodo/internal/config"
)

// RootOptions holds global flags for all commands, and the configuration
// they resolve to.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Server     string
	Token      string

	// Set by the root PersistentPreRunE.
	Config *config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the roomtodo CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "roomtodo",
		Short: "roomtodo - shared realtime to-do rooms",
		Long: `roomtodo keeps to-do lists in sync between people in real time.

Every user owns a room. Connecting another user lets them open your room,
see its todos change live and edit them. Run "roomtodo serve" for the
server; every other command is a client of it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	})

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (CUE, JSON or YAML)")
	cmd.PersistentFlags().StringVar(&opts.Server, "server", "", "server URL (overrides client.url)")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", "", "bearer token (overrides client.token)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewUserCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewTodosCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewDoneCommand(opts))
	cmd.AddCommand(NewUndoCommand(opts))
	cmd.AddCommand(NewEditCommand(opts))
	cmd.AddCommand(NewRmCommand(opts))
	cmd.AddCommand(NewConnectCommand(opts))
	cmd.AddCommand(NewDisconnectCommand(opts))
	cmd.AddCommand(NewConnectionsCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// setup validates global flags, loads the configuration and builds the
// logger. Flags override the config file and environment.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	if !isValidFormat(o.Format) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats))
	}

	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Server != "" {
		cfg.Client.URL = o.Server
	}
	if o.Token != "" {
		cfg.Client.Token = o.Token
	}
	o.Config = cfg

	level := cfg.Log.SlogLevel()
	if o.Verbose {
		level = slog.LevelDebug
	}
	// Logs go to stderr so JSON output stays parseable.
	o.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return nil
}

// formatter returns the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
