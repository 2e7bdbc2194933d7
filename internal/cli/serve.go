package cli

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/roomtodo/internal/auth"
	"github.com/roach88/roomtodo/internal/feed"
	"github.com/roach88/roomtodo/internal/server"
	"github.com/roach88/roomtodo/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database string
	Addr     string

	// OnListen is called with the bound address once the server accepts
	// connections (for testing).
	OnListen func(addr string)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the roomtodo server",
		Long: `Run the roomtodo server: the REST API, the realtime change feed and
Prometheus metrics, backed by a SQLite database.

The server needs server.jwt_secret (or ROOMTODO_JWT_SECRET) to verify
bearer tokens. When server.nats_url is set, every change event is also
published to NATS.

Example:
  ROOMTODO_JWT_SECRET=s3cret roomtodo serve --db ./roomtodo.db --addr :8080`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default server.db)")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default server.addr)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	cfg := opts.Config
	logger := opts.Logger

	secret, err := cfg.RequireSecret()
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "cannot verify tokens", err))
	}
	ttl, err := cfg.Server.TTL()
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "invalid config", err))
	}
	issuer, err := auth.NewIssuer(secret, auth.WithTTL(ttl))
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "cannot verify tokens", err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	brokerOpts := []feed.Option{
		feed.WithLogger(logger),
		feed.WithMetrics(feed.NewMetrics(reg)),
	}
	if cfg.Server.NATSURL != "" {
		sink, err := feed.DialNATS(cfg.Server.NATSURL, cfg.Server.NATSPrefix)
		if err != nil {
			return formatter.Fail(WrapExitError(ExitCommandError, "failed to connect to NATS", err))
		}
		defer func() {
			if closeErr := sink.Close(); closeErr != nil {
				logger.Error("error closing NATS sink", "error", closeErr)
			}
		}()
		brokerOpts = append(brokerOpts, feed.WithSink(sink))
		logger.Info("mirroring change feed to NATS", "url", cfg.Server.NATSURL, "prefix", cfg.Server.NATSPrefix)
	}
	broker := feed.NewBroker(brokerOpts...)

	dbPath := firstNonEmpty(opts.Database, cfg.Server.DB)
	logger.Info("opening database", "path", dbPath)
	st, err := store.Open(dbPath, store.WithBroker(broker), store.WithLogger(logger))
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "failed to open database", err))
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	srvOpts := []server.Option{server.WithLogger(logger)}
	if cfg.Server.Metrics {
		srvOpts = append(srvOpts, server.WithMetrics(server.NewMetrics(reg), reg))
	}
	srv := server.New(st, issuer, srvOpts...)

	addr := firstNonEmpty(opts.Addr, cfg.Server.Addr)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return formatter.Fail(WrapExitError(ExitCommandError, "failed to listen", err))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, ln)
	})
	g.Go(func() error {
		// Ending the feed sends every realtime client a close frame.
		<-gctx.Done()
		broker.Close()
		return nil
	})

	if opts.OnListen != nil {
		opts.OnListen(ln.Addr().String())
	}
	formatter.VerboseLog("serving on %s", ln.Addr())

	if err := g.Wait(); err != nil && !isCanceled(err) {
		return formatter.Fail(WrapExitError(ExitFailure, "server failed", err))
	}
	logger.Info("server stopped")
	return nil
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
