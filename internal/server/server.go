package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/roomtodo/internal/auth"
	"github.com/roach88/roomtodo/internal/remote"
)

// Server is the HTTP front of a RemoteStore.
type Server struct {
	store    remote.RemoteStore
	issuer   *auth.Issuer
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	metrics  *Metrics
	upgrader websocket.Upgrader
	ping     time.Duration
	router   *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetrics records request metrics and serves g on /metrics.
func WithMetrics(m *Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithPingPeriod overrides the realtime keepalive interval.
func WithPingPeriod(d time.Duration) Option {
	return func(s *Server) {
		s.ping = d
	}
}

// New builds the server and its routes.
func New(store remote.RemoteStore, issuer *auth.Issuer, opts ...Option) *Server {
	s := &Server{
		store:  store,
		issuer: issuer,
		logger: slog.Default(),
		ping:   remote.PingPeriod,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.accessLog)

	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if s.gatherer != nil {
		r.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	api := r.NewRoute().Subrouter()
	api.Use(s.authenticate)
	api.Methods(http.MethodGet).Path("/" + remote.UserPath).HandlerFunc(s.currentUser)
	api.Methods(http.MethodGet).Path("/" + remote.RestPrefix + "/{table}").HandlerFunc(s.fetchRows)
	api.Methods(http.MethodPost).Path("/" + remote.RestPrefix + "/{table}").HandlerFunc(s.insertRow)
	api.Methods(http.MethodPatch).Path("/" + remote.RestPrefix + "/{table}/{id}").HandlerFunc(s.updateRow)
	api.Methods(http.MethodDelete).Path("/" + remote.RestPrefix + "/{table}/{id}").HandlerFunc(s.deleteRow)
	api.Methods(http.MethodGet).Path("/" + remote.RealtimePrefix + "/{table}").HandlerFunc(s.realtime)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusNotFound, "no such route")
	})
	return r
}

// accessLog logs every request and records its metrics.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if s.metrics != nil {
			s.metrics.observe(r.Method, route, m.Code, m.Duration)
		}
		s.logger.Info("handled",
			"method", r.Method,
			"route", route,
			"url", r.URL.Path,
			"status", m.Code,
			"duration", m.Duration,
		)
	})
}

// authenticate requires a valid bearer token and stores its user in the
// request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		u, err := s.issuer.Verify(token)
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), u)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", ln.Addr().String())
		errc <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		// websocket connections are hijacked and ignored by Shutdown
		_ = httpServer.Close()
	}
	return nil
}
