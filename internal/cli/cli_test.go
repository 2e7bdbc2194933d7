package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/roomtodo/internal/auth"
	"github.com/roach88/roomtodo/internal/model"
	"github.com/roach88/roomtodo/internal/server"
	"github.com/roach88/roomtodo/internal/store"
	"github.com/roach88/roomtodo/internal/testutil"
)

const testSecret = "test-secret"

// lockedBuffer is a bytes.Buffer safe to read while a command writes it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// runCLI executes the root command with args and returns stdout and
// stderr.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &lockedBuffer{}, &lockedBuffer{}
	err := runCLIWith(t, out, errOut, args...)
	return out.String(), errOut.String(), err
}

func runCLIWith(t *testing.T, out, errOut io.Writer, args ...string) error {
	t.Helper()
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	return cmd.ExecuteContext(ctx)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roomtodo.cue")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// decodeData decodes the data of a successful JSON response.
func decodeData[T any](t *testing.T, out string) T {
	t.Helper()
	var resp struct {
		Status string `json:"status"`
		Data   T      `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	return resp.Data
}

// decodeError decodes the error of a failed JSON response.
func decodeError(t *testing.T, out string) CLIError {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "error", resp.Status, out)
	require.NotNil(t, resp.Error)
	return *resp.Error
}

// testServer is an in-process roomtodo server with Ann, Bob and Carol.
type testServer struct {
	URL    string
	store  *store.Store
	issuer *auth.Issuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, _ := testutil.NewStore(t)

	issuer, err := auth.NewIssuer(testSecret)
	require.NoError(t, err)

	srv := server.New(st, issuer, server.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{URL: ts.URL, store: st, issuer: issuer}
}

func (s *testServer) token(t *testing.T, u model.User) string {
	t.Helper()
	token, err := s.issuer.Issue(u)
	require.NoError(t, err)
	return token
}

// args prefixes args with the flags that sign u in to s.
func (s *testServer) args(t *testing.T, u model.User, args ...string) []string {
	return append([]string{"--server", s.URL, "--token", s.token(t, u)}, args...)
}

// run executes a client command as u.
func (s *testServer) run(t *testing.T, u model.User, args ...string) (string, string, error) {
	t.Helper()
	return runCLI(t, s.args(t, u, args...)...)
}
