package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/roomtodo/internal/auth"
	"github.com/roach88/roomtodo/internal/model"
	"github.com/roach88/roomtodo/internal/query"
	"github.com/roach88/roomtodo/internal/remote"
	"github.com/roach88/roomtodo/internal/store"
)

type testEnv struct {
	store  *store.Store
	issuer *auth.Issuer
	server *httptest.Server
	client *remote.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	issuer, err := auth.NewIssuer("test-secret")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	srv := New(st, issuer, WithMetrics(NewMetrics(reg), reg))
	ts := httptest.NewServer(srv.Handler())

	token, err := issuer.Issue(model.User{ID: "u1", Email: "ann@example.com"})
	require.NoError(t, err)
	client, err := remote.NewClient(ts.URL, remote.WithToken(token))
	require.NoError(t, err)

	t.Cleanup(func() {
		st.Broker().Close()
		ts.Close()
		st.Close()
	})
	return &testEnv{store: st, issuer: issuer, server: ts, client: client}
}

func todoRow(t *testing.T, task, owner string) model.Row {
	t.Helper()
	row, err := model.EncodeRow(map[string]any{
		"task":        task,
		"completed":   false,
		"assigned_to": []string{},
		"created_by":  "ann@example.com",
		"owner_id":    owner,
		"deleted":     false,
	})
	require.NoError(t, err)
	return row
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_Required(t *testing.T) {
	env := newTestEnv(t)

	anon, err := remote.NewClient(env.server.URL)
	require.NoError(t, err)
	_, err = anon.FetchRows(context.Background(), model.TableTodos, query.New())
	require.Error(t, err)
	assert.True(t, remote.IsUnauthorized(err))

	bad, err := remote.NewClient(env.server.URL, remote.WithToken("garbage"))
	require.NoError(t, err)
	_, err = bad.CurrentUser(context.Background())
	assert.True(t, remote.IsUnauthorized(err))
}

func TestCurrentUser(t *testing.T) {
	env := newTestEnv(t)

	u, err := env.client.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.User{ID: "u1", Email: "ann@example.com"}, u)
}

func TestRest_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stored, err := env.client.InsertRow(ctx, model.TableTodos, todoRow(t, "buy milk", "u1"))
	require.NoError(t, err)
	todo, err := model.DecodeRow[model.Todo](stored)
	require.NoError(t, err)
	assert.Equal(t, int64(1), todo.ID)

	_, err = env.client.InsertRow(ctx, model.TableTodos, todoRow(t, "elsewhere", "u2"))
	require.NoError(t, err)

	rows, err := env.client.FetchRows(ctx, model.TableTodos, query.New().Eq("owner_id", "u1").Eq("deleted", "false"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.JSONEq(t, string(stored), string(rows[0]))

	updated, err := env.client.UpdateRow(ctx, model.TableTodos, "1", model.Patch{"completed": true})
	require.NoError(t, err)
	todo, err = model.DecodeRow[model.Todo](updated)
	require.NoError(t, err)
	assert.True(t, todo.Completed)

	require.NoError(t, env.client.DeleteRow(ctx, model.TableTodos, "1"))

	rows, err = env.client.FetchRows(ctx, model.TableTodos, query.New().Eq("owner_id", "u1"))
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRest_ErrorStatuses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.client.FetchRows(ctx, "nope", query.New())
	assert.Equal(t, http.StatusNotFound, remote.StatusOf(err))

	_, err = env.client.FetchRows(ctx, model.TableTodos, query.New().Eq("color", "red"))
	assert.Equal(t, http.StatusBadRequest, remote.StatusOf(err))

	_, err = env.client.UpdateRow(ctx, model.TableTodos, "42", model.Patch{"task": "x"})
	assert.True(t, remote.IsNotFound(err))

	_, err = env.client.InsertRow(ctx, model.TableUsers, model.Row(`{"id":"x","email":"x@y"}`))
	assert.Equal(t, http.StatusBadRequest, remote.StatusOf(err))

	_, err = env.client.InsertRow(ctx, model.TableConnections, model.Row(`{"owner":"u1","grantees":[]}`))
	require.NoError(t, err)
	_, err = env.client.InsertRow(ctx, model.TableConnections, model.Row(`{"owner":"u1","grantees":[]}`))
	assert.Equal(t, http.StatusConflict, remote.StatusOf(err))
}

func TestRest_ErrorMessageVerbatim(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.client.UpdateRow(context.Background(), model.TableTodos, "1", model.Patch{"created_at": "x"})
	require.Error(t, err)
	var re *remote.Error
	require.ErrorAs(t, err, &re)
	assert.Contains(t, re.Message, "column cannot be changed")
}

func TestRealtime_DeliversFilteredEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sub, err := env.client.Subscribe(ctx, model.TableTodos, query.New().Eq("owner_id", "u1"))
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool { return env.store.Broker().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = env.client.InsertRow(ctx, model.TableTodos, todoRow(t, "elsewhere", "u2"))
	require.NoError(t, err)
	_, err = env.client.InsertRow(ctx, model.TableTodos, todoRow(t, "mine", "u1"))
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, model.ChangeInsert, ev.Kind)
		todo, err := ev.Todo()
		require.NoError(t, err)
		assert.Equal(t, "mine", todo.Task)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for realtime event")
	}
}

func TestRealtime_RejectsBadFilterBeforeUpgrade(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.client.Subscribe(context.Background(), model.TableTodos, query.New().Eq("color", "red"))
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, remote.StatusOf(err))
}

func TestRealtime_FeedCloseDropsStream(t *testing.T) {
	env := newTestEnv(t)

	sub, err := env.client.Subscribe(context.Background(), model.TableTodos, query.New())
	require.NoError(t, err)
	defer sub.Close()
	require.Eventually(t, func() bool { return env.store.Broker().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	env.store.Broker().Close()

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end")
	}
	assert.ErrorIs(t, sub.Err(), remote.ErrStreamDropped)
}

func TestRealtime_ConsumerCloseIsClean(t *testing.T) {
	env := newTestEnv(t)

	sub, err := env.client.Subscribe(context.Background(), model.TableTodos, query.New())
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	for range sub.Events() {
	}
	assert.NoError(t, sub.Err())
	assert.Eventually(t, func() bool { return env.store.Broker().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.client.FetchRows(context.Background(), model.TableTodos, query.New())
	require.NoError(t, err)

	want := `roomtodo_http_requests_total{code="200",method="GET",route="/rest/v1/{table}"} 1`
	assert.Eventually(t, func() bool {
		resp, err := http.Get(env.server.URL + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		return err == nil && strings.Contains(string(body), want)
	}, 2*time.Second, 20*time.Millisecond)
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, errorStatus(query.ErrInvalidFilter))
	assert.Equal(t, http.StatusInternalServerError, errorStatus(io.ErrUnexpectedEOF))
	assert.Equal(t, http.StatusConflict, errorStatus(store.ErrConflict))
}
