package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/roomtodo/internal/model"
	"github.com/roach88/roomtodo/internal/store"
)

// Directory users seeded by NewStore.
var (
	Ann   = model.User{ID: "u1", Email: "ann@example.com"}
	Bob   = model.User{ID: "u2", Email: "bob@example.com"}
	Carol = model.User{ID: "u3", Email: "carol@example.com"}
)

// NewStore opens a store in a temp dir with a deterministic wall clock and
// the Ann, Bob and Carol users. The store and its broker are closed when
// the test ends.
func NewStore(t testing.TB, opts ...store.Option) (*store.Store, *WallClock) {
	t.Helper()

	clock := NewDefaultWallClock()
	opts = append([]store.Option{store.WithClock(clock.Now)}, opts...)
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Broker().Close()
		s.Close()
	})

	for _, u := range []model.User{Ann, Bob, Carol} {
		_, err := s.PutUser(context.Background(), u)
		require.NoError(t, err)
	}
	return s, clock
}
