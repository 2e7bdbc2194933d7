package cli

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/roomtodo/internal/core"
	"github.com/roach88/roomtodo/internal/remote"
)

// syncTimeout bounds the wait for the first synced view.
const syncTimeout = 30 * time.Second

// remoteClient builds the HTTP client from the resolved configuration.
func (o *RootOptions) remoteClient() (*remote.Client, error) {
	if o.Config.Client.Token == "" {
		return nil, NewExitError(ExitCommandError,
			"no token: pass --token, set client.token or ROOMTODO_TOKEN (see roomtodo token)")
	}
	c, err := remote.NewClient(o.Config.Client.URL,
		remote.WithToken(o.Config.Client.Token),
		remote.WithClientLogger(o.Logger),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid server URL", err)
	}
	return c, nil
}

// withCore runs a Core against the server, waits until room (empty for
// the user's own room) is synced and calls fn. The Core is stopped when
// fn returns.
func (o *RootOptions) withCore(ctx context.Context, room string, fn func(ctx context.Context, c *core.Core, v core.View) error) error {
	rc, err := o.remoteClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	c := core.New(rc, rc, core.WithLogger(o.Logger))
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()
	defer func() {
		cancel()
		<-c.Done()
	}()

	if room != "" {
		c.SelectRoom(room)
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, syncTimeout)
	defer waitCancel()
	v, err := c.WaitFor(waitCtx, func(v core.View) bool {
		if room != "" && v.Room != room {
			return false
		}
		return v.Sync == core.StateSynced || (v.Sync == core.StateEmpty && v.LastError != nil)
	})
	switch {
	case errors.Is(err, core.ErrStopped):
		return <-runErr
	case errors.Is(err, context.DeadlineExceeded):
		return WrapExitError(ExitFailure, "timed out waiting for the room to sync", err)
	case err != nil:
		return err
	}
	if v.Sync != core.StateSynced {
		return &core.Error{Code: v.LastError.Code, Op: v.LastError.Op, Message: v.LastError.Message}
	}

	o.Logger.Debug("room synced", "room", v.Room, "todos", len(v.Todos))
	return fn(ctx, c, v)
}
