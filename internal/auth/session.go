package auth

import (
	"context"
	"errors"

	"github.com/roach88/roomtodo/internal/model"
)

// ErrNoSession is returned when no user is signed in.
var ErrNoSession = errors.New("no signed-in user")

// Session yields the signed-in user. remote.Client implements it by asking
// the server who the bearer token belongs to.
type Session interface {
	CurrentUser(ctx context.Context) (model.User, error)
}

// StaticSession is a Session fixed at construction, used in-process.
type StaticSession struct {
	User model.User
}

// CurrentUser returns the fixed user, or ErrNoSession if it has no id.
func (s StaticSession) CurrentUser(ctx context.Context) (model.User, error) {
	if s.User.ID == "" {
		return model.User{}, ErrNoSession
	}
	return s.User, nil
}

type userKey struct{}

// WithUser returns a context carrying the authenticated user.
func WithUser(ctx context.Context, u model.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFrom returns the authenticated user stored by WithUser.
func UserFrom(ctx context.Context) (model.User, bool) {
	u, ok := ctx.Value(userKey{}).(model.User)
	return u, ok
}
