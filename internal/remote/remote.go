package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/roach88/roomtodo/internal/model"
	"github.com/roach88/roomtodo/internal/query"
)

// RemoteStore is the data source the sync core reads from and writes to.
type RemoteStore interface {
	// FetchRows returns the rows of table matching f, in f's order.
	FetchRows(ctx context.Context, table string, f query.Filter) ([]model.Row, error)

	// InsertRow inserts row and returns it as stored, with server-assigned
	// fields filled in.
	InsertRow(ctx context.Context, table string, row model.Row) (model.Row, error)

	// UpdateRow applies a partial update to the row with the given id and
	// returns the updated row.
	UpdateRow(ctx context.Context, table, id string, patch model.Patch) (model.Row, error)

	// DeleteRow removes the row with the given id.
	DeleteRow(ctx context.Context, table, id string) error

	// Subscribe opens a change feed for table. Only events whose record
	// matches f are delivered.
	Subscribe(ctx context.Context, table string, f query.Filter) (Subscription, error)
}

// Subscription is an open change feed.
type Subscription interface {
	// Events delivers events in the order the store emitted them. The
	// channel is closed when the stream ends for any reason.
	Events() <-chan model.ChangeEvent

	// Err reports why the stream ended: nil while open or after Close,
	// non-nil if the stream dropped.
	Err() error

	// Close ends the stream. Safe to call more than once.
	Close() error
}

// Error is a failure reported by the HTTP API.
type Error struct {
	Status  int
	Message string
}

// Error returns the server message unchanged.
func (e *Error) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Status)
	}
	return e.Message
}

// ErrStreamDropped is reported by Subscription.Err when a websocket feed
// ends without the consumer closing it.
var ErrStreamDropped = errors.New("change feed stream dropped")

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var re *Error
	if errors.As(err, &re) {
		return re.Status
	}
	return 0
}

func newError(status int, msg string) *Error {
	if msg == "" {
		msg = fmt.Sprintf("request failed: %s", http.StatusText(status))
	}
	return &Error{Status: status, Message: msg}
}
