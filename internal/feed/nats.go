package feed

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/roach88/roomtodo/internal/model"
)

// DefaultSubjectPrefix is the NATS subject prefix for mirrored events.
const DefaultSubjectPrefix = "roomtodo"

// NATSSink mirrors change events to NATS subjects of the form
// <prefix>.<table>.<type>, e.g. roomtodo.todos.insert.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

// DialNATS connects to url and returns a sink publishing under prefix.
func DialNATS(url, prefix string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("roomtodo-feed"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return NewNATSSink(nc, prefix), nil
}

// NewNATSSink wraps an existing connection.
func NewNATSSink(nc *nats.Conn, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{conn: nc, prefix: prefix}
}

// Subject returns the subject an event is published on.
func Subject(prefix string, ev model.ChangeEvent) string {
	return prefix + "." + ev.Table + "." + strings.ToLower(string(ev.Kind))
}

// Publish sends ev as JSON.
func (s *NATSSink) Publish(ev model.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := s.conn.Publish(Subject(s.prefix, ev), data); err != nil {
		return fmt.Errorf("publish %s: %w", Subject(s.prefix, ev), err)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}
