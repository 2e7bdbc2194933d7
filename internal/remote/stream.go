package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/roomtodo/internal/model"
)

// Realtime keepalive. The server pings every PingPeriod; a stream that has
// been silent for PongWait is considered dropped.
const (
	PingPeriod = 30 * time.Second
	PongWait   = PingPeriod * 2
	writeWait  = 10 * time.Second
)

// wsSubscription reads ChangeEvents from a websocket, one JSON event per
// text frame.
type wsSubscription struct {
	conn   *websocket.Conn
	table  string
	logger *slog.Logger

	events chan model.ChangeEvent
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
	err       error
}

func newWSSubscription(conn *websocket.Conn, table string, logger *slog.Logger) *wsSubscription {
	s := &wsSubscription{
		conn:   conn,
		table:  table,
		logger: logger,
		events: make(chan model.ChangeEvent, 16),
		done:   make(chan struct{}),
	}
	_ = conn.SetReadDeadline(time.Now().Add(PongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(PongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	go s.read()
	return s
}

func (s *wsSubscription) Events() <-chan model.ChangeEvent {
	return s.events
}

func (s *wsSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = s.conn.Close()
	})
	return nil
}

// read delivers frames until the connection ends. Any end not caused by
// Close is recorded as a dropped stream.
func (s *wsSubscription) read() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(err)
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(PongWait))

		var ev model.ChangeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			s.fail(fmt.Errorf("decode change event: %w", err))
			_ = s.conn.Close()
			return
		}

		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *wsSubscription) fail(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.err = fmt.Errorf("%w: %s: %v", ErrStreamDropped, s.table, cause)
	s.logger.Warn("realtime stream dropped", "table", s.table, "error", cause)
}
