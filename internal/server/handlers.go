package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/roach88/roomtodo/internal/auth"
	"github.com/roach88/roomtodo/internal/model"
	"github.com/roach88/roomtodo/internal/query"
)

const maxBodyBytes = 1 << 20

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	u, ok := auth.UserFrom(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, auth.ErrNoSession.Error())
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) fetchRows(w http.ResponseWriter, r *http.Request) {
	f, err := query.FromValues(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	rows, err := s.store.FetchRows(r.Context(), mux.Vars(r)["table"], f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) insertRow(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if !json.Valid(body) {
		writeMessage(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	row, err := s.store.InsertRow(r.Context(), mux.Vars(r)["table"], model.Row(body))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

func (s *Server) updateRow(w http.ResponseWriter, r *http.Request) {
	var patch model.Patch
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&patch); err != nil {
		writeMessage(w, http.StatusBadRequest, "decode patch: "+err.Error())
		return
	}
	vars := mux.Vars(r)
	row, err := s.store.UpdateRow(r.Context(), vars["table"], vars["id"], patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) deleteRow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.store.DeleteRow(r.Context(), vars["table"], vars["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// realtime streams change events over a websocket, one JSON event per text
// frame. The subscription is opened before the upgrade so filter errors
// are reported with a normal HTTP status.
func (s *Server) realtime(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	f, err := query.FromValues(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	sub, err := s.store.Subscribe(r.Context(), table, f)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade", "table", table, "error", err)
		return
	}
	defer conn.Close()

	// The reader only services control frames; it ends when the peer goes
	// away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.ping)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				reason := "feed closed"
				if err := sub.Err(); err != nil {
					reason = err.Error()
				}
				closeConn(conn, websocket.CloseGoingAway, reason)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Warn("realtime write failed", "table", table, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.logger.Warn("realtime ping failed", "table", table, "error", err)
				return
			}
		case <-gone:
			return
		case <-ctx.Done():
			closeConn(conn, websocket.CloseGoingAway, "server shutting down")
			return
		}
	}
}

const writeWait = 10 * time.Second

func closeConn(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
