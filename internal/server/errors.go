package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/roach88/roomtodo/internal/query"
	"github.com/roach88/roomtodo/internal/store"
)

// errorStatus maps store and filter errors to HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrUnknownTable):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrUnknownColumn),
		errors.Is(err, store.ErrImmutableColumn),
		errors.Is(err, store.ErrInvalidValue),
		errors.Is(err, store.ErrReadOnly),
		errors.Is(err, query.ErrInvalidFilter):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeMessage(w, status, err.Error())
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
