// Package api exposes the caller-facing HTTP surface: memory CRUD, batch
// ingestion, hybrid search, context assembly, maintenance triggers and a
// websocket event stream. Responses share one envelope so clients branch on
// a single success flag.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/engram-memory/engram/internal/store"
	"github.com/engram-memory/engram/pkg/types"
)

// envelope is the uniform response shape.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: status < 400, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: msg})
}

// writeStoreError maps the store's sentinel errors onto HTTP status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	var vErr *types.ValidationError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "memory not found")
	case errors.Is(err, store.ErrInvalidInput), errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrStateConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
