// Package http provides the proxy's HTTP handlers and middleware.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sablehq/parley/internal/domain"
)

// bodyLimit caps request bodies for all JSON endpoints.
const bodyLimit = 1 << 20 // 1 MB

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeBodyError(w, err)
		return v, false
	}
	return v, true
}

// writeBodyError distinguishes an oversized body from malformed JSON.
func writeBodyError(w http.ResponseWriter, err error) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid request body")
}

// errorResponse is the wire error shape: {"error":{"message":...}}.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Message: message}})
}

// writeProxyError maps the error taxonomy onto the wire. Missing fields
// become 400 with the field named; upstream failures carry only their
// status with a generic body; everything else is a generic 500. Upstream
// payloads never reach the client.
func writeProxyError(w http.ResponseWriter, err error) {
	var upstream *domain.UpstreamError
	switch {
	case errors.Is(err, domain.ErrMissingField):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &upstream):
		writeError(w, upstream.Status, "Upstream error")
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Server error")
	}
}
