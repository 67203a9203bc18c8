// Package handlers implements the HTTP handlers of the ingestion
// server.
package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/modalgate/modalgate/internal/logger"
)

// writeJSON writes a JSON response with the given status code.
// Encoding happens into a buffer first so a marshal failure can still
// produce an error response before any header is sent.
func writeJSON(w http.ResponseWriter, status int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", logger.KeyError, err)
		http.Error(w, `{"status":"error","message":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes the structured error body shared by every
// endpoint: {"status":"error","message":...}.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"status":  "error",
		"message": message,
	})
}

// Health is the liveness probe.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}
