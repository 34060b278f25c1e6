// Package api holds small helpers shared by the HTTP handler packages.
package api

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes v as a JSON response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error response. Infrastructure failures must
// be reported through Internal instead so internal detail never reaches
// the client.
func WriteError(w http.ResponseWriter, message string, status int) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// Internal writes a generic 500 without leaking the underlying error.
func Internal(w http.ResponseWriter) {
	WriteError(w, "internal server error", http.StatusInternalServerError)
}
