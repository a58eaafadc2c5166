package utils

import (
	"encoding/json"
	"net/http"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": msg}. retryable tells the scanner the same
// request may succeed if re-sent.
func WriteError(w http.ResponseWriter, status int, msg string, retryable bool) {
	_ = WriteJSON(w, status, ErrorResponse{Error: msg, Retryable: retryable})
}
