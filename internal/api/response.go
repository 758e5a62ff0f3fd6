package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success     bool   `json:"success"`
	Error       string `json:"error"`
	ReferenceID string `json:"referenceId,omitempty"`
	RetryAfter  int    `json:"retryAfter,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Success: false, Error: message})
}

// ClientIP returns the caller address without its port. Forwarding headers
// only count when chi's RealIP middleware is mounted ahead of the handler.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
