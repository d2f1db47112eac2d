package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/fleetyard/fleetauth"
)

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError writes the fixed client-facing form of err:
// {"error": "<code>", "message": "<hint>"}.
func WriteError(w http.ResponseWriter, err error) {
	resp := fleetauth.ClassifyError(err)
	if resp.Status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	WriteJSON(w, resp.Status, resp)
}
