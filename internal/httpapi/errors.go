package httpapi

import (
	"encoding/json"
	"net/http"

	"chatd/internal/manager"
	"chatd/pkg/types"
)

// statusFor maps manager errors onto the chat endpoint's status codes.
// Only validation failures are the client's fault; everything else is 500.
func statusFor(err error) int {
	if manager.IsValidation(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeEmpty writes a status with no body. Client-facing failures never
// carry error details.
func writeEmpty(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(status)
}

// writeJSONError writes a JSON error payload; used on the admin listener only.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
