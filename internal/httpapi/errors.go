package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/olegische/xrouter-go/internal/engine"
)

// errorBody is the wire shape of every error response: {error:<message>}.
type errorBody struct {
	Error string `json:"error"`
}

// statusForError maps a CoreError to an HTTP status per SPEC_FULL
// §4.6: Validation->400, Provider overloaded->429, other Provider->400,
// Billing/ClientDisconnected->400.
func statusForError(err *engine.CoreError) int {
	switch err.Kind() {
	case engine.KindValidation:
		return http.StatusBadRequest
	case engine.KindProvider:
		if err.Overloaded() {
			return http.StatusTooManyRequests
		}
		return http.StatusBadRequest
	default: // KindClientDisconnected, KindBilling
		return http.StatusBadRequest
	}
}

func writeError(w http.ResponseWriter, err *engine.CoreError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForError(err))
	_ = json.NewEncoder(w).Encode(errorBody{Error: err.Error()})
}
