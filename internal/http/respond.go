package httpx

import (
	"encoding/json"
	"net/http"
)

// errorBody is the wire shape for every failed read-API response.
type errorBody struct {
	Error string `json:"error"`
}

// writeJSON renders payload with the given status. An encode failure
// after the status line is on the wire is not recoverable, so it is
// dropped.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
