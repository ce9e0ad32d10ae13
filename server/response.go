package server

import (
	"encoding/json"
	"net/http"

	"github.com/teranos/reel/gateway"
)

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, gateway.ErrorBody{Error: message, Code: code})
}

// writeErr maps err to a status and writes it
func writeErr(w http.ResponseWriter, err error) {
	status, code, msg := gateway.StatusFor(err)
	writeError(w, status, code, msg)
}
