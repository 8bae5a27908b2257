// Package httpx provides the JSON response envelope shared by all handlers.
package httpx

import (
	"encoding/json"
	"net/http"
)

// Envelope is the standard response body for every endpoint.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Errors  any    `json:"errors,omitempty"`
}

// JSON sends a raw JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// OK sends a success envelope.
func OK(w http.ResponseWriter, status int, message string, data any) {
	JSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

// Fail sends a failure envelope.
func Fail(w http.ResponseWriter, status int, message string) {
	JSON(w, status, Envelope{Success: false, Message: message})
}

// FailWith sends a failure envelope carrying structured error details.
func FailWith(w http.ResponseWriter, status int, message string, details any) {
	JSON(w, status, Envelope{Success: false, Message: message, Errors: details})
}

// DecodeJSON decodes a JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(r.Body).Decode(target)
}
