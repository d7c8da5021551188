package httpapi

import (
	"encoding/json"
	"net/http"
)

// Machine-readable error codes shared by every JSON endpoint. Clients
// branch on the code; the message is advisory.
const (
	CodeInvalidRequest = "invalid_request"
	CodeInternal       = "internal_error"
)

// ErrorEnvelope is the JSON error body returned by the trigger and
// gateway APIs.
type ErrorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	if w == nil {
		return nil
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(payload)
}

func WriteError(w http.ResponseWriter, status int, code, message string) error {
	return WriteJSON(w, status, &ErrorEnvelope{Code: code, Message: message})
}

// WriteInvalidRequest reports a 400 with the invalid_request code.
func WriteInvalidRequest(w http.ResponseWriter, message string) error {
	return WriteError(w, http.StatusBadRequest, CodeInvalidRequest, message)
}

// WriteInternal reports a 500 without leaking the underlying error.
func WriteInternal(w http.ResponseWriter) error {
	return WriteError(w, http.StatusInternalServerError, CodeInternal, "internal error")
}
