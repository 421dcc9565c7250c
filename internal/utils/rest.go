package utils

import (
	"encoding/json"
	"net/http"
)

// Error codes carried in the response envelope.
const (
	CodeBadRequest    = "BAD_REQUEST"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeForbidden     = "FORBIDDEN"
	CodeNotFound      = "NOT_FOUND"
	CodeMethod        = "METHOD_NOT_ALLOWED"
	CodeRateLimited   = "RATE_LIMITED"
	CodeInternalError = "INTERNAL_ERROR"
)

// APIError is the error member of the response envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Envelope is the JSON shape of every API response:
// {success, data?, error?: {code, message}}.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// RespondWithError sends an error envelope
func RespondWithError(w http.ResponseWriter, status int, code, message string) {
	RespondWithJSON(w, status, Envelope{
		Success: false,
		Error:   &APIError{Code: code, Message: message},
	})
}

// RespondWithData sends a success envelope wrapping data
func RespondWithData(w http.ResponseWriter, status int, data interface{}) error {
	return RespondWithJSON(w, status, Envelope{Success: true, Data: data})
}

// RespondWithJSON sends a JSON response
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "Failed to encode response: "+err.Error(), http.StatusInternalServerError)
		return err
	}
	return nil
}
