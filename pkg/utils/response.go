// Package utils provides common utility functions for HTTP response handling
// and request ID management. Responses carry the request ID so the UI can
// quote it when reporting a failed submission.
package utils

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const requestIDKey contextKey = "request_id"

// GetRequestID retrieves the request ID from the context.
// Returns an empty string if the context is nil or no request ID is present.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// ErrorResponse represents a standard error response structure.
//
// Remediation names a follow-up action the UI can offer, e.g. "verify" for an
// account that still needs its confirmation code.
type ErrorResponse struct {
	Error       string `json:"error"`
	Message     string `json:"message,omitempty"`
	Remediation string `json:"remediation,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
}

// RespondWithError sends a JSON error response with the request ID taken from
// the request context.
//
// Example:
//
//	utils.RespondWithError(w, r, http.StatusBadRequest, "Unknown section")
func RespondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	RespondWithErrorRemediation(w, r, statusCode, message, "")
}

// RespondWithErrorRemediation is RespondWithError with a remediation hint.
func RespondWithErrorRemediation(w http.ResponseWriter, r *http.Request, statusCode int, message, remediation string) {
	requestID := GetRequestID(r.Context())
	response := ErrorResponse{
		Error:       http.StatusText(statusCode),
		Message:     message,
		Remediation: remediation,
		RequestID:   requestID,
	}

	RespondWithJSONAndRequestID(w, statusCode, response, requestID)
}

// RespondWithJSON sends a JSON response with the given status code and data.
func RespondWithJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	RespondWithJSONAndRequestID(w, statusCode, data, GetRequestID(r.Context()))
}

// RespondWithJSONAndRequestID sends a JSON response with an explicit request ID.
func RespondWithJSONAndRequestID(w http.ResponseWriter, statusCode int, data interface{}, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("Failed to encode JSON response")
	}
}

// RespondWithMessage sends a simple {"message": ...} response.
//
// Example:
//
//	utils.RespondWithMessage(w, r, http.StatusOK, "Signed out")
func RespondWithMessage(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	requestID := GetRequestID(r.Context())
	response := map[string]string{
		"message": message,
	}
	if requestID != "" {
		response["request_id"] = requestID
	}

	RespondWithJSONAndRequestID(w, statusCode, response, requestID)
}
