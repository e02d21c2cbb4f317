package apierr

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/onnwee/matchcache/internal/logger"
)

// ErrorCode represents a structured error code
type ErrorCode string

// Error code constants organized by category
const (
	// DOCUMENT_ - Document lookup errors
	ErrDocumentNotFound ErrorCode = "DOCUMENT_NOT_FOUND"

	// REMOTE_ - Remote document store errors
	ErrRemoteUnavailable ErrorCode = "REMOTE_UNAVAILABLE"
	ErrRemoteFailed      ErrorCode = "REMOTE_FAILED"

	// SYSTEM_ - System and server errors
	ErrSystemInternal ErrorCode = "SYSTEM_INTERNAL"
	ErrSystemTimeout  ErrorCode = "SYSTEM_TIMEOUT"

	// VALIDATION_ - Request validation errors
	ErrValidationInvalidJSON  ErrorCode = "VALIDATION_INVALID_JSON"
	ErrValidationMissingField ErrorCode = "VALIDATION_MISSING_FIELD"
	ErrValidationInvalidValue ErrorCode = "VALIDATION_INVALID_VALUE"
	ErrValidationTooLarge     ErrorCode = "VALIDATION_TOO_LARGE"
)

// Error represents a structured API error
type Error struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	status    int                    // HTTP status code (not serialized)
}

// ErrorResponse is the top-level error response wrapper
type ErrorResponse struct {
	Error *Error `json:"error"`
}

// New creates a new API error
func New(code ErrorCode, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		status:  status,
	}
}

// WithDetails adds details to the error
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// WithRequestID adds a request ID to the error
func (e *Error) WithRequestID(requestID string) *Error {
	e.RequestID = requestID
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Status returns the HTTP status code
func (e *Error) Status() int {
	return e.status
}

// WriteError writes a structured error response to the HTTP response writer
func WriteError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status())
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: err})
}

// DocumentNotFound reports that the remote store has no document with id.
func DocumentNotFound(id string) *Error {
	return New(ErrDocumentNotFound, "Document not found", http.StatusNotFound).
		WithDetails(map[string]interface{}{"id": id})
}

// RemoteUnavailable creates a remote store unavailable error
func RemoteUnavailable(message string) *Error {
	if message == "" {
		message = "Document store temporarily unavailable"
	}
	return New(ErrRemoteUnavailable, message, http.StatusServiceUnavailable)
}

// RemoteFailed creates a remote store failure error
func RemoteFailed(message string) *Error {
	if message == "" {
		message = "Document store returned an unusable response"
	}
	return New(ErrRemoteFailed, message, http.StatusBadGateway)
}

// SystemInternal creates an internal server error
func SystemInternal(message string) *Error {
	if message == "" {
		message = "Internal server error"
	}
	return New(ErrSystemInternal, message, http.StatusInternalServerError)
}

// SystemTimeout creates a system timeout error
func SystemTimeout(message string) *Error {
	if message == "" {
		message = "Request timeout"
	}
	return New(ErrSystemTimeout, message, http.StatusGatewayTimeout)
}

// ValidationInvalidJSON creates an invalid JSON error
func ValidationInvalidJSON() *Error {
	return New(ErrValidationInvalidJSON, "Invalid JSON request body", http.StatusBadRequest)
}

// ValidationMissingField creates a missing field error
func ValidationMissingField(field string) *Error {
	return New(ErrValidationMissingField, "Missing required field: "+field, http.StatusBadRequest).
		WithDetails(map[string]interface{}{"field": field})
}

// ValidationInvalidValue creates an invalid value error
func ValidationInvalidValue(field string, message string) *Error {
	if message == "" {
		message = "Invalid value for field: " + field
	}
	return New(ErrValidationInvalidValue, message, http.StatusBadRequest).
		WithDetails(map[string]interface{}{"field": field})
}

// ValidationTooLarge creates a request too large error
func ValidationTooLarge(limit int64) *Error {
	return New(ErrValidationTooLarge, "Request body too large", http.StatusRequestEntityTooLarge).
		WithDetails(map[string]interface{}{"limit_bytes": limit})
}

// GetRequestID extracts the request ID from the context
func GetRequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(logger.RequestIDKey).(string); ok {
		return reqID
	}
	return ""
}

// WriteErrorWithContext writes a structured error response with request ID from context
func WriteErrorWithContext(w http.ResponseWriter, r *http.Request, err *Error) {
	if reqID := GetRequestID(r.Context()); reqID != "" {
		err = err.WithRequestID(reqID)
	}
	WriteError(w, err)
}
