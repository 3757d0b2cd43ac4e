// Package errors maps view syncer errors to HTTP responses.
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ydydsnyd/mono-sub004/internal/service"
	"github.com/ydydsnyd/mono-sub004/internal/store"
)

// ErrorCode represents application-specific error codes.
type ErrorCode string

const (
	// General errors
	ErrorCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrorCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrorCodeServiceDown    ErrorCode = "SERVICE_UNAVAILABLE"
	ErrorCodeTimeout        ErrorCode = "TIMEOUT"
	ErrorCodeRateLimited    ErrorCode = "RATE_LIMITED"
	ErrorCodeNotFound       ErrorCode = "NOT_FOUND"

	// Client view record errors
	ErrorCodeUnknownQuery           ErrorCode = "UNKNOWN_QUERY"
	ErrorCodeVersionRegression      ErrorCode = "VERSION_REGRESSION"
	ErrorCodeConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"
	ErrorCodeReplicaMismatch        ErrorCode = "REPLICA_VERSION_MISMATCH"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string    `json:"status"`
	ErrorCode ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
}

// Handler provides error handling functionality.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

// HandleError writes the HTTP response for an error returned by the service.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode, errorCode := Classify(err)
	h.WriteErrorResponse(w, statusCode, errorCode, err.Error(), r.Header.Get("X-Request-ID"))
}

// Classify maps an error to an HTTP status code and error code.
func Classify(err error) (int, ErrorCode) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case stderrors.Is(err, store.ErrConcurrentModification):
		return http.StatusConflict, ErrorCodeConcurrentModification
	case stderrors.Is(err, service.ErrReplicaVersionMismatch):
		return http.StatusGone, ErrorCodeReplicaMismatch
	case stderrors.Is(err, service.ErrVersionRegression):
		return http.StatusBadRequest, ErrorCodeVersionRegression
	case stderrors.Is(err, service.ErrUnknownQuery):
		return http.StatusBadRequest, ErrorCodeUnknownQuery
	case stderrors.Is(err, service.ErrInvalidArgument):
		return http.StatusBadRequest, ErrorCodeInvalidRequest
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorCodeTimeout
	default:
		return http.StatusInternalServerError, ErrorCodeInternalError
	}
}

// WriteErrorResponse writes a formatted error response to the HTTP response writer.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, statusCode int, errorCode ErrorCode, message string, requestID string) {
	fields := []zap.Field{
		zap.Int("status_code", statusCode),
		zap.String("error_code", string(errorCode)),
		zap.String("message", message),
		zap.String("request_id", requestID),
	}
	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("HTTP error response", fields...)
	} else {
		h.logger.Warn("HTTP error response", fields...)
	}

	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// WriteValidationError writes a validation error response.
func (h *Handler) WriteValidationError(w http.ResponseWriter, message string, requestID string) {
	h.WriteErrorResponse(w, http.StatusBadRequest, ErrorCodeInvalidRequest, message, requestID)
}
