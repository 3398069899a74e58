// Package response provides standardized HTTP response formatting and error handling utilities.
package response

import (
	"encoding/json/v2"
	"log/slog"
	"net/http"

	domainerrors "github.com/readaloudapp/readaloud-server/internal/errors"
	"github.com/readaloudapp/readaloud-server/internal/store"
)

// Envelope provides a consistent JSON response structure.
type Envelope struct {
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Success bool      `json:"success"`
}

// APIError is the wire shape of an error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes a JSON response with the given status code using json/v2.
func JSON(w http.ResponseWriter, status int, data any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	envelope := Envelope{
		Success: status < 400,
		Data:    data,
	}

	// json/v2 MarshalWrite doesn't add a newline, but that's fine for HTTP responses.
	if err := json.MarshalWrite(w, envelope); err != nil {
		if logger != nil {
			logger.Error("Failed to encode JSON response", "error", err)
		}
	}
}

// Success writes a successful JSON response (200 OK).
func Success(w http.ResponseWriter, data any, logger *slog.Logger) {
	JSON(w, http.StatusOK, data, logger)
}

// Created writes a created response (201 Created).
func Created(w http.ResponseWriter, data any, logger *slog.Logger) {
	JSON(w, http.StatusCreated, data, logger)
}

// Accepted writes an accepted response (202 Accepted) for work still in flight.
func Accepted(w http.ResponseWriter, data any, logger *slog.Logger) {
	JSON(w, http.StatusAccepted, data, logger)
}

// NoContent writes a no content response (204 No Content).
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes an error response with the given status code.
func Error(w http.ResponseWriter, status int, apiErr APIError, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	envelope := Envelope{
		Success: false,
		Error:   &apiErr,
	}

	if err := json.MarshalWrite(w, envelope); err != nil {
		if logger != nil {
			logger.Error("Failed to encode error response", "error", err)
		}
	}
}

// BadRequest writes a 400 Bad Request response.
func BadRequest(w http.ResponseWriter, message string, logger *slog.Logger) {
	Error(w, http.StatusBadRequest, APIError{Code: string(domainerrors.CodeValidation), Message: message}, logger)
}

// NotFound writes a 404 Not Found response.
func NotFound(w http.ResponseWriter, message string, logger *slog.Logger) {
	Error(w, http.StatusNotFound, APIError{Code: string(domainerrors.CodeNotFound), Message: message}, logger)
}

// InternalError writes a 500 Internal Server Error response.
func InternalError(w http.ResponseWriter, message string, logger *slog.Logger) {
	Error(w, http.StatusInternalServerError, APIError{Code: string(domainerrors.CodeInternal), Message: message}, logger)
}

// HandleError writes an appropriate HTTP response based on the error type.
// Domain and store errors carry their own HTTP codes; unknown errors become 500.
func HandleError(w http.ResponseWriter, err error, logger *slog.Logger) {
	var domainErr *domainerrors.Error
	if domainerrors.As(err, &domainErr) {
		Error(w, domainErr.HTTPStatus(), APIError{
			Code:    string(domainErr.Code),
			Message: domainErr.Message,
			Details: domainErr.Details,
		}, logger)
		return
	}

	var storeErr *store.Error
	if domainerrors.As(err, &storeErr) {
		code := domainerrors.CodeInternal
		switch storeErr.HTTPCode() {
		case http.StatusNotFound:
			code = domainerrors.CodeNotFound
		case http.StatusConflict:
			code = domainerrors.CodeAlreadyExists
		}
		Error(w, storeErr.HTTPCode(), APIError{
			Code:    string(code),
			Message: storeErr.Message,
		}, logger)
		return
	}

	// Unknown error = 500
	if logger != nil {
		logger.Error("Unhandled error", "error", err)
	}
	InternalError(w, "internal server error", logger)
}
