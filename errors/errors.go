package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the session and presence core. Handlers translate these
// into HTTP status codes; the store/cache layers never let backend details
// cross the API boundary.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrStoreUnavailable = errors.New("shared store unavailable")

	// ErrRotationConflict is returned when a conditional refresh-token update
	// matched zero rows: a concurrent refresh already rotated the secret.
	ErrRotationConflict = errors.New("refresh token rotation conflict")
)

// APIError is the JSON error envelope returned to clients.
type APIError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Error codes surfaced to clients.
const (
	CodeUnauthorized = "unauthorized"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeBadRequest   = "invalid_request"
	CodeServerError  = "server_error"
)

func NewUnauthorized(description string) *APIError {
	return &APIError{Code: CodeUnauthorized, Description: description}
}

func NewNotFound(description string) *APIError {
	return &APIError{Code: CodeNotFound, Description: description}
}

func NewConflict(description string) *APIError {
	return &APIError{Code: CodeConflict, Description: description}
}

func NewInvalidRequest(description string) *APIError {
	return &APIError{Code: CodeBadRequest, Description: description}
}

func NewServerError(description string) *APIError {
	return &APIError{Code: CodeServerError, Description: description}
}
