// Package apperr holds the error taxonomy shared by the gateway, the worker
// and the HTTP layer. Stores and clients return these (optionally wrapped) so
// callers can branch with errors.Is / errors.As.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTooLarge     = errors.New("payload too large")
	// ErrConflict means the stored state no longer allows the write.
	ErrConflict     = errors.New("conflict")
)

// Validation wraps ErrValidation with a caller-facing message.
func Validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// ExternalServiceError is returned by stage clients for transport failures,
// non-2xx responses and malformed bodies. The pipeline does not recover from
// it; the queue decides whether to retry.
type ExternalServiceError struct {
	Stage      string
	StatusCode int
	Err        error
}

func (e *ExternalServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s stage: status %d: %v", e.Stage, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func External(stage string, status int, err error) error {
	return &ExternalServiceError{Stage: stage, StatusCode: status, Err: err}
}
