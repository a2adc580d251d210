package feed

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Error taxonomy surfaced by the engine. Callers should treat ErrNotFound and
// ErrForbidden as permanent and ErrStorageUnavailable as transient (safe to
// retry with backoff). Idempotent retries of share/unshare/favorite/unfavorite
// are reported through a false "changed" result, never as an error.
var (
	// ErrNotFound indicates the referenced note or comment does not exist or
	// has been marked unavailable.
	ErrNotFound = errors.New("feed: not found")
	// ErrForbidden indicates the actor lacks permission for the operation.
	ErrForbidden = errors.New("feed: forbidden")
	// ErrInvalidScope indicates a note type incompatible with the supplied scope.
	ErrInvalidScope = errors.New("feed: invalid scope")
	// ErrStorageUnavailable indicates the backing store was unreachable or timed out.
	ErrStorageUnavailable = errors.New("feed: storage unavailable")
)

// ServiceError attaches an operation.reason code to an underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code of the error.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// storageError classifies a gorm failure under the engine taxonomy: record
// absence maps to ErrNotFound, anything else to ErrStorageUnavailable.
func storageError(operation, reason string, cause error) error {
	if errors.Is(cause, gorm.ErrRecordNotFound) {
		return newServiceError(operation, reason, fmt.Errorf("%w: %v", ErrNotFound, cause))
	}
	return newServiceError(operation, reason, fmt.Errorf("%w: %v", ErrStorageUnavailable, cause))
}
