package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an item doesn't exist or is deleted.
	ErrNotFound = errors.New("dataapi: resource not found")

	// ErrInvalidArguments is returned for malformed requests.
	ErrInvalidArguments = errors.New("dataapi: invalid arguments")

	// ErrConstraintViolation is returned when a conditional write is rejected.
	ErrConstraintViolation = errors.New("dataapi: constraint violation")

	// ErrSchemaViolation is returned when a payload fails its facet schema.
	ErrSchemaViolation = errors.New("dataapi: schema violation")

	// ErrUnimplemented is returned when the backend cannot support an operation.
	ErrUnimplemented = errors.New("dataapi: feature not implemented")
)

// BackendError wraps a failure reported by a backend driver.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("dataapi: backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// invalidf returns an ErrInvalidArguments carrying a message.
func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArguments, fmt.Sprintf(format, args...))
}

// notFoundf returns an ErrNotFound carrying a message.
func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
