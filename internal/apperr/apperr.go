// Package apperr holds the error classes shared across the domain packages.
// Domain packages wrap one of these with their own sentinel so the transport
// layer can pick a status code with errors.Is without knowing every domain error.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
)

// Validation returns an ErrValidation carrying a formatted detail.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Kind wraps a class error so errors.Is matches both the class and the domain sentinel.
func Kind(class error, message string) error {
	return fmt.Errorf("%w: %s", class, message)
}
