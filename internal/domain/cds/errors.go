package cds

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidSnapshot is wrapped by every ValidationError.
	ErrInvalidSnapshot = errors.New("invalid snapshot")

	// ErrLookupUnavailable is returned by lookups that are not configured.
	ErrLookupUnavailable = errors.New("lookup unavailable")

	// ErrPatientNotFound is returned by snapshot sources for unknown patients.
	ErrPatientNotFound = errors.New("patient not found")
)

// ValidationError lists every problem found while building a snapshot.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidSnapshot, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidSnapshot }

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ValidationError) orNil() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}
