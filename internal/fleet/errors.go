// Package fleet holds the error taxonomy and collaborators shared by the
// trip engine, the location ingestor and the read service.
package fleet

import (
	"errors"
	"fmt"
)

var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyClosed = errors.New("trip already closed")
)

// ValidationError reports malformed or out-of-range input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports a reference to an entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError reports an entity that is not in the state an operation
// requires. Status is the state that was observed.
type ConflictError struct {
	Entity string
	ID     int64
	Status string
	Reason string
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %d unavailable: %s", e.Entity, e.ID, e.Reason)
	}
	return fmt.Sprintf("%s %d unavailable: status is %s", e.Entity, e.ID, e.Status)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// AlreadyClosedError reports a checkin against a trip that has ended.
type AlreadyClosedError struct {
	TripID int64
}

func (e *AlreadyClosedError) Error() string {
	return fmt.Sprintf("trip %d already closed", e.TripID)
}

func (e *AlreadyClosedError) Is(target error) bool { return target == ErrAlreadyClosed }

// Invalid is shorthand for a ValidationError.
func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsDomainError reports whether err belongs to the engine taxonomy, as
// opposed to an unexpected persistence failure.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) || errors.Is(err, ErrAlreadyClosed)
}
