package models

import (
	"errors"
	"fmt"
)

// Domain error taxonomy. Callers match with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrAlreadyRated      = errors.New("you have already rated this item for this order")
	ErrStorage           = errors.New("storage failure")
	ErrRequestInProgress = errors.New("request with this idempotency key is already in progress")
	ErrForbidden         = errors.New("not authorized for this order")
)

var (
	ErrOrderNotFound   = fmt.Errorf("order %w", ErrNotFound)
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)
	ErrLineNotInOrder  = fmt.Errorf("product not found in this order: %w", ErrNotFound)
)

// ValidationError describes a rejected request payload.
type ValidationError struct {
	Reason string
}

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
