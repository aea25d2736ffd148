package domain

import (
	"errors"
	"fmt"
)

// DuplicateCode is the stable error code carried by DuplicateError.
// Boundary layers key off this value rather than the error message.
const DuplicateCode = "DUPLICATE"

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested record was not found.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates that a value would violate a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate value")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidIdentifier indicates an unsafe field or collection identifier.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrColumnNotAllowed indicates a field outside the configured whitelist.
	ErrColumnNotAllowed = errors.New("column not allowed")
)

// DuplicateError reports a would-violate-uniqueness condition. It is raised
// both by the proactive lookup and by the storage-layer safety net, so
// callers observe one shape regardless of which path detected the conflict.
type DuplicateError struct {
	Code     string
	Resource string
	Field    string
	Value    string
}

// Error implements the error interface.
func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s with this %s already exists", e.Resource, e.Field)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *DuplicateError) Unwrap() error {
	return ErrDuplicate
}

// NotFoundError reports a record that does not exist or is not owned by the
// requesting principal. The two cases are indistinguishable on purpose.
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ValidationError represents a payload validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// InvalidIdentifierError reports an identifier that failed the safety check
// before reaching a query builder.
type InvalidIdentifierError struct {
	Name string
}

// Error implements the error interface.
func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("unsafe identifier: %q", e.Name)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *InvalidIdentifierError) Unwrap() error {
	return ErrInvalidIdentifier
}

// ColumnNotAllowedError reports a column referenced outside the whitelist.
type ColumnNotAllowedError struct {
	Name string
}

// Error implements the error interface.
func (e *ColumnNotAllowedError) Error() string {
	return fmt.Sprintf("column not allowed: %q", e.Name)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ColumnNotAllowedError) Unwrap() error {
	return ErrColumnNotAllowed
}

// NewDuplicateError creates a new DuplicateError.
func NewDuplicateError(resource, field, value string) *DuplicateError {
	return &DuplicateError{
		Code:     DuplicateCode,
		Resource: resource,
		Field:    field,
		Value:    value,
	}
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
