/*
errors.go - Centralized error types for the library engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The HTTP layer maps them to status codes, the CLI maps them to exit codes.

ERROR CATEGORIES:
  1. NotFound     - a referenced record does not exist (404)
  2. Validation   - enum/range/shape violation or duplicate unique key (400)
  3. Conflict     - the workflow forbids the transition right now (400)
  4. Immutable    - write to a frozen field or to the audit ledger (403)
  5. Integrity    - a reference does not resolve (400)
  6. Anything else is internal (500) and only ever logged in full

USAGE:
  Check categories with errors.Is against the sentinels:

    if errors.Is(err, library.ErrConflict) {
        ...
    }

  Structured errors carry the details and unwrap to their sentinel.

SEE ALSO:
  - api/handlers.go: statusFor maps these to HTTP codes
  - store.go: Stores return NotFoundError and ValidationError
*/
package library

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned when input breaks a shape or range rule.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when the current state forbids the operation,
	// e.g. a double return or a duplicate active loan.
	ErrConflict = errors.New("conflict")

	// ErrImmutable is returned on writes to frozen fields and to the audit ledger.
	ErrImmutable = errors.New("immutable")

	// ErrIntegrity is returned when a reference does not resolve.
	ErrIntegrity = errors.New("integrity violation")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind EntityKind
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ConflictError carries a stable code for clients plus a readable message.
type ConflictError struct {
	Code    string // e.g. "not_available", "already_returned"
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// Conflict codes.
const (
	CodeNotAvailable       = "not_available"
	CodeDuplicateLoan      = "duplicate_loan"
	CodeDuplicateReserve   = "duplicate_reservation"
	CodeAlreadyReturned    = "already_returned"
	CodeRenewalLimit       = "renewal_limit"
	CodeRenewOverdue       = "renew_overdue"
	CodeNotRenewable       = "not_renewable"
	CodeAvailableNow       = "available_now"
	CodeReservationState   = "reservation_state"
	CodeFineState          = "fine_state"
	CodeReferenced         = "referenced"
	CodeCounterOutOfBounds = "counter_out_of_bounds"
	CodeInvalidCredentials = "invalid_credentials"
)

// ImmutableError names the frozen field or record.
type ImmutableError struct {
	Kind  EntityKind
	Field string // empty when the whole record is frozen
}

func (e *ImmutableError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s records are immutable", e.Kind)
	}
	return fmt.Sprintf("%s.%s cannot be changed after creation", e.Kind, e.Field)
}

func (e *ImmutableError) Unwrap() error {
	return ErrImmutable
}

// IntegrityError describes a reference that does not resolve.
type IntegrityError struct {
	Kind   EntityKind
	ID     string
	Field  string
	Target EntityKind
	Ref    string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s %s: %s references missing %s %s", e.Kind, e.ID, e.Field, e.Target, e.Ref)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrity
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input or
// a state the client can observe.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrIntegrity) ||
		errors.Is(err, ErrImmutable) ||
		errors.Is(err, ErrNotFound)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func notFound(kind EntityKind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func conflict(code, format string, args ...any) error {
	return &ConflictError{Code: code, Message: fmt.Sprintf(format, args...)}
}
