// Package domain defines the core domain values for kvmirror.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain error with a structured error code.
// Codes follow the format MR-<AREA>-<NNNN> and travel unchanged over the
// wire, so a client can rebuild the same error the worker produced.
type DomainError struct {
	Code    string // Error code (e.g., "MR-STOR-5002")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
// A cause that already is a DomainError is returned unchanged.
func (e *DomainError) Wrap(cause error) error {
	var de *DomainError
	if errors.As(cause, &de) {
		return cause
	}
	return e.WithCause(cause).WithDetails(cause.Error())
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Storage Errors (STOR)
// ============================================================================

var (
	// ErrStoreOpen indicates the embedded database failed to open or upgrade.
	// It is fatal to the worker instance that produced it.
	ErrStoreOpen = NewDomainError("MR-STOR-5001", "store open failed")

	// ErrStoreWrite indicates a single write transaction aborted.
	ErrStoreWrite = NewDomainError("MR-STOR-5002", "store write failed")

	// ErrStoreRead indicates a read transaction failed.
	ErrStoreRead = NewDomainError("MR-STOR-5003", "store read failed")

	// ErrPartitionNotFound indicates no migration created the partition.
	ErrPartitionNotFound = NewDomainError("MR-STOR-4040", "partition not found")

	// ErrStoreClosed indicates the store was closed.
	ErrStoreClosed = NewDomainError("MR-STOR-5004", "store closed")
)

// ============================================================================
// Capability, Protocol and Connection Errors
// ============================================================================

var (
	// ErrCapabilityUnavailable indicates the host offers neither a shared
	// nor a dedicated worker. Clients degrade to a no-op passthrough.
	ErrCapabilityUnavailable = NewDomainError("MR-CAPA-5030", "worker capability unavailable")

	// ErrMalformedMessage indicates an unexpected message shape.
	ErrMalformedMessage = NewDomainError("MR-PROT-4000", "malformed message")

	// ErrConnectionClosed indicates the worker connection went away before
	// a response arrived.
	ErrConnectionClosed = NewDomainError("MR-CONN-5020", "connection closed")

	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("MR-ARG-1001", "invalid argument")

	// ErrInternal is reported for failures that carry no code of their own.
	ErrInternal = NewDomainError("MR-INT-5000", "internal error")
)
