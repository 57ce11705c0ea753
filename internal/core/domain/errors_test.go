package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *DomainError
		expected string
	}{
		{
			name:     "error without details",
			err:      NewDomainError("MR-TEST-1000", "test message"),
			expected: "[MR-TEST-1000] test message",
		},
		{
			name:     "error with details",
			err:      NewDomainError("MR-TEST-1001", "test message").WithDetails("extra info"),
			expected: "[MR-TEST-1001] test message: extra info",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestDomainError_Is(t *testing.T) {
	err1 := NewDomainError("MR-TEST-1000", "message 1")
	err2 := NewDomainError("MR-TEST-1000", "message 2") // Same code, different message
	err3 := NewDomainError("MR-TEST-1001", "message 1") // Different code

	// Same code should match
	if !errors.Is(err1, err2) {
		t.Error("errors.Is should return true for same error code")
	}

	// Different code should not match
	if errors.Is(err1, err3) {
		t.Error("errors.Is should return false for different error code")
	}

	// Should not match non-DomainError
	if errors.Is(err1, fmt.Errorf("some error")) {
		t.Error("errors.Is should return false for non-DomainError")
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying cause")
	err := NewDomainError("MR-TEST-1000", "wrapper").WithCause(cause)

	unwrapped := errors.Unwrap(err)
	if unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	// Without cause
	errNoCause := NewDomainError("MR-TEST-1000", "no cause")
	if errors.Unwrap(errNoCause) != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
}

func TestDomainError_WithDetails(t *testing.T) {
	original := NewDomainError("MR-TEST-1000", "original message")
	withDetails := original.WithDetails("additional details")

	// Check original is unchanged
	if original.Details != "" {
		t.Error("WithDetails should not modify original error")
	}

	// Check new error has details
	if withDetails.Details != "additional details" {
		t.Errorf("Details = %q, want %q", withDetails.Details, "additional details")
	}

	// Check code and message are preserved
	if withDetails.Code != original.Code {
		t.Errorf("Code = %q, want %q", withDetails.Code, original.Code)
	}
	if withDetails.Message != original.Message {
		t.Errorf("Message = %q, want %q", withDetails.Message, original.Message)
	}
}

func TestDomainError_WithCause(t *testing.T) {
	original := NewDomainError("MR-TEST-1000", "original message")
	cause := fmt.Errorf("root cause")
	withCause := original.WithCause(cause)

	// Check original is unchanged
	if original.Cause != nil {
		t.Error("WithCause should not modify original error")
	}

	// Check new error has cause
	if withCause.Cause != cause {
		t.Errorf("Cause = %v, want %v", withCause.Cause, cause)
	}

	// Check code and message are preserved
	if withCause.Code != original.Code {
		t.Errorf("Code = %q, want %q", withCause.Code, original.Code)
	}
}

func TestDomainError_Wrap(t *testing.T) {
	cause := fmt.Errorf("quota exceeded")
	wrapped := ErrStoreWrite.Wrap(cause)

	var de *DomainError
	if !errors.As(wrapped, &de) {
		t.Fatalf("Wrap() should return a DomainError, got %T", wrapped)
	}
	if de.Cause != cause {
		t.Errorf("Wrap() should set cause, got %v", de.Cause)
	}
	if de.Details != "quota exceeded" {
		t.Errorf("Details = %q, want cause text", de.Details)
	}

	// An existing domain error is passed through unchanged.
	inner := ErrPartitionNotFound.WithDetails("internal")
	if got := ErrStoreWrite.Wrap(inner); got != error(inner) {
		t.Errorf("Wrap() of a DomainError = %v, want %v", got, inner)
	}
}

func TestIsDomainError(t *testing.T) {
	err := ErrStoreOpen

	if !IsDomainError(err, "MR-STOR-5001") {
		t.Error("IsDomainError should return true for matching code")
	}

	if IsDomainError(err, "MR-STOR-9999") {
		t.Error("IsDomainError should return false for non-matching code")
	}

	if IsDomainError(fmt.Errorf("regular error"), "MR-STOR-5001") {
		t.Error("IsDomainError should return false for non-DomainError")
	}

	wrapped := fmt.Errorf("wrapped: %w", ErrStoreOpen)
	if !IsDomainError(wrapped, "MR-STOR-5001") {
		t.Error("IsDomainError should work with wrapped errors")
	}
	if !IsDomainError(wrapped, "") {
		t.Error("IsDomainError with empty code should match any DomainError")
	}
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "domain error",
			err:      ErrStoreWrite,
			expected: "MR-STOR-5002",
		},
		{
			name:     "wrapped domain error",
			err:      fmt.Errorf("wrapped: %w", ErrMalformedMessage),
			expected: "MR-PROT-4000",
		},
		{
			name:     "regular error",
			err:      fmt.Errorf("regular error"),
			expected: "",
		},
		{
			name:     "nil error",
			err:      nil,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetErrorCode(tt.err); got != tt.expected {
				t.Errorf("GetErrorCode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		err  *DomainError
		code string
	}{
		{ErrStoreOpen, "MR-STOR-5001"},
		{ErrStoreWrite, "MR-STOR-5002"},
		{ErrStoreRead, "MR-STOR-5003"},
		{ErrStoreClosed, "MR-STOR-5004"},
		{ErrPartitionNotFound, "MR-STOR-4040"},
		{ErrCapabilityUnavailable, "MR-CAPA-5030"},
		{ErrMalformedMessage, "MR-PROT-4000"},
		{ErrConnectionClosed, "MR-CONN-5020"},
		{ErrInvalidArgument, "MR-ARG-1001"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Error code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("Error message should not be empty")
			}
		})
	}
}

func TestErrorChaining(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := ErrStoreWrite.
		WithDetails("partition: mirrored_data").
		WithCause(cause)

	if err.Code != "MR-STOR-5002" {
		t.Errorf("Code = %q, want %q", err.Code, "MR-STOR-5002")
	}
	if err.Details != "partition: mirrored_data" {
		t.Errorf("Details = %q", err.Details)
	}
	if err.Cause != cause {
		t.Error("Cause should be preserved")
	}

	if !errors.Is(err, ErrStoreWrite) {
		t.Error("errors.Is should work after chaining")
	}
}
