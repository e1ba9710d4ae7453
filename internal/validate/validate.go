// Package validate holds the input-boundary validation rules shared by the
// view-model operations and the HTTP form handlers. Validation failures are
// caught here and never reach the platform.
package validate

import (
	"fmt"
	"strings"
)

// Validation error codes.
const (
	CodeEmptyText        = "empty-text"
	CodePasswordMismatch = "password-mismatch"
	CodePasswordTooShort = "password-too-short"
)

// MinPasswordLength is the platform's minimum password length, enforced
// locally so weak passwords never generate a remote call.
const MinPasswordLength = 6

// ValidationError represents a rejected input. It is always resolved at
// the input boundary; callers surface it and wait for re-submission.
type ValidationError struct {
	// Field is the input that failed (e.g., "text", "password")
	Field string

	// Code is the validation error code
	Code string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Code)
}

// TaskText trims and validates task text. Empty or whitespace-only text
// is rejected.
func TaskText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", &ValidationError{Field: "text", Code: CodeEmptyText}
	}
	return trimmed, nil
}

// Password validates a password and its confirmation as entered on the
// sign-up form.
func Password(password, confirm string) error {
	if len(password) < MinPasswordLength {
		return &ValidationError{Field: "password", Code: CodePasswordTooShort}
	}
	if password != confirm {
		return &ValidationError{Field: "password", Code: CodePasswordMismatch}
	}
	return nil
}
