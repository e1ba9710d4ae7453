package session

import "fmt"

// AuthError codes.
const (
	CodeInvalidEmail      = "invalid-email"
	CodeWeakPassword      = "weak-password"
	CodeEmailInUse        = "email-in-use"
	CodeInvalidCredential = "invalid-credential"
	CodeUserNotFound      = "user-not-found"
	CodeTooManyRequests   = "too-many-requests"
	CodePopupClosed       = "popup-closed"
	CodeNetworkError      = "network-error"
	CodeUnauthenticated   = "unauthenticated"
)

// AuthError represents an error that occurred during an identity operation
type AuthError struct {
	// Op is the operation that failed (e.g., "signUp", "signIn")
	Op string

	// Code is the application-level auth error code
	Code string

	// Err is the underlying error
	Err error
}

// Error implements the error interface
func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("auth %s: %s", e.Op, e.Code)
}

// Unwrap implements the errors.Unwrap interface
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Session is the authenticated identity of the current user. It is
// mirrored read-only from the identity provider; the application never
// writes any of these fields back.
type Session struct {
	// UserID is the provider-assigned unique identifier
	UserID string

	// Email is the account email
	Email string

	// DisplayName is the optional provider profile name
	DisplayName string

	// PhotoURL is the optional provider profile photo
	PhotoURL string
}

// ListenerFunc observes session changes. It receives the current session,
// or nil for the absent state.
type ListenerFunc func(*Session)

// UnsubscribeFunc removes a registered listener. Safe to call more than once.
type UnsubscribeFunc func()
