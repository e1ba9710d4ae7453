package platform

import (
	"context"
	"encoding/json"
	"fmt"
)

// Error codes for platform operations.
const (
	// Identity codes, mirroring the platform's own error messages
	CodeEmailExists       = "EMAIL_EXISTS"
	CodeInvalidEmail      = "INVALID_EMAIL"
	CodeWeakPassword      = "WEAK_PASSWORD"
	CodeInvalidCredential = "INVALID_LOGIN_CREDENTIALS"
	CodeEmailNotFound     = "EMAIL_NOT_FOUND"
	CodeTooManyAttempts   = "TOO_MANY_ATTEMPTS_TRY_LATER"
	CodeInvalidIDToken    = "INVALID_ID_TOKEN"

	// Store codes
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeNotFound         = "NOT_FOUND"
	CodeNetwork          = "NETWORK"
	CodeWriteConflict    = "WRITE_CONFLICT"
)

// Error represents an error that occurred during a platform operation
type Error struct {
	// Op is the operation that failed (e.g., "signUp", "push", "subscribe")
	Op string

	// Path is the store path associated with the operation, if any
	Path string

	// Code is the platform error code (e.g., EMAIL_EXISTS, PERMISSION_DENIED)
	Code string

	// Err is the underlying error
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("platform %s %s: %s: %v", e.Op, e.Path, e.Code, e.Err)
	}
	return fmt.Sprintf("platform %s: %s: %v", e.Op, e.Code, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *Error) Unwrap() error {
	return e.Err
}

// UserInfo is the provider-owned profile mirrored read-only into the
// application. It is created on successful authentication and never
// written back to the platform.
type UserInfo struct {
	ID          string `json:"localId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoUrl,omitempty"`
}

// Credentials is the result of a successful identity operation.
type Credentials struct {
	User         UserInfo
	IDToken      string
	RefreshToken string
}

// Identity exposes the platform's account operations.
type Identity interface {
	// SignUp creates a new email/password account
	SignUp(ctx context.Context, email, password string) (*Credentials, error)

	// SignInWithPassword authenticates an existing email/password account
	SignInWithPassword(ctx context.Context, email, password string) (*Credentials, error)

	// SignInWithIDP exchanges a federated provider access token for
	// platform credentials, creating the account on first sign-in
	SignInWithIDP(ctx context.Context, providerToken string) (*Credentials, error)

	// Lookup resolves an ID token to the account profile
	Lookup(ctx context.Context, idToken string) (*UserInfo, error)
}

// SnapshotFunc receives the full current snapshot of a subscribed path.
// A null snapshot means the path holds no data.
type SnapshotFunc func(snapshot json.RawMessage)

// UnsubscribeFunc releases a live subscription. It is safe to call more
// than once.
type UnsubscribeFunc func()

// Database exposes the platform's path-addressed document store.
type Database interface {
	// Get reads the value at path, or JSON null if absent
	Get(ctx context.Context, path string) (json.RawMessage, error)

	// Push appends a new child under path and returns the generated key
	Push(ctx context.Context, path string, value any) (string, error)

	// Update merges the given fields into the value at path, leaving
	// unnamed fields untouched
	Update(ctx context.Context, path string, fields map[string]any) error

	// Delete removes the value at path; removing an absent path is not
	// an error
	Delete(ctx context.Context, path string) error

	// Subscribe attaches a live listener to path. The callback is invoked
	// with the full current snapshot once immediately after attach and
	// again on every subsequent change
	Subscribe(ctx context.Context, path string, fn SnapshotFunc) (UnsubscribeFunc, error)
}

// Backend bundles the two platform surfaces.
type Backend interface {
	Identity
	Database
}
