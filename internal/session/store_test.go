package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/taskdeck/internal/platform"
)

func TestSignUpEstablishesSession(t *testing.T) {
	store := NewStore(platform.NewMemory())
	ctx := context.Background()

	session, err := store.SignUp(ctx, "user@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", session.Email)
	assert.NotEmpty(t, session.UserID)
	assert.True(t, store.Resolved())
	assert.NotEmpty(t, store.IDToken())

	// Same email again fails with email-in-use
	_, err = store.SignUp(ctx, "user@example.com", "secret1")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, CodeEmailInUse, authErr.Code)
}

func TestSignInErrorMapping(t *testing.T) {
	backend := platform.NewMemory()
	store := NewStore(backend)
	ctx := context.Background()

	_, err := store.SignUp(ctx, "user@example.com", "secret1")
	require.NoError(t, err)

	tests := []struct {
		name     string
		email    string
		password string
		wantCode string
	}{
		{"wrong password", "user@example.com", "wrong-pass", CodeInvalidCredential},
		{"unknown user", "nobody@example.com", "secret1", CodeUserNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.SignIn(ctx, tt.email, tt.password)
			var authErr *AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tt.wantCode, authErr.Code)
		})
	}
}

func TestOnChangeImmediateAndSubsequent(t *testing.T) {
	store := NewStore(platform.NewMemory())
	ctx := context.Background()

	var events []*Session
	unsubscribe := store.OnChange(func(s *Session) {
		events = append(events, s)
	})

	// Immediate invocation with the absent state
	require.Len(t, events, 1)
	assert.Nil(t, events[0])

	session, err := store.SignUp(ctx, "user@example.com", "secret1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, session.UserID, events[1].UserID)

	require.NoError(t, store.SignOut(ctx))
	require.Len(t, events, 3)
	assert.Nil(t, events[2])

	unsubscribe()
	unsubscribe() // safe twice
	_, err = store.SignIn(ctx, "user@example.com", "secret1")
	require.NoError(t, err)
	assert.Len(t, events, 3, "no events after unsubscribe")
}

func TestSignOutIdempotent(t *testing.T) {
	store := NewStore(platform.NewMemory())
	ctx := context.Background()

	var notifications int
	store.OnChange(func(*Session) { notifications++ })
	require.Equal(t, 1, notifications)

	// Signing out while signed out neither errors nor notifies
	require.NoError(t, store.SignOut(ctx))
	require.NoError(t, store.SignOut(ctx))
	assert.Equal(t, 1, notifications)
}

func TestResolveRestoresCachedCredential(t *testing.T) {
	backend := platform.NewMemory()
	cachePath := filepath.Join(t.TempDir(), "session.token")

	first := NewStore(backend, WithTokenCache(NewTokenCacheAt(cachePath)))
	_, err := first.SignUp(context.Background(), "user@example.com", "secret1")
	require.NoError(t, err)

	// A fresh store over the same backend restores the session from disk
	second := NewStore(backend, WithTokenCache(NewTokenCacheAt(cachePath)))
	assert.False(t, second.Resolved())
	assert.Nil(t, second.Current())

	second.Resolve(context.Background())
	require.True(t, second.Resolved())
	require.NotNil(t, second.Current())
	assert.Equal(t, "user@example.com", second.Current().Email)
}

func TestResolveSettlesAbsentWithoutCache(t *testing.T) {
	store := NewStore(platform.NewMemory())

	var events []*Session
	store.OnChange(func(s *Session) { events = append(events, s) })

	store.Resolve(context.Background())
	assert.True(t, store.Resolved())
	assert.Nil(t, store.Current())
	// Immediate registration event plus the resolution event
	assert.Len(t, events, 2)
}

type fakeFederated struct {
	cred *FederatedCredential
	err  error
}

func (f *fakeFederated) Authenticate(ctx context.Context) (*FederatedCredential, error) {
	return f.cred, f.err
}

func TestSignInWithProvider(t *testing.T) {
	backend := platform.NewMemory()
	backend.RegisterFederatedUser("provider-token", platform.UserInfo{
		Email:       "fed@example.com",
		DisplayName: "Fed User",
	})

	store := NewStore(backend, WithFederated(&fakeFederated{
		cred: &FederatedCredential{ProviderToken: "provider-token"},
	}))

	session, err := store.SignInWithProvider(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fed@example.com", session.Email)
	assert.Equal(t, "Fed User", session.DisplayName)
}

func TestSignInWithProviderAbandoned(t *testing.T) {
	store := NewStore(platform.NewMemory(), WithFederated(&fakeFederated{
		err: ErrFlowAbandoned,
	}))

	_, err := store.SignInWithProvider(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, CodePopupClosed, authErr.Code)
	assert.Nil(t, store.Current())
}

func TestMapAuthError(t *testing.T) {
	tests := []struct {
		platformCode string
		want         string
	}{
		{platform.CodeEmailExists, CodeEmailInUse},
		{platform.CodeInvalidEmail, CodeInvalidEmail},
		{platform.CodeWeakPassword, CodeWeakPassword},
		{platform.CodeInvalidCredential, CodeInvalidCredential},
		{platform.CodeEmailNotFound, CodeUserNotFound},
		{platform.CodeTooManyAttempts, CodeTooManyRequests},
		{platform.CodeNetwork, CodeNetworkError},
	}

	for _, tt := range tests {
		t.Run(tt.platformCode, func(t *testing.T) {
			err := mapAuthError("signIn", &platform.Error{Op: "signIn", Code: tt.platformCode, Err: errors.New("x")})
			var authErr *AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tt.want, authErr.Code)
		})
	}
}
