package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRegistry_RegisterLookupRemove(t *testing.T) {
	registry := NewSessionRegistryWithTimeout(time.Hour)
	defer registry.Stop()

	user := &UserSession{}
	registry.Register("token-1", user)
	assert.Equal(t, 1, registry.Count())

	got, err := registry.Lookup("token-1")
	require.NoError(t, err)
	assert.Same(t, user, got)

	_, err = registry.Lookup("token-2")
	assert.ErrorIs(t, err, ErrUnknownSession)

	registry.Remove("token-1")
	assert.Equal(t, 0, registry.Count())

	_, err = registry.Lookup("token-1")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestSessionRegistry_RemoveClosesSession(t *testing.T) {
	registry := NewSessionRegistryWithTimeout(time.Hour)
	defer registry.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	user := &UserSession{ctx: ctx, cancel: cancel}
	registry.Register("token-1", user)

	select {
	case <-user.Context().Done():
		t.Fatal("session closed before removal")
	default:
	}

	registry.Remove("token-1")

	select {
	case <-user.Context().Done():
	default:
		t.Error("removal must close the session so its subscriptions end")
	}
}

func TestSessionRegistry_Resolve(t *testing.T) {
	registry := NewSessionRegistryWithTimeout(time.Hour)
	defer registry.Stop()

	user := &UserSession{}
	registry.Register("token-1", user)

	req, err := http.NewRequest(http.MethodGet, "/api/tasks", nil)
	require.NoError(t, err)

	_, err = registry.Resolve(req)
	assert.ErrorIs(t, err, ErrNoAuthorizationHeader)

	req.Header.Set("Authorization", "token-1")
	_, err = registry.Resolve(req)
	assert.ErrorIs(t, err, ErrNoAuthorizationHeader)

	req.Header.Set("Authorization", "Bearer token-1")
	got, err := registry.Resolve(req)
	require.NoError(t, err)
	assert.Same(t, user, got)
}

func TestSessionRegistry_TokensAreHashed(t *testing.T) {
	registry := NewSessionRegistryWithTimeout(time.Hour)
	defer registry.Stop()

	registry.Register("secret-token", &UserSession{})

	registry.mu.RLock()
	defer registry.mu.RUnlock()
	for key := range registry.sessions {
		assert.NotContains(t, key, "secret-token")
		assert.Len(t, key, 64)
	}
}
