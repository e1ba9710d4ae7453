package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CachedCredential is the persisted form of a platform credential.
type CachedCredential struct {
	IDToken      string
	RefreshToken string
}

// TokenCache persists the platform credential across restarts so the
// session survives a reload. The credential is stored in a single file
// under the user cache directory with owner-only permissions.
type TokenCache struct {
	path string
}

// NewTokenCache creates a cache at the default location
// (<user cache dir>/taskdeck/session.token).
func NewTokenCache() (*TokenCache, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("failed to locate user cache dir: %w", err)
	}
	return &TokenCache{
		path: filepath.Join(cacheDir, "taskdeck", "session.token"),
	}, nil
}

// NewTokenCacheAt creates a cache at an explicit path.
func NewTokenCacheAt(path string) *TokenCache {
	return &TokenCache{path: path}
}

// Save writes the credential to disk.
func (c *TokenCache) Save(cred CachedCredential) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data := cred.IDToken + " " + cred.RefreshToken
	if err := os.WriteFile(c.path, []byte(data), 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// Load reads the cached credential. A missing file returns an error.
func (c *TokenCache) Load() (CachedCredential, error) {
	slurp, err := os.ReadFile(c.path)
	if err != nil {
		return CachedCredential{}, fmt.Errorf("no cached credential: %w", err)
	}

	fields := strings.Fields(strings.TrimSpace(string(slurp)))
	if len(fields) != 2 {
		return CachedCredential{}, fmt.Errorf("invalid token file format")
	}

	return CachedCredential{
		IDToken:      fields[0],
		RefreshToken: fields[1],
	}, nil
}

// Clear removes the cached credential. Clearing an absent cache is a no-op.
func (c *TokenCache) Clear() {
	os.Remove(c.path)
}
