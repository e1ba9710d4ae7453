// Package prefs stores user interface preferences that survive restarts.
//
// The only preference today is the dark-mode flag. It is kept in a JSON
// file under the user config directory; the first run defaults to light
// mode. No preference ever touches the network.
package prefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	configDirName  = "taskdeck"
	configFileName = "prefs.json"
)

// preferences is the on-disk shape.
type preferences struct {
	DarkMode bool `json:"darkMode"`
}

// Store holds the process-wide preference state, persisted to disk on
// every change.
type Store struct {
	path string

	mu    sync.Mutex
	prefs preferences
}

// NewStore opens the preference store at the default location
// (<user config dir>/taskdeck/prefs.json), creating default state on
// first run.
func NewStore() (*Store, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to locate user config dir: %w", err)
	}
	return NewStoreAt(filepath.Join(configDir, configDirName, configFileName))
}

// NewStoreAt opens the preference store at an explicit path.
func NewStoreAt(path string) (*Store, error) {
	s := &Store{path: path}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// First run: light mode
			return s, nil
		}
		return nil, fmt.Errorf("failed to open preferences: %w", err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&s.prefs); err != nil {
		return nil, fmt.Errorf("failed to decode preferences: %w", err)
	}
	return s, nil
}

// DarkMode reports whether dark mode is enabled.
func (s *Store) DarkMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs.DarkMode
}

// Toggle flips the dark-mode flag and persists it, returning the new
// value.
func (s *Store) Toggle() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prefs.DarkMode = !s.prefs.DarkMode
	if err := s.saveLocked(); err != nil {
		// Leave the prior state in place on failure
		s.prefs.DarkMode = !s.prefs.DarkMode
		return s.prefs.DarkMode, err
	}
	return s.prefs.DarkMode, nil
}

// SetDarkMode sets the dark-mode flag explicitly and persists it.
func (s *Store) SetDarkMode(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.prefs.DarkMode
	s.prefs.DarkMode = enabled
	if err := s.saveLocked(); err != nil {
		s.prefs.DarkMode = previous
		return err
	}
	return nil
}

// saveLocked writes the preferences to disk. Caller must hold s.mu.
func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(s.prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write preferences: %w", err)
	}
	return nil
}
