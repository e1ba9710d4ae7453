package prefs

import (
	"path/filepath"
	"testing"
)

func TestFirstRunDefaultsToLightMode(t *testing.T) {
	store, err := NewStoreAt(filepath.Join(t.TempDir(), "prefs.json"))
	if err != nil {
		t.Fatalf("NewStoreAt failed: %v", err)
	}
	if store.DarkMode() {
		t.Error("first run must default to light mode")
	}
}

func TestTogglePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")

	store, err := NewStoreAt(path)
	if err != nil {
		t.Fatalf("NewStoreAt failed: %v", err)
	}

	enabled, err := store.Toggle()
	if err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	if !enabled {
		t.Error("first toggle should enable dark mode")
	}

	// Simulate a reload
	reopened, err := NewStoreAt(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if !reopened.DarkMode() {
		t.Error("dark mode must survive a reload")
	}

	enabled, err = reopened.Toggle()
	if err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	if enabled {
		t.Error("second toggle should restore light mode")
	}
}

func TestSetDarkMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	store, err := NewStoreAt(path)
	if err != nil {
		t.Fatalf("NewStoreAt failed: %v", err)
	}

	if err := store.SetDarkMode(true); err != nil {
		t.Fatalf("SetDarkMode failed: %v", err)
	}
	if !store.DarkMode() {
		t.Error("SetDarkMode(true) did not apply")
	}
}
