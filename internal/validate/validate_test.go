package validate

import (
	"errors"
	"testing"
)

func TestTaskText(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		want     string
		wantCode string
	}{
		{"plain text", "Buy milk", "Buy milk", ""},
		{"surrounding whitespace trimmed", "  Buy milk\t", "Buy milk", ""},
		{"empty", "", "", CodeEmptyText},
		{"whitespace only", "   \t\n", "", CodeEmptyText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TaskText(tt.in)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("TaskText(%q) failed: %v", tt.in, err)
				}
				if got != tt.want {
					t.Errorf("TaskText(%q) = %q, want %q", tt.in, got, tt.want)
				}
				return
			}

			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if validationErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", validationErr.Code, tt.wantCode)
			}
		})
	}
}

func TestPassword(t *testing.T) {
	if err := Password("secret1", "secret1"); err != nil {
		t.Errorf("valid password rejected: %v", err)
	}

	var validationErr *ValidationError
	err := Password("short", "short")
	if !errors.As(err, &validationErr) || validationErr.Code != CodePasswordTooShort {
		t.Errorf("short password: got %v, want %s", err, CodePasswordTooShort)
	}

	err = Password("secret1", "secret2")
	if !errors.As(err, &validationErr) || validationErr.Code != CodePasswordMismatch {
		t.Errorf("mismatch: got %v, want %s", err, CodePasswordMismatch)
	}
}
