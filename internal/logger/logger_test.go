package logger

import (
	"errors"
	"strings"
	"testing"
)

func TestAnonymize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"email", "welcome john@example.com", "welcome [REDACTED_EMAIL]"},
		{"token", "bearer eyJhbGciOiJIUzI1NiJ9.payload.sig sent", "bearer [REDACTED_TOKEN] sent"},
		{"account id", "Post created by account_id=0190f3c2-7a1b-7c3d-8e4f-1234567890ab", "Post created by account_id=[USER_ID]"},
		{"user id", "user_id = 42 followed", "user_id=[USER_ID] followed"},
		{"plain", "nothing to hide", "nothing to hide"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Anonymize(tt.in); got != tt.want {
				t.Fatalf("Anonymize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// logging must never panic, whatever the level
func TestLogger_Levels(t *testing.T) {
	l := New()
	SetLevel("debug")
	defer SetLevel("info")

	l.Debug("test", "debug message")
	l.Info("test", "info message for "+strings.Repeat("x", 8))
	l.Error("test", "error message", errors.New("boom"))

	SetLevel("not-a-level")
	if level.Level().String() != "info" {
		t.Fatalf("unknown level should fall back to info, got %s", level.Level())
	}
}
