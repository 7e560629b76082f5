package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/shortify-systems/sentinel/internal/middleware"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestNewFormats(t *testing.T) {
	if l := New(slog.LevelInfo, "json"); l == nil || l.Logger == nil {
		t.Fatal("json logger not constructed")
	}
	if l := New(slog.LevelDebug, "text"); l == nil || l.Logger == nil {
		t.Fatal("text logger not constructed")
	}
}

func TestWithContextRequestID(t *testing.T) {
	l := New(slog.LevelInfo, "json")

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	if got := l.WithContext(ctx); got == l.Logger {
		t.Error("expected a derived logger when request ID present")
	}

	if got := l.WithContext(context.Background()); got != l.Logger {
		t.Error("expected the base logger when no request ID present")
	}
}
