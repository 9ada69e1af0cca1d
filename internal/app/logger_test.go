package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogLevelMapping(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  slog.Level
	}{
		{"debug", "debug", slog.LevelDebug},
		{"warn", "warn", slog.LevelWarn},
		{"warning alias", "Warning", slog.LevelWarn},
		{"error", "error", slog.LevelError},
		{"info", "info", slog.LevelInfo},
		{"unknown falls back to info", "verbose", slog.LevelInfo},
		{"empty falls back to info", "", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, logLevel(&Config{LogLevel: tt.level}))
		})
	}
	require.Equal(t, slog.LevelInfo, logLevel(nil))
}

func TestNewLoggerHonoursLevel(t *testing.T) {
	logger := NewLogger(&Config{LogFormat: "json", LogLevel: "warn"})
	ctx := context.Background()
	require.False(t, logger.Enabled(ctx, slog.LevelInfo))
	require.True(t, logger.Enabled(ctx, slog.LevelWarn))
}
