package log

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContext(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))

	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, nil)).With("execution_id", "exec-1")
	ctx := WithLogger(context.Background(), logger)

	FromContext(ctx).Info("step started")

	assert.Contains(t, buf.String(), "execution_id=exec-1")
	assert.Contains(t, buf.String(), "step started")
}

func TestSetupLevels(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			Setup(tt.level)

			ctx := context.Background()
			assert.True(t, slog.Default().Enabled(ctx, tt.expected))
			assert.False(t, slog.Default().Enabled(ctx, tt.expected-1))
		})
	}
}
