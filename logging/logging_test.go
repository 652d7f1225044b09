package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sat8bit/tavern/config"
)

func TestNewWritesRotatingJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tavern.log")
	h, closer, err := New(config.LogConfig{Level: "debug", File: path, MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)

	slog.New(h).Debug("index built", "session_id", "ab")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"index built"`)
	require.Contains(t, string(data), `"session_id":"ab"`)
}

func TestNewRespectsLevel(t *testing.T) {
	h, closer, err := New(config.LogConfig{Level: "warn"})
	require.NoError(t, err)
	defer closer.Close()

	require.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	require.True(t, h.Enabled(context.Background(), slog.LevelError))

	_, _, err = New(config.LogConfig{Level: "chatty"})
	require.Error(t, err)
}
