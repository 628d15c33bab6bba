package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestConsoleHandler(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(newConsoleHandler(&buf, slog.LevelInfo, false))

	logger.With("component", "worker").WithGroup("draft").Info("saved", "local_id", "abc")
	line := buf.String()
	assert.Contains(t, line, "[INFO] saved")
	assert.Contains(t, line, "component=worker")
	assert.Contains(t, line, "draft.local_id=abc")
	assert.False(t, strings.Contains(line, "\033["))

	buf.Reset()
	colored := slog.New(newConsoleHandler(&buf, slog.LevelInfo, true))
	colored.Error("boom")
	assert.Contains(t, buf.String(), "\033[31m")
}

func TestNew(t *testing.T) {
	t.Run("WritesToFile", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "logs", "outpost.log")
		logger, closer, err := New(Options{Level: "info", Format: "json", File: path})
		require.NoError(t, err)

		logger.Info("hello", "component", "test")
		require.NoError(t, closer())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"msg":"hello"`)
		assert.Contains(t, string(data), `"component":"test"`)
	})

	t.Run("LevelFiltersOutput", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "outpost.log")
		logger, closer, err := New(Options{Level: "warn", File: path})
		require.NoError(t, err)

		logger.Info("quiet")
		logger.Warn("loud")
		require.NoError(t, closer())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.False(t, strings.Contains(string(data), "quiet"))
		assert.Contains(t, string(data), "loud")
	})
}
