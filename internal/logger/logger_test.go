package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_WritesDebugToDailyFile(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

	log, closeFn, err := New(Options{Dir: dir, Level: "debug", Now: func() time.Time { return day }})
	require.NoError(t, err)

	log.Debug("only in the file")
	closeFn()

	data, err := os.ReadFile(filepath.Join(dir, "2026-10-18.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "logging initialized")
	assert.Contains(t, string(data), "only in the file")
	assert.Contains(t, string(data), "DEBUG")
}

func TestNew_FileLevelFiltersDebug(t *testing.T) {
	dir := t.TempDir()
	day := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

	log, closeFn, err := New(Options{Dir: dir, Level: "info", Now: func() time.Time { return day }})
	require.NoError(t, err)
	log.Debug("dropped")
	closeFn()

	data, err := os.ReadFile(LogFilePath(dir, day))
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "dropped"))
}

func TestCleanOldLogs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"2026-10-14.log", "2026-10-15.log", "2026-10-16.log", "2026-10-18.log", "notes.log", "2026-10-01.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	removed, err := CleanOldLogs(dir, 3, now)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(dir, "2026-10-14.log"),
		filepath.Join(dir, "2026-10-15.log"),
	}, removed)

	for _, kept := range []string{"2026-10-16.log", "2026-10-18.log", "notes.log", "2026-10-01.txt"} {
		_, err := os.Stat(filepath.Join(dir, kept))
		assert.NoError(t, err, kept)
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("INFO"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("verbose"))
}
