package logutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFolderCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	got := GetFolder(dir)
	assert.Equal(t, dir, got)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestInitLoggerWritesToFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")
	w, err := InitLogger("test-app", logFile, "info")
	require.NoError(t, err)
	w.Close()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "App started test-app")
}

func TestInitLoggerRejectsBadLevel(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")
	w, err := InitLogger("test-app", logFile, "chatty")
	assert.Error(t, err)
	w.Close()
}

func TestVersionIsNonEmpty(t *testing.T) {
	assert.NotEmpty(t, Version())
}
