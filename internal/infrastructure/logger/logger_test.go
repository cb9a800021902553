package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmaster/tasklist/internal/infrastructure/config"
)

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LoggerConfig{Level: "loud", Format: "console"})
	assert.Error(t, err)
}

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasklist.log")

	log, err := New(config.LoggerConfig{Level: "info", Format: "json", Output: "file", Filename: path})
	require.NoError(t, err)

	log.WithComponent("session").LogUserAction("u-1", "login", map[string]interface{}{"email": "a@b.c"})
	log.Debug("dropped below level")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"session"`)
	assert.Contains(t, string(data), `"action":"login"`)
	assert.Contains(t, string(data), `"email":"a@b.c"`)
	assert.NotContains(t, string(data), "dropped below level")
}

func TestOutputPaths(t *testing.T) {
	out, errOut := outputPaths(config.LoggerConfig{Output: "stdout"})
	assert.Equal(t, []string{"stdout"}, out)
	assert.Equal(t, []string{"stderr"}, errOut)

	out, _ = outputPaths(config.LoggerConfig{Output: "file"})
	assert.Equal(t, []string{"stderr"}, out, "file output without a filename falls back to stderr")
}
