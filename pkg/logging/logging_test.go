package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/pario-ai/chargeback/pkg/config"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chargeback.log")
	l, err := New(config.LogConfig{Level: "warn", Format: "json", Output: path})
	require.NoError(t, err)

	l.Info("dropped")
	l.Warn("invalid api call event, skipping")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"msg":"invalid api call event, skipping"`)
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestNewUnknownLevel(t *testing.T) {
	l, err := New(config.LogConfig{Level: "loud", Output: "stderr"})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestNewBadOutput(t *testing.T) {
	_, err := New(config.LogConfig{Output: filepath.Join(t.TempDir(), "missing", "x.log")})
	assert.Error(t, err)
}
