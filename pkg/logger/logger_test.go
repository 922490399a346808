package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "porteria.log")
	log := New(Options{Level: "debug", File: path})
	log.Info("qr validated")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"qr validated"`)
	assert.Contains(t, string(data), `"timestamp"`)
}

func TestNew_Level(t *testing.T) {
	log := New(Options{Level: "warn"})
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))

	log = New(Options{Level: "bogus"})
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
}
