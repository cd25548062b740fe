package logs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mcp-hub/mcphub-go/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zap.AtomicLevel
	}{
		{LogLevelTrace, zap.NewAtomicLevelAt(zap.DebugLevel)},
		{LogLevelDebug, zap.NewAtomicLevelAt(zap.DebugLevel)},
		{LogLevelInfo, zap.NewAtomicLevelAt(zap.InfoLevel)},
		{LogLevelWarn, zap.NewAtomicLevelAt(zap.WarnLevel)},
		{LogLevelError, zap.NewAtomicLevelAt(zap.ErrorLevel)},
		{"bogus", zap.NewAtomicLevelAt(zap.InfoLevel)},
		{"", zap.NewAtomicLevelAt(zap.InfoLevel)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want.Level(), ParseLevel(tt.in), "level %q", tt.in)
	}
}

func TestSetupLoggerConsoleOnly(t *testing.T) {
	logger, err := SetupLogger(&config.LogConfig{
		Level:         LogLevelDebug,
		EnableConsole: true,
	})
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Debug("console logger works")
	require.NoError(t, logger.Sync())
}

func TestSetupLoggerFileOutput(t *testing.T) {
	dir := t.TempDir()
	logger, err := SetupLogger(&config.LogConfig{
		Level:      LogLevelInfo,
		EnableFile: true,
		Filename:   "test.log",
		LogDir:     dir,
		MaxSize:    1,
	})
	require.NoError(t, err)
	logger.Info("file logger works")
	_ = logger.Sync()

	assert.FileExists(t, filepath.Join(dir, "test.log"))
}

func TestSetupLoggerNoOutputs(t *testing.T) {
	_, err := SetupLogger(&config.LogConfig{Level: LogLevelInfo})
	assert.Error(t, err)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.True(t, cfg.EnableConsole)
	assert.False(t, cfg.EnableFile)
	assert.Equal(t, LogLevelInfo, cfg.Level)
}
