package observability

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		env  string
		want zapcore.Level
	}{
		{"", zap.InfoLevel},
		{"info", zap.InfoLevel},
		{" DEBUG ", zap.DebugLevel},
		{"warning", zap.WarnLevel},
		{"Error", zap.ErrorLevel},
		{"verbose", zap.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLogLevel(tt.env).Level(), "LOG_LEVEL=%q", tt.env)
	}
}

func TestLoggerConfig_Format(t *testing.T) {
	jsonCfg := loggerConfig("debug", "")
	assert.Equal(t, "json", jsonCfg.Encoding)
	assert.Equal(t, "timestamp", jsonCfg.EncoderConfig.TimeKey)
	assert.Equal(t, zap.DebugLevel, jsonCfg.Level.Level())
	assert.Equal(t, []string{"stderr"}, jsonCfg.OutputPaths)

	consoleCfg := loggerConfig("", "Console")
	assert.Equal(t, "console", consoleCfg.Encoding)
	assert.False(t, consoleCfg.Development)
	assert.Equal(t, zap.InfoLevel, consoleCfg.Level.Level())
}

func TestNewLogger(t *testing.T) {
	t.Setenv("LOG_FORMAT", "console")
	logger, err := NewLogger()
	require.NoError(t, err)
	logger.Info("logger smoke test")
	_ = FlushTelemetry(t.Context(), logger)
}

func TestFlushTelemetry_NilLogger(t *testing.T) {
	assert.NoError(t, FlushTelemetry(t.Context(), nil))
}

func TestIsStderrSyncError(t *testing.T) {
	assert.True(t, isStderrSyncError(errors.New("sync /dev/stderr: invalid argument")))
	assert.True(t, isStderrSyncError(errors.New("sync /dev/stderr: inappropriate ioctl for device")))
	assert.False(t, isStderrSyncError(errors.New("disk full")))
}
