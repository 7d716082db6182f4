package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInit(t *testing.T) {
	t.Run("Invalid level", func(t *testing.T) {
		err := Init(Config{Level: "loud"})
		assert.Error(t, err)
	})

	t.Run("Writes to file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pool.log")
		require.NoError(t, Init(Config{Level: "debug", Encoding: "json", OutputPaths: []string{path}}))
		defer SetLogLevel(LogLevelInfo)

		Debug("Pool %q grew by %d", "bytes", 4)
		Warn("Pool %q exhausted", "bytes")
		require.NoError(t, Sync())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `Pool \"bytes\" grew by 4`)
		assert.Contains(t, string(data), `"level":"WARN"`)
	})
}

func TestSetLogLevel(t *testing.T) {
	defer SetLogLevel(LogLevelInfo)

	tests := []struct {
		level LogLevel
		want  zapcore.Level
	}{
		{LogLevelNone, zapcore.FatalLevel},
		{LogLevelFatal, zapcore.FatalLevel},
		{LogLevelError, zapcore.ErrorLevel},
		{LogLevelWarn, zapcore.WarnLevel},
		{LogLevelInfo, zapcore.InfoLevel},
		{LogLevelDebug, zapcore.DebugLevel},
	}
	for _, tt := range tests {
		SetLogLevel(tt.level)
		assert.Equal(t, tt.want, atomicLevel.Level())
		assert.True(t, Get().Core().Enabled(tt.want))
	}
}
