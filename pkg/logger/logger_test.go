package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestJSONPath(t *testing.T) {
	assert.Equal(t, "app.json.log", jsonPath("app.log"))
	assert.Equal(t, "logs/bybit.json.log", jsonPath("logs/bybit.log"))
	assert.Equal(t, "server.json", jsonPath("server"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("garbage"))
}

func TestNewLoggerWritesBothFiles(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "logs", "server.log")

	l, err := newLogger(Options{File: file, Level: "info"})
	require.NoError(t, err)
	l.Info("запуск", zap.String("component", "test"))
	require.NoError(t, l.Sync())

	readable, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(readable), "запуск")

	structured, err := os.ReadFile(filepath.Join(dir, "logs", "server.json.log"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(structured), `"component":"test"`))
}

func TestSetReplacesGlobal(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := GetLogger()
	Set(zap.New(core))
	t.Cleanup(func() { Set(prev) })

	Warn("предупреждение", zap.Int("n", 1))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "предупреждение", logs.All()[0].Message)
}
