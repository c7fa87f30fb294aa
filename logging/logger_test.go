package logging

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewSilentByDefault(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")
	log, err := New(Config{})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.ErrorLevel))
}

func TestNewLevelFromEnv(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "warn")
	log, err := New(Config{})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
}

func TestNewErrors(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
	_, err = New(Config{Level: "info", Encoding: "xml"})
	assert.Error(t, err)
}

func TestNewWithFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "espwifi.log")
	log, err := New(Config{Level: "debug", Encoding: "json", File: FileConfig{Filename: name, MaxSize: 1}})
	require.NoError(t, err)
	log.Debug("hello")
	_ = log.Sync() // stderr may not support sync
	assert.FileExists(t, name)
}

func TestBytes(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	zap.New(core).Debug("rx", Bytes("data", []byte("OK\r\n")))

	require.Equal(t, 1, logs.Len())
	m := logs.All()[0].ContextMap()["data"].(map[string]any)
	assert.Equal(t, 4, m["len"])
	assert.Equal(t, "4f4b0d0a", m["hex"])
	assert.Equal(t, "OK..", m["ascii"])
}

func TestDumpLimit(t *testing.T) {
	data := make([]byte, maxDump+10)
	assert.Len(t, asciiDump(data), maxDump)
	assert.Equal(t, 2*maxDump+3, len(hexDump(data)))
}
