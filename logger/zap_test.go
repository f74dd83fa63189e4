package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestZapLogger_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewFromZap(zap.New(core))

	l.Info("payment settled", map[string]any{"requestId": "abc", "tx": "0x01"})
	l.Debug("ignored fields", nil)

	require.Equal(t, 2, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "payment settled", entry.Message)
	assert.Equal(t, "abc", entry.ContextMap()["requestId"])
	assert.Equal(t, "0x01", entry.ContextMap()["tx"])
}

func TestRotatingZapLogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facilitator.log")
	l := NewRotatingZapLogger("info", FileOptions{Path: path})

	l.Info("started", map[string]any{"listen": ":8080"})
	l.Debug("suppressed", nil)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"started"`)
	assert.NotContains(t, string(b), "suppressed")
}

func TestWith_MergesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := With(NewFromZap(zap.New(core)), map[string]any{"requestId": "r-1", "route": "/verify"})

	l.Warn("rate limited", map[string]any{"route": "/settle"})

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "r-1", ctx["requestId"])
	assert.Equal(t, "/settle", ctx["route"])
}
