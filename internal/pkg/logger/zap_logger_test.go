package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger_ModuleAndDetails(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewFromZap(zap.New(core))

	l.Info("EXECUTOR", "turn finished", map[string]interface{}{"state": "Answering"})
	l.Warn("TOOLS", "no details", nil)

	entries := logs.All()
	require.Len(t, entries, 2)

	first := entries[0].ContextMap()
	assert.Equal(t, "turn finished", entries[0].Message)
	assert.Equal(t, "EXECUTOR", first["module"])
	assert.Equal(t, map[string]interface{}{"state": "Answering"}, first["details"])

	second := entries[1].ContextMap()
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, map[string]interface{}{}, second["details"])
}

func TestZapLogger_ErrorKeepsReference(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewFromZap(zap.New(core))

	l.Error("CLASSIFIER", "completion failed", map[string]interface{}{"error": "boom"})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "boom", entries[0].ContextMap()["error_ref"])
}

func TestNewNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.Debug("X", "ignored", nil)
	assert.NoError(t, l.Sync())
}
