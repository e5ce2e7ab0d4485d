package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := FromZap(zap.New(core))

	l.Warn("simulation unavailable", map[string]any{
		"intent":  "abc",
		"network": "base",
		"err":     errors.New("dial tcp: refused"),
	})

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "simulation unavailable", entries[0].Message)

	ctx := entries[0].ContextMap()
	assert.Equal(t, "abc", ctx["intent"])
	assert.Equal(t, "base", ctx["network"])
	assert.Equal(t, "dial tcp: refused", ctx["err"])
}

func TestNewZapLoggerUnknownLevel(t *testing.T) {
	l := NewZapLogger("loud")
	_, ok := l.(*ZapLogger)
	assert.True(t, ok)
}

func TestMerge(t *testing.T) {
	base := map[string]any{"intent": "a", "stage": "built"}
	out := Merge(base, map[string]any{"stage": "simulated"})
	assert.Equal(t, "simulated", out["stage"])
	assert.Equal(t, "built", base["stage"])
}
