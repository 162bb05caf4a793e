package logger

import (
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Additional-Code/nightowl/internal/config"
)

func TestLevelFromConfig(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"":        zapcore.InfoLevel,
		"chatter": zapcore.InfoLevel,
	}
	for raw, want := range cases {
		t.Run(raw, func(t *testing.T) {
			res, err := New(fxtest.NewLifecycle(t), config.Config{Observability: config.Observability{LogLevel: raw, LogEncoding: "json"}})
			require.NoError(t, err)
			assert.Equal(t, want, res.Level.Level())
			assert.True(t, res.Logger.Core().Enabled(want))
		})
	}
}

func TestAtomicLevelChangesLoggerAtRuntime(t *testing.T) {
	res, err := New(fxtest.NewLifecycle(t), config.Config{Observability: config.Observability{LogLevel: "info", LogEncoding: "console"}})
	require.NoError(t, err)

	assert.False(t, res.Logger.Core().Enabled(zapcore.DebugLevel))
	res.Level.SetLevel(zapcore.DebugLevel)
	assert.True(t, res.Logger.Core().Enabled(zapcore.DebugLevel))
}

func TestGlobalsInstalledWhileRunning(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	res, err := New(lc, config.Config{Observability: config.Observability{LogLevel: "info", LogEncoding: "json"}})
	require.NoError(t, err)

	before := zap.L()
	stdWriter := log.Writer()
	lc.RequireStart()
	assert.Same(t, res.Logger, zap.L())
	assert.NotEqual(t, stdWriter, log.Writer())

	lc.RequireStop()
	assert.Same(t, before, zap.L())
}
