package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestBuildLevelsPerEnvironment(t *testing.T) {
	prod := build("production")
	require.NotNil(t, prod)
	assert.False(t, prod.Core().Enabled(zapcore.DebugLevel), "production logs at info and above")
	assert.True(t, prod.Core().Enabled(zapcore.InfoLevel))

	dev := build("development")
	require.NotNil(t, dev)
	assert.True(t, dev.Core().Enabled(zapcore.DebugLevel))
}

func TestGlobalLoggerDefaults(t *testing.T) {
	log := L()
	require.NotNil(t, log)
	assert.Same(t, log, L(), "L returns the same instance every call")
	require.NotNil(t, S())
}
