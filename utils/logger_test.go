package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestSetLogLevel(t *testing.T) {
	logger := InitLogger(false)
	require.NotNil(t, logger)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, SetLogLevel("debug"))
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, SetLogLevel("warn"))
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	t.Run("UnknownLevelRejected", func(t *testing.T) {
		require.Error(t, SetLogLevel("chatty"))
	})
}
