package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		l, err := NewLogger("warn", format)
		require.NoError(t, err)
		assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
	}
}

func TestNewLoggerInvalidLevel(t *testing.T) {
	_, err := NewLogger("loud", "json")
	require.Error(t, err)
}
