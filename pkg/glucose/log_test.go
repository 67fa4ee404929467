package glucose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		logger, err := NewLogger(level, "bridge")
		require.Nil(t, err, level)

		enabled := logger.Desugar().Core().Enabled(zapcore.DebugLevel)
		assert.Equal(t, level == "debug", enabled, level)
		assert.True(t, logger.Desugar().Core().Enabled(zapcore.ErrorLevel), level)
	}

	_, err := NewLogger("verbose")
	assert.Error(t, err)
}

func TestNullLogger(t *testing.T) {
	var logger Logger = NullLogger{}
	logger.Infof("%d readings", 3)
	logger.Error("ignored")
}
