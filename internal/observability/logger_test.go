package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInit(t *testing.T) {
	defer Set(nil)

	tests := []struct {
		level   string
		profile string
		enabled zapcore.Level
	}{
		{"info", "structured", zapcore.InfoLevel},
		{"DEBUG", "console", zapcore.DebugLevel},
		{"warn", "", zapcore.WarnLevel},
		{"error", "Structured", zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.profile, func(t *testing.T) {
			logger, err := Init(tt.level, tt.profile)
			require.NoError(t, err)
			require.NotNil(t, logger)

			assert.Same(t, logger, CLILogger)
			assert.True(t, logger.Core().Enabled(tt.enabled))
			if tt.enabled > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.enabled-1))
			}
		})
	}
}

func TestInit_Invalid(t *testing.T) {
	defer Set(nil)
	before := CLILogger

	_, err := Init("loud", ProfileStructured)
	assert.Error(t, err)

	_, err = Init("info", "fancy")
	assert.Error(t, err)

	assert.Same(t, before, CLILogger, "failed init must not replace the logger")
}

func TestInitCLILogger(t *testing.T) {
	defer Set(nil)

	InitCLILogger("test", false)
	assert.False(t, CLILogger.Core().Enabled(zapcore.DebugLevel))

	InitCLILogger("test", true)
	assert.True(t, CLILogger.Core().Enabled(zapcore.DebugLevel))
}

func TestSet(t *testing.T) {
	defer Set(nil)

	core, logs := observer.New(zapcore.InfoLevel)
	Set(zap.New(core))
	CLILogger.Info("patched", zap.String("stack", "web"))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "patched", entry.Message)
	assert.Equal(t, "web", entry.ContextMap()["stack"])

	Set(nil)
	assert.NotPanics(t, func() {
		CLILogger.Info("dropped")
		Sync()
	})
}
