package telemetry_test

import (
	"context"
	"testing"

	"github.com/erp/treasury/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

func TestLoggerProvider_Disabled(t *testing.T) {
	ctx := context.Background()
	lp, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.False(t, lp.IsEnabled())
	assert.NoError(t, lp.Shutdown(ctx))

	core := telemetry.NewZapOTELCore(lp, "treasury", zapcore.InfoLevel)
	assert.False(t, core.Enabled(zapcore.ErrorLevel))

	base := zap.NewNop()
	assert.Same(t, base, telemetry.Bridge(base, lp, zapcore.InfoLevel))
}

func TestLoggerProvider_NilIsDisabled(t *testing.T) {
	var lp *telemetry.LoggerProvider
	assert.False(t, lp.IsEnabled())
}
