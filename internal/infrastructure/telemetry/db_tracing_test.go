package telemetry_test

import (
	"testing"

	"github.com/erp/treasury/internal/infrastructure/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestRegisterDBTracing(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	t.Run("disabled is a no-op", func(t *testing.T) {
		assert.NoError(t, telemetry.RegisterDBTracing(db, telemetry.DefaultDBTracingConfig(), zap.NewNop()))
	})

	t.Run("enabled registers callbacks", func(t *testing.T) {
		cfg := telemetry.DefaultDBTracingConfig()
		cfg.Enabled = true
		require.NoError(t, telemetry.RegisterDBTracing(db, cfg, zap.NewNop()))

		var n int
		require.NoError(t, db.Raw("SELECT 1").Scan(&n).Error)
		assert.Equal(t, 1, n)
	})
}
