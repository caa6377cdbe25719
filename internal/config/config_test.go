package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.DBOpTimeout)
	assert.Equal(t, 25, cfg.DBMaxOpenConns)
	assert.Equal(t, 5, cfg.DBMaxIdleConns)
	assert.Equal(t, 30*time.Minute, cfg.DBConnMaxLifetime)
	assert.Equal(t, 5*time.Minute, cfg.DBConnMaxIdleTime)
	assert.Equal(t, 10*time.Second, cfg.HTTPShutdownTimeout)
	assert.Equal(t, 1024, cfg.EventBusBufferSize)
	assert.Equal(t, 4, cfg.EventBusWorkers)
	assert.Equal(t, 30*time.Second, cfg.EventBusDrainTimeout)
	assert.Equal(t, time.Second, cfg.SchedulerTickInterval)
	assert.True(t, cfg.ReconcileEnabled)
	assert.Equal(t, "@every 5m", cfg.ReconcileSchedule)
	assert.Equal(t, 3, cfg.FanoutMaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.FanoutRetryBackoff)
	assert.Equal(t, 5, cfg.CircuitBreakerThreshold)
	assert.Equal(t, 50, cfg.RealtimeBacklog)
	assert.False(t, cfg.MetricsEnabled)
	assert.Equal(t, "/metrics", cfg.MetricsPath)
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("DB_OP_TIMEOUT", "10s")
	t.Setenv("EVENTBUS_WORKERS", "16")
	t.Setenv("RECONCILE_SCHEDULE", "*/10 * * * *")
	t.Setenv("WEBPUSH_ENABLED", "false")
	t.Setenv("CIRCUIT_BREAKER_THRESHOLD", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 10*time.Second, cfg.DBOpTimeout)
	assert.Equal(t, 16, cfg.EventBusWorkers)
	assert.Equal(t, "*/10 * * * *", cfg.ReconcileSchedule)
	assert.False(t, cfg.WebPushEnabled)
	assert.Zero(t, cfg.CircuitBreakerThreshold)
}

func TestLoad_PortFallback(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":3000", cfg.HTTPAddr)
}

func TestLoad_MalformedValue(t *testing.T) {
	t.Setenv("EVENTBUS_BUFFER_SIZE", "lots")

	_, err := Load()
	assert.Error(t, err)
}

func TestMaskedJSON(t *testing.T) {
	cfg := Config{
		DatabaseURL:        "postgres://vratlas:hunter2@db:5432/vratlas",
		DBOpTimeout:        5 * time.Second,
		ReconcileSchedule:  "@every 5m",
		EventBusBufferSize: 1024,
	}

	data, err := cfg.MaskedJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "postgres://***", out["DATABASE_URL"])
	assert.Equal(t, "5s", out["DB_OP_TIMEOUT"])
	assert.Equal(t, "@every 5m", out["RECONCILE_SCHEDULE"])
	assert.Equal(t, 1024.0, out["EVENTBUS_BUFFER_SIZE"])
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", maskSecret(""))
	assert.Equal(t, "postgresql://***", maskSecret("postgresql://u:p@h/db"))
	assert.Equal(t, "***", maskSecret("host=db password=p"))
}
