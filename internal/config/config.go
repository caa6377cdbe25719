// Package config loads runtime configuration from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all configuration for the service.
// Every field maps to one environment variable; see the envconfig tags.
type Config struct {
	DatabaseURL string `envconfig:"DATABASE_URL"`
	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`
	RedisAddr   string `envconfig:"REDIS_ADDR"`
	HTTPAddr    string `envconfig:"HTTP_ADDR"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DBOpTimeout       time.Duration `envconfig:"DB_OP_TIMEOUT" default:"5s"`
	DBMaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	DBMaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	DBConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`
	DBConnMaxIdleTime time.Duration `envconfig:"DB_CONN_MAX_IDLE_TIME" default:"5m"`

	HTTPShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`

	EventBusBufferSize   int           `envconfig:"EVENTBUS_BUFFER_SIZE" default:"1024"`
	EventBusWorkers      int           `envconfig:"EVENTBUS_WORKERS" default:"4"`
	EventBusEmitTimeout  time.Duration `envconfig:"EVENTBUS_EMIT_TIMEOUT" default:"5s"`
	EventBusDrainTimeout time.Duration `envconfig:"EVENTBUS_DRAIN_TIMEOUT" default:"30s"`

	SchedulerTickInterval time.Duration `envconfig:"SCHEDULER_TICK_INTERVAL" default:"1s"`

	ReconcileEnabled   bool   `envconfig:"RECONCILE_ENABLED" default:"true"`
	ReconcileSchedule  string `envconfig:"RECONCILE_SCHEDULE" default:"@every 5m"`
	ReconcileBatchSize int    `envconfig:"RECONCILE_BATCH_SIZE" default:"100"`

	FanoutMaxAttempts  int           `envconfig:"FANOUT_MAX_ATTEMPTS" default:"3"`
	FanoutRetryBackoff time.Duration `envconfig:"FANOUT_RETRY_BACKOFF" default:"200ms"`

	DeliveryParallelism int `envconfig:"DELIVERY_PARALLELISM" default:"4"`

	WebPushEnabled bool          `envconfig:"WEBPUSH_ENABLED" default:"true"`
	WebPushTimeout time.Duration `envconfig:"WEBPUSH_TIMEOUT" default:"10s"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold int           `envconfig:"CIRCUIT_BREAKER_THRESHOLD" default:"5"`
	CircuitBreakerCooldown  time.Duration `envconfig:"CIRCUIT_BREAKER_COOLDOWN" default:"2m"`

	// RealtimeBacklog is the per-user backlog length; 0 disables it.
	RealtimeBacklog int `envconfig:"REALTIME_BACKLOG" default:"50"`

	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"false"`
	MetricsPath    string `envconfig:"METRICS_PATH" default:"/metrics"`
	MetricsPort    int    `envconfig:"METRICS_PORT" default:"9100"`
}

// Load reads configuration from environment variables with defaults.
// Malformed values (a non-numeric size, an unparseable duration) fail here;
// semantic checks are left to Validate.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}

	// Support the platform PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)

	return cfg, nil
}

// MaskedJSON returns the configuration as JSON, keyed by environment
// variable, with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := map[string]any{
		"DATABASE_URL":              maskSecret(c.DatabaseURL),
		"STORE_DRIVER":              c.StoreDriver,
		"REDIS_ADDR":                c.RedisAddr,
		"HTTP_ADDR":                 c.HTTPAddr,
		"LOG_LEVEL":                 c.LogLevel,
		"DB_OP_TIMEOUT":             c.DBOpTimeout.String(),
		"DB_MAX_OPEN_CONNS":         c.DBMaxOpenConns,
		"DB_MAX_IDLE_CONNS":         c.DBMaxIdleConns,
		"DB_CONN_MAX_LIFETIME":      c.DBConnMaxLifetime.String(),
		"DB_CONN_MAX_IDLE_TIME":     c.DBConnMaxIdleTime.String(),
		"HTTP_SHUTDOWN_TIMEOUT":     c.HTTPShutdownTimeout.String(),
		"EVENTBUS_BUFFER_SIZE":      c.EventBusBufferSize,
		"EVENTBUS_WORKERS":          c.EventBusWorkers,
		"EVENTBUS_EMIT_TIMEOUT":     c.EventBusEmitTimeout.String(),
		"EVENTBUS_DRAIN_TIMEOUT":    c.EventBusDrainTimeout.String(),
		"SCHEDULER_TICK_INTERVAL":   c.SchedulerTickInterval.String(),
		"RECONCILE_ENABLED":         c.ReconcileEnabled,
		"RECONCILE_SCHEDULE":        c.ReconcileSchedule,
		"RECONCILE_BATCH_SIZE":      c.ReconcileBatchSize,
		"FANOUT_MAX_ATTEMPTS":       c.FanoutMaxAttempts,
		"FANOUT_RETRY_BACKOFF":      c.FanoutRetryBackoff.String(),
		"DELIVERY_PARALLELISM":      c.DeliveryParallelism,
		"WEBPUSH_ENABLED":           c.WebPushEnabled,
		"WEBPUSH_TIMEOUT":           c.WebPushTimeout.String(),
		"CIRCUIT_BREAKER_THRESHOLD": c.CircuitBreakerThreshold,
		"CIRCUIT_BREAKER_COOLDOWN":  c.CircuitBreakerCooldown.String(),
		"REALTIME_BACKLOG":          c.RealtimeBacklog,
		"METRICS_ENABLED":           c.MetricsEnabled,
		"METRICS_PATH":              c.MetricsPath,
		"METRICS_PORT":              c.MetricsPort,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
