package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Auros/VRAtlas.API-sub000/internal/cron"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d validation errors:", len(e))
	for _, err := range e {
		b.WriteString("\n  - " + err.Error())
	}
	return b.String()
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch cfg.StoreDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			add("DATABASE_URL", "required when STORE_DRIVER is %q", DriverPostgres)
		}
	case DriverMemory:
	default:
		add("STORE_DRIVER", "must be %q or %q, got %q", DriverPostgres, DriverMemory, cfg.StoreDriver)
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		add("LOG_LEVEL", "unknown level %q", cfg.LogLevel)
	}

	positiveDurations := []struct {
		field string
		value time.Duration
	}{
		{"DB_OP_TIMEOUT", cfg.DBOpTimeout},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeout},
		{"EVENTBUS_EMIT_TIMEOUT", cfg.EventBusEmitTimeout},
		{"EVENTBUS_DRAIN_TIMEOUT", cfg.EventBusDrainTimeout},
		{"SCHEDULER_TICK_INTERVAL", cfg.SchedulerTickInterval},
		{"FANOUT_RETRY_BACKOFF", cfg.FanoutRetryBackoff},
		{"WEBPUSH_TIMEOUT", cfg.WebPushTimeout},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldown},
	}
	for _, d := range positiveDurations {
		if d.value <= 0 {
			add(d.field, "must be positive")
		}
	}

	positiveInts := []struct {
		field string
		value int
	}{
		{"DB_MAX_OPEN_CONNS", cfg.DBMaxOpenConns},
		{"EVENTBUS_BUFFER_SIZE", cfg.EventBusBufferSize},
		{"EVENTBUS_WORKERS", cfg.EventBusWorkers},
		{"RECONCILE_BATCH_SIZE", cfg.ReconcileBatchSize},
		{"FANOUT_MAX_ATTEMPTS", cfg.FanoutMaxAttempts},
		{"DELIVERY_PARALLELISM", cfg.DeliveryParallelism},
	}
	for _, n := range positiveInts {
		if n.value <= 0 {
			add(n.field, "must be positive")
		}
	}

	if cfg.DBMaxIdleConns < 0 {
		add("DB_MAX_IDLE_CONNS", "must not be negative")
	}
	if cfg.CircuitBreakerThreshold < 0 {
		add("CIRCUIT_BREAKER_THRESHOLD", "must not be negative")
	}
	if cfg.RealtimeBacklog < 0 {
		add("REALTIME_BACKLOG", "must not be negative")
	}

	if cfg.ReconcileEnabled {
		if err := cron.NewParser().Validate(cfg.ReconcileSchedule); err != nil {
			add("RECONCILE_SCHEDULE", "invalid schedule %q: %v", cfg.ReconcileSchedule, err)
		}
	}

	if cfg.MetricsEnabled {
		if cfg.MetricsPort <= 0 || cfg.MetricsPort > 65535 {
			add("METRICS_PORT", "must be between 1 and 65535, got %d", cfg.MetricsPort)
		}
		if !strings.HasPrefix(cfg.MetricsPath, "/") {
			add("METRICS_PATH", "must start with /")
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
