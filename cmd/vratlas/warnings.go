package main

import (
	"github.com/rs/zerolog"

	"github.com/Auros/VRAtlas.API-sub000/internal/config"
)

// logConfigWarnings logs operational risks of a valid but fragile configuration.
func logConfigWarnings(log zerolog.Logger, cfg config.Config) {
	if !cfg.ReconcileEnabled {
		log.Warn().Msg("RECONCILE_ENABLED=false: the trigger table is only rebuilt from messages; " +
			"pending start, end and reminder triggers are lost on restart")
	}

	if cfg.RedisAddr == "" && !cfg.WebPushEnabled {
		log.Warn().Msg("REDIS_ADDR unset and WEBPUSH_ENABLED=false: notifications are stored but never delivered")
	}

	if cfg.WebPushEnabled && cfg.CircuitBreakerThreshold == 0 {
		log.Info().Msg("CIRCUIT_BREAKER_THRESHOLD=0: failing push endpoints are retried on every notification")
	}

	if !cfg.MetricsEnabled {
		log.Info().Msg("METRICS_ENABLED=false: dropped messages and failed jobs are only visible in logs")
	}
}
