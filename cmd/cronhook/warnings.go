package main

import (
	"go.uber.org/zap"

	"github.com/djlord-it/cronhook/internal/config"
)

// logConfigWarnings points out settings that are valid but easy to regret.
func logConfigWarnings(log *zap.SugaredLogger, cfg config.Config) {
	if !cfg.StoreWatch {
		log.Warnw("STORE_WATCH=false: edits to the job file made while running go unnoticed until the next save overwrites them")
	}
	if cfg.WebhookSecret == "" {
		log.Infow("WEBHOOK_SECRET not set: outbound requests are unsigned")
	}
	if !cfg.MetricsEnabled {
		log.Infow("METRICS_ENABLED=false: no Prometheus endpoint")
	}
	if cfg.CircuitBreakerThreshold == 0 {
		log.Infow("CIRCUIT_BREAKER_THRESHOLD=0: failing urls are called on every firing")
	}
	if cfg.EventBusBufferSize < cfg.DispatcherWorkers {
		log.Warnw("EVENTBUS_BUFFER_SIZE is smaller than DISPATCHER_WORKERS; bursts of firings will be dropped",
			"buffer", cfg.EventBusBufferSize, "workers", cfg.DispatcherWorkers)
	}
	if cfg.DispatchTimeout > 0 && cfg.HTTPShutdownTimeout > 0 && cfg.DispatchTimeout > cfg.HTTPShutdownTimeout {
		log.Infow("DISPATCH_TIMEOUT exceeds HTTP_SHUTDOWN_TIMEOUT; in-flight calls are aborted at shutdown",
			"dispatch_timeout", cfg.DispatchTimeout, "shutdown_timeout", cfg.HTTPShutdownTimeout)
	}
}
