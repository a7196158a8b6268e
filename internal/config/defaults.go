package config

import "github.com/spf13/viper"

// Keys double as environment variable names once upper-cased.
const (
	keyHTTPAddr                = "http_addr"
	keyPort                    = "port"
	keyStorePath               = "store_path"
	keyStoreWatch              = "store_watch"
	keyStoreLockWait           = "store_lock_wait"
	keyStaticDir               = "static_dir"
	keyTimezone                = "timezone"
	keyDispatchTimeout         = "dispatch_timeout"
	keyDispatcherWorkers       = "dispatcher_workers"
	keyEventBusBufferSize      = "eventbus_buffer_size"
	keyEventBusEmitTimeout     = "eventbus_emit_timeout"
	keyWebhookSecret           = "webhook_secret"
	keyHistorySize             = "history_size"
	keyCircuitBreakerThreshold = "circuit_breaker_threshold"
	keyCircuitBreakerCooldown  = "circuit_breaker_cooldown"
	keyFlushInterval           = "flush_interval"
	keyHTTPShutdownTimeout     = "http_shutdown_timeout"
	keyMetricsEnabled          = "metrics_enabled"
	keyMetricsPath             = "metrics_path"
	keyMetricsPort             = "metrics_port"
	keyRedisAddr               = "redis_addr"
	keyAnalyticsRetention      = "analytics_retention"
	keyLogLevel                = "log_level"
	keyLogJSON                 = "log_json"
)

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(keyStorePath, "./jobs.json")
	v.SetDefault(keyStoreWatch, true)
	v.SetDefault(keyStoreLockWait, false)
	v.SetDefault(keyTimezone, "UTC")

	v.SetDefault(keyDispatchTimeout, "10s")
	v.SetDefault(keyDispatcherWorkers, "8")
	v.SetDefault(keyEventBusBufferSize, "256")
	v.SetDefault(keyEventBusEmitTimeout, "100ms")
	v.SetDefault(keyHistorySize, "500")

	// 0 disables the circuit breaker.
	v.SetDefault(keyCircuitBreakerThreshold, "0")
	v.SetDefault(keyCircuitBreakerCooldown, "2m")

	v.SetDefault(keyFlushInterval, "30s")
	v.SetDefault(keyHTTPShutdownTimeout, "10s")

	v.SetDefault(keyMetricsEnabled, false)
	v.SetDefault(keyMetricsPath, "/metrics")
	v.SetDefault(keyMetricsPort, "9090")

	v.SetDefault(keyAnalyticsRetention, "24h")

	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyLogJSON, false)
}
