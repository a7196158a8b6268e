package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/djlord-it/cronhook/internal/logging"
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
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	errs := append(ValidationErrors(nil), cfg.parseErrors...)

	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if strings.TrimSpace(cfg.StorePath) == "" {
		add("STORE_PATH", "required")
	}
	if cfg.StaticDir != "" {
		if info, err := os.Stat(cfg.StaticDir); err != nil || !info.IsDir() {
			add("STATIC_DIR", fmt.Sprintf("not a directory: %q", cfg.StaticDir))
		}
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil || cfg.Timezone == "" {
		add("TIMEZONE", fmt.Sprintf("unknown timezone %q", cfg.Timezone))
	}

	checkDuration := func(field, raw string) {
		d, err := time.ParseDuration(raw)
		if err != nil {
			add(field, fmt.Sprintf("invalid duration: %v", err))
		} else if d <= 0 {
			add(field, "must be positive")
		}
	}
	checkDuration("DISPATCH_TIMEOUT", cfg.DispatchTimeoutStr)
	checkDuration("EVENTBUS_EMIT_TIMEOUT", cfg.EventBusEmitTimeoutStr)
	checkDuration("FLUSH_INTERVAL", cfg.FlushIntervalStr)
	checkDuration("HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr)
	if cfg.CircuitBreakerThreshold > 0 {
		checkDuration("CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr)
	}
	if cfg.RedisAddr != "" {
		checkDuration("ANALYTICS_RETENTION", cfg.AnalyticsRetentionStr)
	}

	if cfg.DispatcherWorkers < 1 && !cfg.hasParseError("DISPATCHER_WORKERS") {
		add("DISPATCHER_WORKERS", "must be at least 1")
	}
	if cfg.EventBusBufferSize < 1 && !cfg.hasParseError("EVENTBUS_BUFFER_SIZE") {
		add("EVENTBUS_BUFFER_SIZE", "must be at least 1")
	}
	if cfg.HistorySize < 1 && !cfg.hasParseError("HISTORY_SIZE") {
		add("HISTORY_SIZE", "must be at least 1")
	}
	if cfg.CircuitBreakerThreshold < 0 {
		add("CIRCUIT_BREAKER_THRESHOLD", "must not be negative")
	}

	if cfg.MetricsEnabled {
		if !strings.HasPrefix(cfg.MetricsPath, "/") {
			add("METRICS_PATH", fmt.Sprintf("must start with '/', got %q", cfg.MetricsPath))
		}
		if (cfg.MetricsPort < 1 || cfg.MetricsPort > 65535) && !cfg.hasParseError("METRICS_PORT") {
			add("METRICS_PORT", fmt.Sprintf("must be between 1 and 65535, got %d", cfg.MetricsPort))
		}
	}

	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		add("LOG_LEVEL", err.Error())
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c Config) hasParseError(field string) bool {
	for _, e := range c.parseErrors {
		if e.Field == field {
			return true
		}
	}
	return false
}
