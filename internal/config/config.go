package config

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/djlord-it/cronhook/internal/errors"
)

// Config holds all configuration for cronhook. Values come from environment
// variables, optionally layered over a config file; see SetDefaults for the
// defaults.
type Config struct {
	HTTPAddr   string `json:"http_addr"`
	StorePath  string `json:"store_path"`
	StoreWatch bool   `json:"store_watch"`
	StaticDir  string `json:"static_dir,omitempty"`
	Timezone   string `json:"timezone"`

	// StoreLockWait makes serve wait while another process owns the job
	// file instead of exiting.
	StoreLockWait bool `json:"store_lock_wait"`

	DispatchTimeout    time.Duration `json:"-"`
	DispatchTimeoutStr string        `json:"dispatch_timeout"`
	DispatcherWorkers  int           `json:"dispatcher_workers"`
	WebhookSecret      string        `json:"webhook_secret,omitempty"`
	HistorySize        int           `json:"history_size"`

	EventBusBufferSize     int           `json:"eventbus_buffer_size"`
	EventBusEmitTimeout    time.Duration `json:"-"`
	EventBusEmitTimeoutStr string        `json:"eventbus_emit_timeout"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	FlushInterval          time.Duration `json:"-"`
	FlushIntervalStr       string        `json:"flush_interval"`
	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    int    `json:"metrics_port"`

	RedisAddr             string        `json:"redis_addr,omitempty"`
	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`

	LogLevel string `json:"log_level"`
	LogJSON  bool   `json:"log_json"`

	// parseErrors records integer values that could not be read; Validate
	// reports them.
	parseErrors ValidationErrors
}

// NewViper returns a viper instance bound to the environment with defaults
// applied. A non-empty configFile is read on top; its keys are the lower-case
// variable names (store_path, dispatch_timeout, ...).
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", configFile)
		}
	}
	return v, nil
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	v, _ := NewViper("")
	return LoadWithViper(v)
}

// LoadWithViper builds a Config from v. Durations and integers that fail to
// parse are left zero and reported by Validate.
func LoadWithViper(v *viper.Viper) Config {
	cfg := Config{
		HTTPAddr:      v.GetString(keyHTTPAddr),
		StorePath:     v.GetString(keyStorePath),
		StoreWatch:    v.GetBool(keyStoreWatch),
		StoreLockWait: v.GetBool(keyStoreLockWait),
		StaticDir:     v.GetString(keyStaticDir),
		Timezone:      v.GetString(keyTimezone),

		DispatchTimeoutStr:        v.GetString(keyDispatchTimeout),
		WebhookSecret:             v.GetString(keyWebhookSecret),
		EventBusEmitTimeoutStr:    v.GetString(keyEventBusEmitTimeout),
		CircuitBreakerCooldownStr: v.GetString(keyCircuitBreakerCooldown),
		FlushIntervalStr:          v.GetString(keyFlushInterval),
		HTTPShutdownTimeoutStr:    v.GetString(keyHTTPShutdownTimeout),

		MetricsEnabled: v.GetBool(keyMetricsEnabled),
		MetricsPath:    v.GetString(keyMetricsPath),

		RedisAddr:             v.GetString(keyRedisAddr),
		AnalyticsRetentionStr: v.GetString(keyAnalyticsRetention),

		LogLevel: v.GetString(keyLogLevel),
		LogJSON:  v.GetBool(keyLogJSON),
	}

	cfg.DispatcherWorkers = cfg.intValue(v, keyDispatcherWorkers)
	cfg.EventBusBufferSize = cfg.intValue(v, keyEventBusBufferSize)
	cfg.HistorySize = cfg.intValue(v, keyHistorySize)
	cfg.CircuitBreakerThreshold = cfg.intValue(v, keyCircuitBreakerThreshold)
	cfg.MetricsPort = cfg.intValue(v, keyMetricsPort)

	// Support the platform PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := v.GetString(keyPort); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}

	// Parse durations; validation is handled separately by Validate().
	cfg.DispatchTimeout = parseDuration(cfg.DispatchTimeoutStr)
	cfg.EventBusEmitTimeout = parseDuration(cfg.EventBusEmitTimeoutStr)
	cfg.CircuitBreakerCooldown = parseDuration(cfg.CircuitBreakerCooldownStr)
	cfg.FlushInterval = parseDuration(cfg.FlushIntervalStr)
	cfg.HTTPShutdownTimeout = parseDuration(cfg.HTTPShutdownTimeoutStr)
	cfg.AnalyticsRetention = parseDuration(cfg.AnalyticsRetentionStr)

	return cfg
}

func (c *Config) intValue(v *viper.Viper, key string) int {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.parseErrors = append(c.parseErrors, ValidationError{
			Field:   strings.ToUpper(key),
			Message: "must be an integer, got " + strconv.Quote(raw),
		})
		return 0
	}
	return n
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.WebhookSecret = maskSecret(c.WebhookSecret)
	masked.RedisAddr = MaskRedisAddr(c.RedisAddr)
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value entirely.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// MaskRedisAddr hides a password embedded in a redis:// url, keeping the
// host visible.
func MaskRedisAddr(s string) string {
	for _, scheme := range []string{"redis://", "rediss://"} {
		if !strings.HasPrefix(s, scheme) {
			continue
		}
		rest := s[len(scheme):]
		if at := strings.LastIndex(rest, "@"); at >= 0 {
			return scheme + "***@" + rest[at+1:]
		}
	}
	return s
}
