package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/djlord-it/cronhook/internal/analytics"
	"github.com/djlord-it/cronhook/internal/api"
	"github.com/djlord-it/cronhook/internal/config"
	"github.com/djlord-it/cronhook/internal/dispatcher"
	"github.com/djlord-it/cronhook/internal/errors"
	"github.com/djlord-it/cronhook/internal/lifecycle"
	"github.com/djlord-it/cronhook/internal/logging"
	"github.com/djlord-it/cronhook/internal/metrics"
)

func newServeCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load the job file, arm every job and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return withCode(exitInvalidConfig, errors.Wrap(err, "configuration error"))
			}

			root, err := logging.New(logging.Config{Level: cfg.LogLevel, JSON: cfg.LogJSON})
			if err != nil {
				return withCode(exitInvalidConfig, err)
			}
			defer func() { _ = root.Sync() }()
			defer zap.ReplaceGlobals(root)()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := serve(ctx, cfg, root); err != nil {
				return withCode(exitRuntimeError, err)
			}
			return nil
		},
	}
}

func lifecycleConfig(cfg config.Config) lifecycle.Config {
	return lifecycle.Config{
		StorePath:  cfg.StorePath,
		WatchStore: cfg.StoreWatch,
		Timezone:   cfg.Timezone,
		LockWait:   cfg.StoreLockWait,
		Dispatcher: dispatcher.Config{
			Timeout: cfg.DispatchTimeout,
			Secret:  cfg.WebhookSecret,
			Workers: cfg.DispatcherWorkers,
		},
		EventBusBufferSize:      cfg.EventBusBufferSize,
		EventBusEmitTimeout:     cfg.EventBusEmitTimeout,
		HistorySize:             cfg.HistorySize,
		FlushInterval:           cfg.FlushInterval,
		CircuitBreakerThreshold: cfg.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  cfg.CircuitBreakerCooldown,
	}
}

// serve runs until ctx is cancelled or the HTTP listener fails. Shutdown
// order: stop accepting requests, disarm and snapshot the jobs, then stop
// the metrics listener.
func serve(ctx context.Context, cfg config.Config, root *zap.Logger) error {
	log := logging.Named(root, "cronhook")
	logConfigWarnings(log, cfg)

	mgr := lifecycle.New(lifecycleConfig(cfg), root)

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		mgr.WithMetrics(metrics.NewPrometheusSink(reg, logging.Named(root, "metrics")))

		mux := http.NewServeMux()
		mux.Handle(cfg.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Infow("metrics enabled", "port", cfg.MetricsPort, logging.FieldPath, cfg.MetricsPath)
	}

	if cfg.RedisAddr != "" {
		client, err := newRedisClient(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer client.Close()
		pingRedis(ctx, client, log)
		mgr.WithAnalytics(analytics.NewRedisSink(client, cfg.AnalyticsRetention).
			WithLogger(logging.Named(root, "analytics")))
		log.Infow("analytics enabled", logging.FieldAddr, config.MaskRedisAddr(cfg.RedisAddr))
	}

	report, err := mgr.Start(ctx)
	if err != nil {
		return errors.Wrap(err, "start")
	}
	if report.Corrupt {
		log.Warnw("started from a damaged job file; unreadable records were dropped",
			logging.FieldPath, cfg.StorePath, "armed", report.Armed)
	}

	handler := api.NewHandler(mgr.Registry()).
		WithLogger(logging.Named(root, "api")).
		WithHistory(mgr.History())
	if cfg.StaticDir != "" {
		handler.WithStaticDir(cfg.StaticDir)
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	listen(httpServer, "http", log, errCh)
	if metricsServer != nil {
		listen(metricsServer, "metrics", log, errCh)
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Infow("signal received, shutting down")
	case runErr = <-errCh:
		log.Errorw("listener failed, shutting down", logging.FieldError, runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTPShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http server shutdown", logging.FieldError, err)
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		log.Errorw("scheduler shutdown", logging.FieldError, err)
		if runErr == nil {
			runErr = err
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warnw("metrics server shutdown", logging.FieldError, err)
		}
	}

	log.Infow("stopped")
	return runErr
}

func listen(srv *http.Server, name string, log *zap.SugaredLogger, errCh chan<- error) {
	go func() {
		log.Infow(name+" server listening", logging.FieldAddr, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.Wrapf(err, "%s server", name)
		}
	}()
}

// newRedisClient accepts either host:port or a redis:// url.
func newRedisClient(addr string) (*redis.Client, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, errors.Wrap(err, "parse REDIS_ADDR")
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

// pingRedis only logs: analytics is best effort and must not block startup.
func pingRedis(ctx context.Context, client *redis.Client, log *zap.SugaredLogger) {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warnw("redis unreachable; analytics writes will fail until it is back", logging.FieldError, err)
	}
}
