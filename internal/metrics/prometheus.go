package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/djlord-it/cronhook/internal/logging"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	log *zap.SugaredLogger

	// Scheduler metrics
	enginesArmed        prometheus.Gauge
	firingsEmittedTotal prometheus.Counter
	firingsDroppedTotal prometheus.Counter
	firingLag           prometheus.Histogram

	// Dispatcher metrics
	dispatchAttemptsTotal *prometheus.CounterVec
	dispatchOutcomesTotal *prometheus.CounterVec
	dispatchDuration      prometheus.Histogram
	firingsInFlight       prometheus.Gauge

	// EventBus metrics
	bufferSize       prometheus.Gauge
	bufferCapacity   prometheus.Gauge
	bufferSaturation prometheus.Gauge
	emitErrorsTotal  prometheus.Counter

	// Registry and store metrics
	jobsRegistered        prometheus.Gauge
	storeSavesTotal       *prometheus.CounterVec
	storeSaveDuration     prometheus.Histogram
	storeExternalEditsTot prometheus.Counter
}

// NewPrometheusSink registers every collector on reg. A collector that fails
// to register is logged and still usable; it is simply not exported.
func NewPrometheusSink(reg prometheus.Registerer, log *zap.SugaredLogger) *PrometheusSink {
	if log == nil {
		log = logging.Nop()
	}
	s := &PrometheusSink{log: log}
	s.initSchedulerMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initStoreMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.enginesArmed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cronhook_scheduler_engines_armed",
		Help: "Number of trigger engines currently armed.",
	})
	s.firingsEmittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cronhook_scheduler_firings_emitted_total",
		Help: "Total number of firings handed to the dispatcher.",
	})
	s.firingsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cronhook_scheduler_firings_dropped_total",
		Help: "Total number of firings dropped because the event bus was full.",
	})
	s.firingLag = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cronhook_scheduler_firing_lag_seconds",
		Help:    "Delay between a scheduled instant and the engine waking for it.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	s.register(reg, s.enginesArmed, "cronhook_scheduler_engines_armed")
	s.register(reg, s.firingsEmittedTotal, "cronhook_scheduler_firings_emitted_total")
	s.register(reg, s.firingsDroppedTotal, "cronhook_scheduler_firings_dropped_total")
	s.register(reg, s.firingLag, "cronhook_scheduler_firing_lag_seconds")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.dispatchAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cronhook_dispatcher_attempts_total",
		Help: "Total number of outbound calls by status class.",
	}, []string{"status_class"})

	s.dispatchOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cronhook_dispatcher_outcomes_total",
		Help: "Total number of dispatch outcomes per firing.",
	}, []string{"outcome"})

	s.dispatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cronhook_dispatcher_call_duration_seconds",
		Help:    "Outbound call latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	s.firingsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cronhook_dispatcher_firings_in_flight",
		Help: "Number of firings currently being dispatched.",
	})

	s.register(reg, s.dispatchAttemptsTotal, "cronhook_dispatcher_attempts_total")
	s.register(reg, s.dispatchOutcomesTotal, "cronhook_dispatcher_outcomes_total")
	s.register(reg, s.dispatchDuration, "cronhook_dispatcher_call_duration_seconds")
	s.register(reg, s.firingsInFlight, "cronhook_dispatcher_firings_in_flight")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cronhook_eventbus_buffer_size",
		Help: "Current number of firings in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cronhook_eventbus_buffer_capacity",
		Help: "Capacity of the event bus buffer.",
	})
	s.bufferSaturation = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cronhook_eventbus_buffer_saturation",
		Help: "Fraction of the event bus buffer in use.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cronhook_eventbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	})

	s.register(reg, s.bufferSize, "cronhook_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "cronhook_eventbus_buffer_capacity")
	s.register(reg, s.bufferSaturation, "cronhook_eventbus_buffer_saturation")
	s.register(reg, s.emitErrorsTotal, "cronhook_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initStoreMetrics(reg prometheus.Registerer) {
	s.jobsRegistered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cronhook_registry_jobs",
		Help: "Number of jobs in the registry.",
	})
	s.storeSavesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cronhook_store_saves_total",
		Help: "Total number of job file saves by result.",
	}, []string{"result"})
	s.storeSaveDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cronhook_store_save_duration_seconds",
		Help:    "Time to write a job file snapshot.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})
	s.storeExternalEditsTot = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cronhook_store_external_edits_total",
		Help: "Total number of job file edits made outside the service.",
	})

	s.register(reg, s.jobsRegistered, "cronhook_registry_jobs")
	s.register(reg, s.storeSavesTotal, "cronhook_store_saves_total")
	s.register(reg, s.storeSaveDuration, "cronhook_store_save_duration_seconds")
	s.register(reg, s.storeExternalEditsTot, "cronhook_store_external_edits_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.log.Warnw("failed to register metric", "metric", name, logging.FieldError, err)
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) EngineArmed() {
	s.enginesArmed.Inc()
}

func (s *PrometheusSink) EngineDisarmed() {
	s.enginesArmed.Dec()
}

func (s *PrometheusSink) FiringEmitted(lag time.Duration) {
	s.firingsEmittedTotal.Inc()
	if lag < 0 {
		lag = 0
	}
	s.firingLag.Observe(lag.Seconds())
}

func (s *PrometheusSink) FiringDropped() {
	s.firingsDroppedTotal.Inc()
}

// Dispatcher metrics implementation

func (s *PrometheusSink) DispatchAttemptCompleted(statusClass string, duration time.Duration) {
	s.dispatchAttemptsTotal.WithLabelValues(statusClass).Inc()
	s.dispatchDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DispatchOutcome(outcome string) {
	s.dispatchOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) FiringsInFlightIncr() {
	s.firingsInFlight.Inc()
}

func (s *PrometheusSink) FiringsInFlightDecr() {
	s.firingsInFlight.Dec()
}

// EventBus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) BufferSaturationUpdate(saturation float64) {
	s.bufferSaturation.Set(saturation)
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Registry and store metrics implementation

func (s *PrometheusSink) JobsRegistered(count int) {
	s.jobsRegistered.Set(float64(count))
}

func (s *PrometheusSink) StoreSaveCompleted(duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.storeSavesTotal.WithLabelValues(result).Inc()
	s.storeSaveDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) StoreExternalEdit() {
	s.storeExternalEditsTot.Inc()
}
