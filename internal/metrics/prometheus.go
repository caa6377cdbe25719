package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Event bus
	bufferSize       prometheus.Gauge
	bufferCapacity   prometheus.Gauge
	bufferSaturation prometheus.Gauge
	emitErrorsTotal  prometheus.Counter
	handlersTotal    *prometheus.CounterVec
	handlerDuration  *prometheus.HistogramVec

	// Scheduler
	ticksTotal      prometheus.Counter
	tickDuration    prometheus.Histogram
	triggersFired   *prometheus.CounterVec
	triggerDuration *prometheus.HistogramVec
	triggersActive  prometheus.Gauge

	// Lifecycle
	transitionsTotal *prometheus.CounterVec

	// Fan-out
	notificationsCreated *prometheus.CounterVec
	fanoutRetriesTotal   prometheus.Counter

	// Delivery
	deliveriesTotal    *prometheus.CounterVec
	deliveryDuration   *prometheus.HistogramVec
	webpushAttempts    *prometheus.CounterVec
	webpushDuration    prometheus.Histogram
	circuitTransitions *prometheus.CounterVec

	// Reconciler
	reconcileRuns     *prometheus.CounterVec
	reconcileSynced   prometheus.Gauge
	reconcileDuration prometheus.Histogram
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// Metrics that fail to register are logged and keep working unregistered.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initEventBusMetrics(reg)
	s.initSchedulerMetrics(reg)
	s.initLifecycleMetrics(reg)
	s.initDeliveryMetrics(reg)
	s.initReconcilerMetrics(reg)
	return s
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vratlas_eventbus_buffer_size",
		Help: "Current number of messages in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vratlas_eventbus_buffer_capacity",
		Help: "Capacity of the event bus buffer.",
	})
	s.bufferSaturation = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vratlas_eventbus_buffer_saturation",
		Help: "Buffer size divided by capacity.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vratlas_eventbus_emit_errors_total",
		Help: "Total number of publish errors (buffer full).",
	})
	s.handlersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vratlas_eventbus_handler_invocations_total",
		Help: "Handler invocations by message, handler and outcome.",
	}, []string{"message", "handler", "outcome"})
	s.handlerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vratlas_eventbus_handler_duration_seconds",
		Help:    "Handler latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"message", "handler"})

	s.register(reg, s.bufferSize, "vratlas_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "vratlas_eventbus_buffer_capacity")
	s.register(reg, s.bufferSaturation, "vratlas_eventbus_buffer_saturation")
	s.register(reg, s.emitErrorsTotal, "vratlas_eventbus_emit_errors_total")
	s.register(reg, s.handlersTotal, "vratlas_eventbus_handler_invocations_total")
	s.register(reg, s.handlerDuration, "vratlas_eventbus_handler_duration_seconds")
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vratlas_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vratlas_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
	s.triggersFired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vratlas_scheduler_triggers_fired_total",
		Help: "Fired triggers by purpose and job outcome.",
	}, []string{"purpose", "outcome"})
	s.triggerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vratlas_scheduler_job_duration_seconds",
		Help:    "Job latency in seconds.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"purpose"})
	s.triggersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vratlas_scheduler_triggers_active",
		Help: "Number of triggers currently registered.",
	})

	s.register(reg, s.ticksTotal, "vratlas_scheduler_ticks_total")
	s.register(reg, s.tickDuration, "vratlas_scheduler_tick_duration_seconds")
	s.register(reg, s.triggersFired, "vratlas_scheduler_triggers_fired_total")
	s.register(reg, s.triggerDuration, "vratlas_scheduler_job_duration_seconds")
	s.register(reg, s.triggersActive, "vratlas_scheduler_triggers_active")
}

func (s *PrometheusSink) initLifecycleMetrics(reg prometheus.Registerer) {
	s.transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vratlas_lifecycle_transitions_total",
		Help: "Lifecycle operations by operation and outcome.",
	}, []string{"op", "outcome"})
	s.notificationsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vratlas_fanout_notifications_created_total",
		Help: "Notifications persisted by kind.",
	}, []string{"kind"})
	s.fanoutRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "vratlas_fanout_retries_total",
		Help: "Fan-out batch insert retries.",
	})

	s.register(reg, s.transitionsTotal, "vratlas_lifecycle_transitions_total")
	s.register(reg, s.notificationsCreated, "vratlas_fanout_notifications_created_total")
	s.register(reg, s.fanoutRetriesTotal, "vratlas_fanout_retries_total")
}

func (s *PrometheusSink) initDeliveryMetrics(reg prometheus.Registerer) {
	s.deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vratlas_delivery_total",
		Help: "Channel deliveries by channel and outcome.",
	}, []string{"channel", "outcome"})
	s.deliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vratlas_delivery_duration_seconds",
		Help:    "Channel delivery latency in seconds, retries included.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"channel"})
	s.webpushAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vratlas_webpush_attempts_total",
		Help: "Web push HTTP attempts by status class.",
	}, []string{"status_class"})
	s.webpushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vratlas_webpush_request_duration_seconds",
		Help:    "Web push request latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.circuitTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vratlas_webpush_circuit_transitions_total",
		Help: "Circuit breaker state changes by target state.",
	}, []string{"state"})

	s.register(reg, s.deliveriesTotal, "vratlas_delivery_total")
	s.register(reg, s.deliveryDuration, "vratlas_delivery_duration_seconds")
	s.register(reg, s.webpushAttempts, "vratlas_webpush_attempts_total")
	s.register(reg, s.webpushDuration, "vratlas_webpush_request_duration_seconds")
	s.register(reg, s.circuitTransitions, "vratlas_webpush_circuit_transitions_total")
}

func (s *PrometheusSink) initReconcilerMetrics(reg prometheus.Registerer) {
	s.reconcileRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vratlas_reconciler_runs_total",
		Help: "Reconciler cycles by outcome.",
	}, []string{"outcome"})
	s.reconcileSynced = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vratlas_reconciler_synced_events",
		Help: "Events synced by the last successful cycle.",
	})
	s.reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vratlas_reconciler_duration_seconds",
		Help:    "Duration of each reconciler cycle in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})

	s.register(reg, s.reconcileRuns, "vratlas_reconciler_runs_total")
	s.register(reg, s.reconcileSynced, "vratlas_reconciler_synced_events")
	s.register(reg, s.reconcileDuration, "vratlas_reconciler_duration_seconds")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("metrics: failed to register")
	}
}

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

func (s *PrometheusSink) HandlerCompleted(message, handler, outcome string, duration time.Duration) {
	s.handlersTotal.WithLabelValues(message, handler, outcome).Inc()
	s.handlerDuration.WithLabelValues(message, handler).Observe(duration.Seconds())
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, fired int) {
	s.ticksTotal.Inc()
	s.tickDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) TriggerFired(purpose string, outcome string, duration time.Duration) {
	s.triggersFired.WithLabelValues(purpose, outcome).Inc()
	s.triggerDuration.WithLabelValues(purpose).Observe(duration.Seconds())
}

func (s *PrometheusSink) TriggersActive(count int) {
	s.triggersActive.Set(float64(count))
}

func (s *PrometheusSink) TransitionCompleted(op string, outcome string) {
	s.transitionsTotal.WithLabelValues(op, outcome).Inc()
}

func (s *PrometheusSink) NotificationsCreated(kind string, count int) {
	s.notificationsCreated.WithLabelValues(kind).Add(float64(count))
}

func (s *PrometheusSink) FanoutRetry() {
	s.fanoutRetriesTotal.Inc()
}

func (s *PrometheusSink) DeliveryCompleted(channel, outcome string, duration time.Duration) {
	s.deliveriesTotal.WithLabelValues(channel, outcome).Inc()
	s.deliveryDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

func (s *PrometheusSink) WebPushAttempt(statusClass string, duration time.Duration) {
	s.webpushAttempts.WithLabelValues(statusClass).Inc()
	s.webpushDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) CircuitStateChanged(state string) {
	s.circuitTransitions.WithLabelValues(state).Inc()
}

func (s *PrometheusSink) ReconcileCompleted(synced int, duration time.Duration) {
	s.reconcileRuns.WithLabelValues("success").Inc()
	s.reconcileSynced.Set(float64(synced))
	s.reconcileDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) ReconcileFailed() {
	s.reconcileRuns.WithLabelValues("error").Inc()
}
