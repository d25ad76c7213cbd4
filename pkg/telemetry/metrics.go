package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Trap recovery outcomes reported by RecordTrapRecovery.
const (
	TrapRecovered = "recovered"
	TrapDegraded  = "degraded"
	TrapForeign   = "foreign"
)

// Metrics provides Prometheus metrics for the machine.
type Metrics struct {
	config MetricsConfig

	// Invocation metrics
	invocations        *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	activeInvocations  prometheus.Gauge

	// Fault metrics
	executionErrors *prometheus.CounterVec
	trapRecoveries  *prometheus.CounterVec

	// Host call metrics
	syscalls      *prometheus.CounterVec
	syscallErrors *prometheus.CounterVec

	// Block metrics
	blocksOpened prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of invocations by exit code",
			},
			[]string{"exit_code"},
		),
		invocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_seconds",
				Help:      "Duration of invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),
		activeInvocations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_invocations",
				Help:      "Current number of running invocations",
			},
		),

		executionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "execution_errors_total",
				Help:      "Total number of execution errors by kind",
			},
			[]string{"kind"},
		),
		trapRecoveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "trap_recoveries_total",
				Help:      "Engine failures by recovery outcome",
			},
			[]string{"outcome"},
		),

		syscalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "syscalls_total",
				Help:      "Total number of host calls",
			},
			[]string{"module", "function"},
		),
		syscallErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "syscall_errors_total",
				Help:      "Total number of failed host calls",
			},
			[]string{"module", "function"},
		),

		blocksOpened: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_blocks",
				Help:      "Number of blocks held by an invocation when it finished",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 6),
			},
		),
	}

	registry.MustRegister(
		m.invocations,
		m.invocationDuration,
		m.activeInvocations,
		m.executionErrors,
		m.trapRecoveries,
		m.syscalls,
		m.syscallErrors,
		m.blocksOpened,
	)

	return m, nil
}

// Invocation Metrics

// RecordInvocationStarted marks an invocation as running.
func (m *Metrics) RecordInvocationStarted() {
	if m.activeInvocations == nil {
		return
	}
	m.activeInvocations.Inc()
}

// RecordInvocationCompleted records a finished invocation.
func (m *Metrics) RecordInvocationCompleted(exitCode, outcome string, duration time.Duration, blocks int) {
	if m.invocations == nil {
		return
	}
	m.invocations.WithLabelValues(exitCode).Inc()
	m.invocationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.blocksOpened.Observe(float64(blocks))
	m.activeInvocations.Dec()
}

// Fault Metrics

// RecordExecutionError records an execution error by kind.
func (m *Metrics) RecordExecutionError(kind string) {
	if m.executionErrors == nil {
		return
	}
	m.executionErrors.WithLabelValues(kind).Inc()
}

// RecordTrapRecovery records how an engine failure was turned back into an
// execution error.
func (m *Metrics) RecordTrapRecovery(outcome string) {
	if m.trapRecoveries == nil {
		return
	}
	m.trapRecoveries.WithLabelValues(outcome).Inc()
}

// Host Call Metrics

// RecordSyscall records a host call and whether it failed.
func (m *Metrics) RecordSyscall(module, function string, failed bool) {
	if m.syscalls == nil {
		return
	}
	m.syscalls.WithLabelValues(module, function).Inc()
	if failed {
		m.syscallErrors.WithLabelValues(module, function).Inc()
	}
}

// Registry returns the Prometheus registry, or nil if metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics. It does
// nothing when metrics are disabled or no listen address is configured.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			log.Error().Err(err).Str("addr", m.config.ListenAddress).Msg("metrics server error")
		}
	}()

	return nil
}
