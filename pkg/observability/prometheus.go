// Package observability supplies the concrete sharding.Recorder
// implementation so the core engine stays free of a direct dependency
// on the metrics library (spec.md §9).
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shardkit/shardkit/pkg/sharding"
)

// PrometheusRecorder implements sharding.Recorder on top of a private
// registry, grounded on the teacher's PrometheusCollector shape
// (registry + label vectors + Handler()).
type PrometheusRecorder struct {
	logger *zap.Logger

	registry *prometheus.Registry

	breakerPhase  *prometheus.GaugeVec
	retryTotal    *prometheus.CounterVec
	attemptTotal  *prometheus.CounterVec
	dispatchTotal *prometheus.CounterVec
}

// NewPrometheusRecorder builds a PrometheusRecorder on a fresh private
// registry, ready to serve at /metrics via Handler().
func NewPrometheusRecorder(logger *zap.Logger) *PrometheusRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		logger:   logger,
		registry: registry,
		breakerPhase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shardkit_breaker_phase",
			Help: "Circuit breaker phase per endpoint (0=Closed, 1=Open, 2=HalfOpen)",
		}, []string{"endpoint"}),
		retryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardkit_retries_total",
			Help: "Total retry attempts per endpoint",
		}, []string{"endpoint"}),
		attemptTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardkit_attempts_total",
			Help: "Total execution attempts per endpoint, by outcome",
		}, []string{"endpoint", "outcome"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shardkit_dispatch_total",
			Help: "Total shard-set dispatches, by shard set, mode, shard, and result",
		}, []string{"shard_set", "mode", "shard", "result"}),
	}
	registry.MustRegister(r.breakerPhase, r.retryTotal, r.attemptTotal, r.dispatchTotal)
	return r
}

// ObserveBreakerPhase implements sharding.Recorder.
func (r *PrometheusRecorder) ObserveBreakerPhase(endpoint string, phase sharding.BreakerPhase) {
	r.breakerPhase.WithLabelValues(endpoint).Set(float64(phase))
}

// IncRetry implements sharding.Recorder.
func (r *PrometheusRecorder) IncRetry(endpoint string) {
	r.retryTotal.WithLabelValues(endpoint).Inc()
}

// IncAttempt implements sharding.Recorder.
func (r *PrometheusRecorder) IncAttempt(endpoint, outcome string) {
	r.attemptTotal.WithLabelValues(endpoint, outcome).Inc()
}

// ObserveDispatch implements sharding.Recorder.
func (r *PrometheusRecorder) ObserveDispatch(shardSet, mode, shard string, err error) {
	result := "success"
	if err != nil {
		result = sharding.KindOf(err).String()
	}
	r.dispatchTotal.WithLabelValues(shardSet, mode, shard, result).Inc()
}

// Handler returns the HTTP handler serving this recorder's registry in
// Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

var _ sharding.Recorder = (*PrometheusRecorder)(nil)
