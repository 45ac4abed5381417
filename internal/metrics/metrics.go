// Package metrics exposes Prometheus collectors for predictions, HTTP traffic
// and WebSocket clients.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "visionai"

// Metrics owns a private registry. All methods are safe on a nil receiver so
// components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	predictionsTotal    *prometheus.CounterVec
	predictionErrors    *prometheus.CounterVec
	predictionDuration  *prometheus.HistogramVec
	persistenceFailures prometheus.Counter

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	wsActiveConnections prometheus.Gauge
	wsMessagesTotal     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.predictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Successful predictions by transport and emotion",
		},
		[]string{"transport", "emotion"},
	)
	m.predictionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_errors_total",
			Help:      "Failed predictions by transport and error kind",
		},
		[]string{"transport", "kind"}, // kind: validation, internal
	)
	m.predictionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_duration_seconds",
			Help:      "Time from receiving image bytes to a classified result",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"transport"},
	)
	m.persistenceFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "prediction_log_failures_total",
		Help:      "Prediction log writes that failed and were skipped",
	})

	m.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)
	m.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Time taken for HTTP requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	m.wsActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_active_connections",
		Help:      "Currently connected WebSocket clients",
	})
	m.wsMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_messages_total",
			Help:      "WebSocket messages handled by command",
		},
		[]string{"command"},
	)

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.predictionsTotal,
		m.predictionErrors,
		m.predictionDuration,
		m.persistenceFailures,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.wsActiveConnections,
		m.wsMessagesTotal,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObservePrediction(transport, emotion string, d time.Duration) {
	if m == nil {
		return
	}
	m.predictionsTotal.WithLabelValues(transport, emotion).Inc()
	m.predictionDuration.WithLabelValues(transport).Observe(d.Seconds())
}

func (m *Metrics) PredictionFailed(transport, kind string) {
	if m == nil {
		return
	}
	m.predictionErrors.WithLabelValues(transport, kind).Inc()
}

func (m *Metrics) PersistenceFailed() {
	if m == nil {
		return
	}
	m.persistenceFailures.Inc()
}

func (m *Metrics) ObserveHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func (m *Metrics) WebSocketConnected() {
	if m == nil {
		return
	}
	m.wsActiveConnections.Inc()
}

func (m *Metrics) WebSocketDisconnected() {
	if m == nil {
		return
	}
	m.wsActiveConnections.Dec()
}

func (m *Metrics) WebSocketMessage(command string) {
	if m == nil {
		return
	}
	m.wsMessagesTotal.WithLabelValues(command).Inc()
}
