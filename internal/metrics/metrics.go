// Package metrics — Prometheus-метрики сервиса авторизации.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics хранит коллекторы сервиса. Нулевой указатель допустим:
// все методы становятся no-op.
type Metrics struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	authEvents   *prometheus.CounterVec
	gateFailures *prometheus.CounterVec
	purged       *prometheus.CounterVec
}

// New создаёт коллекторы и регистрирует их в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),

		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auth_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_operations_total",
			Help: "Auth operations by name and outcome.",
		}, []string{"operation", "outcome"}),

		gateFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_gate_failures_total",
			Help: "Bearer tokens rejected by the security gate.",
		}, []string{"type"}),

		purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_janitor_purged_total",
			Help: "Expired tokens removed by the janitor.",
		}, []string{"store"}),
	}

	reg.MustRegister(m.httpRequests, m.httpDuration, m.authEvents, m.gateFailures, m.purged)

	return m
}

// ObserveHTTP учитывает завершённый HTTP-запрос.
// route — шаблон маршрута chi, а не фактический путь.
func (m *Metrics) ObserveHTTP(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}

	if route == "" {
		route = "unmatched"
	}

	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(dur.Seconds())
}

// AuthEvent учитывает исход операции (outcome: ok, invalid, conflict, unauthorized, ...).
func (m *Metrics) AuthEvent(operation, outcome string) {
	if m == nil {
		return
	}

	m.authEvents.WithLabelValues(operation, outcome).Inc()
}

// GateFailure учитывает отклонённый bearer-токен.
func (m *Metrics) GateFailure(kind string) {
	if m == nil {
		return
	}

	m.gateFailures.WithLabelValues(kind).Inc()
}

// Purged учитывает удалённые просроченные токены.
func (m *Metrics) Purged(store string, n int64) {
	if m == nil || n <= 0 {
		return
	}

	m.purged.WithLabelValues(store).Add(float64(n))
}
