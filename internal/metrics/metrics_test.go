package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveHTTP(http.MethodPost, "/api/auth/login", http.StatusOK, 10*time.Millisecond)
	m.ObserveHTTP(http.MethodPost, "/api/auth/login", http.StatusOK, 20*time.Millisecond)
	m.ObserveHTTP(http.MethodGet, "", http.StatusNotFound, time.Millisecond)
	m.AuthEvent("login", "ok")
	m.AuthEvent("login", "unauthorized")
	m.GateFailure("TOKEN_EXPIRED")
	m.Purged("refresh", 3)
	m.Purged("verification", 0)

	require.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/api/auth/login", "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "unmatched", "404")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.authEvents.WithLabelValues("login", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.gateFailures.WithLabelValues("TOKEN_EXPIRED")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.purged.WithLabelValues("refresh")))
	require.Equal(t, 1, testutil.CollectAndCount(m.purged))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveHTTP("GET", "/", 200, time.Millisecond)
		m.AuthEvent("login", "ok")
		m.GateFailure("INVALID_TOKEN")
		m.Purged("refresh", 1)
	})
}

func TestNew_DoubleRegistrationPanics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	New(reg)
	require.Panics(t, func() { New(reg) })
}
