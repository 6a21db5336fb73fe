package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.AuthRequest("local", "ok")
	m.BridgeOpened()
	m.BridgeClosed("client_closed")
	m.BridgeMessage("in")
	m.Dispatch("pdf", "ok")
	m.SessionOpened()
	m.SessionClosed()
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCollectors(t *testing.T) {
	m := New()
	m.BridgeOpened()
	m.BridgeOpened()
	m.BridgeClosed("worker_exited")
	m.BridgeMessage("out")
	m.Dispatch("workbook", "invalid")
	m.SessionOpened()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.bridgeActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bridgeConnections.WithLabelValues("worker_exited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bridgeMessages.WithLabelValues("out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatches.WithLabelValues("workbook", "invalid")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsOpen))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "docgate_bridge_active_connections")
	assert.Contains(t, names, "go_goroutines")
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.AuthRequest("local", "rejected")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `docgate_auth_requests_total{mode="local",outcome="rejected"} 1`))
}
