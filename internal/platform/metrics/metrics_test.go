package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func TestMetrics_nil_is_noop(t *testing.T) {
	var m *Metrics
	m.IncRequests()
	m.ObserveSegment(10)
	m.IncFetchErrors("transport")
	m.SetChannel(2)
	m.SetQueueDepth(1)
	m.AddDiscarded(3)
}

func TestMetrics_counters(t *testing.T) {
	m := New()
	m.ObserveSegment(100)
	m.ObserveSegment(50)
	m.IncFetchErrors("parse")
	m.IncFetchErrors("parse")
	m.IncNetworkAlerts()
	m.SetChannel(3)
	m.SetChannel(0)

	assert.Equal(t, 2.0, counterValue(t, m.segmentsFetchedTotal))
	assert.Equal(t, 150.0, counterValue(t, m.segmentBytesTotal))
	assert.Equal(t, 2.0, counterValue(t, m.fetchErrorsTotal.WithLabelValues("parse")))
	assert.Equal(t, 1.0, counterValue(t, m.networkAlertsTotal))
	assert.Equal(t, 1.0, counterValue(t, m.channelSwitchesTotal))
}

func TestMetrics_Handler_updates_gauges(t *testing.T) {
	m := New()
	h := m.Handler(func() { m.SetQueueDepth(4) })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "radio_queue_depth 4"), rec.Body.String())
}

func TestRequestMiddleware_counts_errors(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bad", nil))

	assert.Equal(t, 2.0, counterValue(t, m.requestsTotal))
	assert.Equal(t, 1.0, counterValue(t, m.errorsTotal))
}

func TestRequestMiddleware_skips_paths(t *testing.T) {
	m := New()
	h := RequestMiddleware(m, "/metrics")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, 1.0, counterValue(t, m.requestsTotal))
	assert.Equal(t, 0.0, counterValue(t, m.errorsTotal))
}
