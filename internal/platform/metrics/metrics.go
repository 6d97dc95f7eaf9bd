package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the radio player.
// All methods are safe on a nil *Metrics, which records nothing (tests).
type Metrics struct {
	registry               *prometheus.Registry
	requestsTotal          prometheus.Counter
	errorsTotal            prometheus.Counter
	segmentsFetchedTotal   prometheus.Counter
	segmentBytesTotal      prometheus.Counter
	segmentsDiscardedTotal prometheus.Counter
	playlistRefreshesTotal prometheus.Counter
	fetchErrorsTotal       *prometheus.CounterVec
	networkAlertsTotal     prometheus.Counter
	channelSwitchesTotal   prometheus.Counter
	queueDepth             prometheus.Gauge
	currentChannel         prometheus.Gauge
}

// New creates and registers Prometheus metrics for the player.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "radio_http_requests_total",
			Help: "Total number of status HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "radio_http_errors_total",
			Help: "Total number of status HTTP responses with error status (4xx or 5xx)",
		}),
		segmentsFetchedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "radio_segments_fetched_total",
			Help: "Total number of media segments downloaded and queued",
		}),
		segmentBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "radio_segment_bytes_total",
			Help: "Total number of media segment bytes downloaded",
		}),
		segmentsDiscardedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "radio_segments_discarded_total",
			Help: "Total number of queued segments dropped by a playback restart",
		}),
		playlistRefreshesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "radio_playlist_refreshes_total",
			Help: "Total number of successful media playlist refreshes",
		}),
		fetchErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "radio_fetch_errors_total",
			Help: "Total number of failed session steps by error kind",
		}, []string{"kind"}),
		networkAlertsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "radio_network_alerts_total",
			Help: "Total number of network_error alerts published",
		}),
		channelSwitchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "radio_channel_switches_total",
			Help: "Total number of channel selections",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "radio_queue_depth",
			Help: "Number of segments waiting in the playback queue",
		}),
		currentChannel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "radio_current_channel",
			Help: "Selected channel index, 0 when stopped",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.segmentsFetchedTotal,
		m.segmentBytesTotal,
		m.segmentsDiscardedTotal,
		m.playlistRefreshesTotal,
		m.fetchErrorsTotal,
		m.networkAlertsTotal,
		m.channelSwitchesTotal,
		m.queueDepth,
		m.currentChannel,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m != nil {
		m.requestsTotal.Inc()
	}
}

// IncErrors increments the HTTP errors counter.
func (m *Metrics) IncErrors() {
	if m != nil {
		m.errorsTotal.Inc()
	}
}

// ObserveSegment records one queued segment of n bytes.
func (m *Metrics) ObserveSegment(n int) {
	if m != nil {
		m.segmentsFetchedTotal.Inc()
		m.segmentBytesTotal.Add(float64(n))
	}
}

// AddDiscarded records segments flushed from the queue.
func (m *Metrics) AddDiscarded(n int) {
	if m != nil {
		m.segmentsDiscardedTotal.Add(float64(n))
	}
}

// IncPlaylistRefreshes increments the playlist refresh counter.
func (m *Metrics) IncPlaylistRefreshes() {
	if m != nil {
		m.playlistRefreshesTotal.Inc()
	}
}

// IncFetchErrors increments the error counter for kind.
func (m *Metrics) IncFetchErrors(kind string) {
	if m != nil {
		m.fetchErrorsTotal.WithLabelValues(kind).Inc()
	}
}

// IncNetworkAlerts increments the published alert counter.
func (m *Metrics) IncNetworkAlerts() {
	if m != nil {
		m.networkAlertsTotal.Inc()
	}
}

// SetChannel records a channel selection; 0 means stopped.
func (m *Metrics) SetChannel(n int) {
	if m == nil {
		return
	}
	if n > 0 {
		m.channelSwitchesTotal.Inc()
	}
	m.currentChannel.Set(float64(n))
}

// SetQueueDepth sets the queue depth gauge.
func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. queue depth).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
