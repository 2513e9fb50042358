// Package metrics exposes the relay's Prometheus instruments on a private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Metrics groups every instrument the relay updates. A nil *Metrics is valid and
// records nothing, which keeps tests and optional wiring simple.
type Metrics struct {
	registry *prometheus.Registry

	ConnectedClients  prometheus.Gauge
	ActiveTopics      prometheus.Gauge
	DegradedTopics    prometheus.Gauge
	FeedsOpened       prometheus.Counter
	EnvelopesRelayed  *prometheus.CounterVec
	SendFailures      prometheus.Counter
	FeedErrors        *prometheus.CounterVec
	SubscribeRequests *prometheus.CounterVec
	DeliveryDuration  prometheus.Histogram
}

// New registers the relay instruments on a fresh registry together with the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ConnectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Websocket clients currently registered for fan-out.",
		}),
		ActiveTopics: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_topics",
			Help:      "Upstream topics with an open feed.",
		}),
		DegradedTopics: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "degraded_topics",
			Help:      "Upstream topics waiting to be re-subscribed.",
		}),
		FeedsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feeds_opened_total",
			Help:      "Upstream feeds opened since start, including reconnects.",
		}),
		EnvelopesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_relayed_total",
			Help:      "Upstream payloads fanned out, by topic.",
		}, []string{"topic"}),
		SendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Client sends that failed or timed out; each drops the client.",
		}),
		FeedErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_errors_total",
			Help:      "Terminal upstream feed errors, by topic.",
		}, []string{"topic"}),
		SubscribeRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribe_requests_total",
			Help:      "Client subscribe requests, by outcome.",
		}, []string{"result"}),
		DeliveryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time to complete one fan-out round.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) SetConnectedClients(n int) {
	if m == nil {
		return
	}
	m.ConnectedClients.Set(float64(n))
}

func (m *Metrics) SetTopics(active, degraded int) {
	if m == nil {
		return
	}
	m.ActiveTopics.Set(float64(active))
	m.DegradedTopics.Set(float64(degraded))
}

func (m *Metrics) FeedOpened() {
	if m == nil {
		return
	}
	m.FeedsOpened.Inc()
}

func (m *Metrics) EnvelopeRelayed(topic string) {
	if m == nil {
		return
	}
	m.EnvelopesRelayed.WithLabelValues(topic).Inc()
}

func (m *Metrics) SendFailed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SendFailures.Add(float64(n))
}

func (m *Metrics) FeedFailed(topic string) {
	if m == nil {
		return
	}
	m.FeedErrors.WithLabelValues(topic).Inc()
}

func (m *Metrics) SubscribeRequest(result string) {
	if m == nil {
		return
	}
	m.SubscribeRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveDelivery(seconds float64) {
	if m == nil {
		return
	}
	m.DeliveryDuration.Observe(seconds)
}
