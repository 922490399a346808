// Package metrics holds the Prometheus collectors of the API and the worker.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups HTTP and domain collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	HTTPInFlight        prometheus.Gauge
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	QRValidations     *prometheus.CounterVec
	ChatMessages      *prometheus.CounterVec
	ResolutionEvents  *prometheus.CounterVec
	NotificationJobs  *prometheus.CounterVec
	RealtimeConnected prometheus.Gauge
}

// New creates the collectors and registers them, with the Go and process
// collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		HTTPInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		QRValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "porteria_qr_validations_total",
			Help: "QR code validations by result.",
		}, []string{"result"}),
		ChatMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "porteria_chat_messages_total",
			Help: "Chat messages sent by conversation kind.",
		}, []string{"kind"}),
		ResolutionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "porteria_resolution_events_total",
			Help: "Resolution workflow events by action.",
		}, []string{"action"}),
		NotificationJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "porteria_notification_jobs_total",
			Help: "Notification jobs processed by type and result.",
		}, []string{"type", "result"}),
		RealtimeConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "porteria_realtime_clients",
			Help: "Websocket clients connected to this instance.",
		}),
	}
	reg.MustRegister(
		m.HTTPInFlight, m.HTTPRequestsTotal, m.HTTPRequestDuration,
		m.QRValidations, m.ChatMessages, m.ResolutionEvents, m.NotificationJobs, m.RealtimeConnected,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
