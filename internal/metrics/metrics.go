// Package metrics exposes Prometheus instrumentation for discovery, the device
// registry and telemetry channels.
//
// A nil *Metrics is valid and records nothing, so core packages can be used
// without metrics wired in.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry with every collector puremote exports.
type Metrics struct {
	registry *prometheus.Registry

	probes        *prometheus.CounterVec
	probeLatency  prometheus.Histogram
	detected      prometheus.Gauge
	devicesOnline prometheus.Gauge
	devicesTotal  prometheus.Gauge
	events        *prometheus.CounterVec
	parseErrors   *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	saves         *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "puremote_probes_total",
			Help: "Device probes by outcome.",
		}, []string{"result"}),
		probeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "puremote_probe_duration_seconds",
			Help:    "Time taken by a single device probe.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		detected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "puremote_batch_detected",
			Help: "Devices detected by the last discovery batch.",
		}),
		devicesOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "puremote_devices_online",
			Help: "Registry records currently marked online.",
		}),
		devicesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "puremote_devices",
			Help: "Records held by the device registry.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "puremote_channel_events_total",
			Help: "Telemetry events appended to channel buffers.",
		}, []string{"address", "channel"}),
		parseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "puremote_channel_parse_errors_total",
			Help: "Telemetry frames dropped because they were not valid JSON.",
		}, []string{"address", "channel"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "puremote_channel_transitions_total",
			Help: "Channel state transitions by target state.",
		}, []string{"state"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "puremote_registry_saves_total",
			Help: "Registry writes to disk by outcome.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.probes, m.probeLatency, m.detected,
		m.devicesOnline, m.devicesTotal,
		m.events, m.parseErrors, m.transitions,
		m.saves,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveProbe(online bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(outcome(online)).Inc()
	m.probeLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) SetDetected(n int) {
	if m == nil {
		return
	}
	m.detected.Set(float64(n))
}

// SetDevices records the registry size and how many records are online.
func (m *Metrics) SetDevices(total, online int) {
	if m == nil {
		return
	}
	m.devicesTotal.Set(float64(total))
	m.devicesOnline.Set(float64(online))
}

func (m *Metrics) ChannelEvent(address, channel string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(address, channel).Inc()
}

func (m *Metrics) ChannelParseError(address, channel string) {
	if m == nil {
		return
	}
	m.parseErrors.WithLabelValues(address, channel).Inc()
}

func (m *Metrics) ChannelTransition(state string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state).Inc()
}

func (m *Metrics) RegistrySave(ok bool) {
	if m == nil {
		return
	}
	m.saves.WithLabelValues(outcome(ok)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
