package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the collector's self-metrics on a private registry, so tests
// can build as many collectors as they like.
type Metrics struct {
	Registry *prometheus.Registry

	FramesReceived   prometheus.Counter
	Envelopes        *prometheus.CounterVec
	DecodeErrors     prometheus.Counter
	ConnectedClients prometheus.Gauge
	HostsOnline      prometheus.Gauge
	HostsTotal       prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blinky_frames_received_total",
			Help: "Text frames received from agents.",
		}),
		Envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blinky_envelopes_total",
			Help: "Envelopes received, by message type.",
		}, []string{"type"}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blinky_decode_errors_total",
			Help: "Frames or payloads that could not be decoded.",
		}),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blinky_connected_clients",
			Help: "Currently connected agents.",
		}),
		HostsOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blinky_hosts_online",
			Help: "Hosts reporting within max_age.",
		}),
		HostsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blinky_hosts_total",
			Help: "Hosts ever seen by this collector.",
		}),
	}
	m.Registry.MustRegister(
		m.FramesReceived,
		m.Envelopes,
		m.DecodeErrors,
		m.ConnectedClients,
		m.HostsOnline,
		m.HostsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// SetHosts updates the host gauges.
func (m *Metrics) SetHosts(total, online int) {
	m.HostsTotal.Set(float64(total))
	m.HostsOnline.Set(float64(online))
}
