// Package metrics exports the display state and agent activity to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"splendid-controller/internal/splendid"
)

const namespace = "splendid"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	dimmingLevel   prometheus.Gauge
	dimmingPercent prometheus.Gauge
	mode           *prometheus.GaugeVec
	ereading       prometheus.Gauge
	synced         prometheus.Gauge
	commands       *prometheus.CounterVec
}

// New registers every collector on a fresh registry, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		dimmingLevel: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "display",
			Name:      "dimming_level",
			Help:      "Dimming in native units (40-100)",
		}),
		dimmingPercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "display",
			Name:      "dimming_percent",
			Help:      "Dimming as a percentage",
		}),
		mode: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "display",
			Name:      "mode",
			Help:      "1 for the active colour mode, 0 otherwise",
		}, []string{"mode"}),
		ereading: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "display",
			Name:      "ereading_active",
			Help:      "1 while the e-reading grayscale overlay is on",
		}),
		synced: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "display",
			Name:      "synced",
			Help:      "1 once the state has been read from hardware",
		}),
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "commands_total",
			Help:      "Commands handled by the agent",
		}, []string{"type", "result"}),
	}
}

var colourModes = []splendid.ModeID{
	splendid.ModeNormal,
	splendid.ModeVivid,
	splendid.ModeManual,
	splendid.ModeEyeCare,
}

// ObserveState updates the display gauges from a snapshot.
func (m *Metrics) ObserveState(s splendid.ControllerState, synced bool) {
	m.dimmingLevel.Set(float64(s.Dimming))
	m.dimmingPercent.Set(float64(s.DimmingPercent()))
	for _, id := range colourModes {
		m.mode.WithLabelValues(id.String()).Set(boolToFloat(s.ModeID == id))
	}
	m.ereading.Set(boolToFloat(s.IsMonochrome))
	m.synced.Set(boolToFloat(synced))
}

// ObserveCommand counts a handled command.
func (m *Metrics) ObserveCommand(cmdType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.commands.WithLabelValues(cmdType, result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
