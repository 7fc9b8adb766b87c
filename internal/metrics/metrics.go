package metrics

import (
	"net/http"
	"time"

	"github.com/lrp/dvi2mqtt/internal/core/domain"
	"github.com/lrp/dvi2mqtt/pkg/dvi_modbus"

	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dvi2mqtt"

type Metrics struct {
	frames       *prometheus.CounterVec
	transactions *prometheus.HistogramVec
	commands     *prometheus.CounterVec
	publishes    *prometheus.CounterVec
	linkUp       *prometheus.GaugeVec
	bridgeState  prometheus.Gauge
	reading      *prometheus.GaugeVec
}

// NewRegistry returns a non-global registry with the go and build info
// collectors registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewBuildInfoCollector())
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_total",
				Help:      "Modbus transactions by result.",
			},
			[]string{"result"}),
		transactions: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transaction_seconds",
				Help:      "Duration of a serial request/response round trip.",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2, 5},
			},
			[]string{"function"}),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Commands received over MQTT by result.",
			},
			[]string{"result"}),
		publishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publishes_total",
				Help:      "MQTT publishes by kind.",
			},
			[]string{"kind"}),
		linkUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "link_up",
				Help:      "1 when the link is connected.",
			},
			[]string{"link"}),
		bridgeState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "bridge_state",
				Help:      "Bridge state: 0 starting, 1 running, 2 degraded, 3 stopping, 4 stopped.",
			}),
		reading: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reading_value",
				Help:      "Last published heatpump value.",
			},
			[]string{"group", "id"}),
	}
	reg.MustRegister(m.frames)
	reg.MustRegister(m.transactions)
	reg.MustRegister(m.commands)
	reg.MustRegister(m.publishes)
	reg.MustRegister(m.linkUp)
	reg.MustRegister(m.bridgeState)
	reg.MustRegister(m.reading)
	return m
}

// Instrument feeds the frame and transaction metrics from the device.
func (m *Metrics) Instrument() dvi_modbus.Instrument {
	return dvi_modbus.Instrument{
		RecordTime: func(fnName string, duration time.Duration) {
			m.transactions.WithLabelValues(fnName).Observe(duration.Seconds())
		},
		RecordResult: func(result string) {
			m.frames.WithLabelValues(result).Inc()
		},
	}
}

func (m *Metrics) Command(result string) {
	m.commands.WithLabelValues(result).Inc()
}

func (m *Metrics) Published(kind string) {
	m.publishes.WithLabelValues(kind).Inc()
}

func (m *Metrics) Status(status domain.BridgeStatus) {
	m.bridgeState.Set(float64(status.State))
	m.linkUp.WithLabelValues(string(domain.LINK_SERIAL)).Set(up(status.Serial))
	m.linkUp.WithLabelValues(string(domain.LINK_MQTT)).Set(up(status.MQTT))
}

func (m *Metrics) Reading(r domain.Reading) {
	for id, on := range r.Coils {
		v := 0.0
		if on {
			v = 1
		}
		m.reading.WithLabelValues("coils", id).Set(v)
	}
	for id, v := range r.Inputs {
		m.reading.WithLabelValues("inputs", id).Set(v)
	}
	for id, v := range r.Settings {
		m.reading.WithLabelValues("settings", id).Set(v)
	}
}

// Subscribe keeps the bridge metrics current from the actor eventstream.
func (m *Metrics) Subscribe(es *eventstream.EventStream) *eventstream.Subscription {
	return es.Subscribe(func(evt any) {
		switch e := evt.(type) {
		case domain.ReadingPublishedEvent:
			m.Reading(e.Reading)
		case domain.BridgeStatusChangedEvent:
			m.Status(e.Status)
		case domain.CommandResultEvent:
			m.Command(e.Result)
		case domain.MessagePublishedEvent:
			m.Published(e.Kind)
		}
	})
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func up(s domain.LinkState) float64 {
	if s == domain.LinkConnected {
		return 1
	}
	return 0
}
