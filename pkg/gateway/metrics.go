package gateway

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mehranbot/pkg/bus"
)

const (
	metricsNamespace = "mehranbot"
	outcomeOK        = "ok"
)

// metrics owns a private registry so several services (tests) never collide.
type metrics struct {
	registry   *prometheus.Registry
	dispatched *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func newMetrics(engine Engine, mb *bus.MessageBus) *metrics {
	registry := prometheus.NewRegistry()

	dispatched := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Messages handled, by command and outcome (ok or failure kind).",
		},
		[]string{"command", "outcome"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time from receipt to final reply, by command.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 600},
		},
		[]string{"command"},
	)
	cacheHits := prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "price_cache",
			Name:      "hits_total",
			Help:      "Price lookups answered from the cache.",
		},
		func() float64 { return float64(engine.CacheStats().Hits) },
	)
	cacheMisses := prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "price_cache",
			Name:      "misses_total",
			Help:      "Price lookups that went to the price source.",
		},
		func() float64 { return float64(engine.CacheStats().Misses) },
	)
	inFlight := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "dispatch",
			Name:      "in_flight",
			Help:      "Messages currently being handled.",
		},
		func() float64 { return float64(engine.InFlight()) },
	)

	queueDepth := prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "bus",
			Name:      "queued_messages",
			Help:      "Inbound messages waiting for a dispatch worker.",
		},
		func() float64 { return float64(mb.Stats().Queued) },
	)
	droppedEvents := prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "bus",
			Name:      "dropped_events_total",
			Help:      "Lifecycle events a slow subscriber missed.",
		},
		func() float64 { return float64(mb.Stats().DroppedEvents) },
	)

	registry.MustRegister(
		dispatched, duration, cacheHits, cacheMisses, inFlight, queueDepth, droppedEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &metrics{registry: registry, dispatched: dispatched, duration: duration}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// observe records terminal dispatch events; message_received is ignored.
func (m *metrics) observe(event bus.Event) {
	var outcome string
	switch event.Type {
	case bus.EventCommandCompleted:
		outcome = outcomeOK
	case bus.EventCommandFailed:
		outcome = event.Payload[bus.PayloadKind]
		if outcome == "" {
			outcome = "internal"
		}
	default:
		return
	}

	command := event.Payload[bus.PayloadCommand]
	m.dispatched.WithLabelValues(command, outcome).Inc()

	if ms, err := strconv.ParseInt(event.Payload[bus.PayloadDuration], 10, 64); err == nil {
		m.duration.WithLabelValues(command).Observe(float64(ms) / 1000)
	}
}
