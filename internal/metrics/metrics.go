// Package metrics holds the Prometheus collectors of the engine. Every method
// is safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eth_engine"

// Metrics is the set of collectors registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	listeners         prometheus.Gauge
	subscribers       prometheus.Gauge
	eventsDispatched  prometheus.Counter
	callbacksFired    prometheus.Counter
	callbackFaults    prometheus.Counter
	commandsReceived  *prometheus.CounterVec
	commandsDropped   *prometheus.CounterVec
	subscribeFailures prometheus.Counter
	notifications     *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		listeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listeners",
			Help:      "Live chain listeners, one per canonical key.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Live logical subscriptions across all listeners.",
		}),
		eventsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Raw events evaluated against their listener's subscribers.",
		}),
		callbacksFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_fired_total",
			Help:      "Callbacks invoked because a threshold was crossed.",
		}),
		callbackFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_faults_total",
			Help:      "Callbacks that returned an error or panicked.",
		}),
		commandsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_received_total",
			Help:      "Inbound commands by channel.",
		}, []string{"channel"}),
		commandsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_dropped_total",
			Help:      "Inbound commands dropped before routing, by reason.",
		}, []string{"reason"}),
		subscribeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribe_failures_total",
			Help:      "Subscribe commands that failed and were reported to the requester.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications handed to the sink, by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.listeners,
		m.subscribers,
		m.eventsDispatched,
		m.callbacksFired,
		m.callbackFaults,
		m.commandsReceived,
		m.commandsDropped,
		m.subscribeFailures,
		m.notifications,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetListeners records the number of live listeners.
func (m *Metrics) SetListeners(n int) {
	if m == nil {
		return
	}
	m.listeners.Set(float64(n))
}

// SetSubscribers records the number of live subscribers.
func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

func (m *Metrics) EventDispatched() {
	if m == nil {
		return
	}
	m.eventsDispatched.Inc()
}

func (m *Metrics) CallbackFired() {
	if m == nil {
		return
	}
	m.callbacksFired.Inc()
}

func (m *Metrics) CallbackFault() {
	if m == nil {
		return
	}
	m.callbackFaults.Inc()
}

func (m *Metrics) CommandReceived(channel string) {
	if m == nil {
		return
	}
	m.commandsReceived.WithLabelValues(channel).Inc()
}

// CommandDropped counts a command that never reached the multiplexer.
// reason is one of "decode", "validation" or "unknown_channel".
func (m *Metrics) CommandDropped(reason string) {
	if m == nil {
		return
	}
	m.commandsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SubscribeFailed() {
	if m == nil {
		return
	}
	m.subscribeFailures.Inc()
}

// NotificationSent counts a sink delivery as "ok" or "error".
func (m *Metrics) NotificationSent(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifications.WithLabelValues(result).Inc()
}
