// Package metrics exposes Prometheus metrics for the realtime core: bus
// traffic, listener failures, transcript growth and transport frames.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sipeed/agentc/pkg/domain/avatar"
	sessiondomain "github.com/sipeed/agentc/pkg/domain/session"
	"github.com/sipeed/agentc/pkg/domain/turn"
	"github.com/sipeed/agentc/pkg/events"
	"github.com/sipeed/agentc/pkg/infrastructure/eventbus"
)

// Metrics holds all Prometheus metrics for an agentc client.
type Metrics struct {
	registry *prometheus.Registry

	// Bus metrics
	EventsTotal      *prometheus.CounterVec
	DeliveriesTotal  *prometheus.CounterVec
	ListenerFailures *prometheus.CounterVec

	// Transcript metrics
	MessagesTotal    *prometheus.CounterVec
	BlockedToolCalls *prometheus.CounterVec
	TokensTotal      *prometheus.CounterVec
	Sessions         prometheus.Gauge

	// State gauges
	TurnCanSend  prometheus.Gauge
	AvatarActive prometheus.Gauge

	// Transport metrics
	FramesTotal  *prometheus.CounterVec
	DecodeErrors *prometheus.CounterVec
}

// New creates a Metrics instance with every metric registered on a
// private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "agentc"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bus_events_total",
				Help:      "Events emitted on the bus",
			},
			[]string{"event"},
		),
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bus_deliveries_total",
				Help:      "Listener invocations performed by the bus",
			},
			[]string{"event"},
		),
		ListenerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bus_listener_failures_total",
				Help:      "Listeners that panicked and were isolated",
			},
			[]string{"event"},
		),
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Messages appended to session transcripts",
			},
			[]string{"role", "type"},
		),
		BlockedToolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blocked_tool_calls_total",
				Help:      "Tool calls denied by the tool access policy",
			},
			[]string{"tool"},
		),
		TokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Tokens reported on finalized messages",
			},
			[]string{"direction"},
		),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Chat sessions held by the registry",
		}),
		TurnCanSend: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "turn_can_send",
			Help:      "1 while the user holds the turn",
		}),
		AvatarActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "avatar_session_active",
			Help:      "1 while an avatar session is attached",
		}),
		FramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_frames_total",
				Help:      "WebSocket frames by direction and type",
			},
			[]string{"direction", "type"},
		),
		DecodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_decode_errors_total",
				Help:      "Inbound frames that could not be decoded",
			},
			[]string{"reason"},
		),
	}

	registry.MustRegister(
		m.EventsTotal,
		m.DeliveriesTotal,
		m.ListenerFailures,
		m.MessagesTotal,
		m.BlockedToolCalls,
		m.TokensTotal,
		m.Sessions,
		m.TurnCanSend,
		m.AvatarActive,
		m.FramesTotal,
		m.DecodeErrors,
	)
	return m
}

// Registry returns the private registry, for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EventEmitted implements eventbus.Observer.
func (m *Metrics) EventEmitted(name events.Name, listeners int) {
	m.EventsTotal.WithLabelValues(name.String()).Inc()
	if listeners > 0 {
		m.DeliveriesTotal.WithLabelValues(name.String()).Add(float64(listeners))
	}
}

// ListenerFailed implements eventbus.Observer.
func (m *Metrics) ListenerFailed(name events.Name) {
	m.ListenerFailures.WithLabelValues(name.String()).Inc()
}

// RecordFrame counts a transport frame. direction is "in" or "out".
func (m *Metrics) RecordFrame(direction, frameType string) {
	m.FramesTotal.WithLabelValues(direction, frameType).Inc()
}

// RecordDecodeError counts an inbound frame that was dropped.
func (m *Metrics) RecordDecodeError(reason string) {
	m.DecodeErrors.WithLabelValues(reason).Inc()
}

// Watch subscribes to the outbound events that drive the transcript and
// state metrics. It returns a function that removes the subscriptions.
func (m *Metrics) Watch(out events.Bus) (stop func()) {
	ids := map[events.Name]events.ListenerID{
		events.MessageAdded:       eventbus.Listen(out, m.onMessageAdded),
		events.SessionsUpdated:    eventbus.Listen(out, m.onSessionsUpdated),
		events.TurnStateChanged:   eventbus.Listen(out, m.onTurnStateChanged),
		events.AvatarStateChanged: eventbus.Listen(out, m.onAvatarStateChanged),
	}
	return func() {
		for name, id := range ids {
			out.Off(name, id)
		}
	}
}

func (m *Metrics) onMessageAdded(e sessiondomain.MessageAdded) {
	msg := e.Message
	m.MessagesTotal.WithLabelValues(msg.Role.String(), msg.Type.String()).Inc()
	if msg.Metadata == nil {
		return
	}
	if msg.Metadata.InputTokens > 0 {
		m.TokensTotal.WithLabelValues("input").Add(float64(msg.Metadata.InputTokens))
	}
	if msg.Metadata.OutputTokens > 0 {
		m.TokensTotal.WithLabelValues("output").Add(float64(msg.Metadata.OutputTokens))
	}
	for _, tc := range msg.Metadata.ToolCalls {
		if tc.Blocked {
			m.BlockedToolCalls.WithLabelValues(tc.Name).Inc()
		}
	}
}

func (m *Metrics) onSessionsUpdated(e sessiondomain.ListUpdated) {
	m.Sessions.Set(float64(len(e.Sessions)))
}

func (m *Metrics) onTurnStateChanged(e turn.StateChanged) {
	m.TurnCanSend.Set(boolGauge(e.CanSendInput))
}

func (m *Metrics) onAvatarStateChanged(e avatar.StateChanged) {
	m.AvatarActive.Set(boolGauge(e.Active))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Verify interface compliance at compile time.
var _ eventbus.Observer = (*Metrics)(nil)
