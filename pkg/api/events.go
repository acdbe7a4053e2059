// Event bridge: relays every outbound client event to WebSocket clients.
package api

import (
	"context"

	"github.com/sipeed/agentc/pkg/events"
	"github.com/sipeed/agentc/pkg/logger"
)

// EventBridge connects the client's outbound bus to the WebSocket hub.
type EventBridge struct {
	bus events.Bus
	hub *WSHub
}

// NewEventBridge creates a bridge that forwards bus events to WebSocket clients.
func NewEventBridge(out events.Bus, hub *WSHub) *EventBridge {
	return &EventBridge{bus: out, hub: hub}
}

// Attach subscribes to every outbound event and returns a function that
// removes the subscriptions.
func (eb *EventBridge) Attach() (detach func()) {
	names := events.Outbound()
	ids := make([]events.ListenerID, len(names))
	for i, name := range names {
		name := name
		ids[i] = eb.bus.On(name, func(p events.Payload) {
			eb.hub.Broadcast(name.String(), p)
		})
	}
	return func() {
		for i, name := range names {
			eb.bus.Off(name, ids[i])
		}
	}
}

// Run forwards events until ctx is cancelled.
func (eb *EventBridge) Run(ctx context.Context) {
	detach := eb.Attach()
	logger.InfoC("events", "Event bridge started, forwarding outbound events to WebSocket")
	<-ctx.Done()
	detach()
	logger.InfoC("events", "Event bridge stopped")
}
