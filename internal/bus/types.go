package bus

// Event represents a server-side event to broadcast to WebSocket clients.
type Event struct {
	Name     string      `json:"name"`               // event name (e.g. "message.created", "agent.run")
	TenantID string      `json:"tenant_id,omitempty"` // empty = broadcast to every tenant
	Payload  interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the gateway server, channel adapters and the agent runtime to decouple from concrete MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}
