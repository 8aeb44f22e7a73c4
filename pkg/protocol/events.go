package protocol

// ProtocolVersion is bumped whenever an event payload changes shape.
const ProtocolVersion = 1

// WebSocket event names pushed from server to client.
const (
	EventHealth   = "health"
	EventShutdown = "shutdown"

	// Inbox activity (payload: MessageCreatedPayload).
	EventMessageCreated = "message.created"

	// Thread state changes (payload: ThreadEventPayload).
	EventThreadHandoff = "thread.handoff"
	EventThreadStatus  = "thread.status"

	// Automated reply runs (payload: AgentRunPayload).
	EventAgentRun = "agent.run"
)

// Agent run event subtypes (in payload.type)
const (
	AgentRunStarted   = "run.started"
	AgentRunCompleted = "run.completed"
	AgentRunSkipped   = "run.skipped"
	AgentRunFailed    = "run.failed"
)

// EventFrame is the envelope written to websocket clients.
type EventFrame struct {
	Type    string      `json:"type"` // always "event"
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewEvent wraps a payload in an event frame.
func NewEvent(name string, payload interface{}) *EventFrame {
	return &EventFrame{Type: "event", Event: name, Payload: payload}
}
