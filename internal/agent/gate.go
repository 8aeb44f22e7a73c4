package agent

import "github.com/nextlevelbuilder/goinbox/internal/store"

// GateInput is everything the eligibility decision depends on.
type GateInput struct {
	ThreadStatus         store.ThreadStatus
	Channel              store.ChannelType
	AgentActive          bool
	InternalEnabled      bool
	ExternalEnabled      bool
	HandedOff            bool
	LastMessageFromAgent bool
}

// Eligible reports whether an automated reply may be generated for a thread.
// The checks short-circuit in a fixed order; unknown channels are never eligible.
func Eligible(in GateInput) bool {
	if in.ThreadStatus != store.ThreadOpen {
		return false
	}
	if !in.AgentActive {
		return false
	}
	if in.HandedOff {
		return false
	}
	if in.LastMessageFromAgent {
		return false
	}
	switch in.Channel {
	case store.ChannelInternal:
		return in.InternalEnabled
	case store.ChannelWhatsApp:
		return in.ExternalEnabled
	default:
		return false
	}
}
