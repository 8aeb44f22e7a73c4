package store

import (
	"time"

	"github.com/google/uuid"
)

// ChannelType identifies a delivery surface. The set is closed: adding a channel
// means adding a constant here and an adapter in internal/channels.
type ChannelType string

const (
	ChannelInternal ChannelType = "internal" // in-app chat surface
	ChannelWhatsApp ChannelType = "whatsapp" // external messaging network via HTTP bridge
)

// Valid reports whether t is a known channel type.
func (t ChannelType) Valid() bool {
	return t == ChannelInternal || t == ChannelWhatsApp
}

// ThreadStatus is the lifecycle state of a conversation thread.
type ThreadStatus string

const (
	ThreadOpen     ThreadStatus = "open"
	ThreadClosed   ThreadStatus = "closed"
	ThreadArchived ThreadStatus = "archived"
)

// Valid reports whether s is a known thread status.
func (s ThreadStatus) Valid() bool {
	return s == ThreadOpen || s == ThreadClosed || s == ThreadArchived
}

// SenderKind attributes a message to who wrote it.
type SenderKind string

const (
	SenderUser    SenderKind = "user"    // end-user or human operator
	SenderAgent   SenderKind = "agent"   // automated agent
	SenderContact SenderKind = "contact" // external contact
)

// MediaKind names media carried by an inbound message the runtime cannot process yet.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaImage MediaKind = "image"
)

// AgentConfig is the single automated agent configured for a tenant.
type AgentConfig struct {
	ID                       uuid.UUID `json:"id"`
	TenantID                 uuid.UUID `json:"tenant_id"`
	Name                     string    `json:"name"`
	Active                   bool      `json:"active"`
	Instructions             string    `json:"instructions"`
	SupplementalInstructions string    `json:"supplemental_instructions,omitempty"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// BehaviorSettings tunes how an agent delivers replies. Lazily created with
// DefaultBehaviorSettings on first read.
type BehaviorSettings struct {
	AgentID               uuid.UUID `json:"agent_id"`
	ResponseDelayMs       int       `json:"responseDelayMs" validate:"gte=0,lte=60000"`
	UseChunkedMessages    bool      `json:"useChunkedMessages"`
	MaxChunks             int       `json:"maxChunks" validate:"gte=1,lte=10"`
	MaxConsecutiveReplies int       `json:"maxConsecutiveReplies" validate:"gte=1,lte=20"`
	TypingSimulation      bool      `json:"typingSimulation"`
	AllowAudio            bool      `json:"allowAudio"`
	AllowImages           bool      `json:"allowImages"`
	AllowHandoffHuman     bool      `json:"allowHandoffHuman"`
	AllowScheduling       bool      `json:"allowScheduling"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// DefaultBehaviorSettings returns the settings a new agent starts with.
func DefaultBehaviorSettings(agentID uuid.UUID) BehaviorSettings {
	return BehaviorSettings{
		AgentID:               agentID,
		ResponseDelayMs:       1500,
		UseChunkedMessages:    true,
		MaxChunks:             3,
		MaxConsecutiveReplies: 3,
		TypingSimulation:      true,
		AllowHandoffHuman:     true,
	}
}

// ChannelEnablement maps channel types to whether the agent may answer there.
// A missing key reads as disabled.
type ChannelEnablement map[ChannelType]bool

// KnowledgeItem is a titled unit of reference material. Exactly one of
// Content, URL or FileName is expected to be set.
type KnowledgeItem struct {
	ID        uuid.UUID `json:"id"`
	AgentID   uuid.UUID `json:"agent_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content,omitempty"`
	URL       string    `json:"url,omitempty"`
	FileName  string    `json:"file_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Channel is a tenant's delivery surface of a given type.
type Channel struct {
	ID        uuid.UUID   `json:"id"`
	TenantID  uuid.UUID   `json:"tenant_id"`
	Type      ChannelType `json:"type"`
	Name      string      `json:"name"`
	CreatedAt time.Time   `json:"created_at"`
}

// Thread is a conversation container bound to one channel.
type Thread struct {
	ID             uuid.UUID    `json:"id"`
	TenantID       uuid.UUID    `json:"tenant_id"`
	ChannelID      uuid.UUID    `json:"channel_id"`
	ChannelType    ChannelType  `json:"channel_type"`
	Name           string       `json:"name"`
	Status         ThreadStatus `json:"status"`
	LastActivityAt time.Time    `json:"last_activity_at"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Message is one immutable entry in a thread.
type Message struct {
	ID         uuid.UUID   `json:"id"`
	TenantID   uuid.UUID   `json:"tenant_id"`
	ThreadID   uuid.UUID   `json:"thread_id"`
	Sender     SenderKind  `json:"sender"`
	SenderID   string      `json:"sender_id,omitempty"` // operator user ID or external chat ID
	Content    string      `json:"content"`
	MediaKinds []MediaKind `json:"media_kinds,omitempty"`
	ExternalID string      `json:"external_id,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// HandoffState records whether a human has taken a thread over from the agent.
type HandoffState struct {
	ThreadID  uuid.UUID `json:"thread_id"`
	HandedOff bool      `json:"handed_off"`
	Actor     string    `json:"actor,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExternalConnection is a tenant's configured link to the messaging bridge.
type ExternalConnection struct {
	ID            uuid.UUID `json:"id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	Name          string    `json:"name"`
	BaseURL       string    `json:"base_url"`
	APIKey        string    `json:"-"`
	InstanceID    string    `json:"instance_id"`
	WebhookSecret string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// ExternalContactLink maps an external contact to its thread. Unique on
// (TenantID, ConnectionID, ExternalChatID).
type ExternalContactLink struct {
	ID             uuid.UUID `json:"id"`
	TenantID       uuid.UUID `json:"tenant_id"`
	ConnectionID   uuid.UUID `json:"connection_id"`
	ExternalChatID string    `json:"external_chat_id"`
	ThreadID       uuid.UUID `json:"thread_id"`
	DisplayName    string    `json:"display_name,omitempty"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// ActivityLogEntry is the append-only record of one automated run.
type ActivityLogEntry struct {
	ID            uuid.UUID   `json:"id"`
	TenantID      uuid.UUID   `json:"tenant_id"`
	AgentID       uuid.UUID   `json:"agent_id"`
	ThreadID      uuid.UUID   `json:"thread_id"`
	Channel       ChannelType `json:"channel"`
	Summary       string      `json:"summary"`
	FragmentsSent int         `json:"fragments_sent"`
	Interrupted   bool        `json:"interrupted"`
	CreatedAt     time.Time   `json:"created_at"`
}

// UsageDelta is added to a tenant's usage counters.
type UsageDelta struct {
	Messages         int
	AutomatedReplies int
}
