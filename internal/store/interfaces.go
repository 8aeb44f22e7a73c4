package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// AgentStore manages per-tenant agent configuration.
type AgentStore interface {
	// GetAgentByTenant returns the tenant's agent configuration.
	GetAgentByTenant(ctx context.Context, tenantID uuid.UUID) (*AgentConfig, error)
	// UpsertAgent creates or updates the tenant's single configuration (keyed by TenantID).
	UpsertAgent(ctx context.Context, cfg *AgentConfig) error
	// GetBehaviorSettings returns the agent's settings, creating defaults on first read.
	GetBehaviorSettings(ctx context.Context, agentID uuid.UUID) (*BehaviorSettings, error)
	UpdateBehaviorSettings(ctx context.Context, s *BehaviorSettings) error
	GetChannelEnablement(ctx context.Context, agentID uuid.UUID) (ChannelEnablement, error)
	SetChannelEnabled(ctx context.Context, agentID uuid.UUID, ch ChannelType, enabled bool) error
}

// KnowledgeStore gives read access to an agent's knowledge items.
type KnowledgeStore interface {
	// ListKnowledge returns up to limit items, most recent first.
	ListKnowledge(ctx context.Context, agentID uuid.UUID, limit int) ([]KnowledgeItem, error)
}

// ThreadStore manages channels and conversation threads.
type ThreadStore interface {
	GetThread(ctx context.Context, id uuid.UUID) (*Thread, error)
	CreateThread(ctx context.Context, t *Thread) error
	DeleteThread(ctx context.Context, id uuid.UUID) error
	UpdateThreadStatus(ctx context.Context, id uuid.UUID, status ThreadStatus) error
	TouchThread(ctx context.Context, id uuid.UUID, at time.Time) error
	// EnsureChannel returns the tenant's channel of type ch, creating it when missing.
	EnsureChannel(ctx context.Context, tenantID uuid.UUID, ch ChannelType) (*Channel, error)
}

// MessageStore persists thread messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *Message) error
	// ListRecentMessages returns the newest limit messages in chronological order.
	ListRecentMessages(ctx context.Context, threadID uuid.UUID, limit int) ([]Message, error)
}

// HandoffStore manages per-thread human takeover state.
type HandoffStore interface {
	// GetHandoff returns the thread's state; a thread never handed off yields HandedOff=false.
	GetHandoff(ctx context.Context, threadID uuid.UUID) (*HandoffState, error)
	SetHandoff(ctx context.Context, threadID uuid.UUID, handedOff bool, actor string) error
}

// ConnectionStore manages external bridge connections and contact links.
type ConnectionStore interface {
	GetConnection(ctx context.Context, id uuid.UUID) (*ExternalConnection, error)
	ListConnections(ctx context.Context) ([]ExternalConnection, error)
	CreateConnection(ctx context.Context, c *ExternalConnection) error
	FindContactLink(ctx context.Context, tenantID, connectionID uuid.UUID, externalChatID string) (*ExternalContactLink, error)
	GetContactLinkByThread(ctx context.Context, threadID uuid.UUID) (*ExternalContactLink, error)
	// UpsertContactLink inserts link or, when its natural key already exists, returns
	// the stored row untouched apart from last activity. Callers must use the returned ThreadID.
	UpsertContactLink(ctx context.Context, link *ExternalContactLink) (*ExternalContactLink, error)
	TouchContactLink(ctx context.Context, id uuid.UUID, at time.Time) error
}

// ActivityStore appends automated run records.
type ActivityStore interface {
	AppendActivity(ctx context.Context, e *ActivityLogEntry) error
	ListActivity(ctx context.Context, tenantID uuid.UUID, limit int) ([]ActivityLogEntry, error)
}

// UsageStore is the billing collaborator's surface: a boolean quota gate and counters.
type UsageStore interface {
	AutomatedReplyAllowed(ctx context.Context, tenantID uuid.UUID) (bool, error)
	IncrementUsage(ctx context.Context, tenantID uuid.UUID, delta UsageDelta) error
}
