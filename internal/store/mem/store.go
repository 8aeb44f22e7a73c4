// Package mem provides in-memory implementations of the store interfaces.
// Used in standalone mode (no Postgres configured) and throughout the tests.
package mem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/goinbox/internal/store"
)

type linkKey struct {
	tenantID     uuid.UUID
	connectionID uuid.UUID
	chatID       string
}

type channelKey struct {
	tenantID uuid.UUID
	ch       store.ChannelType
}

type usage struct {
	messages         int64
	automatedReplies int64
	limit            int64 // 0 = unlimited
}

// Store keeps every entity in maps guarded by one mutex.
type Store struct {
	mu sync.RWMutex

	agents      map[uuid.UUID]*store.AgentConfig // by tenant
	settings    map[uuid.UUID]*store.BehaviorSettings
	enablement  map[uuid.UUID]store.ChannelEnablement
	knowledge   map[uuid.UUID][]store.KnowledgeItem
	channels    map[channelKey]*store.Channel
	threads     map[uuid.UUID]*store.Thread
	messages    map[uuid.UUID][]store.Message
	handoffs    map[uuid.UUID]*store.HandoffState
	connections map[uuid.UUID]*store.ExternalConnection
	links       map[linkKey]*store.ExternalContactLink
	activity    []store.ActivityLogEntry
	usage       map[uuid.UUID]*usage
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		agents:      make(map[uuid.UUID]*store.AgentConfig),
		settings:    make(map[uuid.UUID]*store.BehaviorSettings),
		enablement:  make(map[uuid.UUID]store.ChannelEnablement),
		knowledge:   make(map[uuid.UUID][]store.KnowledgeItem),
		channels:    make(map[channelKey]*store.Channel),
		threads:     make(map[uuid.UUID]*store.Thread),
		messages:    make(map[uuid.UUID][]store.Message),
		handoffs:    make(map[uuid.UUID]*store.HandoffState),
		connections: make(map[uuid.UUID]*store.ExternalConnection),
		links:       make(map[linkKey]*store.ExternalContactLink),
		usage:       make(map[uuid.UUID]*usage),
	}
}

// NewStores wraps a fresh Store in the store.Stores container.
func NewStores() (*store.Stores, *Store) {
	s := New()
	return &store.Stores{
		Agents:      s,
		Knowledge:   s,
		Threads:     s,
		Messages:    s,
		Handoffs:    s,
		Connections: s,
		Activity:    s,
		Usage:       s,
	}, s
}

// --- AgentStore ---

func (s *Store) GetAgentByTenant(_ context.Context, tenantID uuid.UUID) (*store.AgentConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) UpsertAgent(_ context.Context, cfg *store.AgentConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.agents[cfg.TenantID]; ok {
		cfg.ID = existing.ID
		cfg.CreatedAt = existing.CreatedAt
	} else {
		if cfg.ID == uuid.Nil {
			cfg.ID = store.GenNewID()
		}
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	cp := *cfg
	s.agents[cfg.TenantID] = &cp
	return nil
}

func (s *Store) GetBehaviorSettings(_ context.Context, agentID uuid.UUID) (*store.BehaviorSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bs, ok := s.settings[agentID]
	if !ok {
		d := store.DefaultBehaviorSettings(agentID)
		d.UpdatedAt = time.Now().UTC()
		bs = &d
		s.settings[agentID] = bs
	}
	cp := *bs
	return &cp, nil
}

func (s *Store) UpdateBehaviorSettings(_ context.Context, bs *store.BehaviorSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bs.UpdatedAt = time.Now().UTC()
	cp := *bs
	s.settings[bs.AgentID] = &cp
	return nil
}

func (s *Store) GetChannelEnablement(_ context.Context, agentID uuid.UUID) (store.ChannelEnablement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(store.ChannelEnablement)
	for k, v := range s.enablement[agentID] {
		out[k] = v
	}
	return out, nil
}

func (s *Store) SetChannelEnabled(_ context.Context, agentID uuid.UUID, ch store.ChannelType, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.enablement[agentID]
	if !ok {
		m = make(store.ChannelEnablement)
		s.enablement[agentID] = m
	}
	m[ch] = enabled
	return nil
}

// --- KnowledgeStore ---

// AddKnowledge stores an item for agentID (knowledge CRUD lives outside this service).
func (s *Store) AddKnowledge(item store.KnowledgeItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == uuid.Nil {
		item.ID = store.GenNewID()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	s.knowledge[item.AgentID] = append(s.knowledge[item.AgentID], item)
}

func (s *Store) ListKnowledge(_ context.Context, agentID uuid.UUID, limit int) ([]store.KnowledgeItem, error) {
	s.mu.RLock()
	items := append([]store.KnowledgeItem(nil), s.knowledge[agentID]...)
	s.mu.RUnlock()

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// --- ThreadStore ---

func (s *Store) GetThread(_ context.Context, id uuid.UUID) (*store.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) CreateThread(_ context.Context, t *store.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = store.GenNewID()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.LastActivityAt.IsZero() {
		t.LastActivityAt = now
	}
	if t.Status == "" {
		t.Status = store.ThreadOpen
	}
	cp := *t
	s.threads[t.ID] = &cp
	return nil
}

func (s *Store) DeleteThread(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.threads, id)
	delete(s.messages, id)
	delete(s.handoffs, id)
	return nil
}

func (s *Store) UpdateThreadStatus(_ context.Context, id uuid.UUID, status store.ThreadStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return store.ErrNotFound
	}
	t.Status = status
	return nil
}

func (s *Store) TouchThread(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return store.ErrNotFound
	}
	if at.After(t.LastActivityAt) {
		t.LastActivityAt = at
	}
	return nil
}

func (s *Store) EnsureChannel(_ context.Context, tenantID uuid.UUID, ch store.ChannelType) (*store.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := channelKey{tenantID: tenantID, ch: ch}
	c, ok := s.channels[key]
	if !ok {
		c = &store.Channel{
			ID:        store.GenNewID(),
			TenantID:  tenantID,
			Type:      ch,
			Name:      string(ch),
			CreatedAt: time.Now().UTC(),
		}
		s.channels[key] = c
	}
	cp := *c
	return &cp, nil
}

// ThreadCount returns the number of stored threads.
func (s *Store) ThreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}

// --- MessageStore ---

func (s *Store) CreateMessage(_ context.Context, m *store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[m.ThreadID]; !ok {
		return store.ErrNotFound
	}
	if m.ID == uuid.Nil {
		m.ID = store.GenNewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	cp := *m
	cp.MediaKinds = append([]store.MediaKind(nil), m.MediaKinds...)
	s.messages[m.ThreadID] = append(s.messages[m.ThreadID], cp)
	return nil
}

func (s *Store) ListRecentMessages(_ context.Context, threadID uuid.UUID, limit int) ([]store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[threadID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]store.Message(nil), msgs...), nil
}

// --- HandoffStore ---

func (s *Store) GetHandoff(_ context.Context, threadID uuid.UUID) (*store.HandoffState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handoffs[threadID]
	if !ok {
		return &store.HandoffState{ThreadID: threadID}, nil
	}
	cp := *h
	return &cp, nil
}

func (s *Store) SetHandoff(_ context.Context, threadID uuid.UUID, handedOff bool, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[threadID]; !ok {
		return store.ErrNotFound
	}
	s.handoffs[threadID] = &store.HandoffState{
		ThreadID:  threadID,
		HandedOff: handedOff,
		Actor:     actor,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

// --- ConnectionStore ---

func (s *Store) GetConnection(_ context.Context, id uuid.UUID) (*store.ExternalConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connections[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListConnections(_ context.Context) ([]store.ExternalConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.ExternalConnection, 0, len(s.connections))
	for _, c := range s.connections {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateConnection(_ context.Context, c *store.ExternalConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = store.GenNewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	cp := *c
	s.connections[c.ID] = &cp
	return nil
}

func (s *Store) FindContactLink(_ context.Context, tenantID, connectionID uuid.UUID, externalChatID string) (*store.ExternalContactLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.links[linkKey{tenantID, connectionID, externalChatID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *Store) GetContactLinkByThread(_ context.Context, threadID uuid.UUID) (*store.ExternalContactLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.links {
		if l.ThreadID == threadID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpsertContactLink(_ context.Context, link *store.ExternalContactLink) (*store.ExternalContactLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := linkKey{link.TenantID, link.ConnectionID, link.ExternalChatID}
	now := time.Now().UTC()
	if existing, ok := s.links[key]; ok {
		if link.LastActivityAt.After(existing.LastActivityAt) {
			existing.LastActivityAt = link.LastActivityAt
		}
		cp := *existing
		return &cp, nil
	}
	cp := *link
	if cp.ID == uuid.Nil {
		cp.ID = store.GenNewID()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.LastActivityAt.IsZero() {
		cp.LastActivityAt = now
	}
	s.links[key] = &cp
	out := cp
	return &out, nil
}

func (s *Store) TouchContactLink(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.links {
		if l.ID == id {
			if at.After(l.LastActivityAt) {
				l.LastActivityAt = at
			}
			return nil
		}
	}
	return store.ErrNotFound
}

// LinkCount returns the number of stored contact links.
func (s *Store) LinkCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.links)
}

// --- ActivityStore ---

func (s *Store) AppendActivity(_ context.Context, e *store.ActivityLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = store.GenNewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.activity = append(s.activity, *e)
	return nil
}

func (s *Store) ListActivity(_ context.Context, tenantID uuid.UUID, limit int) ([]store.ActivityLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.ActivityLogEntry
	for i := len(s.activity) - 1; i >= 0; i-- {
		if s.activity[i].TenantID != tenantID {
			continue
		}
		out = append(out, s.activity[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- UsageStore ---

// SetAutomatedReplyLimit caps automated replies for tenantID (0 = unlimited).
func (s *Store) SetAutomatedReplyLimit(tenantID uuid.UUID, limit int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usageFor(tenantID).limit = limit
}

// Usage returns the tenant's message and automated-reply counters.
func (s *Store) Usage(tenantID uuid.UUID) (messages, automatedReplies int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.usage[tenantID]
	if !ok {
		return 0, 0
	}
	return u.messages, u.automatedReplies
}

func (s *Store) usageFor(tenantID uuid.UUID) *usage {
	u, ok := s.usage[tenantID]
	if !ok {
		u = &usage{}
		s.usage[tenantID] = u
	}
	return u
}

func (s *Store) AutomatedReplyAllowed(_ context.Context, tenantID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.usage[tenantID]
	if !ok || u.limit == 0 {
		return true, nil
	}
	return u.automatedReplies < u.limit, nil
}

func (s *Store) IncrementUsage(_ context.Context, tenantID uuid.UUID, delta store.UsageDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.usageFor(tenantID)
	u.messages += int64(delta.Messages)
	u.automatedReplies += int64(delta.AutomatedReplies)
	return nil
}
