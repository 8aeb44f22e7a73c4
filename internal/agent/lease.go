package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrLeaseHeld is returned by Acquire while another run holds the thread.
	ErrLeaseHeld = errors.New("thread lease held by an in-flight run")
	// ErrCoolingDown is returned by Acquire within the cooldown after a release.
	ErrCoolingDown = errors.New("thread cooling down after a run")
)

// LeaseManager grants single-flight, per-thread run leases.
type LeaseManager interface {
	// Acquire takes the thread's lease or fails with ErrLeaseHeld / ErrCoolingDown.
	Acquire(ctx context.Context, threadID uuid.UUID) (*Lease, error)
	// Active reports whether a run currently holds the thread's lease.
	Active(ctx context.Context, threadID uuid.UUID) bool
}

// Lease is an exclusive right to run automation on one thread. It expires on its
// own after the manager's TTL if never released.
type Lease struct {
	ThreadID  uuid.UUID
	Token     string
	ExpiresAt time.Time

	once    sync.Once
	release func()
}

// Release ends the lease and starts the thread's cooldown. Safe to call more than once.
func (l *Lease) Release() {
	if l == nil || l.release == nil {
		return
	}
	l.once.Do(l.release)
}

// LeaseConfig configures lease lifetimes.
type LeaseConfig struct {
	TTL      time.Duration
	Cooldown time.Duration
}

// DefaultLeaseConfig returns a 2 minute TTL and a 3 second cooldown.
func DefaultLeaseConfig() LeaseConfig {
	return LeaseConfig{TTL: 2 * time.Minute, Cooldown: 3 * time.Second}
}

func (c LeaseConfig) withDefaults() LeaseConfig {
	d := DefaultLeaseConfig()
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.Cooldown < 0 {
		c.Cooldown = d.Cooldown
	}
	return c
}

type memLease struct {
	token   string
	expires time.Time
}

// MemoryLeaseManager keeps leases in process memory.
type MemoryLeaseManager struct {
	cfg LeaseConfig
	now func() time.Time

	mu        sync.Mutex
	leases    map[uuid.UUID]memLease
	cooldowns map[uuid.UUID]time.Time
}

func NewMemoryLeaseManager(cfg LeaseConfig) *MemoryLeaseManager {
	return &MemoryLeaseManager{
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		leases:    make(map[uuid.UUID]memLease),
		cooldowns: make(map[uuid.UUID]time.Time),
	}
}

func (m *MemoryLeaseManager) Acquire(_ context.Context, threadID uuid.UUID) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, ok := m.leases[threadID]; ok {
		if now.Before(l.expires) {
			return nil, ErrLeaseHeld
		}
		delete(m.leases, threadID)
	}
	if until, ok := m.cooldowns[threadID]; ok {
		if now.Before(until) {
			return nil, ErrCoolingDown
		}
		delete(m.cooldowns, threadID)
	}

	entry := memLease{token: uuid.NewString(), expires: now.Add(m.cfg.TTL)}
	m.leases[threadID] = entry
	return &Lease{
		ThreadID:  threadID,
		Token:     entry.token,
		ExpiresAt: entry.expires,
		release:   func() { m.release(threadID, entry.token) },
	}, nil
}

func (m *MemoryLeaseManager) release(threadID uuid.UUID, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[threadID]; ok && l.token == token {
		delete(m.leases, threadID)
		if m.cfg.Cooldown > 0 {
			m.cooldowns[threadID] = m.now().Add(m.cfg.Cooldown)
		}
	}
}

func (m *MemoryLeaseManager) Active(_ context.Context, threadID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[threadID]
	return ok && m.now().Before(l.expires)
}

// Sweep drops expired leases and cooldowns and returns how many were removed.
func (m *MemoryLeaseManager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for id, l := range m.leases {
		if !now.Before(l.expires) {
			delete(m.leases, id)
			n++
		}
	}
	for id, until := range m.cooldowns {
		if !now.Before(until) {
			delete(m.cooldowns, id)
			n++
		}
	}
	return n
}
