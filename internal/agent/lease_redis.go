package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// acquireScript checks the cooldown and sets the lease in one step.
// Returns 0 when acquired, 1 while cooling down, 2 when another holder owns it.
var acquireScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return 1
end
if redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2]) then
	return 0
end
return 2
`)

// releaseScript deletes the lease only when the caller still owns it, then starts the cooldown.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
	if tonumber(ARGV[2]) > 0 then
		redis.call("SET", KEYS[2], "1", "PX", ARGV[2])
	end
	return 1
end
return 0
`)

// RedisLeaseManager shares leases across gateway replicas through Redis.
type RedisLeaseManager struct {
	client *redis.Client
	prefix string
	cfg    LeaseConfig
}

func NewRedisLeaseManager(client *redis.Client, prefix string, cfg LeaseConfig) *RedisLeaseManager {
	if prefix == "" {
		prefix = "goinbox:lease"
	}
	return &RedisLeaseManager{client: client, prefix: prefix, cfg: cfg.withDefaults()}
}

func (m *RedisLeaseManager) leaseKey(id uuid.UUID) string    { return m.prefix + ":run:" + id.String() }
func (m *RedisLeaseManager) cooldownKey(id uuid.UUID) string { return m.prefix + ":cool:" + id.String() }

func (m *RedisLeaseManager) Acquire(ctx context.Context, threadID uuid.UUID) (*Lease, error) {
	token := uuid.NewString()
	keys := []string{m.leaseKey(threadID), m.cooldownKey(threadID)}
	code, err := acquireScript.Run(ctx, m.client, keys, token, m.cfg.TTL.Milliseconds()).Int()
	if err != nil {
		return nil, err
	}
	switch code {
	case 1:
		return nil, ErrCoolingDown
	case 2:
		return nil, ErrLeaseHeld
	}

	return &Lease{
		ThreadID:  threadID,
		Token:     token,
		ExpiresAt: time.Now().Add(m.cfg.TTL),
		release:   func() { m.release(threadID, token) },
	}, nil
}

func (m *RedisLeaseManager) release(threadID uuid.UUID, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	keys := []string{m.leaseKey(threadID), m.cooldownKey(threadID)}
	if err := releaseScript.Run(ctx, m.client, keys, token, m.cfg.Cooldown.Milliseconds()).Err(); err != nil {
		// lease expires via TTL
		slog.Warn("lease.release_failed", "thread_id", threadID, "error", err)
	}
}

func (m *RedisLeaseManager) Active(ctx context.Context, threadID uuid.UUID) bool {
	n, err := m.client.Exists(ctx, m.leaseKey(threadID)).Result()
	if err != nil {
		slog.Warn("lease.active_check_failed", "thread_id", threadID, "error", err)
		return false
	}
	return n > 0
}
