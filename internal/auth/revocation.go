package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RevocationRegistry tracks token identifiers (jti) that must be rejected
// before their natural expiry. Revoke is idempotent.
type RevocationRegistry interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// MemoryRegistry keeps revocations in process memory. Entries do not survive
// a restart and are not shared between instances; use RedisRegistry for that.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[string]time.Time)}
}

func (m *MemoryRegistry) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.entries[jti]; ok && !expiresAt.After(current) {
		return nil
	}
	m.entries[jti] = expiresAt
	return nil
}

func (m *MemoryRegistry) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[jti]
	return ok, nil
}

// Purge drops entries whose token has already expired and returns how many were removed.
func (m *MemoryRegistry) Purge(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for jti, expiresAt := range m.entries {
		if !expiresAt.After(now) {
			delete(m.entries, jti)
			removed++
		}
	}
	return removed
}

func (m *MemoryRegistry) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// RedisRegistry stores revocations as keys that expire with the token.
type RedisRegistry struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client, now: time.Now}
}

func (r *RedisRegistry) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, revokedKey(jti), "1", ttl).Err()
}

func (r *RedisRegistry) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func revokedKey(jti string) string {
	return "records:revoked:" + jti
}
