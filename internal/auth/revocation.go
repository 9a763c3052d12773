package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const revocationKeyPrefix = "botdeploy:revoked:"

// RevocationList remembers token ids that were logged out before expiry.
type RevocationList interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// RedisRevocationList stores revoked ids as expiring redis keys.
type RedisRevocationList struct {
	client redis.UniversalClient
}

// NewRedisRevocationList wraps an existing redis client.
func NewRedisRevocationList(client redis.UniversalClient) *RedisRevocationList {
	return &RedisRevocationList{client: client}
}

// Revoke records the id until the token would have expired anyway.
func (list *RedisRevocationList) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := list.client.Set(ctx, revocationKeyPrefix+tokenID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether the id was revoked.
func (list *RedisRevocationList) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	exists, err := list.client.Exists(ctx, revocationKeyPrefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return exists > 0, nil
}

var _ RevocationList = (*RedisRevocationList)(nil)

// MemoryRevocationList keeps revoked ids in process; suitable for a single instance.
type MemoryRevocationList struct {
	mutex   sync.Mutex
	revoked map[string]time.Time
	nowFn   func() time.Time
}

// NewMemoryRevocationList builds an empty list.
func NewMemoryRevocationList(now func() time.Time) *MemoryRevocationList {
	if now == nil {
		now = time.Now
	}
	return &MemoryRevocationList{revoked: make(map[string]time.Time), nowFn: now}
}

// Revoke records the id until ttl elapses.
func (list *MemoryRevocationList) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	list.mutex.Lock()
	defer list.mutex.Unlock()
	now := list.nowFn()
	for id, expiresAt := range list.revoked {
		if !expiresAt.After(now) {
			delete(list.revoked, id)
		}
	}
	list.revoked[tokenID] = now.Add(ttl)
	return nil
}

// IsRevoked reports whether the id was revoked and has not aged out.
func (list *MemoryRevocationList) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	list.mutex.Lock()
	defer list.mutex.Unlock()
	expiresAt, ok := list.revoked[tokenID]
	if !ok {
		return false, nil
	}
	return expiresAt.After(list.nowFn()), nil
}

var _ RevocationList = (*MemoryRevocationList)(nil)
