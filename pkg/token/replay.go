package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard records spent token ids with TTL eviction so a deployment
// can opt into single-use enforcement even though spec.md §4.5 leaves
// replay prevention to the downstream executor by default. Nil is a
// valid, always-permissive ReplayGuard.
type ReplayGuard struct {
	backend replayBackend
}

type replayBackend interface {
	markSpent(ctx context.Context, tokenID string, ttl time.Duration) (firstUse bool, err error)
}

// NewMemoryReplayGuard returns a ReplayGuard backed by an in-process map,
// suitable for a single-node deployment or tests. Entries are evicted
// lazily on access once their TTL has elapsed.
func NewMemoryReplayGuard() *ReplayGuard {
	return &ReplayGuard{backend: &memoryReplayBackend{spent: make(map[string]time.Time)}}
}

// NewRedisReplayGuard returns a ReplayGuard backed by Redis, so the spent
// set is shared across every node issuing or checking tokens. Grounded on
// teacher pkg/kernel/limiter_redis.go's use of go-redis for shared,
// TTL-bounded counters.
func NewRedisReplayGuard(client *redis.Client) *ReplayGuard {
	return &ReplayGuard{backend: &redisReplayBackend{client: client}}
}

// MarkSpent records tokenID as used, returning true if this is the first
// time it has been seen within ttl (normally the token's remaining TTL).
// A nil ReplayGuard always reports firstUse=true.
func (g *ReplayGuard) MarkSpent(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	if g == nil {
		return true, nil
	}
	return g.backend.markSpent(ctx, tokenID, ttl)
}

type memoryReplayBackend struct {
	mu    sync.Mutex
	spent map[string]time.Time
}

func (b *memoryReplayBackend) markSpent(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	if expiry, ok := b.spent[tokenID]; ok && now.Before(expiry) {
		return false, nil
	}
	b.spent[tokenID] = now.Add(ttl)
	for id, expiry := range b.spent {
		if now.After(expiry) {
			delete(b.spent, id)
		}
	}
	return true, nil
}

type redisReplayBackend struct {
	client *redis.Client
}

func (b *redisReplayBackend) markSpent(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, "token:spent:"+tokenID, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("token: replay guard: %w", err)
	}
	return ok, nil
}
