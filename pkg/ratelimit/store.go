package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyRemaining  = "lemana:rate_limit:remaining"
	RedisKeyResetAt    = "lemana:rate_limit:reset_at"
	RedisKeyObservedAt = "lemana:rate_limit:observed_at"
)

// redisStateGrace keeps a stored state around a little past its reset time.
const redisStateGrace = time.Minute

// Store persists the last observed rate limit state.
// Load returns a nil state when nothing has been stored.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state State) error
}

// MemoryStore keeps state for the lifetime of the process.
type MemoryStore struct {
	mu    sync.Mutex
	state *State
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, nil
	}
	s := *m.state
	return &s, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &state
	return nil
}

// RedisStore shares rate limit state between runs through Redis, so a resumed
// scrape knows whether the previous run left the window exhausted.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{redis: redisClient}
}

// Load implements Store.
func (r *RedisStore) Load(ctx context.Context) (*State, error) {
	remaining, err := r.redis.Get(ctx, RedisKeyRemaining).Int()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get remaining: %w", err)
	}

	resetAtMillis, err := r.redis.Get(ctx, RedisKeyResetAt).Int64()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	observedAtMillis, err := r.redis.Get(ctx, RedisKeyObservedAt).Int64()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get observed timestamp: %w", err)
	}

	observedAt := time.UnixMilli(observedAtMillis)
	return &State{
		Remaining:  remaining,
		ResetIn:    time.UnixMilli(resetAtMillis).Sub(observedAt),
		ObservedAt: observedAt,
	}, nil
}

// Save implements Store. Keys expire shortly after the window resets.
func (r *RedisStore) Save(ctx context.Context, state State) error {
	ttl := state.ResetIn + redisStateGrace

	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, RedisKeyRemaining, strconv.Itoa(state.Remaining), ttl)
	pipe.Set(ctx, RedisKeyResetAt, state.ResetAt().UnixMilli(), ttl)
	pipe.Set(ctx, RedisKeyObservedAt, state.ObservedAt.UnixMilli(), ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}
