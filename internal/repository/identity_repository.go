package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/attendance-dashboard/internal/models"
	appErrors "github.com/noah-isme/attendance-dashboard/pkg/errors"
)

// RedisIdentityRepository keeps signed-in identities in Redis, the gateway's
// counterpart of browser session storage.
type RedisIdentityRepository struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisIdentityRepository constructs a Redis backed identity repository.
func NewRedisIdentityRepository(client *redis.Client, prefix string, logger *zap.Logger) *RedisIdentityRepository {
	if prefix == "" {
		prefix = "dash:identity"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisIdentityRepository{client: client, prefix: prefix, logger: logger}
}

func (r *RedisIdentityRepository) key(id string) string {
	return r.prefix + ":" + id
}

// Get loads the identity stored under key.
func (r *RedisIdentityRepository) Get(ctx context.Context, key string) (*models.Identity, error) {
	if r.client == nil {
		return nil, appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, appErrors.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get identity %s: %w", key, err)
	}

	var identity models.Identity
	if err := json.Unmarshal(raw, &identity); err != nil {
		return nil, fmt.Errorf("unmarshal identity %s: %w", key, err)
	}
	return &identity, nil
}

// Set stores the identity with the given TTL.
func (r *RedisIdentityRepository) Set(ctx context.Context, key string, identity models.Identity, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("marshal identity %s: %w", key, err)
	}
	if err := r.client.Set(ctx, r.key(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set identity %s: %w", key, err)
	}
	return nil
}

// Delete removes the identity stored under key.
func (r *RedisIdentityRepository) Delete(ctx context.Context, key string) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete identity %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying Redis connection if present.
func (r *RedisIdentityRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

type memoryIdentity struct {
	identity  models.Identity
	expiresAt time.Time
}

// MemoryIdentityRepository is the process-local identity store used when Redis is disabled.
type MemoryIdentityRepository struct {
	mu      sync.Mutex
	entries map[string]memoryIdentity
	now     func() time.Time
}

// NewMemoryIdentityRepository returns an empty in-memory repository.
func NewMemoryIdentityRepository() *MemoryIdentityRepository {
	return &MemoryIdentityRepository{entries: make(map[string]memoryIdentity), now: time.Now}
}

// Get loads the identity stored under key, honouring expiry.
func (r *MemoryIdentityRepository) Get(_ context.Context, key string) (*models.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[key]
	if !ok {
		return nil, appErrors.ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && !r.now().Before(entry.expiresAt) {
		delete(r.entries, key)
		return nil, appErrors.ErrCacheMiss
	}
	identity := entry.identity
	return &identity, nil
}

// Set stores the identity. A non-positive TTL never expires.
func (r *MemoryIdentityRepository) Set(_ context.Context, key string, identity models.Identity, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := memoryIdentity{identity: identity}
	if ttl > 0 {
		entry.expiresAt = r.now().Add(ttl)
	}
	r.entries[key] = entry
	return nil
}

// Delete removes the identity stored under key.
func (r *MemoryIdentityRepository) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
	return nil
}
