package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	completenessKeyPrefix  = "healme:session:complete:"
	defaultCompletenessTTL = 30 * 24 * time.Hour
)

// CacheEntry records a subject whose registration was found complete.
// Only complete results are cached; absence is always re-checked.
type CacheEntry struct {
	DisplayName string    `json:"displayName"`
	MarkedAt    time.Time `json:"markedAt"`
}

// CompletenessCache persists registration completeness per subject id.
type CompletenessCache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, subjectID string) (*CacheEntry, error)
	MarkComplete(ctx context.Context, subjectID, displayName string) error
	Invalidate(ctx context.Context, subjectID string) error
}

// RedisCache stores completeness entries in Redis with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ CompletenessCache = (*RedisCache)(nil)

// NewRedisCache builds a cache over the client. A non-positive ttl uses 30 days.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultCompletenessTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func completenessKey(subjectID string) string {
	return completenessKeyPrefix + subjectID
}

func (c *RedisCache) Get(ctx context.Context, subjectID string) (*CacheEntry, error) {
	data, err := c.client.Get(ctx, completenessKey(subjectID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: load completeness: %w", err)
	}
	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("session: decode completeness: %w", err)
	}
	return &entry, nil
}

func (c *RedisCache) MarkComplete(ctx context.Context, subjectID, displayName string) error {
	data, err := json.Marshal(CacheEntry{DisplayName: displayName, MarkedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("session: encode completeness: %w", err)
	}
	if err := c.client.Set(ctx, completenessKey(subjectID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("session: store completeness: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, subjectID string) error {
	if err := c.client.Del(ctx, completenessKey(subjectID)).Err(); err != nil {
		return fmt.Errorf("session: invalidate completeness: %w", err)
	}
	return nil
}

// MemoryCache is an in-process CompletenessCache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
}

var _ CompletenessCache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]CacheEntry{}}
}

func (c *MemoryCache) Get(_ context.Context, subjectID string) (*CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[subjectID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (c *MemoryCache) MarkComplete(_ context.Context, subjectID, displayName string) error {
	c.mu.Lock()
	c.entries[subjectID] = CacheEntry{DisplayName: displayName, MarkedAt: time.Now().UTC()}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, subjectID string) error {
	c.mu.Lock()
	delete(c.entries, subjectID)
	c.mu.Unlock()
	return nil
}
