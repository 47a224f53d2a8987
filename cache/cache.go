// Package cache provides the shared cache for retrieval results, isolated
// tool outputs, conversation summaries, and classifier memoization.
//
// The cache is namespaced by key prefix and degrades gracefully: when no
// Redis endpoint is configured, or when a Redis operation fails, entries are
// served from a bounded in-process map instead. Cached data is always
// reconstructable, so losing either tier costs latency, not correctness.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"dealgraph.org/common"
)

// Key namespaces. Keys embed the tenant group id so cross-tenant reads are
// structurally impossible.
const (
	NSRetrieval  = "cache:retrieval:"
	NSTool       = "cache:tool:"
	NSSummary    = "cache:summary:"
	NSClassifier = "cache:classifier:"
)

// Default TTLs per namespace.
const (
	TTLRetrieval  = 5 * time.Minute
	TTLTool       = 30 * time.Minute
	TTLSummary    = 24 * time.Hour
	TTLClassifier = time.Hour
)

// RetrievalKey builds the cache key for a retrieval result.
func RetrievalKey(groupID, queryHash string) string {
	return NSRetrieval + groupID + ":" + queryHash
}

// ToolKey builds the cache key for an isolated tool result.
func ToolKey(resultID string) string {
	return NSTool + resultID
}

// SummaryKey builds the cache key for a conversation summary.
func SummaryKey(conversationID string) string {
	return NSSummary + conversationID
}

// ClassifierKey builds the memoization key for an intent classification.
func ClassifierKey(groupID, queryHash string) string {
	return NSClassifier + groupID + ":" + queryHash
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is a two-tier cache: Redis when reachable, in-process map otherwise.
type Cache struct {
	rdb *redis.Client

	mu      sync.RWMutex
	mem     map[string]memoryEntry
	memCap  int
	nowFunc func() time.Time
}

// New connects to Redis at the given URL. An empty URL yields a memory-only
// cache; a connection failure is logged and also falls back to memory.
func New(ctx context.Context, url, token string) *Cache {
	c := &Cache{
		mem:     make(map[string]memoryEntry),
		memCap:  10000,
		nowFunc: time.Now,
	}
	if url == "" {
		common.Logger.Info("cache: no redis configured, using in-memory only")
		return c
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		common.Logger.WithError(err).Warn("cache: invalid redis url, using in-memory only")
		return c
	}
	if token != "" {
		opts.Password = token
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		common.Logger.WithError(err).Warn("cache: redis unreachable, using in-memory only")
		_ = rdb.Close()
		return c
	}
	c.rdb = rdb
	return c
}

// NewWithClient wraps an existing Redis client. Used by tests with miniredis.
func NewWithClient(rdb *redis.Client) *Cache {
	return &Cache{
		rdb:     rdb,
		mem:     make(map[string]memoryEntry),
		memCap:  10000,
		nowFunc: time.Now,
	}
}

// Get returns the cached value and whether it was present.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.rdb != nil {
		val, err := c.rdb.Get(ctx, key).Bytes()
		if err == nil {
			return val, true
		}
		if err != redis.Nil {
			common.Logger.WithError(err).WithField("key", key).Debug("cache: redis get failed")
		} else {
			return nil, false
		}
	}
	return c.memGet(key)
}

// Set stores the value with the given TTL in both tiers.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if c.rdb != nil {
		if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
			common.Logger.WithError(err).WithField("key", key).Debug("cache: redis set failed")
			c.memSet(key, value, ttl)
		}
		return
	}
	c.memSet(key, value, ttl)
}

// Delete removes a single key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c.rdb != nil {
		if err := c.rdb.Del(ctx, key).Err(); err != nil {
			common.Logger.WithError(err).WithField("key", key).Debug("cache: redis del failed")
		}
	}
	c.mu.Lock()
	delete(c.mem, key)
	c.mu.Unlock()
}

// DeletePrefix removes every key under the given prefix. Used when a deal's
// knowledge changes and its retrieval results must be dropped.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) int {
	deleted := 0
	if c.rdb != nil {
		iter := c.rdb.Scan(ctx, 0, prefix+"*", 200).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			common.Logger.WithError(err).WithField("prefix", prefix).Warn("cache: scan failed")
		}
		if len(keys) > 0 {
			if n, err := c.rdb.Del(ctx, keys...).Result(); err == nil {
				deleted += int(n)
			}
		}
	}
	c.mu.Lock()
	for k := range c.mem {
		if strings.HasPrefix(k, prefix) {
			delete(c.mem, k)
			deleted++
		}
	}
	c.mu.Unlock()
	return deleted
}

// Close releases the Redis connection if one exists.
func (c *Cache) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}

func (c *Cache) memGet(key string) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.mem[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.nowFunc().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.mem, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

func (c *Cache) memSet(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Crude bound: drop expired entries first, then refuse growth beyond cap.
	if len(c.mem) >= c.memCap {
		now := c.nowFunc()
		for k, e := range c.mem {
			if now.After(e.expiresAt) {
				delete(c.mem, k)
			}
		}
		if len(c.mem) >= c.memCap {
			return
		}
	}
	c.mem[key] = memoryEntry{value: value, expiresAt: c.nowFunc().Add(ttl)}
}
