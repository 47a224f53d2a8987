package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewWithClient(rdb)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestCacheSetGet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	key := RetrievalKey("org1:deal1", "abc123")
	c.Set(ctx, key, []byte(`{"results":[]}`), TTLRetrieval)

	val, ok := c.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, `{"results":[]}`, string(val))

	_, ok = c.Get(ctx, RetrievalKey("org1:deal1", "other"))
	assert.False(t, ok)
}

func TestCacheTTLExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, ToolKey("result-1"), []byte("payload"), TTLTool)
	mr.FastForward(TTLTool + time.Second)

	_, ok := c.Get(ctx, ToolKey("result-1"))
	assert.False(t, ok)
}

func TestCacheDeletePrefix(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, RetrievalKey("org1:deal1", "q1"), []byte("a"), TTLRetrieval)
	c.Set(ctx, RetrievalKey("org1:deal1", "q2"), []byte("b"), TTLRetrieval)
	c.Set(ctx, RetrievalKey("org1:deal2", "q1"), []byte("c"), TTLRetrieval)

	n := c.DeletePrefix(ctx, NSRetrieval+"org1:deal1:")
	assert.Equal(t, 2, n)

	_, ok := c.Get(ctx, RetrievalKey("org1:deal1", "q1"))
	assert.False(t, ok)
	_, ok = c.Get(ctx, RetrievalKey("org1:deal2", "q1"))
	assert.True(t, ok)
}

func TestCacheMemoryFallback(t *testing.T) {
	// No redis client at all: everything runs on the in-process tier.
	c := &Cache{mem: map[string]memoryEntry{}, memCap: 10, nowFunc: time.Now}
	ctx := context.Background()

	c.Set(ctx, SummaryKey("conv-1"), []byte("summary"), TTLSummary)
	val, ok := c.Get(ctx, SummaryKey("conv-1"))
	require.True(t, ok)
	assert.Equal(t, "summary", string(val))

	c.Delete(ctx, SummaryKey("conv-1"))
	_, ok = c.Get(ctx, SummaryKey("conv-1"))
	assert.False(t, ok)
}

func TestCacheMemoryExpiry(t *testing.T) {
	now := time.Now()
	c := &Cache{mem: map[string]memoryEntry{}, memCap: 10, nowFunc: func() time.Time { return now }}
	ctx := context.Background()

	c.Set(ctx, ClassifierKey("org1:deal1", "h"), []byte("simple"), time.Minute)
	now = now.Add(2 * time.Minute)

	_, ok := c.Get(ctx, ClassifierKey("org1:deal1", "h"))
	assert.False(t, ok)
}
