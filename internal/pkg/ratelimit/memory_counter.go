package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter is a process-local Counter for single-node deployments and
// tests. Buckets older than two windows are dropped on access.
type MemoryCounter struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
}

type memoryBucket struct {
	windowStart time.Time
	current     int64
	previous    int64
}

// NewMemoryCounter creates an empty in-process counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{buckets: make(map[string]*memoryBucket)}
}

func (c *MemoryCounter) Incr(_ context.Context, key string, windowStart time.Time, window time.Duration) (int64, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.buckets[key]
	if !ok {
		b = &memoryBucket{windowStart: windowStart}
		c.buckets[key] = b
	}

	switch {
	case b.windowStart.Equal(windowStart):
		// same bucket
	case b.windowStart.Equal(windowStart.Add(-window)):
		b.previous = b.current
		b.current = 0
		b.windowStart = windowStart
	default:
		// bucket is stale by more than one window
		b.previous = 0
		b.current = 0
		b.windowStart = windowStart
	}

	b.current++
	return b.current, b.previous, nil
}
