// Package audiocache memoizes rendered audio artifacts by canonical key.
// Generation is deduplicated: one caller runs the generator per key while
// concurrent callers for the same key wait on that attempt's outcome.
package audiocache

import (
	"context"
	"sync"
)

// Generator produces the artifact bytes for a key on first use.
type Generator func(ctx context.Context) ([]byte, error)

type entry struct {
	done chan struct{}
	data []byte
	err  error
}

// Cache is an in-memory key to artifact table with in-flight
// deduplication. Failed generations are evicted so a later request may
// retry; successes are kept for the life of the process.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{mu: sync.Mutex{}, entries: make(map[string]*entry)}
}

// Get returns the artifact for key, running generate at most once per key
// at a time. Waiters abandon the wait when ctx is done; the in-flight
// generation itself keeps running for the remaining callers.
func (c *Cache) Get(ctx context.Context, key string, generate Generator) ([]byte, error) {
	c.mu.Lock()

	if existing, ok := c.entries[key]; ok {
		c.mu.Unlock()

		select {
		case <-existing.done:
			return existing.data, existing.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	owned := &entry{done: make(chan struct{}), data: nil, err: nil}
	c.entries[key] = owned
	c.mu.Unlock()

	data, err := generate(ctx)

	c.mu.Lock()
	owned.data = data
	owned.err = err

	if err != nil {
		delete(c.entries, key)
	}

	close(owned.done)
	c.mu.Unlock()

	return data, err
}
