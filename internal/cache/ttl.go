package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// entry is the persisted form of a cached value. FetchedAt is Unix milliseconds.
type entry[T any] struct {
	Value     T     `json:"value"`
	FetchedAt int64 `json:"fetchedAt"`
}

// TTL caches one value per scope in memory and in a Store.
// A value is fresh while now - fetchedAt < ttl.
type TTL[T any] struct {
	key   string
	ttl   time.Duration
	store Store
	now   func() time.Time

	mu     sync.Mutex
	memory map[string]entry[T]
}

// NewTTL creates a TTL cache. A nil store keeps values in memory only and a nil
// clock uses time.Now.
func NewTTL[T any](key string, ttl time.Duration, store Store, now func() time.Time) *TTL[T] {
	if now == nil {
		now = time.Now
	}
	return &TTL[T]{
		key:    key,
		ttl:    ttl,
		store:  store,
		now:    now,
		memory: make(map[string]entry[T]),
	}
}

func (c *TTL[T]) fresh(fetchedAt int64) bool {
	return c.now().UnixMilli()-fetchedAt < c.ttl.Milliseconds()
}

// Get returns the cached value for scope when it is fresh. Store failures and
// corrupt entries count as misses.
func (c *TTL[T]) Get(ctx context.Context, scope string) (T, bool) {
	var zero T

	c.mu.Lock()
	e, ok := c.memory[scope]
	c.mu.Unlock()
	if ok && c.fresh(e.FetchedAt) {
		return e.Value, true
	}

	if c.store == nil {
		return zero, false
	}

	raw, ok, err := c.store.Get(ctx, scopedKey(c.key, scope))
	if err != nil || !ok {
		return zero, false
	}

	var stored entry[T]
	if err := json.Unmarshal(raw, &stored); err != nil || stored.FetchedAt == 0 {
		return zero, false
	}
	if !c.fresh(stored.FetchedAt) {
		return zero, false
	}

	// Promote to memory
	c.mu.Lock()
	c.memory[scope] = stored
	c.mu.Unlock()
	return stored.Value, true
}

// Put stores value for scope, stamped with the current time
func (c *TTL[T]) Put(ctx context.Context, scope string, value T) error {
	e := entry[T]{Value: value, FetchedAt: c.now().UnixMilli()}

	c.mu.Lock()
	c.memory[scope] = e
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}

	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, scopedKey(c.key, scope), raw)
}

// Invalidate drops the value for scope from both levels
func (c *TTL[T]) Invalidate(ctx context.Context, scope string) error {
	c.mu.Lock()
	delete(c.memory, scope)
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	return c.store.Delete(ctx, scopedKey(c.key, scope))
}
