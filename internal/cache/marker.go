package cache

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// AttemptMarker records that an operation started recently. The marker expires
// after ttl so a crashed attempt cannot block retries forever.
type AttemptMarker struct {
	key   string
	ttl   time.Duration
	store Store
	now   func() time.Time
}

// NewAttemptMarker creates a marker persisted in store
func NewAttemptMarker(key string, ttl time.Duration, store Store, now func() time.Time) *AttemptMarker {
	if now == nil {
		now = time.Now
	}
	return &AttemptMarker{key: key, ttl: ttl, store: store, now: now}
}

// InProgress reports whether a fresh marker exists for scope.
// Unparsable and expired markers are removed.
func (m *AttemptMarker) InProgress(ctx context.Context, scope string) (bool, error) {
	key := scopedKey(m.key, scope)

	raw, ok, err := m.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	startedAt, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return false, m.store.Delete(ctx, key)
	}

	if m.now().UnixMilli()-startedAt >= m.ttl.Milliseconds() {
		return false, m.store.Delete(ctx, key)
	}
	return true, nil
}

// Mark records an attempt starting now
func (m *AttemptMarker) Mark(ctx context.Context, scope string) error {
	stamp := strconv.FormatInt(m.now().UnixMilli(), 10)
	return m.store.Set(ctx, scopedKey(m.key, scope), []byte(stamp))
}

// Clear removes the marker for scope
func (m *AttemptMarker) Clear(ctx context.Context, scope string) error {
	return m.store.Delete(ctx, scopedKey(m.key, scope))
}
