package cache

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryStore is a process-local Store for single-instance deployments and
// tests.
type MemoryStore struct {
	entries    *xsync.MapOf[string, memoryEntry]
	defaultTTL time.Duration
	now        func() time.Time
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore(defaultTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		entries:    xsync.NewMapOf[string, memoryEntry](),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	entry, ok := m.entries.Load(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if !entry.expires.IsZero() && m.now().After(entry.expires) {
		m.entries.Delete(key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), entry.value...), nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expires = m.now().Add(ttl)
	}
	m.entries.Store(key, entry)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		m.entries.Delete(key)
	}
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
