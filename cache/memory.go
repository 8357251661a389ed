package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultMaxEntries bounds the in-memory cache when no limit is given.
const DefaultMaxEntries = 512

// Memory is an in-process Cache with TTL expiry and LRU eviction.
// A single mutex guards both the index and the recency list, so reads
// also serialize; the hot path is short enough that this has not shown
// up in profiles. Expired entries are dropped lazily on access and by
// eviction when the cache is full.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front = most recently used
	maxEntries int

	// now is replaceable in tests.
	now func() time.Time
}

type memoryEntry struct {
	key       string
	data      []byte
	expiresAt time.Time // zero means no expiry
}

// NewMemory returns a Memory cache holding at most maxEntries entries.
// A non-positive maxEntries falls back to DefaultMaxEntries.
func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Memory{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns a copy of the entry for key. Expired entries are removed
// and reported as a miss.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	entry := elem.Value.(*memoryEntry)
	if m.expired(entry) {
		m.removeLocked(elem)
		return nil, false, nil
	}
	m.order.MoveToFront(elem)

	out := make([]byte, len(entry.data))
	copy(out, entry.data)
	return out, true, nil
}

// Set stores a copy of data under key. When the cache is full the least
// recently used entry is evicted.
func (m *Memory) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	stored := make([]byte, len(data))
	copy(stored, data)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.data = stored
		entry.expiresAt = expiresAt
		m.order.MoveToFront(elem)
		return nil
	}

	elem := m.order.PushFront(&memoryEntry{key: key, data: stored, expiresAt: expiresAt})
	m.entries[key] = elem

	for m.order.Len() > m.maxEntries {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		m.removeLocked(oldest)
	}
	return nil
}

// Delete removes the entry for key, if present.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.entries[key]; ok {
		m.removeLocked(elem)
	}
	return nil
}

// Flush removes all entries.
func (m *Memory) Flush(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*list.Element)
	m.order.Init()
	return nil
}

// Len reports the number of entries currently held, including entries
// that have expired but not yet been dropped.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *Memory) expired(entry *memoryEntry) bool {
	return !entry.expiresAt.IsZero() && m.now().After(entry.expiresAt)
}

func (m *Memory) removeLocked(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	delete(m.entries, entry.key)
	m.order.Remove(elem)
}
