package kv

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ShopCurated/curator-go/internal/infrastructure/scheduling"
)

type memoryEntry struct {
	value     string
	updatedAt time.Time
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is the session scope: an in-process map with per-entry TTLs.
// It also satisfies Store so tests can run the persistent scope in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	clock   scheduling.Clock
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty session-scope store on the given clock.
func NewMemoryStore(clock scheduling.Clock) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		clock:   clock,
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && !m.clock.Now().Before(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return "", false, nil
	}
	return entry.value, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, updatedAt: m.clock.Now()}
	return nil
}

// SetWithTTL stores a value that expires ttl from now.
func (m *MemoryStore) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, updatedAt: now, expiresAt: now.Add(ttl)}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) DeleteOlderThan(_ context.Context, prefix string, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, entry := range m.entries {
		if strings.HasPrefix(key, prefix) && entry.updatedAt.Before(cutoff) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Sweep drops expired entries and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.entries {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of live entries, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
