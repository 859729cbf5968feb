package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStoreConfig configures a MemoryStore.
type MemoryStoreConfig struct {
	// MaxKeys caps tracked keys; idle keys are collected when reached (default: 100000).
	MaxKeys int
}

type memoryEntry struct {
	mu sync.Mutex
	c  counters
}

// MemoryStore keeps counters in process. Each key has its own lock so bursts
// on one key never serialize unrelated keys.
type MemoryStore struct {
	mu      sync.Mutex
	data    map[string]*memoryEntry
	maxKeys int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(cfg MemoryStoreConfig) *MemoryStore {
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 100000
	}
	return &MemoryStore{
		data:    make(map[string]*memoryEntry),
		maxKeys: cfg.MaxKeys,
	}
}

// Consume implements Store.
func (m *MemoryStore) Consume(_ context.Context, key string, limits Limits, now time.Time) (Decision, error) {
	entry, err := m.entry(key, now)
	if err != nil {
		return Decision{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.c.consume(limits, now), nil
}

func (m *MemoryStore) entry(key string, now time.Time) (*memoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.data[key]; ok {
		return e, nil
	}
	if len(m.data) >= m.maxKeys {
		m.gc(now)
	}
	if len(m.data) >= m.maxKeys {
		return nil, errors.New("rate limiter capacity exceeded")
	}
	e := &memoryEntry{}
	m.data[key] = e
	return e, nil
}

// gc drops keys whose day window has ended. Entries that have not consumed
// yet have no window and are kept. Caller holds m.mu.
func (m *MemoryStore) gc(now time.Time) {
	for key, e := range m.data {
		if !e.mu.TryLock() {
			continue
		}
		idle := !e.c.DayStart.IsZero() && !now.Before(e.c.DayStart.Add(DayWindow))
		e.mu.Unlock()
		if idle {
			delete(m.data, key)
		}
	}
}
