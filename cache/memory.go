package cache

import (
	"context"
	"sync"
	"time"
)

const janitorInterval = time.Minute

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// Memory is an in-process Cache with periodic expiry cleanup.
type Memory struct {
	mu      sync.RWMutex
	items   map[string]memoryEntry
	stop    chan struct{}
	stopped sync.Once
}

// NewMemory creates an in-process cache and starts its janitor goroutine.
func NewMemory() *Memory {
	m := &Memory{
		items: make(map[string]memoryEntry),
		stop:  make(chan struct{}),
	}
	go m.janitor()
	return m
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	entry, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.items, key)
		m.mu.Unlock()
		return nil, false, nil
	}
	return entry.data, true, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{data: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.items[key] = entry
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error {
	m.stopped.Do(func() {
		close(m.stop)
	})
	return nil
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for k, v := range m.items {
				if !v.expiresAt.IsZero() && now.After(v.expiresAt) {
					delete(m.items, k)
				}
			}
			m.mu.Unlock()
		}
	}
}
