// Package kv provides the shared state store the cache publishes into.
//
// The store is passed by reference to every component that needs it; there is
// no ambient global. Subscribers receive value snapshots over buffered
// channels and are expected to keep up; a slow subscriber loses intermediate
// snapshots, never the latest one retrievable via Get.
package kv

import (
	"sync"
)

// subscriberBuffer bounds how many undelivered snapshots a subscriber may
// lag behind before intermediate ones are dropped.
const subscriberBuffer = 16

// Store is a keyed snapshot store with change subscription.
type Store interface {
	// Get returns the current value for key.
	Get(key string) (any, bool)
	// Set stores value under key and fans it out to subscribers.
	Set(key string, value any)
	// Delete removes key. Subscribers are not notified of deletion.
	Delete(key string)
	// Subscribe returns a channel of value snapshots for key and a cancel
	// function. The current value, if any, is delivered immediately.
	Subscribe(key string) (<-chan any, func())
}

// MemoryStore is the in-memory Store implementation.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]any
	subs   map[string]map[int]chan any
	nextID int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]any),
		subs:   make(map[string]map[int]chan any),
	}
}

func (m *MemoryStore) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryStore) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value

	for _, ch := range m.subs[key] {
		select {
		case ch <- value:
		default:
			// Drop the oldest snapshot so the latest one always fits.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- value:
			default:
			}
		}
	}
}

func (m *MemoryStore) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
}

func (m *MemoryStore) Subscribe(key string) (<-chan any, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++

	ch := make(chan any, subscriberBuffer)
	if m.subs[key] == nil {
		m.subs[key] = make(map[int]chan any)
	}
	m.subs[key][id] = ch

	if v, ok := m.values[key]; ok {
		ch <- v
	}

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		if sub, ok := m.subs[key][id]; ok {
			delete(m.subs[key], id)
			close(sub)
		}
	}

	return ch, cancel
}
