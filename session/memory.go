package session

import (
	"context"
	"sync"
)

// MemoryStorage is an in-process Storage. Two stores sharing one
// MemoryStorage behave like two tabs sharing one origin, which is exactly
// how the cross-tab logout tests use it.
type MemoryStorage struct {
	mu       sync.Mutex
	values   map[string]string
	watchers map[string][]chan string
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		values:   make(map[string]string),
		watchers: make(map[string][]chan string),
	}
}

func (m *MemoryStorage) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *MemoryStorage) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	// Sends happen under the lock, the same lock Watch closes channels
	// under, so a send can never race a close. A watcher that has fallen
	// behind loses intermediate values, not the stream itself.
	for _, ch := range m.watchers[key] {
		select {
		case ch <- value:
		default:
		}
	}
	return nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *MemoryStorage) Watch(ctx context.Context, key string) (<-chan string, error) {
	ch := make(chan string, 8)
	m.mu.Lock()
	m.watchers[key] = append(m.watchers[key], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		ws := m.watchers[key]
		for i, w := range ws {
			if w == ch {
				m.watchers[key] = append(ws[:i], ws[i+1:]...)
				break
			}
		}
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}
