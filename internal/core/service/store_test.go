package service

import (
	"context"
	"fmt"
	"sync"
)

// mockStore is an in-memory Store that records the order of writes.
type mockStore struct {
	mu       sync.Mutex
	data     map[string]map[string][]byte
	ops      []string
	clearErr error
	setErr   error
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]map[string][]byte)}
}

func (m *mockStore) Get(ctx context.Context, partition, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[partition][key], nil
}

func (m *mockStore) Set(ctx context.Context, partition, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	if m.data[partition] == nil {
		m.data[partition] = make(map[string][]byte)
	}
	m.data[partition][key] = append([]byte(nil), value...)
	m.ops = append(m.ops, fmt.Sprintf("set %s/%s", partition, key))
	return nil
}

func (m *mockStore) Clear(ctx context.Context, partition string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return m.clearErr
	}
	delete(m.data, partition)
	m.ops = append(m.ops, "clear "+partition)
	return nil
}

func (m *mockStore) clears() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, op := range m.ops {
		if len(op) > 6 && op[:6] == "clear " {
			n++
		}
	}
	return n
}
