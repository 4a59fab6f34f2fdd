// mock_storage.go - In-memory storage.Store for testing
package testutil

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// MockStorage implements storage.Store in memory.
type MockStorage struct {
	mu   sync.RWMutex
	data map[string][]byte

	// PutErr, when set, is returned by every Put call.
	PutErr error
}

// NewMockStorage creates an empty in-memory store.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		data: make(map[string][]byte),
	}
}

func (m *MockStorage) Put(id string, r io.Reader) (int64, error) {
	if m.PutErr != nil {
		return 0, m.PutErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.data[id] = data
	m.mu.Unlock()
	return int64(len(data)), nil
}

func (m *MockStorage) Open(id string) (io.ReadCloser, error) {
	m.mu.RLock()
	data, ok := m.data[id]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.New("payload not found: " + id)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MockStorage) Delete(id string) error {
	m.mu.Lock()
	delete(m.data, id)
	m.mu.Unlock()
	return nil
}

func (m *MockStorage) Wipe() error {
	m.mu.Lock()
	m.data = make(map[string][]byte)
	m.mu.Unlock()
	return nil
}

// Has reports whether a payload is stored under id.
func (m *MockStorage) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[id]
	return ok
}
