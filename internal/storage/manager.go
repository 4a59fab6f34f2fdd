// Package storage keeps the raw bytes of intaken files for the lifetime of
// one server run. Payloads land in a scratch directory that is wiped on
// shutdown; nothing survives a restart.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Store is the payload storage used by the intake handlers.
type Store interface {
	Put(id string, r io.Reader) (int64, error)
	Open(id string) (io.ReadCloser, error)
	Delete(id string) error
	Wipe() error
}

// LocalStore implements Store on the local filesystem.
type LocalStore struct {
	mu  sync.RWMutex
	dir string
	ids map[string]struct{}
}

// NewLocalStore creates a store rooted at dir, creating it if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating payload directory: %w", err)
	}
	return &LocalStore{
		dir: dir,
		ids: make(map[string]struct{}),
	}, nil
}

// Put writes the payload for the given file ID, replacing any previous one.
func (s *LocalStore) Put(id string, r io.Reader) (int64, error) {
	path := filepath.Join(s.dir, id)

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating payload file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("writing payload: %w", err)
	}

	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()

	return size, nil
}

// Open returns a reader over the stored payload.
func (s *LocalStore) Open(id string) (io.ReadCloser, error) {
	s.mu.RLock()
	_, ok := s.ids[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("payload not found: %s", id)
	}

	f, err := os.Open(filepath.Join(s.dir, id))
	if err != nil {
		return nil, fmt.Errorf("opening payload: %w", err)
	}
	return f, nil
}

// Delete removes a stored payload. Unknown IDs are a no-op.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; !ok {
		return nil
	}

	if err := os.Remove(filepath.Join(s.dir, id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting payload: %w", err)
	}
	delete(s.ids, id)
	return nil
}

// Wipe removes every stored payload and the scratch directory itself.
func (s *LocalStore) Wipe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ids = make(map[string]struct{})
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("wiping payload directory: %w", err)
	}
	return nil
}
