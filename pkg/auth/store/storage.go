// Package store persists connection profiles. Profiles live in a durable
// key-value Storage collaborator; the store layer adds the profile schema,
// atomic per-call mutations and the current-profile pointer on top.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	errUtils "github.com/ashishrp-aws/aws-toolkit-vscode/errors"
)

// ErrKeyNotFound marks an absent key in a Storage backend.
var ErrKeyNotFound = errors.New("key not found")

// Storage is the durable key-value collaborator the profile store writes
// through. Implementations must make Set durable before returning.
type Storage interface {
	// Get returns the value stored under key, or ErrKeyNotFound.
	Get(key string) ([]byte, error)

	// Set stores the value under key.
	Set(key string, value []byte) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(key string) error
}

// InMemoryStorage is a map-backed Storage for tests and ephemeral hosts.
type InMemoryStorage struct {
	data map[string][]byte
	mu   sync.RWMutex
}

var _ Storage = (*InMemoryStorage)(nil)

// NewInMemoryStorage initializes an empty in-memory backend.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{data: make(map[string][]byte)}
}

func (m *InMemoryStorage) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (m *InMemoryStorage) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[key] = stored
	return nil
}

func (m *InMemoryStorage) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// FileStorage keeps all keys in a single JSON file, rewritten atomically via a
// temp file and rename on every mutation.
type FileStorage struct {
	path string
	mu   sync.Mutex
}

var _ Storage = (*FileStorage)(nil)

// NewFileStorage creates a file-backed Storage at path, creating parent
// directories as needed.
func NewFileStorage(path string) (*FileStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%w: creating storage directory: %v", errUtils.ErrStorage, err)
	}
	return &FileStorage{path: path}, nil
}

func (f *FileStorage) Get(key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := f.load()
	if err != nil {
		return nil, err
	}
	value, ok := data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	return value, nil
}

func (f *FileStorage) Set(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := f.load()
	if err != nil {
		return err
	}
	data[key] = json.RawMessage(value)
	return f.flush(data)
}

func (f *FileStorage) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := f.load()
	if err != nil {
		return err
	}
	delete(data, key)
	return f.flush(data)
}

func (f *FileStorage) load() (map[string]json.RawMessage, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]json.RawMessage), nil
		}
		return nil, fmt.Errorf("%w: reading %s: %v", errUtils.ErrStorage, f.path, err)
	}
	data := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", errUtils.ErrStorage, f.path, err)
	}
	return data, nil
}

func (f *FileStorage) flush(data map[string]json.RawMessage) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding storage: %v", errUtils.ErrStorage, err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("%w: writing %s: %v", errUtils.ErrStorage, tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("%w: committing %s: %v", errUtils.ErrStorage, f.path, err)
	}
	return nil
}
