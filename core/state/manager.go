package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"poolescrow/storage"
)

// Manager layers a write buffer over a storage.Database. Writes stay in the
// buffer until Commit flushes them in one batch; Discard drops them. The host
// runtime commits after every successful invocation and discards after every
// failed one, which makes each invocation atomic.
type Manager struct {
	mu      sync.RWMutex
	db      storage.Database
	dirty   map[string][]byte
	deleted map[string]struct{}
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

func (m *Manager) get(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k := string(key)
	if _, gone := m.deleted[k]; gone {
		return nil, false, nil
	}
	if value, ok := m.dirty[k]; ok {
		return value, true, nil
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *Manager) put(key, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := string(key)
	delete(m.deleted, k)
	m.dirty[k] = value
}

// KVPut stores the RLP encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if m == nil {
		return fmt.Errorf("state manager not configured")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.put(key, encoded)
	return nil
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil {
		return false, fmt.Errorf("state manager not configured")
	}
	data, ok, err := m.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes key.
func (m *Manager) KVDelete(key []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := string(key)
	delete(m.dirty, k)
	m.deleted[k] = struct{}{}
}

// Dirty reports whether uncommitted writes are buffered.
func (m *Manager) Dirty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.dirty) > 0 || len(m.deleted) > 0
}

// Commit flushes buffered writes to the database atomically.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := new(storage.Batch)
	for k, v := range m.dirty {
		batch.Put([]byte(k), v)
	}
	for k := range m.deleted {
		batch.Delete([]byte(k))
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.dirty = make(map[string][]byte)
	m.deleted = make(map[string]struct{})
	return nil
}

// Discard drops buffered writes.
func (m *Manager) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty = make(map[string][]byte)
	m.deleted = make(map[string]struct{})
}
