package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrCorrupt wraps decoding failures of a stored log.
var ErrCorrupt = errors.New("session: stored log is corrupt")

// Store persists session logs keyed by session token.
//
// Implementations must be safe for concurrent use. They do not serialise
// read-modify-write cycles; callers that need that hold their own lock.
type Store interface {
	// Load returns the stored log for id. A missing session yields an empty
	// log and a nil error. Undecodable data yields an error wrapping
	// ErrCorrupt.
	Load(ctx context.Context, id string) (Log, error)

	// Save overwrites the stored log for id with l.
	Save(ctx context.Context, id string, l Log) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// decode parses the JSON array form shared by every backend. Empty input
// decodes to an empty log.
func decode(data []byte) (Log, error) {
	if len(data) == 0 {
		return Log{}, nil
	}
	var l Log
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if l == nil {
		l = Log{}
	}
	return l, nil
}

func encode(l Log) ([]byte, error) {
	if l == nil {
		l = Log{}
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("session: encode log: %w", err)
	}
	return data, nil
}

// MemoryStore keeps logs in process memory. Contents are lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string][]byte)}
}

// Load implements [Store].
func (m *MemoryStore) Load(_ context.Context, id string) (Log, error) {
	m.mu.RLock()
	data := m.logs[id]
	m.mu.RUnlock()
	return decode(data)
}

// Save implements [Store].
func (m *MemoryStore) Save(_ context.Context, id string, l Log) error {
	data, err := encode(l)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.logs[id] = data
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.logs)
}

// Ping implements [Store].
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close implements [Store].
func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
