package kueri

import "sync"

// Storage is the key-value blob store used to persist auth and cache state
// across restarts. Values are opaque JSON blobs; no cross-version schema
// guarantees are made. Implementations must be safe for concurrent use and
// byte-for-byte transparent: Get returns exactly what Set stored.
type Storage interface {
	// Get returns (value, true) on hit and (nil, false) on miss.
	Get(key string) ([]byte, bool)

	// Set stores value under key, replacing any previous value.
	Set(key string, value []byte) error

	// Delete removes a key. Idempotent.
	Delete(key string) error
}

// MemoryStorage is a process-local Storage. State lives only for the
// lifetime of the process.
type MemoryStorage struct {
	mu    sync.RWMutex
	store map[string][]byte
}

// NewMemoryStorage returns an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{store: make(map[string][]byte)}
}

func (s *MemoryStorage) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.store[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

func (s *MemoryStorage) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	s.store[key] = stored
	return nil
}

func (s *MemoryStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.store, key)
	return nil
}
