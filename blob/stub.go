package blob

import (
	"context"
	"slices"
	"sync"
)

// StubStore is a map-backed Store for tests.
type StubStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	gets    int

	// PutErr, when set, is returned by every Put.
	PutErr error
	// GetErr, when set, is returned by every GetIfExists.
	GetErr error
}

var _ Store = (*StubStore)(nil)

// NewStubStore creates an empty stub store.
func NewStubStore() *StubStore {
	return &StubStore{objects: make(map[string][]byte)}
}

// GetIfExists implements Store.
func (s *StubStore) GetIfExists(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.GetErr != nil {
		return nil, false, wrap("get", key, s.GetErr)
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(data), true, nil
}

// Put implements Store.
func (s *StubStore) Put(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.PutErr != nil {
		return wrap("put", key, s.PutErr)
	}
	s.objects[key] = slices.Clone(data)
	return nil
}

// Delete implements Store.
func (s *StubStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Set stores data at key directly.
func (s *StubStore) Set(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = slices.Clone(data)
}

// Keys returns the stored keys, sorted.
func (s *StubStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Calls returns the number of GetIfExists and Put calls so far.
func (s *StubStore) Calls() (gets, puts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.puts
}
