package statestore

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryBackend is an in-process Backend for tests and dry runs.
//
// Partial failures can be injected: InjectPartial makes the next n batch
// calls process only the first half of their input.
type MemoryBackend struct {
	mu    sync.Mutex
	parts map[string]map[string][]byte

	partial  int
	failErr  error
	failLeft int

	batchGets int
	batchPuts int
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{parts: make(map[string]map[string][]byte)}
}

// InjectPartial makes the next n BatchGet/BatchPut calls leave the trailing
// half of their input unprocessed.
func (m *MemoryBackend) InjectPartial(n int) {
	m.mu.Lock()
	m.partial = n
	m.mu.Unlock()
}

// InjectError makes the next n calls of any kind fail with err.
func (m *MemoryBackend) InjectError(err error, n int) {
	m.mu.Lock()
	m.failErr = err
	m.failLeft = n
	m.mu.Unlock()
}

// BatchCalls returns the number of BatchGet and BatchPut calls so far.
func (m *MemoryBackend) BatchCalls() (gets, puts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchGets, m.batchPuts
}

// Len returns the number of stored rows.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.parts {
		n += len(p)
	}
	return n
}

// Dump returns a copy of every row, ordered by key.
func (m *MemoryBackend) Dump() []Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Row
	for pk, p := range m.parts {
		for sk, doc := range p {
			out = append(out, Row{Key: Key{PK: pk, SK: sk}, Doc: slices.Clone(doc)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.PK != out[j].Key.PK {
			return out[i].Key.PK < out[j].Key.PK
		}
		return out[i].Key.SK < out[j].Key.SK
	})
	return out
}

// injected returns the injected error, consuming one use. Caller holds mu.
func (m *MemoryBackend) injected() error {
	if m.failLeft <= 0 {
		return nil
	}
	m.failLeft--
	return m.failErr
}

// split returns how many of n inputs to process. Caller holds mu.
func (m *MemoryBackend) split(n int) int {
	if m.partial <= 0 || n < 2 {
		return n
	}
	m.partial--
	return n / 2
}

func (m *MemoryBackend) get(k Key) ([]byte, bool) {
	p, ok := m.parts[k.PK]
	if !ok {
		return nil, false
	}
	doc, ok := p[k.SK]
	return doc, ok
}

func (m *MemoryBackend) set(r Row) {
	p, ok := m.parts[r.Key.PK]
	if !ok {
		p = make(map[string][]byte)
		m.parts[r.Key.PK] = p
	}
	p[r.Key.SK] = slices.Clone(r.Doc)
}

// Get implements Backend.
func (m *MemoryBackend) Get(_ context.Context, key Key, _ bool) (Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return Row{}, err
	}
	doc, ok := m.get(key)
	if !ok {
		return Row{}, ErrNotFound
	}
	return Row{Key: key, Doc: slices.Clone(doc)}, nil
}

// Put implements Backend.
func (m *MemoryBackend) Put(_ context.Context, row Row, cond Condition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return err
	}
	if cond == CondIfNotExists {
		if _, ok := m.get(row.Key); ok {
			return ErrConditionFailed
		}
	}
	m.set(row)
	return nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return err
	}
	if p, ok := m.parts[key.PK]; ok {
		delete(p, key.SK)
		if len(p) == 0 {
			delete(m.parts, key.PK)
		}
	}
	return nil
}

// BatchGet implements Backend.
func (m *MemoryBackend) BatchGet(_ context.Context, keys []Key, _ bool) ([]Row, []Key, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchGets++
	if err := m.injected(); err != nil {
		return nil, nil, err
	}
	n := m.split(len(keys))
	var rows []Row
	for _, k := range keys[:n] {
		if doc, ok := m.get(k); ok {
			rows = append(rows, Row{Key: k, Doc: slices.Clone(doc)})
		}
	}
	return rows, slices.Clone(keys[n:]), nil
}

// BatchPut implements Backend.
func (m *MemoryBackend) BatchPut(_ context.Context, rows []Row) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchPuts++
	if err := m.injected(); err != nil {
		return nil, err
	}
	n := m.split(len(rows))
	for _, r := range rows[:n] {
		m.set(r)
	}
	return slices.Clone(rows[n:]), nil
}

// Query implements Backend.
func (m *MemoryBackend) Query(_ context.Context, pk, cursor string, limit int) ([]Row, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected(); err != nil {
		return nil, "", err
	}
	p := m.parts[pk]
	sks := make([]string, 0, len(p))
	for sk := range p {
		if sk > cursor {
			sks = append(sks, sk)
		}
	}
	sort.Strings(sks)

	next := ""
	if limit > 0 && len(sks) > limit {
		sks = sks[:limit]
		next = sks[limit-1]
	}
	rows := make([]Row, len(sks))
	for i, sk := range sks {
		rows[i] = Row{Key: Key{PK: pk, SK: sk}, Doc: slices.Clone(p[sk])}
	}
	return rows, next, nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error { return nil }
