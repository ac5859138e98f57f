package stream

import (
	"context"
	"slices"
	"sync"
)

// OutRecord is one outbound stream record.
type OutRecord struct {
	PartitionKey string
	Data         []byte
}

// Publisher publishes records at least once, in order per partition key.
type Publisher interface {
	Publish(ctx context.Context, records []OutRecord) error
	Close() error
}

// StubPublisher records published batches in memory.
type StubPublisher struct {
	mu      sync.Mutex
	records []OutRecord
	// Err, when set, is returned by every Publish.
	Err error
}

var _ Publisher = (*StubPublisher)(nil)

// Publish implements Publisher.
func (p *StubPublisher) Publish(_ context.Context, records []OutRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.records = append(p.records, records...)
	return nil
}

// Records returns a copy of every published record.
func (p *StubPublisher) Records() []OutRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.records)
}

// Close implements Publisher.
func (p *StubPublisher) Close() error { return nil }

// resubmitSet returns the records to send again after a partial failure.
// For every partition key with a failed record, the failed record and all
// later records of that key are resubmitted, so per-key order holds even
// when some of those later records already succeeded.
func resubmitSet(records []OutRecord, failed []bool) []OutRecord {
	broken := make(map[string]bool)
	var out []OutRecord
	for i, r := range records {
		if failed[i] {
			broken[r.PartitionKey] = true
		}
		if broken[r.PartitionKey] {
			out = append(out, r)
		}
	}
	return out
}
