// Package statestore is the typed client over the metadata store.
//
// The metadata store is a key/value store with a two-part key (partition and
// sort key), conditional puts, bounded batch get/put with partial-failure
// reporting, and a paginated range query by partition key. Backend captures
// exactly that surface; Client layers the record schema, chunking to the
// store's per-call limits, and retry with backoff on top.
package statestore

import (
	"context"
	"errors"
)

// Store limits per call.
const (
	MaxBatchGetKeys  = 100
	MaxBatchPutRows  = 25
	MaxBatchPutBytes = 16 << 20
)

// Sentinel errors.
var (
	// ErrNotFound is returned by Backend.Get for a missing key.
	ErrNotFound = errors.New("statestore: not found")
	// ErrConditionFailed is returned when a conditional put is rejected.
	ErrConditionFailed = errors.New("statestore: condition failed")
	// ErrTransient marks errors worth retrying (throttling, timeouts, 5xx).
	ErrTransient = errors.New("statestore: transient error")
	// ErrUnprocessed matches *UnprocessedError.
	ErrUnprocessed = errors.New("statestore: unprocessed after retries")
)

// Key addresses one row.
type Key struct {
	PK string
	SK string
}

// Row is one stored document.
type Row struct {
	Key Key
	Doc []byte
}

// Size approximates the stored size of the row in bytes.
func (r Row) Size() int {
	return len(r.Key.PK) + len(r.Key.SK) + len(r.Doc)
}

// Condition guards a single put.
type Condition int

const (
	// CondNone writes unconditionally.
	CondNone Condition = iota
	// CondIfNotExists rejects the put when the key already exists.
	CondIfNotExists
)

// Backend is the metadata store collaborator.
//
// BatchGet and BatchPut may process only part of their input; the rest is
// returned for the caller to resubmit. Keys absent from the store are simply
// missing from BatchGet's rows.
type Backend interface {
	Get(ctx context.Context, key Key, consistent bool) (Row, error)
	Put(ctx context.Context, row Row, cond Condition) error
	Delete(ctx context.Context, key Key) error
	BatchGet(ctx context.Context, keys []Key, consistent bool) (rows []Row, unprocessed []Key, err error)
	BatchPut(ctx context.Context, rows []Row) (unprocessed []Row, err error)
	// Query returns rows of partition pk ordered by sort key, starting after
	// cursor. An empty next cursor means the partition is exhausted.
	Query(ctx context.Context, pk string, cursor string, limit int) (rows []Row, next string, err error)
	Close() error
}
