// Package badgerkv implements the metadata store backend on an embedded
// Badger database, for local runs and tests.
//
// Rows are stored under "<pk>\x00<sk>", so a partition is a key prefix and
// iteration order within it is sort-key order.
package badgerkv

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v2"

	"github.com/justapithecus/sitemapper/statestore"
)

const sep = 0x00

// Config configures the Badger backend.
type Config struct {
	// Dir is the data directory. Ignored when InMemory is set.
	Dir string
	// InMemory keeps all data in memory.
	InMemory bool
	// SyncWrites fsyncs every write.
	SyncWrites bool
}

// Backend is a statestore.Backend over Badger.
type Backend struct {
	db *badger.DB
}

var _ statestore.Backend = (*Backend)(nil)

// Open opens or creates the database.
func Open(cfg Config) (*Backend, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("badger data dir is required")
	}
	opts := badger.DefaultOptions(cfg.Dir).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Backend{db: db}, nil
}

func encodeKey(k statestore.Key) []byte {
	b := make([]byte, 0, len(k.PK)+1+len(k.SK))
	b = append(b, k.PK...)
	b = append(b, sep)
	return append(b, k.SK...)
}

func decodeKey(b []byte) (statestore.Key, error) {
	i := bytes.IndexByte(b, sep)
	if i < 0 {
		return statestore.Key{}, fmt.Errorf("badgerkv: malformed key %q", b)
	}
	return statestore.Key{PK: string(b[:i]), SK: string(b[i+1:])}, nil
}

func partitionPrefix(pk string) []byte {
	return append([]byte(pk), sep)
}

// Get implements statestore.Backend. Badger reads are always consistent.
func (b *Backend) Get(_ context.Context, key statestore.Key, _ bool) (statestore.Row, error) {
	var doc []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(encodeKey(key))
		if err != nil {
			return err
		}
		doc, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return statestore.Row{}, statestore.ErrNotFound
	}
	if err != nil {
		return statestore.Row{}, classify(err)
	}
	return statestore.Row{Key: key, Doc: doc}, nil
}

// Put implements statestore.Backend.
func (b *Backend) Put(_ context.Context, row statestore.Row, cond statestore.Condition) error {
	k := encodeKey(row.Key)
	err := b.db.Update(func(txn *badger.Txn) error {
		if cond == statestore.CondIfNotExists {
			_, err := txn.Get(k)
			if err == nil {
				return statestore.ErrConditionFailed
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return txn.Set(k, row.Doc)
	})
	return classify(err)
}

// Delete implements statestore.Backend.
func (b *Backend) Delete(_ context.Context, key statestore.Key) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(encodeKey(key))
	})
	return classify(err)
}

// BatchGet implements statestore.Backend. Every key is processed.
func (b *Backend) BatchGet(_ context.Context, keys []statestore.Key, _ bool) ([]statestore.Row, []statestore.Key, error) {
	var rows []statestore.Row
	err := b.db.View(func(txn *badger.Txn) error {
		for _, k := range keys {
			item, err := txn.Get(encodeKey(k))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			doc, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rows = append(rows, statestore.Row{Key: k, Doc: doc})
		}
		return nil
	})
	if err != nil {
		return nil, nil, classify(err)
	}
	return rows, nil, nil
}

// BatchPut implements statestore.Backend. Every row is processed.
func (b *Backend) BatchPut(_ context.Context, rows []statestore.Row) ([]statestore.Row, error) {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, r := range rows {
		if err := wb.Set(encodeKey(r.Key), r.Doc); err != nil {
			return nil, classify(err)
		}
	}
	if err := wb.Flush(); err != nil {
		return nil, classify(err)
	}
	return nil, nil
}

// Query implements statestore.Backend.
func (b *Backend) Query(_ context.Context, pk, cursor string, limit int) ([]statestore.Row, string, error) {
	prefix := partitionPrefix(pk)
	var rows []statestore.Row
	next := ""

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		start := prefix
		if cursor != "" {
			start = encodeKey(statestore.Key{PK: pk, SK: cursor})
		}
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			k, err := decodeKey(item.KeyCopy(nil))
			if err != nil {
				return err
			}
			if cursor != "" && k.SK <= cursor {
				continue
			}
			if limit > 0 && len(rows) == limit {
				next = rows[len(rows)-1].Key.SK
				return nil
			}
			doc, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rows = append(rows, statestore.Row{Key: k, Doc: doc})
		}
		return nil
	})
	if err != nil {
		return nil, "", classify(err)
	}
	return rows, next, nil
}

// Close implements statestore.Backend.
func (b *Backend) Close() error {
	return b.db.Close()
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badger.ErrConflict) {
		return statestore.Transient(err)
	}
	return err
}
