package batch

import (
	"context"
	"sync"
)

// WriteFunc persists one chunk.
type WriteFunc[T any] func(ctx context.Context, chunk []T) error

// WriterConfig configures a Writer.
type WriterConfig struct {
	Limits      ChunkLimits
	Concurrency int
	QueueSize   int
}

// Writer chunks enqueued values and writes the chunks on a bounded pool.
// It is safe for concurrent producers.
type Writer[T any] struct {
	write WriteFunc[T]
	pool  *Pool

	mu      sync.Mutex
	chunker *Chunker[T]
}

// NewWriter creates a writer. Close it to stop the workers.
func NewWriter[T any](cfg WriterConfig, size SizeFunc[T], write WriteFunc[T]) *Writer[T] {
	return &Writer[T]{
		write:   write,
		pool:    NewPool(PoolConfig{Concurrency: cfg.Concurrency, QueueSize: cfg.QueueSize}),
		chunker: NewChunker(cfg.Limits, size),
	}
}

// Enqueue adds v. It returns the first background error, if any, before
// accepting v, and blocks while the pool queue is full.
func (w *Writer[T]) Enqueue(ctx context.Context, v T) error {
	if err := w.pool.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	full, err := w.chunker.Add(v)
	w.mu.Unlock()
	if err != nil {
		return err
	}
	if full == nil {
		return nil
	}
	return w.submit(ctx, full)
}

func (w *Writer[T]) submit(ctx context.Context, chunk []T) error {
	_, err := w.pool.Submit(ctx, func(ctx context.Context) error {
		return w.write(ctx, chunk)
	})
	return err
}

// Err returns the first background error, or nil.
func (w *Writer[T]) Err() error {
	return w.pool.Err()
}

// OnIdle submits the partial chunk and waits for every write to finish.
// It returns the first background error.
func (w *Writer[T]) OnIdle(ctx context.Context) error {
	w.mu.Lock()
	rest := w.chunker.Flush()
	w.mu.Unlock()
	if rest != nil {
		if err := w.submit(ctx, rest); err != nil {
			return err
		}
	}
	return w.pool.OnIdle(ctx)
}

// Close stops the workers after queued writes complete. Buffered values that
// were not flushed by OnIdle are discarded.
func (w *Writer[T]) Close() {
	w.pool.Close()
}
