package statestore

import (
	"context"

	"github.com/justapithecus/sitemapper/batch"
	"github.com/justapithecus/sitemapper/types"
)

// ItemWriterConfig configures an ItemWriter.
type ItemWriterConfig struct {
	Concurrency int
	QueueSize   int
}

// ItemWriter persists item records in the background. Rows are chunked to
// the store's batch limits and written by a bounded pool; Put blocks when
// the pool is saturated.
type ItemWriter struct {
	w *batch.Writer[Row]
}

// NewItemWriter creates a background writer on c.
func NewItemWriter(c *Client, cfg ItemWriterConfig) *ItemWriter {
	w := batch.NewWriter(batch.WriterConfig{
		Limits:      batch.ChunkLimits{MaxItems: MaxBatchPutRows, MaxBytes: MaxBatchPutBytes},
		Concurrency: cfg.Concurrency,
		QueueSize:   cfg.QueueSize,
	}, Row.Size, c.BatchPut)
	return &ItemWriter{w: w}
}

// Put enqueues the copies of rec selected by scope. It returns the first
// background write error instead of accepting more work.
// rec is encoded immediately; callers may keep mutating it.
func (iw *ItemWriter) Put(ctx context.Context, rec *types.ItemRecord, scope types.Scope) error {
	rows, err := ItemRows(rec, scope)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := iw.w.Enqueue(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// Err returns the first background write error, or nil.
func (iw *ItemWriter) Err() error { return iw.w.Err() }

// OnIdle flushes buffered rows and waits for every write.
func (iw *ItemWriter) OnIdle(ctx context.Context) error { return iw.w.OnIdle(ctx) }

// Close stops the workers.
func (iw *ItemWriter) Close() { iw.w.Close() }
