package statestore

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	"github.com/justapithecus/sitemapper/batch"
	"github.com/justapithecus/sitemapper/metrics"
	"github.com/justapithecus/sitemapper/types"
)

// Config configures retry behavior of a Client.
type Config struct {
	// MaxRetries bounds resubmissions of a partial or transiently failed batch.
	MaxRetries int
	// BaseBackoff is the first backoff ceiling; it doubles per attempt.
	BaseBackoff time.Duration
	// MaxBackoff caps the backoff ceiling.
	MaxBackoff time.Duration
	// ConsistentReads requests strongly consistent reads.
	ConsistentReads bool
	// QueryPageSize is the page size of range queries.
	QueryPageSize int
	// GetConcurrency bounds parallel batch-get calls of one request.
	GetConcurrency int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      8,
		BaseBackoff:     50 * time.Millisecond,
		MaxBackoff:      5 * time.Second,
		ConsistentReads: true,
		QueryPageSize:   500,
		GetConcurrency:  4,
	}
}

// Client is the typed metadata store client.
type Client struct {
	be      Backend
	cfg     Config
	metrics *metrics.Collector

	// sleep is replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client over be. collector may be nil.
func NewClient(be Backend, cfg Config, collector *metrics.Collector) *Client {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = max(def.MaxBackoff, cfg.BaseBackoff)
	}
	if cfg.QueryPageSize <= 0 {
		cfg.QueryPageSize = def.QueryPageSize
	}
	if cfg.GetConcurrency <= 0 {
		cfg.GetConcurrency = 1
	}
	return &Client{be: be, cfg: cfg, metrics: collector, sleep: sleepCtx}
}

// Backend returns the underlying backend.
func (c *Client) Backend() Backend { return c.be }

// Close closes the backend.
func (c *Client) Close() error { return c.be.Close() }

// --- Shard state ---

// GetShardState returns the shard state, or nil when none was persisted.
func (c *Client) GetShardState(ctx context.Context, typ, shardID string) (*types.ShardState, error) {
	var s types.ShardState
	ok, err := c.getDoc(ctx, ShardKey(typ, shardID), &s)
	if err != nil || !ok {
		return nil, err
	}
	return &s, nil
}

// PutShardState persists s.
func (c *Client) PutShardState(ctx context.Context, s *types.ShardState) error {
	return c.putDoc(ctx, ShardKey(s.Type, s.ShardID), s, CondNone)
}

// --- Files ---

// GetFile returns a page record, or nil when absent.
func (c *Client) GetFile(ctx context.Context, typ, fileName string) (*types.FileRecord, error) {
	var f types.FileRecord
	ok, err := c.getDoc(ctx, FileKey(typ, fileName), &f)
	if err != nil || !ok {
		return nil, err
	}
	return &f, nil
}

// PutFile persists f unconditionally.
func (c *Client) PutFile(ctx context.Context, f *types.FileRecord) error {
	return c.putDoc(ctx, FileKey(f.Type, f.FileName), f, CondNone)
}

// CreateFile persists f only if no record exists under its name.
// It returns ErrConditionFailed otherwise.
func (c *Client) CreateFile(ctx context.Context, f *types.FileRecord) error {
	return c.putDoc(ctx, FileKey(f.Type, f.FileName), f, CondIfNotExists)
}

// ListFiles returns every page record of typ ordered by file name.
func (c *Client) ListFiles(ctx context.Context, typ string) ([]*types.FileRecord, error) {
	rows, err := c.queryAll(ctx, FilePartition(typ))
	if err != nil {
		return nil, err
	}
	out := make([]*types.FileRecord, 0, len(rows))
	for _, r := range rows {
		var f types.FileRecord
		if err := decodeDoc(r, &f); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	return out, nil
}

// --- Items ---

// GetItem returns the canonical copy of an item, or nil when absent.
func (c *Client) GetItem(ctx context.Context, typ, id string) (*types.ItemRecord, error) {
	var r types.ItemRecord
	ok, err := c.getDoc(ctx, ItemKey(typ, id), &r)
	if err != nil || !ok {
		return nil, err
	}
	return &r, nil
}

// GetPageItem returns the by-page copy of an item, or nil when absent.
func (c *Client) GetPageItem(ctx context.Context, typ, fileName, id string) (*types.ItemRecord, error) {
	var r types.ItemRecord
	ok, err := c.getDoc(ctx, PageItemKey(typ, fileName, id), &r)
	if err != nil || !ok {
		return nil, err
	}
	return &r, nil
}

// BatchGetItems fetches canonical copies keyed by item id. Missing ids are
// absent from the result.
func (c *Client) BatchGetItems(ctx context.Context, typ string, ids []string) (map[string]*types.ItemRecord, error) {
	keys := make([]Key, len(ids))
	for i, id := range ids {
		keys[i] = ItemKey(typ, id)
	}
	return c.batchGetItems(ctx, keys)
}

// BatchGetPageItems fetches by-page copies of ids under fileName.
func (c *Client) BatchGetPageItems(ctx context.Context, typ, fileName string, ids []string) (map[string]*types.ItemRecord, error) {
	keys := make([]Key, len(ids))
	for i, id := range ids {
		keys[i] = PageItemKey(typ, fileName, id)
	}
	return c.batchGetItems(ctx, keys)
}

// ItemsByPage returns every by-page copy stored under fileName, following
// query pagination.
func (c *Client) ItemsByPage(ctx context.Context, typ, fileName string) ([]*types.ItemRecord, error) {
	rows, err := c.queryAll(ctx, PagePartition(typ, fileName))
	if err != nil {
		return nil, err
	}
	out := make([]*types.ItemRecord, 0, len(rows))
	for _, r := range rows {
		var rec types.ItemRecord
		if err := decodeDoc(r, &rec); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, nil
}

// PutItem writes the copies of rec selected by scope.
func (c *Client) PutItem(ctx context.Context, rec *types.ItemRecord, scope types.Scope) error {
	return c.PutItems(ctx, []*types.ItemRecord{rec}, scope)
}

// PutItems writes the copies of recs selected by scope in store-sized batches.
func (c *Client) PutItems(ctx context.Context, recs []*types.ItemRecord, scope types.Scope) error {
	var rows []Row
	for _, rec := range recs {
		r, err := ItemRows(rec, scope)
		if err != nil {
			return err
		}
		rows = append(rows, r...)
	}
	return c.WriteRows(ctx, rows)
}

// ItemRows encodes the physical rows of rec for scope. The by-page row is
// keyed by rec.FileName; the canonical row is only produced when scope
// includes it, so a by-page write can never repoint ownership.
func ItemRows(rec *types.ItemRecord, scope types.Scope) ([]Row, error) {
	if rec.FileName == "" && scope.IncludesPage() {
		return nil, fmt.Errorf("statestore: item %s has no page for %s write", rec.ItemID, scope)
	}
	doc, err := msgpack.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("statestore: encode item %s: %w", rec.ItemID, err)
	}
	var rows []Row
	if scope.IncludesID() {
		rows = append(rows, Row{Key: ItemKey(rec.Type, rec.ItemID), Doc: doc})
	}
	if scope.IncludesPage() {
		rows = append(rows, Row{Key: PageItemKey(rec.Type, rec.FileName, rec.ItemID), Doc: doc})
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("statestore: invalid scope %d", scope)
	}
	return rows, nil
}

// --- Batch primitives with retry ---

// WriteRows persists rows in batches within the store's per-call limits,
// resubmitting unprocessed rows with backoff.
func (c *Client) WriteRows(ctx context.Context, rows []Row) error {
	chunks, err := batch.Split(dedupeRows(rows), batch.ChunkLimits{
		MaxItems: MaxBatchPutRows,
		MaxBytes: MaxBatchPutBytes,
	}, Row.Size)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		if err := c.BatchPut(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

// BatchPut writes one store-sized batch, retrying unprocessed rows and
// transient errors. Rows with equal keys are collapsed, last one wins.
func (c *Client) BatchPut(ctx context.Context, rows []Row) error {
	pending := dedupeRows(rows)
	for attempt := 0; len(pending) > 0; attempt++ {
		c.metrics.IncStoreBatchWrite()
		unprocessed, err := c.be.BatchPut(ctx, pending)
		switch {
		case err != nil && !IsTransient(err):
			return fmt.Errorf("statestore: batch put: %w", err)
		case err == nil:
			pending = unprocessed
		}
		if len(pending) == 0 {
			return nil
		}
		if attempt >= c.cfg.MaxRetries {
			if err != nil {
				return fmt.Errorf("statestore: batch put after %d attempts: %w", attempt+1, err)
			}
			return &UnprocessedError{Op: "batch_put", Attempts: attempt + 1, Rows: pending}
		}
		c.metrics.IncStoreRetry()
		if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
			return err
		}
	}
	return nil
}

// BatchGet reads keys in store-sized batches with bounded concurrency,
// retrying unprocessed keys. Missing keys are absent from the result.
func (c *Client) BatchGet(ctx context.Context, keys []Key) ([]Row, error) {
	chunks, err := batch.Split(dedupeKeys(keys), batch.ChunkLimits{MaxItems: MaxBatchGetKeys}, nil)
	if err != nil {
		return nil, err
	}
	results := make([][]Row, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.GetConcurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			rows, err := c.batchGetChunk(gctx, chunk)
			results[i] = rows
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Row
	for _, rows := range results {
		out = append(out, rows...)
	}
	return out, nil
}

func (c *Client) batchGetChunk(ctx context.Context, keys []Key) ([]Row, error) {
	var out []Row
	pending := keys
	for attempt := 0; len(pending) > 0; attempt++ {
		rows, unprocessed, err := c.be.BatchGet(ctx, pending, c.cfg.ConsistentReads)
		switch {
		case err != nil && !IsTransient(err):
			return nil, fmt.Errorf("statestore: batch get: %w", err)
		case err == nil:
			out = append(out, rows...)
			pending = unprocessed
		}
		if len(pending) == 0 {
			return out, nil
		}
		if attempt >= c.cfg.MaxRetries {
			if err != nil {
				return nil, fmt.Errorf("statestore: batch get after %d attempts: %w", attempt+1, err)
			}
			return nil, &UnprocessedError{Op: "batch_get", Attempts: attempt + 1, Keys: pending}
		}
		c.metrics.IncStoreRetry()
		if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *Client) batchGetItems(ctx context.Context, keys []Key) (map[string]*types.ItemRecord, error) {
	rows, err := c.BatchGet(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*types.ItemRecord, len(rows))
	for _, r := range rows {
		var rec types.ItemRecord
		if err := decodeDoc(r, &rec); err != nil {
			return nil, err
		}
		out[rec.ItemID] = &rec
	}
	return out, nil
}

// backoff returns a full-jitter delay for the given attempt.
func (c *Client) backoff(attempt int) time.Duration {
	ceil := c.cfg.BaseBackoff << min(attempt, 30)
	if ceil <= 0 || ceil > c.cfg.MaxBackoff {
		ceil = c.cfg.MaxBackoff
	}
	return time.Duration(rand.Int64N(int64(ceil) + 1))
}

// --- Single-row helpers ---

func (c *Client) getDoc(ctx context.Context, key Key, v any) (bool, error) {
	var row Row
	err := c.retry(ctx, func() error {
		var err error
		row, err = c.be.Get(ctx, key, c.cfg.ConsistentReads)
		return err
	})
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("statestore: get %s/%s: %w", key.PK, key.SK, err)
	}
	return true, decodeDoc(row, v)
}

func (c *Client) putDoc(ctx context.Context, key Key, v any, cond Condition) error {
	doc, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("statestore: encode %s/%s: %w", key.PK, key.SK, err)
	}
	err = c.retry(ctx, func() error {
		return c.be.Put(ctx, Row{Key: key, Doc: doc}, cond)
	})
	if err != nil {
		return fmt.Errorf("statestore: put %s/%s: %w", key.PK, key.SK, err)
	}
	return nil
}

func (c *Client) queryAll(ctx context.Context, pk string) ([]Row, error) {
	var out []Row
	cursor := ""
	for {
		var rows []Row
		var next string
		err := c.retry(ctx, func() error {
			var err error
			rows, next, err = c.be.Query(ctx, pk, cursor, c.cfg.QueryPageSize)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("statestore: query %s: %w", pk, err)
		}
		out = append(out, rows...)
		if next == "" {
			return out, nil
		}
		cursor = next
	}
}

// retry runs fn until it succeeds, fails permanently, or MaxRetries is spent.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !IsTransient(err) || attempt >= c.cfg.MaxRetries {
			return err
		}
		c.metrics.IncStoreRetry()
		if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
			return err
		}
	}
}

func decodeDoc(r Row, v any) error {
	if err := msgpack.Unmarshal(r.Doc, v); err != nil {
		return fmt.Errorf("statestore: decode %s/%s: %w", r.Key.PK, r.Key.SK, err)
	}
	return nil
}

func dedupeRows(rows []Row) []Row {
	idx := make(map[Key]int, len(rows))
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if i, ok := idx[r.Key]; ok {
			out[i] = r
			continue
		}
		idx[r.Key] = len(out)
		out = append(out, r)
	}
	return out
}

func dedupeKeys(keys []Key) []Key {
	seen := make(map[Key]struct{}, len(keys))
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
