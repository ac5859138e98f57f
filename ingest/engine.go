// Package ingest implements the ingestion engine.
//
// The engine turns the messages of one logical type into page appends and
// item records:
//
//  1. de-duplicate by id, last write wins
//  2. republish items below the compaction version instead of writing them
//  3. prefetch canonical item state in bounded batches
//  4. decide per item: new (append), duplicate within the open page,
//     duplicate owned by another page, or delete
//  5. flush the open page, drain the background queues, persist counters
//
// The canonical copy of an item record is only ever created here, never
// repointed. Duplicates and deletes write the page-scoped copy under the
// page that already owns the item.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/justapithecus/sitemapper/batch"
	"github.com/justapithecus/sitemapper/blob"
	"github.com/justapithecus/sitemapper/log"
	"github.com/justapithecus/sitemapper/metrics"
	"github.com/justapithecus/sitemapper/notify"
	"github.com/justapithecus/sitemapper/page"
	"github.com/justapithecus/sitemapper/statestore"
	"github.com/justapithecus/sitemapper/stream"
	"github.com/justapithecus/sitemapper/types"
)

// Deps are the collaborators of an Engine.
type Deps struct {
	// Store is the metadata store client (required).
	Store *statestore.Client
	// Blobs is the page blob store (required).
	Blobs blob.Store
	// Republish receives compaction re-emissions. Required when
	// CompactVersion is set.
	Republish stream.Publisher
	// Notifier receives page events. Defaults to notify.Nop.
	Notifier notify.Notifier
	// Logger may be nil.
	Logger *log.Logger
	// Metrics may be nil.
	Metrics *metrics.Collector
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine ingests item messages, one logical type at a time.
type Engine struct {
	cfg       Config
	store     *statestore.Client
	blobs     blob.Store
	republish stream.Publisher
	notifier  notify.Notifier
	logger    *log.Logger
	metrics   *metrics.Collector
	now       func() time.Time
	namer     Namer
	ids       *page.IDPattern
}

// New creates an engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if deps.Store == nil || deps.Blobs == nil {
		return nil, fmt.Errorf("ingest: store and blob store are required")
	}
	if cfg.CompactVersion > 0 && deps.Republish == nil {
		return nil, errNoRepublisher
	}
	namer, err := NewNamer(cfg.Naming, cfg.Compress)
	if err != nil {
		return nil, err
	}
	var ids *page.IDPattern
	if cfg.IDPattern != "" {
		if ids, err = page.CompileIDPattern(cfg.IDPattern); err != nil {
			return nil, err
		}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Engine{
		cfg:       cfg,
		store:     deps.Store,
		blobs:     deps.Blobs,
		republish: deps.Republish,
		notifier:  deps.Notifier,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		now:       deps.Now,
		namer:     namer,
		ids:       ids,
	}, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) blobKey(typ, fileName string) string {
	return blob.Key(e.cfg.KeyPrefix, typ, fileName)
}

func (e *Engine) filePrefix(typ string) string {
	if e.cfg.FilePrefix != "" {
		return e.cfg.FilePrefix
	}
	return typ
}

// pageIDs returns the ids of items, or nil when no pattern is configured or
// some entry carries no id.
func (e *Engine) pageIDs(items []types.SitemapItem) map[string]bool {
	if e.ids == nil {
		return nil
	}
	ids, _, ok := e.ids.IDs(items)
	if !ok {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// Result summarizes the ingestion of one type.
type Result struct {
	Type                 string   `json:"type"`
	Received             int      `json:"received"`
	Deduped              int      `json:"deduped"`
	Tombstoned           int      `json:"tombstoned"`
	Appended             int      `json:"appended"`
	Reappended           int      `json:"reappended"`
	DuplicatesWithinPage int      `json:"duplicates_within_page"`
	DuplicatesElsewhere  int      `json:"duplicates_elsewhere"`
	Deleted              int      `json:"deleted"`
	DeletesSkipped       int      `json:"deletes_skipped"`
	Skipped              int      `json:"skipped"`
	Allocated            []string `json:"allocated,omitempty"`
	Uploaded             []string `json:"uploaded,omitempty"`
	DirtyPages           []string `json:"dirty_pages,omitempty"`
	CurrentFile          string   `json:"current_file,omitempty"`
}

// Process ingests msgs, all of type typ, from shard shardID. It returns once
// every background write of the type finished. Errors are *TypeError.
func (e *Engine) Process(ctx context.Context, shardID, typ string, msgs []*types.ItemMessage) (*Result, error) {
	if err := statestore.ValidateType(typ); err != nil {
		return nil, &TypeError{Type: typ, Err: err}
	}
	r := &typeRun{
		e:       e,
		typ:     typ,
		shardID: shardID,
		logger:  e.logger.With("type", typ),
		dirty:   make(map[string]bool),
		res:     &Result{Type: typ, Received: len(msgs)},
	}
	if err := r.run(ctx, msgs); err != nil {
		r.logger.Error("type failed", map[string]any{"error": err.Error()})
		return r.res, &TypeError{Type: typ, Err: err}
	}
	return r.res, nil
}

// cached is the state of an item seen in this invocation.
type cached struct {
	rec *types.ItemRecord
	// written is set once the item was appended or persisted here.
	written bool
}

// typeRun is the state of one type within one invocation.
type typeRun struct {
	e       *Engine
	typ     string
	shardID string
	logger  *log.Logger

	shard   *types.ShardState
	slot    *pageSlot
	uploads *batch.Pool
	writer  *statestore.ItemWriter
	cache   *lru.Cache[string, cached]
	// dirty holds pages whose owned items changed since their last flush.
	dirty map[string]bool
	res   *Result
}

func (r *typeRun) run(ctx context.Context, msgs []*types.ItemMessage) error {
	if err := r.checkFatal(msgs); err != nil {
		return err
	}
	msgs = r.dedupe(msgs)
	msgs, err := r.compact(ctx, msgs)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	shard, err := r.e.store.GetShardState(ctx, r.typ, r.shardID)
	if err != nil {
		return fmt.Errorf("load shard state: %w", err)
	}
	if shard == nil {
		shard = types.NewShardState(r.typ, r.shardID, r.e.now())
	}
	r.shard = shard
	r.slot = &pageSlot{run: r}

	if r.cache, err = lru.New[string, cached](r.e.cfg.CacheSize); err != nil {
		return err
	}
	r.uploads = batch.NewPool(batch.PoolConfig{
		Concurrency: r.e.cfg.UploadConcurrency,
		QueueSize:   r.e.cfg.UploadQueue,
	})
	defer r.uploads.Close()
	r.writer = statestore.NewItemWriter(r.e.store, statestore.ItemWriterConfig{
		Concurrency: r.e.cfg.WriterConcurrency,
		QueueSize:   r.e.cfg.WriterQueue,
	})
	defer r.writer.Close()

	if err := r.processItems(ctx, msgs); err != nil {
		return err
	}
	return r.finish(ctx)
}

// checkFatal rejects the batch when any item carries the fatal version.
func (r *typeRun) checkFatal(msgs []*types.ItemMessage) error {
	v := r.e.cfg.FatalVersion
	if v <= 0 {
		return nil
	}
	for _, m := range msgs {
		if m.CompactVersion != nil && *m.CompactVersion == v {
			return fmt.Errorf("%w %d on item %s", ErrFatalVersion, v, m.CustomID)
		}
	}
	return nil
}

// dedupe keeps the last message per id, in the order of those last messages.
func (r *typeRun) dedupe(msgs []*types.ItemMessage) []*types.ItemMessage {
	last := make(map[string]int, len(msgs))
	for i, m := range msgs {
		last[m.CustomID] = i
	}
	out := make([]*types.ItemMessage, 0, len(last))
	for i, m := range msgs {
		if last[m.CustomID] == i {
			out = append(out, m)
		}
	}
	if n := len(msgs) - len(out); n > 0 {
		r.res.Deduped = n
		r.e.metrics.AddItemsDeduped(n)
	}
	return out
}

// compact republishes items below the compaction version, stamped with it,
// and returns the items to write.
func (r *typeRun) compact(ctx context.Context, msgs []*types.ItemMessage) ([]*types.ItemMessage, error) {
	v := r.e.cfg.CompactVersion
	if v <= 0 {
		return msgs, nil
	}
	keep := make([]*types.ItemMessage, 0, len(msgs))
	var out []stream.OutRecord
	for _, m := range msgs {
		if m.CompactVersion != nil && *m.CompactVersion >= v {
			keep = append(keep, m)
			continue
		}
		stamped := *m
		stamped.CompactVersion = &v
		rec, err := stream.Republish(&stamped)
		if err != nil {
			return nil, fmt.Errorf("republish %s: %w", m.CustomID, err)
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		return keep, nil
	}
	if err := r.e.republish.Publish(ctx, out); err != nil {
		return nil, fmt.Errorf("republish %d items: %w", len(out), err)
	}
	r.res.Tombstoned = len(out)
	r.e.metrics.AddItemsTombstoned(len(out))
	r.logger.Info("republished items below compaction version", map[string]any{
		"count":           len(out),
		"compact_version": v,
	})
	return keep, nil
}

func (r *typeRun) processItems(ctx context.Context, msgs []*types.ItemMessage) error {
	batchSize := r.e.cfg.PrefetchBatch
	var batches [][]string
	for start := 0; start < len(msgs); start += batchSize {
		end := min(start+batchSize, len(msgs))
		ids := make([]string, 0, end-start)
		for _, m := range msgs[start:end] {
			ids = append(ids, m.CustomID)
		}
		batches = append(batches, ids)
	}

	pf := startPrefetch(ctx, batches, r.e.cfg.PrefetchConcurrency, r.e.cfg.PrefetchWindow,
		func(ctx context.Context, ids []string) (map[string]*types.ItemRecord, error) {
			return r.e.store.BatchGetItems(ctx, r.typ, ids)
		})
	defer pf.stop()

	for start := 0; start < len(msgs); start += batchSize {
		prefetched, _, err := pf.next(ctx)
		if err != nil {
			return fmt.Errorf("prefetch item state: %w", err)
		}
		for _, m := range msgs[start:min(start+batchSize, len(msgs))] {
			if err := r.pollErrors(); err != nil {
				return err
			}
			if err := r.processItem(ctx, m, prefetched[m.CustomID]); err != nil {
				return err
			}
		}
	}
	return nil
}

// pollErrors fails fast on background write errors.
func (r *typeRun) pollErrors() error {
	if err := r.uploads.Err(); err != nil {
		return err
	}
	return r.writer.Err()
}

func (r *typeRun) processItem(ctx context.Context, m *types.ItemMessage, prefetched *types.ItemRecord) error {
	id := m.CustomID
	state, seen := r.cache.Get(id)
	if !seen {
		state = cached{rec: prefetched}
	}

	if m.IsDelete() {
		return r.processDelete(ctx, id, state)
	}

	payload, err := json.Marshal(m.Item)
	if err != nil {
		return fmt.Errorf("encode item %s: %w", id, err)
	}

	existing := state.rec
	switch {
	case existing == nil:
		return r.appendNew(ctx, id, m.Item, payload)
	case existing.FileName == r.slot.currentName() && !state.written:
		return r.duplicateWithinPage(ctx, id, m.Item, payload, existing)
	case existing.FileName != r.slot.currentName():
		return r.duplicateElsewhere(ctx, id, payload, existing)
	default:
		// Written to the current page earlier in this invocation.
		return nil
	}
}

func (r *typeRun) appendNew(ctx context.Context, id string, item *types.SitemapItem, payload []byte) error {
	err := r.slot.write(ctx, id, *item)
	if err != nil {
		if isItemRejected(err) {
			r.res.Skipped++
			r.e.metrics.AddRecordsSkipped(1)
			r.logger.Warn("item rejected by page", map[string]any{"item_id": id, "error": err.Error()})
			return nil
		}
		return err
	}
	now := r.e.now()
	rec := types.NewItemRecord(r.typ, id, r.slot.name, payload, now)
	if err := r.writer.Put(ctx, rec, types.ScopeBoth); err != nil {
		return err
	}
	r.shard.RecordAppend(now)
	r.cache.Add(id, cached{rec: rec, written: true})
	r.res.Appended++
	r.e.metrics.IncItemsAppended()
	return nil
}

func (r *typeRun) duplicateWithinPage(ctx context.Context, id string, item *types.SitemapItem, payload []byte, existing *types.ItemRecord) error {
	r.res.DuplicatesWithinPage++
	r.e.metrics.IncDuplicateWithinPage()

	if existing.ItemStatus == types.ItemRemoved {
		return r.restore(ctx, id, item, payload, existing)
	}

	if present, known := r.slot.has(id); known && !present && existing.ItemStatus.Visible() {
		if r.slot.reappend(id, *item) {
			r.res.Reappended++
			r.logger.Info("re-appended item missing from its page", map[string]any{
				"item_id":   id,
				"file_name": r.slot.name,
			})
			rec := existing.Clone()
			rec.ItemPayload = payload
			if rec.ItemStatus.CanTransition(types.ItemWritten) {
				if err := rec.Transition(types.ItemWritten, r.e.now()); err != nil {
					return err
				}
			}
			if err := r.writer.Put(ctx, rec, types.ScopeByPage); err != nil {
				return err
			}
			r.cache.Add(id, cached{rec: rec, written: true})
			return nil
		}
	}

	if unchanged(existing, payload) {
		r.cache.Add(id, cached{rec: existing, written: true})
		return nil
	}
	return r.refresh(ctx, id, payload, existing)
}

// restore brings back an item a repair removed from the current page. The
// item is appended to the page again when the page can take it; otherwise
// the upsert is left pending on the page for the next repair.
func (r *typeRun) restore(ctx context.Context, id string, item *types.SitemapItem, payload []byte, existing *types.ItemRecord) error {
	if _, err := r.slot.ensureOpen(ctx); err != nil {
		return err
	}
	present, _ := r.slot.has(id)
	if r.slot.name != existing.FileName || present || !r.slot.reappend(id, *item) {
		return r.refresh(ctx, id, payload, existing)
	}
	rec := existing.Clone()
	rec.ItemPayload = payload
	if err := rec.Transition(types.ItemWritten, r.e.now()); err != nil {
		return err
	}
	if err := r.writer.Put(ctx, rec, types.ScopeBoth); err != nil {
		return err
	}
	r.cache.Add(id, cached{rec: rec, written: true})
	r.res.Reappended++
	r.logger.Info("restored removed item to its page", map[string]any{
		"item_id":   id,
		"file_name": r.slot.name,
	})
	return nil
}

func (r *typeRun) duplicateElsewhere(ctx context.Context, id string, payload []byte, existing *types.ItemRecord) error {
	r.res.DuplicatesElsewhere++
	r.e.metrics.IncDuplicateElsewhere()
	if unchanged(existing, payload) {
		r.cache.Add(id, cached{rec: existing, written: true})
		return nil
	}
	return r.refresh(ctx, id, payload, existing)
}

// refresh records changed content of an item under the page that owns it.
// The owning page goes dirty. Content changes are persisted page-scoped, and
// only when item state is kept in the store; an upsert of a removed item is
// always persisted to both copies so the removal is undone. FileName is
// carried over from the owner either way.
func (r *typeRun) refresh(ctx context.Context, id string, payload []byte, existing *types.ItemRecord) error {
	r.markDirty(existing.FileName)
	rec := existing.Clone()
	rec.ItemPayload = payload
	scope := types.ScopeByPage
	if !existing.ItemStatus.Visible() {
		scope = types.ScopeBoth
	}
	if r.e.cfg.StoreItemStateInDB || scope == types.ScopeBoth {
		if err := markToWrite(rec, r.e.now()); err != nil {
			return err
		}
		if err := r.writer.Put(ctx, rec, scope); err != nil {
			return err
		}
	}
	r.cache.Add(id, cached{rec: rec, written: true})
	return nil
}

func (r *typeRun) processDelete(ctx context.Context, id string, state cached) error {
	existing := state.rec
	if existing == nil || !existing.ItemStatus.CanTransition(types.ItemToRemove) || existing.ItemStatus == types.ItemToRemove {
		r.res.DeletesSkipped++
		r.e.metrics.IncDeleteSkipped()
		return nil
	}
	// Both copies carry the removal so a later upsert sees it. The owner
	// is unchanged.
	rec := existing.Clone()
	if err := rec.Transition(types.ItemToRemove, r.e.now()); err != nil {
		return err
	}
	if err := r.writer.Put(ctx, rec, types.ScopeBoth); err != nil {
		return err
	}
	r.markDirty(rec.FileName)
	r.cache.Add(id, cached{rec: rec, written: true})
	r.res.Deleted++
	r.e.metrics.IncDeleteApplied()
	return nil
}

func (r *typeRun) markDirty(fileName string) {
	if fileName != "" {
		r.dirty[fileName] = true
	}
}

// finish flushes the open page, waits for every background write and
// persists the final counters.
func (r *typeRun) finish(ctx context.Context) error {
	opened := r.slot.open()
	if err := r.slot.flush(ctx); err != nil {
		return err
	}
	if err := r.writer.OnIdle(ctx); err != nil {
		return fmt.Errorf("write item records: %w", err)
	}
	if err := r.uploads.OnIdle(ctx); err != nil {
		return err
	}

	if opened {
		r.shard.TimeLastWritten = r.e.now()
		if err := r.e.store.PutShardState(ctx, r.shard); err != nil {
			return fmt.Errorf("persist shard state: %w", err)
		}
	}
	r.res.CurrentFile = r.shard.CurrentFileName

	for _, name := range slices.Sorted(maps.Keys(r.dirty)) {
		if err := r.dirtyFile(ctx, name); err != nil {
			return err
		}
	}
	r.logger.Info("type ingested", map[string]any{
		"appended":               r.res.Appended,
		"duplicates_within_page": r.res.DuplicatesWithinPage,
		"duplicates_elsewhere":   r.res.DuplicatesElsewhere,
		"deleted":                r.res.Deleted,
		"uploaded":               len(r.res.Uploaded),
		"current_file":           r.res.CurrentFile,
	})
	return nil
}

func (r *typeRun) dirtyFile(ctx context.Context, name string) error {
	file, err := r.e.store.GetFile(ctx, r.typ, name)
	if err != nil {
		return fmt.Errorf("load file record %s: %w", name, err)
	}
	if file == nil || file.FileStatus == types.FileEmpty || file.FileStatus.Terminal() {
		return nil
	}
	if err := file.MarkDirty(r.e.now()); err != nil {
		return err
	}
	if err := r.e.store.PutFile(ctx, file); err != nil {
		return fmt.Errorf("mark %s dirty: %w", name, err)
	}
	r.res.DirtyPages = append(r.res.DirtyPages, name)
	return nil
}

// unchanged reports whether an upsert of payload leaves rec as it is.
func unchanged(rec *types.ItemRecord, payload []byte) bool {
	return rec.ItemStatus.Visible() && bytes.Equal(rec.ItemPayload, payload)
}

// isItemRejected reports page errors confined to one item.
func isItemRejected(err error) bool {
	return errors.Is(err, page.ErrItemTooLarge) || errors.Is(err, page.ErrInvalidItem)
}

// markToWrite flags rec for re-emission. A pending removal is completed
// first: an upsert after a delete brings the item back.
func markToWrite(rec *types.ItemRecord, now time.Time) error {
	if rec.ItemStatus == types.ItemToRemove {
		if err := rec.Transition(types.ItemRemoved, now); err != nil {
			return err
		}
	}
	return rec.Transition(types.ItemToWrite, now)
}
