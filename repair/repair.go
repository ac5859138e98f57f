// Package repair reconciles pages against the metadata store.
//
// A repair loads a page from the blob store, recovers the id of every entry
// with a configured pattern, and compares the result with the item records:
//
//   - an id whose canonical record points at another page is a conflict;
//     the page-scoped copy here goes to removed and the id leaves the page.
//     The canonical copy is never repointed.
//   - an id without any record is adopted: a written canonical record owned
//     by this page is created.
//   - an id owned here without a page-scoped copy gets the copy restored.
//   - with CrossCheckByPage, page-scoped copies are walked too: conflicts are
//     resolved the same way and visible items missing from the blob are
//     added back. A conflict an earlier repair already resolved is skipped.
//   - a dirty page always has its pending upserts (towrite copies missing
//     from the blob) added back, cross check or not.
//
// Pending item states are then applied (towrite re-emits the stored payload,
// toremove drops the entry) and the page is rewritten.
package repair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/justapithecus/sitemapper/blob"
	"github.com/justapithecus/sitemapper/log"
	"github.com/justapithecus/sitemapper/metrics"
	"github.com/justapithecus/sitemapper/notify"
	"github.com/justapithecus/sitemapper/page"
	"github.com/justapithecus/sitemapper/statestore"
	"github.com/justapithecus/sitemapper/types"
)

var (
	// ErrInvalidPattern is returned for id patterns without a capture group.
	ErrInvalidPattern = page.ErrInvalidPattern
	// ErrPatternMismatch is returned when some page entry yields no id.
	ErrPatternMismatch = errors.New("repair: id pattern does not match every entry")
	// ErrMalformedPage is returned for pages that cannot be parsed.
	ErrMalformedPage = errors.New("repair: malformed page")
	// ErrRewriteOverflow is returned when the repaired page exceeds a ceiling.
	ErrRewriteOverflow = errors.New("repair: repaired page exceeds page limits")
	// ErrNoFileRecord is returned when the page has no file record.
	ErrNoFileRecord = errors.New("repair: no file record")
)

// Config configures a Reconciler.
type Config struct {
	// IDPattern recovers the item id from an entry location (required).
	IDPattern string
	// CrossCheckByPage also walks the page-scoped records of the page.
	CrossCheckByPage bool
	// DryRun computes the repair without writing anything.
	DryRun bool
	// Limits are the page ceilings of the rewritten page.
	Limits page.Limits
	// KeyPrefix is prepended to every blob key.
	KeyPrefix string
	// WriterConcurrency and WriterQueue size the item record writer.
	WriterConcurrency int
	WriterQueue       int
}

// Deps are the collaborators of a Reconciler.
type Deps struct {
	Store    *statestore.Client
	Blobs    blob.Store
	Notifier notify.Notifier
	Logger   *log.Logger
	Metrics  *metrics.Collector
	Now      func() time.Time
}

// Reconciler repairs pages.
type Reconciler struct {
	cfg      Config
	ids      *page.IDPattern
	store    *statestore.Client
	blobs    blob.Store
	notifier notify.Notifier
	logger   *log.Logger
	metrics  *metrics.Collector
	now      func() time.Time
}

// New creates a reconciler. The id pattern is validated here.
func New(cfg Config, deps Deps) (*Reconciler, error) {
	ids, err := page.CompileIDPattern(cfg.IDPattern)
	if err != nil {
		return nil, err
	}
	if deps.Store == nil || deps.Blobs == nil {
		return nil, errors.New("repair: store and blob store are required")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Reconciler{
		cfg:      cfg,
		ids:      ids,
		store:    deps.Store,
		blobs:    deps.Blobs,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		now:      deps.Now,
	}, nil
}

// Result describes one page repair. Id lists are in page order.
type Result struct {
	Type     string `json:"type"`
	FileName string `json:"file_name"`
	DryRun   bool   `json:"dry_run,omitempty"`

	BlobItems  int      `json:"blob_items"`
	Duplicates int      `json:"duplicates"`
	Conflicts  []string `json:"conflicts,omitempty"`
	Recovered  []string `json:"recovered,omitempty"`
	Restored   []string `json:"restored,omitempty"`
	LostWrites []string `json:"lost_writes,omitempty"`
	Rewritten  []string `json:"rewritten,omitempty"`
	Removed    []string `json:"removed,omitempty"`

	// Items are the ids of the repaired page.
	Items       []string `json:"items"`
	Rewrote     bool     `json:"rewrote"`
	MissingBlob bool     `json:"missing_blob,omitempty"`
}

// entry is one id of the working set.
type entry struct {
	id   string
	item *types.SitemapItem
	rec  *types.ItemRecord
	// ownedHere is set when the canonical copy points at this page.
	ownedHere bool
}

// plan is a repair computed but not yet applied.
type plan struct {
	typ, fileName string
	file          *types.FileRecord
	working       []*entry
	// writes are the record writes by scope, in decision order. A later
	// decision for the same id and scope replaces an earlier one.
	writes map[types.Scope]map[string]*types.ItemRecord
	order  []string
	// conflicts are the conflicted ids in first-seen order.
	conflicts []string
}

func (p *plan) write(rec *types.ItemRecord, scope types.Scope) {
	if p.writes[scope] == nil {
		p.writes[scope] = make(map[string]*types.ItemRecord)
	}
	if _, seen := p.writes[types.ScopeByPage][rec.ItemID]; !seen {
		if _, seen := p.writes[types.ScopeBoth][rec.ItemID]; !seen {
			p.order = append(p.order, rec.ItemID)
		}
	}
	// One scope per id: the last decision wins.
	delete(p.writes[types.ScopeByPage], rec.ItemID)
	delete(p.writes[types.ScopeBoth], rec.ItemID)
	p.writes[scope][rec.ItemID] = rec
}

func (p *plan) addConflict(id string) {
	if !slices.Contains(p.conflicts, id) {
		p.conflicts = append(p.conflicts, id)
	}
}

func (p *plan) drop(id string) {
	p.working = slices.DeleteFunc(p.working, func(e *entry) bool { return e.id == id })
}

func (p *plan) has(id string) bool {
	return slices.ContainsFunc(p.working, func(e *entry) bool { return e.id == id })
}

// Repair reconciles one page.
func (r *Reconciler) Repair(ctx context.Context, typ, fileName string) (*Result, error) {
	res := &Result{Type: typ, FileName: fileName, DryRun: r.cfg.DryRun}
	logger := r.logger.With("type", typ).With("file_name", fileName)

	file, err := r.store.GetFile(ctx, typ, fileName)
	if err != nil {
		return nil, fmt.Errorf("load file record: %w", err)
	}
	if file == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoFileRecord, typ, fileName)
	}
	if file.FileStatus.Terminal() {
		return nil, fmt.Errorf("%w: %s is marked malformed", ErrMalformedPage, fileName)
	}

	items, err := r.loadPage(ctx, typ, file, res)
	if err != nil {
		return nil, err
	}

	p, err := r.plan(ctx, typ, file, items, res)
	if err != nil {
		return nil, err
	}
	r.freshen(p, res)

	pg, err := r.render(p)
	if err != nil {
		return nil, err
	}
	res.Rewrote = r.needsRewrite(p, res)

	if !r.cfg.DryRun {
		if err := r.apply(ctx, p, pg, res); err != nil {
			return nil, err
		}
	}
	r.metrics.AddRepair(len(res.Conflicts), len(res.Recovered)+len(res.LostWrites), len(res.Removed), res.Rewrote && !r.cfg.DryRun)
	logger.Info("page repaired", map[string]any{
		"items":       len(res.Items),
		"conflicts":   len(res.Conflicts),
		"recovered":   len(res.Recovered),
		"restored":    len(res.Restored),
		"lost_writes": len(res.LostWrites),
		"removed":     len(res.Removed),
		"rewritten":   len(res.Rewritten),
		"rewrote":     res.Rewrote,
		"dry_run":     r.cfg.DryRun,
	})
	return res, nil
}

// loadPage returns the entries of the page. A missing blob is an empty page.
func (r *Reconciler) loadPage(ctx context.Context, typ string, file *types.FileRecord, res *Result) ([]types.SitemapItem, error) {
	key := blob.Key(r.cfg.KeyPrefix, typ, file.FileName)
	data, ok, err := r.blobs.GetIfExists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load page: %w", err)
	}
	if !ok {
		res.MissingBlob = true
		return nil, nil
	}
	items, err := page.Parse(data)
	if err != nil {
		if !r.cfg.DryRun {
			if err := file.MarkMalformed(r.now()); err != nil {
				return nil, err
			}
			if err := r.store.PutFile(ctx, file); err != nil {
				return nil, fmt.Errorf("mark malformed: %w", err)
			}
		}
		r.metrics.IncPageMalformed()
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedPage, file.FileName, err)
	}
	return items, nil
}

func (r *Reconciler) plan(ctx context.Context, typ string, file *types.FileRecord, items []types.SitemapItem, res *Result) (*plan, error) {
	fileName := file.FileName
	now := r.now()

	ids, bad, ok := r.ids.IDs(items)
	if !ok {
		return nil, fmt.Errorf("%w: entry %d (%s) of %s", ErrPatternMismatch, bad, items[bad].Loc, fileName)
	}
	res.BlobItems = len(items)

	// First occurrence wins.
	var blobOrder []*entry
	inBlob := make(map[string]bool, len(ids))
	for i, id := range ids {
		if inBlob[id] {
			res.Duplicates++
			continue
		}
		inBlob[id] = true
		blobOrder = append(blobOrder, &entry{id: id, item: &items[i]})
	}
	blobIDs := make([]string, len(blobOrder))
	for i, e := range blobOrder {
		blobIDs[i] = e.id
	}

	// A dirty page may hold pending upserts of items that are no longer on
	// it, so its page-scoped copies are walked even without a cross check.
	crossCheck := r.cfg.CrossCheckByPage
	walkPage := crossCheck || file.FileStatus == types.FileDirty

	byPage := make(map[string]*types.ItemRecord)
	candidates := slices.Clone(blobIDs)
	if walkPage {
		recs, err := r.store.ItemsByPage(ctx, typ, fileName)
		if err != nil {
			return nil, fmt.Errorf("query page items: %w", err)
		}
		for _, rec := range recs {
			byPage[rec.ItemID] = rec
			if !inBlob[rec.ItemID] {
				candidates = append(candidates, rec.ItemID)
			}
		}
	} else if len(blobIDs) > 0 {
		recs, err := r.store.BatchGetPageItems(ctx, typ, fileName, blobIDs)
		if err != nil {
			return nil, fmt.Errorf("load page items: %w", err)
		}
		byPage = recs
	}

	canonical := map[string]*types.ItemRecord{}
	if len(candidates) > 0 {
		var err error
		if canonical, err = r.store.BatchGetItems(ctx, typ, candidates); err != nil {
			return nil, fmt.Errorf("load items: %w", err)
		}
	}

	p := &plan{typ: typ, fileName: fileName, file: file, writes: make(map[types.Scope]map[string]*types.ItemRecord)}

	for _, e := range blobOrder {
		canon, pageRec := canonical[e.id], byPage[e.id]
		switch {
		case canon != nil && canon.FileName != fileName:
			if err := p.conflict(e.id, canon, pageRec, now); err != nil {
				return nil, err
			}
		case pageRec != nil:
			e.rec, e.ownedHere = pageRec, true
			if canon == nil {
				e.rec = pageRec.Clone()
				p.write(e.rec, types.ScopeBoth)
				res.Restored = append(res.Restored, e.id)
			}
			p.working = append(p.working, e)
		case canon == nil:
			payload, err := json.Marshal(e.item)
			if err != nil {
				return nil, err
			}
			e.rec = types.NewItemRecord(typ, e.id, fileName, payload, now)
			e.ownedHere = true
			p.write(e.rec, types.ScopeBoth)
			p.working = append(p.working, e)
			res.Recovered = append(res.Recovered, e.id)
		default:
			e.rec = canon.Clone()
			e.ownedHere = true
			p.write(e.rec, types.ScopeByPage)
			p.working = append(p.working, e)
			res.Restored = append(res.Restored, e.id)
		}
	}

	if walkPage {
		for _, id := range slices.Sorted(maps.Keys(byPage)) {
			pageRec := byPage[id]
			canon := canonical[id]
			if canon != nil && canon.FileName != fileName {
				// Resolved by an earlier repair: nothing left to hand over.
				if !crossCheck || (!inBlob[id] && pageRec.ItemStatus == types.ItemRemoved) {
					continue
				}
				// May replace the decision of the blob pass for the same id.
				if err := p.conflict(id, canon, pageRec, now); err != nil {
					return nil, err
				}
				continue
			}
			if inBlob[id] || !pageRec.ItemStatus.Visible() {
				continue
			}
			if !crossCheck && pageRec.ItemStatus != types.ItemToWrite {
				continue
			}
			item, err := decodePayload(pageRec.ItemPayload)
			if err != nil {
				r.logger.Warn("skipping page record with unreadable payload", map[string]any{
					"item_id": id,
					"error":   err.Error(),
				})
				continue
			}
			e := &entry{id: id, item: item, rec: pageRec, ownedHere: canon != nil}
			if canon == nil {
				rec := pageRec.Clone()
				if err := rec.Transition(types.ItemWritten, now); err != nil {
					return nil, err
				}
				e.rec, e.ownedHere = rec, true
				p.write(rec, types.ScopeBoth)
			}
			p.working = append(p.working, e)
			res.LostWrites = append(res.LostWrites, id)
		}
	}

	res.Conflicts = p.conflicts
	return p, nil
}

// conflict hands id over to its canonical owner: the page-scoped copy here
// becomes removed and the id leaves the working set.
func (p *plan) conflict(id string, canon, pageRec *types.ItemRecord, now time.Time) error {
	rec := pageRec
	if rec == nil {
		rec = canon.Clone()
		rec.FileName = p.fileName
	} else {
		rec = rec.Clone()
	}
	if err := markRemoved(rec, now); err != nil {
		return err
	}
	p.write(rec, types.ScopeByPage)
	p.drop(id)
	p.addConflict(id)
	return nil
}

// freshen applies pending item states to the working set.
func (r *Reconciler) freshen(p *plan, res *Result) {
	now := r.now()
	kept := p.working[:0]
	for _, e := range p.working {
		scope := types.ScopeByPage
		if e.ownedHere {
			scope = types.ScopeBoth
		}
		switch e.rec.ItemStatus {
		case types.ItemToWrite:
			item, err := decodePayload(e.rec.ItemPayload)
			if err != nil {
				r.logger.Warn("keeping page entry, pending payload unreadable", map[string]any{
					"item_id": e.id,
					"error":   err.Error(),
				})
				kept = append(kept, e)
				continue
			}
			rec := e.rec.Clone()
			_ = rec.Transition(types.ItemWritten, now)
			e.rec, e.item = rec, item
			p.write(rec, scope)
			res.Rewritten = append(res.Rewritten, e.id)
			kept = append(kept, e)
		case types.ItemToRemove, types.ItemRemoved:
			if e.rec.ItemStatus == types.ItemToRemove {
				rec := e.rec.Clone()
				_ = rec.Transition(types.ItemRemoved, now)
				p.write(rec, scope)
			}
			res.Removed = append(res.Removed, e.id)
		default:
			kept = append(kept, e)
		}
	}
	p.working = kept
	res.Items = make([]string, len(kept))
	for i, e := range kept {
		res.Items[i] = e.id
	}
}

// render builds the repaired page.
func (r *Reconciler) render(p *plan) (*page.Sitemap, error) {
	pg := page.New(r.cfg.Limits)
	for _, e := range p.working {
		if err := pg.Write(*e.item); err != nil {
			if errors.Is(err, page.ErrOverflow) {
				return nil, fmt.Errorf("%w: %s at %d items", ErrRewriteOverflow, p.fileName, pg.Count())
			}
			return nil, fmt.Errorf("rewrite %s: item %s: %w", p.fileName, e.id, err)
		}
	}
	return pg, nil
}

// needsRewrite reports whether the page content changes.
func (r *Reconciler) needsRewrite(p *plan, res *Result) bool {
	return res.Duplicates > 0 || len(res.Conflicts) > 0 || len(res.LostWrites) > 0 ||
		len(res.Rewritten) > 0 || len(res.Removed) > 0 || p.file.FileStatus == types.FileDirty
}

// apply persists records, uploads the page and marks it written.
func (r *Reconciler) apply(ctx context.Context, p *plan, pg *page.Sitemap, res *Result) error {
	writer := statestore.NewItemWriter(r.store, statestore.ItemWriterConfig{
		Concurrency: r.cfg.WriterConcurrency,
		QueueSize:   r.cfg.WriterQueue,
	})
	defer writer.Close()
	for _, id := range p.order {
		for _, scope := range []types.Scope{types.ScopeBoth, types.ScopeByPage} {
			if rec, ok := p.writes[scope][id]; ok {
				if err := writer.Put(ctx, rec, scope); err != nil {
					return fmt.Errorf("persist records: %w", err)
				}
			}
		}
	}
	if err := writer.OnIdle(ctx); err != nil {
		return fmt.Errorf("persist records: %w", err)
	}

	key := blob.Key(r.cfg.KeyPrefix, p.typ, p.fileName)
	if res.Rewrote {
		data, err := pg.Encode(strings.HasSuffix(p.fileName, ".gz"))
		if err != nil {
			return err
		}
		if err := r.blobs.Put(ctx, key, data, blob.ContentTypeFor(p.fileName)); err != nil {
			return fmt.Errorf("upload page: %w", err)
		}
	}

	now := r.now()
	if !res.Rewrote && p.file.FileStatus == types.FileEmpty {
		return nil
	}
	if err := p.file.MarkWritten(pg.Count(), now); err != nil {
		return err
	}
	if err := r.store.PutFile(ctx, p.file); err != nil {
		return fmt.Errorf("persist file record: %w", err)
	}
	if res.Rewrote {
		ev := notify.NewEvent(types.PageUpdated, p.typ, p.fileName, key, pg.Count(), now)
		if err := r.notifier.Notify(ctx, ev); err != nil {
			return fmt.Errorf("notify: %w", err)
		}
	}
	return nil
}

// RepairType repairs every page of typ that is not marked malformed.
// It stops at the first failure and returns the results so far.
func (r *Reconciler) RepairType(ctx context.Context, typ string) ([]*Result, error) {
	files, err := r.store.ListFiles(ctx, typ)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	var out []*Result
	for _, f := range files {
		if f.FileStatus.Terminal() {
			continue
		}
		res, err := r.Repair(ctx, typ, f.FileName)
		if err != nil {
			return out, fmt.Errorf("repair %s: %w", f.FileName, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// markRemoved moves rec to removed through toremove.
func markRemoved(rec *types.ItemRecord, now time.Time) error {
	if rec.ItemStatus == types.ItemRemoved {
		return nil
	}
	if rec.ItemStatus != types.ItemToRemove {
		if err := rec.Transition(types.ItemToRemove, now); err != nil {
			return err
		}
	}
	return rec.Transition(types.ItemRemoved, now)
}

func decodePayload(payload []byte) (*types.SitemapItem, error) {
	var item types.SitemapItem
	if err := json.Unmarshal(payload, &item); err != nil {
		return nil, err
	}
	if item.Loc == "" {
		return nil, page.ErrInvalidItem
	}
	return &item, nil
}
