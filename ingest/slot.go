package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/justapithecus/sitemapper/blob"
	"github.com/justapithecus/sitemapper/notify"
	"github.com/justapithecus/sitemapper/page"
	"github.com/justapithecus/sitemapper/statestore"
	"github.com/justapithecus/sitemapper/types"
)

// maxNameCollisions bounds page name allocation retries.
const maxNameCollisions = 1000

// pageSlot holds the open page of one type. The page is opened on the first
// item that must be appended; until then nothing is read from or written to
// the blob store or the shard state.
type pageSlot struct {
	run *typeRun

	name     string
	file     *types.FileRecord
	page     *page.Sitemap
	appended int
	// ids holds the ids on the page. nil when they are unknown.
	ids map[string]bool
}

// open reports whether a page is open.
func (s *pageSlot) open() bool { return s.page != nil }

// currentName returns the page new items go to: the open page, or the page
// the shard state points at when none is open yet.
func (s *pageSlot) currentName() string {
	if s.open() {
		return s.name
	}
	return s.run.shard.CurrentFileName
}

// ensureOpen returns the open page, recovering it on first use.
func (s *pageSlot) ensureOpen(ctx context.Context) (*page.Sitemap, error) {
	if s.open() {
		return s.page, nil
	}
	if err := s.loadInitialPage(ctx); err != nil {
		return nil, err
	}
	return s.page, nil
}

// loadInitialPage reconstructs the page the shard was appending to.
func (s *pageSlot) loadInitialPage(ctx context.Context) error {
	r := s.run
	shard := r.shard
	if !shard.HasPage() {
		return s.allocate(ctx, "")
	}

	name := shard.CurrentFileName
	file, err := r.e.store.GetFile(ctx, r.typ, name)
	if err != nil {
		return fmt.Errorf("load file record %s: %w", name, err)
	}

	// Allocated and persisted, but never uploaded: take the same name again.
	if shard.FileCount == 1 && file != nil && file.FileStatus == types.FileEmpty && file.CountWritten == 0 &&
		(file.ShardID == "" || file.AllocatedBy(shard.ShardID)) {
		r.logger.Info("reusing unwritten first page", map[string]any{"file_name": name})
		r.e.metrics.IncPageReused()
		shard.ResetForReuse()
		return s.allocate(ctx, name)
	}

	key := r.e.blobKey(r.typ, name)
	data, ok, err := r.e.blobs.GetIfExists(ctx, key)
	if err != nil {
		return fmt.Errorf("load page %s: %w", name, err)
	}
	if !ok {
		r.logger.Warn("page missing from blob store, rotating", map[string]any{
			"file_name": name,
			"key":       key,
		})
		r.e.metrics.IncLostWrite()
		return s.allocate(ctx, "")
	}

	pg, err := page.Load(r.e.cfg.Limits, data)
	if err != nil {
		r.logger.Error("page is malformed, rotating", map[string]any{
			"file_name": name,
			"error":     err.Error(),
		})
		r.e.metrics.IncPageMalformed()
		if file == nil {
			file = types.NewFileRecord(r.typ, name, r.e.now())
		}
		if err := file.MarkMalformed(r.e.now()); err != nil {
			return err
		}
		if err := r.e.store.PutFile(ctx, file); err != nil {
			return fmt.Errorf("mark %s malformed: %w", name, err)
		}
		return s.allocate(ctx, "")
	}

	if pg.Full() {
		r.logger.Info("page is full, rotating", map[string]any{
			"file_name": name,
			"count":     pg.Count(),
			"size":      pg.Size(),
		})
		return s.allocate(ctx, "")
	}

	if file == nil {
		file = types.NewFileRecord(r.typ, name, r.e.now())
	}
	s.name = name
	s.file = file
	s.page = pg
	s.appended = 0
	s.ids = r.e.pageIDs(pg.Items())
	r.e.metrics.IncPageResumed()
	r.logger.Debug("resumed page", map[string]any{"file_name": name, "count": pg.Count()})
	return nil
}

// allocate opens a fresh page. A non-empty reuse keeps that name.
// The file record is created before the shard state points at it.
func (s *pageSlot) allocate(ctx context.Context, reuse string) error {
	r := s.run
	shard := r.shard
	now := r.e.now()

	var (
		name string
		file *types.FileRecord
	)
	if reuse != "" {
		name = reuse
		file = types.NewFileRecord(r.typ, name, now)
		file.ShardID = shard.ShardID
		if err := r.e.store.PutFile(ctx, file); err != nil {
			return fmt.Errorf("reset file record %s: %w", name, err)
		}
	} else {
		var err error
		name, file, err = s.createFile(ctx)
		if err != nil {
			return err
		}
	}

	shard.RotateTo(name, now)
	if err := r.e.store.PutShardState(ctx, shard); err != nil {
		return fmt.Errorf("persist shard state: %w", err)
	}

	s.name = name
	s.file = file
	s.page = page.New(r.e.cfg.Limits)
	s.appended = 0
	if r.e.ids != nil {
		s.ids = make(map[string]bool)
	} else {
		s.ids = nil
	}
	r.e.metrics.IncPageAllocated()
	r.res.Allocated = append(r.res.Allocated, name)
	r.logger.Info("allocated page", map[string]any{
		"file_name":  name,
		"file_count": shard.FileCount,
	})
	return nil
}

// createFile creates the record of the next page name. Names come from one
// sequence per type that every shard draws from. A taken name is adopted only
// when this shard allocated it and never wrote it (a crash between the record
// and shard writes); a name another shard holds is skipped even while its
// page is still unwritten.
func (s *pageSlot) createFile(ctx context.Context) (string, *types.FileRecord, error) {
	r := s.run
	shard := r.shard
	for range maxNameCollisions {
		now := r.e.now()
		name := r.e.namer.Name(r.e.filePrefix(r.typ), shard.FileCount+1, now)
		file := types.NewFileRecord(r.typ, name, now)
		file.ShardID = shard.ShardID
		err := r.e.store.CreateFile(ctx, file)
		if err == nil {
			return name, file, nil
		}
		if !errors.Is(err, statestore.ErrConditionFailed) {
			return "", nil, fmt.Errorf("create file record %s: %w", name, err)
		}
		existing, err := r.e.store.GetFile(ctx, r.typ, name)
		if err != nil {
			return "", nil, fmt.Errorf("load file record %s: %w", name, err)
		}
		if existing != nil && existing.AllocatedBy(shard.ShardID) &&
			existing.FileStatus == types.FileEmpty && existing.CountWritten == 0 {
			return name, existing, nil
		}
		r.logger.Warn("page name taken, skipping", map[string]any{
			"file_name": name,
			"owner":     ownerOf(existing),
		})
		shard.FileCount++
	}
	return "", nil, fmt.Errorf("no free page name after %d attempts", maxNameCollisions)
}

func ownerOf(f *types.FileRecord) string {
	if f == nil {
		return ""
	}
	return f.ShardID
}

// write appends item, rotating once when the open page is full.
func (s *pageSlot) write(ctx context.Context, id string, item types.SitemapItem) error {
	pg, err := s.ensureOpen(ctx)
	if err != nil {
		return err
	}
	err = pg.Write(item)
	if errors.Is(err, page.ErrOverflow) {
		if err := s.rotate(ctx); err != nil {
			return err
		}
		err = s.page.Write(item)
	}
	if err != nil {
		return err
	}
	s.appended++
	if s.ids != nil {
		s.ids[id] = true
	}
	return nil
}

// reappend appends an item the page should already hold. It never rotates:
// the item is owned by this page and must land on it or not at all.
func (s *pageSlot) reappend(id string, item types.SitemapItem) bool {
	if err := s.page.Write(item); err != nil {
		return false
	}
	s.appended++
	if s.ids != nil {
		s.ids[id] = true
	}
	return true
}

// has reports whether the open page is known to hold id. known is false
// when the page content cannot be checked.
func (s *pageSlot) has(id string) (present, known bool) {
	if !s.open() || s.ids == nil {
		return false, false
	}
	return s.ids[id], true
}

// rotate flushes the open page and allocates the next one.
func (s *pageSlot) rotate(ctx context.Context) error {
	if err := s.flush(ctx); err != nil {
		return err
	}
	return s.allocate(ctx, "")
}

// flush submits the open page for upload. A page that received no items
// is dropped without an upload.
func (s *pageSlot) flush(ctx context.Context) error {
	if !s.open() {
		return nil
	}
	r := s.run
	pg, file, name := s.page, s.file, s.name
	if name == r.shard.CurrentFileName {
		r.shard.CurrentFileItemCount = pg.Count()
	}
	s.page, s.file = nil, nil
	s.name = ""
	s.ids = nil
	if s.appended == 0 {
		return nil
	}

	data, err := pg.Encode(r.e.cfg.Compress)
	if err != nil {
		return fmt.Errorf("encode page %s: %w", name, err)
	}
	count := pg.Count()
	key := r.e.blobKey(r.typ, name)
	r.res.Uploaded = append(r.res.Uploaded, name)

	_, err = r.uploads.Submit(ctx, func(ctx context.Context) error {
		return r.upload(ctx, file, key, data, count)
	})
	return err
}

// upload writes the page, then records it as written and notifies.
// It runs on the upload pool and owns file.
func (r *typeRun) upload(ctx context.Context, file *types.FileRecord, key string, data []byte, count int) error {
	if err := r.e.blobs.Put(ctx, key, data, blob.ContentTypeFor(file.FileName)); err != nil {
		return fmt.Errorf("upload page %s: %w", file.FileName, err)
	}
	kind := types.PageUpdated
	if file.FileStatus == types.FileEmpty {
		kind = types.PageCreated
	}
	now := r.e.now()
	if err := file.MarkWritten(count, now); err != nil {
		return err
	}
	if err := r.e.store.PutFile(ctx, file); err != nil {
		return fmt.Errorf("persist file record %s: %w", file.FileName, err)
	}
	r.e.metrics.IncPageUploaded()
	r.logger.Info("uploaded page", map[string]any{
		"file_name": file.FileName,
		"key":       key,
		"count":     count,
		"bytes":     len(data),
	})
	ev := notify.NewEvent(kind, r.typ, file.FileName, key, count, now)
	if err := r.e.notifier.Notify(ctx, ev); err != nil {
		return fmt.Errorf("notify %s: %w", file.FileName, err)
	}
	return nil
}
