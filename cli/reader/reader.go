package reader

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/justapithecus/sitemapper/blob"
	"github.com/justapithecus/sitemapper/page"
	"github.com/justapithecus/sitemapper/statestore"
	"github.com/justapithecus/sitemapper/types"
)

// StoreReader reads views from the metadata and blob stores.
type StoreReader struct {
	store     *statestore.Client
	blobs     blob.Store
	keyPrefix string
}

var _ Reader = (*StoreReader)(nil)

// NewStoreReader creates a reader. blobs may be nil, in which case file
// views carry no blob state.
func NewStoreReader(store *statestore.Client, blobs blob.Store, keyPrefix string) *StoreReader {
	return &StoreReader{store: store, blobs: blobs, keyPrefix: keyPrefix}
}

// InspectShard implements Reader.
func (r *StoreReader) InspectShard(ctx context.Context, typ, shardID string) (*ShardView, error) {
	s, err := r.store.GetShardState(ctx, typ, shardID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("shard %s of type %s: %w", shardID, typ, ErrNotFound)
	}
	return &ShardView{
		Type:                 s.Type,
		ShardID:              s.ShardID,
		CurrentFile:          s.CurrentFileName,
		CurrentFileItemCount: s.CurrentFileItemCount,
		FileCount:            s.FileCount,
		TotalItemCount:       s.TotalItemCount,
		TimeFirstSeen:        s.TimeFirstSeen,
		TimeLastWritten:      s.TimeLastWritten,
	}, nil
}

// InspectFile implements Reader. An unreadable blob is reported in the
// view, not as an error.
func (r *StoreReader) InspectFile(ctx context.Context, typ, fileName string) (*FileView, error) {
	f, err := r.store.GetFile(ctx, typ, fileName)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, fmt.Errorf("file %s of type %s: %w", fileName, typ, ErrNotFound)
	}
	v := &FileView{
		Type:            f.Type,
		FileName:        f.FileName,
		Key:             blob.Key(r.keyPrefix, typ, fileName),
		Status:          string(f.FileStatus),
		CountWritten:    f.CountWritten,
		TimeFirstSeen:   f.TimeFirstSeen,
		TimeLastWritten: f.TimeLastWritten,
		TimeDirtied:     f.TimeDirtied,
		PageRecords:     make(map[string]int),
	}

	recs, err := r.store.ItemsByPage(ctx, typ, fileName)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		v.PageRecords[string(rec.ItemStatus)]++
	}

	if r.blobs == nil {
		return v, nil
	}
	data, ok, err := r.blobs.GetIfExists(ctx, v.Key)
	switch {
	case err != nil:
		v.BlobError = err.Error()
	case ok:
		v.BlobPresent = true
		v.BlobBytes = len(data)
		items, err := page.Parse(data)
		if err != nil {
			v.BlobError = err.Error()
		} else {
			v.BlobItems = len(items)
		}
	}
	return v, nil
}

// InspectItem implements Reader.
func (r *StoreReader) InspectItem(ctx context.Context, typ, itemID string) (*ItemView, error) {
	rec, err := r.store.GetItem(ctx, typ, itemID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("item %s of type %s: %w", itemID, typ, ErrNotFound)
	}
	v := &ItemView{
		Type:            rec.Type,
		ItemID:          rec.ItemID,
		FileName:        rec.FileName,
		Status:          string(rec.ItemStatus),
		TimeFirstSeen:   rec.TimeFirstSeen,
		TimeLastWritten: rec.TimeLastWritten,
	}
	var item types.SitemapItem
	if err := json.Unmarshal(rec.ItemPayload, &item); err == nil {
		v.Loc = item.Loc
		v.LastMod = item.LastMod
	}
	pageRec, err := r.store.GetPageItem(ctx, typ, rec.FileName, itemID)
	if err != nil {
		return nil, err
	}
	if pageRec != nil {
		v.PageStatus = string(pageRec.ItemStatus)
	}
	return v, nil
}

// ListFiles implements Reader.
func (r *StoreReader) ListFiles(ctx context.Context, typ string) ([]FileListEntry, error) {
	files, err := r.store.ListFiles(ctx, typ)
	if err != nil {
		return nil, err
	}
	out := make([]FileListEntry, len(files))
	for i, f := range files {
		out[i] = FileListEntry{
			FileName:        f.FileName,
			Status:          string(f.FileStatus),
			CountWritten:    f.CountWritten,
			TimeLastWritten: f.TimeLastWritten,
		}
	}
	return out, nil
}
