package reader

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/justapithecus/sitemapper/blob"
	"github.com/justapithecus/sitemapper/page"
	"github.com/justapithecus/sitemapper/statestore"
	"github.com/justapithecus/sitemapper/types"
)

var testNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func seed(t *testing.T) (*statestore.Client, *blob.StubStore) {
	t.Helper()
	ctx := t.Context()
	store := statestore.NewClient(statestore.NewMemoryBackend(), statestore.DefaultConfig(), nil)
	blobs := blob.NewStubStore()

	pg := page.New(page.DefaultLimits())
	_ = pg.Write(types.SitemapItem{Loc: "https://example.com/widgets/a"})
	_ = pg.Write(types.SitemapItem{Loc: "https://example.com/widgets/b"})
	blobs.Set(blob.Key("sitemaps", "widgets", "widgets-00001.xml"), pg.Bytes())

	f := types.NewFileRecord("widgets", "widgets-00001.xml", testNow)
	_ = f.MarkWritten(2, testNow)
	if err := store.PutFile(ctx, f); err != nil {
		t.Fatalf("PutFile failed: %v", err)
	}
	broken := types.NewFileRecord("widgets", "widgets-00002.xml", testNow)
	_ = broken.MarkWritten(1, testNow)
	if err := store.PutFile(ctx, broken); err != nil {
		t.Fatalf("PutFile failed: %v", err)
	}
	blobs.Set(blob.Key("sitemaps", "widgets", "widgets-00002.xml"), []byte("<urlset><url>"))

	for _, id := range []string{"a", "b"} {
		payload, _ := json.Marshal(types.SitemapItem{Loc: "https://example.com/widgets/" + id, LastMod: "2026-03-01"})
		rec := types.NewItemRecord("widgets", id, "widgets-00001.xml", payload, testNow)
		if id == "b" {
			rec.ItemStatus = types.ItemToRemove
		}
		if err := store.PutItem(ctx, rec, types.ScopeBoth); err != nil {
			t.Fatalf("PutItem failed: %v", err)
		}
	}

	s := types.NewShardState("widgets", "shard-0", testNow)
	s.RotateTo("widgets-00001.xml", testNow)
	s.RecordAppend(testNow)
	s.RecordAppend(testNow)
	if err := store.PutShardState(ctx, s); err != nil {
		t.Fatalf("PutShardState failed: %v", err)
	}
	return store, blobs
}

func TestStoreReader_InspectShard(t *testing.T) {
	store, blobs := seed(t)
	r := NewStoreReader(store, blobs, "sitemaps")

	v, err := r.InspectShard(t.Context(), "widgets", "shard-0")
	if err != nil {
		t.Fatalf("InspectShard failed: %v", err)
	}
	if v.CurrentFile != "widgets-00001.xml" || v.CurrentFileItemCount != 2 || v.FileCount != 1 {
		t.Errorf("unexpected view: %+v", v)
	}

	_, err = r.InspectShard(t.Context(), "widgets", "shard-9")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreReader_InspectFile(t *testing.T) {
	store, blobs := seed(t)
	r := NewStoreReader(store, blobs, "sitemaps")

	v, err := r.InspectFile(t.Context(), "widgets", "widgets-00001.xml")
	if err != nil {
		t.Fatalf("InspectFile failed: %v", err)
	}
	if !v.BlobPresent || v.BlobItems != 2 || v.Status != "written" || v.CountWritten != 2 {
		t.Errorf("unexpected view: %+v", v)
	}
	if v.PageRecords["written"] != 1 || v.PageRecords["toremove"] != 1 {
		t.Errorf("unexpected page records: %v", v.PageRecords)
	}

	broken, err := r.InspectFile(t.Context(), "widgets", "widgets-00002.xml")
	if err != nil {
		t.Fatalf("InspectFile failed: %v", err)
	}
	if broken.BlobError == "" {
		t.Error("expected blob error for unparseable page")
	}
}

func TestStoreReader_InspectItem(t *testing.T) {
	store, blobs := seed(t)
	r := NewStoreReader(store, blobs, "sitemaps")

	v, err := r.InspectItem(t.Context(), "widgets", "a")
	if err != nil {
		t.Fatalf("InspectItem failed: %v", err)
	}
	if v.Loc != "https://example.com/widgets/a" || v.LastMod != "2026-03-01" || v.PageStatus != "written" {
		t.Errorf("unexpected view: %+v", v)
	}

	_, err = r.InspectItem(t.Context(), "widgets", "zz")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreReader_ListFiles(t *testing.T) {
	store, blobs := seed(t)
	files, err := NewStoreReader(store, blobs, "sitemaps").ListFiles(t.Context(), "widgets")
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	if len(files) != 2 || files[0].FileName != "widgets-00001.xml" || files[1].FileName != "widgets-00002.xml" {
		t.Errorf("unexpected files: %+v", files)
	}
}

func TestStubReader_ShapeCorrect(t *testing.T) {
	r := NewStubReader()
	v, err := r.InspectFile(t.Context(), "widgets", "widgets-00001.xml")
	if err != nil || v.FileName != "widgets-00001.xml" || v.Key == "" {
		t.Errorf("unexpected stub view: %+v, %v", v, err)
	}
	files, _ := r.ListFiles(t.Context(), "widgets")
	if len(files) == 0 {
		t.Error("expected stub files")
	}
}
