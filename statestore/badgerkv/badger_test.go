package badgerkv

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/justapithecus/sitemapper/statestore"
	"github.com/justapithecus/sitemapper/types"
)

func openMem(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBackend_ConditionalPut(t *testing.T) {
	b := openMem(t)
	ctx := t.Context()
	key := statestore.Key{PK: "files#widgets", SK: "widgets-00001.xml"}

	if err := b.Put(ctx, statestore.Row{Key: key, Doc: []byte("a")}, statestore.CondIfNotExists); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := b.Put(ctx, statestore.Row{Key: key, Doc: []byte("b")}, statestore.CondIfNotExists); !errors.Is(err, statestore.ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed, got %v", err)
	}
	if err := b.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := b.Get(ctx, key, true); !errors.Is(err, statestore.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestBackend_QueryStaysInPartition(t *testing.T) {
	b := openMem(t)
	ctx := t.Context()

	var rows []statestore.Row
	for i := range 5 {
		rows = append(rows, statestore.Row{Key: statestore.Key{PK: "page#w#p1", SK: fmt.Sprintf("id-%d", i)}, Doc: []byte("x")})
	}
	// Shares the "page#w#p1" byte prefix but is a different partition.
	rows = append(rows, statestore.Row{Key: statestore.Key{PK: "page#w#p10", SK: "id-0"}, Doc: []byte("y")})
	if _, err := b.BatchPut(ctx, rows); err != nil {
		t.Fatalf("BatchPut failed: %v", err)
	}

	first, next, err := b.Query(ctx, "page#w#p1", "", 3)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(first) != 3 || next != "id-2" {
		t.Fatalf("unexpected first page: %d rows, next %q", len(first), next)
	}
	rest, next, err := b.Query(ctx, "page#w#p1", next, 3)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(rest) != 2 || next != "" {
		t.Errorf("unexpected second page: %d rows, next %q", len(rest), next)
	}
}

func TestBackend_WithClient(t *testing.T) {
	b := openMem(t)
	c := statestore.NewClient(b, statestore.DefaultConfig(), nil)
	ctx := t.Context()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	recs := []*types.ItemRecord{
		types.NewItemRecord("widgets", "a", "widgets-00001.xml", []byte("pa"), now),
		types.NewItemRecord("widgets", "b", "widgets-00001.xml", []byte("pb"), now),
	}
	if err := c.PutItems(ctx, recs, types.ScopeBoth); err != nil {
		t.Fatalf("PutItems failed: %v", err)
	}

	got, err := c.BatchGetItems(ctx, "widgets", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("BatchGetItems failed: %v", err)
	}
	if len(got) != 2 || string(got["b"].ItemPayload) != "pb" {
		t.Errorf("unexpected items: %+v", got)
	}

	onPage, err := c.ItemsByPage(ctx, "widgets", "widgets-00001.xml")
	if err != nil {
		t.Fatalf("ItemsByPage failed: %v", err)
	}
	if len(onPage) != 2 {
		t.Errorf("expected 2 by-page items, got %d", len(onPage))
	}
}
