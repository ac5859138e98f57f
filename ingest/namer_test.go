package ingest

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justapithecus/sitemapper/types"
)

func TestNamers(t *testing.T) {
	at := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)

	n, _ := NewNamer(SchemeIndex, false)
	if got := n.Name("widgets", 7, at); got != "widgets-00007.xml" {
		t.Errorf("index: got %q", got)
	}
	n, _ = NewNamer(SchemeDate, true)
	if got := n.Name("widgets", 2, at); got != "widgets-2026-03-01-00002.xml.gz" {
		t.Errorf("date: got %q", got)
	}
	n, _ = NewNamer(SchemeUUID, false)
	a, b := n.Name("widgets", 1, at), n.Name("widgets", 1, at)
	if a == b || !strings.HasPrefix(a, "widgets-") || !strings.HasSuffix(a, ".xml") {
		t.Errorf("uuid: got %q and %q", a, b)
	}
	if _, err := NewNamer("sequential", false); err == nil {
		t.Error("expected error for unknown scheme")
	}
}

func TestPrefetch_DeliversInOrder(t *testing.T) {
	batches := [][]string{{"a", "b"}, {"c"}, {"d", "e"}, {"f"}}
	var inFlight, peak atomic.Int32
	fetch := func(_ context.Context, ids []string) (map[string]*types.ItemRecord, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		out := make(map[string]*types.ItemRecord, len(ids))
		for _, id := range ids {
			out[id] = &types.ItemRecord{ItemID: id}
		}
		return out, nil
	}

	pf := startPrefetch(t.Context(), batches, 2, 2, fetch)
	defer pf.stop()

	for i, want := range batches {
		recs, ok, err := pf.next(t.Context())
		if err != nil || !ok {
			t.Fatalf("batch %d: ok=%v err=%v", i, ok, err)
		}
		for _, id := range want {
			if recs[id] == nil {
				t.Errorf("batch %d: missing %s", i, id)
			}
		}
	}
	if _, ok, _ := pf.next(t.Context()); ok {
		t.Error("expected end of batches")
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("expected at most 2 concurrent reads, saw %d", got)
	}
}

func TestPrefetch_Error(t *testing.T) {
	boom := errors.New("boom")
	fetch := func(_ context.Context, ids []string) (map[string]*types.ItemRecord, error) {
		if ids[0] == "b" {
			return nil, boom
		}
		return map[string]*types.ItemRecord{}, nil
	}
	pf := startPrefetch(t.Context(), [][]string{{"a"}, {"b"}, {"c"}}, 1, 1, fetch)
	defer pf.stop()

	if _, _, err := pf.next(t.Context()); err != nil {
		t.Fatalf("first batch failed: %v", err)
	}
	if _, _, err := pf.next(t.Context()); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}
