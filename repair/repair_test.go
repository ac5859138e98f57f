package repair

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/justapithecus/sitemapper/blob"
	"github.com/justapithecus/sitemapper/metrics"
	"github.com/justapithecus/sitemapper/notify"
	"github.com/justapithecus/sitemapper/page"
	"github.com/justapithecus/sitemapper/statestore"
	"github.com/justapithecus/sitemapper/types"
)

const (
	testType    = "widgets"
	testPattern = `/widgets/([^/]+)$`
	pageOne     = "widgets-00001.xml"
	pageOther   = "widgets-00009.xml"
)

var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type harness struct {
	t       *testing.T
	be      *statestore.MemoryBackend
	store   *statestore.Client
	blobs   *blob.StubStore
	notes   *notify.Recorder
	metrics *metrics.Collector
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	be := statestore.NewMemoryBackend()
	m := metrics.NewCollector()
	return &harness{
		t:       t,
		be:      be,
		store:   statestore.NewClient(be, statestore.DefaultConfig(), m),
		blobs:   blob.NewStubStore(),
		notes:   &notify.Recorder{},
		metrics: m,
	}
}

func (h *harness) reconciler(cfg Config) *Reconciler {
	h.t.Helper()
	cfg.IDPattern = testPattern
	cfg.KeyPrefix = "sitemaps"
	cfg.Limits = page.Limits{MaxItems: 10, MaxBytes: 1 << 20}
	r, err := New(cfg, Deps{
		Store:    h.store,
		Blobs:    h.blobs,
		Notifier: h.notes,
		Metrics:  h.metrics,
		Now:      func() time.Time { return testNow },
	})
	if err != nil {
		h.t.Fatalf("New failed: %v", err)
	}
	return r
}

// seedPage stores a page with one entry per id and a written file record.
func (h *harness) seedPage(fileName string, ids ...string) {
	h.t.Helper()
	pg := page.New(page.Limits{MaxItems: 10, MaxBytes: 1 << 20})
	for _, id := range ids {
		if err := pg.Write(loc(id)); err != nil {
			h.t.Fatalf("Write failed: %v", err)
		}
	}
	h.blobs.Set(blob.Key("sitemaps", testType, fileName), pg.Bytes())
	h.seedFile(fileName, types.FileWritten, len(ids))
}

func (h *harness) seedFile(fileName string, status types.FileStatus, count int) {
	h.t.Helper()
	f := types.NewFileRecord(testType, fileName, testNow)
	f.FileStatus = status
	f.CountWritten = count
	if err := h.store.PutFile(h.t.Context(), f); err != nil {
		h.t.Fatalf("PutFile failed: %v", err)
	}
}

func (h *harness) seedItem(id, fileName string, status types.ItemStatus, scope types.Scope) {
	h.t.Helper()
	h.seedItemWith(id, fileName, status, scope, loc(id))
}

func (h *harness) seedItemWith(id, fileName string, status types.ItemStatus, scope types.Scope, item types.SitemapItem) {
	h.t.Helper()
	payload, _ := json.Marshal(item)
	rec := types.NewItemRecord(testType, id, fileName, payload, testNow)
	rec.ItemStatus = status
	if err := h.store.PutItem(h.t.Context(), rec, scope); err != nil {
		h.t.Fatalf("PutItem failed: %v", err)
	}
}

func (h *harness) item(id string) *types.ItemRecord {
	h.t.Helper()
	r, err := h.store.GetItem(h.t.Context(), testType, id)
	if err != nil || r == nil {
		h.t.Fatalf("item %s missing: %v", id, err)
	}
	return r
}

func (h *harness) pageItem(fileName, id string) *types.ItemRecord {
	h.t.Helper()
	r, err := h.store.GetPageItem(h.t.Context(), testType, fileName, id)
	if err != nil || r == nil {
		h.t.Fatalf("page item %s/%s missing: %v", fileName, id, err)
	}
	return r
}

func (h *harness) file(name string) *types.FileRecord {
	h.t.Helper()
	f, err := h.store.GetFile(h.t.Context(), testType, name)
	if err != nil || f == nil {
		h.t.Fatalf("file record %s missing: %v", name, err)
	}
	return f
}

func (h *harness) pageItems(fileName string) []types.SitemapItem {
	h.t.Helper()
	data, ok, err := h.blobs.GetIfExists(h.t.Context(), blob.Key("sitemaps", testType, fileName))
	if err != nil || !ok {
		h.t.Fatalf("page %s not found: ok=%v err=%v", fileName, ok, err)
	}
	items, err := page.Parse(data)
	if err != nil {
		h.t.Fatalf("Parse failed: %v", err)
	}
	return items
}

func loc(id string) types.SitemapItem {
	return types.SitemapItem{Loc: "https://example.com/widgets/" + id}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// seedConflict builds a page holding a, b and c where b is owned by another
// page and c has no record at all.
func seedConflict(h *harness) {
	h.seedPage(pageOne, "a", "b", "c")
	h.seedItem("a", pageOne, types.ItemWritten, types.ScopeBoth)
	h.seedItem("b", pageOther, types.ItemWritten, types.ScopeByID)
	h.seedItem("b", pageOne, types.ItemWritten, types.ScopeByPage)
}

func TestRepair_ConflictNeverStealsOwnership(t *testing.T) {
	h := newHarness(t)
	seedConflict(h)

	res, err := h.reconciler(Config{}).Repair(t.Context(), testType, pageOne)
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	if !equalStrings(res.Items, []string{"a", "c"}) {
		t.Errorf("expected items [a c], got %v", res.Items)
	}
	if !equalStrings(res.Conflicts, []string{"b"}) || !equalStrings(res.Recovered, []string{"c"}) {
		t.Errorf("unexpected result: %+v", res)
	}
	if !res.Rewrote {
		t.Error("expected page rewrite")
	}

	if got := h.item("b").FileName; got != pageOther {
		t.Errorf("canonical b repointed to %s", got)
	}
	if got := h.pageItem(pageOne, "b").ItemStatus; got != types.ItemRemoved {
		t.Errorf("expected page copy of b removed, got %s", got)
	}
	c := h.item("c")
	if c.FileName != pageOne || c.ItemStatus != types.ItemWritten {
		t.Errorf("unexpected recovered record: %+v", c)
	}
	if h.pageItem(pageOne, "c") == nil {
		t.Error("expected page copy of c")
	}

	items := h.pageItems(pageOne)
	if len(items) != 2 || items[0].Loc != loc("a").Loc || items[1].Loc != loc("c").Loc {
		t.Errorf("unexpected page content: %+v", items)
	}
	f := h.file(pageOne)
	if f.FileStatus != types.FileWritten || f.CountWritten != 2 {
		t.Errorf("unexpected file record: %+v", f)
	}

	events := h.notes.Events()
	if len(events) != 1 || events[0].EventType != types.PageUpdated || events[0].ItemCount != 2 {
		t.Errorf("unexpected events: %+v", events)
	}
	snap := h.metrics.Snapshot()
	if snap.RepairConflicts != 1 || snap.RepairRecovered != 1 || snap.RepairRewritten != 1 {
		t.Errorf("unexpected metrics: %+v", snap)
	}
}

func TestRepair_CrossCheckByPage(t *testing.T) {
	h := newHarness(t)
	h.seedPage(pageOne, "1", "2", "3", "5")
	h.seedItem("1", pageOne, types.ItemWritten, types.ScopeBoth)
	h.seedItem("2", "widgets-00007.xml", types.ItemWritten, types.ScopeBoth)
	h.seedItem("3", pageOne, types.ItemWritten, types.ScopeBoth)
	// 4 was recorded but never made it into the blob.
	h.seedItem("4", pageOne, types.ItemWritten, types.ScopeBoth)

	res, err := h.reconciler(Config{CrossCheckByPage: true}).Repair(t.Context(), testType, pageOne)
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	if !equalStrings(res.Items, []string{"1", "3", "5", "4"}) {
		t.Errorf("expected items [1 3 5 4], got %v", res.Items)
	}
	if !equalStrings(res.Conflicts, []string{"2"}) {
		t.Errorf("expected conflict [2], got %v", res.Conflicts)
	}
	if !equalStrings(res.LostWrites, []string{"4"}) || !equalStrings(res.Recovered, []string{"5"}) {
		t.Errorf("unexpected result: %+v", res)
	}
	if got := h.item("2").FileName; got != "widgets-00007.xml" {
		t.Errorf("canonical 2 repointed to %s", got)
	}
	if got := h.pageItem(pageOne, "2").ItemStatus; got != types.ItemRemoved {
		t.Errorf("expected removed page copy of 2, got %s", got)
	}
	if n := len(h.pageItems(pageOne)); n != 4 {
		t.Errorf("expected 4 entries, got %d", n)
	}
}

func TestRepair_ConflictOnlyInPageRecords(t *testing.T) {
	h := newHarness(t)
	h.seedPage(pageOne, "a")
	h.seedItem("a", pageOne, types.ItemWritten, types.ScopeBoth)
	h.seedItem("z", pageOther, types.ItemWritten, types.ScopeByID)
	h.seedItem("z", pageOne, types.ItemWritten, types.ScopeByPage)

	res, err := h.reconciler(Config{CrossCheckByPage: true}).Repair(t.Context(), testType, pageOne)
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	if !equalStrings(res.Items, []string{"a"}) || !equalStrings(res.Conflicts, []string{"z"}) {
		t.Errorf("unexpected result: %+v", res)
	}
	if got := h.pageItem(pageOne, "z").ItemStatus; got != types.ItemRemoved {
		t.Errorf("expected removed page copy of z, got %s", got)
	}
}

func TestRepair_ResolvedConflictIsNotRepeated(t *testing.T) {
	h := newHarness(t)
	h.seedPage(pageOne, "a")
	h.seedItem("a", pageOne, types.ItemWritten, types.ScopeBoth)
	h.seedItem("z", pageOther, types.ItemWritten, types.ScopeByID)
	h.seedItem("z", pageOne, types.ItemWritten, types.ScopeByPage)
	r := h.reconciler(Config{CrossCheckByPage: true})

	if _, err := r.Repair(t.Context(), testType, pageOne); err != nil {
		t.Fatalf("first Repair failed: %v", err)
	}
	_, puts := h.blobs.Calls()
	events := len(h.notes.Events())

	res, err := r.Repair(t.Context(), testType, pageOne)
	if err != nil {
		t.Fatalf("second Repair failed: %v", err)
	}
	if res.Rewrote || len(res.Conflicts) != 0 {
		t.Errorf("second pass must be a no-op, got %+v", res)
	}
	if _, again := h.blobs.Calls(); again != puts {
		t.Errorf("expected no upload on the second pass, got %d -> %d", puts, again)
	}
	if n := len(h.notes.Events()); n != events {
		t.Errorf("expected no event on the second pass, got %d -> %d", events, n)
	}
	if got := h.item("z").FileName; got != pageOther {
		t.Errorf("canonical z repointed to %s", got)
	}
}

func TestRepair_DirtyPageRestoresPendingUpsert(t *testing.T) {
	h := newHarness(t)
	h.seedPage(pageOne, "b")
	h.seedFile(pageOne, types.FileDirty, 1)
	h.seedItem("b", pageOne, types.ItemWritten, types.ScopeBoth)
	// a was removed by an earlier repair and upserted again since.
	h.seedItem("a", pageOne, types.ItemToWrite, types.ScopeBoth)
	// y is still pending removal and stays off the page.
	h.seedItem("y", pageOne, types.ItemToRemove, types.ScopeBoth)

	res, err := h.reconciler(Config{}).Repair(t.Context(), testType, pageOne)
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	if !equalStrings(res.Items, []string{"b", "a"}) {
		t.Errorf("expected items [b a], got %v", res.Items)
	}
	if !res.Rewrote {
		t.Error("expected page rewrite")
	}
	items := h.pageItems(pageOne)
	if len(items) != 2 || items[1].Loc != loc("a").Loc {
		t.Errorf("unexpected page content: %+v", items)
	}
	a := h.item("a")
	if a.FileName != pageOne || a.ItemStatus != types.ItemWritten {
		t.Errorf("unexpected record of a: %+v", a)
	}
	if got := h.pageItem(pageOne, "a").ItemStatus; got != types.ItemWritten {
		t.Errorf("expected page copy of a written, got %s", got)
	}
	if f := h.file(pageOne); f.FileStatus != types.FileWritten || f.CountWritten != 2 {
		t.Errorf("unexpected file record: %+v", f)
	}
}

func TestRepair_AppliesPendingStates(t *testing.T) {
	h := newHarness(t)
	h.seedPage(pageOne, "a", "b", "c")
	updated := loc("a")
	updated.LastMod = "2026-03-01"
	h.seedItemWith("a", pageOne, types.ItemToWrite, types.ScopeBoth, updated)
	h.seedItem("b", pageOne, types.ItemToRemove, types.ScopeBoth)
	h.seedItem("c", pageOne, types.ItemWritten, types.ScopeBoth)

	res, err := h.reconciler(Config{}).Repair(t.Context(), testType, pageOne)
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	if !equalStrings(res.Items, []string{"a", "c"}) {
		t.Errorf("expected items [a c], got %v", res.Items)
	}
	if !equalStrings(res.Rewritten, []string{"a"}) || !equalStrings(res.Removed, []string{"b"}) {
		t.Errorf("unexpected result: %+v", res)
	}

	items := h.pageItems(pageOne)
	if len(items) != 2 || items[0].LastMod != "2026-03-01" {
		t.Errorf("expected refreshed content, got %+v", items)
	}
	if got := h.item("a").ItemStatus; got != types.ItemWritten {
		t.Errorf("expected a written, got %s", got)
	}
	if got := h.item("b").ItemStatus; got != types.ItemRemoved {
		t.Errorf("expected b removed, got %s", got)
	}
	if got := h.pageItem(pageOne, "b").ItemStatus; got != types.ItemRemoved {
		t.Errorf("expected page copy of b removed, got %s", got)
	}
}

func TestRepair_DuplicateEntriesCollapse(t *testing.T) {
	h := newHarness(t)
	h.seedPage(pageOne, "a", "b", "a")
	h.seedItem("a", pageOne, types.ItemWritten, types.ScopeBoth)
	h.seedItem("b", pageOne, types.ItemWritten, types.ScopeBoth)

	res, err := h.reconciler(Config{}).Repair(t.Context(), testType, pageOne)
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	if res.Duplicates != 1 || !equalStrings(res.Items, []string{"a", "b"}) || !res.Rewrote {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestRepair_ConsistentPageNotRewritten(t *testing.T) {
	h := newHarness(t)
	h.seedPage(pageOne, "a", "b")
	h.seedItem("a", pageOne, types.ItemWritten, types.ScopeBoth)
	h.seedItem("b", pageOne, types.ItemWritten, types.ScopeBoth)

	res, err := h.reconciler(Config{}).Repair(t.Context(), testType, pageOne)
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	if res.Rewrote {
		t.Error("consistent page should not be rewritten")
	}
	if _, puts := h.blobs.Calls(); puts != 0 {
		t.Errorf("expected no uploads, got %d", puts)
	}
	if n := len(h.notes.Events()); n != 0 {
		t.Errorf("expected no events, got %d", n)
	}
}

func TestRepair_DryRunWritesNothing(t *testing.T) {
	h := newHarness(t)
	seedConflict(h)
	rows := h.be.Len()

	res, err := h.reconciler(Config{DryRun: true}).Repair(t.Context(), testType, pageOne)
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	if !res.DryRun || !equalStrings(res.Items, []string{"a", "c"}) || !res.Rewrote {
		t.Errorf("unexpected result: %+v", res)
	}
	if _, puts := h.blobs.Calls(); puts != 0 {
		t.Errorf("expected no uploads, got %d", puts)
	}
	if got := h.be.Len(); got != rows {
		t.Errorf("expected %d rows, got %d", rows, got)
	}
	if got := h.pageItem(pageOne, "b").ItemStatus; got != types.ItemWritten {
		t.Errorf("dry run changed b to %s", got)
	}
	if n := len(h.notes.Events()); n != 0 {
		t.Errorf("expected no events, got %d", n)
	}
}

func TestRepair_PatternMismatch(t *testing.T) {
	h := newHarness(t)
	h.seedPage(pageOne, "a")
	pg := page.New(page.Limits{MaxItems: 10, MaxBytes: 1 << 20})
	_ = pg.Write(loc("a"))
	_ = pg.Write(types.SitemapItem{Loc: "https://example.com/about"})
	h.blobs.Set(blob.Key("sitemaps", testType, pageOne), pg.Bytes())

	_, err := h.reconciler(Config{}).Repair(t.Context(), testType, pageOne)
	if !errors.Is(err, ErrPatternMismatch) {
		t.Errorf("expected ErrPatternMismatch, got %v", err)
	}
}

func TestRepair_MalformedPage(t *testing.T) {
	h := newHarness(t)
	h.seedFile(pageOne, types.FileWritten, 3)
	h.blobs.Set(blob.Key("sitemaps", testType, pageOne), []byte("<urlset><url><loc>"))

	_, err := h.reconciler(Config{}).Repair(t.Context(), testType, pageOne)
	if !errors.Is(err, ErrMalformedPage) {
		t.Fatalf("expected ErrMalformedPage, got %v", err)
	}
	if got := h.file(pageOne).FileStatus; got != types.FileMalformed {
		t.Errorf("expected malformed file record, got %s", got)
	}

	// A second repair refuses the abandoned page without reading it.
	_, err = h.reconciler(Config{}).Repair(t.Context(), testType, pageOne)
	if !errors.Is(err, ErrMalformedPage) {
		t.Errorf("expected ErrMalformedPage, got %v", err)
	}
}

func TestRepair_MissingBlobRestoresPageRecords(t *testing.T) {
	h := newHarness(t)
	h.seedFile(pageOne, types.FileWritten, 1)
	h.seedItem("a", pageOne, types.ItemWritten, types.ScopeBoth)

	res, err := h.reconciler(Config{CrossCheckByPage: true}).Repair(t.Context(), testType, pageOne)
	if err != nil {
		t.Fatalf("Repair failed: %v", err)
	}
	if !res.MissingBlob || !equalStrings(res.LostWrites, []string{"a"}) {
		t.Errorf("unexpected result: %+v", res)
	}
	items := h.pageItems(pageOne)
	if len(items) != 1 || items[0].Loc != loc("a").Loc {
		t.Errorf("unexpected page content: %+v", items)
	}
}

func TestRepair_NoFileRecord(t *testing.T) {
	h := newHarness(t)
	_, err := h.reconciler(Config{}).Repair(t.Context(), testType, pageOne)
	if !errors.Is(err, ErrNoFileRecord) {
		t.Errorf("expected ErrNoFileRecord, got %v", err)
	}
}

func TestRepair_RewriteOverflow(t *testing.T) {
	h := newHarness(t)
	h.seedPage(pageOne, "a", "b")
	h.seedItem("a", pageOne, types.ItemWritten, types.ScopeBoth)
	h.seedItem("b", pageOne, types.ItemWritten, types.ScopeBoth)

	r := h.reconciler(Config{})
	r.cfg.Limits = page.Limits{MaxItems: 1, MaxBytes: 1 << 20}
	_, err := r.Repair(t.Context(), testType, pageOne)
	if !errors.Is(err, ErrRewriteOverflow) {
		t.Errorf("expected ErrRewriteOverflow, got %v", err)
	}
}

func TestRepairType_SkipsMalformed(t *testing.T) {
	h := newHarness(t)
	h.seedPage("widgets-00001.xml", "a")
	h.seedPage("widgets-00002.xml", "b")
	h.seedFile("widgets-00003.xml", types.FileMalformed, 0)

	results, err := h.reconciler(Config{}).RepairType(t.Context(), testType)
	if err != nil {
		t.Fatalf("RepairType failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !equalStrings(results[0].Recovered, []string{"a"}) || !equalStrings(results[1].Recovered, []string{"b"}) {
		t.Errorf("unexpected results: %+v %+v", results[0], results[1])
	}
}

func TestNew_InvalidPattern(t *testing.T) {
	h := newHarness(t)
	_, err := New(Config{IDPattern: `/widgets/.*`}, Deps{Store: h.store, Blobs: h.blobs})
	if !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("expected ErrInvalidPattern, got %v", err)
	}
}
