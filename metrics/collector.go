// Package metrics provides per-invocation counters for ingestion and repair.
//
// The Collector accumulates counters during a single invocation. It is a leaf
// package; components hold a *Collector and every method is nil-receiver safe
// so tests and tools may pass nil.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
type Snapshot struct {
	// Decode
	RecordsReceived int64 `json:"records_received"`
	RecordsSkipped  int64 `json:"records_skipped"`

	// Ingestion decisions
	ItemsDeduped         int64 `json:"items_deduped"`
	ItemsTombstoned      int64 `json:"items_tombstoned"`
	ItemsAppended        int64 `json:"items_appended"`
	DuplicatesWithinPage int64 `json:"duplicates_within_page"`
	DuplicatesElsewhere  int64 `json:"duplicates_elsewhere"`
	DeletesApplied       int64 `json:"deletes_applied"`
	DeletesSkipped       int64 `json:"deletes_skipped"`

	// Pages
	PagesAllocated int64 `json:"pages_allocated"`
	PagesReused    int64 `json:"pages_reused"`
	PagesResumed   int64 `json:"pages_resumed"`
	PagesUploaded  int64 `json:"pages_uploaded"`
	PagesMalformed int64 `json:"pages_malformed"`
	LostWrites     int64 `json:"lost_writes"`

	// Metadata store
	StoreBatchWrites int64 `json:"store_batch_writes"`
	StoreRetries     int64 `json:"store_retries"`

	// Repair
	RepairConflicts int64 `json:"repair_conflicts"`
	RepairRecovered int64 `json:"repair_recovered"`
	RepairRemoved   int64 `json:"repair_removed"`
	RepairRewritten int64 `json:"repair_rewritten"`
}

// Collector accumulates counters during a single invocation.
// Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex
	s  Snapshot
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) add(f func(s *Snapshot)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	f(&c.s)
	c.mu.Unlock()
}

// --- Decode ---

// AddRecordsReceived records n raw stream records.
func (c *Collector) AddRecordsReceived(n int) {
	c.add(func(s *Snapshot) { s.RecordsReceived += int64(n) })
}

// AddRecordsSkipped records n records dropped as malformed.
func (c *Collector) AddRecordsSkipped(n int) {
	c.add(func(s *Snapshot) { s.RecordsSkipped += int64(n) })
}

// --- Ingestion ---

// AddItemsDeduped records n messages superseded within the batch.
func (c *Collector) AddItemsDeduped(n int) {
	c.add(func(s *Snapshot) { s.ItemsDeduped += int64(n) })
}

// AddItemsTombstoned records n messages republished at the compaction version.
func (c *Collector) AddItemsTombstoned(n int) {
	c.add(func(s *Snapshot) { s.ItemsTombstoned += int64(n) })
}

// IncItemsAppended records one item appended to a page.
func (c *Collector) IncItemsAppended() {
	c.add(func(s *Snapshot) { s.ItemsAppended++ })
}

// IncDuplicateWithinPage records a duplicate of an item already on the open page.
func (c *Collector) IncDuplicateWithinPage() {
	c.add(func(s *Snapshot) { s.DuplicatesWithinPage++ })
}

// IncDuplicateElsewhere records a duplicate of an item owned by another page.
func (c *Collector) IncDuplicateElsewhere() {
	c.add(func(s *Snapshot) { s.DuplicatesElsewhere++ })
}

// IncDeleteApplied records a delete that marked an item for removal.
func (c *Collector) IncDeleteApplied() {
	c.add(func(s *Snapshot) { s.DeletesApplied++ })
}

// IncDeleteSkipped records a delete of an unknown item.
func (c *Collector) IncDeleteSkipped() {
	c.add(func(s *Snapshot) { s.DeletesSkipped++ })
}

// --- Pages ---

// IncPageAllocated records a new page name allocation.
func (c *Collector) IncPageAllocated() {
	c.add(func(s *Snapshot) { s.PagesAllocated++ })
}

// IncPageReused records reuse of a never-uploaded first page name.
func (c *Collector) IncPageReused() {
	c.add(func(s *Snapshot) { s.PagesReused++ })
}

// IncPageResumed records resuming appends to an existing page.
func (c *Collector) IncPageResumed() {
	c.add(func(s *Snapshot) { s.PagesResumed++ })
}

// IncPageUploaded records a successful page upload.
func (c *Collector) IncPageUploaded() {
	c.add(func(s *Snapshot) { s.PagesUploaded++ })
}

// IncPageMalformed records a page abandoned as unparseable.
func (c *Collector) IncPageMalformed() {
	c.add(func(s *Snapshot) { s.PagesMalformed++ })
}

// IncLostWrite records a page the metadata store knows but the blob store lacks.
func (c *Collector) IncLostWrite() {
	c.add(func(s *Snapshot) { s.LostWrites++ })
}

// --- Metadata store ---
// Store counters are per call, not per row.

// IncStoreBatchWrite records one batch write call.
func (c *Collector) IncStoreBatchWrite() {
	c.add(func(s *Snapshot) { s.StoreBatchWrites++ })
}

// IncStoreRetry records one resubmission of a partial batch.
func (c *Collector) IncStoreRetry() {
	c.add(func(s *Snapshot) { s.StoreRetries++ })
}

// --- Repair ---

// AddRepair records the outcome of one page repair.
func (c *Collector) AddRepair(conflicts, recovered, removed int, rewritten bool) {
	c.add(func(s *Snapshot) {
		s.RepairConflicts += int64(conflicts)
		s.RepairRecovered += int64(recovered)
		s.RepairRemoved += int64(removed)
		if rewritten {
			s.RepairRewritten++
		}
	})
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}

// Fields returns the snapshot as log fields.
func (s Snapshot) Fields() map[string]any {
	return map[string]any{
		"records_received":       s.RecordsReceived,
		"records_skipped":        s.RecordsSkipped,
		"items_deduped":          s.ItemsDeduped,
		"items_tombstoned":       s.ItemsTombstoned,
		"items_appended":         s.ItemsAppended,
		"duplicates_within_page": s.DuplicatesWithinPage,
		"duplicates_elsewhere":   s.DuplicatesElsewhere,
		"deletes_applied":        s.DeletesApplied,
		"pages_allocated":        s.PagesAllocated,
		"pages_uploaded":         s.PagesUploaded,
		"pages_malformed":        s.PagesMalformed,
		"lost_writes":            s.LostWrites,
		"store_retries":          s.StoreRetries,
	}
}
