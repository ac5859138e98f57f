package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector()

	c.AddRecordsReceived(10)
	c.AddRecordsSkipped(2)
	c.AddItemsDeduped(1)
	c.AddItemsTombstoned(3)
	c.IncItemsAppended()
	c.IncItemsAppended()
	c.IncDuplicateWithinPage()
	c.IncDuplicateElsewhere()
	c.IncDeleteApplied()
	c.IncPageAllocated()
	c.IncPageUploaded()
	c.IncLostWrite()
	c.IncStoreRetry()
	c.AddRepair(1, 2, 3, true)

	s := c.Snapshot()

	if s.RecordsReceived != 10 {
		t.Errorf("RecordsReceived = %d, want 10", s.RecordsReceived)
	}
	if s.RecordsSkipped != 2 {
		t.Errorf("RecordsSkipped = %d, want 2", s.RecordsSkipped)
	}
	if s.ItemsTombstoned != 3 {
		t.Errorf("ItemsTombstoned = %d, want 3", s.ItemsTombstoned)
	}
	if s.ItemsAppended != 2 {
		t.Errorf("ItemsAppended = %d, want 2", s.ItemsAppended)
	}
	if s.LostWrites != 1 {
		t.Errorf("LostWrites = %d, want 1", s.LostWrites)
	}
	if s.RepairConflicts != 1 || s.RepairRecovered != 2 || s.RepairRemoved != 3 || s.RepairRewritten != 1 {
		t.Errorf("unexpected repair counters: %+v", s)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector

	// Must not panic
	c.IncItemsAppended()
	c.AddRecordsReceived(5)
	c.AddRepair(1, 1, 1, true)

	s := c.Snapshot()
	if s.ItemsAppended != 0 {
		t.Errorf("nil collector snapshot should be zero, got %+v", s)
	}
}

func TestCollector_ConcurrentIncrements(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncItemsAppended()
			c.IncStoreRetry()
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	if s.ItemsAppended != 50 {
		t.Errorf("ItemsAppended = %d, want 50", s.ItemsAppended)
	}
	if s.StoreRetries != 50 {
		t.Errorf("StoreRetries = %d, want 50", s.StoreRetries)
	}
}

func TestSnapshot_IsCopy(t *testing.T) {
	c := NewCollector()
	c.IncItemsAppended()
	s := c.Snapshot()
	c.IncItemsAppended()

	if s.ItemsAppended != 1 {
		t.Errorf("snapshot mutated after creation: %d", s.ItemsAppended)
	}
}
