package types

import (
	"errors"
	"testing"
	"time"
)

func TestFileStatus_TransitionTable(t *testing.T) {
	all := []FileStatus{FileEmpty, FileWritten, FileDirty, FileMalformed}
	allowed := map[FileStatus][]FileStatus{
		FileEmpty:     {FileEmpty, FileWritten, FileMalformed},
		FileWritten:   {FileWritten, FileDirty, FileMalformed},
		FileDirty:     {FileDirty, FileWritten, FileMalformed},
		FileMalformed: {FileMalformed},
	}

	for _, from := range all {
		ok := make(map[FileStatus]bool)
		for _, to := range allowed[from] {
			ok[to] = true
		}
		for _, to := range all {
			if got := from.CanTransition(to); got != ok[to] {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, ok[to])
			}
		}
	}
}

func TestFileStatus_UnknownRejected(t *testing.T) {
	if FileStatus("bogus").CanTransition(FileWritten) {
		t.Error("unknown status must not transition")
	}
	if FileStatus("bogus").Valid() {
		t.Error("unknown status must not be valid")
	}
}

func TestFileRecord_MalformedIsTerminal(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	f := NewFileRecord("widgets", "widgets-00001.xml", now)

	if err := f.MarkMalformed(now); err != nil {
		t.Fatalf("MarkMalformed failed: %v", err)
	}
	err := f.MarkWritten(10, now)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if f.FileStatus != FileMalformed {
		t.Errorf("expected malformed, got %s", f.FileStatus)
	}
}

func TestFileRecord_AllocatedBy(t *testing.T) {
	f := NewFileRecord("widgets", "widgets-00001.xml", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if f.AllocatedBy("shard-0") || f.AllocatedBy("") {
		t.Error("a record without a shard belongs to no shard")
	}
	f.ShardID = "shard-0"
	if !f.AllocatedBy("shard-0") {
		t.Error("expected shard-0 to own the record")
	}
	if f.AllocatedBy("shard-1") {
		t.Error("shard-1 must not own shard-0's record")
	}
}

func TestFileRecord_DirtyLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	f := NewFileRecord("widgets", "widgets-00001.xml", now)

	// Dirtying an empty page is a no-op.
	if err := f.MarkDirty(now); err != nil {
		t.Fatalf("MarkDirty on empty failed: %v", err)
	}
	if f.FileStatus != FileEmpty {
		t.Fatalf("expected empty, got %s", f.FileStatus)
	}

	if err := f.MarkWritten(3, now); err != nil {
		t.Fatalf("MarkWritten failed: %v", err)
	}
	later := now.Add(time.Minute)
	if err := f.MarkDirty(later); err != nil {
		t.Fatalf("MarkDirty failed: %v", err)
	}
	if f.TimeDirtied == nil || !f.TimeDirtied.Equal(later) {
		t.Errorf("expected TimeDirtied %v, got %v", later, f.TimeDirtied)
	}
	if err := f.MarkWritten(4, later); err != nil {
		t.Fatalf("MarkWritten after dirty failed: %v", err)
	}
	if f.TimeDirtied != nil {
		t.Error("expected TimeDirtied cleared after flush")
	}
	if f.CountWritten != 4 {
		t.Errorf("expected count 4, got %d", f.CountWritten)
	}
}

func TestItemStatus_TransitionTable(t *testing.T) {
	cases := []struct {
		from, to ItemStatus
		want     bool
	}{
		{ItemWritten, ItemToWrite, true},
		{ItemToWrite, ItemWritten, true},
		{ItemWritten, ItemToRemove, true},
		{ItemToRemove, ItemRemoved, true},
		{ItemWritten, ItemRemoved, false},
		{ItemToRemove, ItemWritten, false},
		{ItemRemoved, ItemToWrite, true},
		{ItemRemoved, ItemToRemove, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestShardState_RotateCounters(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s := NewShardState("widgets", "shard-0", now)

	s.RotateTo("widgets-00001.xml", now)
	s.RecordAppend(now)
	s.RecordAppend(now)
	s.RotateTo("widgets-00002.xml", now)
	s.RecordAppend(now)

	if s.FileCount != 2 {
		t.Errorf("expected FileCount 2, got %d", s.FileCount)
	}
	if s.CurrentFileItemCount != 1 {
		t.Errorf("expected CurrentFileItemCount 1, got %d", s.CurrentFileItemCount)
	}
	if s.TotalItemCount != 3 {
		t.Errorf("expected TotalItemCount 3, got %d", s.TotalItemCount)
	}
}

func TestItemRecord_CloneIsDeep(t *testing.T) {
	now := time.Now()
	r := NewItemRecord("widgets", "1", "a.xml", []byte("payload"), now)
	c := r.Clone()
	c.ItemPayload[0] = 'X'
	if string(r.ItemPayload) != "payload" {
		t.Errorf("clone shares payload buffer: %q", r.ItemPayload)
	}
}
