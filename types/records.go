package types

import "time"

// ShardState tracks the currently open page of one logical type within one
// stream shard. It is owned exclusively by the ingestion engine for that shard.
type ShardState struct {
	Type                 string    `msgpack:"type" json:"type"`
	ShardID              string    `msgpack:"shard_id" json:"shard_id"`
	CurrentFileName      string    `msgpack:"current_file_name" json:"current_file_name"`
	CurrentFileItemCount int       `msgpack:"current_file_item_count" json:"current_file_item_count"`
	TotalItemCount       int64     `msgpack:"total_item_count" json:"total_item_count"`
	FileCount            int       `msgpack:"file_count" json:"file_count"`
	TimeFirstSeen        time.Time `msgpack:"time_first_seen" json:"time_first_seen"`
	TimeLastWritten      time.Time `msgpack:"time_last_written" json:"time_last_written"`
}

// NewShardState returns a zero-page shard state.
func NewShardState(typ, shardID string, now time.Time) *ShardState {
	return &ShardState{
		Type:            typ,
		ShardID:         shardID,
		TimeFirstSeen:   now,
		TimeLastWritten: now,
	}
}

// HasPage reports whether a page name has been allocated for the shard.
func (s *ShardState) HasPage() bool {
	return s.CurrentFileName != ""
}

// RotateTo points the shard at a freshly allocated page.
// CurrentFileItemCount resets and FileCount increments exactly once.
func (s *ShardState) RotateTo(fileName string, now time.Time) {
	s.CurrentFileName = fileName
	s.CurrentFileItemCount = 0
	s.FileCount++
	s.TimeLastWritten = now
}

// ResetForReuse rewinds the page counter so the next allocation produces the
// same first page name again.
func (s *ShardState) ResetForReuse() {
	s.CurrentFileName = ""
	s.CurrentFileItemCount = 0
	s.FileCount = 0
}

// RecordAppend counts one newly appended item.
func (s *ShardState) RecordAppend(now time.Time) {
	s.CurrentFileItemCount++
	s.TotalItemCount++
	s.TimeLastWritten = now
}

// FileRecord is the metadata of one page. It is created when the page name
// is allocated, before any bytes are uploaded.
type FileRecord struct {
	Type            string     `msgpack:"type" json:"type"`
	FileName        string     `msgpack:"file_name" json:"file_name"`
	// ShardID is the shard that allocated the name.
	ShardID         string     `msgpack:"shard_id,omitempty" json:"shard_id,omitempty"`
	FileStatus      FileStatus `msgpack:"file_status" json:"file_status"`
	CountWritten    int        `msgpack:"count_written" json:"count_written"`
	TimeFirstSeen   time.Time  `msgpack:"time_first_seen" json:"time_first_seen"`
	TimeDirtied     *time.Time `msgpack:"time_dirtied,omitempty" json:"time_dirtied,omitempty"`
	TimeLastWritten time.Time  `msgpack:"time_last_written" json:"time_last_written"`
}

// NewFileRecord returns an empty page record.
func NewFileRecord(typ, fileName string, now time.Time) *FileRecord {
	return &FileRecord{
		Type:            typ,
		FileName:        fileName,
		FileStatus:      FileEmpty,
		TimeFirstSeen:   now,
		TimeLastWritten: now,
	}
}

// Transition moves the record to next, rejecting moves the table forbids.
func (f *FileRecord) Transition(next FileStatus, now time.Time) error {
	if !f.FileStatus.CanTransition(next) {
		return transitionError("file "+f.FileName, string(f.FileStatus), string(next))
	}
	if next == FileDirty && f.FileStatus != FileDirty {
		t := now
		f.TimeDirtied = &t
	}
	f.FileStatus = next
	return nil
}

// AllocatedBy reports whether shardID allocated the page. Records written
// before allocation was tracked belong to no shard.
func (f *FileRecord) AllocatedBy(shardID string) bool {
	return f.ShardID != "" && f.ShardID == shardID
}

// MarkWritten records a successful flush of count items.
func (f *FileRecord) MarkWritten(count int, now time.Time) error {
	if err := f.Transition(FileWritten, now); err != nil {
		return err
	}
	f.CountWritten = count
	f.TimeDirtied = nil
	f.TimeLastWritten = now
	return nil
}

// MarkDirty records that an owned item changed after the last flush.
// Empty pages stay empty: nothing was flushed that could be stale.
func (f *FileRecord) MarkDirty(now time.Time) error {
	if f.FileStatus == FileEmpty {
		return nil
	}
	return f.Transition(FileDirty, now)
}

// MarkMalformed abandons the page.
func (f *FileRecord) MarkMalformed(now time.Time) error {
	return f.Transition(FileMalformed, now)
}

// ItemRecord is one logical item. It is physically stored twice: once under
// the item id (the canonical copy, which defines ownership) and once under
// the owning page name. Scope selects which copies a write touches.
type ItemRecord struct {
	Type            string     `msgpack:"type" json:"type"`
	ItemID          string     `msgpack:"item_id" json:"item_id"`
	FileName        string     `msgpack:"file_name" json:"file_name"`
	ItemPayload     []byte     `msgpack:"item_payload" json:"item_payload"`
	ItemStatus      ItemStatus `msgpack:"item_status" json:"item_status"`
	TimeFirstSeen   time.Time  `msgpack:"time_first_seen" json:"time_first_seen"`
	TimeDirtied     *time.Time `msgpack:"time_dirtied,omitempty" json:"time_dirtied,omitempty"`
	TimeLastWritten time.Time  `msgpack:"time_last_written" json:"time_last_written"`
}

// NewItemRecord returns a written item owned by fileName.
func NewItemRecord(typ, id, fileName string, payload []byte, now time.Time) *ItemRecord {
	return &ItemRecord{
		Type:            typ,
		ItemID:          id,
		FileName:        fileName,
		ItemPayload:     payload,
		ItemStatus:      ItemWritten,
		TimeFirstSeen:   now,
		TimeLastWritten: now,
	}
}

// Clone returns a deep copy.
func (r *ItemRecord) Clone() *ItemRecord {
	c := *r
	if r.ItemPayload != nil {
		c.ItemPayload = append([]byte(nil), r.ItemPayload...)
	}
	if r.TimeDirtied != nil {
		t := *r.TimeDirtied
		c.TimeDirtied = &t
	}
	return &c
}

// Transition moves the record to next, rejecting moves the table forbids.
func (r *ItemRecord) Transition(next ItemStatus, now time.Time) error {
	if !r.ItemStatus.CanTransition(next) {
		return transitionError("item "+r.ItemID, string(r.ItemStatus), string(next))
	}
	switch next {
	case ItemToWrite, ItemToRemove:
		if r.ItemStatus != next {
			t := now
			r.TimeDirtied = &t
		}
	case ItemWritten, ItemRemoved:
		r.TimeDirtied = nil
		r.TimeLastWritten = now
	}
	r.ItemStatus = next
	return nil
}

// Scope selects which physical copies of an ItemRecord a write touches.
type Scope int

const (
	// ScopeByID writes only the canonical copy keyed by item id.
	ScopeByID Scope = iota + 1
	// ScopeByPage writes only the copy keyed by the record's FileName.
	// It never changes which page the canonical copy points at.
	ScopeByPage
	// ScopeBoth writes both copies.
	ScopeBoth
)

// String implements fmt.Stringer.
func (s Scope) String() string {
	switch s {
	case ScopeByID:
		return "by_id"
	case ScopeByPage:
		return "by_page"
	case ScopeBoth:
		return "both"
	default:
		return "unknown"
	}
}

// IncludesID reports whether the canonical copy is written.
func (s Scope) IncludesID() bool { return s == ScopeByID || s == ScopeBoth }

// IncludesPage reports whether the page-scoped copy is written.
func (s Scope) IncludesPage() bool { return s == ScopeByPage || s == ScopeBoth }
