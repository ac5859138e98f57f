package reader

import (
	"context"
	"fmt"
	"time"
)

// StubReader returns shape-correct canned views for development and testing.
type StubReader struct {
	now time.Time
}

var _ Reader = (*StubReader)(nil)

// NewStubReader creates a new stub reader.
func NewStubReader() *StubReader {
	return &StubReader{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// InspectShard returns stub shard details.
func (r *StubReader) InspectShard(_ context.Context, typ, shardID string) (*ShardView, error) {
	return &ShardView{
		Type:                 typ,
		ShardID:              shardID,
		CurrentFile:          typ + "-00002.xml",
		CurrentFileItemCount: 120,
		FileCount:            2,
		TotalItemCount:       50120,
		TimeFirstSeen:        r.now.Add(-48 * time.Hour),
		TimeLastWritten:      r.now,
	}, nil
}

// InspectFile returns stub page details.
func (r *StubReader) InspectFile(_ context.Context, typ, fileName string) (*FileView, error) {
	return &FileView{
		Type:            typ,
		FileName:        fileName,
		Key:             "sitemaps/" + typ + "/" + fileName,
		Status:          "written",
		CountWritten:    120,
		TimeFirstSeen:   r.now.Add(-time.Hour),
		TimeLastWritten: r.now,
		BlobPresent:     true,
		BlobBytes:       18034,
		BlobItems:       120,
		PageRecords:     map[string]int{"written": 118, "removed": 2},
	}, nil
}

// InspectItem returns stub item details.
func (r *StubReader) InspectItem(_ context.Context, typ, itemID string) (*ItemView, error) {
	return &ItemView{
		Type:            typ,
		ItemID:          itemID,
		FileName:        typ + "-00001.xml",
		Status:          "written",
		Loc:             fmt.Sprintf("https://example.com/%s/%s", typ, itemID),
		TimeFirstSeen:   r.now.Add(-time.Hour),
		TimeLastWritten: r.now,
		PageStatus:      "written",
	}, nil
}

// ListFiles returns a stub file list.
func (r *StubReader) ListFiles(_ context.Context, typ string) ([]FileListEntry, error) {
	return []FileListEntry{
		{FileName: typ + "-00001.xml", Status: "written", CountWritten: 50000, TimeLastWritten: r.now.Add(-time.Hour)},
		{FileName: typ + "-00002.xml", Status: "dirty", CountWritten: 120, TimeLastWritten: r.now},
	}, nil
}
