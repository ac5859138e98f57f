// Package reader provides the read-side data access layer for the
// sitemapper CLI.
//
// Inspect commands use this package exclusively. Views are plain data: the
// table, json, yaml and TUI renderings all draw from the same payloads.
package reader

import "time"

// ShardView is the inspect payload of one shard of one type.
type ShardView struct {
	Type                 string    `json:"type" yaml:"type"`
	ShardID              string    `json:"shard_id" yaml:"shard_id"`
	CurrentFile          string    `json:"current_file" yaml:"current_file"`
	CurrentFileItemCount int       `json:"current_file_item_count" yaml:"current_file_item_count"`
	FileCount            int       `json:"file_count" yaml:"file_count"`
	TotalItemCount       int64     `json:"total_item_count" yaml:"total_item_count"`
	TimeFirstSeen        time.Time `json:"time_first_seen" yaml:"time_first_seen"`
	TimeLastWritten      time.Time `json:"time_last_written" yaml:"time_last_written"`
}

// FileView is the inspect payload of one page.
type FileView struct {
	Type            string     `json:"type" yaml:"type"`
	FileName        string     `json:"file_name" yaml:"file_name"`
	Key             string     `json:"key" yaml:"key"`
	Status          string     `json:"status" yaml:"status"`
	CountWritten    int        `json:"count_written" yaml:"count_written"`
	TimeFirstSeen   time.Time  `json:"time_first_seen" yaml:"time_first_seen"`
	TimeLastWritten time.Time  `json:"time_last_written" yaml:"time_last_written"`
	TimeDirtied     *time.Time `json:"time_dirtied,omitempty" yaml:"time_dirtied,omitempty"`

	// Blob is the state of the stored page.
	BlobPresent bool   `json:"blob_present" yaml:"blob_present"`
	BlobBytes   int    `json:"blob_bytes" yaml:"blob_bytes"`
	BlobItems   int    `json:"blob_items" yaml:"blob_items"`
	BlobError   string `json:"blob_error,omitempty" yaml:"blob_error,omitempty"`

	// PageRecords counts the page-scoped item records by status.
	PageRecords map[string]int `json:"page_records" yaml:"page_records"`
}

// FileListEntry is one row of the file list of a type.
type FileListEntry struct {
	FileName        string    `json:"file_name" yaml:"file_name"`
	Status          string    `json:"status" yaml:"status"`
	CountWritten    int       `json:"count_written" yaml:"count_written"`
	TimeLastWritten time.Time `json:"time_last_written" yaml:"time_last_written"`
}

// ItemView is the inspect payload of one item.
type ItemView struct {
	Type            string    `json:"type" yaml:"type"`
	ItemID          string    `json:"item_id" yaml:"item_id"`
	FileName        string    `json:"file_name" yaml:"file_name"`
	Status          string    `json:"status" yaml:"status"`
	Loc             string    `json:"loc" yaml:"loc"`
	LastMod         string    `json:"lastmod,omitempty" yaml:"lastmod,omitempty"`
	TimeFirstSeen   time.Time `json:"time_first_seen" yaml:"time_first_seen"`
	TimeLastWritten time.Time `json:"time_last_written" yaml:"time_last_written"`
	// PageStatus is the status of the page-scoped copy under FileName,
	// empty when that copy is missing.
	PageStatus string `json:"page_status" yaml:"page_status"`
}
