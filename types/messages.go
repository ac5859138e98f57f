package types

import "time"

// Operation is the kind of change an inbound message requests.
type Operation string

// Operation values. An empty operation is treated as OperationPut.
const (
	OperationPut    Operation = "put"
	OperationDelete Operation = "delete"
)

// Format identifies the wire encoding of an inbound message body.
type Format string

// Supported message formats.
const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// SitemapItem holds the fields of one sitemap <url> entry.
// The ingestion core treats its encoded form as an opaque payload.
type SitemapItem struct {
	Loc        string   `json:"loc" msgpack:"loc" xml:"loc"`
	LastMod    string   `json:"lastmod,omitempty" msgpack:"lastmod,omitempty" xml:"lastmod,omitempty"`
	ChangeFreq string   `json:"changefreq,omitempty" msgpack:"changefreq,omitempty" xml:"changefreq,omitempty"`
	Priority   *float64 `json:"priority,omitempty" msgpack:"priority,omitempty" xml:"priority,omitempty"`
}

// ItemMessage is one decoded inbound event.
type ItemMessage struct {
	// Type is the logical type (page namespace) of the item.
	Type string `json:"type" msgpack:"type"`
	// CustomID is the stable item identifier within Type.
	CustomID string `json:"customId" msgpack:"customId"`
	// Operation is put (upsert) or delete.
	Operation Operation `json:"operation,omitempty" msgpack:"operation,omitempty"`
	// Item is the sitemap entry. Required for put.
	Item *SitemapItem `json:"sitemapItem,omitempty" msgpack:"sitemapItem,omitempty"`
	// CompactVersion is the compaction generation stamp, if any.
	CompactVersion *int `json:"compactVersion,omitempty" msgpack:"compactVersion,omitempty"`

	// PartitionKey is the partition key of the record that carried the message.
	PartitionKey string `json:"-" msgpack:"-"`
	// Format is the encoding the message arrived in.
	Format Format `json:"-" msgpack:"-"`
	// Compressed reports whether the record body was zlib-compressed.
	Compressed bool `json:"-" msgpack:"-"`
}

// IsDelete reports whether the message requests removal.
func (m *ItemMessage) IsDelete() bool {
	return m.Operation == OperationDelete
}

// StreamRecord is one raw record of the inbound event stream.
type StreamRecord struct {
	PartitionKey       string    `msgpack:"partition_key" json:"partition_key"`
	SequenceNumber     string    `msgpack:"sequence_number" json:"sequence_number"`
	Data               []byte    `msgpack:"data" json:"data"`
	ApproximateArrival time.Time `msgpack:"approximate_arrival" json:"approximate_arrival"`
}

// PageEventType is the kind of index notification.
type PageEventType string

// Page event types.
const (
	PageCreated PageEventType = "page_created"
	PageUpdated PageEventType = "page_updated"
)

// PageEvent notifies index builders that a page was uploaded.
type PageEvent struct {
	EventType PageEventType `json:"event_type" msgpack:"event_type"`
	Type      string        `json:"type" msgpack:"type"`
	FileName  string        `json:"file_name" msgpack:"file_name"`
	Key       string        `json:"key" msgpack:"key"`
	ItemCount int           `json:"item_count" msgpack:"item_count"`
	Timestamp string        `json:"timestamp" msgpack:"timestamp"`
}
