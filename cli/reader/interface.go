package reader

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the inspected record does not exist.
var ErrNotFound = errors.New("not found")

// Reader abstracts read-only data access for CLI commands.
// Implementations read the metadata and blob stores or return stub data.
// All methods are read-only and must not mutate state.
type Reader interface {
	InspectShard(ctx context.Context, typ, shardID string) (*ShardView, error)
	InspectFile(ctx context.Context, typ, fileName string) (*FileView, error)
	InspectItem(ctx context.Context, typ, itemID string) (*ItemView, error)
	ListFiles(ctx context.Context, typ string) ([]FileListEntry, error)
}
