package statestore

import (
	"fmt"
	"strings"
)

const (
	shardSK     = "state"
	canonicalSK = "canonical"
)

// ValidateType rejects logical type names that would break the key layout.
func ValidateType(typ string) error {
	if typ == "" {
		return fmt.Errorf("statestore: empty type")
	}
	if strings.Contains(typ, "#") {
		return fmt.Errorf("statestore: type %q must not contain '#'", typ)
	}
	return nil
}

// ShardKey is the key of a ShardState.
func ShardKey(typ, shardID string) Key {
	return Key{PK: "shard#" + typ + "#" + shardID, SK: shardSK}
}

// FilePartition is the partition holding every FileRecord of a type.
func FilePartition(typ string) string {
	return "files#" + typ
}

// FileKey is the key of a FileRecord.
func FileKey(typ, fileName string) Key {
	return Key{PK: FilePartition(typ), SK: fileName}
}

// ItemKey is the key of the canonical (by item id) copy of an ItemRecord.
func ItemKey(typ, id string) Key {
	return Key{PK: "item#" + typ + "#" + id, SK: canonicalSK}
}

// PagePartition is the partition holding the by-page copies of one page.
func PagePartition(typ, fileName string) string {
	return "page#" + typ + "#" + fileName
}

// PageItemKey is the key of the by-page copy of an ItemRecord.
func PageItemKey(typ, fileName, id string) Key {
	return Key{PK: PagePartition(typ, fileName), SK: id}
}
