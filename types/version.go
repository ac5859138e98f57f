package types

// Version is the canonical project version.
// The CLI, the record encodings and the stream message format share it.
const Version = "0.3.0"

// ShardMeta identifies one invocation of the ingestion engine.
// Every log entry of the invocation carries these fields.
type ShardMeta struct {
	// Stream is the inbound stream name.
	Stream string
	// ShardID is the stream shard the batch came from.
	ShardID string
	// InvocationID is unique per invocation.
	InvocationID string
}
