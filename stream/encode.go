package stream

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zlib"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/sitemapper/types"
)

// Encode encodes msg in format, zlib-compressing the body when compress is set.
func Encode(msg *types.ItemMessage, format types.Format, compress bool) ([]byte, error) {
	var (
		body []byte
		err  error
	)
	switch format {
	case types.FormatJSON, "":
		body, err = json.Marshal(msg)
	case types.FormatMsgpack:
		body, err = msgpack.Marshal(msg)
	default:
		return nil, fmt.Errorf("stream: unknown format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("stream: encode %s/%s: %w", msg.Type, msg.CustomID, err)
	}
	if !compress {
		return body, nil
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Republish returns the outbound record that re-emits msg in the encoding it
// arrived in, under its original partition key.
func Republish(msg *types.ItemMessage) (OutRecord, error) {
	data, err := Encode(msg, msg.Format, msg.Compressed)
	if err != nil {
		return OutRecord{}, err
	}
	return OutRecord{PartitionKey: msg.PartitionKey, Data: data}, nil
}
