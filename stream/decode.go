// Package stream decodes inbound event stream records and publishes
// outbound records.
//
// Inbound record bodies are JSON or msgpack encoded ItemMessages, optionally
// zlib-compressed. Malformed records are skipped and counted rather than
// failing the batch, but a batch mixing JSON and msgpack is rejected.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/sitemapper/types"
)

// ErrMixedFormats is returned when one batch carries both JSON and msgpack bodies.
var ErrMixedFormats = errors.New("stream: mixed message formats in one batch")

// Skip describes one dropped record.
type Skip struct {
	SequenceNumber string
	Reason         string
}

// DecodeResult is the outcome of decoding one batch.
type DecodeResult struct {
	Messages []*types.ItemMessage
	Skipped  []Skip
	// Format is the single format of the batch, empty when no message decoded.
	Format types.Format
}

// Decode decodes records in order.
func Decode(records []types.StreamRecord) (*DecodeResult, error) {
	res := &DecodeResult{}
	for i := range records {
		rec := &records[i]
		msg, err := DecodeRecord(rec)
		if err != nil {
			res.Skipped = append(res.Skipped, Skip{SequenceNumber: rec.SequenceNumber, Reason: err.Error()})
			continue
		}
		if res.Format == "" {
			res.Format = msg.Format
		} else if res.Format != msg.Format {
			return nil, fmt.Errorf("%w: %s and %s (record %s)", ErrMixedFormats, res.Format, msg.Format, rec.SequenceNumber)
		}
		res.Messages = append(res.Messages, msg)
	}
	return res, nil
}

// DecodeRecord decodes and validates a single record.
func DecodeRecord(rec *types.StreamRecord) (*types.ItemMessage, error) {
	body := rec.Data
	compressed := false
	if isZlib(body) {
		raw, err := inflate(body)
		if err != nil {
			return nil, fmt.Errorf("zlib: %w", err)
		}
		body = raw
		compressed = true
	}

	var msg types.ItemMessage
	format, err := detectFormat(body)
	if err != nil {
		return nil, err
	}
	switch format {
	case types.FormatJSON:
		err = json.Unmarshal(body, &msg)
	case types.FormatMsgpack:
		err = msgpack.Unmarshal(body, &msg)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", format, err)
	}

	if err := Validate(&msg); err != nil {
		return nil, err
	}
	msg.PartitionKey = rec.PartitionKey
	msg.Format = format
	msg.Compressed = compressed
	return &msg, nil
}

// Validate checks the required fields of a message and normalizes its operation.
func Validate(msg *types.ItemMessage) error {
	if msg.Type == "" {
		return errors.New("missing type")
	}
	if msg.CustomID == "" {
		return errors.New("missing customId")
	}
	switch msg.Operation {
	case "":
		msg.Operation = types.OperationPut
	case types.OperationPut, types.OperationDelete:
	default:
		return fmt.Errorf("unknown operation %q", msg.Operation)
	}
	if msg.Operation == types.OperationPut && (msg.Item == nil || msg.Item.Loc == "") {
		return errors.New("put without sitemapItem.loc")
	}
	return nil
}

func detectFormat(body []byte) (types.Format, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return "", errors.New("empty body")
	}
	switch b := trimmed[0]; {
	case b == '{':
		return types.FormatJSON, nil
	case b >= 0x80 && b <= 0x8f, b == 0xde, b == 0xdf:
		// msgpack fixmap, map16, map32
		return types.FormatMsgpack, nil
	default:
		return "", fmt.Errorf("unrecognized body format (first byte 0x%02x)", b)
	}
}

// isZlib reports whether data starts with a valid zlib header.
func isZlib(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	cmf, flg := data[0], data[1]
	// deflate method, window <= 32K, header checksum
	return cmf&0x0f == 8 && cmf>>4 <= 7 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
