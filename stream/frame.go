package stream

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/sitemapper/types"
)

// Frame size constants of captured batch files.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
	// MaxPayloadSize is the maximum payload size.
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
)

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error.
	FrameErrorDecode
)

// FrameError represents a frame decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatalFrameError reports whether err makes the rest of the file unreadable.
// Decode errors are confined to one frame; partial and oversized frames are not.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.Kind == FrameErrorPartial || frameErr.Kind == FrameErrorTooLarge
	}
	return false
}

// FrameEncoder writes StreamRecords as length-prefixed msgpack frames.
type FrameEncoder struct {
	w *bufio.Writer
}

// NewFrameEncoder creates an encoder. Call Flush when done.
func NewFrameEncoder(w io.Writer) *FrameEncoder {
	return &FrameEncoder{w: bufio.NewWriter(w)}
}

// WriteRecord writes one record frame.
func (e *FrameEncoder) WriteRecord(rec *types.StreamRecord) error {
	payload, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.SequenceNumber, err)
	}
	if len(payload) > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}
	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(payload)))
	if _, err := e.w.Write(lengthBuf[:]); err != nil {
		return err
	}
	_, err = e.w.Write(payload)
	return err
}

// Flush flushes buffered frames.
func (e *FrameEncoder) Flush() error {
	return e.w.Flush()
}

// FrameDecoder reads length-prefixed msgpack frames.
type FrameDecoder struct {
	reader io.Reader
}

// NewFrameDecoder creates a new frame decoder.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{reader: r}
}

// ReadFrame reads a single raw frame payload.
//
// Errors:
//   - io.EOF: stream ended cleanly (no more frames)
//   - *FrameError with Kind=FrameErrorPartial: incomplete frame
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(d.reader, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read length prefix", Err: err}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read payload", Err: err}
	}
	return payload, nil
}

// ReadRecord reads and decodes the next record frame.
func (d *FrameDecoder) ReadRecord() (*types.StreamRecord, error) {
	payload, err := d.ReadFrame()
	if err != nil {
		return nil, err
	}
	var rec types.StreamRecord
	if err := msgpack.Unmarshal(payload, &rec); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode stream record", Err: err}
	}
	return &rec, nil
}

// ReadAll reads every record until EOF.
func ReadAll(r io.Reader) ([]types.StreamRecord, error) {
	d := NewFrameDecoder(r)
	var out []types.StreamRecord
	for {
		rec, err := d.ReadRecord()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(out), err)
		}
		out = append(out, *rec)
	}
}
