package batch

import (
	"errors"
	"fmt"
)

// ErrItemTooLarge is returned when one value exceeds the byte limit on its own.
var ErrItemTooLarge = errors.New("batch: item exceeds chunk byte limit")

// SizeFunc returns the serialized size of v in bytes.
type SizeFunc[T any] func(v T) int

// ChunkLimits bounds one chunk. A zero limit disables that bound.
type ChunkLimits struct {
	MaxItems int
	MaxBytes int
}

// Chunker accumulates values until adding one more would exceed a limit.
// It is not safe for concurrent use; Writer serializes access.
type Chunker[T any] struct {
	limits ChunkLimits
	size   SizeFunc[T]

	buf   []T
	bytes int
}

// NewChunker creates a chunker. A nil size func counts every value as 0 bytes.
func NewChunker[T any](limits ChunkLimits, size SizeFunc[T]) *Chunker[T] {
	if size == nil {
		size = func(T) int { return 0 }
	}
	return &Chunker[T]{limits: limits, size: size}
}

// Add appends v. When v does not fit the current chunk, the current chunk is
// returned as full and v starts the next one.
func (c *Chunker[T]) Add(v T) (full []T, err error) {
	n := c.size(v)
	if c.limits.MaxBytes > 0 && n > c.limits.MaxBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrItemTooLarge, n, c.limits.MaxBytes)
	}

	if c.wouldExceed(n) {
		full = c.take()
	}
	c.buf = append(c.buf, v)
	c.bytes += n

	// A chunk that reached its count limit exactly is emitted right away.
	// full is always nil here: a take above leaves a single buffered value,
	// and a one-item limit never lets the buffer grow past it.
	if c.limits.MaxItems > 0 && len(c.buf) == c.limits.MaxItems {
		full = c.take()
	}
	return full, nil
}

func (c *Chunker[T]) wouldExceed(n int) bool {
	if len(c.buf) == 0 {
		return false
	}
	if c.limits.MaxItems > 0 && len(c.buf)+1 > c.limits.MaxItems {
		return true
	}
	if c.limits.MaxBytes > 0 && c.bytes+n > c.limits.MaxBytes {
		return true
	}
	return false
}

// Flush returns the partial chunk, or nil when empty.
func (c *Chunker[T]) Flush() []T {
	return c.take()
}

// Len returns the number of buffered values.
func (c *Chunker[T]) Len() int { return len(c.buf) }

// Bytes returns the buffered byte total.
func (c *Chunker[T]) Bytes() int { return c.bytes }

func (c *Chunker[T]) take() []T {
	if len(c.buf) == 0 {
		return nil
	}
	out := c.buf
	c.buf = nil
	c.bytes = 0
	return out
}

// Split partitions values into chunks honoring limits.
// Used by callers that hold the whole set up front.
func Split[T any](values []T, limits ChunkLimits, size SizeFunc[T]) ([][]T, error) {
	c := NewChunker(limits, size)
	var out [][]T
	for _, v := range values {
		full, err := c.Add(v)
		if err != nil {
			return nil, err
		}
		if full != nil {
			out = append(out, full)
		}
	}
	if rest := c.Flush(); rest != nil {
		out = append(out, rest)
	}
	return out, nil
}
