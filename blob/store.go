// Package blob provides the page blob store.
//
// The blob store is eventually consistent and holds one object per page.
// GetIfExists distinguishes a missing page from a failed read, which page
// recovery depends on. Errors are classified into StorageError kinds.
package blob

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Content types of page objects.
const (
	ContentTypeXML  = "application/xml"
	ContentTypeGzip = "application/gzip"
)

// Store is the blob store collaborator.
type Store interface {
	// GetIfExists returns the object at key. ok is false when it does not exist.
	GetIfExists(ctx context.Context, key string) (data []byte, ok bool, err error)
	// Put writes data at key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Key returns the object key of a page.
func Key(prefix, typ, fileName string) string {
	return path.Join(strings.Trim(prefix, "/"), typ, fileName)
}

// ContentTypeFor returns the content type implied by a page file name.
func ContentTypeFor(fileName string) string {
	if strings.HasSuffix(fileName, ".gz") {
		return ContentTypeGzip
	}
	return ContentTypeXML
}

var gzipMagic = []byte{0x1f, 0x8b}

// IsGzip reports whether data starts with the gzip magic number.
func IsGzip(data []byte) bool {
	return bytes.HasPrefix(data, gzipMagic)
}

// Gzip compresses data.
func Gzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Gunzip decompresses data when it is gzip-compressed and returns it
// unchanged otherwise.
func Gunzip(data []byte) ([]byte, error) {
	if !IsGzip(data) {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
