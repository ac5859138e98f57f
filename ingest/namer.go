package ingest

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Scheme selects how page names are allocated.
type Scheme string

// Naming schemes.
const (
	// SchemeIndex names pages <prefix>-00001.xml, <prefix>-00002.xml, ...
	SchemeIndex Scheme = "index"
	// SchemeUUID names pages <prefix>-<uuid>.xml.
	SchemeUUID Scheme = "uuid"
	// SchemeDate names pages <prefix>-YYYY-MM-DD-00001.xml.
	SchemeDate Scheme = "date"
)

// Valid reports whether s is a known scheme.
func (s Scheme) Valid() bool {
	switch s {
	case SchemeIndex, SchemeUUID, SchemeDate:
		return true
	}
	return false
}

// Namer allocates page names. n is the 1-based page number of the shard.
type Namer interface {
	Name(prefix string, n int, now time.Time) string
}

// NewNamer returns the namer of scheme.
func NewNamer(scheme Scheme, compress bool) (Namer, error) {
	ext := ".xml"
	if compress {
		ext = ".xml.gz"
	}
	switch scheme {
	case SchemeIndex, "":
		return indexNamer{ext: ext}, nil
	case SchemeUUID:
		return uuidNamer{ext: ext}, nil
	case SchemeDate:
		return dateNamer{ext: ext}, nil
	default:
		return nil, fmt.Errorf("unknown naming scheme %q", scheme)
	}
}

type indexNamer struct{ ext string }

func (n indexNamer) Name(prefix string, i int, _ time.Time) string {
	return fmt.Sprintf("%s-%05d%s", prefix, i, n.ext)
}

type uuidNamer struct{ ext string }

func (n uuidNamer) Name(prefix string, _ int, _ time.Time) string {
	return prefix + "-" + uuid.NewString() + n.ext
}

type dateNamer struct{ ext string }

func (n dateNamer) Name(prefix string, i int, now time.Time) string {
	return fmt.Sprintf("%s-%s-%05d%s", prefix, now.UTC().Format(time.DateOnly), i, n.ext)
}
