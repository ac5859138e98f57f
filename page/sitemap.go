// Package page implements the bounded sitemap page.
//
// A page is an append-only sequence of <url> entries with a ceiling on item
// count and encoded byte size. Write refuses an entry that would cross
// either ceiling with ErrOverflow so the caller can rotate to a new page and
// retry there. Pages are encoded as sitemaps.org 0.9 urlset documents,
// optionally gzip-compressed.
package page

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/justapithecus/sitemapper/blob"
	"github.com/justapithecus/sitemapper/types"
)

// Namespace is the sitemap protocol namespace.
const Namespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

// Protocol ceilings.
const (
	DefaultMaxItems = 50000
	DefaultMaxBytes = 45 << 20
)

const (
	header = xml.Header + `<urlset xmlns="` + Namespace + `">` + "\n"
	footer = "</urlset>\n"
)

var (
	// ErrOverflow is returned when an append would exceed a ceiling.
	ErrOverflow = errors.New("page: would overflow")
	// ErrItemTooLarge is returned when an entry does not fit even an empty page.
	ErrItemTooLarge = errors.New("page: item larger than page byte limit")
	// ErrMalformed is returned when page content cannot be parsed.
	ErrMalformed = errors.New("page: malformed content")
	// ErrInvalidItem is returned for entries without a location.
	ErrInvalidItem = errors.New("page: item has no loc")
)

// Limits are the ceilings of one page.
type Limits struct {
	MaxItems int
	MaxBytes int
}

// DefaultLimits returns the sitemap protocol ceilings.
func DefaultLimits() Limits {
	return Limits{MaxItems: DefaultMaxItems, MaxBytes: DefaultMaxBytes}
}

func (l Limits) normalize() Limits {
	if l.MaxItems <= 0 {
		l.MaxItems = DefaultMaxItems
	}
	if l.MaxBytes <= 0 {
		l.MaxBytes = DefaultMaxBytes
	}
	return l
}

type urlEntry struct {
	XMLName xml.Name `xml:"url"`
	types.SitemapItem
}

type urlset struct {
	XMLName xml.Name   `xml:"urlset"`
	URLs    []urlEntry `xml:"url"`
}

// Sitemap is one open page.
type Sitemap struct {
	limits Limits
	items  []types.SitemapItem
	body   bytes.Buffer
}

// New returns an empty page.
func New(limits Limits) *Sitemap {
	return &Sitemap{limits: limits.normalize()}
}

// Load returns a page holding the entries of data, for resuming appends.
// Ceilings are not enforced on the loaded entries; check Full afterwards.
func Load(limits Limits, data []byte) (*Sitemap, error) {
	items, err := Parse(data)
	if err != nil {
		return nil, err
	}
	s := New(limits)
	for _, it := range items {
		frag, err := encodeEntry(it)
		if err != nil {
			return nil, err
		}
		s.items = append(s.items, it)
		s.body.Write(frag)
	}
	return s, nil
}

// Limits returns the page ceilings.
func (s *Sitemap) Limits() Limits { return s.limits }

// Count returns the number of entries.
func (s *Sitemap) Count() int { return len(s.items) }

// Size returns the encoded size in bytes, before compression.
func (s *Sitemap) Size() int { return len(header) + s.body.Len() + len(footer) }

// Full reports whether the page is at or over a ceiling.
func (s *Sitemap) Full() bool {
	return s.Count() >= s.limits.MaxItems || s.Size() >= s.limits.MaxBytes
}

// Items returns a copy of the entries in order.
func (s *Sitemap) Items() []types.SitemapItem {
	return append([]types.SitemapItem(nil), s.items...)
}

// Write appends item. The page is unchanged when an error is returned.
func (s *Sitemap) Write(item types.SitemapItem) error {
	if item.Loc == "" {
		return ErrInvalidItem
	}
	frag, err := encodeEntry(item)
	if err != nil {
		return err
	}
	if len(header)+len(frag)+len(footer) > s.limits.MaxBytes {
		return fmt.Errorf("%w: %d bytes", ErrItemTooLarge, len(frag))
	}
	if s.Count()+1 > s.limits.MaxItems || s.Size()+len(frag) > s.limits.MaxBytes {
		return ErrOverflow
	}
	s.items = append(s.items, item)
	s.body.Write(frag)
	return nil
}

// Bytes returns the complete XML document.
func (s *Sitemap) Bytes() []byte {
	out := make([]byte, 0, s.Size())
	out = append(out, header...)
	out = append(out, s.body.Bytes()...)
	return append(out, footer...)
}

// Encode returns the document, gzip-compressed when compress is set.
func (s *Sitemap) Encode(compress bool) ([]byte, error) {
	if !compress {
		return s.Bytes(), nil
	}
	return blob.Gzip(s.Bytes())
}

// Parse decodes a page document, gzip-compressed or not, into its entries.
func Parse(data []byte) ([]types.SitemapItem, error) {
	raw, err := blob.Gunzip(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	var doc urlset
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	items := make([]types.SitemapItem, len(doc.URLs))
	for i, u := range doc.URLs {
		items[i] = u.SitemapItem
	}
	return items, nil
}

// EncodeItem returns the <url> element of item.
func EncodeItem(item types.SitemapItem) ([]byte, error) {
	return encodeEntry(item)
}

func encodeEntry(item types.SitemapItem) ([]byte, error) {
	frag, err := xml.Marshal(urlEntry{SitemapItem: item})
	if err != nil {
		return nil, fmt.Errorf("page: encode entry: %w", err)
	}
	return append(frag, '\n'), nil
}
