package ingest

import (
	"errors"
	"fmt"

	"github.com/justapithecus/sitemapper/page"
	"github.com/justapithecus/sitemapper/statestore"
)

// Config configures an Engine.
type Config struct {
	// CompactVersion is the compaction threshold. Items stamped below it, or
	// not stamped at all, are republished at this version instead of written.
	// Zero disables compaction.
	CompactVersion int
	// FatalVersion aborts the invocation when any item carries it.
	// Zero disables the check.
	FatalVersion int
	// StoreItemStateInDB persists refreshed payloads of duplicates as
	// page-scoped rows so a later repair can re-emit them.
	StoreItemStateInDB bool
	// IDPattern recovers item ids from page entries. When set, resumed pages
	// are checked for items recorded on the page but missing from its content.
	IDPattern string

	// Limits are the page ceilings.
	Limits page.Limits
	// Compress gzip-compresses pages and names them .xml.gz.
	Compress bool
	// Naming is the page naming scheme.
	Naming Scheme
	// FilePrefix is the page name prefix. Defaults to the type name.
	FilePrefix string
	// KeyPrefix is prepended to every blob key.
	KeyPrefix string

	// PrefetchBatch is the number of ids per metadata read (at most 100).
	PrefetchBatch int
	// PrefetchConcurrency bounds concurrent metadata reads.
	PrefetchConcurrency int
	// PrefetchWindow bounds read-ahead batches not yet consumed.
	PrefetchWindow int
	// CacheSize bounds the per-type item state cache.
	CacheSize int

	// UploadConcurrency and UploadQueue size the page upload pool.
	UploadConcurrency int
	UploadQueue       int
	// WriterConcurrency and WriterQueue size the item record writer.
	WriterConcurrency int
	WriterQueue       int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Limits:              page.DefaultLimits(),
		Naming:              SchemeIndex,
		PrefetchBatch:       statestore.MaxBatchGetKeys,
		PrefetchConcurrency: 4,
		PrefetchWindow:      8,
		CacheSize:           10000,
		UploadConcurrency:   2,
		UploadQueue:         2,
		WriterConcurrency:   4,
		WriterQueue:         8,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Limits.MaxItems <= 0 {
		c.Limits.MaxItems = def.Limits.MaxItems
	}
	if c.Limits.MaxBytes <= 0 {
		c.Limits.MaxBytes = def.Limits.MaxBytes
	}
	if c.Naming == "" {
		c.Naming = def.Naming
	}
	if c.PrefetchBatch <= 0 || c.PrefetchBatch > statestore.MaxBatchGetKeys {
		c.PrefetchBatch = def.PrefetchBatch
	}
	if c.PrefetchConcurrency <= 0 {
		c.PrefetchConcurrency = def.PrefetchConcurrency
	}
	if c.PrefetchWindow <= 0 {
		c.PrefetchWindow = def.PrefetchWindow
	}
	if c.CacheSize <= 0 {
		c.CacheSize = def.CacheSize
	}
	if c.UploadConcurrency <= 0 {
		c.UploadConcurrency = def.UploadConcurrency
	}
	if c.UploadQueue < 0 {
		c.UploadQueue = 0
	}
	if c.WriterConcurrency <= 0 {
		c.WriterConcurrency = def.WriterConcurrency
	}
	if c.WriterQueue < 0 {
		c.WriterQueue = 0
	}
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.CompactVersion < 0 {
		return fmt.Errorf("compact version must be >= 0, got %d", c.CompactVersion)
	}
	if c.FatalVersion < 0 {
		return fmt.Errorf("fatal version must be >= 0, got %d", c.FatalVersion)
	}
	if c.Naming != "" && !c.Naming.Valid() {
		return fmt.Errorf("unknown naming scheme %q", c.Naming)
	}
	if c.IDPattern != "" {
		if _, err := page.CompileIDPattern(c.IDPattern); err != nil {
			return err
		}
	}
	return nil
}

var errNoRepublisher = errors.New("compaction requires a republish stream")
