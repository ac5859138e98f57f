package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/sitemapper/ingest"
	"github.com/justapithecus/sitemapper/page"
	"github.com/justapithecus/sitemapper/repair"
)

// Backend names.
const (
	StoreDynamo = "dynamo"
	StoreBadger = "badger"
	StoreMemory = "memory"

	BlobS3     = "s3"
	BlobFS     = "fs"
	BlobMemory = "memory"

	PublisherKinesis = "kinesis"
	PublisherRedis   = "redis"
	PublisherStub    = "stub"
	PublisherNone    = "none"

	NotifierRedis   = "redis"
	NotifierWebhook = "webhook"
	NotifierStream  = "stream"
	NotifierNone    = "none"
)

// Config represents a sitemapper.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	Stream    string          `yaml:"stream"`
	KeyPrefix string          `yaml:"key_prefix"`
	Store     StoreConfig     `yaml:"store"`
	Blob      BlobConfig      `yaml:"blob"`
	Publisher PublisherConfig `yaml:"publisher"`
	Notify    NotifyConfig    `yaml:"notify"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Repair    RepairConfig    `yaml:"repair"`

	// Unset lists environment variables referenced without a default that
	// expanded to the empty string.
	Unset []string `yaml:"-"`
}

// StoreConfig selects the metadata store.
type StoreConfig struct {
	Backend         string   `yaml:"backend"`
	Table           string   `yaml:"table"`
	Region          string   `yaml:"region"`
	Endpoint        string   `yaml:"endpoint"`
	Path            string   `yaml:"path"`
	ConsistentReads bool     `yaml:"consistent_reads"`
	MaxRetries      int      `yaml:"max_retries"`
	BaseBackoff     Duration `yaml:"base_backoff"`
}

// BlobConfig selects the page store.
type BlobConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// PublisherConfig selects where compaction re-emits items.
type PublisherConfig struct {
	Type     string   `yaml:"type"`
	Stream   string   `yaml:"stream"`
	URL      string   `yaml:"url"`
	Region   string   `yaml:"region"`
	Endpoint string   `yaml:"endpoint"`
	MaxLen   int64    `yaml:"max_len,omitempty"`
	Timeout  Duration `yaml:"timeout,omitempty"`
	Retries  *int     `yaml:"retries,omitempty"`
}

// NotifyConfig selects the page event notifier.
type NotifyConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Stream  string            `yaml:"stream,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// IngestConfig holds ingestion engine settings.
type IngestConfig struct {
	CompactVersion      int    `yaml:"compact_version"`
	FatalVersion        int    `yaml:"fatal_version"`
	StoreItemState      bool   `yaml:"store_item_state"`
	IDPattern           string `yaml:"id_pattern"`
	MaxItems            int    `yaml:"max_items"`
	MaxBytes            int    `yaml:"max_bytes"`
	Compress            bool   `yaml:"compress"`
	Naming              string `yaml:"naming"`
	FilePrefix          string `yaml:"file_prefix"`
	PrefetchBatch       int    `yaml:"prefetch_batch"`
	PrefetchConcurrency int    `yaml:"prefetch_concurrency"`
	PrefetchWindow      int    `yaml:"prefetch_window"`
	CacheSize           int    `yaml:"cache_size"`
	UploadConcurrency   int    `yaml:"upload_concurrency"`
	WriterConcurrency   int    `yaml:"writer_concurrency"`
}

// RepairConfig holds reconciler settings. IDPattern falls back to
// ingest.id_pattern.
type RepairConfig struct {
	IDPattern        string `yaml:"id_pattern"`
	CrossCheckByPage bool   `yaml:"cross_check_by_page"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Defaults fills unset backend selections. Local backends are the
// defaults so a bare invocation works without cloud credentials.
func (c *Config) Defaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = StoreMemory
	}
	if c.Blob.Backend == "" {
		c.Blob.Backend = BlobMemory
	}
	if c.Publisher.Type == "" {
		c.Publisher.Type = PublisherNone
	}
	if c.Notify.Type == "" {
		c.Notify.Type = NotifierNone
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "sitemaps"
	}
	if c.Repair.IDPattern == "" {
		c.Repair.IDPattern = c.Ingest.IDPattern
	}
}

// Validate checks backend selections and their required settings.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case StoreDynamo:
		if c.Store.Table == "" {
			errs = append(errs, errors.New("store.table is required for the dynamo backend"))
		}
	case StoreBadger:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the badger backend"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q (want dynamo, badger or memory)", c.Store.Backend))
	}

	switch c.Blob.Backend {
	case BlobS3, BlobFS:
		if c.Blob.Path == "" {
			errs = append(errs, fmt.Errorf("blob.path is required for the %s backend", c.Blob.Backend))
		}
	case BlobMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown blob backend %q (want s3, fs or memory)", c.Blob.Backend))
	}

	switch c.Publisher.Type {
	case PublisherKinesis, PublisherRedis:
		if c.Publisher.Stream == "" {
			errs = append(errs, fmt.Errorf("publisher.stream is required for the %s publisher", c.Publisher.Type))
		}
		if c.Publisher.Type == PublisherRedis && c.Publisher.URL == "" {
			errs = append(errs, errors.New("publisher.url is required for the redis publisher"))
		}
	case PublisherStub, PublisherNone:
	default:
		errs = append(errs, fmt.Errorf("unknown publisher %q (want kinesis, redis, stub or none)", c.Publisher.Type))
	}
	if c.Ingest.CompactVersion > 0 && c.Publisher.Type == PublisherNone {
		errs = append(errs, errors.New("ingest.compact_version requires a publisher"))
	}

	switch c.Notify.Type {
	case NotifierRedis, NotifierWebhook:
		if c.Notify.URL == "" {
			errs = append(errs, fmt.Errorf("notify.url is required for the %s notifier", c.Notify.Type))
		}
	case NotifierStream:
		if c.Publisher.Type == PublisherNone && c.Notify.Stream == "" {
			errs = append(errs, errors.New("the stream notifier requires a publisher or notify.stream"))
		}
	case NotifierNone:
	default:
		errs = append(errs, fmt.Errorf("unknown notifier %q (want redis, webhook, stream or none)", c.Notify.Type))
	}

	if c.Ingest.Naming != "" && !ingest.Scheme(c.Ingest.Naming).Valid() {
		errs = append(errs, fmt.Errorf("unknown naming scheme %q (want index, uuid or date)", c.Ingest.Naming))
	}
	return errors.Join(errs...)
}

// IngestEngineConfig returns the engine configuration.
func (c *Config) IngestEngineConfig() ingest.Config {
	def := ingest.DefaultConfig()
	in := c.Ingest
	cfg := ingest.Config{
		CompactVersion:      in.CompactVersion,
		FatalVersion:        in.FatalVersion,
		StoreItemStateInDB:  in.StoreItemState,
		IDPattern:           in.IDPattern,
		Limits:              page.Limits{MaxItems: in.MaxItems, MaxBytes: in.MaxBytes},
		Compress:            in.Compress,
		Naming:              ingest.Scheme(in.Naming),
		FilePrefix:          in.FilePrefix,
		KeyPrefix:           c.KeyPrefix,
		PrefetchBatch:       in.PrefetchBatch,
		PrefetchConcurrency: in.PrefetchConcurrency,
		PrefetchWindow:      in.PrefetchWindow,
		CacheSize:           in.CacheSize,
		UploadConcurrency:   in.UploadConcurrency,
		UploadQueue:         def.UploadQueue,
		WriterConcurrency:   in.WriterConcurrency,
		WriterQueue:         def.WriterQueue,
	}
	return cfg
}

// ReconcilerConfig returns the reconciler configuration.
func (c *Config) ReconcilerConfig(dryRun bool) repair.Config {
	def := ingest.DefaultConfig()
	return repair.Config{
		IDPattern:         c.Repair.IDPattern,
		CrossCheckByPage:  c.Repair.CrossCheckByPage,
		DryRun:            dryRun,
		Limits:            page.Limits{MaxItems: c.Ingest.MaxItems, MaxBytes: c.Ingest.MaxBytes},
		KeyPrefix:         c.KeyPrefix,
		WriterConcurrency: def.WriterConcurrency,
		WriterQueue:       def.WriterQueue,
	}
}
