package cmd

import (
	"context"
	"fmt"

	"github.com/justapithecus/sitemapper/blob"
	"github.com/justapithecus/sitemapper/cli/config"
	"github.com/justapithecus/sitemapper/iox"
	"github.com/justapithecus/sitemapper/metrics"
	"github.com/justapithecus/sitemapper/notify"
	notifyredis "github.com/justapithecus/sitemapper/notify/redis"
	"github.com/justapithecus/sitemapper/notify/webhook"
	"github.com/justapithecus/sitemapper/statestore"
	"github.com/justapithecus/sitemapper/statestore/badgerkv"
	"github.com/justapithecus/sitemapper/statestore/dynamo"
	"github.com/justapithecus/sitemapper/stream"
)

// backends is what one command runs against.
type backends struct {
	store     *statestore.Client
	blobs     blob.Store
	republish stream.Publisher
	notifier  notify.Notifier

	closers iox.Closers
}

// Close releases every backend, last opened first.
func (b *backends) Close() error {
	return b.closers.Close()
}

// openReadBackends opens the metadata store and the page store only.
func openReadBackends(ctx context.Context, cfg *config.Config, collector *metrics.Collector) (*backends, error) {
	b := &backends{}
	store, err := openStore(ctx, cfg, collector)
	if err != nil {
		return nil, err
	}
	b.store = store
	b.closers.Add(store.Close)

	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.blobs = blobs
	return b, nil
}

// openBackends opens every backend the config selects.
func openBackends(ctx context.Context, cfg *config.Config, collector *metrics.Collector) (*backends, error) {
	b, err := openReadBackends(ctx, cfg, collector)
	if err != nil {
		return nil, err
	}

	pub, err := openPublisher(ctx, cfg.Publisher, cfg.Publisher.Stream)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	if pub != nil {
		b.republish = pub
		b.closers.Add(pub.Close)
	}

	n, err := openNotifier(ctx, cfg, pub)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	b.notifier = n
	b.closers.Add(n.Close)
	return b, nil
}

func openStore(ctx context.Context, cfg *config.Config, collector *metrics.Collector) (*statestore.Client, error) {
	var (
		be  statestore.Backend
		err error
	)
	switch cfg.Store.Backend {
	case config.StoreDynamo:
		be, err = dynamo.New(ctx, dynamo.Config{
			Table:    cfg.Store.Table,
			Region:   cfg.Store.Region,
			Endpoint: cfg.Store.Endpoint,
		})
	case config.StoreBadger:
		be, err = badgerkv.Open(badgerkv.Config{Dir: cfg.Store.Path})
	case config.StoreMemory:
		be = statestore.NewMemoryBackend()
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}

	sc := statestore.DefaultConfig()
	if cfg.Store.Backend == config.StoreDynamo {
		sc.ConsistentReads = cfg.Store.ConsistentReads
	}
	if cfg.Store.MaxRetries > 0 {
		sc.MaxRetries = cfg.Store.MaxRetries
	}
	if cfg.Store.BaseBackoff.Duration > 0 {
		sc.BaseBackoff = cfg.Store.BaseBackoff.Duration
	}
	return statestore.NewClient(be, sc, collector), nil
}

func openBlobs(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch cfg.Blob.Backend {
	case config.BlobS3:
		bucket, prefix := blob.ParseS3Path(cfg.Blob.Path)
		s, err := blob.NewS3Store(ctx, blob.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Blob.Region,
			Endpoint:     cfg.Blob.Endpoint,
			UsePathStyle: cfg.Blob.S3PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open s3 page store: %w", err)
		}
		return s, nil
	case config.BlobFS:
		s, err := blob.NewFSStore(cfg.Blob.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open fs page store: %w", err)
		}
		return s, nil
	case config.BlobMemory:
		return blob.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown blob backend: %s", cfg.Blob.Backend)
	}
}

// openPublisher returns nil when the publisher type is none.
func openPublisher(ctx context.Context, pc config.PublisherConfig, streamName string) (stream.Publisher, error) {
	retries := func(def int) int {
		if pc.Retries != nil {
			return *pc.Retries
		}
		return def
	}
	switch pc.Type {
	case config.PublisherKinesis:
		p, err := stream.NewKinesisPublisher(ctx, stream.KinesisConfig{
			Stream:   streamName,
			Region:   pc.Region,
			Endpoint: pc.Endpoint,
			Retries:  retries(0),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create kinesis publisher: %w", err)
		}
		return p, nil
	case config.PublisherRedis:
		p, err := stream.NewRedisPublisher(stream.RedisConfig{
			URL:     pc.URL,
			Stream:  streamName,
			MaxLen:  pc.MaxLen,
			Timeout: pc.Timeout.Duration,
			Retries: retries(3),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis publisher: %w", err)
		}
		return p, nil
	case config.PublisherStub:
		return &stream.StubPublisher{}, nil
	case config.PublisherNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown publisher: %s", pc.Type)
	}
}

// openNotifier builds the page event notifier. The stream notifier shares
// pub unless notify.stream names another stream.
func openNotifier(ctx context.Context, cfg *config.Config, pub stream.Publisher) (notify.Notifier, error) {
	nc := cfg.Notify
	retries := 3
	if nc.Retries != nil {
		retries = *nc.Retries
	}
	switch nc.Type {
	case config.NotifierRedis:
		n, err := notifyredis.New(notifyredis.Config{
			URL:     nc.URL,
			Channel: nc.Channel,
			Timeout: nc.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis notifier: %w", err)
		}
		return n, nil
	case config.NotifierWebhook:
		n, err := webhook.New(webhook.Config{
			URL:     nc.URL,
			Headers: nc.Headers,
			Timeout: nc.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create webhook notifier: %w", err)
		}
		return n, nil
	case config.NotifierStream:
		if pub != nil && (nc.Stream == "" || nc.Stream == cfg.Publisher.Stream) {
			return notify.NewStreamNotifier(pub), nil
		}
		pc := cfg.Publisher
		if pc.Type == config.PublisherNone {
			pc.Type = config.PublisherKinesis
		}
		own, err := openPublisher(ctx, pc, nc.Stream)
		if err != nil {
			return nil, err
		}
		return &ownedStreamNotifier{StreamNotifier: notify.NewStreamNotifier(own), pub: own}, nil
	case config.NotifierNone, "":
		return notify.Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown notifier: %s", nc.Type)
	}
}

// ownedStreamNotifier closes the publisher it was built over.
type ownedStreamNotifier struct {
	*notify.StreamNotifier
	pub stream.Publisher
}

func (n *ownedStreamNotifier) Close() error { return n.pub.Close() }
