package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Redis stream field names.
const (
	FieldPartitionKey = "partition_key"
	FieldData         = "data"
)

// RedisConfig configures a RedisPublisher.
type RedisConfig struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Stream is the Redis stream key (required).
	Stream string
	// MaxLen approximately caps the stream length. Zero disables trimming.
	MaxLen int64
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
}

// RedisPublisher appends records to a Redis stream with XADD.
// One pipeline per batch keeps record order.
type RedisPublisher struct {
	config RedisConfig
	client *goredis.Client
}

var _ Publisher = (*RedisPublisher)(nil)

// NewRedisPublisher creates a publisher from the given config.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis publisher requires a URL")
	}
	if cfg.Stream == "" {
		return nil, errors.New("redis publisher requires a stream key")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis publisher: invalid URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	return &RedisPublisher{config: cfg, client: goredis.NewClient(opts)}, nil
}

// Publish implements Publisher. A failed pipeline is resent whole.
func (p *RedisPublisher) Publish(ctx context.Context, records []OutRecord) error {
	if len(records) == 0 {
		return nil
	}
	var lastErr error
	attempts := 1 + p.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis publisher: context canceled: %w", err)
		}
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return fmt.Errorf("redis publisher: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		pubCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		lastErr = p.send(pubCtx, records)
		cancel()
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("redis publisher: failed after %d attempts: %w", attempts, lastErr)
}

func (p *RedisPublisher) send(ctx context.Context, records []OutRecord) error {
	pipe := p.client.Pipeline()
	for _, r := range records {
		args := &goredis.XAddArgs{
			Stream: p.config.Stream,
			Values: []any{FieldPartitionKey, r.PartitionKey, FieldData, r.Data},
		}
		if p.config.MaxLen > 0 {
			args.MaxLen = p.config.MaxLen
			args.Approx = true
		}
		pipe.XAdd(ctx, args)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Close releases publisher resources.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
