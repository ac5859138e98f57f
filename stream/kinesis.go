package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	kinesistypes "github.com/aws/aws-sdk-go-v2/service/kinesis/types"

	"github.com/justapithecus/sitemapper/batch"
)

// PutRecords limits.
const (
	MaxKinesisRecords = 500
	MaxKinesisBytes   = 5 << 20
)

// KinesisAPI is the subset of the Kinesis client the publisher uses.
type KinesisAPI interface {
	PutRecords(ctx context.Context, in *kinesis.PutRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error)
}

var _ KinesisAPI = (*kinesis.Client)(nil)

// KinesisConfig configures a KinesisPublisher.
type KinesisConfig struct {
	// Stream is the stream name (required).
	Stream string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom endpoint URL, e.g. a local emulator.
	Endpoint string
	// Retries is the number of resubmissions of failed records (default 3).
	Retries int
}

// KinesisPublisher publishes with PutRecords, resubmitting failed records.
type KinesisPublisher struct {
	api     KinesisAPI
	stream  string
	retries int
	backoff func(attempt int) time.Duration
}

var _ Publisher = (*KinesisPublisher)(nil)

// NewKinesisPublisher creates a publisher from the AWS default credential chain.
func NewKinesisPublisher(ctx context.Context, cfg KinesisConfig) (*KinesisPublisher, error) {
	if cfg.Stream == "" {
		return nil, errors.New("kinesis stream name is required")
	}
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	var kOpts []func(*kinesis.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		kOpts = append(kOpts, func(o *kinesis.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	return NewKinesisPublisherWithAPI(kinesis.NewFromConfig(awsConfig, kOpts...), cfg), nil
}

// NewKinesisPublisherWithAPI creates a publisher over an existing client.
func NewKinesisPublisherWithAPI(api KinesisAPI, cfg KinesisConfig) *KinesisPublisher {
	retries := cfg.Retries
	if retries <= 0 {
		retries = 3
	}
	return &KinesisPublisher{
		api:     api,
		stream:  cfg.Stream,
		retries: retries,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
		},
	}
}

// Publish implements Publisher.
func (p *KinesisPublisher) Publish(ctx context.Context, records []OutRecord) error {
	size := func(r OutRecord) int { return len(r.Data) + len(r.PartitionKey) }
	chunks, err := batch.Split(records, batch.ChunkLimits{MaxItems: MaxKinesisRecords, MaxBytes: MaxKinesisBytes}, size)
	if err != nil {
		return fmt.Errorf("kinesis: %w", err)
	}
	for _, chunk := range chunks {
		if err := p.publishChunk(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (p *KinesisPublisher) publishChunk(ctx context.Context, records []OutRecord) error {
	pending := records
	for attempt := 0; ; attempt++ {
		failed, err := p.put(ctx, pending)
		if err == nil && failed == nil {
			return nil
		}
		if err == nil {
			pending = resubmitSet(pending, failed)
		}
		if attempt >= p.retries {
			if err != nil {
				return fmt.Errorf("kinesis: failed after %d attempts: %w", attempt+1, err)
			}
			return fmt.Errorf("kinesis: %d records unpublished after %d attempts", len(pending), attempt+1)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("kinesis: context canceled during backoff: %w", ctx.Err())
		case <-time.After(p.backoff(attempt)):
		}
	}
}

// put sends one PutRecords call and returns per-record failure flags,
// nil when every record succeeded.
func (p *KinesisPublisher) put(ctx context.Context, records []OutRecord) ([]bool, error) {
	entries := make([]kinesistypes.PutRecordsRequestEntry, len(records))
	for i, r := range records {
		entries[i] = kinesistypes.PutRecordsRequestEntry{
			Data:         r.Data,
			PartitionKey: aws.String(r.PartitionKey),
		}
	}
	out, err := p.api.PutRecords(ctx, &kinesis.PutRecordsInput{
		StreamName: aws.String(p.stream),
		Records:    entries,
	})
	if err != nil {
		return nil, err
	}
	if aws.ToInt32(out.FailedRecordCount) == 0 {
		return nil, nil
	}
	failed := make([]bool, len(records))
	for i, res := range out.Records {
		if i < len(failed) && res.ErrorCode != nil {
			failed[i] = true
		}
	}
	return failed, nil
}

// Close implements Publisher.
func (p *KinesisPublisher) Close() error { return nil }
