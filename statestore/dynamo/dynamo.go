// Package dynamo implements the metadata store backend on Amazon DynamoDB.
//
// The table has a string partition key "pk", a string sort key "sk" and
// stores each msgpack document in the binary attribute "doc".
package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/justapithecus/sitemapper/statestore"
)

const (
	attrPK  = "pk"
	attrSK  = "sk"
	attrDoc = "doc"
)

// API is the subset of the DynamoDB client the backend uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

// Config holds configuration for the DynamoDB backend.
type Config struct {
	// Table is the table name (required).
	Table string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom endpoint URL, e.g. DynamoDB Local.
	Endpoint string
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Table == "" {
		return errors.New("dynamodb table is required")
	}
	return nil
}

// Backend is a statestore.Backend over one DynamoDB table.
type Backend struct {
	api   API
	table string
}

var _ statestore.Backend = (*Backend)(nil)

// New creates a backend from the AWS default credential chain.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var ddbOpts []func(*dynamodb.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		ddbOpts = append(ddbOpts, func(o *dynamodb.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	return NewWithAPI(dynamodb.NewFromConfig(awsConfig, ddbOpts...), cfg.Table), nil
}

// NewWithAPI creates a backend over an existing client.
func NewWithAPI(api API, table string) *Backend {
	return &Backend{api: api, table: table}
}

// Get implements statestore.Backend.
func (b *Backend) Get(ctx context.Context, key statestore.Key, consistent bool) (statestore.Row, error) {
	out, err := b.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(b.table),
		Key:            keyAttrs(key),
		ConsistentRead: aws.Bool(consistent),
	})
	if err != nil {
		return statestore.Row{}, classify(err)
	}
	if len(out.Item) == 0 {
		return statestore.Row{}, statestore.ErrNotFound
	}
	return rowFromItem(out.Item)
}

// Put implements statestore.Backend.
func (b *Backend) Put(ctx context.Context, row statestore.Row, cond statestore.Condition) error {
	in := &dynamodb.PutItemInput{
		TableName: aws.String(b.table),
		Item:      itemFromRow(row),
	}
	if cond == statestore.CondIfNotExists {
		in.ConditionExpression = aws.String("attribute_not_exists(" + attrPK + ")")
	}
	_, err := b.api.PutItem(ctx, in)
	return classify(err)
}

// Delete implements statestore.Backend.
func (b *Backend) Delete(ctx context.Context, key statestore.Key) error {
	_, err := b.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.table),
		Key:       keyAttrs(key),
	})
	return classify(err)
}

// BatchGet implements statestore.Backend.
func (b *Backend) BatchGet(ctx context.Context, keys []statestore.Key, consistent bool) ([]statestore.Row, []statestore.Key, error) {
	if len(keys) == 0 {
		return nil, nil, nil
	}
	attrs := make([]map[string]ddbtypes.AttributeValue, len(keys))
	for i, k := range keys {
		attrs[i] = keyAttrs(k)
	}
	out, err := b.api.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
		RequestItems: map[string]ddbtypes.KeysAndAttributes{
			b.table: {Keys: attrs, ConsistentRead: aws.Bool(consistent)},
		},
	})
	if err != nil {
		return nil, nil, classify(err)
	}

	rows := make([]statestore.Row, 0, len(out.Responses[b.table]))
	for _, item := range out.Responses[b.table] {
		r, err := rowFromItem(item)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, r)
	}

	var unprocessed []statestore.Key
	if ka, ok := out.UnprocessedKeys[b.table]; ok {
		for _, attrs := range ka.Keys {
			k, err := keyFromItem(attrs)
			if err != nil {
				return nil, nil, err
			}
			unprocessed = append(unprocessed, k)
		}
	}
	return rows, unprocessed, nil
}

// BatchPut implements statestore.Backend.
func (b *Backend) BatchPut(ctx context.Context, rows []statestore.Row) ([]statestore.Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	reqs := make([]ddbtypes.WriteRequest, len(rows))
	for i, r := range rows {
		reqs[i] = ddbtypes.WriteRequest{PutRequest: &ddbtypes.PutRequest{Item: itemFromRow(r)}}
	}
	out, err := b.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]ddbtypes.WriteRequest{b.table: reqs},
	})
	if err != nil {
		return nil, classify(err)
	}

	var unprocessed []statestore.Row
	for _, req := range out.UnprocessedItems[b.table] {
		if req.PutRequest == nil {
			continue
		}
		r, err := rowFromItem(req.PutRequest.Item)
		if err != nil {
			return nil, err
		}
		unprocessed = append(unprocessed, r)
	}
	return unprocessed, nil
}

// Query implements statestore.Backend.
func (b *Backend) Query(ctx context.Context, pk, cursor string, limit int) ([]statestore.Row, string, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(b.table),
		KeyConditionExpression: aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{
			"#pk": attrPK,
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: pk},
		},
		ConsistentRead: aws.Bool(true),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}
	if cursor != "" {
		in.ExclusiveStartKey = keyAttrs(statestore.Key{PK: pk, SK: cursor})
	}

	out, err := b.api.Query(ctx, in)
	if err != nil {
		return nil, "", classify(err)
	}

	rows := make([]statestore.Row, 0, len(out.Items))
	for _, item := range out.Items {
		r, err := rowFromItem(item)
		if err != nil {
			return nil, "", err
		}
		rows = append(rows, r)
	}

	next := ""
	if len(out.LastEvaluatedKey) > 0 {
		k, err := keyFromItem(out.LastEvaluatedKey)
		if err != nil {
			return nil, "", err
		}
		next = k.SK
	}
	return rows, next, nil
}

// Close implements statestore.Backend. The SDK client holds no resources.
func (b *Backend) Close() error { return nil }

func keyAttrs(k statestore.Key) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		attrPK: &ddbtypes.AttributeValueMemberS{Value: k.PK},
		attrSK: &ddbtypes.AttributeValueMemberS{Value: k.SK},
	}
}

func itemFromRow(r statestore.Row) map[string]ddbtypes.AttributeValue {
	item := keyAttrs(r.Key)
	item[attrDoc] = &ddbtypes.AttributeValueMemberB{Value: r.Doc}
	return item
}

func keyFromItem(item map[string]ddbtypes.AttributeValue) (statestore.Key, error) {
	pk, ok := item[attrPK].(*ddbtypes.AttributeValueMemberS)
	if !ok {
		return statestore.Key{}, fmt.Errorf("dynamo: item missing string %q", attrPK)
	}
	sk, ok := item[attrSK].(*ddbtypes.AttributeValueMemberS)
	if !ok {
		return statestore.Key{}, fmt.Errorf("dynamo: item missing string %q", attrSK)
	}
	return statestore.Key{PK: pk.Value, SK: sk.Value}, nil
}

func rowFromItem(item map[string]ddbtypes.AttributeValue) (statestore.Row, error) {
	k, err := keyFromItem(item)
	if err != nil {
		return statestore.Row{}, err
	}
	doc, ok := item[attrDoc].(*ddbtypes.AttributeValueMemberB)
	if !ok {
		return statestore.Row{}, fmt.Errorf("dynamo: item %s/%s missing binary %q", k.PK, k.SK, attrDoc)
	}
	return statestore.Row{Key: k, Doc: doc.Value}, nil
}

// classify maps SDK errors onto statestore sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ccf *ddbtypes.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return fmt.Errorf("%w: %w", statestore.ErrConditionFailed, err)
	}
	var (
		throughput *ddbtypes.ProvisionedThroughputExceededException
		limit      *ddbtypes.RequestLimitExceeded
		internal   *ddbtypes.InternalServerError
	)
	if errors.As(err, &throughput) || errors.As(err, &limit) || errors.As(err, &internal) {
		return statestore.Transient(err)
	}
	return err
}
