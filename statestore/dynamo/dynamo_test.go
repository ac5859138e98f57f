package dynamo

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/justapithecus/sitemapper/statestore"
)

// fakeAPI is an in-memory table that honors the request shapes the backend sends.
type fakeAPI struct {
	mu    sync.Mutex
	items map[statestore.Key][]byte

	// unprocessOnce leaves the last write of the next BatchWriteItem unprocessed.
	unprocessOnce bool
	throttle      int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{items: make(map[statestore.Key][]byte)}
}

func (f *fakeAPI) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.throttle > 0 {
		f.throttle--
		return nil, &ddbtypes.ProvisionedThroughputExceededException{}
	}
	k, _ := keyFromItem(in.Key)
	doc, ok := f.items[k]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: itemFromRow(statestore.Row{Key: k, Doc: doc})}, nil
}

func (f *fakeAPI) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, _ := rowFromItem(in.Item)
	if in.ConditionExpression != nil {
		if _, ok := f.items[r.Key]; ok {
			return nil, &ddbtypes.ConditionalCheckFailedException{}
		}
	}
	f.items[r.Key] = r.Doc
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeAPI) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, _ := keyFromItem(in.Key)
	delete(f.items, k)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeAPI) BatchGetItem(_ context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &dynamodb.BatchGetItemOutput{Responses: map[string][]map[string]ddbtypes.AttributeValue{}}
	for table, ka := range in.RequestItems {
		for _, attrs := range ka.Keys {
			k, _ := keyFromItem(attrs)
			if doc, ok := f.items[k]; ok {
				out.Responses[table] = append(out.Responses[table], itemFromRow(statestore.Row{Key: k, Doc: doc}))
			}
		}
	}
	return out, nil
}

func (f *fakeAPI) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]ddbtypes.WriteRequest{}}
	for table, reqs := range in.RequestItems {
		if f.unprocessOnce && len(reqs) > 0 {
			f.unprocessOnce = false
			out.UnprocessedItems[table] = reqs[len(reqs)-1:]
			reqs = reqs[:len(reqs)-1]
		}
		for _, req := range reqs {
			r, _ := rowFromItem(req.PutRequest.Item)
			f.items[r.Key] = r.Doc
		}
	}
	return out, nil
}

func (f *fakeAPI) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := in.ExpressionAttributeValues[":pk"].(*ddbtypes.AttributeValueMemberS).Value
	start := ""
	if in.ExclusiveStartKey != nil {
		k, _ := keyFromItem(in.ExclusiveStartKey)
		start = k.SK
	}
	var sks []string
	for k := range f.items {
		if k.PK == pk && k.SK > start {
			sks = append(sks, k.SK)
		}
	}
	sort.Strings(sks)

	out := &dynamodb.QueryOutput{}
	limit := len(sks)
	if in.Limit != nil && int(*in.Limit) < limit {
		limit = int(*in.Limit)
		out.LastEvaluatedKey = keyAttrs(statestore.Key{PK: pk, SK: sks[limit-1]})
	}
	for _, sk := range sks[:limit] {
		k := statestore.Key{PK: pk, SK: sk}
		out.Items = append(out.Items, itemFromRow(statestore.Row{Key: k, Doc: f.items[k]}))
	}
	return out, nil
}

func TestBackend_GetPutConditional(t *testing.T) {
	b := NewWithAPI(newFakeAPI(), "sitemapper")
	ctx := t.Context()
	key := statestore.Key{PK: "files#widgets", SK: "widgets-00001.xml"}

	if _, err := b.Get(ctx, key, true); !errors.Is(err, statestore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := b.Put(ctx, statestore.Row{Key: key, Doc: []byte("doc")}, statestore.CondIfNotExists); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	err := b.Put(ctx, statestore.Row{Key: key, Doc: []byte("doc2")}, statestore.CondIfNotExists)
	if !errors.Is(err, statestore.ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed, got %v", err)
	}

	row, err := b.Get(ctx, key, true)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(row.Doc) != "doc" {
		t.Errorf("expected original doc, got %q", row.Doc)
	}
}

func TestBackend_ThrottlingIsTransient(t *testing.T) {
	api := newFakeAPI()
	api.throttle = 1
	b := NewWithAPI(api, "sitemapper")

	_, err := b.Get(t.Context(), statestore.Key{PK: "p", SK: "s"}, true)
	if !statestore.IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestBackend_BatchPutReportsUnprocessed(t *testing.T) {
	api := newFakeAPI()
	api.unprocessOnce = true
	b := NewWithAPI(api, "sitemapper")

	rows := []statestore.Row{
		{Key: statestore.Key{PK: "p", SK: "1"}, Doc: []byte("a")},
		{Key: statestore.Key{PK: "p", SK: "2"}, Doc: []byte("b")},
	}
	unprocessed, err := b.BatchPut(t.Context(), rows)
	if err != nil {
		t.Fatalf("BatchPut failed: %v", err)
	}
	if len(unprocessed) != 1 || unprocessed[0].Key.SK != "2" {
		t.Errorf("expected row 2 unprocessed, got %+v", unprocessed)
	}
}

func TestBackend_WithClientRetry(t *testing.T) {
	api := newFakeAPI()
	api.unprocessOnce = true
	c := statestore.NewClient(NewWithAPI(api, "sitemapper"), statestore.Config{MaxRetries: 3, BaseBackoff: 1}, nil)

	rows := []statestore.Row{
		{Key: statestore.Key{PK: "p", SK: "1"}, Doc: []byte("a")},
		{Key: statestore.Key{PK: "p", SK: "2"}, Doc: []byte("b")},
	}
	if err := c.WriteRows(t.Context(), rows); err != nil {
		t.Fatalf("WriteRows failed: %v", err)
	}
	if len(api.items) != 2 {
		t.Errorf("expected both rows stored, got %d", len(api.items))
	}

	got, err := c.BatchGet(t.Context(), []statestore.Key{rows[0].Key, rows[1].Key, {PK: "p", SK: "3"}})
	if err != nil {
		t.Fatalf("BatchGet failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 rows, got %d", len(got))
	}
}

func TestBackend_QueryPagination(t *testing.T) {
	api := newFakeAPI()
	b := NewWithAPI(api, "sitemapper")
	ctx := t.Context()

	for _, sk := range []string{"a", "b", "c", "d", "e"} {
		if err := b.Put(ctx, statestore.Row{Key: statestore.Key{PK: "page#w#p1", SK: sk}, Doc: []byte(sk)}, statestore.CondNone); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	var all []string
	cursor := ""
	for {
		rows, next, err := b.Query(ctx, "page#w#p1", cursor, 2)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		for _, r := range rows {
			all = append(all, r.Key.SK)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	if len(all) != 5 || all[0] != "a" || all[4] != "e" {
		t.Errorf("unexpected query results: %v", all)
	}
}
