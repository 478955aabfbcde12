package noncestore

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo implements DynamoAPI over a map with conditional-put semantics.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	err   error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	pk := in.Item["PK"].(*types.AttributeValueMemberS).Value
	if in.ConditionExpression != nil && *in.ConditionExpression == "attribute_not_exists(PK)" {
		if _, exists := f.items[pk]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	f.items[pk] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	pk := in.Key["PK"].(*types.AttributeValueMemberS).Value
	item, ok := f.items[pk]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func TestDynamoStoreReserve(t *testing.T) {
	db := newFakeDynamo()
	store := NewDynamoStore(db, "nonces")
	ctx := context.Background()

	ok, err := store.TryReserve(ctx, "n-1", "octocat/hello", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first reserve: ok=%v err=%v", ok, err)
	}
	ok, err = store.TryReserve(ctx, "n-1", "octocat/hello", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("conditional check failure must read as already-reserved")
	}

	reserved, err := store.IsReserved(ctx, "n-1")
	if err != nil || !reserved {
		t.Errorf("IsReserved = %v, %v", reserved, err)
	}
	if reserved, _ := store.IsReserved(ctx, "n-absent"); reserved {
		t.Error("absent nonce must not read as reserved")
	}
}

func TestDynamoStoreFailsClosed(t *testing.T) {
	db := newFakeDynamo()
	db.err = errors.New("throttled")
	store := NewDynamoStore(db, "nonces")

	ok, err := store.TryReserve(context.Background(), "n-1", "r", time.Minute)
	if err == nil {
		t.Fatal("store error must surface, not be swallowed")
	}
	if ok {
		t.Error("a failed reserve must not report success")
	}
}

func TestDynamoStoreLazyExpiry(t *testing.T) {
	db := newFakeDynamo()
	store := NewDynamoStore(db, "nonces")
	ctx := context.Background()

	// Simulate a reservation whose TTL has passed but which DynamoDB has not
	// yet evicted.
	db.items["NONCE#n-old"] = map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: "NONCE#n-old"},
		"expires_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)},
	}

	if reserved, _ := store.IsReserved(ctx, "n-old"); reserved {
		t.Error("past-expiry item must read as absent")
	}
}
