package noncestore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoStore reserves nonces with a conditional put; the table's TTL
// attribute evicts expired reservations natively.
type DynamoStore struct {
	client DynamoAPI
	table  string
}

// NewDynamoStore creates a DynamoDB-backed nonce store.
func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

func nonceKey(nonce string) string {
	return "NONCE#" + nonce
}

func (s *DynamoStore) TryReserve(ctx context.Context, nonce, repoID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expires := now.Add(ttl)

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"PK":         &types.AttributeValueMemberS{Value: nonceKey(nonce)},
			"repo_id":    &types.AttributeValueMemberS{Value: repoID},
			"created_at": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			"expires_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(expires.Unix(), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *DynamoStore) IsReserved(ctx context.Context, nonce string) (bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: nonceKey(nonce)}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, err
	}
	if out.Item == nil {
		return false, nil
	}
	// TTL eviction is lazy; treat past-expiry items as absent.
	if attr, ok := out.Item["expires_at"].(*types.AttributeValueMemberN); ok {
		if epoch, err := strconv.ParseInt(attr.Value, 10, 64); err == nil && time.Now().Unix() >= epoch {
			return false, nil
		}
	}
	return true, nil
}

func (s *DynamoStore) Close() {}
