package results

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// LatestIndex is the GSI projecting results by tuple, sorted by timestamp.
const LatestIndex = "latest-index"

// runMarkerTTL keeps run-seen markers long enough to absorb CI retries.
const runMarkerTTL = 45 * time.Minute

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// resultItem is the stored shape of a test result. GSI1SK is the zero-padded
// epoch so lexicographic sort matches numeric order.
type resultItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	GSI1PK    string `dynamodbav:"GSI1PK"`
	GSI1SK    string `dynamodbav:"GSI1SK"`
	Owner     string `dynamodbav:"owner"`
	Repo      string `dynamodbav:"repo"`
	Platform  string `dynamodbav:"platform"`
	Branch    string `dynamodbav:"branch"`
	RunID     string `dynamodbav:"run_id"`
	Passed    int    `dynamodbav:"passed"`
	Failed    int    `dynamodbav:"failed"`
	Skipped   int    `dynamodbav:"skipped"`
	Total     int    `dynamodbav:"total"`
	RunURL    string `dynamodbav:"url_html"`
	Commit    string `dynamodbav:"commit"`
	Timestamp int64  `dynamodbav:"timestamp_epoch"`
}

// DynamoStore persists test results in a single table plus a latest GSI.
type DynamoStore struct {
	client DynamoAPI
	table  string
}

// NewDynamoStore creates a DynamoDB-backed result store.
func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

func padEpoch(epoch int64) string {
	return fmt.Sprintf("%013d", epoch)
}

// Put writes the run-seen marker and the result item in one transaction. The
// marker carries the only condition, so a duplicate runId cancels the whole
// transaction and the stored record is unchanged.
func (s *DynamoStore) Put(ctx context.Context, rec *TestResultRecord) (PutOutcome, error) {
	epoch := rec.Timestamp.Unix()
	item := resultItem{
		PK:        resultKey(rec.Owner, rec.Repo, rec.Platform, rec.Branch),
		SK:        padEpoch(epoch) + "#" + rec.RunID,
		GSI1PK:    latestKey(rec.Owner, rec.Repo, rec.Platform, rec.Branch),
		GSI1SK:    padEpoch(epoch),
		Owner:     rec.Owner,
		Repo:      rec.Repo,
		Platform:  rec.Platform,
		Branch:    rec.Branch,
		RunID:     rec.RunID,
		Passed:    rec.Passed,
		Failed:    rec.Failed,
		Skipped:   rec.Skipped,
		Total:     rec.Total,
		RunURL:    rec.RunURL,
		Commit:    rec.Commit,
		Timestamp: epoch,
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return Duplicate, fmt.Errorf("results: marshal failed: %w", err)
	}

	marker := map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: runKey(rec.Owner, rec.Repo, rec.RunID)},
		"SK":         &types.AttributeValueMemberS{Value: "RUN"},
		"expires_at": &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Add(runMarkerTTL).Unix(), 10)},
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(s.table),
					Item:                marker,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(s.table),
					Item:      av,
				},
			},
		},
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			for _, reason := range canceled.CancellationReasons {
				if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
					return Duplicate, nil
				}
			}
		}
		return Duplicate, fmt.Errorf("results: transactional write failed: %w", err)
	}
	return Accepted, nil
}

// GetLatest queries the GSI descending with limit 1.
func (s *DynamoStore) GetLatest(ctx context.Context, owner, repo, platform, branch string) (*TestResultRecord, error) {
	out, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(LatestIndex),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: latestKey(owner, repo, platform, branch)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("results: latest query failed: %w", err)
	}
	if len(out.Items) == 0 {
		return nil, nil
	}

	var item resultItem
	if err := attributevalue.UnmarshalMap(out.Items[0], &item); err != nil {
		return nil, fmt.Errorf("results: unmarshal failed: %w", err)
	}
	return &TestResultRecord{
		Owner:     item.Owner,
		Repo:      item.Repo,
		Platform:  item.Platform,
		Branch:    item.Branch,
		RunID:     item.RunID,
		Passed:    item.Passed,
		Failed:    item.Failed,
		Skipped:   item.Skipped,
		Total:     item.Total,
		RunURL:    item.RunURL,
		Commit:    item.Commit,
		Timestamp: time.Unix(item.Timestamp, 0).UTC(),
	}, nil
}
