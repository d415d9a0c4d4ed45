package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/card-restore/internal/domain"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix = "BATCH#"
	skResult = "RESULT"
)

// DynamoAPI is the part of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoStore implements BatchStore on a DynamoDB table with a TTL
// attribute named expiresAt.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// Compile-time interface check.
var _ BatchStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table. ttl <= 0
// selects DefaultTTL.
func NewDynamoStore(client DynamoAPI, tableName string, ttl time.Duration) *DynamoStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		ttl:       ttl,
		now:       time.Now,
	}
}

func batchPK(batchID string) string {
	return pkPrefix + batchID
}

func (s *DynamoStore) expiresAt() int64 {
	return s.now().Add(s.ttl).Unix()
}

// PutBatch implements BatchStore.
func (s *DynamoStore) PutBatch(ctx context.Context, batch *domain.BatchResult) error {
	if batch == nil || batch.BatchID == "" {
		return fmt.Errorf("batch id is required")
	}
	return s.putItem(ctx, batchPK(batch.BatchID), skResult, batch)
}

// GetBatch implements BatchStore. Items past their expiresAt are treated as
// missing, since DynamoDB deletes expired items lazily.
func (s *DynamoStore) GetBatch(ctx context.Context, batchID string) (*domain.BatchResult, error) {
	var record struct {
		domain.BatchResult
		ExpiresAt int64 `dynamodbav:"expiresAt"`
	}
	found, err := s.getItem(ctx, batchPK(batchID), skResult, &record)
	if err != nil || !found {
		return nil, err
	}
	if record.ExpiresAt > 0 && s.now().Unix() > record.ExpiresAt {
		return nil, nil
	}
	out := record.BatchResult
	out.BatchID = batchID
	return &out, nil
}

// putItem marshals data and writes it with PK, SK and TTL attributes.
func (s *DynamoStore) putItem(ctx context.Context, pk, sk string, data interface{}) error {
	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.expiresAt(), 10)}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem PK=%s SK=%s: %w", pk, sk, err)
	}
	log.Debug().Str("pk", pk).Str("sk", sk).Msg("Batch record written")
	return nil
}

// getItem reads a single item and unmarshals it into out. Returns false if
// the item does not exist.
func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out interface{}) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return false, fmt.Errorf("GetItem PK=%s SK=%s: %w", pk, sk, err)
	}
	if result.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("unmarshal PK=%s SK=%s: %w", pk, sk, err)
	}
	return true, nil
}
