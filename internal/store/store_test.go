package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fpang/card-restore/internal/domain"
)

func sampleBatch(id string) *domain.BatchResult {
	b := domain.NewBatchResult(id, []domain.ItemResult{
		{
			Filename:          "card.jpg",
			Status:            domain.StatusSuccess,
			OriginalImageURL:  "https://cdn/o.jpg",
			CorrectedImageURL: "https://cdn/c.jpg",
			BackgroundInfo:    &domain.BackgroundInfo{IsSolid: true, HexColor: "#FFFFFF"},
			Generations: []domain.GenerationResult{
				{StrategyName: "静态生成", CropImageURL: "https://cdn/crop.jpg", GenImageURL: "https://cdn/gen.jpg"},
			},
		},
		{Filename: "bad.jpg", Status: domain.StatusFailedCorrection},
	})
	return &b
}

func assertSameBatch(t *testing.T, got, want *domain.BatchResult) {
	t.Helper()
	if got == nil {
		t.Fatal("batch not found")
	}
	if got.BatchID != want.BatchID || got.Total != want.Total || got.Success != want.Success {
		t.Errorf("batch header = %+v, want %+v", got, want)
	}
	if len(got.Results) != len(want.Results) {
		t.Fatalf("results = %d, want %d", len(got.Results), len(want.Results))
	}
	r := got.Results[0]
	if r.BackgroundInfo == nil || *r.BackgroundInfo != *want.Results[0].BackgroundInfo {
		t.Errorf("background = %+v", r.BackgroundInfo)
	}
	if len(r.Generations) != 1 || r.Generations[0] != want.Results[0].Generations[0] {
		t.Errorf("generations = %+v", r.Generations)
	}
	if got.Results[1].Status != domain.StatusFailedCorrection {
		t.Errorf("second status = %s", got.Results[1].Status)
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	want := sampleBatch("batch-1")
	if err := s.PutBatch(context.Background(), want); err != nil {
		t.Fatalf("PutBatch() error = %v", err)
	}
	want.Results[0].Filename = "changed"

	got, err := s.GetBatch(context.Background(), "batch-1")
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if got.Results[0].Filename != "card.jpg" {
		t.Error("stored batch should not alias the caller's value")
	}
	want.Results[0].Filename = "card.jpg"
	assertSameBatch(t, got, want)

	missing, err := s.GetBatch(context.Background(), "nope")
	if missing != nil || err != nil {
		t.Errorf("GetBatch(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }

	_ = s.PutBatch(context.Background(), sampleBatch("batch-1"))
	now = now.Add(2 * time.Minute)

	if got, _ := s.GetBatch(context.Background(), "batch-1"); got != nil {
		t.Error("expired batch should not be returned")
	}
	_ = s.PutBatch(context.Background(), sampleBatch("batch-2"))
	if _, ok := s.batches["batch-1"]; ok {
		t.Error("expired entries should be swept on write")
	}
}

func TestMemoryStore_RequiresID(t *testing.T) {
	s := NewMemoryStore(0)
	if err := s.PutBatch(context.Background(), &domain.BatchResult{}); err == nil {
		t.Error("PutBatch() should reject an empty batch id")
	}
}

// fakeDynamo stores items keyed by PK/SK.
type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
	err   error
}

func itemKey(key map[string]types.AttributeValue) string {
	pk := key["PK"].(*types.AttributeValueMemberS).Value
	sk := key["SK"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.items == nil {
		f.items = map[string]map[string]types.AttributeValue{}
	}
	f.items[itemKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func TestDynamoStore_RoundTrip(t *testing.T) {
	fake := &fakeDynamo{}
	s := NewDynamoStore(fake, "card-restore", time.Hour)

	want := sampleBatch("batch-abc")
	if err := s.PutBatch(context.Background(), want); err != nil {
		t.Fatalf("PutBatch() error = %v", err)
	}

	item, ok := fake.items["BATCH#batch-abc|RESULT"]
	if !ok {
		t.Fatalf("item not written with single-table keys; have %v", fake.items)
	}
	if _, ok := item["expiresAt"].(*types.AttributeValueMemberN); !ok {
		t.Error("expiresAt TTL attribute missing")
	}

	got, err := s.GetBatch(context.Background(), "batch-abc")
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	assertSameBatch(t, got, want)
}

func TestDynamoStore_MissingAndExpired(t *testing.T) {
	fake := &fakeDynamo{}
	s := NewDynamoStore(fake, "card-restore", time.Minute)

	if got, err := s.GetBatch(context.Background(), "missing"); got != nil || err != nil {
		t.Errorf("GetBatch(missing) = %v, %v", got, err)
	}

	now := time.Now()
	s.now = func() time.Time { return now }
	_ = s.PutBatch(context.Background(), sampleBatch("old"))
	now = now.Add(time.Hour)
	if got, _ := s.GetBatch(context.Background(), "old"); got != nil {
		t.Error("expired item should be treated as missing")
	}
}

func TestDynamoStore_Errors(t *testing.T) {
	s := NewDynamoStore(&fakeDynamo{err: errors.New("throttled")}, "t", 0)
	if err := s.PutBatch(context.Background(), sampleBatch("b")); err == nil {
		t.Error("PutBatch() should surface the client error")
	}
	if _, err := s.GetBatch(context.Background(), "b"); err == nil {
		t.Error("GetBatch() should surface the client error")
	}
}

func TestRedisStore_RoundTrip(t *testing.T) {
	addr := os.Getenv("CARD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CARD_TEST_REDIS_ADDR not set")
	}
	s, client, err := NewRedisStore(context.Background(), RedisConfig{Addr: addr, Prefix: "card-restore-test:", TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	defer client.Close()

	want := sampleBatch("batch-redis")
	if err := s.PutBatch(context.Background(), want); err != nil {
		t.Fatalf("PutBatch() error = %v", err)
	}
	got, err := s.GetBatch(context.Background(), "batch-redis")
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	assertSameBatch(t, got, want)

	if got, err := s.GetBatch(context.Background(), "absent"); got != nil || err != nil {
		t.Errorf("GetBatch(absent) = %v, %v", got, err)
	}
}
