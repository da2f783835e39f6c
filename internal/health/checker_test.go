package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type mockS3Client struct {
	err error
}

func (m *mockS3Client) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &s3.HeadBucketOutput{}, nil
}

type mockDynamoDBClient struct {
	err error
}

func (m *mockDynamoDBClient) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &dynamodb.DescribeTableOutput{}, nil
}

type mockSQSClient struct {
	err error
}

func (m *mockSQSClient) GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.GetQueueAttributesOutput{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *Config {
	return &Config{
		ServiceName:    "vod-pipeline",
		S3Client:       &mockS3Client{},
		S3Bucket:       "test-bucket",
		DynamoDBClient: &mockDynamoDBClient{},
		DynamoDBTable:  "videos",
		SQSClient:      &mockSQSClient{},
		SQSQueueURL:    "https://sqs.test/queue",
		SpoolDir:       t.TempDir(),
		Logger:         testLogger(),
		CacheTTL:       time.Second,
		CheckTimeout:   time.Second,
		DeepCheckLimit: time.Millisecond,
	}
}

func TestCheckShallow(t *testing.T) {
	checker := NewChecker(DefaultConfig("vod-pipeline", testLogger()))

	status := checker.Check(context.Background(), false)

	if status.Status != "healthy" {
		t.Errorf("Status = %s, want healthy", status.Status)
	}
	if status.Service != "vod-pipeline" {
		t.Errorf("Service = %s, want vod-pipeline", status.Service)
	}
	if len(status.Checks) != 0 {
		t.Errorf("shallow check should carry no component checks, got %d", len(status.Checks))
	}
}

func TestCheckDeepAllHealthy(t *testing.T) {
	checker := NewChecker(testConfig(t))

	status := checker.Check(context.Background(), true)

	if status.Status != "healthy" {
		t.Errorf("Status = %s, want healthy", status.Status)
	}
	for _, name := range []string{"s3", "dynamodb", "sqs", "spool"} {
		check, ok := status.Checks[name]
		if !ok {
			t.Errorf("missing %s check", name)
			continue
		}
		if check.Status != "healthy" {
			t.Errorf("%s status = %s, want healthy", name, check.Status)
		}
	}
}

func TestCheckDeepDegraded(t *testing.T) {
	cfg := testConfig(t)
	cfg.DynamoDBClient = &mockDynamoDBClient{err: errors.New("table missing")}
	checker := NewChecker(cfg)

	status := checker.Check(context.Background(), true)

	if status.Status != "degraded" {
		t.Errorf("Status = %s, want degraded", status.Status)
	}
	if status.Checks["dynamodb"].Status != "unhealthy" {
		t.Errorf("dynamodb status = %s, want unhealthy", status.Checks["dynamodb"].Status)
	}
	if status.Checks["s3"].Status != "healthy" {
		t.Errorf("s3 status = %s, want healthy", status.Checks["s3"].Status)
	}
}

func TestCheckCaching(t *testing.T) {
	cfg := testConfig(t)
	cfg.CacheTTL = time.Hour
	checker := NewChecker(cfg)

	first := checker.Check(context.Background(), true)
	second := checker.Check(context.Background(), false)
	if first != second {
		t.Error("shallow check within TTL should return the cached status")
	}
}

func TestHandler(t *testing.T) {
	checker := NewChecker(testConfig(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	checker.Handler()(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	var status Status
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if status.Status != "healthy" {
		t.Errorf("body status = %s, want healthy", status.Status)
	}
}

func TestDeepHandlerRateLimited(t *testing.T) {
	cfg := testConfig(t)
	cfg.DeepCheckLimit = time.Hour
	checker := NewChecker(cfg)
	checker.RecordDeepCheck()

	req := httptest.NewRequest(http.MethodGet, "/health/deep", nil)
	rec := httptest.NewRecorder()
	checker.DeepHandler()(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("rate-limited response should set Retry-After")
	}

	var body Status
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, ok := body.Checks["rate_limited"]; !ok {
		t.Error("rate-limited response should carry the rate_limited marker")
	}

	// The annotation lives only in the response; the shared cached status
	// stays clean for other readers.
	cached := checker.Check(context.Background(), false)
	if _, ok := cached.Checks["rate_limited"]; ok {
		t.Error("rate_limited marker leaked into the cached status")
	}
}
