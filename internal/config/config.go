package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Environment   string
	AWS           AWSConfig
	API           APIConfig
	Pipeline      PipelineConfig
	Upload        UploadConfig
	Observability ObservabilityConfig
	CORS          CORSConfig
}

// AWSConfig holds AWS-specific configuration.
type AWSConfig struct {
	Region        string
	Bucket        string
	DynamoDBTable string
	SQSQueueURL   string
	CDNDomain     string
}

// APIConfig holds HTTP server configuration.
type APIConfig struct {
	Port        string
	MetricsPort int
}

// PipelineConfig holds transcoding pipeline configuration.
type PipelineConfig struct {
	MaxConcurrentEncodes int
	MaxConcurrentUploads int
	EncodeTimeout        time.Duration
	JobRetention         time.Duration
}

// UploadConfig holds upload intake configuration.
type UploadConfig struct {
	SpoolDir        string
	ChunkSizeBytes  int64
	SessionMaxAge   time.Duration
	SweepInterval   time.Duration
}

// ObservabilityConfig holds observability configuration.
type ObservabilityConfig struct {
	OTLPEndpoint string
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string
}

// Default values
const (
	DefaultPort                 = "8080"
	DefaultMetricsPort          = 2112
	DefaultRegion               = "us-west-2"
	DefaultMaxConcurrentEncodes = 2
	DefaultMaxConcurrentUploads = 20
	DefaultChunkSizeMB          = 16
	DefaultSessionMaxAgeHours   = 24
	DefaultSweepIntervalMinutes = 30
	DefaultEncodeTimeoutMinutes = 120
	DefaultJobRetentionSeconds  = 30
	DefaultOTLPEndpoint         = "localhost:4317"
)

// Load reads configuration from environment variables and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENV", "dev"),
		AWS: AWSConfig{
			Region:        getEnv("AWS_REGION", DefaultRegion),
			Bucket:        os.Getenv("S3_BUCKET"),
			DynamoDBTable: os.Getenv("DYNAMODB_TABLE"),
			SQSQueueURL:   os.Getenv("SQS_QUEUE_URL"),
			CDNDomain:     os.Getenv("CDN_DOMAIN"),
		},
		API: APIConfig{
			Port:        getEnv("PORT", DefaultPort),
			MetricsPort: getEnvInt("METRICS_PORT", DefaultMetricsPort),
		},
		Pipeline: PipelineConfig{
			MaxConcurrentEncodes: getEnvInt("MAX_CONCURRENT_ENCODES", DefaultMaxConcurrentEncodes),
			MaxConcurrentUploads: getEnvInt("MAX_CONCURRENT_UPLOADS", DefaultMaxConcurrentUploads),
			EncodeTimeout:        time.Duration(getEnvInt("ENCODE_TIMEOUT_MINUTES", DefaultEncodeTimeoutMinutes)) * time.Minute,
			JobRetention:         time.Duration(getEnvInt("JOB_RETENTION_SECONDS", DefaultJobRetentionSeconds)) * time.Second,
		},
		Upload: UploadConfig{
			SpoolDir:       getEnv("SPOOL_DIR", os.TempDir()),
			ChunkSizeBytes: int64(getEnvInt("CHUNK_SIZE_MB", DefaultChunkSizeMB)) * 1024 * 1024,
			SessionMaxAge:  time.Duration(getEnvInt("SESSION_MAX_AGE_HOURS", DefaultSessionMaxAgeHours)) * time.Hour,
			SweepInterval:  time.Duration(getEnvInt("SWEEP_INTERVAL_MINUTES", DefaultSweepIntervalMinutes)) * time.Minute,
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", DefaultOTLPEndpoint),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", nil),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration required for the pipeline service.
func (c *Config) Validate() error {
	var errs []string

	if c.AWS.Bucket == "" {
		errs = append(errs, "S3_BUCKET is required")
	}
	if c.AWS.DynamoDBTable == "" {
		errs = append(errs, "DYNAMODB_TABLE is required")
	}
	if c.Pipeline.MaxConcurrentEncodes < 1 {
		errs = append(errs, "MAX_CONCURRENT_ENCODES must be at least 1")
	}
	if c.Pipeline.MaxConcurrentUploads < 1 {
		errs = append(errs, "MAX_CONCURRENT_UPLOADS must be at least 1")
	}
	if c.Upload.ChunkSizeBytes < 1024*1024 {
		errs = append(errs, "CHUNK_SIZE_MB must be at least 1")
	}

	// In production, delivery endpoints must be explicit
	if c.IsProduction() {
		if c.AWS.CDNDomain == "" {
			errs = append(errs, "CDN_DOMAIN is required in production")
		}
		if len(c.CORS.AllowedOrigins) == 0 {
			errs = append(errs, "CORS_ALLOWED_ORIGINS is required in production")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "prod" || env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil && intVal > 0 {
			return intVal
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
