package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("S3_BUCKET", "test-bucket")
	t.Setenv("DYNAMODB_TABLE", "test-table")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.Port != DefaultPort {
		t.Errorf("Port = %s, want %s", cfg.API.Port, DefaultPort)
	}
	if cfg.Pipeline.MaxConcurrentEncodes != DefaultMaxConcurrentEncodes {
		t.Errorf("MaxConcurrentEncodes = %d, want %d", cfg.Pipeline.MaxConcurrentEncodes, DefaultMaxConcurrentEncodes)
	}
	if cfg.Upload.SessionMaxAge != DefaultSessionMaxAgeHours*time.Hour {
		t.Errorf("SessionMaxAge = %v, want %dh", cfg.Upload.SessionMaxAge, DefaultSessionMaxAgeHours)
	}
	if cfg.Upload.ChunkSizeBytes != DefaultChunkSizeMB*1024*1024 {
		t.Errorf("ChunkSizeBytes = %d, want %d", cfg.Upload.ChunkSizeBytes, DefaultChunkSizeMB*1024*1024)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("S3_BUCKET", "test-bucket")
	t.Setenv("DYNAMODB_TABLE", "test-table")
	t.Setenv("MAX_CONCURRENT_ENCODES", "4")
	t.Setenv("CHUNK_SIZE_MB", "8")
	t.Setenv("SESSION_MAX_AGE_HOURS", "12")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Pipeline.MaxConcurrentEncodes != 4 {
		t.Errorf("MaxConcurrentEncodes = %d, want 4", cfg.Pipeline.MaxConcurrentEncodes)
	}
	if cfg.Upload.ChunkSizeBytes != 8*1024*1024 {
		t.Errorf("ChunkSizeBytes = %d, want %d", cfg.Upload.ChunkSizeBytes, 8*1024*1024)
	}
	if cfg.Upload.SessionMaxAge != 12*time.Hour {
		t.Errorf("SessionMaxAge = %v, want 12h", cfg.Upload.SessionMaxAge)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.CORS.AllowedOrigins)
	}
}

func TestValidateMissingRequired(t *testing.T) {
	t.Setenv("S3_BUCKET", "")
	t.Setenv("DYNAMODB_TABLE", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load() with missing required vars should fail")
	}
}

func TestValidateProductionRequirements(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("S3_BUCKET", "test-bucket")
	t.Setenv("DYNAMODB_TABLE", "test-table")

	if _, err := Load(); err == nil {
		t.Fatal("production config without CDN_DOMAIN and CORS_ALLOWED_ORIGINS should fail")
	}

	t.Setenv("CDN_DOMAIN", "cdn.example.com")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://watch.example.com")
	if _, err := Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestIsProduction(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"prod", true},
		{"production", true},
		{"PROD", true},
		{"dev", false},
		{"staging", false},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := &Config{Environment: tt.env}
			if got := cfg.IsProduction(); got != tt.want {
				t.Errorf("IsProduction() = %v, want %v", got, tt.want)
			}
		})
	}
}
