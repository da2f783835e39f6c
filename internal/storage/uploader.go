package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amillerrr/vod-pipeline/internal/metrics"
	"github.com/amillerrr/vod-pipeline/pkg/models"
)

var tracer = otel.Tracer("vod-storage")

const (
	uploadRetries    = 3
	retryBackoffBase = 500 * time.Millisecond
)

// Artifact is one local file destined for object storage.
type Artifact struct {
	LocalPath   string
	StorageKey  string
	ContentType string
}

// S3API is the slice of the S3 client the uploader needs.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Uploader pushes artifact sets to S3 with bounded concurrency. A set either
// lands entirely or the pieces that made it are rolled back best-effort.
type Uploader struct {
	client        S3API
	bucket        string
	maxConcurrent int
	log           *slog.Logger
}

func NewUploader(client S3API, bucket string, maxConcurrent int, log *slog.Logger) *Uploader {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Uploader{
		client:        client,
		bucket:        bucket,
		maxConcurrent: maxConcurrent,
		log:           log,
	}
}

// CollectDir walks a local directory tree and stages every file as an
// artifact under keyPrefix, preserving relative paths.
func CollectDir(root, keyPrefix string) ([]Artifact, error) {
	var artifacts []Artifact
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}
		artifacts = append(artifacts, Artifact{
			LocalPath:   path,
			StorageKey:  keyPrefix + "/" + filepath.ToSlash(rel),
			ContentType: ContentTypeFor(path),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return artifacts, nil
}

// UploadAll uploads every artifact, each retried a fixed number of times on
// failure. On permanent failure the already-uploaded keys are deleted
// best-effort and the first error is returned. Progress is reported as the
// fraction of artifacts fully uploaded.
func (u *Uploader) UploadAll(ctx context.Context, videoID string, artifacts []Artifact, progress func(float64)) (int64, error) {
	ctx, span := tracer.Start(ctx, "upload-artifacts")
	defer span.End()
	span.SetAttributes(
		attribute.String("video.id", videoID),
		attribute.Int("artifact.count", len(artifacts)),
	)

	var (
		totalBytes atomic.Int64
		done       atomic.Int64
		firstErr   atomic.Pointer[error]

		mu       sync.Mutex
		uploaded []string
	)

	sem := make(chan struct{}, u.maxConcurrent)
	var wg sync.WaitGroup

	for _, art := range artifacts {
		if firstErr.Load() != nil {
			break
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			err := fmt.Errorf("%w: %v", models.ErrUploadFailed, ctx.Err())
			firstErr.CompareAndSwap(nil, &err)
		}
		if firstErr.Load() != nil {
			break
		}

		wg.Add(1)
		go func(a Artifact) {
			defer wg.Done()
			defer func() { <-sem }()

			if firstErr.Load() != nil {
				return
			}

			size, err := u.uploadOne(ctx, a)
			if err != nil {
				firstErr.CompareAndSwap(nil, &err)
				return
			}

			totalBytes.Add(size)
			metrics.ArtifactBytesUploaded.Add(float64(size))
			mu.Lock()
			uploaded = append(uploaded, a.StorageKey)
			mu.Unlock()

			if progress != nil {
				progress(float64(done.Add(1)) / float64(len(artifacts)))
			}
		}(art)
	}
	wg.Wait()

	if errPtr := firstErr.Load(); errPtr != nil {
		u.rollback(uploaded)
		return 0, *errPtr
	}

	u.log.InfoContext(ctx, "Artifact upload complete",
		"videoId", videoID,
		"files", len(artifacts),
		"totalBytes", totalBytes.Load(),
	)
	return totalBytes.Load(), nil
}

func (u *Uploader) uploadOne(ctx context.Context, a Artifact) (int64, error) {
	var lastErr error
	for attempt := 1; attempt <= uploadRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(retryBackoffBase * time.Duration(1<<(attempt-2))):
			case <-ctx.Done():
				return 0, fmt.Errorf("%w: %v", models.ErrUploadFailed, ctx.Err())
			}
		}

		file, err := os.Open(a.LocalPath)
		if err != nil {
			return 0, fmt.Errorf("%w: open %s: %v", models.ErrUploadFailed, a.LocalPath, err)
		}
		info, err := file.Stat()
		if err != nil {
			file.Close()
			return 0, fmt.Errorf("%w: stat %s: %v", models.ErrUploadFailed, a.LocalPath, err)
		}

		_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(u.bucket),
			Key:         aws.String(a.StorageKey),
			Body:        file,
			ContentType: aws.String(a.ContentType),
		})
		file.Close()
		if err == nil {
			return info.Size(), nil
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}
		u.log.Warn("Artifact upload attempt failed",
			"key", a.StorageKey,
			"attempt", attempt,
			"error", err,
		)
	}
	return 0, fmt.Errorf("%w: %s: %v", models.ErrUploadFailed, a.StorageKey, lastErr)
}

// rollback deletes already-uploaded keys so a failed job leaves no orphaned
// objects behind a record that will never exist. Best-effort.
func (u *Uploader) rollback(keys []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, key := range keys {
		if _, err := u.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(u.bucket),
			Key:    aws.String(key),
		}); err != nil {
			u.log.Warn("Rollback delete failed", "key", key, "error", err)
		}
	}
}

// ContentTypeFor maps artifact filenames to MIME types for delivery.
func ContentTypeFor(path string) string {
	switch {
	case strings.HasSuffix(path, ".m3u8"):
		return "application/vnd.apple.mpegurl"
	case strings.HasSuffix(path, ".ts"):
		return "video/MP2T"
	case strings.HasSuffix(path, ".jpg"), strings.HasSuffix(path, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(path, ".vtt"):
		return "text/vtt"
	case strings.HasSuffix(path, ".srt"), strings.HasSuffix(path, ".ass"):
		return "text/plain"
	case strings.HasSuffix(path, ".ttf"):
		return "font/ttf"
	case strings.HasSuffix(path, ".otf"):
		return "font/otf"
	default:
		return "application/octet-stream"
	}
}
