package job

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amillerrr/vod-pipeline/internal/metrics"
	"github.com/amillerrr/vod-pipeline/internal/notify"
	"github.com/amillerrr/vod-pipeline/internal/probe"
	"github.com/amillerrr/vod-pipeline/internal/session"
	"github.com/amillerrr/vod-pipeline/internal/storage"
	"github.com/amillerrr/vod-pipeline/internal/transcoder"
	"github.com/amillerrr/vod-pipeline/pkg/models"
)

var tracer = otel.Tracer("vod-orchestrator")

// Prober inspects the source and extracts auxiliary tracks.
type Prober interface {
	Probe(ctx context.Context, path string) (*probe.Result, error)
	ExtractTracks(ctx context.Context, srcPath, videoID, workDir string, res *probe.Result) (*probe.TrackSet, []string)
}

// Encoder produces the HLS rendition set and preview images.
type Encoder interface {
	Encode(ctx context.Context, req transcoder.EncodeRequest, sink transcoder.ProgressFunc) (*transcoder.EncodeResult, error)
	GenerateThumbnail(ctx context.Context, inputPath, outputDir string, duration float64) (string, error)
	GenerateSprite(ctx context.Context, inputPath, outputDir string, duration float64) (string, error)
}

// Uploader delivers a staged artifact set to object storage.
type Uploader interface {
	UploadAll(ctx context.Context, videoID string, artifacts []storage.Artifact, progress func(float64)) (int64, error)
}

// Publisher makes the finished video's metadata visible as a single unit.
type Publisher interface {
	PublishVideo(ctx context.Context, rec *models.VideoRecord) error
}

// Orchestrator drives each job through the pipeline on its own goroutine.
// Encode concurrency is bounded inside the Encoder; everything else runs
// unserialized across jobs.
type Orchestrator struct {
	tracker   *Tracker
	prober    Prober
	encoder   Encoder
	uploader  Uploader
	publisher Publisher
	notifier  *notify.Notifier
	workDir   string
	log       *slog.Logger

	baseCtx context.Context

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewOrchestrator(
	ctx context.Context,
	tracker *Tracker,
	prober Prober,
	encoder Encoder,
	uploader Uploader,
	publisher Publisher,
	notifier *notify.Notifier,
	workDir string,
	log *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		tracker:   tracker,
		prober:    prober,
		encoder:   encoder,
		uploader:  uploader,
		publisher: publisher,
		notifier:  notifier,
		workDir:   workDir,
		log:       log,
		baseCtx:   ctx,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Submit queues a finalized source for processing and returns immediately.
// The job must already be registered with the tracker.
func (o *Orchestrator) Submit(src *session.SourceFile) error {
	if err := o.tracker.SetStage(src.UploadID, StageQueued); err != nil {
		// Cancel raced finalize; the handed-off source is ours to reclaim.
		os.Remove(src.Path)
		return err
	}

	ctx, cancel := context.WithCancel(o.baseCtx)
	o.mu.Lock()
	o.cancels[src.UploadID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			cancel()
			o.mu.Lock()
			delete(o.cancels, src.UploadID)
			o.mu.Unlock()
		}()
		o.run(ctx, src)
	}()
	return nil
}

// Cancel honors a cancellation request only before encoding has begun.
// Anything later returns models.ErrInvalidState and the job keeps running.
func (o *Orchestrator) Cancel(id string) error {
	// The tracker moves the job to Cancelled only while it is still
	// cancellable, under its own lock, so a job that slips into a later
	// stage concurrently is rejected rather than marked Cancelled.
	if err := o.tracker.Cancel(id); err != nil {
		return err
	}

	o.mu.Lock()
	cancel, ok := o.cancels[id]
	o.mu.Unlock()
	if ok {
		cancel()
	}

	metrics.RecordCancelled()
	o.log.Info("Job cancelled", "jobId", id)
	return nil
}

// Wait blocks until all in-flight jobs finish, for graceful shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// run drives one job through probe, encode, upload, and publication. It owns
// the source file and the work directory, removing both when done.
func (o *Orchestrator) run(ctx context.Context, src *session.SourceFile) {
	videoID := src.UploadID
	ctx, span := tracer.Start(ctx, "pipeline-job")
	defer span.End()
	span.SetAttributes(attribute.String("video.id", videoID))

	// Encoded renditions land in outRoot and are staged wholesale by
	// CollectDir; extracted tracks live in their own root so they are staged
	// exactly once, via the explicit track appends below.
	outRoot := filepath.Join(o.workDir, videoID)
	trackRoot := outRoot + "-tracks"
	defer func() {
		os.Remove(src.Path)
		os.RemoveAll(outRoot)
		os.RemoveAll(trackRoot)
	}()

	// ExtractingMetadata
	if err := o.tracker.SetStage(videoID, StageExtractingMetadata); err != nil {
		// Cancelled between Submit and pickup; nothing started yet.
		return
	}
	stageStart := time.Now()

	res, err := o.prober.Probe(ctx, src.Path)
	if err != nil {
		o.fail(ctx, videoID, "UnprobeableSource", err)
		return
	}
	o.tracker.SetProgress(videoID, 50)

	if err := os.MkdirAll(outRoot, 0755); err != nil {
		o.fail(ctx, videoID, "WorkspaceError", err)
		return
	}

	tracks, notes := o.prober.ExtractTracks(ctx, src.Path, videoID, trackRoot, res)
	for _, note := range notes {
		o.tracker.AddDetail(videoID, note)
	}
	metrics.StageDuration.WithLabelValues("extract").Observe(time.Since(stageStart).Seconds())

	// Encoding
	if err := o.tracker.SetStage(videoID, StageEncoding); err != nil {
		return
	}
	stageStart = time.Now()

	ladder := transcoder.BuildLadder(res.Width, res.Height, res.BitRate, res.FrameRate)
	encodeRes, err := o.encoder.Encode(ctx, transcoder.EncodeRequest{
		VideoID:   videoID,
		InputPath: src.Path,
		OutputDir: outRoot,
		Variants:  ladder,
		Duration:  res.Duration,
	}, func(frac float64) {
		o.tracker.SetProgress(videoID, frac*100)
	})
	if err != nil {
		o.fail(ctx, videoID, "EncoderFailure", err)
		return
	}

	record := &models.VideoRecord{
		VideoID:         videoID,
		Name:            src.FileName,
		DurationSeconds: res.Duration,
		ManifestKey:     videoID + "/master.m3u8",
		Chapters:        res.Chapters,
		AudioTracks:     res.AudioTracks,
	}
	for _, v := range encodeRes.Variants {
		record.Resolutions = append(record.Resolutions, v.Name)
	}
	for _, sub := range tracks.Subtitles {
		record.Subtitles = append(record.Subtitles, sub.Track)
	}
	for _, att := range tracks.Attachments {
		record.Attachments = append(record.Attachments, att.Attachment)
	}

	// Preview images are best-effort; their absence is a note, not a failure.
	if _, err := o.encoder.GenerateThumbnail(ctx, src.Path, outRoot, res.Duration); err != nil {
		o.tracker.AddDetail(videoID, fmt.Sprintf("thumbnail skipped: %v", err))
	} else {
		record.ThumbnailKey = videoID + "/thumbnail.jpg"
	}
	if _, err := o.encoder.GenerateSprite(ctx, src.Path, outRoot, res.Duration); err != nil {
		o.tracker.AddDetail(videoID, fmt.Sprintf("sprite skipped: %v", err))
	} else {
		record.SpriteKey = videoID + "/sprite.jpg"
	}
	metrics.StageDuration.WithLabelValues("encode").Observe(time.Since(stageStart).Seconds())

	// Uploading
	if err := o.tracker.SetStage(videoID, StageUploading); err != nil {
		return
	}
	stageStart = time.Now()

	artifacts, err := storage.CollectDir(outRoot, videoID)
	if err != nil {
		o.fail(ctx, videoID, "WorkspaceError", err)
		return
	}
	for _, sub := range tracks.Subtitles {
		artifacts = append(artifacts, storage.Artifact(sub.File))
	}
	for _, att := range tracks.Attachments {
		artifacts = append(artifacts, storage.Artifact(att.File))
	}

	if _, err := o.uploader.UploadAll(ctx, videoID, artifacts, func(frac float64) {
		o.tracker.SetProgress(videoID, frac*100)
	}); err != nil {
		o.fail(ctx, videoID, "UploadFailure", err)
		return
	}

	if err := o.publisher.PublishVideo(ctx, record); err != nil {
		o.fail(ctx, videoID, "PublishFailure", err)
		return
	}
	metrics.StageDuration.WithLabelValues("upload").Observe(time.Since(stageStart).Seconds())

	if err := o.tracker.SetStage(videoID, StageCompleted); err != nil {
		return
	}
	metrics.RecordSuccess()
	o.log.Info("Job completed",
		"jobId", videoID,
		"variants", len(encodeRes.Variants),
		"duration", res.Duration,
	)

	o.notifier.Publish(ctx, notify.CompletionEvent{
		VideoID:     videoID,
		Status:      string(models.StatusCompleted),
		ManifestKey: record.ManifestKey,
		Resolutions: record.Resolutions,
	})
}

func (o *Orchestrator) fail(ctx context.Context, videoID, reason string, err error) {
	o.tracker.Fail(videoID, fmt.Sprintf("%s: %v", reason, err))
	metrics.RecordFailure()
	o.log.Error("Job failed", "jobId", videoID, "reason", reason, "error", err)

	o.notifier.Publish(ctx, notify.CompletionEvent{
		VideoID: videoID,
		Status:  string(models.StatusFailed),
		Error:   reason,
	})
}
