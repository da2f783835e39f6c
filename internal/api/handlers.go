package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/amillerrr/vod-pipeline/internal/config"
	"github.com/amillerrr/vod-pipeline/internal/job"
	"github.com/amillerrr/vod-pipeline/internal/metrics"
	"github.com/amillerrr/vod-pipeline/internal/session"
	"github.com/amillerrr/vod-pipeline/pkg/models"
)

var tracer = otel.Tracer("vod-api")

const (
	MaxFilenameLength = 255

	// chunkReceiptShare caps chunk-receipt progress; the remainder of the
	// stage belongs to finalize.
	chunkReceiptShare = 90.0
)

// AllowedExtensions lists the source container formats accepted for upload.
var AllowedExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
}

// VideoCatalog looks up published video metadata.
type VideoCatalog interface {
	GetVideo(ctx context.Context, videoID string) (*models.VideoRecord, error)
}

// Handlers contains all HTTP handlers for the pipeline intake surface.
type Handlers struct {
	cfg     *config.Config
	log     *slog.Logger
	store   *session.Store
	tracker *job.Tracker
	orch    *job.Orchestrator
	sweeper *session.Sweeper
	limiter *IntakeLimiter
	videos  VideoCatalog
}

// HandlersConfig holds dependencies for handlers.
type HandlersConfig struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   *session.Store
	Tracker *job.Tracker
	Orch    *job.Orchestrator
	Sweeper *session.Sweeper
	Limiter *IntakeLimiter
	Videos  VideoCatalog
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cfg *HandlersConfig) *Handlers {
	return &Handlers{
		cfg:     cfg.Config,
		log:     cfg.Logger,
		store:   cfg.Store,
		tracker: cfg.Tracker,
		orch:    cfg.Orch,
		sweeper: cfg.Sweeper,
		limiter: cfg.Limiter,
		videos:  cfg.Videos,
	}
}

// writeJSON writes a JSON response.
func (h *Handlers) writeJSON(ctx context.Context, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.ErrorContext(ctx, "Failed to encode JSON response", "error", err)
	}
}

// writeError writes an error response.
func (h *Handlers) writeError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	h.writeJSON(ctx, w, status, map[string]string{"error": message})
}

func validateFilename(name string) error {
	if name == "" || len(name) > MaxFilenameLength {
		return models.ErrFilenameTooLong
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !AllowedExtensions[ext] {
		return fmt.Errorf("%w: %s", models.ErrInvalidFileType, ext)
	}
	return nil
}

// UploadHandler accepts a complete source file in one multipart request.
func (h *Handlers) UploadHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "upload-handler",
		trace.WithAttributes(attribute.String("handler", "upload")))
	defer span.End()

	if !h.limiter.TryAcquire() {
		metrics.UploadsRejected.Inc()
		h.writeError(ctx, w, http.StatusServiceUnavailable, "Upload capacity reached, try again later")
		return
	}
	defer h.limiter.Release()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, "Missing file field")
		return
	}
	defer file.Close()

	if err := validateFilename(header.Filename); err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	videoID := uuid.New().String()
	span.SetAttributes(attribute.String("video.id", videoID))

	if err := h.tracker.Register(videoID, header.Filename); err != nil {
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to register job")
		return
	}
	if err := h.tracker.SetStage(videoID, job.StageReceivingChunks); err != nil {
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to register job")
		return
	}

	src, err := h.store.SpoolSingle(videoID, header.Filename, file)
	if err != nil {
		h.tracker.Fail(videoID, fmt.Sprintf("SpoolFailure: %v", err))
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to store upload")
		return
	}
	h.tracker.SetProgress(videoID, 100)

	if err := h.orch.Submit(src); err != nil {
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to queue job")
		return
	}

	h.log.InfoContext(ctx, "Upload accepted",
		"videoId", videoID,
		"fileName", header.Filename,
		"sizeBytes", src.Size,
		"ip", GetClientIP(r),
	)
	h.writeJSON(ctx, w, http.StatusAccepted, map[string]string{"id": videoID})
}

// ChunkHandler receives one chunk of a chunked upload. The first chunk of an
// unknown upload id establishes the session; chunks for one session may
// arrive out of order and in parallel.
func (h *Handlers) ChunkHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "chunk-handler",
		trace.WithAttributes(attribute.String("handler", "upload-chunk")))
	defer span.End()

	if !h.limiter.TryAcquire() {
		metrics.UploadsRejected.Inc()
		h.writeError(ctx, w, http.StatusServiceUnavailable, "Upload capacity reached, try again later")
		return
	}
	defer h.limiter.Release()

	uploadID := r.FormValue("uploadId")
	fileName := r.FormValue("fileName")
	index, err := strconv.Atoi(r.FormValue("chunkIndex"))
	if err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, "Invalid chunkIndex")
		return
	}
	totalChunks, err := strconv.Atoi(r.FormValue("totalChunks"))
	if err != nil || totalChunks < 1 {
		h.writeError(ctx, w, http.StatusBadRequest, "Invalid totalChunks")
		return
	}
	if uploadID == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "Missing uploadId")
		return
	}

	file, _, err := r.FormFile("chunk")
	if err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, "Missing chunk field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.store.ChunkSize()+1))
	if err != nil {
		h.writeError(ctx, w, http.StatusBadRequest, "Failed to read chunk")
		return
	}

	// First chunk for this id establishes job and session. Concurrent first
	// chunks race benignly; conflict errors mean someone else won.
	if _, known := h.tracker.Get(uploadID); !known {
		if err := validateFilename(fileName); err != nil {
			h.writeError(ctx, w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.tracker.Register(uploadID, fileName); err == nil {
			if err := h.tracker.SetStage(uploadID, job.StageReceivingChunks); err != nil {
				h.writeError(ctx, w, http.StatusConflict, "Upload already finished")
				return
			}
		}
		if err := h.store.Begin(uploadID, totalChunks, fileName); err != nil && !errors.Is(err, models.ErrSessionConflict) {
			h.writeError(ctx, w, http.StatusInternalServerError, "Failed to start upload session")
			return
		}
	}

	received, total, err := h.store.ReceiveChunk(uploadID, index, data)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrSessionNotFound):
			h.writeError(ctx, w, http.StatusNotFound, "No active upload session")
		case errors.Is(err, models.ErrChunkOutOfRange):
			h.writeError(ctx, w, http.StatusBadRequest, "Chunk index out of range")
		case errors.Is(err, models.ErrChunkTooLarge):
			h.writeError(ctx, w, http.StatusRequestEntityTooLarge, "Chunk size mismatch")
		default:
			h.log.ErrorContext(ctx, "Chunk write failed", "uploadId", uploadID, "index", index, "error", err)
			h.writeError(ctx, w, http.StatusInternalServerError, "Failed to store chunk")
		}
		return
	}

	metrics.ChunksReceived.Inc()
	h.tracker.SetProgress(uploadID, chunkReceiptShare*float64(received)/float64(total))

	h.writeJSON(ctx, w, http.StatusOK, map[string]int{
		"received": received,
		"total":    total,
	})
}

// FinalizeRequest is the body for upload finalization.
type FinalizeRequest struct {
	UploadID string `json:"uploadId"`
}

// FinalizeHandler assembles a completed chunked upload and queues the job.
func (h *Handlers) FinalizeHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "finalize-handler",
		trace.WithAttributes(attribute.String("handler", "upload-finalize")))
	defer span.End()

	var req FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UploadID == "" {
		h.writeError(ctx, w, http.StatusBadRequest, "Missing uploadId")
		return
	}
	span.SetAttributes(attribute.String("video.id", req.UploadID))

	src, err := h.store.Finalize(req.UploadID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrSessionNotFound):
			h.writeError(ctx, w, http.StatusNotFound, "No active upload session")
		case errors.Is(err, models.ErrIncomplete):
			h.writeError(ctx, w, http.StatusConflict, "Upload is not complete")
		default:
			h.log.ErrorContext(ctx, "Finalize failed", "uploadId", req.UploadID, "error", err)
			h.writeError(ctx, w, http.StatusInternalServerError, "Failed to finalize upload")
		}
		return
	}
	h.tracker.SetProgress(req.UploadID, 100)

	if err := h.orch.Submit(src); err != nil {
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to queue job")
		return
	}

	h.writeJSON(ctx, w, http.StatusAccepted, map[string]string{"id": req.UploadID})
}

// ProgressHandler reports one job's stage-scoped progress.
func (h *Handlers) ProgressHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id := r.PathValue("id")
	snap, ok := h.tracker.Get(id)
	if !ok {
		h.writeError(ctx, w, http.StatusNotFound, "Job not found")
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, snap)
}

// QueueHandler lists all tracked jobs.
func (h *Handlers) QueueHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(r.Context(), w, http.StatusOK, h.tracker.List())
}

// VideoHandler returns the published metadata for one finished video.
func (h *Handlers) VideoHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id := r.PathValue("id")
	rec, err := h.videos.GetVideo(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrVideoNotFound) {
			h.writeError(ctx, w, http.StatusNotFound, "Video not found")
			return
		}
		h.log.ErrorContext(ctx, "Video lookup failed", "videoId", id, "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "Failed to fetch video")
		return
	}
	h.writeJSON(ctx, w, http.StatusOK, rec)
}

// CancelHandler cancels a job that has not started encoding. Later stages
// are rejected; the job runs to its own terminal state.
func (h *Handlers) CancelHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "cancel-handler",
		trace.WithAttributes(attribute.String("handler", "cancel")))
	defer span.End()

	id := r.PathValue("id")
	stage, ok := h.tracker.Stage(id)
	if !ok {
		h.writeError(ctx, w, http.StatusNotFound, "Job not found")
		return
	}

	if err := h.orch.Cancel(id); err != nil {
		switch {
		case errors.Is(err, models.ErrJobNotFound):
			h.writeError(ctx, w, http.StatusNotFound, "Job not found")
		case errors.Is(err, models.ErrInvalidState):
			h.writeError(ctx, w, http.StatusConflict, fmt.Sprintf("Cannot cancel a job in stage %s", stage))
		default:
			h.writeError(ctx, w, http.StatusInternalServerError, "Failed to cancel job")
		}
		return
	}

	h.store.Abort(id)
	if stage == job.StageInitializing || stage == job.StageReceivingChunks {
		// Nothing downstream ever saw this job; erase it completely.
		h.tracker.Remove(id)
	}

	h.log.InfoContext(ctx, "Job cancelled via API", "jobId", id, "stage", string(stage))
	w.WriteHeader(http.StatusNoContent)
}

// CleanupHandler runs one sweep pass on demand.
func (h *Handlers) CleanupHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "cleanup-handler")
	defer span.End()

	stale, orphans := h.sweeper.SweepNow()
	h.writeJSON(ctx, w, http.StatusOK, map[string]int{
		"staleSessions": stale,
		"orphanFiles":   orphans,
	})
}
