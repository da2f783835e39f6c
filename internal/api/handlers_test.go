package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/amillerrr/vod-pipeline/internal/config"
	"github.com/amillerrr/vod-pipeline/internal/job"
	"github.com/amillerrr/vod-pipeline/internal/probe"
	"github.com/amillerrr/vod-pipeline/internal/session"
	"github.com/amillerrr/vod-pipeline/internal/storage"
	"github.com/amillerrr/vod-pipeline/internal/transcoder"
	"github.com/amillerrr/vod-pipeline/pkg/models"
)

const testChunkSize = 16

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubProber struct{}

func (stubProber) Probe(ctx context.Context, path string) (*probe.Result, error) {
	return &probe.Result{
		Duration:   120,
		Width:      1920,
		Height:     1080,
		BitRate:    4_000_000,
		FrameRate:  24,
		FormatName: "matroska,webm",
	}, nil
}

func (stubProber) ExtractTracks(ctx context.Context, srcPath, videoID, workDir string, res *probe.Result) (*probe.TrackSet, []string) {
	return &probe.TrackSet{}, nil
}

type stubEncoder struct{}

func (stubEncoder) Encode(ctx context.Context, req transcoder.EncodeRequest, sink transcoder.ProgressFunc) (*transcoder.EncodeResult, error) {
	path := filepath.Join(req.OutputDir, "master.m3u8")
	if err := os.WriteFile(path, []byte("#EXTM3U\n"), 0644); err != nil {
		return nil, err
	}
	return &transcoder.EncodeResult{Variants: req.Variants, MasterPlaylist: path}, nil
}

func (stubEncoder) GenerateThumbnail(ctx context.Context, inputPath, outputDir string, duration float64) (string, error) {
	path := filepath.Join(outputDir, "thumbnail.jpg")
	return path, os.WriteFile(path, []byte("jpg"), 0644)
}

func (stubEncoder) GenerateSprite(ctx context.Context, inputPath, outputDir string, duration float64) (string, error) {
	path := filepath.Join(outputDir, "sprite.jpg")
	return path, os.WriteFile(path, []byte("jpg"), 0644)
}

type stubUploader struct{}

func (stubUploader) UploadAll(ctx context.Context, videoID string, artifacts []storage.Artifact, progress func(float64)) (int64, error) {
	return 1, nil
}

type capturingPublisher struct {
	mu        sync.Mutex
	published []*models.VideoRecord
}

func (p *capturingPublisher) PublishVideo(ctx context.Context, rec *models.VideoRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, rec)
	return nil
}

func (p *capturingPublisher) GetVideo(ctx context.Context, videoID string) (*models.VideoRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rec := range p.published {
		if rec.VideoID == videoID {
			return rec, nil
		}
	}
	return nil, models.ErrVideoNotFound
}

type testEnv struct {
	handlers  *Handlers
	store     *session.Store
	tracker   *job.Tracker
	publisher *capturingPublisher
	spoolDir  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	spoolDir := t.TempDir()
	log := testLogger()

	store := session.NewStore(spoolDir, testChunkSize, log)
	tracker := job.NewTracker(0)
	publisher := &capturingPublisher{}
	orch := job.NewOrchestrator(context.Background(), tracker,
		stubProber{}, stubEncoder{}, stubUploader{}, publisher, nil, spoolDir, log)
	sweeper := session.NewSweeper(store, 24*time.Hour, time.Minute, log)

	handlers := NewHandlers(&HandlersConfig{
		Config:  &config.Config{},
		Logger:  log,
		Store:   store,
		Tracker: tracker,
		Orch:    orch,
		Sweeper: sweeper,
		Limiter: NewIntakeLimiter(4),
		Videos:  publisher,
	})
	return &testEnv{
		handlers:  handlers,
		store:     store,
		tracker:   tracker,
		publisher: publisher,
		spoolDir:  spoolDir,
	}
}

func chunkRequest(t *testing.T, uploadID, fileName string, index, total int, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("uploadId", uploadID)
	mw.WriteField("fileName", fileName)
	mw.WriteField("chunkIndex", strconv.Itoa(index))
	mw.WriteField("totalChunks", strconv.Itoa(total))
	fw, err := mw.CreateFormFile("chunk", fileName)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload/chunk", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func finalizeRequest(t *testing.T, uploadID string) *http.Request {
	t.Helper()
	body, _ := json.Marshal(FinalizeRequest{UploadID: uploadID})
	req := httptest.NewRequest(http.MethodPost, "/upload/finalize", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func waitForStage(t *testing.T, tr *job.Tracker, id string, want job.Stage) job.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap, ok := tr.Get(id)
		if ok && snap.Stage == want {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("job %s never reached %s (now %s)", id, want, snap.Stage)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestChunkedUploadLifecycle(t *testing.T) {
	env := newTestEnv(t)
	const id = "e2e-chunked"

	full := make([]byte, testChunkSize*2+8)
	for i := range full {
		full[i] = byte(i)
	}
	chunks := [][]byte{full[:testChunkSize], full[testChunkSize : 2*testChunkSize], full[2*testChunkSize:]}

	// Deliver out of order; the first to arrive establishes the session.
	var lastPct float64
	for _, idx := range []int{1, 0, 2} {
		rec := httptest.NewRecorder()
		env.handlers.ChunkHandler(rec, chunkRequest(t, id, "movie.mkv", idx, 3, chunks[idx]))
		if rec.Code != http.StatusOK {
			t.Fatalf("chunk %d: status %d: %s", idx, rec.Code, rec.Body.String())
		}

		snap, ok := env.tracker.Get(id)
		if !ok || snap.Stage != job.StageReceivingChunks {
			t.Fatalf("after chunk %d: %+v", idx, snap)
		}
		if snap.Percentage < lastPct {
			t.Errorf("chunk progress went backwards: %v -> %v", lastPct, snap.Percentage)
		}
		lastPct = snap.Percentage
	}

	rec := httptest.NewRecorder()
	env.handlers.FinalizeHandler(rec, finalizeRequest(t, id))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("finalize: status %d: %s", rec.Code, rec.Body.String())
	}

	waitForStage(t, env.tracker, id, job.StageCompleted)

	env.publisher.mu.Lock()
	defer env.publisher.mu.Unlock()
	if len(env.publisher.published) != 1 {
		t.Fatalf("published %d records, want 1", len(env.publisher.published))
	}
	record := env.publisher.published[0]
	if record.VideoID != id || len(record.Resolutions) != 4 {
		t.Errorf("record = %+v", record)
	}

	// Progress endpoint reflects the terminal state.
	req := httptest.NewRequest(http.MethodGet, "/progress/"+id, nil)
	req.SetPathValue("id", id)
	rec = httptest.NewRecorder()
	env.handlers.ProgressHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("progress: status %d", rec.Code)
	}
	var snap job.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.Stage != job.StageCompleted || snap.Percentage != 100 {
		t.Errorf("progress snapshot = %+v", snap)
	}
}

func TestFinalizeIncomplete(t *testing.T) {
	env := newTestEnv(t)
	const id = "partial"

	rec := httptest.NewRecorder()
	env.handlers.ChunkHandler(rec, chunkRequest(t, id, "movie.mkv", 0, 3, make([]byte, testChunkSize)))
	if rec.Code != http.StatusOK {
		t.Fatalf("chunk: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	env.handlers.FinalizeHandler(rec, finalizeRequest(t, id))
	if rec.Code != http.StatusConflict {
		t.Errorf("finalize incomplete: status %d, want 409", rec.Code)
	}
}

func TestChunkValidation(t *testing.T) {
	env := newTestEnv(t)

	// Establish a 2-chunk session.
	rec := httptest.NewRecorder()
	env.handlers.ChunkHandler(rec, chunkRequest(t, "v1", "movie.mkv", 0, 2, make([]byte, testChunkSize)))
	if rec.Code != http.StatusOK {
		t.Fatalf("setup chunk: status %d", rec.Code)
	}

	tests := []struct {
		name string
		req  *http.Request
		want int
	}{
		{"index out of range", chunkRequest(t, "v1", "movie.mkv", 5, 2, make([]byte, 4)), http.StatusBadRequest},
		{"oversized chunk", chunkRequest(t, "v1", "movie.mkv", 0, 2, make([]byte, testChunkSize+4)), http.StatusRequestEntityTooLarge},
		{"bad extension on first chunk", chunkRequest(t, "new-id", "malware.exe", 0, 2, make([]byte, testChunkSize)), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			env.handlers.ChunkHandler(rec, tt.req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestCancelDuringReceivingChunks(t *testing.T) {
	env := newTestEnv(t)
	const id = "to-cancel"

	rec := httptest.NewRecorder()
	env.handlers.ChunkHandler(rec, chunkRequest(t, id, "movie.mkv", 0, 3, make([]byte, testChunkSize)))
	if rec.Code != http.StatusOK {
		t.Fatalf("chunk: status %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodDelete, "/queue/"+id, nil)
	req.SetPathValue("id", id)
	rec = httptest.NewRecorder()
	env.handlers.CancelHandler(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("cancel: status %d: %s", rec.Code, rec.Body.String())
	}

	// No job record, no session, no temp file.
	if _, ok := env.tracker.Get(id); ok {
		t.Error("job record should be gone after cancel")
	}
	entries, err := os.ReadDir(env.spoolDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		t.Errorf("leftover spool entry after cancel: %s", e.Name())
	}
}

func TestCancelAfterEncodingRejected(t *testing.T) {
	env := newTestEnv(t)
	const id = "encoding-job"

	if err := env.tracker.Register(id, "movie.mkv"); err != nil {
		t.Fatal(err)
	}
	if err := env.tracker.SetStage(id, job.StageEncoding); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/queue/"+id, nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	env.handlers.CancelHandler(rec, req)
	if rec.Code != http.StatusConflict {
		t.Errorf("cancel during encoding: status %d, want 409", rec.Code)
	}
	if stage, _ := env.tracker.Stage(id); stage != job.StageEncoding {
		t.Errorf("stage = %s, job should keep running", stage)
	}
}

func TestUploadRejectsBadExtension(t *testing.T) {
	env := newTestEnv(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "payload.exe")
	fw.Write([]byte("nope"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.handlers.UploadHandler(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestIntakeLimiterFull(t *testing.T) {
	env := newTestEnv(t)
	env.handlers.limiter = NewIntakeLimiter(1)
	if !env.handlers.limiter.TryAcquire() {
		t.Fatal("failed to occupy the only slot")
	}

	rec := httptest.NewRecorder()
	env.handlers.ChunkHandler(rec, chunkRequest(t, "x", "movie.mkv", 0, 1, make([]byte, 4)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestProgressNotFound(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/progress/ghost", nil)
	req.SetPathValue("id", "ghost")
	rec := httptest.NewRecorder()
	env.handlers.ProgressHandler(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestVideoHandler(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.published = append(env.publisher.published, &models.VideoRecord{
		VideoID:     "vid-pub",
		Name:        "movie.mkv",
		Resolutions: []string{"1080p", "720p"},
		ManifestKey: "vid-pub/master.m3u8",
	})

	req := httptest.NewRequest(http.MethodGet, "/videos/vid-pub", nil)
	req.SetPathValue("id", "vid-pub")
	rec := httptest.NewRecorder()
	env.handlers.VideoHandler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got models.VideoRecord
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.VideoID != "vid-pub" || got.ManifestKey != "vid-pub/master.m3u8" {
		t.Errorf("record = %+v", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/videos/ghost", nil)
	req.SetPathValue("id", "ghost")
	rec = httptest.NewRecorder()
	env.handlers.VideoHandler(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestQueueHandler(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		if err := env.tracker.Register(fmt.Sprintf("job-%d", i), "a.mkv"); err != nil {
			t.Fatal(err)
		}
	}

	rec := httptest.NewRecorder()
	env.handlers.QueueHandler(rec, httptest.NewRequest(http.MethodGet, "/queue", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var view job.QueueView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatal(err)
	}
	if len(view.Jobs) != 3 || view.Active != 3 {
		t.Errorf("view = %+v", view)
	}
}
