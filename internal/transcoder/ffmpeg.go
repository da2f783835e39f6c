package transcoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/amillerrr/vod-pipeline/internal/metrics"
	"github.com/amillerrr/vod-pipeline/pkg/models"
)

const (
	// HLSSegmentDuration is the duration of each HLS segment in seconds.
	HLSSegmentDuration = 4

	// gopSize keeps keyframes aligned to segment boundaries at 24fps.
	gopSize = 48

	stderrTailLines = 30
)

var tracer = otel.Tracer("vod-transcoder")

// ProgressFunc receives the overall encode position as a fraction in [0, 1].
type ProgressFunc func(fraction float64)

// EncodeRequest describes one source file and the renditions to produce.
type EncodeRequest struct {
	VideoID   string
	InputPath string
	OutputDir string
	Variants  []Variant
	// Duration of the source in seconds, used to scale progress.
	Duration float64
}

// EncodeResult lists what the engine produced under OutputDir.
type EncodeResult struct {
	Variants       []Variant
	MasterPlaylist string
}

// Engine runs ffmpeg renditions. Every variant encode takes one slot from the
// shared semaphore, so total concurrent ffmpeg processes across all jobs never
// exceed the configured limit.
type Engine struct {
	sem     chan struct{}
	timeout time.Duration
	log     *slog.Logger
}

// NewEngine creates an encode engine with maxConcurrent ffmpeg slots and a
// per-variant deadline.
func NewEngine(maxConcurrent int, timeout time.Duration, log *slog.Logger) *Engine {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Engine{
		sem:     make(chan struct{}, maxConcurrent),
		timeout: timeout,
		log:     log,
	}
}

// Encode produces all requested variants plus the master playlist. Variants
// run concurrently, gated individually by the encode semaphore. The first
// variant failure cancels the rest and partial output is discarded.
func (e *Engine) Encode(ctx context.Context, req EncodeRequest, sink ProgressFunc) (*EncodeResult, error) {
	ctx, span := tracer.Start(ctx, "transcode-hls")
	defer span.End()
	span.SetAttributes(
		attribute.String("video.id", req.VideoID),
		attribute.Int("variant.count", len(req.Variants)),
	)

	if len(req.Variants) == 0 {
		return nil, fmt.Errorf("%w: empty variant set", models.ErrEncoderFailed)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	progress := newProgressMerger(len(req.Variants), req.Duration, sink)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i, v := range req.Variants {
		wg.Add(1)
		go func(idx int, variant Variant) {
			defer wg.Done()
			if err := e.encodeVariant(ctx, req, variant, progress.sinkFor(idx)); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
			}
		}(i, v)
	}
	wg.Wait()

	if firstErr != nil {
		for _, v := range req.Variants {
			os.RemoveAll(filepath.Join(req.OutputDir, v.Name))
		}
		return nil, firstErr
	}

	master, err := WriteMasterPlaylist(req.OutputDir, req.Variants)
	if err != nil {
		return nil, fmt.Errorf("failed to write master playlist: %w", err)
	}

	if sink != nil {
		sink(1.0)
	}
	return &EncodeResult{Variants: req.Variants, MasterPlaylist: master}, nil
}

// encodeVariant runs one ffmpeg process for one rendition.
func (e *Engine) encodeVariant(ctx context.Context, req EncodeRequest, v Variant, sink ProgressFunc) error {
	queuedAt := time.Now()
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %s", models.ErrCancelled, v.Name)
	}
	defer func() { <-e.sem }()
	metrics.EncodeQueueWait.Observe(time.Since(queuedAt).Seconds())

	ctx, span := tracer.Start(ctx, "ffmpeg-variant")
	defer span.End()
	span.SetAttributes(attribute.String("variant", v.Name))

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	variantDir := filepath.Join(req.OutputDir, v.Name)
	if err := os.MkdirAll(variantDir, 0755); err != nil {
		return fmt.Errorf("failed to create variant dir: %w", err)
	}

	args := buildVariantArgs(req.InputPath, variantDir, v)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		e.monitorProgress(stdout, req.Duration, sink)
	}()

	var tail *tailBuffer
	go func() {
		defer wg.Done()
		tail = captureTail(stderr)
	}()

	cmdErr := cmd.Wait()
	wg.Wait()

	if cmdErr != nil {
		os.RemoveAll(variantDir)
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return fmt.Errorf("%w: variant %s exceeded %s", models.ErrEncoderTimeout, v.Name, e.timeout)
		case ctx.Err() != nil:
			return fmt.Errorf("%w: variant %s", models.ErrCancelled, v.Name)
		default:
			return fmt.Errorf("%w: variant %s: %v: %s", models.ErrEncoderFailed, v.Name, cmdErr, tail.String())
		}
	}

	e.log.Info("Variant encoded", "videoId", req.VideoID, "variant", v.Name)
	return nil
}

// buildVariantArgs maps exactly one video and at most one audio stream,
// ignoring subtitle and data tracks camera footage often carries.
func buildVariantArgs(inputPath, variantDir string, v Variant) []string {
	return []string{
		"-hide_banner", "-nostats", "-loglevel", "error",
		"-y",
		"-i", inputPath,
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-sn", "-dn",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-profile:v", "high",
		"-level", "4.1",
		"-pix_fmt", "yuv420p",
		"-vf", fmt.Sprintf("scale=%d:%d", v.Width, v.Height),
		"-b:v", fmt.Sprintf("%dk", v.BitrateKbps),
		"-maxrate", fmt.Sprintf("%dk", v.MaxRateKbps),
		"-bufsize", fmt.Sprintf("%dk", v.BufSizeKbps),
		"-g", strconv.Itoa(gopSize),
		"-keyint_min", strconv.Itoa(gopSize),
		"-sc_threshold", "0",
		"-c:a", "aac",
		"-b:a", "128k",
		"-ac", "2",
		"-f", "hls",
		"-hls_time", strconv.Itoa(HLSSegmentDuration),
		"-hls_playlist_type", "vod",
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(variantDir, "seg_%03d.ts"),
		"-progress", "pipe:1",
		filepath.Join(variantDir, "playlist.m3u8"),
	}
}

// monitorProgress parses ffmpeg -progress key=value output on stdout.
// out_time_ms is in microseconds despite its name.
func (e *Engine) monitorProgress(r io.Reader, duration float64, sink ProgressFunc) {
	if sink == nil || duration <= 0 {
		_, _ = io.Copy(io.Discard, r)
		return
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "out_time_ms="):
			us, err := strconv.ParseInt(strings.TrimPrefix(line, "out_time_ms="), 10, 64)
			if err != nil || us < 0 {
				continue
			}
			frac := (float64(us) / 1e6) / duration
			if frac > 1 {
				frac = 1
			}
			sink(frac)
		case line == "progress=end":
			sink(1)
		}
	}
}

// tailBuffer keeps the last few stderr lines for failure diagnostics.
type tailBuffer struct {
	lines []string
}

func captureTail(r io.Reader) *tailBuffer {
	tb := &tailBuffer{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		tb.lines = append(tb.lines, scanner.Text())
		if len(tb.lines) > stderrTailLines {
			tb.lines = tb.lines[1:]
		}
	}
	return tb
}

func (tb *tailBuffer) String() string {
	if tb == nil || len(tb.lines) == 0 {
		return "(no encoder output)"
	}
	return strings.Join(tb.lines, "\n")
}

// progressMerger combines per-variant positions into one overall fraction
// that never goes backwards.
type progressMerger struct {
	mu        sync.Mutex
	fractions []float64
	last      float64
	sink      ProgressFunc
}

func newProgressMerger(n int, duration float64, sink ProgressFunc) *progressMerger {
	return &progressMerger{fractions: make([]float64, n), sink: sink}
}

func (p *progressMerger) sinkFor(idx int) ProgressFunc {
	if p.sink == nil {
		return nil
	}
	return func(frac float64) {
		p.mu.Lock()
		if frac > p.fractions[idx] {
			p.fractions[idx] = frac
		}
		sum := 0.0
		for _, f := range p.fractions {
			sum += f
		}
		overall := sum / float64(len(p.fractions))
		emit := overall > p.last
		if emit {
			p.last = overall
		}
		p.mu.Unlock()
		if emit {
			p.sink(overall)
		}
	}
}
