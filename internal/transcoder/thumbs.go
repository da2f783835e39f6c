package transcoder

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
)

const (
	spriteColumns = 10
	spriteRows    = 10
	spriteFrameW  = 160
	thumbWidth    = 480
)

// GenerateThumbnail grabs a poster frame at 10% of the duration and writes
// thumbnail.jpg under outputDir, returning its path.
func (e *Engine) GenerateThumbnail(ctx context.Context, inputPath, outputDir string, duration float64) (string, error) {
	seek := duration * 0.1
	out := filepath.Join(outputDir, "thumbnail.jpg")

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", fmt.Sprintf("%.2f", seek),
		"-i", inputPath,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=%d:-1", thumbWidth),
		out,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("thumbnail generation failed: %w: %s", err, output)
	}
	return out, nil
}

// GenerateSprite writes a 10x10 seek-preview tile sheet (sprite.jpg) sampled
// evenly across the whole duration.
func (e *Engine) GenerateSprite(ctx context.Context, inputPath, outputDir string, duration float64) (string, error) {
	if duration <= 0 {
		return "", fmt.Errorf("sprite generation needs a positive duration")
	}
	// One frame per tile cell spread across the full runtime.
	fps := float64(spriteColumns*spriteRows) / duration
	fps = math.Min(fps, 1)
	out := filepath.Join(outputDir, "sprite.jpg")

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", inputPath,
		"-vf", fmt.Sprintf("fps=%f,scale=%d:-1,tile=%dx%d", fps, spriteFrameW, spriteColumns, spriteRows),
		"-vframes", "1",
		out,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("sprite generation failed: %w: %s", err, output)
	}
	return out, nil
}
