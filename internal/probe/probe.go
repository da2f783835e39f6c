// Package probe inspects source containers with ffprobe and extracts
// embedded subtitle and font tracks with ffmpeg.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/amillerrr/vod-pipeline/pkg/models"
)

var tracer = otel.Tracer("vod-probe")

// Result holds everything one ffprobe pass learned about a source.
type Result struct {
	Duration   float64
	Width      int
	Height     int
	BitRate    int
	FrameRate  float64
	FormatName string

	AudioTracks []models.AudioTrack
	Subtitles   []subtitleStream
	Attachments []attachmentStream
	Chapters    []models.Chapter
}

type subtitleStream struct {
	StreamIndex   int // absolute index in the container
	SubtitleIndex int // index among subtitle streams, for -map 0:s:N
	Codec         string
	Language      string
	Title         string
	Default       bool
	Forced        bool
}

type attachmentStream struct {
	StreamIndex int
	Filename    string
	Mimetype    string
}

// ffprobe JSON shapes, only the fields we read.
type ffprobeOutput struct {
	Streams []struct {
		Index       int    `json:"index"`
		CodecType   string `json:"codec_type"`
		CodecName   string `json:"codec_name"`
		Width       int    `json:"width"`
		Height      int    `json:"height"`
		RFrameRate  string `json:"r_frame_rate"`
		Channels    int    `json:"channels"`
		SampleRate  string `json:"sample_rate"`
		BitRate     string `json:"bit_rate"`
		Disposition struct {
			Default int `json:"default"`
			Forced  int `json:"forced"`
		} `json:"disposition"`
		Tags struct {
			Language string `json:"language"`
			Title    string `json:"title"`
			Filename string `json:"filename"`
			Mimetype string `json:"mimetype"`
		} `json:"tags"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Chapters []struct {
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
		Tags      struct {
			Title string `json:"title"`
		} `json:"tags"`
	} `json:"chapters"`
}

// Prober wraps external ffprobe/ffmpeg invocations.
type Prober struct {
	log *slog.Logger
}

func NewProber(log *slog.Logger) *Prober {
	return &Prober{log: log}
}

// Probe runs one ffprobe pass over the container. It fails with
// models.ErrUnprobeableSource when duration or video dimensions cannot be
// determined; anything else about the source is optional.
func (p *Prober) Probe(ctx context.Context, path string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "ffprobe")
	defer span.End()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-show_chapters",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: ffprobe: %v", models.ErrUnprobeableSource, err)
	}

	var raw ffprobeOutput
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed ffprobe output: %v", models.ErrUnprobeableSource, err)
	}
	return parseProbe(&raw)
}

func parseProbe(raw *ffprobeOutput) (*Result, error) {
	res := &Result{
		FormatName: raw.Format.FormatName,
		Duration:   parseFloat(raw.Format.Duration),
		BitRate:    parseInt(raw.Format.BitRate),
	}

	subtitleN := 0
	audioN := 0
	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			if res.Width == 0 {
				res.Width = s.Width
				res.Height = s.Height
				res.FrameRate = parseFrameRate(s.RFrameRate)
			}
		case "audio":
			res.AudioTracks = append(res.AudioTracks, models.AudioTrack{
				TrackIndex: audioN,
				Language:   s.Tags.Language,
				Title:      s.Tags.Title,
				Codec:      s.CodecName,
				Channels:   s.Channels,
				SampleRate: parseInt(s.SampleRate),
				BitRate:    parseInt64(s.BitRate),
				IsDefault:  s.Disposition.Default == 1,
			})
			audioN++
		case "subtitle":
			res.Subtitles = append(res.Subtitles, subtitleStream{
				StreamIndex:   s.Index,
				SubtitleIndex: subtitleN,
				Codec:         s.CodecName,
				Language:      s.Tags.Language,
				Title:         s.Tags.Title,
				Default:       s.Disposition.Default == 1,
				Forced:        s.Disposition.Forced == 1,
			})
			subtitleN++
		case "attachment":
			if s.Tags.Filename == "" {
				continue
			}
			res.Attachments = append(res.Attachments, attachmentStream{
				StreamIndex: s.Index,
				Filename:    s.Tags.Filename,
				Mimetype:    s.Tags.Mimetype,
			})
		}
	}

	for i, c := range raw.Chapters {
		res.Chapters = append(res.Chapters, models.Chapter{
			ChapterIndex: i,
			StartTime:    parseFloat(c.StartTime),
			EndTime:      parseFloat(c.EndTime),
			Title:        c.Tags.Title,
		})
	}

	if res.Duration <= 0 || res.Width == 0 || res.Height == 0 {
		return nil, fmt.Errorf("%w: missing duration or dimensions", models.ErrUnprobeableSource)
	}
	return res, nil
}

// SupportsEmbeddedTracks reports whether the container format carries
// extractable subtitles and font attachments.
func (r *Result) SupportsEmbeddedTracks() bool {
	return strings.Contains(r.FormatName, "matroska") || strings.Contains(r.FormatName, "webm")
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseInt(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

// parseFrameRate handles ffprobe's fractional form, e.g. "24000/1001".
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return parseFloat(s)
	}
	n := parseFloat(num)
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}
