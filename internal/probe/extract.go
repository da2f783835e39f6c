package probe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/amillerrr/vod-pipeline/pkg/models"
)

// TrackFile is one extracted artifact staged for upload.
type TrackFile struct {
	LocalPath   string
	StorageKey  string
	ContentType string
}

// TrackSet is the outcome of auxiliary track extraction: metadata rows for
// the video record plus the staged files backing them.
type TrackSet struct {
	Subtitles   []SubtitleTrackFile
	Attachments []AttachmentFile
}

type SubtitleTrackFile struct {
	Track models.SubtitleTrack
	File  TrackFile
}

type AttachmentFile struct {
	Attachment models.Attachment
	File       TrackFile
}

// subtitleTarget maps a subtitle codec to its output extension and whether
// the stream can be stream-copied or must be converted.
func subtitleTarget(codec string) (ext, outCodec string, ok bool) {
	switch codec {
	case "ass", "ssa":
		return "ass", "copy", true
	case "subrip", "srt":
		return "srt", "copy", true
	case "webvtt":
		return "vtt", "copy", true
	case "mov_text":
		return "srt", "srt", true
	case "hdmv_pgs_subtitle":
		return "sup", "copy", true
	default:
		return "", "", false
	}
}

func subtitleContentType(ext string) string {
	switch ext {
	case "vtt":
		return "text/vtt"
	case "srt", "ass":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// ExtractTracks pulls embedded subtitles and font attachments out of the
// source into workDir, mirroring each file's storage key. A track that fails
// extraction is skipped and reported in the returned notes; extraction never
// fails the caller. Containers without embedded-track support yield an empty
// set.
func (p *Prober) ExtractTracks(ctx context.Context, srcPath, videoID, workDir string, res *Result) (*TrackSet, []string) {
	ctx, span := tracer.Start(ctx, "extract-tracks")
	defer span.End()

	set := &TrackSet{}
	var notes []string

	if !res.SupportsEmbeddedTracks() {
		return set, nil
	}

	for _, sub := range res.Subtitles {
		ext, outCodec, ok := subtitleTarget(sub.Codec)
		if !ok {
			notes = append(notes, fmt.Sprintf("subtitle track %d: unsupported codec %q", sub.SubtitleIndex, sub.Codec))
			continue
		}

		key := fmt.Sprintf("%s/subtitles/track_%d.%s", videoID, sub.SubtitleIndex, ext)
		local := filepath.Join(workDir, key)
		if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
			notes = append(notes, fmt.Sprintf("subtitle track %d: %v", sub.SubtitleIndex, err))
			continue
		}

		cmd := exec.CommandContext(ctx, "ffmpeg",
			"-hide_banner", "-loglevel", "error", "-y",
			"-i", srcPath,
			"-map", fmt.Sprintf("0:s:%d", sub.SubtitleIndex),
			"-c:s", outCodec,
			local,
		)
		if output, err := cmd.CombinedOutput(); err != nil {
			notes = append(notes, fmt.Sprintf("subtitle track %d (%s): extraction failed: %s", sub.SubtitleIndex, sub.Codec, output))
			os.Remove(local)
			continue
		}

		set.Subtitles = append(set.Subtitles, SubtitleTrackFile{
			Track: models.SubtitleTrack{
				TrackIndex: sub.SubtitleIndex,
				Language:   sub.Language,
				Title:      sub.Title,
				Codec:      sub.Codec,
				StorageKey: key,
				IsDefault:  sub.Default,
				IsForced:   sub.Forced,
			},
			File: TrackFile{
				LocalPath:   local,
				StorageKey:  key,
				ContentType: subtitleContentType(ext),
			},
		})
	}

	for _, att := range res.Attachments {
		name := filepath.Base(att.Filename)
		key := fmt.Sprintf("%s/fonts/%s", videoID, name)
		local := filepath.Join(workDir, key)
		if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
			notes = append(notes, fmt.Sprintf("attachment %s: %v", name, err))
			continue
		}

		// ffmpeg exits non-zero after -dump_attachment because no output
		// file is given; success is judged by the dumped file existing.
		cmd := exec.CommandContext(ctx, "ffmpeg",
			"-hide_banner", "-loglevel", "error", "-y",
			"-dump_attachment:"+fmt.Sprint(att.StreamIndex), local,
			"-i", srcPath,
		)
		_ = cmd.Run()
		if info, err := os.Stat(local); err != nil || info.Size() == 0 {
			notes = append(notes, fmt.Sprintf("attachment %s: extraction failed", name))
			os.Remove(local)
			continue
		}

		mimetype := att.Mimetype
		if mimetype == "" {
			mimetype = "application/octet-stream"
		}
		set.Attachments = append(set.Attachments, AttachmentFile{
			Attachment: models.Attachment{
				Filename:   name,
				Mimetype:   mimetype,
				StorageKey: key,
			},
			File: TrackFile{
				LocalPath:   local,
				StorageKey:  key,
				ContentType: mimetype,
			},
		})
	}

	for _, n := range notes {
		p.log.Warn("Auxiliary track skipped", "videoId", videoID, "note", n)
	}
	return set, notes
}
