// Package transcoder turns a source video into an HLS rendition set: a
// resolution ladder, per-variant segment streams, playlists, and preview
// images, all produced by external ffmpeg processes.
package transcoder

import "fmt"

const (
	// DefaultFrameRate is assumed when the source frame rate is unknown.
	DefaultFrameRate = 24.0

	bandwidthHeadroom = 1.5
	bufferMultiple    = 2.0
)

// Variant defines the encoding parameters for one rendition tier.
type Variant struct {
	Name        string
	Width       int
	Height      int
	BitrateKbps int
	MaxRateKbps int
	BufSizeKbps int
	// Bandwidth is the EXT-X-STREAM-INF value in bits per second.
	Bandwidth int
}

// tier is one rung of the candidate ladder. BPP rises as frames shrink so
// small tiers keep perceptual quality; floor and fallback are kbps.
type tier struct {
	height   int
	bpp      float64
	floor    int
	fallback int
}

var tiers = []tier{
	{2160, 0.06, 6000, 14000},
	{1440, 0.07, 4000, 9000},
	{1080, 0.08, 2500, 5000},
	{720, 0.10, 1500, 2800},
	{480, 0.12, 800, 1400},
	{360, 0.12, 500, 800},
}

// BuildLadder computes the rendition ladder for a source, highest tier first.
// Tiers taller than the source are skipped; a source below the lowest tier
// yields a single variant at its own (even-aligned) dimensions. sourceBitrate
// is in bits per second; zero means unknown and selects per-tier fallbacks.
func BuildLadder(sourceWidth, sourceHeight, sourceBitrate int, frameRate float64) []Variant {
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	sourceKbps := sourceBitrate / 1000

	var ladder []Variant
	for _, t := range tiers {
		if t.height > sourceHeight {
			continue
		}
		ladder = append(ladder, buildVariant(t, sourceWidth, sourceHeight, sourceKbps, frameRate))
	}

	if len(ladder) == 0 {
		// Source is smaller than the lowest tier; encode at its own size.
		t := tiers[len(tiers)-1]
		t.height = sourceHeight
		ladder = append(ladder, buildVariant(t, sourceWidth, sourceHeight, sourceKbps, frameRate))
	}
	return ladder
}

func buildVariant(t tier, srcW, srcH, srcKbps int, fps float64) Variant {
	width := scaledWidth(srcW, srcH, t.height)
	height := evenDown(t.height)

	kbps := t.fallback
	if srcKbps > 0 {
		kbps = int(float64(width) * float64(height) * fps * t.bpp / 1000)
		if kbps < t.floor {
			kbps = t.floor
		}
		// Never allocate more bits than the original carries.
		if kbps > srcKbps {
			kbps = srcKbps
		}
	}

	return Variant{
		Name:        fmt.Sprintf("%dp", height),
		Width:       width,
		Height:      height,
		BitrateKbps: kbps,
		MaxRateKbps: int(float64(kbps) * bandwidthHeadroom),
		BufSizeKbps: int(float64(kbps) * bufferMultiple),
		Bandwidth:   kbps * 1000,
	}
}

// scaledWidth preserves the source aspect ratio at the target height,
// rounded down to an even value as h264 chroma subsampling requires.
func scaledWidth(srcW, srcH, targetH int) int {
	if srcH == 0 {
		return evenDown(srcW)
	}
	w := srcW * targetH / srcH
	return evenDown(w)
}

func evenDown(v int) int {
	if v%2 != 0 {
		return v - 1
	}
	return v
}
