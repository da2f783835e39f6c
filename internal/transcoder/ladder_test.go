package transcoder

import "testing"

func TestBuildLadderNeverUpscales(t *testing.T) {
	ladder := BuildLadder(1920, 1080, 4_000_000, 24)

	wantNames := []string{"1080p", "720p", "480p", "360p"}
	if len(ladder) != len(wantNames) {
		t.Fatalf("ladder has %d tiers, want %d", len(ladder), len(wantNames))
	}
	for i, v := range ladder {
		if v.Name != wantNames[i] {
			t.Errorf("tier %d = %s, want %s", i, v.Name, wantNames[i])
		}
		if v.Height > 1080 {
			t.Errorf("tier %s exceeds source height", v.Name)
		}
	}
}

func TestBuildLadderBitrateBounds(t *testing.T) {
	const sourceKbps = 4000
	ladder := BuildLadder(1920, 1080, sourceKbps*1000, 24)

	floors := map[string]int{"1080p": 2500, "720p": 1500, "480p": 800, "360p": 500}
	for _, v := range ladder {
		if v.BitrateKbps > sourceKbps {
			t.Errorf("%s bitrate %d exceeds source %d", v.Name, v.BitrateKbps, sourceKbps)
		}
		if floor := floors[v.Name]; v.BitrateKbps < floor {
			t.Errorf("%s bitrate %d below floor %d", v.Name, v.BitrateKbps, floor)
		}
		if v.Bandwidth != v.BitrateKbps*1000 {
			t.Errorf("%s bandwidth %d, want %d", v.Name, v.Bandwidth, v.BitrateKbps*1000)
		}
	}
}

func TestBuildLadderSmallSource(t *testing.T) {
	ladder := BuildLadder(640, 360, 1_000_000, 24)

	if len(ladder) != 1 {
		t.Fatalf("ladder has %d tiers, want 1", len(ladder))
	}
	v := ladder[0]
	if v.Name != "360p" || v.Height != 360 || v.Width != 640 {
		t.Errorf("got %s %dx%d, want 360p 640x360", v.Name, v.Width, v.Height)
	}
}

func TestBuildLadderBelowLowestTier(t *testing.T) {
	ladder := BuildLadder(426, 240, 500_000, 30)

	if len(ladder) != 1 {
		t.Fatalf("ladder has %d tiers, want 1", len(ladder))
	}
	v := ladder[0]
	if v.Height != 240 {
		t.Errorf("height = %d, want 240", v.Height)
	}
	if v.Width%2 != 0 || v.Height%2 != 0 {
		t.Errorf("dimensions %dx%d must be even", v.Width, v.Height)
	}
}

func TestBuildLadderUnknownBitrate(t *testing.T) {
	ladder := BuildLadder(1920, 1080, 0, 24)

	fallbacks := map[string]int{"1080p": 5000, "720p": 2800, "480p": 1400, "360p": 800}
	for _, v := range ladder {
		if want := fallbacks[v.Name]; v.BitrateKbps != want {
			t.Errorf("%s fallback bitrate = %d, want %d", v.Name, v.BitrateKbps, want)
		}
	}
}

func TestBuildLadderDefaultFrameRate(t *testing.T) {
	a := BuildLadder(1920, 1080, 8_000_000, 0)
	b := BuildLadder(1920, 1080, 8_000_000, 24)
	for i := range a {
		if a[i].BitrateKbps != b[i].BitrateKbps {
			t.Errorf("tier %s: zero fps bitrate %d differs from 24fps %d",
				a[i].Name, a[i].BitrateKbps, b[i].BitrateKbps)
		}
	}
}

func TestBuildLadder4K(t *testing.T) {
	ladder := BuildLadder(3840, 2160, 45_000_000, 30)

	if len(ladder) != 6 {
		t.Fatalf("ladder has %d tiers, want 6", len(ladder))
	}
	if ladder[0].Name != "2160p" || ladder[0].Width != 3840 {
		t.Errorf("top tier = %s %dx%d", ladder[0].Name, ladder[0].Width, ladder[0].Height)
	}
	// Descending bitrate order.
	for i := 1; i < len(ladder); i++ {
		if ladder[i].BitrateKbps > ladder[i-1].BitrateKbps {
			t.Errorf("tier %s bitrate exceeds taller tier %s", ladder[i].Name, ladder[i-1].Name)
		}
	}
}
