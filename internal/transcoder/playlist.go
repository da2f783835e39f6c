package transcoder

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// WriteMasterPlaylist writes master.m3u8 referencing every variant playlist,
// ordered by descending bandwidth, and returns its path.
func WriteMasterPlaylist(hlsDir string, variants []Variant) (string, error) {
	ordered := make([]Variant, len(variants))
	copy(ordered, variants)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Bandwidth > ordered[j].Bandwidth
	})

	var builder strings.Builder
	builder.WriteString("#EXTM3U\n")
	builder.WriteString("#EXT-X-VERSION:3\n")

	for _, v := range ordered {
		builder.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n",
			v.Bandwidth, v.Width, v.Height))
		builder.WriteString(fmt.Sprintf("%s/playlist.m3u8\n", v.Name))
	}

	path := filepath.Join(hlsDir, "master.m3u8")
	if err := os.WriteFile(path, []byte(builder.String()), 0644); err != nil {
		return "", err
	}
	return path, nil
}
