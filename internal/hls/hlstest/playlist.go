// Package hlstest builds HLS documents and serves them from an httptest TLS
// server, for tests of code that walks live playlists.
package hlstest

import (
	"fmt"
	"math"
	"strings"
)

// Segment is one media playlist entry.
type Segment struct {
	Sequence      uint64
	Duration      float64
	Path          string
	Discontinuity bool // emit #EXT-X-DISCONTINUITY before this entry
}

// Variant is one EXT-X-STREAM-INF entry of a master playlist.
type Variant struct {
	Bandwidth uint32
	URI       string
}

// BuildMediaPlaylist renders segments (ordered by sequence ascending) as a
// media playlist whose media sequence is the first segment's. If ended is
// true, #EXT-X-ENDLIST is appended. An empty slice produces a minimal valid
// playlist with media sequence 0.
func BuildMediaPlaylist(segments []Segment, ended bool) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	if len(segments) == 0 {
		b.WriteString("#EXT-X-TARGETDURATION:1\n")
		b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
		if ended {
			b.WriteString("#EXT-X-ENDLIST\n")
		}
		return b.String()
	}

	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration(segments))
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n\n", segments[0].Sequence)

	for _, seg := range segments {
		if seg.Discontinuity {
			b.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		fmt.Fprintf(&b, "#EXTINF:%.1f,\n", seg.Duration)
		b.WriteString(seg.Path)
		b.WriteString("\n")
	}

	if ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}

	return b.String()
}

// Window returns n contiguous segments starting at sequence first, with paths
// "seg<sequence>.aac" relative to the playlist.
func Window(first uint64, n int) []Segment {
	out := make([]Segment, 0, n)
	for i := 0; i < n; i++ {
		seq := first + uint64(i)
		out = append(out, Segment{Sequence: seq, Duration: 10, Path: fmt.Sprintf("seg%d.aac", seq)})
	}
	return out
}

// BuildMasterPlaylist renders variants in the given order.
func BuildMasterPlaylist(variants []Variant) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, v := range variants {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,CODECS=\"mp4a.40.2\"\n", v.Bandwidth)
		b.WriteString(v.URI)
		b.WriteString("\n")
	}
	return b.String()
}

// targetDuration returns the ceiling of the longest segment duration.
func targetDuration(segments []Segment) int {
	max := 0.0
	for _, seg := range segments {
		if seg.Duration > max {
			max = seg.Duration
		}
	}
	if max <= 0 {
		return 1
	}
	return int(math.Ceil(max))
}
