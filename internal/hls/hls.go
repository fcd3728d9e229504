// Package hls builds and checks the HTTP Live Streaming artifacts published
// for a processed video.
package hls

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	// MasterName is the file name of the master playlist.
	MasterName = "master.m3u8"

	ContentTypePlaylist = "application/vnd.apple.mpegurl"
	ContentTypeSegment  = "video/mp2t"

	CacheControlSegment  = "public, max-age=31536000"
	CacheControlPlaylist = "public, max-age=300"
)

// Variant is one entry of the master playlist.
type Variant struct {
	Name        string
	Height      int
	BitrateKbps int
	// Playlist is the rendition playlist URI relative to the master.
	// Defaults to "{Name}/playlist.m3u8".
	Playlist string
}

// Width returns the 16:9 width for the variant height, rounded to an even number.
func (v Variant) Width() int {
	return int(math.Round(float64(v.Height)*16/9/2)) * 2
}

// Bandwidth returns the advertised peak bandwidth in bits per second.
func (v Variant) Bandwidth() int { return v.BitrateKbps * 1000 }

func (v Variant) uri() string {
	if v.Playlist != "" {
		return v.Playlist
	}
	return path.Join(v.Name, "playlist.m3u8")
}

// BuildMaster renders the master playlist listing variants in the given order.
func BuildMaster(variants []Variant) ([]byte, error) {
	if len(variants) == 0 {
		return nil, errors.New("master playlist needs at least one variant")
	}
	var buf bytes.Buffer
	buf.WriteString("#EXTM3U\n")
	buf.WriteString("#EXT-X-VERSION:3\n")
	for _, v := range variants {
		if v.Name == "" || v.Height <= 0 || v.BitrateKbps <= 0 {
			return nil, fmt.Errorf("invalid variant %+v", v)
		}
		fmt.Fprintf(&buf, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n", v.Bandwidth(), v.Width(), v.Height)
		buf.WriteString(v.uri())
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// WriteMaster writes the master playlist into dir and returns its path.
func WriteMaster(dir string, variants []Variant) (string, error) {
	data, err := BuildMaster(variants)
	if err != nil {
		return "", err
	}
	target := filepath.Join(dir, MasterName)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write master playlist: %w", err)
	}
	return target, nil
}

// URIs returns the non-tag lines of a playlist in order.
func URIs(data []byte) ([]string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	first := true
	var uris []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			if line != "#EXTM3U" {
				return nil, errors.New("playlist does not start with #EXTM3U")
			}
			first = false
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		uris = append(uris, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if first {
		return nil, errors.New("playlist is empty")
	}
	return uris, nil
}

// VerifyPlaylist checks that the rendition playlist at playlistPath lists
// segment_000.ts, segment_001.ts, ... without gaps and that every segment is
// present next to it. It returns the segment paths in playback order.
func VerifyPlaylist(playlistPath string) ([]string, error) {
	data, err := os.ReadFile(playlistPath)
	if err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}
	uris, err := URIs(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", playlistPath, err)
	}
	if len(uris) == 0 {
		return nil, fmt.Errorf("%s: playlist lists no segments", playlistPath)
	}
	dir := filepath.Dir(playlistPath)
	segments := make([]string, 0, len(uris))
	for i, uri := range uris {
		want := SegmentName(i)
		if uri != want {
			return nil, fmt.Errorf("%s: segment %d is %q, want %q", playlistPath, i, uri, want)
		}
		segment := filepath.Join(dir, uri)
		info, err := os.Stat(segment)
		if err != nil {
			return nil, fmt.Errorf("%s: segment %s missing: %w", playlistPath, uri, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s: segment %s is a directory", playlistPath, uri)
		}
		segments = append(segments, segment)
	}
	return segments, nil
}

// SegmentName returns the file name of the n-th segment.
func SegmentName(n int) string { return fmt.Sprintf("segment_%03d.ts", n) }

// ContentType returns the MIME type for an HLS artifact name.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".m3u8":
		return ContentTypePlaylist
	case ".ts":
		return ContentTypeSegment
	default:
		return "application/octet-stream"
	}
}

// CacheControl returns the Cache-Control value for an HLS artifact name.
// Segments are immutable; playlists may be rewritten on a re-run.
func CacheControl(name string) string {
	if strings.EqualFold(filepath.Ext(name), ".ts") {
		return CacheControlSegment
	}
	return CacheControlPlaylist
}

// IsArtifact reports whether name looks like an HLS output.
func IsArtifact(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".m3u8", ".ts":
		return true
	}
	return false
}
