package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

const (
	// PlaylistName is the per-rendition playlist file name.
	PlaylistName = "playlist.m3u8"
	// SegmentPattern is the per-rendition segment file name template.
	SegmentPattern = "segment_%03d.ts"

	audioBitrate = "128k"
)

// Rendition describes one HLS output.
type Rendition struct {
	Name           string
	Height         int
	BitrateKbps    int
	SegmentSeconds int
}

// MaxRateKbps caps the instantaneous bitrate at 107% of the target.
func (r Rendition) MaxRateKbps() int { return r.BitrateKbps * 107 / 100 }

// BufSizeKbps sizes the rate-control buffer at 150% of the target.
func (r Rendition) BufSizeKbps() int { return r.BitrateKbps * 3 / 2 }

// EncodeRendition packages input as an HLS rendition under outDir/<name> and
// returns the playlist path.
func (f *FFmpeg) EncodeRendition(ctx context.Context, input, outDir string, r Rendition) (string, error) {
	if r.Name == "" || r.Height <= 0 || r.BitrateKbps <= 0 {
		return "", fmt.Errorf("invalid rendition %+v", r)
	}
	dir := filepath.Join(outDir, r.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create rendition directory: %w", err)
	}
	playlist := filepath.Join(dir, PlaylistName)
	if err := f.run(ctx, "transcode", "encode "+r.Name, renditionArgs(input, dir, r)); err != nil {
		return "", err
	}
	if _, err := os.Stat(playlist); err != nil {
		return "", fmt.Errorf("rendition %s: playlist missing after encode: %w", r.Name, err)
	}
	return playlist, nil
}

func renditionArgs(input, dir string, r Rendition) []string {
	segmentSeconds := r.SegmentSeconds
	if segmentSeconds <= 0 {
		segmentSeconds = 6
	}
	return ffmpeg.
		Input(input).
		Output(filepath.Join(dir, PlaylistName), ffmpeg.KwArgs{
			"vf":                   fmt.Sprintf("scale=-2:%d", r.Height),
			"c:v":                  "libx264",
			"preset":               "veryfast",
			"profile:v":            "main",
			"b:v":                  fmt.Sprintf("%dk", r.BitrateKbps),
			"maxrate":              fmt.Sprintf("%dk", r.MaxRateKbps()),
			"bufsize":              fmt.Sprintf("%dk", r.BufSizeKbps()),
			"c:a":                  "aac",
			"b:a":                  audioBitrate,
			"ac":                   2,
			"f":                    "hls",
			"hls_time":             segmentSeconds,
			"hls_playlist_type":    "vod",
			"hls_segment_filename": filepath.Join(dir, SegmentPattern),
		}).
		GlobalArgs("-hide_banner", "-loglevel", "error", "-nostdin").
		OverWriteOutput().
		GetArgs()
}
