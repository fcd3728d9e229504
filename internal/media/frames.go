package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// FramePattern is the file name template used for extracted frames.
const FramePattern = "frame_%05d.jpg"

// ErrNoFrames reports that extraction produced nothing to classify.
var ErrNoFrames = errors.New("no frames extracted")

// ExtractFrames samples one frame every interval from input into outDir and
// returns the frame paths in extraction order.
func (f *FFmpeg) ExtractFrames(ctx context.Context, input, outDir string, interval time.Duration) ([]string, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("frame interval must be positive, got %s", interval)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create frame directory: %w", err)
	}
	if err := f.run(ctx, "moderation", "extract frames", frameArgs(input, outDir, interval)); err != nil {
		return nil, err
	}
	frames, err := ListFrames(outDir)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}
	return frames, nil
}

func frameArgs(input, outDir string, interval time.Duration) []string {
	return ffmpeg.
		Input(input).
		Output(filepath.Join(outDir, FramePattern), ffmpeg.KwArgs{
			"vf":  "fps=" + fpsExpr(interval),
			"q:v": 2,
		}).
		GlobalArgs("-hide_banner", "-loglevel", "error", "-nostdin").
		OverWriteOutput().
		GetArgs()
}

// fpsExpr renders a frame rate of one frame per interval.
func fpsExpr(interval time.Duration) string {
	if interval%time.Second == 0 {
		return fmt.Sprintf("1/%d", int64(interval/time.Second))
	}
	return fmt.Sprintf("1/%g", interval.Seconds())
}

// ListFrames returns the extracted frame files in dir sorted by sequence number.
func ListFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}
	var frames []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, "frame_") && strings.HasSuffix(name, ".jpg") {
			frames = append(frames, filepath.Join(dir, name))
		}
	}
	sort.Strings(frames)
	return frames, nil
}
