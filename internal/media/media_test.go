package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"vidpipe/internal/services"
)

// stubFFmpeg routes commandContext to TestHelperProcess with mode set in the
// environment and records the arguments of every invocation.
func stubFFmpeg(t *testing.T, mode string) *[][]string {
	t.Helper()
	var calls [][]string
	orig := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		calls = append(calls, append([]string(nil), args...))
		cs := append([]string{"-test.run=TestHelperProcess", "--"}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "HELPER_MODE="+mode)
		return cmd
	}
	t.Cleanup(func() { commandContext = orig })
	return &calls
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, arg := range args {
		if arg == "--" {
			args = args[i+1:]
			break
		}
	}
	switch os.Getenv("HELPER_MODE") {
	case "frames":
		for _, arg := range args {
			if strings.HasSuffix(arg, FramePattern) {
				for i := 1; i <= 3; i++ {
					_ = os.WriteFile(fmt.Sprintf(arg, i), []byte("jpg"), 0o644)
				}
			}
		}
	case "empty":
	case "hls":
		for _, arg := range args {
			if strings.HasSuffix(arg, PlaylistName) {
				_ = os.WriteFile(arg, []byte("#EXTM3U\n#EXT-X-ENDLIST\n"), 0o644)
			}
		}
	case "fail":
		fmt.Fprintln(os.Stderr, "Input #0, mov,mp4")
		fmt.Fprintln(os.Stderr, "moov atom not found")
		os.Exit(1)
	}
	os.Exit(0)
}

func TestExtractFramesReturnsSortedFrames(t *testing.T) {
	calls := stubFFmpeg(t, "frames")
	dir := filepath.Join(t.TempDir(), "frames")

	frames, err := NewFFmpeg("").ExtractFrames(context.Background(), "/in/video.mp4", dir, 2*time.Second)
	if err != nil {
		t.Fatalf("ExtractFrames: %v", err)
	}
	want := []string{
		filepath.Join(dir, "frame_00001.jpg"),
		filepath.Join(dir, "frame_00002.jpg"),
		filepath.Join(dir, "frame_00003.jpg"),
	}
	if !slices.Equal(frames, want) {
		t.Fatalf("frames = %v, want %v", frames, want)
	}
	args := (*calls)[0]
	if !slices.Contains(args, "fps=1/2") {
		t.Fatalf("expected fps filter in %v", args)
	}
	if !slices.Contains(args, "/in/video.mp4") {
		t.Fatalf("expected input in %v", args)
	}
}

func TestExtractFramesWithNoOutputFails(t *testing.T) {
	stubFFmpeg(t, "empty")
	_, err := NewFFmpeg("ffmpeg").ExtractFrames(context.Background(), "in.mp4", t.TempDir(), time.Second)
	if !errors.Is(err, ErrNoFrames) {
		t.Fatalf("expected ErrNoFrames, got %v", err)
	}
}

func TestExtractFramesRejectsNonPositiveInterval(t *testing.T) {
	if _, err := NewFFmpeg("").ExtractFrames(context.Background(), "in.mp4", t.TempDir(), 0); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestFFmpegFailureCarriesStderrTail(t *testing.T) {
	stubFFmpeg(t, "fail")
	_, err := NewFFmpeg("").ExtractFrames(context.Background(), "in.mp4", t.TempDir(), time.Second)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if !strings.Contains(err.Error(), "moov atom not found") {
		t.Fatalf("expected stderr tail in %q", err.Error())
	}
}

func TestEncodeRenditionBuildsRateControlledHLS(t *testing.T) {
	calls := stubFFmpeg(t, "hls")
	out := t.TempDir()
	r := Rendition{Name: "720p", Height: 720, BitrateKbps: 2800, SegmentSeconds: 6}

	playlist, err := NewFFmpeg("").EncodeRendition(context.Background(), "in.mp4", out, r)
	if err != nil {
		t.Fatalf("EncodeRendition: %v", err)
	}
	if want := filepath.Join(out, "720p", PlaylistName); playlist != want {
		t.Fatalf("playlist = %q, want %q", playlist, want)
	}
	args := (*calls)[0]
	for _, want := range []string{
		"scale=-2:720",
		"2800k",
		"2996k",
		"4200k",
		"libx264",
		"aac",
		"128k",
		"hls",
		"vod",
		filepath.Join(out, "720p", SegmentPattern),
	} {
		if !slices.Contains(args, want) {
			t.Errorf("missing %q in %v", want, args)
		}
	}
	if !slices.Contains(args, "-y") {
		t.Errorf("expected overwrite flag in %v", args)
	}
}

func TestEncodeRenditionRejectsInvalidPreset(t *testing.T) {
	_, err := NewFFmpeg("").EncodeRendition(context.Background(), "in.mp4", t.TempDir(), Rendition{Name: "bad"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestEncodeRenditionCanceledContext(t *testing.T) {
	stubFFmpeg(t, "hls")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFFmpeg("").EncodeRendition(ctx, "in.mp4", t.TempDir(), Rendition{Name: "360p", Height: 360, BitrateKbps: 800})
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}
