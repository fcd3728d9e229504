package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"vidpipe/internal/services"
)

var commandContext = exec.CommandContext

const stderrTailLines = 12

// FFmpeg runs ffmpeg commands.
type FFmpeg struct {
	binary string
}

// NewFFmpeg returns a runner for binary (defaults to "ffmpeg").
func NewFFmpeg(binary string) *FFmpeg {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{binary: binary}
}

// Binary returns the executable name or path.
func (f *FFmpeg) Binary() string { return f.binary }

func (f *FFmpeg) run(ctx context.Context, worker, operation string, args []string) error {
	cmd := commandContext(ctx, f.binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return services.Wrap(services.ErrTimeout, worker, operation, "ffmpeg interrupted", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return services.Wrap(services.ErrExternalTool, worker, operation,
				fmt.Sprintf("ffmpeg exited with status %d: %s", exitErr.ExitCode(), tail(stderr.String(), stderrTailLines)), err)
		}
		return services.Wrap(services.ErrExternalTool, worker, operation, "ffmpeg could not start", err)
	}
	return nil
}

func tail(output string, lines int) string {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return "no output"
	}
	parts := strings.Split(trimmed, "\n")
	if len(parts) > lines {
		parts = parts[len(parts)-lines:]
	}
	return strings.Join(parts, " | ")
}
