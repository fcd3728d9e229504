// Package deps probes the external binaries the workers shell out to.
package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

var commandContext = exec.CommandContext

const versionProbeTimeout = 5 * time.Second

// Status reports whether a binary resolved and what it said about itself.
type Status struct {
	Name        string
	Command     string
	Description string
	Available   bool
	Detail      string
}

// CheckFFmpeg resolves the configured ffmpeg binary and records its version
// banner. Both workers shell out to it: the moderation worker for frame
// extraction and the transcode worker for HLS packaging.
func CheckFFmpeg(ctx context.Context, binary string) Status {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	result := Status{
		Name:        "FFmpeg",
		Command:     binary,
		Description: "Frame extraction and HLS encoding",
	}

	resolved, err := exec.LookPath(binary)
	if err != nil {
		result.Detail = fmt.Sprintf("binary %q not found", binary)
		return result
	}
	result.Command = resolved

	ctx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()
	out, err := commandContext(ctx, resolved, "-hide_banner", "-version").Output()
	if err != nil {
		result.Detail = fmt.Sprintf("%s -version failed: %v", resolved, err)
		return result
	}
	result.Available = true
	result.Detail = firstLine(out)
	return result
}

func firstLine(out []byte) string {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}
