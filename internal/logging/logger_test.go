package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vidpipe/internal/config"
	"vidpipe/internal/logging"
	"vidpipe/internal/services"
)

func TestNewFromConfigWritesRotatedJSONFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("file message", logging.String("video_id", "vid-1"))

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, logging.LogFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(content), &entry); err != nil {
		t.Fatalf("expected JSON line, got %q: %v", content, err)
	}
	if entry["msg"] != "file message" || entry["video_id"] != "vid-1" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if entry["level"] != "info" {
		t.Fatalf("expected lower-case level, got %v", entry["level"])
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Console: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message without caller")

	if strings.Contains(buf.String(), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", buf.String())
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", Console: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message with caller")

	if !strings.Contains(buf.String(), "logger_test.go:") {
		t.Fatalf("expected caller information in debug logs, got %q", buf.String())
	}
}

func TestConsoleLoggerRendersComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Console: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "moderation").Info("frame scored", logging.Args(
		logging.Score("score", 0.25),
		logging.String("reason", "two words"),
	)...)

	line := buf.String()
	if !strings.Contains(line, " INFO moderation: frame scored") {
		t.Fatalf("expected component prefix, got %q", line)
	}
	if !strings.Contains(line, "score=0.2500") {
		t.Fatalf("expected fixed precision score, got %q", line)
	}
	if !strings.Contains(line, `reason="two words"`) {
		t.Fatalf("expected quoted value, got %q", line)
	}
}

func TestConsoleLoggerKeepsOuterComponentAndGroups(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Console: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	base := logging.NewComponentLogger(logger, "trigger").With(logging.String("video_id", "v1"))
	inner := logging.NewComponentLogger(base, "ignored").WithGroup("rendition")
	inner.Info("encoded", logging.String("name", "720p"), logging.Int("height", 720))
	base.Info("second", logging.Duration("elapsed", 1500*time.Millisecond))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %q", buf.String())
	}
	if !strings.Contains(lines[0], " INFO trigger: encoded video_id=v1 rendition.name=720p rendition.height=720") {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	if strings.Contains(lines[0], "ignored") {
		t.Fatalf("inner component should not override outer, got %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "trigger: second video_id=v1 elapsed=1.5s") {
		t.Fatalf("bound attrs leaked between loggers: %q", lines[1])
	}
}

func TestTeeHandlerWritesEverySink(t *testing.T) {
	var a, b bytes.Buffer
	first, _ := logging.New(logging.Options{Format: "json", Console: &a})
	second, _ := logging.New(logging.Options{Format: "console", Console: &b})
	logger := slog.New(logging.TeeHandler(first.Handler(), nil, second.Handler()))

	logger.Warn("both", logging.String("k", "v"))
	if !strings.Contains(a.String(), `"msg":"both"`) || !strings.Contains(b.String(), "WARN both k=v") {
		t.Fatalf("expected both sinks to receive the record: %q / %q", a.String(), b.String())
	}
}

func TestRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWithContextAddsVideoFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Console: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithVideoID(context.Background(), "vid-9")
	ctx = services.WithWorker(ctx, "transcode")
	ctx = services.WithRequestID(ctx, "req-1")
	logging.WithContext(ctx, logger).Info("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry[logging.FieldVideoID] != "vid-9" || entry[logging.FieldWorker] != "transcode" || entry[logging.FieldCorrelationID] != "req-1" {
		t.Fatalf("missing context fields: %v", entry)
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Console: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.WarnWithContext(logger, "cleanup failed", "scratch_cleanup_failed", logging.String(logging.FieldImpact, "disk space leaks"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry[logging.FieldEventType] != "scratch_cleanup_failed" {
		t.Fatalf("unexpected event type %v", entry[logging.FieldEventType])
	}
	if entry[logging.FieldErrorHint] == nil {
		t.Fatal("expected default error hint")
	}
	if entry[logging.FieldImpact] != "disk space leaks" {
		t.Fatalf("caller impact should win, got %v", entry[logging.FieldImpact])
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), 12) {
		t.Fatal("nop logger should never be enabled")
	}
}
