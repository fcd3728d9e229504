package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	ScratchDir string `toml:"scratch_dir"`
	StateDir   string `toml:"state_dir"`
	LogDir     string `toml:"log_dir"`
}

// Records selects and configures the video record store.
type Records struct {
	Backend    string `toml:"backend"` // sqlite, postgres, mongo, firestore
	DSN        string `toml:"dsn"`
	Database   string `toml:"database"`
	Collection string `toml:"collection"`
}

// Storage selects and configures the blob store.
type Storage struct {
	Backend         string `toml:"backend"` // local, s3, gcs
	Root            string `toml:"root"`
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	PublicBaseURL   string `toml:"public_base_url"`
	CredentialsFile string `toml:"credentials_file"`
	ProjectID       string `toml:"project_id"`
}

// Moderation contains the moderation worker knobs.
type Moderation struct {
	// Threshold is the unsafe score a frame must strictly exceed to block a video.
	Threshold             float64 `toml:"threshold"`
	SampleIntervalSeconds int     `toml:"sample_interval_seconds"`
	ObjectWaitAttempts    int     `toml:"object_wait_attempts"`
	ObjectWaitDelayMillis int     `toml:"object_wait_delay_ms"`
}

// Classifier contains configuration for the unsafe-content classification service.
type Classifier struct {
	URL                   string `toml:"url"`
	Token                 string `toml:"token"`
	UnsafeLabel           string `toml:"unsafe_label"`
	TimeoutSeconds        int    `toml:"timeout_seconds"`
	MaxAttempts           int    `toml:"max_attempts"`
	DefaultBackoffSeconds int    `toml:"default_backoff_seconds"`
	MaxBackoffSeconds     int    `toml:"max_backoff_seconds"`
}

// Preset describes one HLS rendition.
type Preset struct {
	Name        string `toml:"name"`
	Height      int    `toml:"height"`
	BitrateKbps int    `toml:"bitrate_kbps"`
}

// Transcode contains the transcode worker knobs.
type Transcode struct {
	FFmpegBinary   string   `toml:"ffmpeg_binary"`
	SegmentSeconds int      `toml:"segment_seconds"`
	Presets        []Preset `toml:"presets"`
}

// Workers contains dispatcher limits shared by both workers.
type Workers struct {
	MaxConcurrent      int `toml:"max_concurrent"`
	TimeoutSeconds     int `toml:"timeout_seconds"`
	ScratchMaxAgeHours int `toml:"scratch_max_age_hours"`
}

// Broker contains the AMQP trigger source configuration.
type Broker struct {
	Enabled              bool   `toml:"enabled"`
	URL                  string `toml:"url"`
	RecordCreatedQueue   string `toml:"record_created_queue"`
	ObjectFinalizedQueue string `toml:"object_finalized_queue"`
	Prefetch             int    `toml:"prefetch"`
}

// API contains the HTTP trigger server configuration.
type API struct {
	Bind      string `toml:"bind"`
	JWTSecret string `toml:"jwt_secret"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format     string `toml:"format"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
}

// Config encapsulates all configuration values for vidpipe.
//
// Configuration sections by subsystem:
//   - Paths: scratch, state, and log directories
//   - Records: video record store backend
//   - Storage: blob store backend and public URL base
//   - Moderation: threshold, frame sampling, raw object visibility wait
//   - Classifier: unsafe-content service endpoint and retry policy
//   - Transcode: ffmpeg binary, segment length, rendition presets
//   - Workers: concurrency, per-run deadline, scratch janitor
//   - Broker: AMQP trigger queues
//   - API: HTTP trigger/polling server
//   - Logging: log format, level, and rotation
type Config struct {
	Paths      Paths      `toml:"paths"`
	Records    Records    `toml:"records"`
	Storage    Storage    `toml:"storage"`
	Moderation Moderation `toml:"moderation"`
	Classifier Classifier `toml:"classifier"`
	Transcode  Transcode  `toml:"transcode"`
	Workers    Workers    `toml:"workers"`
	Broker     Broker     `toml:"broker"`
	API        API        `toml:"api"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/vidpipe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// LoadEnvFile populates the process environment from a dotenv file. A missing
// file is not an error; variables already set are never overridden.
func LoadEnvFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("vidpipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for worker operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.ScratchDir, c.Paths.StateDir, c.Paths.LogDir}
	if c.Storage.Backend == StorageLocal {
		dirs = append(dirs, c.Storage.Root)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable used for frame extraction and encoding.
func (c *Config) FFmpegBinary() string {
	if bin := strings.TrimSpace(c.Transcode.FFmpegBinary); bin != "" {
		return bin
	}
	return "ffmpeg"
}

// SampleInterval returns the frame sampling interval of the moderation worker.
func (c *Config) SampleInterval() time.Duration {
	return time.Duration(c.Moderation.SampleIntervalSeconds) * time.Second
}

// ObjectWaitDelay returns the fixed delay between raw object visibility checks.
func (c *Config) ObjectWaitDelay() time.Duration {
	return time.Duration(c.Moderation.ObjectWaitDelayMillis) * time.Millisecond
}

// WorkerTimeout returns the per-invocation deadline.
func (c *Config) WorkerTimeout() time.Duration {
	return time.Duration(c.Workers.TimeoutSeconds) * time.Second
}

// ScratchMaxAge returns the age after which unlocked scratch directories are reclaimed.
func (c *Config) ScratchMaxAge() time.Duration {
	return time.Duration(c.Workers.ScratchMaxAgeHours) * time.Hour
}

// RecordsDSN returns the record store DSN, defaulting sqlite to the state directory.
func (c *Config) RecordsDSN() string {
	if dsn := strings.TrimSpace(c.Records.DSN); dsn != "" {
		return dsn
	}
	if c.Records.Backend == RecordsSQLite {
		return filepath.Join(c.Paths.StateDir, "videos.db")
	}
	return ""
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
