package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRecords()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeClassifier()
	c.normalizeTranscode()
	c.normalizeBroker()
	c.normalizeAPI()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.ScratchDir, err = expandPath(c.Paths.ScratchDir); err != nil {
		return fmt.Errorf("paths.scratch_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeRecords() {
	c.Records.Backend = strings.ToLower(strings.TrimSpace(c.Records.Backend))
	if c.Records.Backend == "" {
		c.Records.Backend = RecordsSQLite
	}
	c.Records.DSN = strings.TrimSpace(c.Records.DSN)
	if c.Records.DSN == "" {
		if value, ok := os.LookupEnv("VIDPIPE_RECORDS_DSN"); ok {
			c.Records.DSN = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Records.Collection) == "" {
		c.Records.Collection = defaultRecordsCollection
	}
	if strings.TrimSpace(c.Records.Database) == "" {
		c.Records.Database = defaultRecordsDatabase
	}
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageLocal
	}
	c.Storage.Bucket = strings.TrimSpace(c.Storage.Bucket)
	c.Storage.Endpoint = strings.TrimSpace(c.Storage.Endpoint)
	c.Storage.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Storage.PublicBaseURL), "/")
	if c.Storage.Backend == StorageLocal {
		if strings.TrimSpace(c.Storage.Root) == "" {
			c.Storage.Root = defaultStorageRoot
		}
		root, err := expandPath(c.Storage.Root)
		if err != nil {
			return fmt.Errorf("storage.root: %w", err)
		}
		c.Storage.Root = root
	}
	if c.Storage.CredentialsFile != "" {
		creds, err := expandPath(c.Storage.CredentialsFile)
		if err != nil {
			return fmt.Errorf("storage.credentials_file: %w", err)
		}
		c.Storage.CredentialsFile = creds
	}
	return nil
}

func (c *Config) normalizeClassifier() {
	c.Classifier.URL = strings.TrimSpace(c.Classifier.URL)
	c.Classifier.Token = strings.TrimSpace(c.Classifier.Token)
	if c.Classifier.Token == "" {
		if value, ok := os.LookupEnv("VIDPIPE_CLASSIFIER_TOKEN"); ok {
			c.Classifier.Token = strings.TrimSpace(value)
		}
	}
	c.Classifier.UnsafeLabel = strings.ToLower(strings.TrimSpace(c.Classifier.UnsafeLabel))
	if c.Classifier.UnsafeLabel == "" {
		c.Classifier.UnsafeLabel = defaultUnsafeLabel
	}
}

func (c *Config) normalizeTranscode() {
	c.Transcode.FFmpegBinary = strings.TrimSpace(c.Transcode.FFmpegBinary)
	if c.Transcode.FFmpegBinary == "" {
		c.Transcode.FFmpegBinary = "ffmpeg"
	}
	if len(c.Transcode.Presets) == 0 {
		c.Transcode.Presets = DefaultPresets()
	}
	for i := range c.Transcode.Presets {
		c.Transcode.Presets[i].Name = strings.TrimSpace(c.Transcode.Presets[i].Name)
	}
}

func (c *Config) normalizeBroker() {
	c.Broker.URL = strings.TrimSpace(c.Broker.URL)
	if value, ok := os.LookupEnv("VIDPIPE_AMQP_URL"); ok && strings.TrimSpace(value) != "" {
		c.Broker.URL = strings.TrimSpace(value)
	}
	if c.Broker.Prefetch <= 0 {
		c.Broker.Prefetch = defaultBrokerPrefetch
	}
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.JWTSecret = strings.TrimSpace(c.API.JWTSecret)
	if c.API.JWTSecret == "" {
		if value, ok := os.LookupEnv("VIDPIPE_JWT_SECRET"); ok {
			c.API.JWTSecret = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups < 0 {
		c.Logging.MaxBackups = 0
	}
}
