package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRecords(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateModeration(); err != nil {
		return err
	}
	if err := c.validateClassifier(); err != nil {
		return err
	}
	if err := c.validateTranscode(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateBroker(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateRecords() error {
	switch c.Records.Backend {
	case RecordsSQLite:
		return nil
	case RecordsPostgres, RecordsMongo:
		if c.Records.DSN == "" {
			return fmt.Errorf("records.dsn must be set for the %s backend (or set VIDPIPE_RECORDS_DSN)", c.Records.Backend)
		}
		return nil
	case RecordsFirestore:
		if strings.TrimSpace(c.Storage.ProjectID) == "" {
			return errors.New("storage.project_id must be set for the firestore records backend")
		}
		return nil
	default:
		return fmt.Errorf("records.backend: unsupported value %q", c.Records.Backend)
	}
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.Root == "" {
			return errors.New("storage.root must be set for the local backend")
		}
	case StorageS3, StorageGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the %s backend", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage.backend: unsupported value %q", c.Storage.Backend)
	}
	return nil
}

func (c *Config) validateModeration() error {
	m := c.Moderation
	if m.Threshold < 0 || m.Threshold > 1 {
		return errors.New("moderation.threshold must be between 0 and 1")
	}
	if m.SampleIntervalSeconds <= 0 {
		return errors.New("moderation.sample_interval_seconds must be positive")
	}
	if m.ObjectWaitAttempts <= 0 {
		return errors.New("moderation.object_wait_attempts must be positive")
	}
	if m.ObjectWaitDelayMillis < 0 {
		return errors.New("moderation.object_wait_delay_ms must not be negative")
	}
	return nil
}

func (c *Config) validateClassifier() error {
	cl := c.Classifier
	if cl.URL == "" {
		return errors.New("classifier.url must be set")
	}
	if cl.MaxAttempts <= 0 {
		return errors.New("classifier.max_attempts must be positive")
	}
	if cl.DefaultBackoffSeconds < 0 || cl.MaxBackoffSeconds < 0 {
		return errors.New("classifier backoff values must not be negative")
	}
	if cl.TimeoutSeconds <= 0 {
		return errors.New("classifier.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateTranscode() error {
	if c.Transcode.SegmentSeconds <= 0 {
		return errors.New("transcode.segment_seconds must be positive")
	}
	seen := make(map[string]struct{}, len(c.Transcode.Presets))
	for i, preset := range c.Transcode.Presets {
		if preset.Name == "" {
			return fmt.Errorf("transcode.presets[%d].name must be set", i)
		}
		if strings.ContainsAny(preset.Name, "/\\") {
			return fmt.Errorf("transcode.presets[%d].name %q must not contain path separators", i, preset.Name)
		}
		if _, dup := seen[preset.Name]; dup {
			return fmt.Errorf("transcode.presets[%d].name %q is duplicated", i, preset.Name)
		}
		seen[preset.Name] = struct{}{}
		if preset.Height <= 0 || preset.BitrateKbps <= 0 {
			return fmt.Errorf("transcode.presets[%d] (%s) needs positive height and bitrate_kbps", i, preset.Name)
		}
	}
	return nil
}

func (c *Config) validateWorkers() error {
	if c.Workers.MaxConcurrent <= 0 {
		return errors.New("workers.max_concurrent must be positive")
	}
	if c.Workers.TimeoutSeconds <= 0 {
		return errors.New("workers.timeout_seconds must be positive")
	}
	if c.Workers.ScratchMaxAgeHours <= 0 {
		return errors.New("workers.scratch_max_age_hours must be positive")
	}
	return nil
}

func (c *Config) validateBroker() error {
	if !c.Broker.Enabled {
		return nil
	}
	if c.Broker.URL == "" {
		return errors.New("broker.url must be set when broker.enabled is true")
	}
	if strings.TrimSpace(c.Broker.RecordCreatedQueue) == "" || strings.TrimSpace(c.Broker.ObjectFinalizedQueue) == "" {
		return errors.New("broker queue names must be set when broker.enabled is true")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
