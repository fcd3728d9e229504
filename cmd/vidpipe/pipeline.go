package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	firebase "firebase.google.com/go/v4"

	"vidpipe/internal/blob"
	"vidpipe/internal/classifier"
	"vidpipe/internal/config"
	"vidpipe/internal/logging"
	"vidpipe/internal/media"
	"vidpipe/internal/metrics"
	"vidpipe/internal/moderation"
	"vidpipe/internal/records"
	"vidpipe/internal/scratch"
	"vidpipe/internal/transcode"
	"vidpipe/internal/trigger"
)

// pipeline holds the per-process collaborators shared by both workers.
type pipeline struct {
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *metrics.Set
	blobs      blob.Store
	records    records.Store
	scratch    *scratch.Manager
	classifier *classifier.Client
	ffmpeg     *media.FFmpeg
	moderation *moderation.Worker
	transcode  *transcode.Worker
}

func openPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pipeline, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	app, err := firebaseApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	blobs, err := blob.Open(ctx, cfg.Storage, app)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	store, err := records.Open(ctx, cfg, app)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	scratchMgr, err := scratch.NewManager(cfg.Paths.ScratchDir, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open scratch root: %w", err)
	}

	set := metrics.New()
	client := classifier.NewClient(classifier.Config{
		URL:            cfg.Classifier.URL,
		Token:          cfg.Classifier.Token,
		UnsafeLabel:    cfg.Classifier.UnsafeLabel,
		TimeoutSeconds: cfg.Classifier.TimeoutSeconds,
		MaxAttempts:    cfg.Classifier.MaxAttempts,
		DefaultBackoff: time.Duration(cfg.Classifier.DefaultBackoffSeconds) * time.Second,
		MaxBackoff:     time.Duration(cfg.Classifier.MaxBackoffSeconds) * time.Second,
	}, classifier.WithRetryObserver(func(attempt int, delay time.Duration, err error) {
		set.ClassifierRetry(retryReason(err))
		logger.Debug("classifier retry",
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
	}))
	ffmpeg := media.NewFFmpeg(cfg.FFmpegBinary())

	p := &pipeline{
		cfg:        cfg,
		logger:     logger,
		metrics:    set,
		blobs:      blobs,
		records:    store,
		scratch:    scratchMgr,
		classifier: client,
		ffmpeg:     ffmpeg,
	}
	p.moderation = moderation.NewWorker(moderation.Config{
		Threshold:          cfg.Moderation.Threshold,
		SampleInterval:     cfg.SampleInterval(),
		ObjectWaitAttempts: cfg.Moderation.ObjectWaitAttempts,
		ObjectWaitDelay:    cfg.ObjectWaitDelay(),
	}, moderation.Dependencies{
		Blobs:   blobs,
		Records: store,
		Scratch: scratchMgr,
		Frames:  ffmpeg,
		Scorer:  client,
		Metrics: set,
	}, logger)
	p.transcode = transcode.NewWorker(transcode.Config{
		Renditions: transcode.Renditions(cfg.Transcode.Presets, cfg.Transcode.SegmentSeconds),
	}, transcode.Dependencies{
		Blobs:   blobs,
		Records: store,
		Scratch: scratchMgr,
		Encoder: ffmpeg,
		Metrics: set,
	}, logger)
	return p, nil
}

func (p *pipeline) dispatcher() *trigger.Dispatcher {
	return trigger.New(trigger.Config{
		MaxConcurrent: p.cfg.Workers.MaxConcurrent,
		Timeout:       p.cfg.WorkerTimeout(),
	}, p.moderation, p.transcode, p.logger)
}

func (p *pipeline) Close() error {
	if p == nil || p.records == nil {
		return nil
	}
	return p.records.Close()
}

// firebaseApp builds the app shared by the firestore and gcs backends, or
// returns nil when neither is selected.
func firebaseApp(ctx context.Context, cfg *config.Config) (*firebase.App, error) {
	if cfg.Records.Backend != config.RecordsFirestore && cfg.Storage.Backend != config.StorageGCS {
		return nil, nil
	}
	return blob.NewFirebaseApp(ctx, cfg.Storage.ProjectID, cfg.Storage.Bucket, cfg.Storage.CredentialsFile)
}

func retryReason(err error) string {
	var loading *classifier.LoadingError
	var limited *classifier.RateLimitError
	switch {
	case errors.As(err, &loading):
		return "loading"
	case errors.As(err, &limited):
		return "rate_limited"
	default:
		return "transient"
	}
}
