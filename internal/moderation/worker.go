package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"time"

	"vidpipe/internal/blob"
	"vidpipe/internal/logging"
	"vidpipe/internal/metrics"
	"vidpipe/internal/records"
	"vidpipe/internal/retry"
	"vidpipe/internal/scratch"
	"vidpipe/internal/services"
	"vidpipe/internal/stage"
	"vidpipe/internal/video"
)

// Name identifies the worker in logs, metrics, and error messages.
const Name = "moderation"

const statusWriteTimeout = 15 * time.Second

// FrameExtractor samples still frames from a local video file.
type FrameExtractor interface {
	ExtractFrames(ctx context.Context, input, outDir string, interval time.Duration) ([]string, error)
}

// Scorer returns the unsafe-content score of one image file in [0, 1].
type Scorer interface {
	ScoreFile(ctx context.Context, path string) (float64, error)
}

// Config holds the tunables of a moderation run.
type Config struct {
	Threshold          float64
	SampleInterval     time.Duration
	ObjectWaitAttempts int
	ObjectWaitDelay    time.Duration
}

// Dependencies are the collaborators injected into the worker.
type Dependencies struct {
	Blobs   blob.Store
	Records records.Store
	Scratch *scratch.Manager
	Frames  FrameExtractor
	Scorer  Scorer
	Metrics *metrics.Set
}

// Worker runs moderation for record-created events.
type Worker struct {
	cfg     Config
	blobs   blob.Store
	records records.Store
	scratch *scratch.Manager
	frames  FrameExtractor
	scorer  Scorer
	metrics *metrics.Set
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error
}

// Option customizes a Worker.
type Option func(*Worker)

// WithSleeper overrides how the object-visibility wait sleeps.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(w *Worker) { w.sleep = sleep }
}

// NewWorker wires a moderation worker.
func NewWorker(cfg Config, deps Dependencies, logger *slog.Logger, opts ...Option) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 2 * time.Second
	}
	if cfg.ObjectWaitAttempts <= 0 {
		cfg.ObjectWaitAttempts = 10
	}
	w := &Worker{
		cfg:     cfg,
		blobs:   deps.Blobs,
		records: deps.Records,
		scratch: deps.Scratch,
		frames:  deps.Frames,
		scorer:  deps.Scorer,
		metrics: deps.Metrics,
		logger:  logging.NewComponentLogger(logger, Name),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name implements stage.Handler.
func (w *Worker) Name() string { return Name }

// Exceeds reports whether score violates the content policy. The comparison is
// strict: a score equal to the threshold passes.
func Exceeds(score, threshold float64) bool {
	return score > threshold
}

// BlockReason renders the explanation stored on a blocked record.
func BlockReason(score float64) string {
	return fmt.Sprintf("Video blocked: unsafe content detected (score %.2f)", score)
}

// Result summarizes one moderation run.
type Result struct {
	Status       video.Status
	MaxScore     float64
	FramesScored int
	FramesTotal  int
}

// scoring tracks the running maximum so a failure can still report it.
type scoring struct {
	max    float64
	scored int
	total  int
}

func (s scoring) scorePtr() *float64 {
	if s.scored == 0 {
		return nil
	}
	v := s.max
	return &v
}

// Handle moderates the video named by ev. Events for records that are no
// longer uploading are ignored.
func (w *Worker) Handle(ctx context.Context, ev video.RecordCreated) error {
	_, err := w.Moderate(ctx, ev)
	return err
}

// Moderate is Handle returning the run summary. A nil Result means the event
// was ignored.
func (w *Worker) Moderate(ctx context.Context, ev video.RecordCreated) (*Result, error) {
	if ev.Status != video.StatusUploading {
		logger := logging.WithContext(services.WithWorker(services.WithVideoID(ctx, ev.ID), Name), w.logger)
		logger.Debug("ignoring record event",
			logging.Args(logging.DecisionAttrs("moderation_trigger", "skip", "status is "+string(ev.Status))...)...)
		return nil, nil
	}
	return w.moderate(ctx, ev.ID, video.StatusUploading)
}

// Retry moderates a record again after a failed run. Records that are still
// uploading are moderated as usual; any other status is left alone.
func (w *Worker) Retry(ctx context.Context, id string) (*Result, error) {
	return w.moderate(ctx, id, video.StatusUploading, video.StatusModerationFailed)
}

func (w *Worker) moderate(ctx context.Context, id string, accept ...video.Status) (*Result, error) {
	ctx = services.WithWorker(services.WithVideoID(ctx, id), Name)
	logger := logging.WithContext(ctx, w.logger)

	if err := video.ValidateID(id); err != nil {
		return nil, services.Wrap(services.ErrValidation, Name, "validate event", "", err)
	}
	current, err := w.records.Get(ctx, id)
	if err != nil {
		marker := services.ErrTransient
		if errors.Is(err, records.ErrNotFound) {
			marker = services.ErrNotFound
		}
		return nil, services.Wrap(marker, Name, "load record", id, err)
	}
	if !slices.Contains(accept, current.Status) {
		logger.Info("record not awaiting moderation; ignoring",
			logging.Args(logging.DecisionAttrs("moderation_trigger", "skip", "record status is "+string(current.Status))...)...)
		return nil, nil
	}

	done := w.metrics.TrackRun(Name)
	defer done()
	started := time.Now()
	logger.Info("moderation started",
		logging.Float64("threshold", w.cfg.Threshold),
		logging.Duration("sample_interval", w.cfg.SampleInterval),
	)

	var state scoring
	status, runErr := w.run(ctx, logger, id, &state)
	result := &Result{Status: status, MaxScore: state.max, FramesScored: state.scored, FramesTotal: state.total}
	if runErr != nil {
		runErr = services.Failure(runErr)
		result.Status = video.StatusModerationFailed
		if err := w.finish(ctx, logger, id, video.ModerationFailed(state.scorePtr(), runErr)); err != nil {
			runErr = errors.Join(runErr, err)
		}
		w.metrics.ModerationOutcome(string(video.StatusModerationFailed))
		logging.ErrorWithContext(logger, "moderation failed", "moderation_failed",
			logging.Error(runErr),
			logging.Int("frames_scored", state.scored),
			logging.Duration("elapsed", time.Since(started)),
			logging.String(logging.FieldErrorHint, "rerun with `vidpipe moderate --retry --id "+id+"` once the cause is fixed"),
		)
		return result, runErr
	}

	var patch video.Patch
	if status == video.StatusBlocked {
		patch = video.Blocked(state.max, BlockReason(state.max))
	} else {
		patch = video.ModerationPassed(state.max)
	}
	if err := w.finish(ctx, logger, id, patch); err != nil {
		return result, err
	}
	if status == video.StatusBlocked {
		if err := w.purgeRenditions(ctx, logger, id); err != nil {
			return result, err
		}
	}
	w.metrics.ModerationOutcome(string(status))
	logger.Info("moderation completed",
		logging.String("status", string(status)),
		logging.Score("moderation_score", state.max),
		logging.Int("frames_scored", state.scored),
		logging.Int("frames_total", state.total),
		logging.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

func (w *Worker) run(ctx context.Context, logger *slog.Logger, id string, state *scoring) (video.Status, error) {
	key := video.RawObjectKey(id)
	if err := w.waitForObject(ctx, key); err != nil {
		return "", err
	}

	dir, err := w.scratch.Acquire(path.Base(key))
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, Name, "acquire scratch", "", err)
	}
	defer func() {
		if err := dir.Release(); err != nil {
			logging.WarnWithContext(logger, "scratch cleanup failed", "scratch_cleanup_failed",
				logging.String("path", dir.Path()),
				logging.Error(err),
				logging.String(logging.FieldImpact, "scratch space is not reclaimed until the janitor runs"),
			)
		}
	}()

	local := dir.Join(path.Base(key))
	if err := w.blobs.Download(ctx, key, local); err != nil {
		return "", services.Wrap(services.ErrTransient, Name, "download", key, err)
	}
	frames, err := w.frames.ExtractFrames(ctx, local, dir.Join("frames"), w.cfg.SampleInterval)
	if err != nil {
		return "", err
	}
	state.total = len(frames)
	logger.Debug("frames extracted", logging.Int("frames", len(frames)))

	for i, frame := range frames {
		score, err := w.scorer.ScoreFile(ctx, frame)
		if err != nil {
			return "", services.Wrap(services.ErrExternalTool, Name, "classify frame",
				fmt.Sprintf("frame %d of %d", i+1, len(frames)), err)
		}
		w.metrics.FrameScored()
		state.scored++
		if state.scored == 1 || score > state.max {
			state.max = score
		}
		logger.Debug("frame scored",
			logging.Int("frame", i+1),
			logging.Score("score", score),
			logging.Score("max_score", state.max),
		)
		if Exceeds(state.max, w.cfg.Threshold) {
			logger.Info("unsafe frame detected; stopping early",
				logging.Args(logging.DecisionAttrs("moderation", "block", fmt.Sprintf("score %.4f > %.4f", state.max, w.cfg.Threshold))...)...)
			if err := w.blobs.Delete(ctx, key); err != nil {
				return "", services.Wrap(services.ErrTransient, Name, "delete blocked object", key, err)
			}
			return video.StatusBlocked, nil
		}
	}
	return video.StatusModerationPassed, nil
}

// purgeRenditions removes anything a transcode published before the block
// landed. A transcode still running sees the block when it tries to publish
// and removes its own tree.
func (w *Worker) purgeRenditions(ctx context.Context, logger *slog.Logger, id string) error {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	prefix := video.RenditionRoot(id)
	deleted, err := blob.DeletePrefix(cleanupCtx, w.blobs, prefix)
	if err != nil {
		logging.ErrorWithContext(logger, "blocked video renditions not removed", "rendition_purge_failed",
			logging.String("prefix", prefix),
			logging.Int("objects_removed", deleted),
			logging.Error(err),
			logging.String(logging.FieldImpact, "blocked content may still be served"),
			logging.String(logging.FieldErrorHint, "delete the objects under "+prefix+" by hand"),
		)
		return services.Wrap(services.ErrTransient, Name, "remove renditions", prefix, err)
	}
	if deleted > 0 {
		logger.Info("renditions of blocked video removed", logging.String("prefix", prefix), logging.Int("objects", deleted))
	}
	return nil
}

func (w *Worker) waitForObject(ctx context.Context, key string) error {
	policy := retry.Policy{
		Attempts: w.cfg.ObjectWaitAttempts,
		Delay:    w.cfg.ObjectWaitDelay,
		Sleep:    w.sleep,
	}
	err := retry.Poll(ctx, policy, func(ctx context.Context) (bool, error) {
		return w.blobs.Exists(ctx, key)
	})
	if errors.Is(err, retry.ErrExhausted) {
		return services.Wrap(services.ErrNotFound, Name, "wait for object",
			fmt.Sprintf("raw object %s not found after %d attempts", key, policy.Attempts), nil)
	}
	if err != nil {
		return services.Wrap(services.ErrTransient, Name, "wait for object", key, err)
	}
	return nil
}

// finish persists the outcome on a context detached from the run deadline so
// a timed-out run still records its failure. A rejected transition is not an
// error: another delivery already decided this record.
func (w *Worker) finish(ctx context.Context, logger *slog.Logger, id string, patch video.Patch) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	_, err := w.records.Apply(writeCtx, id, patch)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, records.ErrTransitionRejected):
		logging.WarnWithContext(logger, "status write rejected; record already advanced", "status_transition_rejected",
			logging.String("target_status", string(patch.Status())),
			logging.Error(err),
			logging.String(logging.FieldImpact, "moderation outcome not recorded"),
			logging.String(logging.FieldErrorHint, "inspect the record with `vidpipe video show "+id+"`"),
		)
		return nil
	default:
		logging.ErrorWithContext(logger, "status write failed", "status_write_failed",
			logging.String("target_status", string(patch.Status())),
			logging.Error(err),
		)
		return services.Wrap(services.ErrTransient, Name, "write status", string(patch.Status()), err)
	}
}

// HealthCheck implements stage.Handler.
func (w *Worker) HealthCheck(ctx context.Context) stage.Health {
	checks := []stage.Health{recordsHealth(ctx, w.records)}
	if pinger, ok := w.scorer.(interface{ Ping(context.Context) error }); ok {
		if err := pinger.Ping(ctx); err != nil {
			checks = append(checks, stage.Unhealthy("classifier", err.Error()))
		} else {
			checks = append(checks, stage.Healthy("classifier"))
		}
	}
	return stage.Combine(Name, checks...)
}

func recordsHealth(ctx context.Context, store records.Store) stage.Health {
	if store == nil {
		return stage.Unhealthy("records", "not configured")
	}
	if err := store.Ping(ctx); err != nil {
		return stage.Unhealthy("records", err.Error())
	}
	return stage.Healthy("records")
}
