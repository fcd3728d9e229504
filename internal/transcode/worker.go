package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"time"

	"vidpipe/internal/blob"
	"vidpipe/internal/config"
	"vidpipe/internal/hls"
	"vidpipe/internal/logging"
	"vidpipe/internal/media"
	"vidpipe/internal/metrics"
	"vidpipe/internal/records"
	"vidpipe/internal/scratch"
	"vidpipe/internal/services"
	"vidpipe/internal/stage"
	"vidpipe/internal/video"
)

// Name identifies the worker in logs, metrics, and error messages.
const Name = "transcode"

const statusWriteTimeout = 15 * time.Second

// Encoder packages one HLS rendition and returns its playlist path.
type Encoder interface {
	EncodeRendition(ctx context.Context, input, outDir string, r media.Rendition) (string, error)
}

// Config holds the rendition ladder, highest quality first.
type Config struct {
	Renditions []media.Rendition
}

// Dependencies are the collaborators injected into the worker.
type Dependencies struct {
	Blobs   blob.Store
	Records records.Store
	Scratch *scratch.Manager
	Encoder Encoder
	Metrics *metrics.Set
}

// Worker runs transcoding for object-finalized events.
type Worker struct {
	cfg     Config
	blobs   blob.Store
	records records.Store
	scratch *scratch.Manager
	encoder Encoder
	metrics *metrics.Set
	logger  *slog.Logger
}

// NewWorker wires a transcode worker.
func NewWorker(cfg Config, deps Dependencies, logger *slog.Logger) *Worker {
	return &Worker{
		cfg:     cfg,
		blobs:   deps.Blobs,
		records: deps.Records,
		scratch: deps.Scratch,
		encoder: deps.Encoder,
		metrics: deps.Metrics,
		logger:  logging.NewComponentLogger(logger, Name),
	}
}

// Name implements stage.Handler.
func (w *Worker) Name() string { return Name }

// Result summarizes a published rendition set.
type Result struct {
	MasterURL string
	Qualities []string
	Uploaded  []string
}

// Handle transcodes the raw upload named by ev. Events for pipeline output,
// non-video objects, and records that are already published or blocked are
// ignored.
func (w *Worker) Handle(ctx context.Context, ev video.ObjectFinalized) error {
	_, err := w.Transcode(ctx, ev)
	return err
}

// Transcode is Handle returning the published set. A nil Result with a nil
// error means the event was ignored.
func (w *Worker) Transcode(ctx context.Context, ev video.ObjectFinalized) (*Result, error) {
	id, ok := ev.IsRawUpload()
	if !ok {
		w.logger.Debug("ignoring object event",
			logging.String("object", ev.Name),
			logging.String("content_type", ev.ContentType),
		)
		return nil, nil
	}
	ctx = services.WithWorker(services.WithVideoID(ctx, id), Name)
	logger := logging.WithContext(ctx, w.logger)

	if err := video.ValidateID(id); err != nil {
		return nil, services.Wrap(services.ErrValidation, Name, "validate event", ev.Name, err)
	}
	current, err := w.records.Get(ctx, id)
	if err != nil {
		marker := services.ErrTransient
		if errors.Is(err, records.ErrNotFound) {
			marker = services.ErrNotFound
		}
		return nil, services.Wrap(marker, Name, "load record", id, err)
	}
	if !video.Processed("", nil).AllowsFrom(current.Status) {
		logger.Info("record needs no transcode; ignoring event",
			logging.Args(logging.DecisionAttrs("transcode_trigger", "skip", "record status is "+string(current.Status))...)...)
		return nil, nil
	}

	done := w.metrics.TrackRun(Name)
	defer done()
	started := time.Now()
	logger.Info("transcode started",
		logging.String("object", ev.Name),
		logging.Int("renditions", len(w.cfg.Renditions)),
	)

	result, runErr := w.run(ctx, logger, id, ev.Name)
	if runErr != nil {
		runErr = services.Failure(runErr)
		if err := w.finish(ctx, logger, id, video.TranscodeFailed(runErr)); err != nil {
			runErr = errors.Join(runErr, err)
		}
		w.metrics.TranscodeOutcome(string(video.StatusFailed))
		logging.ErrorWithContext(logger, "transcode failed", "transcode_failed",
			logging.Error(runErr),
			logging.Duration("elapsed", time.Since(started)),
			logging.String(logging.FieldErrorHint, "rerun with `vidpipe transcode --object "+ev.Name+"` once the cause is fixed"),
		)
		return nil, runErr
	}

	err = w.finish(ctx, logger, id, video.Processed(result.MasterURL, result.Qualities))
	var rejected *records.TransitionError
	if errors.As(err, &rejected) {
		// A concurrent run that already published wrote the same keys and the
		// record points at them. Any other state must not reference the tree.
		if rejected.Current != video.StatusProcessed {
			w.rollback(ctx, logger, id)
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	w.metrics.TranscodeOutcome(string(video.StatusProcessed))
	logger.Info("transcode completed",
		logging.String("hls_url", result.MasterURL),
		logging.Any("qualities", result.Qualities),
		logging.Int("objects_uploaded", len(result.Uploaded)),
		logging.Duration("elapsed", time.Since(started)),
	)
	return result, nil
}

type rendition struct {
	spec     media.Rendition
	playlist string
	segments []string
}

func (w *Worker) run(ctx context.Context, logger *slog.Logger, id, objectName string) (*Result, error) {
	if len(w.cfg.Renditions) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, Name, "plan", "no renditions configured", nil)
	}
	dir, err := w.scratch.Acquire(path.Base(objectName))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, Name, "acquire scratch", "", err)
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

	local := dir.Join("source" + path.Ext(objectName))
	if err := w.blobs.Download(ctx, objectName, local); err != nil {
		return nil, services.Wrap(services.ErrTransient, Name, "download", objectName, err)
	}

	outDir := dir.Join("hls")
	encoded := make([]rendition, 0, len(w.cfg.Renditions))
	for _, spec := range w.cfg.Renditions {
		encodeStart := time.Now()
		playlist, err := w.encoder.EncodeRendition(ctx, local, outDir, spec)
		if err != nil {
			return nil, err
		}
		w.metrics.ObserveEncode(spec.Name, time.Since(encodeStart))
		segments, err := hls.VerifyPlaylist(playlist)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, Name, "verify "+spec.Name, "", err)
		}
		logger.Info("rendition encoded",
			logging.String("rendition", spec.Name),
			logging.Int("segments", len(segments)),
			logging.Duration("elapsed", time.Since(encodeStart)),
		)
		encoded = append(encoded, rendition{spec: spec, playlist: playlist, segments: segments})
	}

	variants := make([]hls.Variant, 0, len(encoded))
	qualities := make([]string, 0, len(encoded))
	for _, r := range encoded {
		variants = append(variants, hls.Variant{Name: r.spec.Name, Height: r.spec.Height, BitrateKbps: r.spec.BitrateKbps})
		qualities = append(qualities, r.spec.Name)
	}
	master, err := hls.WriteMaster(outDir, variants)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, Name, "write master", "", err)
	}

	uploaded, err := w.publish(ctx, id, outDir, uploadOrder(encoded, master))
	if err != nil {
		w.rollback(ctx, logger, id)
		return nil, err
	}
	return &Result{
		MasterURL: w.blobs.PublicURL(video.RenditionRoot(id) + hls.MasterName),
		Qualities: qualities,
		Uploaded:  uploaded,
	}, nil
}

// uploadOrder lists segments, then rendition playlists, then the master so a
// reader of any manifest finds everything it references.
func uploadOrder(encoded []rendition, master string) []string {
	var files []string
	for _, r := range encoded {
		files = append(files, r.segments...)
	}
	for _, r := range encoded {
		files = append(files, r.playlist)
	}
	return append(files, master)
}

func (w *Worker) publish(ctx context.Context, id, outDir string, files []string) ([]string, error) {
	prefix := video.RenditionRoot(id)
	keys := make([]string, 0, len(files))
	for _, file := range files {
		rel, err := filepath.Rel(outDir, file)
		if err != nil {
			return keys, fmt.Errorf("relative path for %s: %w", file, err)
		}
		key := prefix + filepath.ToSlash(rel)
		meta := blob.Metadata{ContentType: hls.ContentType(key), CacheControl: hls.CacheControl(key)}
		if err := w.blobs.Upload(ctx, file, key, meta); err != nil {
			return keys, services.Wrap(services.ErrTransient, Name, "upload", key, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// rollback deletes every object under the video's rendition prefix.
func (w *Worker) rollback(ctx context.Context, logger *slog.Logger, id string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	prefix := video.RenditionRoot(id)
	deleted, err := blob.DeletePrefix(cleanupCtx, w.blobs, prefix)
	if err != nil {
		logging.WarnWithContext(logger, "rendition rollback incomplete", "rollback_failed",
			logging.String("prefix", prefix),
			logging.Int("objects_removed", deleted),
			logging.Error(err),
			logging.String(logging.FieldImpact, "partial renditions may remain in storage"),
		)
		return
	}
	logger.Info("rendition objects removed", logging.String("prefix", prefix), logging.Int("objects", deleted))
}

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
			logging.String(logging.FieldImpact, "transcode outcome not recorded"),
		)
		return err
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
	var checks []stage.Health
	if w.records == nil {
		checks = append(checks, stage.Unhealthy("records", "not configured"))
	} else if err := w.records.Ping(ctx); err != nil {
		checks = append(checks, stage.Unhealthy("records", err.Error()))
	} else {
		checks = append(checks, stage.Healthy("records"))
	}
	if len(w.cfg.Renditions) == 0 {
		checks = append(checks, stage.Unhealthy("renditions", "no presets configured"))
	}
	return stage.Combine(Name, checks...)
}

// Renditions converts configured presets into encoder renditions.
func Renditions(presets []config.Preset, segmentSeconds int) []media.Rendition {
	out := make([]media.Rendition, 0, len(presets))
	for _, p := range presets {
		out = append(out, media.Rendition{
			Name:           p.Name,
			Height:         p.Height,
			BitrateKbps:    p.BitrateKbps,
			SegmentSeconds: segmentSeconds,
		})
	}
	return out
}
