package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"vidpipe/internal/logging"
	"vidpipe/internal/services"
	"vidpipe/internal/stage"
	"vidpipe/internal/video"
)

// Kind names an event type on the wire.
type Kind string

const (
	KindRecordCreated   Kind = "record.created"
	KindObjectFinalized Kind = "object.finalized"
)

// ErrClosed is returned for events submitted after Close.
var ErrClosed = errors.New("dispatcher closed")

// ErrUnknownKind is returned by Route for unsupported event kinds.
var ErrUnknownKind = errors.New("unknown event kind")

// Config bounds dispatcher concurrency and per-invocation time.
type Config struct {
	MaxConcurrent int
	Timeout       time.Duration
}

// Dispatcher runs worker invocations.
type Dispatcher struct {
	moderation stage.Handler[video.RecordCreated]
	transcode  stage.Handler[video.ObjectFinalized]
	timeout    time.Duration
	slots      chan struct{}
	logger     *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New builds a dispatcher for the two workers.
func New(cfg Config, moderation stage.Handler[video.RecordCreated], transcode stage.Handler[video.ObjectFinalized], logger *slog.Logger) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Dispatcher{
		moderation: moderation,
		transcode:  transcode,
		timeout:    cfg.Timeout,
		slots:      make(chan struct{}, cfg.MaxConcurrent),
		logger:     logging.NewComponentLogger(logger, "trigger"),
	}
}

// RecordCreated runs the moderation worker for ev and waits for it.
func (d *Dispatcher) RecordCreated(ctx context.Context, ev video.RecordCreated) error {
	return invoke(ctx, d, d.moderation, ev.ID, ev)
}

// ObjectFinalized runs the transcode worker for ev and waits for it.
func (d *Dispatcher) ObjectFinalized(ctx context.Context, ev video.ObjectFinalized) error {
	return invoke(ctx, d, d.transcode, ev.Name, ev)
}

// Route decodes a JSON payload of the given kind and runs it synchronously.
func (d *Dispatcher) Route(ctx context.Context, kind Kind, payload []byte) error {
	switch kind {
	case KindRecordCreated:
		var ev video.RecordCreated
		if err := json.Unmarshal(payload, &ev); err != nil {
			return services.Wrap(services.ErrValidation, "trigger", "decode "+string(kind), "", err)
		}
		return d.RecordCreated(ctx, ev)
	case KindObjectFinalized:
		var ev video.ObjectFinalized
		if err := json.Unmarshal(payload, &ev); err != nil {
			return services.Wrap(services.ErrValidation, "trigger", "decode "+string(kind), "", err)
		}
		return d.ObjectFinalized(ctx, ev)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Go runs fn in the background under the dispatcher's lifetime. ctx should
// outlive the caller's request; Close waits for every launched invocation.
func (d *Dispatcher) Go(ctx context.Context, fn func(context.Context) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_ = fn(ctx)
	}()
	return nil
}

// Close rejects new background work and waits for running invocations.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

// InFlight returns the number of occupied worker slots.
func (d *Dispatcher) InFlight() int { return len(d.slots) }

// Health reports the readiness of both workers.
func (d *Dispatcher) Health(ctx context.Context) []stage.Health {
	var out []stage.Health
	if d.moderation != nil {
		out = append(out, d.moderation.HealthCheck(ctx))
	}
	if d.transcode != nil {
		out = append(out, d.transcode.HealthCheck(ctx))
	}
	return out
}

func invoke[E any](ctx context.Context, d *Dispatcher, h stage.Handler[E], subject string, ev E) error {
	if h == nil {
		return services.Wrap(services.ErrConfiguration, "trigger", "dispatch", "worker not configured", nil)
	}
	if _, ok := services.RequestIDFromContext(ctx); !ok {
		ctx = services.WithRequestID(ctx, uuid.NewString())
	}
	logger := logging.WithContext(ctx, d.logger).With(
		logging.String(logging.FieldWorker, h.Name()),
		logging.String("subject", subject),
	)

	select {
	case d.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-d.slots }()

	runCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	started := time.Now()
	logger.Debug("worker invocation started")
	err := h.Handle(runCtx, ev)
	elapsed := time.Since(started)
	if err != nil {
		logger.Warn("worker invocation failed",
			logging.Error(err),
			logging.Duration("elapsed", elapsed),
			logging.String(logging.FieldEventType, "worker_failed"),
			logging.String(logging.FieldErrorHint, "the record carries the failure reason; retry with `vidpipe moderate --retry --id` or `vidpipe transcode --object`"),
			logging.String(logging.FieldImpact, "video left in a failure state"),
		)
		return err
	}
	logger.Debug("worker invocation finished", logging.Duration("elapsed", elapsed))
	return nil
}
