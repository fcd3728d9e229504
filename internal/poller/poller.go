// Package poller implements the client side of the status contract: read the
// record on a fixed interval until it reaches a terminal state.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vidpipe/internal/records"
	"vidpipe/internal/retry"
	"vidpipe/internal/video"
)

// ErrGaveUp reports that the record was still in flight after every attempt.
var ErrGaveUp = errors.New("video still processing")

// Reader is the read side of the record store.
type Reader interface {
	Get(ctx context.Context, id string) (*video.Record, error)
}

// Options bound a watch.
type Options struct {
	Interval time.Duration
	Attempts int
	// Sleep overrides the wait between reads.
	Sleep func(context.Context, time.Duration) error
}

// Watch polls the record for id, calling onChange whenever its status differs
// from the previous read. It returns the terminal record, or ErrGaveUp with
// the last record seen once the attempts are spent. A missing record is
// retried like an in-flight one.
func Watch(ctx context.Context, store Reader, id string, opts Options, onChange func(video.Record)) (*video.Record, error) {
	var (
		last    *video.Record
		lastErr error
	)
	err := retry.Poll(ctx, retry.Policy{
		Attempts: opts.Attempts,
		Delay:    opts.Interval,
		Sleep:    opts.Sleep,
	}, func(ctx context.Context) (bool, error) {
		rec, err := store.Get(ctx, id)
		if errors.Is(err, records.ErrNotFound) {
			lastErr = err
			return false, nil
		}
		if err != nil {
			return false, err
		}
		lastErr = nil
		if last == nil || last.Status != rec.Status {
			if onChange != nil {
				onChange(*rec)
			}
		}
		last = rec
		return rec.Status.IsTerminal(), nil
	})
	switch {
	case err == nil:
		return last, nil
	case errors.Is(err, retry.ErrExhausted):
		if last == nil && lastErr != nil {
			return nil, lastErr
		}
		status := "unknown"
		if last != nil {
			status = string(last.Status)
		}
		return last, fmt.Errorf("%w: %s is %s after %d reads", ErrGaveUp, id, status, opts.Attempts)
	default:
		return last, err
	}
}
