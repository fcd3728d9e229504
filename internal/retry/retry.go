// Package retry provides the bounded wait helpers shared by the workers: a
// fixed-delay poll for eventually consistent reads and a retry loop whose
// delay can be suggested by the failing call itself.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted reports that every permitted attempt was used without success.
var ErrExhausted = errors.New("retry attempts exhausted")

// Retryable marks an error that may succeed on a later attempt. RetryAfter
// returns the wait suggested by the failing call, or zero to use the policy
// delay.
type Retryable interface {
	error
	RetryAfter() time.Duration
}

// Policy bounds a retry loop.
type Policy struct {
	Attempts int
	// Delay is the fixed delay between attempts, used when no suggestion is available.
	Delay time.Duration
	// MaxDelay caps suggested delays; zero means uncapped.
	MaxDelay time.Duration
	// Sleep overrides how delays are waited out (useful for tests).
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry observes each scheduled retry.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Poll calls check until it reports true, returns an error, or the attempts run
// out. Delays between attempts are always Policy.Delay.
func Poll(ctx context.Context, p Policy, check func(context.Context) (bool, error)) error {
	attempts := p.attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		ok, err := check(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if attempt == attempts {
			break
		}
		p.observe(attempt, p.Delay, nil)
		if err := p.sleep(ctx, p.Delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: condition not met after %d attempts", ErrExhausted, attempts)
}

// Do runs fn until it succeeds or returns an error that is not Retryable.
// Retryable errors wait for their suggested delay (capped by MaxDelay) or the
// policy delay. The final Retryable error is wrapped with ErrExhausted.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		var retryable Retryable
		if !errors.As(err, &retryable) {
			return err
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		delay := p.delayFor(retryable)
		p.observe(attempt, delay, err)
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

func (p Policy) attempts() int {
	if p.Attempts <= 0 {
		return 1
	}
	return p.Attempts
}

func (p Policy) delayFor(err Retryable) time.Duration {
	delay := err.RetryAfter()
	if delay <= 0 {
		delay = p.Delay
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if delay < 0 {
		return 0
	}
	return delay
}

func (p Policy) observe(attempt int, delay time.Duration, err error) {
	if p.OnRetry != nil {
		p.OnRetry(attempt, delay, err)
	}
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
