package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"vidpipe/internal/retry"
)

type loadingErr struct{ wait time.Duration }

func (e loadingErr) Error() string             { return "loading" }
func (e loadingErr) RetryAfter() time.Duration { return e.wait }

func recordSleeps(slept *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
}

func TestPollSucceedsAfterDelays(t *testing.T) {
	var slept []time.Duration
	calls := 0
	err := retry.Poll(context.Background(), retry.Policy{Attempts: 5, Delay: 2 * time.Second, Sleep: recordSleeps(&slept)},
		func(context.Context) (bool, error) {
			calls++
			return calls == 3, nil
		})
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 checks, got %d", calls)
	}
	if len(slept) != 2 || slept[0] != 2*time.Second || slept[1] != 2*time.Second {
		t.Fatalf("expected two fixed delays, got %v", slept)
	}
}

func TestPollExhausts(t *testing.T) {
	var slept []time.Duration
	calls := 0
	err := retry.Poll(context.Background(), retry.Policy{Attempts: 4, Delay: time.Second, Sleep: recordSleeps(&slept)},
		func(context.Context) (bool, error) {
			calls++
			return false, nil
		})
	if !errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if calls != 4 || len(slept) != 3 {
		t.Fatalf("expected 4 checks and 3 sleeps, got %d and %d", calls, len(slept))
	}
}

func TestPollStopsOnCheckError(t *testing.T) {
	boom := errors.New("boom")
	err := retry.Poll(context.Background(), retry.Policy{Attempts: 3, Sleep: recordSleeps(new([]time.Duration))},
		func(context.Context) (bool, error) { return false, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected check error, got %v", err)
	}
}

func TestDoUsesSuggestedDelayAndCap(t *testing.T) {
	var slept []time.Duration
	var observed []int
	policy := retry.Policy{
		Attempts: 5,
		Delay:    10 * time.Second,
		MaxDelay: 60 * time.Second,
		Sleep:    recordSleeps(&slept),
		OnRetry:  func(attempt int, _ time.Duration, _ error) { observed = append(observed, attempt) },
	}
	calls := 0
	err := retry.Do(context.Background(), policy, func(_ context.Context, attempt int) error {
		calls++
		switch attempt {
		case 1:
			return loadingErr{wait: 3 * time.Second}
		case 2:
			return loadingErr{wait: 5 * time.Minute}
		case 3:
			return loadingErr{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	want := []time.Duration{3 * time.Second, 60 * time.Second, 10 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("unexpected sleeps %v", slept)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Fatalf("sleep %d: got %v want %v", i, slept[i], want[i])
		}
	}
	if calls != 4 || len(observed) != 3 {
		t.Fatalf("unexpected calls=%d observed=%v", calls, observed)
	}
}

func TestDoReturnsPermanentErrorImmediately(t *testing.T) {
	permanent := errors.New("bad request")
	calls := 0
	err := retry.Do(context.Background(), retry.Policy{Attempts: 5, Sleep: recordSleeps(new([]time.Duration))},
		func(context.Context, int) error {
			calls++
			return permanent
		})
	if !errors.Is(err, permanent) || errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}

func TestDoExhaustionWrapsLastError(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), retry.Policy{Attempts: 3, Sleep: recordSleeps(new([]time.Duration))},
		func(context.Context, int) error {
			calls++
			return loadingErr{}
		})
	if !errors.Is(err, retry.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	var le loadingErr
	if !errors.As(err, &le) {
		t.Fatalf("expected last error to be wrapped, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestSleepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := retry.Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
