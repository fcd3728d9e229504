package records

import (
	"context"
	"errors"
	"fmt"

	"vidpipe/internal/video"
)

var (
	// ErrNotFound reports that no record exists for the requested ID.
	ErrNotFound = errors.New("video record not found")
	// ErrExists reports a Create for an ID that is already taken.
	ErrExists = errors.New("video record already exists")
	// ErrTransitionRejected reports a patch whose status precondition failed.
	ErrTransitionRejected = errors.New("status transition rejected")
)

// Store is the record store consumed by the workers, the API, and the CLI.
type Store interface {
	// Create inserts a new record in StatusUploading.
	Create(ctx context.Context, id string) (*video.Record, error)
	Get(ctx context.Context, id string) (*video.Record, error)
	// Apply writes p to the record with the given ID if its current status is
	// allowed by p, returning the updated record.
	Apply(ctx context.Context, id string, p video.Patch) (*video.Record, error)
	// List returns the most recently updated records first.
	List(ctx context.Context, limit int) ([]video.Record, error)
	Ping(ctx context.Context) error
	Close() error
}

// TransitionError describes a rejected patch.
type TransitionError struct {
	ID      string
	Current video.Status
	Target  video.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("video %s: %s -> %s not allowed", e.ID, e.Current, e.Target)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrTransitionRejected
}

func rejected(id string, current video.Status, p video.Patch) error {
	return &TransitionError{ID: id, Current: current, Target: p.Status()}
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func statusStrings(statuses []video.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

const defaultListLimit = 50

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
