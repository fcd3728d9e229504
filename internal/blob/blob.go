// Package blob defines the object store consumed by the workers and its
// local-disk, S3, and Google Cloud Storage implementations.
//
// Keys are slash-separated object names such as "videos/{id}.mp4". Every
// implementation reports a missing object with ErrNotFound so callers can tell
// "not there yet" apart from transport failures.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound reports that the requested object does not exist.
var ErrNotFound = errors.New("blob: object not found")

// Metadata carries per-object HTTP headers set on upload.
type Metadata struct {
	ContentType  string
	CacheControl string
}

// Store is the object store interface the workers depend on.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Download(ctx context.Context, key, dst string) error
	Upload(ctx context.Context, src, key string, meta Metadata) error
	// Delete removes key; deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every key under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	// PublicURL returns the URL clients use to fetch key.
	PublicURL(key string) string
}

// DeletePrefix removes every object under prefix and returns how many were
// deleted. It keeps going past individual delete failures and reports them
// joined.
func DeletePrefix(ctx context.Context, store Store, prefix string) (int, error) {
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", prefix, err)
	}
	var errs []error
	deleted := 0
	for _, key := range keys {
		if err := store.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

func cleanKey(key string) string {
	return strings.TrimLeft(strings.TrimSpace(key), "/")
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + cleanKey(key)
}
