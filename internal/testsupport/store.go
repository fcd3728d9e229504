package testsupport

import (
	"context"
	"testing"

	"vidpipe/internal/blob"
	"vidpipe/internal/config"
	"vidpipe/internal/records"
	"vidpipe/internal/scratch"
	"vidpipe/internal/video"
)

// MustOpenStore opens the sqlite record store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) records.Store {
	t.Helper()

	store, err := records.OpenSQLite(context.Background(), cfg.RecordsDSN())
	if err != nil {
		t.Fatalf("records.OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenBlobs opens the local blob store rooted in the test config.
func MustOpenBlobs(t testing.TB, cfg *config.Config) *blob.Local {
	t.Helper()

	store, err := blob.NewLocal(cfg.Storage.Root, cfg.Storage.PublicBaseURL)
	if err != nil {
		t.Fatalf("blob.NewLocal: %v", err)
	}
	return store
}

// MustScratch creates a scratch manager under the test config.
func MustScratch(t testing.TB, cfg *config.Config) *scratch.Manager {
	t.Helper()

	mgr, err := scratch.NewManager(cfg.Paths.ScratchDir, nil)
	if err != nil {
		t.Fatalf("scratch.NewManager: %v", err)
	}
	return mgr
}

// NewVideo creates an uploading record for tests.
func NewVideo(t testing.TB, store records.Store, id string) *video.Record {
	t.Helper()

	rec, err := store.Create(context.Background(), id)
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return rec
}

// MustGet loads a record or fails the test.
func MustGet(t testing.TB, store records.Store, id string) *video.Record {
	t.Helper()

	rec, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("store.Get(%s): %v", id, err)
	}
	return rec
}
