package records

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"vidpipe/internal/video"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state", "videos.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	rec, err := store.Create(ctx, "vid-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Status != video.StatusUploading {
		t.Fatalf("expected uploading, got %s", rec.Status)
	}

	got, err := store.Get(ctx, "vid-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != video.StatusUploading || got.ModerationScore != nil || got.HLSURL != "" || len(got.Qualities) != 0 {
		t.Fatalf("unexpected fresh record %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}

	if _, err := store.Create(ctx, "vid-1"); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateRejectsBadIDs(t *testing.T) {
	store := openTestStore(t)
	for _, id := range []string{"", "a/b", " padded "} {
		if _, err := store.Create(context.Background(), id); err == nil {
			t.Errorf("expected %q to be rejected", id)
		}
	}
}

func TestApplyModerationThenTranscode(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if _, err := store.Create(ctx, "vid-2"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec, err := store.Apply(ctx, "vid-2", video.ModerationPassed(0.2))
	if err != nil {
		t.Fatalf("Apply passed: %v", err)
	}
	if rec.Status != video.StatusModerationPassed || rec.Score() != 0.2 {
		t.Fatalf("unexpected record %+v", rec)
	}

	rec, err = store.Apply(ctx, "vid-2", video.Processed("https://cdn/videos/hls/vid-2/master.m3u8", []string{"720p", "480p"}))
	if err != nil {
		t.Fatalf("Apply processed: %v", err)
	}
	if rec.Status != video.StatusProcessed || rec.HLSURL == "" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if len(rec.Qualities) != 2 || rec.Qualities[0] != "720p" || rec.Qualities[1] != "480p" {
		t.Fatalf("qualities not preserved in order: %v", rec.Qualities)
	}
	if rec.Score() != 0.2 {
		t.Fatalf("moderation score should survive transcode, got %v", rec.ModerationScore)
	}
}

func TestApplyRejectsBackwardsTransitions(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if _, err := store.Create(ctx, "vid-3"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Apply(ctx, "vid-3", video.ModerationPassed(0.1)); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	rec, err := store.Apply(ctx, "vid-3", video.ModerationFailed(nil, errors.New("late")))
	if !errors.Is(err, ErrTransitionRejected) {
		t.Fatalf("expected ErrTransitionRejected, got %v", err)
	}
	var terr *TransitionError
	if !errors.As(err, &terr) || terr.Current != video.StatusModerationPassed || terr.Target != video.StatusModerationFailed {
		t.Fatalf("unexpected transition error %#v", err)
	}
	if rec == nil || rec.Status != video.StatusModerationPassed || rec.Error != "" {
		t.Fatalf("record must be unchanged, got %+v", rec)
	}

	if _, err := store.Apply(ctx, "missing", video.ModerationPassed(0)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBlockedAfterProcessedClearsRendition(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if _, err := store.Create(ctx, "vid-4"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Apply(ctx, "vid-4", video.Processed("url", []string{"360p"})); err != nil {
		t.Fatalf("Apply processed: %v", err)
	}
	rec, err := store.Apply(ctx, "vid-4", video.Blocked(0.9, "unsafe content"))
	if err != nil {
		t.Fatalf("Apply blocked: %v", err)
	}
	if rec.Status != video.StatusBlocked || rec.HLSURL != "" || len(rec.Qualities) != 0 {
		t.Fatalf("rendition fields must be cleared, got %+v", rec)
	}
	if rec.Score() != 0.9 || rec.Error != "unsafe content" {
		t.Fatalf("unexpected moderation fields %+v", rec)
	}
	if _, err := store.Apply(ctx, "vid-4", video.TranscodeFailed(errors.New("x"))); !errors.Is(err, ErrTransitionRejected) {
		t.Fatalf("blocked must be final for transcode, got %v", err)
	}
}

func TestConcurrentWorkersNeverRegress(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	if _, err := store.Create(ctx, "vid-5"); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = store.Apply(ctx, "vid-5", video.ModerationPassed(0.3))
	}()
	go func() {
		defer wg.Done()
		_, _ = store.Apply(ctx, "vid-5", video.Processed("url", []string{"720p"}))
	}()
	wg.Wait()

	rec, err := store.Get(ctx, "vid-5")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != video.StatusProcessed {
		t.Fatalf("processed must win regardless of ordering, got %s", rec.Status)
	}
	if rec.HLSURL != "url" {
		t.Fatalf("expected rendition fields, got %+v", rec)
	}
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := store.Create(ctx, id); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	if _, err := store.Apply(ctx, "a", video.ModerationPassed(0)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	recs, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != "a" {
		t.Fatalf("expected most recently updated first, got %+v", recs)
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "videos.db")
	store, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if _, err := store.Create(ctx, "persisted"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = store.Close()

	reopened, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.Get(ctx, "persisted"); err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
}
