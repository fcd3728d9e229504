package moderation_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"vidpipe/internal/blob"
	"vidpipe/internal/classifier"
	"vidpipe/internal/config"
	"vidpipe/internal/moderation"
	"vidpipe/internal/records"
	"vidpipe/internal/services"
	"vidpipe/internal/testsupport"
	"vidpipe/internal/video"
)

type fakeFrames struct {
	count int
	err   error
	calls int
}

func (f *fakeFrames) ExtractFrames(_ context.Context, input, outDir string, interval time.Duration) ([]string, error) {
	f.calls++
	if _, err := os.Stat(input); err != nil {
		return nil, fmt.Errorf("input not downloaded: %w", err)
	}
	if f.err != nil {
		return nil, f.err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	frames := make([]string, 0, f.count)
	for i := 1; i <= f.count; i++ {
		p := filepath.Join(outDir, fmt.Sprintf("frame_%05d.jpg", i))
		if err := os.WriteFile(p, []byte("jpg"), 0o644); err != nil {
			return nil, err
		}
		frames = append(frames, p)
	}
	return frames, nil
}

type fakeScorer struct {
	mu     sync.Mutex
	scores []float64
	failAt int
	block  bool
	calls  int
	// onCall runs before each score is returned.
	onCall func(call int)
}

func (s *fakeScorer) ScoreFile(ctx context.Context, path string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.onCall != nil {
		s.onCall(s.calls)
	}
	if s.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if s.failAt > 0 && s.calls == s.failAt {
		return 0, errors.New("classifier returned status 500")
	}
	return s.scores[s.calls-1], nil
}

type harness struct {
	cfg     *config.Config
	store   records.Store
	blobs   *blob.Local
	frames  *fakeFrames
	scorer  moderation.Scorer
	worker  *moderation.Worker
	scratch string
}

func newHarness(t *testing.T, frames *fakeFrames, scorer moderation.Scorer) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	h := &harness{
		cfg:     cfg,
		store:   testsupport.MustOpenStore(t, cfg),
		blobs:   testsupport.MustOpenBlobs(t, cfg),
		frames:  frames,
		scorer:  scorer,
		scratch: cfg.Paths.ScratchDir,
	}
	h.worker = moderation.NewWorker(moderation.Config{
		Threshold:          cfg.Moderation.Threshold,
		SampleInterval:     cfg.SampleInterval(),
		ObjectWaitAttempts: 3,
		ObjectWaitDelay:    time.Millisecond,
	}, moderation.Dependencies{
		Blobs:   h.blobs,
		Records: h.store,
		Scratch: testsupport.MustScratch(t, cfg),
		Frames:  frames,
		Scorer:  scorer,
	}, nil, moderation.WithSleeper(func(context.Context, time.Duration) error { return nil }))
	return h
}

func (h *harness) upload(t *testing.T, id string) {
	t.Helper()
	testsupport.NewVideo(t, h.store, id)
	testsupport.SeedObject(t, h.blobs, video.RawObjectKey(id), 1024)
}

func (h *harness) assertScratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.scratch)
	if err != nil {
		t.Fatalf("read scratch: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected scratch to be empty, found %d entries", len(entries))
	}
}

func (h *harness) rawExists(t *testing.T, id string) bool {
	t.Helper()
	ok, err := h.blobs.Exists(context.Background(), video.RawObjectKey(id))
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	return ok
}

func created(id string) video.RecordCreated {
	return video.RecordCreated{ID: id, Status: video.StatusUploading}
}

func TestCleanVideoPassesWithMaxScore(t *testing.T) {
	scorer := &fakeScorer{scores: []float64{0.1, 0.2, 0.15}}
	h := newHarness(t, &fakeFrames{count: 3}, scorer)
	h.upload(t, "clean")

	if err := h.worker.Handle(context.Background(), created("clean")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	rec := testsupport.MustGet(t, h.store, "clean")
	if rec.Status != video.StatusModerationPassed {
		t.Fatalf("status = %s, want moderation_passed", rec.Status)
	}
	if rec.ModerationScore == nil || *rec.ModerationScore != 0.2 {
		t.Fatalf("score = %v, want 0.2", rec.ModerationScore)
	}
	if rec.Error != "" {
		t.Fatalf("unexpected error field %q", rec.Error)
	}
	if scorer.calls != 3 {
		t.Fatalf("classifier calls = %d, want 3", scorer.calls)
	}
	if !h.rawExists(t, "clean") {
		t.Fatal("raw object must be retained for a passing video")
	}
	h.assertScratchEmpty(t)
}

func TestUnsafeFrameBlocksEarlyAndDeletesRaw(t *testing.T) {
	scorer := &fakeScorer{scores: []float64{0.1, 0.9, 0.2, 0.3, 0.4}}
	h := newHarness(t, &fakeFrames{count: 5}, scorer)
	h.upload(t, "unsafe")

	result, err := h.worker.Moderate(context.Background(), created("unsafe"))
	if err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if result.FramesScored != 2 || result.FramesTotal != 5 {
		t.Fatalf("scored %d of %d frames, want 2 of 5", result.FramesScored, result.FramesTotal)
	}
	if scorer.calls != 2 {
		t.Fatalf("classifier calls = %d, want 2", scorer.calls)
	}
	rec := testsupport.MustGet(t, h.store, "unsafe")
	if rec.Status != video.StatusBlocked {
		t.Fatalf("status = %s, want blocked", rec.Status)
	}
	if rec.Score() != 0.9 {
		t.Fatalf("score = %v, want 0.9", rec.Score())
	}
	if rec.Error != "Video blocked: unsafe content detected (score 0.90)" {
		t.Fatalf("error = %q", rec.Error)
	}
	if h.rawExists(t, "unsafe") {
		t.Fatal("raw object must be deleted when blocked")
	}
	h.assertScratchEmpty(t)
}

func TestScoreEqualToThresholdPasses(t *testing.T) {
	scorer := &fakeScorer{scores: []float64{0.5, 0.5}}
	h := newHarness(t, &fakeFrames{count: 2}, scorer)
	h.upload(t, "edge")

	if err := h.worker.Handle(context.Background(), created("edge")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if rec := testsupport.MustGet(t, h.store, "edge"); rec.Status != video.StatusModerationPassed {
		t.Fatalf("status = %s, want moderation_passed", rec.Status)
	}
	if !moderation.Exceeds(0.5000001, 0.5) || moderation.Exceeds(0.5, 0.5) {
		t.Fatal("Exceeds must be a strict comparison")
	}
}

func TestLoadingClassifierRetriesThenPasses(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"Model Falconsai/nsfw is currently loading","estimated_time":12.5}`))
			return
		}
		_, _ = w.Write([]byte(`[{"label":"normal","score":0.95},{"label":"nsfw","score":0.05}]`))
	}))
	t.Cleanup(srv.Close)

	var slept []time.Duration
	client := classifier.NewClient(classifier.Config{URL: srv.URL, Token: "t", MaxAttempts: 5},
		classifier.WithSleeper(func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}))
	h := newHarness(t, &fakeFrames{count: 1}, client)
	h.upload(t, "warmup")

	if err := h.worker.Handle(context.Background(), created("warmup")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	rec := testsupport.MustGet(t, h.store, "warmup")
	if rec.Status != video.StatusModerationPassed || rec.Score() != 0.05 {
		t.Fatalf("record = %+v", rec)
	}
	if calls != 3 {
		t.Fatalf("classifier requests = %d, want 3", calls)
	}
	if len(slept) != 2 {
		t.Fatalf("backoff cycles = %d, want 2", len(slept))
	}
}

func TestRedeliveryIsIgnored(t *testing.T) {
	scorer := &fakeScorer{scores: []float64{0.1}}
	frames := &fakeFrames{count: 1}
	h := newHarness(t, frames, scorer)
	h.upload(t, "again")

	if err := h.worker.Handle(context.Background(), video.RecordCreated{ID: "again", Status: video.StatusProcessed}); err != nil {
		t.Fatalf("Handle non-uploading event: %v", err)
	}
	if scorer.calls != 0 || frames.calls != 0 {
		t.Fatal("non-uploading events must not touch collaborators")
	}

	if err := h.worker.Handle(context.Background(), created("again")); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	first := testsupport.MustGet(t, h.store, "again")

	if err := h.worker.Handle(context.Background(), created("again")); err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	second := testsupport.MustGet(t, h.store, "again")
	if scorer.calls != 1 {
		t.Fatalf("classifier calls = %d, want 1", scorer.calls)
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) || second.Status != first.Status {
		t.Fatalf("redelivery mutated the record: %+v -> %+v", first, second)
	}
}

func TestMissingObjectFailsWithoutClassifying(t *testing.T) {
	scorer := &fakeScorer{}
	frames := &fakeFrames{count: 1}
	h := newHarness(t, frames, scorer)
	testsupport.NewVideo(t, h.store, "ghost")

	err := h.worker.Handle(context.Background(), created("ghost"))
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if !strings.Contains(err.Error(), "raw object videos/ghost.mp4 not found after 3 attempts") {
		t.Fatalf("unexpected message %q", err.Error())
	}
	rec := testsupport.MustGet(t, h.store, "ghost")
	if rec.Status != video.StatusModerationFailed {
		t.Fatalf("status = %s, want moderation_failed", rec.Status)
	}
	if !strings.Contains(rec.Error, "not found after 3 attempts") {
		t.Fatalf("error field = %q", rec.Error)
	}
	if scorer.calls != 0 || frames.calls != 0 {
		t.Fatal("no frames should be extracted or scored")
	}
	h.assertScratchEmpty(t)
}

func TestClassifierErrorKeepsScoreSoFar(t *testing.T) {
	scorer := &fakeScorer{scores: []float64{0.3, 0}, failAt: 2}
	h := newHarness(t, &fakeFrames{count: 3}, scorer)
	h.upload(t, "flaky")

	err := h.worker.Handle(context.Background(), created("flaky"))
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	rec := testsupport.MustGet(t, h.store, "flaky")
	if rec.Status != video.StatusModerationFailed || rec.Score() != 0.3 {
		t.Fatalf("record = %+v", rec)
	}
	if !h.rawExists(t, "flaky") {
		t.Fatal("raw object must be kept on failure")
	}
	h.assertScratchEmpty(t)
}

func TestExtractionFailureReleasesScratch(t *testing.T) {
	h := newHarness(t, &fakeFrames{err: errors.New("no frames extracted")}, &fakeScorer{})
	h.upload(t, "broken")

	if err := h.worker.Handle(context.Background(), created("broken")); err == nil {
		t.Fatal("expected error")
	}
	rec := testsupport.MustGet(t, h.store, "broken")
	if rec.Status != video.StatusModerationFailed || rec.Error != "no frames extracted" {
		t.Fatalf("record = %+v", rec)
	}
	h.assertScratchEmpty(t)
}

func TestDeadlineRecordsTimeoutFailure(t *testing.T) {
	h := newHarness(t, &fakeFrames{count: 1}, &fakeScorer{block: true})
	h.upload(t, "slow")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := h.worker.Handle(ctx, created("slow"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	rec := testsupport.MustGet(t, h.store, "slow")
	if rec.Status != video.StatusModerationFailed {
		t.Fatalf("status = %s, want moderation_failed", rec.Status)
	}
	if !strings.HasPrefix(rec.Error, "timeout: worker ran out of time") {
		t.Fatalf("error field = %q", rec.Error)
	}
	h.assertScratchEmpty(t)
}

func TestHealthCheckReportsRecords(t *testing.T) {
	h := newHarness(t, &fakeFrames{}, &fakeScorer{})
	health := h.worker.HealthCheck(context.Background())
	if !health.Ready || health.Name != moderation.Name {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestBlockReasonFormatsTwoDecimals(t *testing.T) {
	if got := moderation.BlockReason(0.934); got != "Video blocked: unsafe content detected (score 0.93)" {
		t.Fatalf("BlockReason = %q", got)
	}
}

// publishDuringScoring simulates a transcode that finishes while the first
// frame is being classified.
func publishDuringScoring(t *testing.T, h *harness, id string) func(int) {
	return func(call int) {
		if call != 1 {
			return
		}
		root := video.RenditionRoot(id)
		for _, key := range []string{"360p/segment_000.ts", "360p/playlist.m3u8", "master.m3u8"} {
			testsupport.SeedObject(t, h.blobs, root+key, 16)
		}
		if _, err := h.store.Apply(context.Background(), id, video.Processed(h.blobs.PublicURL(root+"master.m3u8"), []string{"360p"})); err != nil {
			t.Errorf("publish: %v", err)
		}
	}
}

func (h *harness) renditions(t *testing.T, id string) []string {
	t.Helper()
	keys, err := h.blobs.List(context.Background(), video.RenditionRoot(id))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return keys
}

func TestBlockAfterPublicationRemovesRenditions(t *testing.T) {
	scorer := &fakeScorer{scores: []float64{0.2, 0.95}}
	h := newHarness(t, &fakeFrames{count: 2}, scorer)
	h.upload(t, "late")
	scorer.onCall = publishDuringScoring(t, h, "late")

	if err := h.worker.Handle(context.Background(), created("late")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	rec := testsupport.MustGet(t, h.store, "late")
	if rec.Status != video.StatusBlocked || rec.HLSURL != "" || len(rec.Qualities) != 0 {
		t.Fatalf("record = %+v", rec)
	}
	if keys := h.renditions(t, "late"); len(keys) != 0 {
		t.Fatalf("blocked renditions still stored: %v", keys)
	}
	if h.rawExists(t, "late") {
		t.Fatal("raw object must be deleted when blocked")
	}
}

func TestPassAfterPublicationKeepsRenditions(t *testing.T) {
	scorer := &fakeScorer{scores: []float64{0.1, 0.2}}
	h := newHarness(t, &fakeFrames{count: 2}, scorer)
	h.upload(t, "early")
	scorer.onCall = publishDuringScoring(t, h, "early")

	if err := h.worker.Handle(context.Background(), created("early")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	rec := testsupport.MustGet(t, h.store, "early")
	if rec.Status != video.StatusProcessed || rec.HLSURL == "" {
		t.Fatalf("published record must stay processed, got %+v", rec)
	}
	if keys := h.renditions(t, "early"); len(keys) != 3 {
		t.Fatalf("renditions = %v", keys)
	}
}

func TestRetryRemoderatesFailedRecord(t *testing.T) {
	scorer := &fakeScorer{scores: []float64{0, 0.2}, failAt: 1}
	h := newHarness(t, &fakeFrames{count: 1}, scorer)
	h.upload(t, "again2")

	if err := h.worker.Handle(context.Background(), created("again2")); err == nil {
		t.Fatal("expected first run to fail")
	}
	if err := h.worker.Handle(context.Background(), created("again2")); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if rec := testsupport.MustGet(t, h.store, "again2"); rec.Status != video.StatusModerationFailed {
		t.Fatalf("redelivery must not re-moderate, status = %s", rec.Status)
	}

	result, err := h.worker.Retry(context.Background(), "again2")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if result == nil || result.Status != video.StatusModerationPassed {
		t.Fatalf("result = %+v", result)
	}
	rec := testsupport.MustGet(t, h.store, "again2")
	if rec.Status != video.StatusModerationPassed || rec.Score() != 0.2 || rec.Error != "" {
		t.Fatalf("record = %+v", rec)
	}

	if result, err := h.worker.Retry(context.Background(), "again2"); err != nil || result != nil {
		t.Fatalf("Retry of a passed record = %+v, %v; want nil, nil", result, err)
	}
	h.assertScratchEmpty(t)
}

// brokenRecords loses every status write.
type brokenRecords struct {
	records.Store
}

func (brokenRecords) Apply(context.Context, string, video.Patch) (*video.Record, error) {
	return nil, errors.New("database is locked")
}

func TestLostFailureWriteIsReported(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	blobs := testsupport.MustOpenBlobs(t, cfg)
	testsupport.NewVideo(t, store, "stuck")
	testsupport.SeedObject(t, blobs, video.RawObjectKey("stuck"), 64)
	worker := moderation.NewWorker(moderation.Config{Threshold: 0.5, ObjectWaitAttempts: 1}, moderation.Dependencies{
		Blobs:   blobs,
		Records: brokenRecords{Store: store},
		Scratch: testsupport.MustScratch(t, cfg),
		Frames:  &fakeFrames{err: errors.New("no frames extracted")},
		Scorer:  &fakeScorer{},
	}, nil)

	err := worker.Handle(context.Background(), created("stuck"))
	if err == nil || !strings.Contains(err.Error(), "no frames extracted") {
		t.Fatalf("expected the run error, got %v", err)
	}
	if !errors.Is(err, services.ErrTransient) || !strings.Contains(err.Error(), "database is locked") {
		t.Fatalf("expected the lost status write to be reported, got %v", err)
	}
	if rec := testsupport.MustGet(t, store, "stuck"); rec.Status != video.StatusUploading {
		t.Fatalf("status = %s", rec.Status)
	}
}
