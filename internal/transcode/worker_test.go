package transcode_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"vidpipe/internal/blob"
	"vidpipe/internal/config"
	"vidpipe/internal/hls"
	"vidpipe/internal/media"
	"vidpipe/internal/records"
	"vidpipe/internal/services"
	"vidpipe/internal/testsupport"
	"vidpipe/internal/transcode"
	"vidpipe/internal/video"
)

type fakeEncoder struct {
	mu       sync.Mutex
	failOn   string
	segments int
	encoded  []string
	// onEncode runs before each rendition is written.
	onEncode func(name string)
}

func (e *fakeEncoder) EncodeRendition(_ context.Context, input, outDir string, r media.Rendition) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := os.Stat(input); err != nil {
		return "", fmt.Errorf("input missing: %w", err)
	}
	if e.onEncode != nil {
		e.onEncode(r.Name)
	}
	if r.Name == e.failOn {
		return "", services.Wrap(services.ErrExternalTool, "transcode", "encode "+r.Name, "ffmpeg exited with status 1", nil)
	}
	dir := filepath.Join(outDir, r.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	n := e.segments
	if n == 0 {
		n = 2
	}
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n")
	for i := 0; i < n; i++ {
		name := hls.SegmentName(i)
		if err := os.WriteFile(filepath.Join(dir, name), []byte("ts"), 0o644); err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "#EXTINF:6.0,\n%s\n", name)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	playlist := filepath.Join(dir, media.PlaylistName)
	if err := os.WriteFile(playlist, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	e.encoded = append(e.encoded, r.Name)
	return playlist, nil
}

// recordingBlobs wraps a store, recording upload order and optionally failing
// the n-th upload.
type recordingBlobs struct {
	blob.Store
	mu        sync.Mutex
	uploads   []string
	failAfter int
}

func (b *recordingBlobs) Upload(ctx context.Context, src, key string, meta blob.Metadata) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failAfter > 0 && len(b.uploads) == b.failAfter {
		return errors.New("bucket unavailable")
	}
	if err := b.Store.Upload(ctx, src, key, meta); err != nil {
		return err
	}
	b.uploads = append(b.uploads, key)
	return nil
}

type harness struct {
	cfg     *config.Config
	local   *blob.Local
	blobs   *recordingBlobs
	encoder *fakeEncoder
	worker  *transcode.Worker
	store   records.Store
}

func newHarness(t *testing.T, encoder *fakeEncoder, presets []config.Preset) (*harness, func(id string)) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if presets == nil {
		presets = cfg.Transcode.Presets
	}
	store := testsupport.MustOpenStore(t, cfg)
	local := testsupport.MustOpenBlobs(t, cfg)
	rb := &recordingBlobs{Store: local}
	h := &harness{cfg: cfg, local: local, blobs: rb, encoder: encoder, store: store}
	h.worker = transcode.NewWorker(transcode.Config{
		Renditions: transcode.Renditions(presets, cfg.Transcode.SegmentSeconds),
	}, transcode.Dependencies{
		Blobs:   rb,
		Records: store,
		Scratch: testsupport.MustScratch(t, cfg),
		Encoder: encoder,
	}, nil)
	upload := func(id string) {
		testsupport.NewVideo(t, store, id)
		testsupport.SeedObject(t, local, video.RawObjectKey(id), 2048)
	}
	return h, upload
}

func finalized(id string) video.ObjectFinalized {
	return video.ObjectFinalized{Name: video.RawObjectKey(id), ContentType: "video/mp4", Bucket: "uploads"}
}

func (h *harness) assertScratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.cfg.Paths.ScratchDir)
	if err != nil {
		t.Fatalf("read scratch: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty scratch, found %d entries", len(entries))
	}
}

func (h *harness) published(t *testing.T, id string) []string {
	t.Helper()
	keys, err := h.local.List(context.Background(), video.RenditionRoot(id))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return keys
}

func TestPublishesLadderWithMasterLast(t *testing.T) {
	h, upload := newHarness(t, &fakeEncoder{}, nil)
	upload("v1")

	result, err := h.worker.Transcode(context.Background(), finalized("v1"))
	if err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	wantQualities := []string{"1080p", "720p", "480p", "360p"}
	if !slices.Equal(result.Qualities, wantQualities) {
		t.Fatalf("qualities = %v", result.Qualities)
	}

	rec, err := h.store.Get(context.Background(), "v1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != video.StatusProcessed {
		t.Fatalf("status = %s, want processed", rec.Status)
	}
	if rec.HLSURL != "https://cdn.test/videos/hls/v1/master.m3u8" {
		t.Fatalf("hls url = %q", rec.HLSURL)
	}
	if !slices.Equal(rec.Qualities, wantQualities) {
		t.Fatalf("record qualities = %v", rec.Qualities)
	}

	uploads := h.blobs.uploads
	if last := uploads[len(uploads)-1]; last != "videos/hls/v1/master.m3u8" {
		t.Fatalf("last upload = %q, want master", last)
	}
	for i, key := range uploads {
		if strings.HasSuffix(key, ".ts") {
			for _, earlier := range uploads[:i] {
				if strings.HasSuffix(earlier, ".m3u8") {
					t.Fatalf("segment %s uploaded after playlist %s", key, earlier)
				}
			}
		}
	}
	if len(uploads) != 4*2+4+1 {
		t.Fatalf("uploaded %d objects, want 13", len(uploads))
	}
	h.assertScratchEmpty(t)
}

func TestMasterReferencesOnlyUploadedPaths(t *testing.T) {
	h, upload := newHarness(t, &fakeEncoder{segments: 3}, nil)
	upload("v2")

	if _, err := h.worker.Transcode(context.Background(), finalized("v2")); err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	path, err := h.local.Path("videos/hls/v2/master.m3u8")
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read master: %v", err)
	}
	uris, err := hls.URIs(data)
	if err != nil {
		t.Fatalf("parse master: %v", err)
	}
	if !slices.Equal(uris, []string{"1080p/playlist.m3u8", "720p/playlist.m3u8", "480p/playlist.m3u8", "360p/playlist.m3u8"}) {
		t.Fatalf("master uris = %v", uris)
	}
	published := h.published(t, "v2")
	for _, uri := range uris {
		if !slices.Contains(published, "videos/hls/v2/"+uri) {
			t.Fatalf("master references %s which was not uploaded", uri)
		}
		for i := 0; i < 3; i++ {
			seg := "videos/hls/v2/" + filepath.Dir(uri) + "/" + hls.SegmentName(i)
			if !slices.Contains(published, seg) {
				t.Fatalf("segment %s missing", seg)
			}
		}
	}
	meta, err := h.local.Stat("videos/hls/v2/720p/segment_000.ts")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if meta.ContentType != "video/mp2t" || meta.CacheControl != "public, max-age=31536000" {
		t.Fatalf("segment metadata = %+v", meta)
	}
	meta, err = h.local.Stat("videos/hls/v2/master.m3u8")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if meta.ContentType != "application/vnd.apple.mpegurl" || meta.CacheControl != "public, max-age=300" {
		t.Fatalf("master metadata = %+v", meta)
	}
}

func TestEncoderFailurePublishesNothing(t *testing.T) {
	enc := &fakeEncoder{failOn: "480p"}
	h, upload := newHarness(t, enc, nil)
	upload("v3")

	err := h.worker.Handle(context.Background(), finalized("v3"))
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if !slices.Equal(enc.encoded, []string{"1080p", "720p"}) {
		t.Fatalf("encoded = %v", enc.encoded)
	}
	rec, _ := h.store.Get(context.Background(), "v3")
	if rec.Status != video.StatusFailed || !strings.Contains(rec.Error, "encode 480p") {
		t.Fatalf("record = %+v", rec)
	}
	if rec.HLSURL != "" || len(rec.Qualities) != 0 {
		t.Fatalf("failed record must not carry renditions: %+v", rec)
	}
	if keys := h.published(t, "v3"); len(keys) != 0 {
		t.Fatalf("expected nothing published, got %v", keys)
	}
	if len(h.blobs.uploads) != 0 {
		t.Fatalf("no uploads expected, got %v", h.blobs.uploads)
	}
	h.assertScratchEmpty(t)
}

func TestUploadFailureRollsBack(t *testing.T) {
	h, upload := newHarness(t, &fakeEncoder{}, nil)
	h.blobs.failAfter = 5
	upload("v4")

	if err := h.worker.Handle(context.Background(), finalized("v4")); err == nil {
		t.Fatal("expected upload error")
	}
	if keys := h.published(t, "v4"); len(keys) != 0 {
		t.Fatalf("expected rollback to remove %v", keys)
	}
	rec, _ := h.store.Get(context.Background(), "v4")
	if rec.Status != video.StatusFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
	if ok, _ := h.local.Exists(context.Background(), video.RawObjectKey("v4")); !ok {
		t.Fatal("raw object must survive a failed transcode")
	}
	h.assertScratchEmpty(t)
}

func TestIgnoresNonRawObjects(t *testing.T) {
	enc := &fakeEncoder{}
	h, upload := newHarness(t, enc, nil)
	upload("v5")

	events := []video.ObjectFinalized{
		{Name: "videos/v5.mp4", ContentType: "image/jpeg"},
		{Name: "videos/hls/v5/master.m3u8", ContentType: "application/vnd.apple.mpegurl"},
		{Name: "videos/hls/v5/720p/segment_000.ts", ContentType: "video/mp2t"},
		{Name: "avatars/v5.mp4", ContentType: "video/mp4"},
	}
	for _, ev := range events {
		if err := h.worker.Handle(context.Background(), ev); err != nil {
			t.Fatalf("Handle(%s): %v", ev.Name, err)
		}
	}
	if len(enc.encoded) != 0 {
		t.Fatalf("unexpected encodes %v", enc.encoded)
	}
}

func TestStatusGuardSkipsPublishedAndBlocked(t *testing.T) {
	enc := &fakeEncoder{}
	h, upload := newHarness(t, enc, []config.Preset{{Name: "360p", Height: 360, BitrateKbps: 800}})
	upload("v6")

	if err := h.worker.Handle(context.Background(), finalized("v6")); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := h.worker.Handle(context.Background(), finalized("v6")); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(enc.encoded) != 1 {
		t.Fatalf("redelivery re-encoded: %v", enc.encoded)
	}
}

func TestMissingRecordIsAnError(t *testing.T) {
	h, _ := newHarness(t, &fakeEncoder{}, nil)
	err := h.worker.Handle(context.Background(), finalized("nobody"))
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestRenditionsCarrySegmentLength(t *testing.T) {
	got := transcode.Renditions(config.DefaultPresets(), 4)
	if len(got) != 4 || got[1].Name != "720p" || got[1].Height != 720 || got[1].BitrateKbps != 2800 || got[1].SegmentSeconds != 4 {
		t.Fatalf("renditions = %+v", got)
	}
}

func TestRerunAfterFailurePublishes(t *testing.T) {
	enc := &fakeEncoder{failOn: "480p"}
	h, upload := newHarness(t, enc, nil)
	upload("v7")

	if err := h.worker.Handle(context.Background(), finalized("v7")); err == nil {
		t.Fatal("expected first run to fail")
	}
	if rec := testsupport.MustGet(t, h.store, "v7"); rec.Status != video.StatusFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}

	enc.failOn = ""
	result, err := h.worker.Transcode(context.Background(), finalized("v7"))
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if result == nil {
		t.Fatal("rerun after failure must not be skipped")
	}
	rec := testsupport.MustGet(t, h.store, "v7")
	if rec.Status != video.StatusProcessed || rec.HLSURL != result.MasterURL || rec.Error != "" {
		t.Fatalf("record = %+v", rec)
	}
	if keys := h.published(t, "v7"); len(keys) != 4*2+4+1 {
		t.Fatalf("published %d objects, want 13", len(keys))
	}
	h.assertScratchEmpty(t)
}

func TestBlockedWhileEncodingRemovesPublishedTree(t *testing.T) {
	enc := &fakeEncoder{}
	h, upload := newHarness(t, enc, nil)
	upload("v8")
	enc.onEncode = func(name string) {
		if name != "360p" {
			return
		}
		if _, err := h.store.Apply(context.Background(), "v8", video.Blocked(0.97, "unsafe")); err != nil {
			t.Errorf("block: %v", err)
		}
	}

	result, err := h.worker.Transcode(context.Background(), finalized("v8"))
	if err != nil || result != nil {
		t.Fatalf("Transcode = %v, %v; want nil, nil", result, err)
	}
	if keys := h.published(t, "v8"); len(keys) != 0 {
		t.Fatalf("blocked video must not stay published: %v", keys)
	}
	rec := testsupport.MustGet(t, h.store, "v8")
	if rec.Status != video.StatusBlocked || rec.HLSURL != "" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestConcurrentPublicationKeepsTree(t *testing.T) {
	enc := &fakeEncoder{}
	h, upload := newHarness(t, enc, []config.Preset{{Name: "360p", Height: 360, BitrateKbps: 800}})
	upload("v9")
	enc.onEncode = func(string) {
		url := h.local.PublicURL(video.RenditionRoot("v9") + hls.MasterName)
		if _, err := h.store.Apply(context.Background(), "v9", video.Processed(url, []string{"360p"})); err != nil {
			t.Errorf("concurrent publish: %v", err)
		}
	}

	if _, err := h.worker.Transcode(context.Background(), finalized("v9")); err != nil {
		t.Fatalf("Transcode: %v", err)
	}
	if keys := h.published(t, "v9"); !slices.Contains(keys, "videos/hls/v9/master.m3u8") {
		t.Fatalf("tree referenced by the record was removed: %v", keys)
	}
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
	local := testsupport.MustOpenBlobs(t, cfg)
	testsupport.NewVideo(t, store, "v10")
	testsupport.SeedObject(t, local, video.RawObjectKey("v10"), 1024)
	worker := transcode.NewWorker(transcode.Config{
		Renditions: transcode.Renditions(cfg.Transcode.Presets, cfg.Transcode.SegmentSeconds),
	}, transcode.Dependencies{
		Blobs:   local,
		Records: brokenRecords{Store: store},
		Scratch: testsupport.MustScratch(t, cfg),
		Encoder: &fakeEncoder{failOn: "1080p"},
	}, nil)

	err := worker.Handle(context.Background(), finalized("v10"))
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected the encode error, got %v", err)
	}
	if !errors.Is(err, services.ErrTransient) || !strings.Contains(err.Error(), "database is locked") {
		t.Fatalf("expected the lost status write to be reported, got %v", err)
	}
}
