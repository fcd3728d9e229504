package video

import (
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	// RawPrefix is the object namespace holding raw uploads.
	RawPrefix = "videos/"
	// RenditionPrefix is the object namespace holding published HLS trees.
	RenditionPrefix = "videos/hls/"
	// RawExtension is the extension the upload collaborator uses for raw files.
	RawExtension = ".mp4"
)

// Record is one uploaded video. It is created by the upload collaborator in
// StatusUploading and mutated only by the pipeline workers afterwards.
type Record struct {
	ID              string
	Status          Status
	ModerationScore *float64
	HLSURL          string
	Qualities       []string
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RawObjectKey returns the blob key of the raw upload for a video ID.
func RawObjectKey(id string) string {
	return RawPrefix + id + RawExtension
}

// RenditionRoot returns the blob prefix under which the HLS tree of a video
// is published.
func RenditionRoot(id string) string {
	return RenditionPrefix + id + "/"
}

// IDFromObjectName extracts the video ID from a raw object name such as
// "videos/abc.mp4". It reports false for names outside the raw namespace.
func IDFromObjectName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if !strings.HasPrefix(name, RawPrefix) {
		return "", false
	}
	rest := strings.TrimPrefix(name, RawPrefix)
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	id := strings.TrimSuffix(rest, path.Ext(rest))
	if id == "" {
		return "", false
	}
	return id, true
}

// ValidateID rejects identifiers that cannot be used as an object key stem.
func ValidateID(id string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return fmt.Errorf("video id is required")
	}
	if trimmed != id {
		return fmt.Errorf("video id %q has surrounding whitespace", id)
	}
	if strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
		return fmt.Errorf("video id %q contains path separators", id)
	}
	return nil
}

// Score returns the moderation score, or zero when none is recorded.
func (r Record) Score() float64 {
	if r.ModerationScore == nil {
		return 0
	}
	return *r.ModerationScore
}
