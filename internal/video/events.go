package video

import (
	"path"
	"strings"
)

// RecordCreated is delivered when the upload collaborator creates a record.
type RecordCreated struct {
	ID     string `json:"id" binding:"required"`
	Status Status `json:"status" binding:"required"`
}

// ObjectFinalized is delivered when an object upload completes in blob storage.
type ObjectFinalized struct {
	Name        string `json:"name" binding:"required"`
	ContentType string `json:"contentType"`
	Bucket      string `json:"bucket,omitempty"`
}

// IsRawUpload reports whether the finalized object is a freshly uploaded raw
// video rather than pipeline output. It returns the video ID on success.
func (e ObjectFinalized) IsRawUpload() (string, bool) {
	name := strings.TrimSpace(e.Name)
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(e.ContentType)), "video/") {
		return "", false
	}
	if strings.HasPrefix(name, RenditionPrefix) {
		return "", false
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".m3u8", ".ts":
		return "", false
	}
	return IDFromObjectName(name)
}
