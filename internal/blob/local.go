package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"vidpipe/internal/fileutil"
)

const localMetaDir = ".meta"

// Local stores objects as files below a root directory. Metadata is kept in
// JSON sidecars under root/.meta so that served files keep their headers.
type Local struct {
	root    string
	baseURL string
}

// NewLocal returns a Local store rooted at root. baseURL, when set, prefixes
// public URLs; otherwise file:// URLs are returned.
func NewLocal(root, baseURL string) (*Local, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("blob: local root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create root: %w", err)
	}
	return &Local{root: root, baseURL: strings.TrimSpace(baseURL)}, nil
}

// Path maps key to its file path, rejecting keys that escape the root.
func (l *Local) Path(key string) (string, error) {
	key = cleanKey(key)
	if key == "" {
		return "", errors.New("blob: empty key")
	}
	p := filepath.Join(l.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(l.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("blob: key %q escapes store root", key)
	}
	if rel == localMetaDir || strings.HasPrefix(rel, localMetaDir+string(filepath.Separator)) {
		return "", fmt.Errorf("blob: key %q is reserved", key)
	}
	return p, nil
}

func (l *Local) metaPath(key string) string {
	return filepath.Join(l.root, localMetaDir, filepath.FromSlash(cleanKey(key))+".json")
}

func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	p, err := l.Path(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

func (l *Local) Download(ctx context.Context, key, dst string) error {
	p, err := l.Path(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fileutil.CopyFile(p, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("blob: download %s: %w", key, err)
	}
	return nil
}

func (l *Local) Upload(ctx context.Context, src, key string, meta Metadata) error {
	p, err := l.Path(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fileutil.CopyFile(src, p); err != nil {
		return fmt.Errorf("blob: upload %s: %w", key, err)
	}
	data, err := json.Marshal(localMeta{ContentType: meta.ContentType, CacheControl: meta.CacheControl})
	if err != nil {
		return err
	}
	if _, err := fileutil.WriteFrom(bytes.NewReader(data), l.metaPath(key)); err != nil {
		return fmt.Errorf("blob: write metadata for %s: %w", key, err)
	}
	return nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	p, err := l.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("blob: delete %s: %w", key, err)
	}
	if err := os.Remove(l.metaPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("blob: delete metadata for %s: %w", key, err)
	}
	return nil
}

func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	prefix = cleanKey(prefix)
	var keys []string
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if rel == localMetaDir {
				return filepath.SkipDir
			}
			return nil
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("blob: list %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (l *Local) PublicURL(key string) string {
	if l.baseURL != "" {
		return joinURL(l.baseURL, key)
	}
	p, err := l.Path(key)
	if err != nil {
		return ""
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String()
}

// Stat returns the metadata recorded for key.
func (l *Local) Stat(key string) (Metadata, error) {
	p, err := l.Path(key)
	if err != nil {
		return Metadata{}, err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Metadata{}, err
	}
	data, err := os.ReadFile(l.metaPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Metadata{}, nil
		}
		return Metadata{}, err
	}
	var m localMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("blob: decode metadata for %s: %w", key, err)
	}
	return Metadata{ContentType: m.ContentType, CacheControl: m.CacheControl}, nil
}

type localMeta struct {
	ContentType  string `json:"contentType,omitempty"`
	CacheControl string `json:"cacheControl,omitempty"`
}
