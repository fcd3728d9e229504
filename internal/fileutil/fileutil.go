// Package fileutil holds the file copy helpers used when moving objects between
// scratch directories and blob stores.
package fileutil

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CopyFile copies src to dst with size and SHA256 verification. dst is written
// through a temporary sibling and renamed into place, so readers never see a
// partial file. Parent directories are created as needed.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	srcHasher := sha256.New()
	written, dstSum, err := writeAtomic(io.TeeReader(in, srcHasher), dst)
	if err != nil {
		return err
	}
	if written != info.Size() {
		_ = os.Remove(dst)
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", info.Size(), written)
	}
	if !bytes.Equal(srcHasher.Sum(nil), dstSum) {
		_ = os.Remove(dst)
		return fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}
	return nil
}

// WriteFrom streams r into dst atomically and returns the number of bytes written.
func WriteFrom(r io.Reader, dst string) (int64, error) {
	written, _, err := writeAtomic(r, dst)
	return written, err
}

func writeAtomic(r io.Reader, dst string) (int64, []byte, error) {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, nil, fmt.Errorf("create parent directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return 0, nil, err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		return written, nil, err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return written, nil, err
	}
	if err := tmp.Close(); err != nil {
		return written, nil, err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return written, nil, err
	}
	return written, hasher.Sum(nil), nil
}
