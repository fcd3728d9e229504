// Package scratch owns the private working directories used by worker runs.
//
// Every Acquire creates a fresh, uniquely named directory under the scratch
// root and holds an advisory lock on it until Release removes the tree. The
// janitor (CleanStale) reclaims directories abandoned by killed processes and
// never touches a directory whose lock is still held.
package scratch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"vidpipe/internal/logging"
)

const lockFileName = ".lock"

// Manager creates scratch directories below a root directory.
type Manager struct {
	root   string
	logger *slog.Logger
}

// NewManager returns a Manager rooted at root.
func NewManager(root string, logger *slog.Logger) (*Manager, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("scratch root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}
	return &Manager{root: root, logger: logging.NewComponentLogger(logger, "scratch")}, nil
}

// Root returns the scratch root directory.
func (m *Manager) Root() string { return m.root }

// Dir is one acquired scratch directory. Release is safe to call more than once.
type Dir struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger

	once sync.Once
	err  error
}

// Acquire creates a fresh directory named after key.
func (m *Manager) Acquire(key string) (*Dir, error) {
	name := SanitizeKey(key) + "-" + uuid.NewString()
	path := filepath.Join(m.root, name)
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}
	lock := flock.New(filepath.Join(path, lockFileName))
	locked, err := lock.TryLock()
	if err != nil || !locked {
		_ = os.RemoveAll(path)
		if err == nil {
			err = errors.New("lock already held")
		}
		return nil, fmt.Errorf("lock scratch directory %s: %w", path, err)
	}
	m.logger.Debug("scratch directory acquired", logging.String("path", path))
	return &Dir{path: path, lock: lock, logger: m.logger}, nil
}

// Path returns the directory path.
func (d *Dir) Path() string { return d.path }

// Join returns a path inside the directory.
func (d *Dir) Join(elem ...string) string {
	return filepath.Join(append([]string{d.path}, elem...)...)
}

// Release unlocks and recursively removes the directory.
func (d *Dir) Release() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		if err := d.lock.Unlock(); err != nil {
			d.logger.Debug("scratch unlock failed", logging.String("path", d.path), logging.Error(err))
		}
		if err := os.RemoveAll(d.path); err != nil {
			d.err = fmt.Errorf("remove scratch directory: %w", err)
			logging.WarnWithContext(d.logger, "scratch directory not removed", "scratch_cleanup_failed",
				logging.String("path", d.path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check scratch_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed until the janitor runs"),
			)
			return
		}
		d.logger.Debug("scratch directory released", logging.String("path", d.path))
	})
	return d.err
}

// SanitizeKey reduces an object name to a safe directory name prefix.
func SanitizeKey(key string) string {
	key = filepath.Base(strings.TrimSpace(key))
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "run"
	}
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}
