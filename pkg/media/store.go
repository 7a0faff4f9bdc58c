package media

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mehranbot/pkg/logger"
)

const defaultDownloadDir = "./downloads"

// Store owns the download root. Every pipeline run gets its own
// subdirectory so concurrent runs never see each other's files.
type Store struct {
	root string
	log  *slog.Logger
}

// NewStore resolves dir (expanding ~) and creates it when missing.
func NewStore(dir string, log *slog.Logger) (*Store, error) {
	root, err := resolveRoot(dir)
	if err != nil {
		return nil, err
	}

	return &Store{root: root, log: logger.Component(log, "media.store")}, nil
}

// Root returns the absolute download root.
func (s *Store) Root() string {
	return s.root
}

// Acquire allocates a fresh per-invocation directory.
func (s *Store) Acquire() (*Workspace, error) {
	dir := filepath.Join(s.root, uuid.NewString())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}

	return &Workspace{dir: dir, log: s.log}, nil
}

// Sweep removes per-invocation directories older than maxAge. They only
// exist when a previous process died between Acquire and Release.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read download root: %w", err)
	}

	now := time.Now()
	removed := 0
	for _, entry := range entries {
		// Never follow symlinks out of the root.
		if entry.Type()&os.ModeSymlink != 0 || !entry.IsDir() {
			continue
		}
		if _, err := uuid.Parse(entry.Name()); err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}

		path := filepath.Join(s.root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			s.log.Warn("Failed to remove stale download directory", "path", path, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.log.Info("Removed stale download directories", "count", removed)
	}
	return removed, nil
}

// Workspace is one invocation's scratch directory.
type Workspace struct {
	dir  string
	log  *slog.Logger
	once sync.Once
}

// Dir returns the absolute directory path.
func (w *Workspace) Dir() string {
	return w.dir
}

// Contains reports whether path resolves inside the workspace.
func (w *Workspace) Contains(path string) bool {
	return isWithin(w.dir, filepath.Clean(path))
}

// Release deletes the directory and everything in it. Safe to call more
// than once; failures are logged and never returned.
func (w *Workspace) Release() {
	if w == nil {
		return
	}

	w.once.Do(func() {
		if err := os.RemoveAll(w.dir); err != nil {
			w.log.Warn("Failed to remove download directory", "path", w.dir, "error", err)
			return
		}
		w.log.Debug("Released download directory", "path", w.dir)
	})
}

func resolveRoot(dir string) (string, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		trimmed = defaultDownloadDir
	}

	expanded, err := expandHome(trimmed)
	if err != nil {
		return "", err
	}

	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve absolute download path: %w", err)
	}

	cleanPath := filepath.Clean(absPath)
	if err := os.MkdirAll(cleanPath, 0o755); err != nil {
		return "", fmt.Errorf("create download directory: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(cleanPath)
	if err != nil {
		return "", fmt.Errorf("resolve download root: %w", err)
	}

	return filepath.Clean(resolved), nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func isWithin(root string, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." {
		return false
	}
	if strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}

	return !filepath.IsAbs(rel)
}
