package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
	"github.com/JakeFAU/campus-crawler/internal/logging"
)

// FileStore keeps the checkpoint as an indented JSON document.
type FileStore struct {
	path   string
	logger *zap.Logger
}

// NewFileStore prepares a store at path, creating its directory.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("checkpoint path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint dir for %s: %w", path, err)
	}
	return &FileStore{path: path, logger: logging.OrNop(logger)}, nil
}

// Path returns the checkpoint file location.
func (s *FileStore) Path() string {
	return s.path
}

// Save writes state to a temp file in the same directory, syncs it and
// renames it over the checkpoint while holding an exclusive lock.
func (s *FileStore) Save(ctx context.Context, state State) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: context done: %w", crawler.ErrCheckpoint, err)
	}
	state.Version = Version
	payload, err := json.MarshalIndent(state.normalize(), "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %w", crawler.ErrCheckpoint, err)
	}

	unlock, err := lockFile(s.path + ".lock")
	if err != nil {
		return fmt.Errorf("%w: %w", crawler.ErrCheckpoint, err)
	}
	defer unlock()

	if err := writeAtomic(s.path, payload); err != nil {
		return fmt.Errorf("%w: %w", crawler.ErrCheckpoint, err)
	}
	return nil
}

func writeAtomic(path string, payload []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmpName, err)
	}
	syncDir(dir)
	return nil
}

// syncDir flushes the rename to disk. Not every platform supports fsync on a
// directory, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir) //nolint:gosec // dir is derived from the configured checkpoint path
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// Load reads the checkpoint. Missing, unreadable or corrupt files degrade to
// an empty state.
func (s *FileStore) Load(ctx context.Context) (State, error) {
	if err := ctx.Err(); err != nil {
		return State{}, fmt.Errorf("%w: context done: %w", crawler.ErrCheckpoint, err)
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("no checkpoint found, starting fresh", zap.String("path", s.path))
		return NewState(), nil
	}
	if err != nil {
		s.logger.Error("checkpoint unreadable, starting fresh", zap.String("path", s.path), zap.Error(err))
		return NewState(), nil
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Error("checkpoint corrupt, starting fresh", zap.String("path", s.path), zap.Error(err))
		return NewState(), nil
	}
	if state.Version != Version {
		s.logger.Warn("checkpoint version mismatch, starting fresh",
			zap.String("path", s.path),
			zap.Int("version", state.Version),
			zap.Int("want", Version),
		)
		return NewState(), nil
	}
	return state.normalize(), nil
}
