package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/codeturtle/reviewd/internal/chunk"
	"github.com/codeturtle/reviewd/internal/logging"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// defaultDebounce is how long the watcher waits after the last event
// before re-syncing, so editor save bursts collapse into one run.
const defaultDebounce = 500 * time.Millisecond

// Watcher re-synchronizes the index when files under the repository
// change. Events are debounced and runs are serialized: a change
// arriving mid-run schedules exactly one follow-up run.
type Watcher struct {
	sync     *Synchronizer
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   *logging.Logger

	// pending accumulates changed and removed paths between runs,
	// relative to the repo root.
	pending map[string]fsnotify.Op
}

// NewWatcher creates a watcher driving the given synchronizer.
func NewWatcher(sync *Synchronizer, logger *logging.Logger) (*Watcher, error) {
	if sync == nil {
		return nil, fmt.Errorf("%w: synchronizer required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Watcher{
		sync:     sync,
		watcher:  fsw,
		debounce: defaultDebounce,
		logger:   logger.Named("watch"),
		pending:  make(map[string]fsnotify.Op),
	}, nil
}

// Run watches the repository tree until ctx is canceled. It blocks.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	if err := w.addTree(w.sync.config.RepoPath); err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	w.logger.Info(ctx, "watching repository", zap.String("path", w.sync.config.RepoPath))

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.record(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "watch error", zap.Error(err))

		case <-fire:
			fire = nil
			w.flush(ctx)
		}
	}
}

// record classifies an event and queues it for the next run. Returns
// false when the event is irrelevant to the index.
func (w *Watcher) record(event fsnotify.Event) bool {
	rel, err := filepath.Rel(w.sync.config.RepoPath, event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}

	// New directories must be added to the watch set.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !hiddenPath(rel) {
				_ = w.addTree(event.Name)
			}
			return false
		}
	}

	if !chunk.Supported(rel) || hiddenPath(rel) {
		return false
	}
	if ignoredFilenames[filepath.Base(rel)] {
		return false
	}

	w.pending[rel] |= event.Op
	return true
}

// flush runs one synchronization over the accumulated changes.
func (w *Watcher) flush(ctx context.Context) {
	var upserts, deletes []string
	for path, op := range w.pending {
		if op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			deletes = append(deletes, path)
		}
		if op&(fsnotify.Create|fsnotify.Write) != 0 {
			if _, err := os.Stat(filepath.Join(w.sync.config.RepoPath, path)); err == nil {
				upserts = append(upserts, path)
			}
		}
	}
	w.pending = make(map[string]fsnotify.Op)

	if len(upserts) == 0 && len(deletes) == 0 {
		return
	}

	result, err := w.sync.Synchronize(ctx, upserts, deletes)
	if err != nil {
		w.logger.Error(ctx, "re-sync failed", zap.Error(err))
		return
	}
	w.logger.Info(ctx, "re-synced after changes",
		zap.Int("upserts", len(upserts)),
		zap.Int("deletes", len(deletes)),
		zap.Int("chunks", result.ChunksUpserted),
	)
}

// addTree registers path and all non-hidden subdirectories.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// hiddenPath reports whether any segment of path is dot-prefixed.
func hiddenPath(path string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(path), "/") {
		if len(seg) > 1 && strings.HasPrefix(seg, ".") && seg != ".." {
			return true
		}
	}
	return false
}
