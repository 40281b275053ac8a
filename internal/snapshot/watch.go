package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/variantlabs/decider/internal/logging"
	"github.com/variantlabs/decider/internal/project"
	"github.com/variantlabs/decider/internal/telemetry"
)

// BuildFunc turns raw datafile bytes into a configuration index.
type BuildFunc func(raw []byte) (*project.Config, error)

// Watcher reloads the datafile into the holder whenever the file changes on
// disk. Editors and config-management tools often replace files rather than
// writing in place, so the parent directory is watched and events are
// debounced briefly before reading.
type Watcher struct {
	path   string
	holder *Holder
	build  BuildFunc
	logger logging.Logger
}

// NewWatcher prepares a watcher for the datafile at path.
func NewWatcher(path string, holder *Holder, build BuildFunc, logger logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Watcher{path: path, holder: holder, build: build, logger: logger}
}

// Run blocks watching for changes until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create datafile watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Give the writer a moment to finish; atomic renames land
			// complete but plain writes may still be in flight.
			time.Sleep(100 * time.Millisecond)
			w.reload()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error(fmt.Sprintf("datafile watcher error: %s", err))
		}
	}
}

// reload reads, fingerprints, and rebuilds the index. All failures are
// logged and the previous snapshot stays active.
func (w *Watcher) reload() {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Error(fmt.Sprintf("reload datafile: %s", err))
		return
	}
	fp := Fingerprint(raw)
	if fp == w.holder.Fingerprint() {
		w.logger.Debug("datafile unchanged, skipping reload")
		return
	}
	cfg, err := w.build(raw)
	if err != nil {
		w.logger.Error(fmt.Sprintf("rebuild config from datafile: %s", err))
		return
	}
	w.holder.Update(cfg, fp)
	telemetry.SnapshotReloads.Inc()
	w.logger.Info(fmt.Sprintf("datafile reloaded, revision %s", cfg.Revision()))
}
