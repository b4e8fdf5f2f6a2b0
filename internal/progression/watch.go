package progression

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the table whenever another process replaces the backing file.
// It blocks until ctx is done.
func (t *Table) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create table watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	// Watch the directory: writes land via rename, which replaces the watched inode.
	target := filepath.Clean(t.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || (!event.Has(fsnotify.Create) && !event.Has(fsnotify.Write)) {
				continue
			}
			changed, err := t.Reload()
			if err != nil {
				t.logger.Warn("failed to reload progression table", "path", t.path, "error", err)
				continue
			}
			if changed {
				t.logger.Debug("progression table reloaded", "path", t.path)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.logger.Warn("progression table watcher error", "error", err)
		}
	}
}
