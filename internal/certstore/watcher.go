package certstore

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const pollInterval = 60 * time.Second

// StartWatcher reloads the store when the file changes on disk, so operator
// edits (removing a stale pin after a planned certificate rotation) take
// effect without a restart. fsnotify drives the reload; a slow mtime poll
// runs as well in case the platform watcher misses events or cannot start.
func (s *Store) StartWatcher(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	usePolling := false

	if err != nil {
		s.logger.Printf("certstore: fsnotify unavailable (%v), falling back to polling", err)
		usePolling = true
	} else {
		// Watch the directory, not the file: an atomic rename replaces the
		// inode and a file watch would go dead after the first write.
		if err := watcher.Add(filepath.Dir(s.path)); err != nil {
			s.logger.Printf("certstore: failed to watch %s (%v), falling back to polling", s.path, err)
			usePolling = true
			watcher.Close()
		}
	}

	if !usePolling {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Name != s.path {
						continue
					}
					if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
						// Editors write in bursts; let the file settle.
						time.Sleep(100 * time.Millisecond)
						s.reloadIfChanged()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					s.logger.Printf("certstore: watcher error: %v", err)
				}
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.reloadIfChanged()
			}
		}
	}()
}
