package registry

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// Watch starts an fsnotify watcher on the registry directory and calls
// Refresh whenever a write/create/remove/rename event occurs in that
// directory. The watch loop runs in its own goroutine and Watch returns
// immediately; the loop stops once ctx is cancelled.
// Refresh errors are delivered on the returned channel rather than
// terminating the watch loop, mirroring the teacher's hot-reload system
// (engine/internal/runtime.HotReloadSystem.WatchConfigChanges).
func (r *Registry) Watch(ctx context.Context) (<-chan error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch dir %s: %w", r.dir, err)
	}

	errs := make(chan error, 8)
	go func() {
		defer close(errs)
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if loadErrs, err := r.Refresh(); err != nil {
					errs <- err
				} else {
					for _, le := range loadErrs {
						errs <- le
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				errs <- err
			case <-ctx.Done():
				return
			}
		}
	}()
	return errs, nil
}
