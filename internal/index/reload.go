package index

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"askdesk/internal/logging"
)

// WatchPointer reloads the store whenever the CURRENT pointer under
// root changes, which is how an offline rebuild reaches a running
// service. A failed reload keeps the previous snapshot serving.
// Blocks until ctx is cancelled; run it on its own goroutine.
func WatchPointer(ctx context.Context, root string, store *Store) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: the pointer swap is a rename, and renames
	// replace the inode the pointer file had.
	if err := watcher.Add(root); err != nil {
		return err
	}

	log := logging.Get(logging.CategoryIndex)
	pointer := filepath.Join(root, pointerFile)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != pointer {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}

			snap, err := LoadSnapshot(root)
			if err != nil {
				log.Error("index reload failed, keeping current snapshot: %v", err)
				continue
			}
			store.Swap(snap)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("index watcher error: %v", err)
		}
	}
}
