package recipe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ExternalChange describes an edit of the recipe file made by something
// other than the store.
type ExternalChange struct {
	Path    string
	Removed bool
	// Err is set when the new content would not load.
	Err error
}

// Watcher reports out-of-band edits of the store's file. The store's
// in-memory state stays authoritative; the next Save overwrites the file.
type Watcher struct {
	store    *Store
	fsw      *fsnotify.Watcher
	onChange func(ExternalChange)
	logger   Logger
}

// NewWatcher watches the directory holding store's file. onChange may be nil.
func NewWatcher(store *Store, onChange func(ExternalChange)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	// The file is replaced by rename on every save, so watch its directory.
	if err := fsw.Add(filepath.Dir(store.Path())); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(store.Path()), err)
	}
	return &Watcher{
		store:    store,
		fsw:      fsw,
		onChange: onChange,
		logger:   store.logger,
	}, nil
}

// Run processes file events until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	target := filepath.Clean(w.store.Path())
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if change, ok := w.check(); ok {
				w.logger.Warn("recipe file changed outside the runtime",
					"path", change.Path,
					"removed", change.Removed,
					"error", change.Err,
				)
				if w.onChange != nil {
					w.onChange(change)
				}
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("recipe file watcher error", "error", err)
		}
	}
}

// check reads the file and reports whether it differs from what the store
// last wrote.
func (w *Watcher) check() (ExternalChange, bool) {
	path := w.store.Path()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ExternalChange{Path: path, Removed: true}, true
	}
	if err != nil {
		return ExternalChange{Path: path, Err: err}, true
	}
	if w.store.isOwnWrite(data) {
		return ExternalChange{}, false
	}

	change := ExternalChange{Path: path}
	state, err := Decode(data)
	if err == nil {
		err = state.Validate(w.store.types)
	}
	change.Err = err
	return change, true
}
