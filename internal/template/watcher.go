package template

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the template at path whenever it changes on disk and hands
// the result to onChange. It blocks until ctx is cancelled. Editors often
// replace files instead of writing them, so the parent directory is watched.
func Watch(ctx context.Context, path string, onChange func(Template), logger Logger) error {
	if onChange == nil {
		return fmt.Errorf("template: watch %s: change handler is required", path)
	}
	if logger == nil {
		logger = nopLogger{}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("template: watch %s: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("template: create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("template: watch %s: %w", filepath.Dir(abs), err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			t, err := LoadFile(abs)
			if err != nil {
				logger.Printf("template: reload %s: %v", abs, err)
				continue
			}
			onChange(t)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Printf("template: watcher error: %v", err)
		}
	}
}
