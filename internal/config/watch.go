// Package config — watch.go
//
// Config file hot-reload.
//
// Watch monitors the config file with fsnotify and invokes the callback
// with each successfully loaded and validated config. Invalid or unreadable
// revisions are reported through onErr and otherwise ignored; the running
// config is never replaced with a bad one.
//
// Editors that write via rename (vim, sed -i) replace the inode, so the
// watcher follows the containing directory and filters events by path; a
// Write, Create or Rename of the path triggers a reload.

package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch blocks until ctx is cancelled, invoking onLoad for every valid
// config revision and onErr for every failed reload.
func Watch(ctx context.Context, path string, onLoad func(*Config), onErr func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config.Watch: %w", err)
	}
	defer watcher.Close() //nolint:errcheck

	// Watch the directory, not the file: rename-based writers briefly
	// remove the path.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config.Watch: add %q: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				onErr(err)
				continue
			}
			onLoad(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			onErr(err)
		}
	}
}
