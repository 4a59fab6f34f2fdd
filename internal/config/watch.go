package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config whenever the file at path changes and hands the
// result to onChange. Events are debounced because editors typically emit a
// burst of writes per save. Returns once ctx is cancelled. A path that cannot
// be watched (e.g. the directory does not exist) is reported and Watch exits.
func Watch(ctx context.Context, path string, onChange func(*Config)) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("config watch unavailable", "error", err)
		return
	}
	defer w.Close()

	// Watch the directory: most editors replace the file on save, which drops
	// a watch registered on the file itself.
	if err := w.Add(filepath.Dir(path)); err != nil {
		slog.Error("config watch unavailable", "path", path, "error", err)
		return
	}

	base := filepath.Base(path)
	var pending time.Time
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.Now()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			slog.Warn("config watch error", "error", err)
		case <-ticker.C:
			if pending.IsZero() || time.Since(pending) < 300*time.Millisecond {
				continue
			}
			pending = time.Time{}

			cfg, err := Load(path)
			if err != nil {
				slog.Warn("config reload skipped", "path", path, "error", err)
				continue
			}
			slog.Info("config reloaded", "path", path)
			onChange(cfg)
		}
	}
}
