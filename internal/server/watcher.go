package server

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// debounceDelay coalesces editor write bursts into one reload.
const debounceDelay = 100 * time.Millisecond

// WatchConfig monitors the config file and calls onChange after each settled
// modification. Editors replace files via rename, so the parent directory is
// watched rather than the file itself. Runs until ctx is cancelled.
func WatchConfig(ctx context.Context, cfg *Config, log zerolog.Logger, onChange func()) error {
	if cfg.Path() == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(cfg.Path())
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(cfg.Path())
	log.Info().Str("path", target).Msg("watching config")

	var debounce *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			if err := cfg.Reload(); err != nil {
				log.Warn().Err(err).Msg("config reload failed")
				continue
			}
			log.Info().Msg("config reloaded")
			if onChange != nil {
				onChange()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("config watcher error")
		}
	}
}
