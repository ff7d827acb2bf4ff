package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/marshallshelly/inflatable/pkg/cache"
	"github.com/sirupsen/logrus"
)

// Reconfigurable is implemented by components that accept new options at
// run time, such as *cache.Cache.
type Reconfigurable interface {
	Reconfigure(opts cache.Options) error
}

// Watcher reloads a configuration file when it changes.
type Watcher struct {
	path string
	log  logrus.FieldLogger
	w    *fsnotify.Watcher
}

// NewWatcher watches the directory of path, so that editors replacing the
// file by rename are noticed too.
func NewWatcher(path string, log logrus.FieldLogger) (*Watcher, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}
	return &Watcher{path: abs, log: log.WithField("config", abs), w: w}, nil
}

// Run calls onChange with every valid reload until ctx is done. Invalid
// files are logged and skipped; the previous configuration stays in effect.
func (w *Watcher) Run(ctx context.Context, onChange func(*Config)) error {
	defer w.w.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.w.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("config watch error")
		case ev, ok := <-w.w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.log.WithError(err).Warn("ignoring invalid config")
				continue
			}
			w.log.Info("config reloaded")
			onChange(cfg)
		}
	}
}

// Apply returns a change handler that pushes the cache options to target.
func Apply(target Reconfigurable, log logrus.FieldLogger) func(*Config) {
	return func(cfg *Config) {
		if err := target.Reconfigure(cfg.Options); err != nil {
			log.WithError(err).Warn("failed to apply cache options")
		}
	}
}
