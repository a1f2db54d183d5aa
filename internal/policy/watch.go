package policy

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 200 * time.Millisecond

type WatchOption func(*watchConfig)

type watchConfig struct {
	debounce time.Duration
	onReload func([]LoadedUnit)
}

// WithDebounce coalesces bursts of file events into one reload.
func WithDebounce(d time.Duration) WatchOption {
	return func(c *watchConfig) { c.debounce = d }
}

// OnReload is called after every successful reload.
func OnReload(fn func([]LoadedUnit)) WatchOption {
	return func(c *watchConfig) { c.onReload = fn }
}

// ReloadDir loads dir and swaps it into the registry.
func ReloadDir(dir string, reg *Registry) ([]LoadedUnit, error) {
	loaded, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	if err := reg.Reload(Units(loaded)); err != nil {
		return nil, err
	}
	return loaded, nil
}

// Watch reloads the registry from dir whenever a file in it changes. It blocks
// until ctx is done. A failed reload is logged and the previous units stay
// active.
func Watch(ctx context.Context, dir string, reg *Registry, logger *zap.Logger, opts ...WatchOption) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("units")
	cfg := watchConfig{debounce: defaultDebounce}
	for _, opt := range opts {
		opt(&cfg)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(dir); err != nil {
		return err
	}

	reload := func() {
		loaded, err := ReloadDir(dir, reg)
		if err != nil {
			logger.Warn("unit reload failed", zap.String("dir", dir), zap.Error(err))
			return
		}
		logger.Info("units reloaded", zap.String("dir", dir), zap.Int("count", len(loaded)))
		if cfg.onReload != nil {
			cfg.onReload(loaded)
		}
	}

	timer := time.NewTimer(cfg.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if _, err := FormatFor(ev.Name); err != nil {
				continue
			}
			timer.Reset(cfg.debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("unit watcher error", zap.Error(err))
		case <-timer.C:
			reload()
		}
	}
}
