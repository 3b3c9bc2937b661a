package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/ctxguard/config"
	"github.com/timzifer/ctxguard/guard"
	"github.com/timzifer/ctxguard/internal/logging"
	"github.com/timzifer/ctxguard/internal/reload"
)

// reloader polls the configuration file and applies changes to a running pool.
type reloader struct {
	path    string
	manager *guard.Manager
	watcher *reload.Watcher
	logger  zerolog.Logger
}

func newReloader(path string, m *guard.Manager, logger zerolog.Logger) (*reloader, error) {
	watcher, err := reload.NewWatcher(path)
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	return &reloader{
		path:    path,
		manager: m,
		watcher: watcher,
		logger:  logger.With().Str("component", "reload").Logger(),
	}, nil
}

// Run checks for changes every interval until ctx is cancelled.
func (r *reloader) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.check(ctx); err != nil {
				r.logger.Error().Err(err).Msg("configuration reload failed")
			}
		}
	}
}

// check applies the configuration when a watched file changed. It reports
// whether a new configuration was applied.
func (r *reloader) check(ctx context.Context) (bool, error) {
	changes, err := r.watcher.Check()
	if err != nil {
		return false, fmt.Errorf("check configuration changes: %w", err)
	}
	if len(changes) == 0 {
		return false, nil
	}
	if err := r.watcher.Update(r.path); err != nil {
		r.logger.Error().Err(err).Msg("failed to update watcher state")
	}
	cfg, err := config.Load(r.path)
	if err != nil {
		return false, err
	}
	var applyErr error
	if err := r.manager.Do(ctx, func() { applyErr = r.manager.Reload(cfg) }); err != nil {
		return false, err
	}
	if applyErr != nil {
		return false, applyErr
	}
	if _, err := logging.ApplyLevel(cfg.Logging.Level); err != nil {
		return false, err
	}
	for _, file := range changes {
		r.manager.Telemetry().IncHotReload(file)
	}
	r.logger.Info().Strs("files", changes).Int("capacity", cfg.ContextCapacity()).Msg("configuration reloaded")
	return true, nil
}
