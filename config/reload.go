package config

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// =============================================================================
// 🔄 配置热重载
// =============================================================================

// ReloadCallback 配置生效后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// Reloader 监听配置文件，只把可热更新的字段应用到当前配置。
// 其余字段的变化会记录警告，需要重启才能生效。
type Reloader struct {
	loader  *Loader
	watcher *FileWatcher
	logger  *zap.Logger

	mu        sync.RWMutex
	current   *Config
	callbacks []ReloadCallback
}

// hotFields 可热更新字段的 yaml 路径
var hotFields = []string{
	"log.level",
	"server.rate_limit_rps",
	"server.rate_limit_burst",
}

// NewReloader creates a reloader for the given file, starting from current.
func NewReloader(path string, current *Config, logger *zap.Logger, opts ...WatcherOption) (*Reloader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := NewFileWatcher([]string{path}, append([]WatcherOption{WithWatcherLogger(logger)}, opts...)...)
	if err != nil {
		return nil, err
	}
	r := &Reloader{
		loader:  NewLoader().WithConfigPath(path),
		watcher: watcher,
		logger:  logger.With(zap.String("component", "config_reloader")),
		current: current,
	}
	watcher.OnChange(func(ev FileEvent) {
		if ev.Op == FileOpRemove {
			r.logger.Warn("config file removed, keeping current config", zap.String("path", ev.Path))
			return
		}
		if err := r.Reload(); err != nil {
			r.logger.Error("config reload failed", zap.String("path", ev.Path), zap.Error(err))
		}
	})
	return r, nil
}

// OnReload registers a callback run after every applied reload.
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Start begins watching the config file.
func (r *Reloader) Start(ctx context.Context) error {
	return r.watcher.Start(ctx)
}

// Stop stops watching.
func (r *Reloader) Stop() error {
	return r.watcher.Stop()
}

// Current returns the active configuration.
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Reload reads the file again and applies the hot-reloadable fields.
// An invalid file leaves the current configuration untouched.
func (r *Reloader) Reload() error {
	loaded, err := r.loader.Load()
	if err != nil {
		return err
	}
	if err := loaded.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	old := r.current
	next := *old
	next.Log.Level = loaded.Log.Level
	next.Server.RateLimitRPS = loaded.Server.RateLimitRPS
	next.Server.RateLimitBurst = loaded.Server.RateLimitBurst

	changed := HotChanges(old, &next)
	if len(changed) == 0 {
		r.mu.Unlock()
		r.warnColdChanges(old, loaded)
		return nil
	}
	r.current = &next
	callbacks := make([]ReloadCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	r.logger.Info("config reloaded", zap.Strings("changed", changed))
	r.warnColdChanges(&next, loaded)

	for _, cb := range callbacks {
		r.safeCall(cb, old, &next)
	}
	return nil
}

func (r *Reloader) safeCall(cb ReloadCallback, old, next *Config) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("reload callback panicked", zap.Any("panic", p))
		}
	}()
	cb(old, next)
}

func (r *Reloader) warnColdChanges(applied, loaded *Config) {
	if !reflect.DeepEqual(applied, loaded) {
		r.logger.Warn("config file contains changes that require a restart")
	}
}

// HotChanges lists the hot-reloadable fields that differ between a and b.
func HotChanges(a, b *Config) []string {
	var changed []string
	for _, path := range hotFields {
		if fmt.Sprint(hotValue(a, path)) != fmt.Sprint(hotValue(b, path)) {
			changed = append(changed, path)
		}
	}
	return changed
}

func hotValue(c *Config, path string) any {
	switch path {
	case "log.level":
		return c.Log.Level
	case "server.rate_limit_rps":
		return c.Server.RateLimitRPS
	case "server.rate_limit_burst":
		return c.Server.RateLimitBurst
	}
	return nil
}
