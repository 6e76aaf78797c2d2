package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Loader owns a viper instance and the last good Config decoded from it.
type Loader struct {
	v *viper.Viper

	mu       sync.RWMutex
	current  *Config
	handlers []func(*Config)
}

func NewLoader(path string, optional bool) (*Loader, error) {
	v := newViper(path)
	if err := readConfig(v, optional); err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &Loader{v: v, current: cfg}, nil
}

// Config returns the active configuration. Callers must not mutate it.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers fn to run after every successful reload.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	l.handlers = append(l.handlers, fn)
	l.mu.Unlock()
}

// Watch starts viper's fsnotify watcher. An edit that fails validation is logged and
// the previous configuration stays active.
func (l *Loader) Watch(logger *zap.Logger) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.reload(logger, e.Name, e.Op.String())
	})
	l.v.WatchConfig()
}

func (l *Loader) reload(logger *zap.Logger, file, op string) {
	cfg, err := decode(l.v)
	if err != nil {
		logger.Warn("Ignoring invalid configuration change", zap.String("file", file), zap.Error(err))
		return
	}
	l.mu.Lock()
	l.current = cfg
	handlers := append([]func(*Config){}, l.handlers...)
	l.mu.Unlock()

	logger.Info("Configuration reloaded", zap.String("file", file), zap.String("op", op))
	for _, h := range handlers {
		h(cfg)
	}
}
