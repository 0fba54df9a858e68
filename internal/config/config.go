// Package config loads typed configuration from defaults, an optional file
// and STREAMLOOP_ environment variables, and reloads it when the file
// changes.
package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. STREAMLOOP_PROVIDER_MODEL.
const EnvPrefix = "STREAMLOOP"

const reloadDebounce = 100 * time.Millisecond

// Config holds the current value of T.
type Config[T any] struct {
	v        *viper.Viper
	value    *T
	mu       sync.RWMutex
	watchers []func(old, new T)
	onError  func(error)
}

// Option configures a Config.
type Option[T any] func(*Config[T])

// WithDefaults sets default values keyed by dotted path.
func WithDefaults[T any](defaults map[string]any) Option[T] {
	return func(c *Config[T]) {
		for k, v := range defaults {
			c.v.SetDefault(k, v)
		}
	}
}

// WithEnv binds environment variables under prefix. Dots in keys become
// underscores.
func WithEnv[T any](prefix string) Option[T] {
	return func(c *Config[T]) {
		c.v.SetEnvPrefix(prefix)
		c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		c.v.AutomaticEnv()
	}
}

// WithReloadErrorHandler receives errors from background reloads.
func WithReloadErrorHandler[T any](fn func(error)) Option[T] {
	return func(c *Config[T]) {
		c.onError = fn
	}
}

// Load reads the configuration. An empty path skips the file and disables
// watching; otherwise the file must exist and is watched for changes.
func Load[T any](path string, opts ...Option[T]) (*Config[T], error) {
	v := viper.New()
	c := &Config[T]{v: v, onError: func(error) {}}
	for _, opt := range opts {
		opt(c)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var val T
	if err := v.Unmarshal(&val); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.value = &val

	if path != "" {
		c.watch()
	}
	return c, nil
}

// Get returns a deep copy of the current value.
func (c *Config[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return deepCopy(*c.value)
}

// OnChange registers a callback run after a reload changed the value.
func (c *Config[T]) OnChange(callback func(old, new T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, callback)
}

// Changed reports whether two values differ.
func Changed[T any](old, new T) bool {
	return !reflect.DeepEqual(old, new)
}

func deepCopy[T any](src T) T {
	var dst T
	data, _ := json.Marshal(src)
	_ = json.Unmarshal(data, &dst)
	return dst
}

func (c *Config[T]) watch() {
	var (
		debounceTimer *time.Timer
		debounceMu    sync.Mutex
	)

	c.v.OnConfigChange(func(_ fsnotify.Event) {
		debounceMu.Lock()
		defer debounceMu.Unlock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(reloadDebounce, c.handleConfigChange)
	})
	c.v.WatchConfig()
}

func (c *Config[T]) handleConfigChange() {
	old := c.Get()

	updated, watchers, err := c.reload()
	if err != nil {
		c.onError(err)
		return
	}
	if !Changed(old, updated) {
		return
	}

	for _, cb := range watchers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.onError(fmt.Errorf("config change callback panicked: %v", r))
				}
			}()
			cb(old, updated)
		}()
	}
}

func (c *Config[T]) reload() (T, []func(old, new T), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	if err := c.v.ReadInConfig(); err != nil {
		return zero, nil, fmt.Errorf("reload config: %w", err)
	}
	var val T
	if err := c.v.Unmarshal(&val); err != nil {
		return zero, nil, fmt.Errorf("decode config: %w", err)
	}
	c.value = &val

	watchers := make([]func(old, new T), len(c.watchers))
	copy(watchers, c.watchers)
	return deepCopy(val), watchers, nil
}
