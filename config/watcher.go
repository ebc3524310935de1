// Package config provides configuration watching and hot-reload functionality
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is the delay between the last file event and the reload
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches configuration files for changes and provides hot-reload functionality
type Watcher struct {
	// Configuration file path
	configFile string

	// Configuration loader
	loader *Loader

	// Current configuration
	config   *Config
	configMu sync.RWMutex

	// File system watcher
	fsWatcher *fsnotify.Watcher
	debounce  time.Duration

	// Event callbacks
	callbacks   []ConfigChangeCallback
	callbacksMu sync.RWMutex

	log zerolog.Logger

	// Context for cancellation
	ctx    context.Context
	cancel context.CancelFunc

	// Wait group for goroutines
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// ConfigChangeCallback is called when configuration changes
type ConfigChangeCallback func(oldConfig, newConfig *Config)

// NewWatcher creates a new configuration watcher and loads the initial
// configuration from configFile.
func NewWatcher(configFile string, loader *Loader, logger zerolog.Logger) (*Watcher, error) {
	if _, err := FormatFromPath(configFile); err != nil {
		return nil, err
	}

	// Watch the absolute path so event names compare equal
	abs, err := filepath.Abs(configFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigWatchError, err)
	}

	config, err := loader.LoadFromFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create file system watcher: %v", ErrConfigWatchError, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		configFile: abs,
		loader:     loader,
		config:     config,
		fsWatcher:  fsWatcher,
		debounce:   DefaultDebounce,
		log:        logger.With().Str("component", "config-watcher").Str("file", abs).Logger(),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// SetDebounce changes the reload delay. It must be called before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start starts watching the configuration file. The parent directory is
// watched so that editors replacing the file are noticed.
func (w *Watcher) Start() error {
	if err := w.fsWatcher.Add(filepath.Dir(w.configFile)); err != nil {
		return fmt.Errorf("%w: failed to watch config file: %v", ErrConfigWatchError, err)
	}

	w.wg.Add(1)
	go w.watchLoop()

	return nil
}

// Stop stops watching the configuration file
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		w.cancel()
		err = w.fsWatcher.Close()
		w.wg.Wait()
	})
	return err
}

// Run starts the watcher and blocks until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return w.Stop()
}

// GetConfig returns the current configuration
func (w *Watcher) GetConfig() *Config {
	w.configMu.RLock()
	defer w.configMu.RUnlock()
	return w.config
}

// OnConfigChange registers a callback for configuration changes
func (w *Watcher) OnConfigChange(callback ConfigChangeCallback) {
	w.callbacksMu.Lock()
	defer w.callbacksMu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Reload manually reloads the configuration
func (w *Watcher) Reload() error {
	return w.reloadConfig()
}

// watchLoop watches for file system events
func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	// Debounce timer to avoid multiple reloads for rapid file changes
	var debounceTimer *time.Timer

	for {
		select {
		case <-w.ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.configFile {
				continue
			}

			switch {
			case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(w.debounce, func() {
					if err := w.reloadConfig(); err != nil {
						w.log.Error().Err(err).Msg("failed to reload config")
					}
				})

			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				w.log.Warn().Msg("config file was removed or renamed")
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("config watcher error")
		}
	}
}

// reloadConfig reloads the configuration from file
func (w *Watcher) reloadConfig() error {
	newConfig, err := w.loader.LoadFromFile(w.configFile)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}

	w.configMu.Lock()
	oldConfig := w.config
	w.config = newConfig
	w.configMu.Unlock()

	w.notifyCallbacks(oldConfig, newConfig)

	w.log.Info().Msg("configuration reloaded")
	return nil
}

// notifyCallbacks notifies all registered callbacks of configuration changes
func (w *Watcher) notifyCallbacks(oldConfig, newConfig *Config) {
	w.callbacksMu.RLock()
	callbacks := make([]ConfigChangeCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.callbacksMu.RUnlock()

	for _, callback := range callbacks {
		func(cb ConfigChangeCallback) {
			defer func() {
				if r := recover(); r != nil {
					w.log.Error().Interface("panic", r).Msg("config change callback panicked")
				}
			}()
			cb(oldConfig, newConfig)
		}(callback)
	}
}

// Provider represents a configuration provider interface
type Provider interface {
	// Load loads configuration from the provider
	Load() (*Config, error)

	// Watch watches for configuration changes until ctx is done
	Watch(ctx context.Context, callback ConfigChangeCallback) error

	// Close closes the provider
	Close() error
}

// FileProvider provides configuration from files
type FileProvider struct {
	loader  *Loader
	watcher *Watcher
}

// NewFileProvider creates a new file-based configuration provider. Without
// a file the provider auto-loads and cannot watch.
func NewFileProvider(configFile string, logger zerolog.Logger) (*FileProvider, error) {
	loader := NewLoader()

	provider := &FileProvider{
		loader: loader,
	}

	if configFile != "" {
		watcher, err := NewWatcher(configFile, loader, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create config watcher: %w", err)
		}
		provider.watcher = watcher
	}

	return provider, nil
}

// Load loads configuration
func (fp *FileProvider) Load() (*Config, error) {
	if fp.watcher != nil {
		return fp.watcher.GetConfig(), nil
	}
	return fp.loader.AutoLoad()
}

// Watcher returns the file watcher, or nil without a config file
func (fp *FileProvider) Watcher() *Watcher {
	return fp.watcher
}

// Watch registers callback and watches the file until ctx is done.
// Without a config file it just waits for ctx.
func (fp *FileProvider) Watch(ctx context.Context, callback ConfigChangeCallback) error {
	if fp.watcher == nil {
		<-ctx.Done()
		return nil
	}
	fp.watcher.OnConfigChange(callback)
	return fp.watcher.Run(ctx)
}

// Close closes the provider
func (fp *FileProvider) Close() error {
	if fp.watcher != nil {
		return fp.watcher.Stop()
	}
	return nil
}
