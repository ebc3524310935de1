package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create test file %s: %v", name, err)
	}
	return path
}

// TestDefaultConfig tests that the defaults validate
func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if err := config.Validate(); err != nil {
		t.Fatalf("Default config validation failed: %v", err)
	}
	if !config.Kernel.DetectCycles {
		t.Error("Expected cycle detection on by default")
	}
	if len(config.Kernel.Builtins) != 2 {
		t.Errorf("Expected 2 builtins, got %v", config.Kernel.Builtins)
	}

	v, err := config.SemVer()
	if err != nil {
		t.Fatalf("Failed to parse version: %v", err)
	}
	if v.Major() != 1 {
		t.Errorf("Expected major version 1, got %d", v.Major())
	}
}

// TestConfigValidation tests configuration validation
func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr error
	}{
		{
			name:   "valid config",
			modify: func(c *Config) {},
		},
		{
			name:    "invalid app name",
			modify:  func(c *Config) { c.App.Name = "" },
			wantErr: ErrInvalidAppName,
		},
		{
			name:    "invalid version",
			modify:  func(c *Config) { c.App.Version = "one" },
			wantErr: ErrInvalidVersion,
		},
		{
			name:    "invalid environment",
			modify:  func(c *Config) { c.App.Environment = "moon" },
			wantErr: ErrInvalidEnvironment,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: ErrInvalidLogLevel,
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: ErrInvalidLogFormat,
		},
		{
			name:    "negative queue capacity",
			modify:  func(c *Config) { c.Kernel.QueueCapacity = -1 },
			wantErr: ErrInvalidQueueCapacity,
		},
		{
			name:    "negative timeout",
			modify:  func(c *Config) { c.Kernel.CallTimeout = -time.Second },
			wantErr: ErrInvalidTimeout,
		},
		{
			name:    "duplicate builtin",
			modify:  func(c *Config) { c.Kernel.Builtins = []string{"phantom_net", "phantom_net"} },
			wantErr: ErrInvalidBuiltin,
		},
		{
			name: "phantom without phantom_net",
			modify: func(c *Config) {
				c.Kernel.Phantom = true
				c.Kernel.Builtins = []string{"temp_net"}
			},
			wantErr: ErrInvalidBuiltin,
		},
		{
			name:   "phantom with phantom_net",
			modify: func(c *Config) { c.Kernel.Phantom = true },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			err := config.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Config.Validate() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Config.Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestConfigClone tests that clones do not share maps or slices
func TestConfigClone(t *testing.T) {
	config := DefaultConfig()
	config.Log.Fields = map[string]string{"region": "eu"}

	clone := config.Clone()
	clone.Log.Fields["region"] = "us"
	clone.Kernel.Builtins[0] = "other"

	if config.Log.Fields["region"] != "eu" {
		t.Error("Clone shares log fields with the source")
	}
	if config.Kernel.Builtins[0] != "phantom_net" {
		t.Error("Clone shares builtins with the source")
	}
}

// TestLoader tests configuration loading
func TestLoader(t *testing.T) {
	loader := NewLoader()

	yamlContent := `
app:
  name: test-app
  version: "1.2.0"
  environment: development

log:
  level: debug
  format: text

kernel:
  phantom: true
  call_timeout: 5s
`
	yamlFile := writeFile(t, t.TempDir(), "test-config.yaml", yamlContent)

	config, err := loader.LoadFromFile(yamlFile)
	if err != nil {
		t.Fatalf("Failed to load YAML config: %v", err)
	}

	if config.App.Name != "test-app" {
		t.Errorf("Expected app name 'test-app', got '%s'", config.App.Name)
	}
	if !config.Kernel.Phantom {
		t.Error("Expected phantom enabled")
	}
	if config.Kernel.CallTimeout != 5*time.Second {
		t.Errorf("Expected call timeout 5s, got %v", config.Kernel.CallTimeout)
	}

	// Fields missing from the file keep their defaults
	if !config.Kernel.DetectCycles {
		t.Error("Expected cycle detection to keep its default")
	}
	if config.Kernel.ShutdownTimeout != 10*time.Second {
		t.Errorf("Expected default shutdown timeout, got %v", config.Kernel.ShutdownTimeout)
	}
}

// TestLoaderJSON tests JSON configuration loading
func TestLoaderJSON(t *testing.T) {
	loader := NewLoader()

	jsonContent := `{
	"app": {
		"name": "json-test-app",
		"version": "2.0.0",
		"environment": "production"
	},
	"log": {
		"level": "debug",
		"format": "json",
		"output": "stderr"
	},
	"kernel": {
		"detect_cycles": false,
		"queue_capacity": 256
	}
}`
	jsonFile := writeFile(t, t.TempDir(), "test-config.json", jsonContent)

	config, err := loader.LoadFromFile(jsonFile)
	if err != nil {
		t.Fatalf("Failed to load JSON config: %v", err)
	}

	if config.App.Environment != EnvProduction {
		t.Errorf("Expected env production, got %v", config.App.Environment)
	}
	if config.Log.Level != LogLevelDebug {
		t.Errorf("Expected log level debug, got %v", config.Log.Level)
	}
	if config.Kernel.DetectCycles {
		t.Error("Expected cycle detection disabled")
	}
	if config.Kernel.QueueCapacity != 256 {
		t.Errorf("Expected queue capacity 256, got %d", config.Kernel.QueueCapacity)
	}
}

// TestLoaderTOML tests TOML configuration loading
func TestLoaderTOML(t *testing.T) {
	loader := NewLoader()

	tomlContent := `
[app]
name = "toml-test-app"
version = "3.1.4"
environment = "staging"

[log]
level = "warn"
format = "json"

[log.fields]
region = "eu-west"

[kernel]
builtins = ["phantom_net"]
shutdown_timeout = "2s"
`
	tomlFile := writeFile(t, t.TempDir(), "kes.toml", tomlContent)

	config, err := loader.LoadFromFile(tomlFile)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}

	if config.App.Environment != EnvStaging {
		t.Errorf("Expected env staging, got %v", config.App.Environment)
	}
	if config.Log.Fields["region"] != "eu-west" {
		t.Errorf("Expected region field, got %v", config.Log.Fields)
	}
	if len(config.Kernel.Builtins) != 1 || config.Kernel.Builtins[0] != "phantom_net" {
		t.Errorf("Expected only phantom_net, got %v", config.Kernel.Builtins)
	}
	if config.Kernel.ShutdownTimeout != 2*time.Second {
		t.Errorf("Expected shutdown timeout 2s, got %v", config.Kernel.ShutdownTimeout)
	}
}

// TestLoaderErrors tests rejected inputs
func TestLoaderErrors(t *testing.T) {
	loader := NewLoader()
	dir := t.TempDir()

	if _, err := loader.LoadFromFile(writeFile(t, dir, "kes.ini", "x=1")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected unsupported format, got %v", err)
	}

	if _, err := loader.LoadFromFile(writeFile(t, dir, "bad.yaml", "app: [")); !errors.Is(err, ErrConfigParseError) {
		t.Errorf("Expected parse error, got %v", err)
	}

	badVersion := writeFile(t, dir, "version.yaml", "app:\n  version: latest\n")
	if _, err := loader.LoadFromFile(badVersion); !errors.Is(err, ErrInvalidVersion) {
		t.Errorf("Expected invalid version, got %v", err)
	}

	if _, err := loader.LoadFromFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	if _, err := loader.LoadFromReader(strings.NewReader("{}"), "xml"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected unsupported format, got %v", err)
	}
}

// TestLoadFromReader tests loading from a reader without a file
func TestLoadFromReader(t *testing.T) {
	config, err := NewLoader().LoadFromReader(strings.NewReader("app:\n  name: reader-app\n"), FormatYAML)
	if err != nil {
		t.Fatalf("Failed to load from reader: %v", err)
	}
	if config.App.Name != "reader-app" {
		t.Errorf("Expected app name 'reader-app', got '%s'", config.App.Name)
	}
	if config.Log.Level != LogLevelInfo {
		t.Errorf("Expected default log level, got %v", config.Log.Level)
	}
}

// TestEnvironmentOverrides tests environment variable overrides
func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("KES_APP_NAME", "env-test-app")
	t.Setenv("KES_LOG_LEVEL", "ERROR")
	t.Setenv("KES_KERNEL_PHANTOM", "true")
	t.Setenv("KES_KERNEL_CALL_TIMEOUT", "250ms")

	yamlFile := writeFile(t, t.TempDir(), "env-test-config.yaml", `
app:
  name: base-app
log:
  level: info
`)

	config, err := NewLoader().LoadFromFile(yamlFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.App.Name != "env-test-app" {
		t.Errorf("Expected app name 'env-test-app', got '%s'", config.App.Name)
	}
	if config.Log.Level != LogLevelError {
		t.Errorf("Expected log level error, got %v", config.Log.Level)
	}
	if !config.Kernel.Phantom {
		t.Error("Expected phantom enabled from environment")
	}
	if config.Kernel.CallTimeout != 250*time.Millisecond {
		t.Errorf("Expected call timeout 250ms, got %v", config.Kernel.CallTimeout)
	}
}

// TestEnvironmentOverrideErrors tests malformed environment values
func TestEnvironmentOverrideErrors(t *testing.T) {
	t.Setenv("APP_KERNEL_QUEUE_CAPACITY", "lots")

	_, err := NewLoader().SetEnvPrefix("APP").Load("")
	if !errors.Is(err, ErrEnvironmentVarError) {
		t.Fatalf("Expected environment error, got %v", err)
	}
	if !strings.Contains(err.Error(), "APP_KERNEL_QUEUE_CAPACITY") {
		t.Errorf("Expected variable name in error, got %v", err)
	}
}

// TestAutoLoad tests automatic configuration discovery
func TestAutoLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "kes.toml", `
[app]
name = "auto-load-app"
`)

	config, err := NewLoader().SetSearchPaths([]string{filepath.Join(dir, "missing"), dir}).AutoLoad()
	if err != nil {
		t.Fatalf("Failed to auto-load config: %v", err)
	}
	if config.App.Name != "auto-load-app" {
		t.Errorf("Expected app name 'auto-load-app', got '%s'", config.App.Name)
	}

	// Without any file the defaults are used
	config, err = NewLoader().SetSearchPaths([]string{filepath.Join(dir, "missing")}).AutoLoad()
	if err != nil {
		t.Fatalf("Failed to auto-load defaults: %v", err)
	}
	if config.App.Name != "kes-app" {
		t.Errorf("Expected default app name, got '%s'", config.App.Name)
	}
}

// TestWatcher tests configuration file watching
func TestWatcher(t *testing.T) {
	configFile := writeFile(t, t.TempDir(), "watch-test-config.yaml", `
app:
  name: watch-test-app
log:
  level: info
`)

	watcher, err := NewWatcher(configFile, NewLoader(), zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	defer watcher.Stop()
	watcher.SetDebounce(50 * time.Millisecond)

	if watcher.GetConfig().App.Name != "watch-test-app" {
		t.Errorf("Expected initial app name 'watch-test-app', got '%s'", watcher.GetConfig().App.Name)
	}

	changeDetected := make(chan LogLevel, 1)
	watcher.OnConfigChange(func(oldConfig, newConfig *Config) {
		if oldConfig.Log.Level != newConfig.Log.Level {
			select {
			case changeDetected <- newConfig.Log.Level:
			default:
			}
		}
	})

	if err := watcher.Start(); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(configFile, []byte("app:\n  name: watch-test-app\nlog:\n  level: debug\n"), 0644); err != nil {
		t.Fatalf("Failed to update config file: %v", err)
	}

	select {
	case level := <-changeDetected:
		if level != LogLevelDebug {
			t.Errorf("Expected debug level, got %v", level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Configuration change was not detected within timeout")
	}

	if watcher.GetConfig().Log.Level != LogLevelDebug {
		t.Errorf("Expected updated level debug, got %v", watcher.GetConfig().Log.Level)
	}
}

// TestWatcherReload tests manual reloads and callback panics
func TestWatcherReload(t *testing.T) {
	configFile := writeFile(t, t.TempDir(), "reload.yaml", "app:\n  name: first\n")

	watcher, err := NewWatcher(configFile, NewLoader(), zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	defer watcher.Stop()

	var names []string
	watcher.OnConfigChange(func(oldConfig, newConfig *Config) { panic("callback failure") })
	watcher.OnConfigChange(func(oldConfig, newConfig *Config) {
		names = append(names, oldConfig.App.Name, newConfig.App.Name)
	})

	writeFile(t, filepath.Dir(configFile), "reload.yaml", "app:\n  name: second\n")
	if err := watcher.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if strings.Join(names, ",") != "first,second" {
		t.Errorf("Unexpected callback arguments %v", names)
	}

	// A broken file keeps the previous configuration
	writeFile(t, filepath.Dir(configFile), "reload.yaml", "app:\n  version: nope\n")
	if err := watcher.Reload(); err == nil {
		t.Error("Expected reload error")
	}
	if watcher.GetConfig().App.Name != "second" {
		t.Errorf("Expected previous configuration to stay, got %s", watcher.GetConfig().App.Name)
	}
}

// TestFileProvider tests the file-based configuration provider
func TestFileProvider(t *testing.T) {
	configFile := writeFile(t, t.TempDir(), "provider-test-config.yaml", `
app:
  name: provider-test-app
  environment: production
log:
  level: warn
  format: json
`)

	provider, err := NewFileProvider(configFile, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create file provider: %v", err)
	}
	defer provider.Close()

	config, err := provider.Load()
	if err != nil {
		t.Fatalf("Failed to load config from provider: %v", err)
	}
	if config.App.Name != "provider-test-app" {
		t.Errorf("Expected app name 'provider-test-app', got '%s'", config.App.Name)
	}
	if provider.Watcher() == nil {
		t.Fatal("Expected a watcher for a file provider")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- provider.Watch(ctx, func(oldConfig, newConfig *Config) {})
	}()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
