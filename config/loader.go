// Package config provides configuration loading and parsing functionality
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
	FormatTOML ConfigFormat = "toml"
)

// FormatFromPath determines the configuration format from a file extension
func FormatFromPath(path string) (ConfigFormat, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

// Loader handles configuration loading from various sources
type Loader struct {
	// Configuration search paths
	searchPaths []string

	// Environment variable prefix
	envPrefix string

	// Default configuration
	defaultConfig *Config
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	paths := []string{".", "./config", "./configs", "/etc/kes"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".kes"))
	}
	return &Loader{
		searchPaths:   paths,
		envPrefix:     "KES",
		defaultConfig: DefaultConfig(),
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaultConfig sets the default configuration
func (l *Loader) SetDefaultConfig(config *Config) *Loader {
	l.defaultConfig = config
	return l
}

func (l *Loader) defaults() *Config {
	if l.defaultConfig == nil {
		return DefaultConfig()
	}
	return l.defaultConfig.Clone()
}

// Load loads configuration from the specified file. An empty filename
// yields the defaults. Environment overrides are applied and the result
// is validated.
func (l *Loader) Load(filename string) (*Config, error) {
	config := l.defaults()

	if filename != "" {
		format, err := FormatFromPath(filename)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
		}
		if err := l.parseInto(data, format, config); err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", filename, err)
		}
	}

	return l.finish(config)
}

// LoadFromFile loads configuration from a specific file
func (l *Loader) LoadFromFile(filename string) (*Config, error) {
	if filename == "" {
		return nil, ErrConfigFileNotFound
	}
	return l.Load(filename)
}

// LoadFromReader loads configuration from an io.Reader. Fields missing
// from the input keep their default values. No environment overrides are
// applied.
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration data: %w", err)
	}

	config := l.defaults()
	if err := l.parseInto(data, format, config); err != nil {
		return nil, err
	}
	return config, nil
}

// AutoLoad automatically discovers and loads configuration
func (l *Loader) AutoLoad() (*Config, error) {
	configFile, err := l.findConfigFile()
	if errors.Is(err, ErrConfigFileNotFound) {
		return l.Load("")
	}
	if err != nil {
		return nil, err
	}
	return l.Load(configFile)
}

func (l *Loader) finish(config *Config) (*Config, error) {
	if err := l.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// findConfigFile searches for configuration files in search paths
func (l *Loader) findConfigFile() (string, error) {
	filenames := []string{
		"kes.yaml", "kes.yml", "kes.toml", "kes.json",
		"config.yaml", "config.yml", "config.toml", "config.json",
	}

	for _, searchPath := range l.searchPaths {
		for _, filename := range filenames {
			fullPath := filepath.Join(searchPath, filename)
			if _, err := os.Stat(fullPath); err == nil {
				return fullPath, nil
			}
		}
	}

	return "", ErrConfigFileNotFound
}

// parseInto decodes data over config
func (l *Loader) parseInto(data []byte, format ConfigFormat, config *Config) error {
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, config)
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(config)
	case FormatTOML:
		_, err = toml.Decode(string(data), config)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfigParseError, format, err)
	}
	return nil
}

// loadFromEnv loads configuration overrides from environment variables
func (l *Loader) loadFromEnv(config *Config) error {
	// App configuration
	if val := l.env("APP_NAME"); val != "" {
		config.App.Name = val
	}
	if val := l.env("APP_VERSION"); val != "" {
		config.App.Version = val
	}
	if val := l.env("APP_ENVIRONMENT"); val != "" {
		config.App.Environment = Environment(val)
	}
	if val := l.env("APP_DEBUG"); val != "" {
		config.App.Debug = strings.ToLower(val) == "true"
	}

	// Log configuration
	if val := l.env("LOG_LEVEL"); val != "" {
		config.Log.Level = LogLevel(strings.ToLower(val))
	}
	if val := l.env("LOG_FORMAT"); val != "" {
		config.Log.Format = val
	}
	if val := l.env("LOG_OUTPUT"); val != "" {
		config.Log.Output = val
	}

	// Kernel configuration
	if val := l.env("KERNEL_PHANTOM"); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return l.envError("KERNEL_PHANTOM", err)
		}
		config.Kernel.Phantom = b
	}
	if val := l.env("KERNEL_DETECT_CYCLES"); val != "" {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return l.envError("KERNEL_DETECT_CYCLES", err)
		}
		config.Kernel.DetectCycles = b
	}
	if val := l.env("KERNEL_QUEUE_CAPACITY"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return l.envError("KERNEL_QUEUE_CAPACITY", err)
		}
		config.Kernel.QueueCapacity = n
	}
	if val := l.env("KERNEL_CALL_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return l.envError("KERNEL_CALL_TIMEOUT", err)
		}
		config.Kernel.CallTimeout = d
	}
	if val := l.env("KERNEL_SHUTDOWN_TIMEOUT"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return l.envError("KERNEL_SHUTDOWN_TIMEOUT", err)
		}
		config.Kernel.ShutdownTimeout = d
	}

	return nil
}

func (l *Loader) env(key string) string {
	return os.Getenv(l.envPrefix + "_" + key)
}

func (l *Loader) envError(key string, err error) error {
	return fmt.Errorf("%w: %s_%s: %v", ErrEnvironmentVarError, l.envPrefix, key, err)
}
