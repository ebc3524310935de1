// Package config provides configuration management for the KES kernel process
package config

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelFatal:
		return true
	default:
		return false
	}
}

// Config represents the complete KES configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app" toml:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log" toml:"log"`

	// Kernel configuration
	Kernel KernelConfig `yaml:"kernel" json:"kernel" toml:"kernel"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name" toml:"name"`

	// Application version, semver
	Version string `yaml:"version" json:"version" toml:"version"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment" toml:"environment"`

	// Debug mode
	Debug bool `yaml:"debug" json:"debug" toml:"debug"`

	// Application description
	Description string `yaml:"description,omitempty" json:"description,omitempty" toml:"description,omitempty"`

	// Application metadata
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty" toml:"metadata,omitempty"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level" toml:"level"`

	// Log format (json, text)
	Format string `yaml:"format" json:"format" toml:"format"`

	// Output destination (stdout, stderr, file path)
	Output string `yaml:"output" json:"output" toml:"output"`

	// Enable colored output
	Color bool `yaml:"color" json:"color" toml:"color"`

	// Fields to include in log output
	Fields map[string]string `yaml:"fields,omitempty" json:"fields,omitempty" toml:"fields,omitempty"`
}

// PhantomNetName is the builtin that phantom mode moves dropped nodes into
const PhantomNetName = "phantom_net"

// KernelConfig contains kernel behaviour settings
type KernelConfig struct {
	// Move dropped nodes to the phantom network instead of releasing them
	Phantom bool `yaml:"phantom" json:"phantom" toml:"phantom"`

	// Stop events from propagating into a network they already passed
	DetectCycles bool `yaml:"detect_cycles" json:"detect_cycles" toml:"detect_cycles"`

	// Initial task queue capacity
	QueueCapacity int `yaml:"queue_capacity" json:"queue_capacity" toml:"queue_capacity"`

	// Default bound for Kernel.Call
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout" toml:"call_timeout"`

	// Time allowed for a graceful finalize before forcing it
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" toml:"shutdown_timeout"`

	// Builtin networks allocated by the root, in id order
	Builtins []string `yaml:"builtins" json:"builtins" toml:"builtins"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "kes-app",
			Version:     "1.0.0",
			Environment: EnvDevelopment,
			Debug:       true,
			Description: "KES kernel application",
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "text",
			Output: "stdout",
			Color:  true,
		},
		Kernel: KernelConfig{
			Phantom:         false,
			DetectCycles:    true,
			QueueCapacity:   64,
			CallTimeout:     30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Builtins:        []string{PhantomNetName, "temp_net"},
		},
	}
}

// Clone returns a deep copy of the configuration
func (c *Config) Clone() *Config {
	out := *c
	if c.App.Metadata != nil {
		out.App.Metadata = make(map[string]string, len(c.App.Metadata))
		for k, v := range c.App.Metadata {
			out.App.Metadata[k] = v
		}
	}
	if c.Log.Fields != nil {
		out.Log.Fields = make(map[string]string, len(c.Log.Fields))
		for k, v := range c.Log.Fields {
			out.Log.Fields[k] = v
		}
	}
	if c.Kernel.Builtins != nil {
		out.Kernel.Builtins = append([]string(nil), c.Kernel.Builtins...)
	}
	return &out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate app config
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if _, err := semver.NewVersion(c.App.Version); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidVersion, c.App.Version, err)
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	// Validate log config
	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return ErrInvalidLogFormat
	}

	// Validate kernel config
	if c.Kernel.QueueCapacity < 0 {
		return ErrInvalidQueueCapacity
	}
	if c.Kernel.CallTimeout < 0 || c.Kernel.ShutdownTimeout < 0 {
		return ErrInvalidTimeout
	}
	seen := make(map[string]bool, len(c.Kernel.Builtins))
	for _, name := range c.Kernel.Builtins {
		if name == "" || seen[name] {
			return fmt.Errorf("%w: %q", ErrInvalidBuiltin, name)
		}
		seen[name] = true
	}
	if c.Kernel.Phantom && !seen[PhantomNetName] {
		return fmt.Errorf("%w: phantom mode needs %q", ErrInvalidBuiltin, PhantomNetName)
	}

	return nil
}

// SemVer returns the parsed application version
func (c *Config) SemVer() (*semver.Version, error) {
	return semver.NewVersion(c.App.Version)
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// IsDebugEnabled returns true if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == EnvDevelopment
}
