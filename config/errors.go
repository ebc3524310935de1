// Package config provides error definitions for configuration management
package config

import "errors"

// Configuration validation errors
var (
	ErrInvalidAppName       = errors.New("invalid application name")
	ErrInvalidVersion       = errors.New("invalid application version")
	ErrInvalidEnvironment   = errors.New("invalid environment")
	ErrInvalidLogLevel      = errors.New("invalid log level")
	ErrInvalidLogFormat     = errors.New("invalid log format")
	ErrInvalidQueueCapacity = errors.New("invalid queue capacity")
	ErrInvalidTimeout       = errors.New("invalid timeout")
	ErrInvalidBuiltin       = errors.New("invalid builtin network")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound  = errors.New("configuration file not found")
	ErrConfigParseError    = errors.New("configuration parse error")
	ErrUnsupportedFormat   = errors.New("unsupported configuration format")
	ErrEnvironmentVarError = errors.New("environment variable error")
	ErrConfigWatchError    = errors.New("configuration watch error")
)
