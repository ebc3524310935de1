// Package logging builds zerolog loggers from configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/najoast/kes/config"
)

// ParseLevel maps a configured level onto zerolog.
func ParseLevel(level config.LogLevel) (zerolog.Level, error) {
	if !level.IsValid() {
		return zerolog.NoLevel, fmt.Errorf("%w: %q", config.ErrInvalidLogLevel, level)
	}
	return zerolog.ParseLevel(level.String())
}

// SetLevel changes the global level filter. It can only narrow loggers built
// by New; loggers built by NewGlobal follow it both ways.
func SetLevel(level config.LogLevel) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Output opens the configured destination. The returned closer is a no-op
// for stdout and stderr.
func Output(dest string) (io.Writer, io.Closer, error) {
	switch dest {
	case "", "stdout":
		return os.Stdout, nopCloser{}, nil
	case "stderr":
		return os.Stderr, nopCloser{}, nil
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output %s: %w", dest, err)
	}
	return f, f, nil
}

// New builds a logger for app from cfg, writing to its configured output.
func New(app string, cfg config.LogConfig) (zerolog.Logger, io.Closer, error) {
	out, closer, err := Output(cfg.Output)
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	logger, err := NewWithWriter(app, cfg, out)
	if err != nil {
		closer.Close()
		return zerolog.Nop(), nil, err
	}
	return logger, closer, nil
}

// NewGlobal is like New but leaves level filtering to the global level,
// which it sets from cfg. Later SetLevel calls adjust the logger in place.
func NewGlobal(app string, cfg config.LogConfig) (zerolog.Logger, io.Closer, error) {
	lvl := cfg.Level
	cfg.Level = config.LogLevelTrace
	logger, closer, err := New(app, cfg)
	if err != nil {
		return logger, closer, err
	}
	if err := SetLevel(lvl); err != nil {
		closer.Close()
		return zerolog.Nop(), nil, err
	}
	return logger, closer, nil
}

// NewWithWriter builds a logger for app from cfg, writing to out.
func NewWithWriter(app string, cfg config.LogConfig, out io.Writer) (zerolog.Logger, error) {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	var w io.Writer
	switch cfg.Format {
	case "json":
		w = out
	case "text", "":
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    !cfg.Color,
		}
	default:
		return zerolog.Nop(), fmt.Errorf("%w: %q", config.ErrInvalidLogFormat, cfg.Format)
	}

	ctx := zerolog.New(w).Level(lvl).With().Timestamp().Str("app", app)

	keys := make([]string, 0, len(cfg.Fields))
	for k := range cfg.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ctx = ctx.Str(k, cfg.Fields[k])
	}
	return ctx.Logger(), nil
}
