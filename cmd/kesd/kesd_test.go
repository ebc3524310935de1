package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/kes/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, context.Background(), "version")
	require.NoError(t, err)
	assert.Equal(t, "kesd v"+version+"\n", out)

	_, err = execute(t, context.Background(), "version", "--require", ">= 0.1")
	assert.NoError(t, err)

	_, err = execute(t, context.Background(), "version", "--require", ">= 99")
	assert.ErrorContains(t, err, "does not satisfy")

	_, err = execute(t, context.Background(), "version", "--require", "not a constraint")
	assert.ErrorContains(t, err, "invalid constraint")
}

func TestConfigShow(t *testing.T) {
	path := writeConfig(t, "app:\n  name: demo\nkernel:\n  phantom: true\n")

	out, err := execute(t, context.Background(), "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "name: demo")
	assert.Contains(t, out, "phantom: true")
	assert.Contains(t, out, "call_timeout: 30s")

	out, err = execute(t, context.Background(), "--config", path, "config", "show", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "demo"`)

	_, err = execute(t, context.Background(), "--config", path, "config", "show", "-o", "xml")
	assert.ErrorIs(t, err, config.ErrUnsupportedFormat)
}

func TestConfigValidate(t *testing.T) {
	path := writeConfig(t, "app:\n  name: demo\n  version: 2.1.0\n")
	out, err := execute(t, context.Background(), "--config", path, "config", "validate")
	require.NoError(t, err)
	assert.Equal(t, "demo 2.1.0 (development): ok\n", out)

	path = writeConfig(t, "kernel:\n  builtins: [phantom_net, mail_net]\n")
	_, err = execute(t, context.Background(), "--config", path, "config", "validate")
	assert.ErrorIs(t, err, config.ErrInvalidBuiltin)

	_, err = execute(t, context.Background(), "--config", filepath.Join(t.TempDir(), "missing.yaml"), "config", "validate")
	assert.Error(t, err)
}

func TestRunStopsWithContext(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	logFile := filepath.Join(t.TempDir(), "kesd.log")
	path := writeConfig(t, "log:\n  format: json\n  output: "+logFile+"\nkernel:\n  shutdown_timeout: 2s\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := execute(t, ctx, "--config", path, "run", "--watch=false")
	require.NoError(t, err)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "application stopped")
}
