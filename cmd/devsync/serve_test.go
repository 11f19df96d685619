package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fredcamaral/devsync/internal/adapters/secondary/config"
	"github.com/fredcamaral/devsync/internal/domain/entities"
)

func defaultTestConfig() *entities.Config {
	cfg := config.GetDefaultConfig()
	cfg.Build.Command = ""
	return cfg
}

func TestServeCommand(t *testing.T) {
	t.Run("no arguments", func(t *testing.T) {
		require.NoError(t, validateServeArgs(serveCmd, nil))
	})

	t.Run("existing directory", func(t *testing.T) {
		require.NoError(t, validateServeArgs(serveCmd, []string{t.TempDir()}))
	})

	t.Run("too many arguments", func(t *testing.T) {
		err := validateServeArgs(serveCmd, []string{"a", "b"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "accepts at most 1 arg(s)")
	})

	t.Run("missing directory", func(t *testing.T) {
		err := validateServeArgs(serveCmd, []string{filepath.Join(t.TempDir(), "nope")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "accessing project directory")
	})

	t.Run("file instead of directory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "index.html")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0600))
		err := validateServeArgs(serveCmd, []string{file})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a directory")
	})
}

func TestCollectServeFlags(t *testing.T) {
	t.Run("only changed flags", func(t *testing.T) {
		cmd := &cobra.Command{Use: "serve"}
		cmd.Flags().IntP("port", "p", 0, "")
		cmd.Flags().String("host", "", "")
		cmd.Flags().Bool("hot", true, "")
		cmd.Flags().Bool("no-hot", false, "")
		cmd.Flags().Bool("live-reload", true, "")
		cmd.Flags().Bool("no-live-reload", false, "")
		cmd.Flags().StringSlice("static", nil, "")
		cmd.Flags().StringSlice("watch", nil, "")
		require.NoError(t, cmd.Flags().Parse([]string{"--port", "3000", "--static", "public,assets", "--no-hot"}))

		flags := collectServeFlags(cmd)
		assert.Equal(t, map[string]interface{}{
			"port":   3000,
			"static": []string{"public", "assets"},
			"hot":    false,
		}, flags)
	})

	t.Run("nothing changed", func(t *testing.T) {
		cmd := &cobra.Command{Use: "serve"}
		cmd.Flags().IntP("port", "p", 0, "")
		cmd.Flags().Bool("no-live-reload", false, "")
		require.NoError(t, cmd.Flags().Parse(nil))
		assert.Empty(t, collectServeFlags(cmd))
	})

	t.Run("no-live-reload", func(t *testing.T) {
		cmd := &cobra.Command{Use: "serve"}
		cmd.Flags().Bool("no-live-reload", false, "")
		require.NoError(t, cmd.Flags().Parse([]string{"--no-live-reload"}))
		assert.Equal(t, map[string]interface{}{"live-reload": false}, collectServeFlags(cmd))
	})
}

func TestNewLogger(t *testing.T) {
	t.Run("respects level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(&buf, entities.LoggingConfig{Level: "warn"}, false)
		logger.Info("hidden")
		logger.Warn("shown")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("verbose forces debug", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(&buf, entities.LoggingConfig{Level: "error"}, true)
		assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
	})

	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(&buf, entities.LoggingConfig{JSONFormat: true}, false)
		logger.Info("hello", slog.String("k", "v"))
		assert.Contains(t, buf.String(), `"msg":"hello"`)
		assert.Contains(t, buf.String(), `"k":"v"`)
	})
}

func TestExistingPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "public"), 0750))
	abs := t.TempDir()

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	got := existingPaths(dir, []string{"public", "missing", abs}, logger)
	assert.Equal(t, []string{filepath.Join(dir, "public"), abs}, got)
}

func TestServerURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"127.0.0.1:8080", "http://127.0.0.1:8080"},
		{"0.0.0.0:3000", "http://localhost:3000"},
		{"[::]:3000", "http://localhost:3000"},
		{":9000", "http://localhost:9000"},
		{"example.test:80", "http://example.test:80"},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.want, serverURL(tt.addr))
		})
	}
}

func TestNewServeApp(t *testing.T) {
	t.Run("missing build paths", func(t *testing.T) {
		dir := t.TempDir()
		cfg := defaultTestConfig()
		cfg.Build.Watch = []string{"src"}

		_, err := newServeApp(cfg, dir, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "none of the build watch paths exist")
	})

	t.Run("drops static watch when no static directory exists", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(dir, "src"), 0750))
		cfg := defaultTestConfig()

		app, err := newServeApp(cfg, dir, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
		require.NoError(t, err)
		assert.False(t, app.config.Static.Watch)
		assert.Empty(t, app.config.Static.Paths)
	})
}
