package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fredcamaral/devsync/internal/domain/entities"
)

func TestFileLoader_LoadLocal(t *testing.T) {
	ctx := context.Background()

	t.Run("missing file is not an error", func(t *testing.T) {
		loader := NewFileLoader()

		config, err := loader.LoadLocal(ctx, t.TempDir())
		require.NoError(t, err)
		assert.Nil(t, config)
	})

	t.Run("loads TOML on top of defaults", func(t *testing.T) {
		tmpDir := t.TempDir()
		content := `
hot = false
web_socket_server = "fallback"

[server]
port = 9000

[client]
logging = "verbose"
reconnect = -1

[static]
paths = ["assets", "public"]
watch = true
`
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "devsync.toml"), []byte(content), 0644))

		config, err := NewFileLoader().LoadLocal(ctx, tmpDir)
		require.NoError(t, err)
		require.NotNil(t, config)

		assert.Equal(t, 9000, config.Server.Port)
		assert.Equal(t, "localhost", config.Server.Host)
		assert.False(t, config.Hot)
		assert.True(t, config.LiveReload, "absent keys keep their default")
		assert.Equal(t, entities.TransportFallback, config.WebSocketServer)
		assert.Equal(t, "verbose", config.Client.Logging)
		assert.Equal(t, -1, config.Client.GetReconnect())
		assert.Equal(t, []string{"assets", "public"}, config.Static.Paths)
	})

	t.Run("loads YAML", func(t *testing.T) {
		tmpDir := t.TempDir()
		content := `
live_reload: false
client:
  logging: warn
transport:
  path: /__devsync
  buffer_size: 8
`
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "devsync.yaml"), []byte(content), 0644))

		config, err := NewFileLoader().LoadLocal(ctx, tmpDir)
		require.NoError(t, err)
		require.NotNil(t, config)

		assert.False(t, config.LiveReload)
		assert.True(t, config.Hot)
		assert.Equal(t, "warn", config.Client.Logging)
		assert.Equal(t, "/__devsync", config.Transport.GetPath())
		assert.Equal(t, 8, config.Transport.GetBufferSize())
	})

	t.Run("TOML wins over YAML", func(t *testing.T) {
		tmpDir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "devsync.toml"), []byte("[server]\nport = 7000\n"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "devsync.yml"), []byte("server:\n  port: 7001\n"), 0644))

		config, err := NewFileLoader().LoadLocal(ctx, tmpDir)
		require.NoError(t, err)
		assert.Equal(t, 7000, config.Server.Port)
	})

	t.Run("invalid TOML", func(t *testing.T) {
		tmpDir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "devsync.toml"), []byte("[server\nport = "), 0644))

		_, err := NewFileLoader().LoadLocal(ctx, tmpDir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parsing TOML")
	})

	t.Run("invalid values are configuration errors", func(t *testing.T) {
		tmpDir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "devsync.toml"), []byte("[client]\nlogging = \"loud\"\n"), 0644))

		_, err := NewFileLoader().LoadLocal(ctx, tmpDir)
		require.Error(t, err)
		assert.True(t, entities.IsConfigurationError(err))
	})
}

func TestFileLoader_LoadFile(t *testing.T) {
	ctx := context.Background()

	t.Run("missing explicit file is an error", func(t *testing.T) {
		_, err := NewFileLoader().LoadFile(ctx, filepath.Join(t.TempDir(), "nope.toml"))
		require.Error(t, err)
	})

	t.Run("loads by extension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "custom.yml")
		require.NoError(t, os.WriteFile(path, []byte("hot: false\n"), 0644))

		config, err := NewFileLoader().LoadFile(ctx, path)
		require.NoError(t, err)
		assert.False(t, config.Hot)
	})
}

func TestFileLoader_CreateDefaults(t *testing.T) {
	ctx := context.Background()

	for _, name := range []string{"devsync.toml", "devsync.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			loader := NewFileLoader()

			require.NoError(t, loader.CreateDefaults(ctx, path))

			config, err := loader.LoadFile(ctx, path)
			require.NoError(t, err)
			assert.Equal(t, GetDefaultConfig().Server.Port, config.Server.Port)
			assert.True(t, config.Hot)
			assert.True(t, config.LiveReload)
			assert.Equal(t, 10, config.Client.GetReconnect())

			assert.Error(t, loader.CreateDefaults(ctx, path), "existing file is not overwritten")
		})
	}
}

func TestFileLoader_GetLocalPath(t *testing.T) {
	tmpDir := t.TempDir()
	loader := NewFileLoader()

	assert.Equal(t, filepath.Join(tmpDir, "devsync.toml"), loader.GetLocalPath(tmpDir))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "devsync.yml"), []byte("hot: true\n"), 0644))
	assert.Equal(t, filepath.Join(tmpDir, "devsync.yml"), loader.GetLocalPath(tmpDir))
}
