package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fredcamaral/devsync/internal/domain/entities"
)

// Mock implementations for testing

type MockConfigLoader struct {
	mock.Mock
}

func (m *MockConfigLoader) LoadFile(ctx context.Context, path string) (*entities.Config, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Config), args.Error(1)
}

func (m *MockConfigLoader) LoadLocal(ctx context.Context, dir string) (*entities.Config, error) {
	args := m.Called(ctx, dir)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Config), args.Error(1)
}

func (m *MockConfigLoader) CreateDefaults(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

func (m *MockConfigLoader) GetLocalPath(dir string) string {
	args := m.Called(dir)
	return args.String(0)
}

type MockConfigMerger struct {
	mock.Mock
}

func (m *MockConfigMerger) Merge(configs ...*entities.Config) *entities.Config {
	args := m.Called(configs)
	return args.Get(0).(*entities.Config)
}

func (m *MockConfigMerger) ApplyFlags(config *entities.Config, flags map[string]interface{}) *entities.Config {
	args := m.Called(config, flags)
	return args.Get(0).(*entities.Config)
}

func (m *MockConfigMerger) ApplyEnvVars(config *entities.Config) *entities.Config {
	args := m.Called(config)
	return args.Get(0).(*entities.Config)
}

func TestNewConfigService(t *testing.T) {
	t.Run("creates service with dependencies", func(t *testing.T) {
		loader := &MockConfigLoader{}
		merger := &MockConfigMerger{}

		service := NewConfigService(loader, merger)

		assert.NotNil(t, service)
		assert.Equal(t, loader, service.loader)
		assert.Equal(t, merger, service.merger)
	})
}

func TestConfigService_LoadConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("merges defaults, local file, env and flags in order", func(t *testing.T) {
		loader := &MockConfigLoader{}
		merger := &MockConfigMerger{}

		defaultConfig := &entities.Config{Server: entities.ServerConfig{Host: "localhost", Port: 8080}, LiveReload: true}
		localConfig := &entities.Config{Server: entities.ServerConfig{Port: 9000}, Hot: true, LiveReload: true}
		mergedConfig := &entities.Config{Server: entities.ServerConfig{Host: "localhost", Port: 9000}, Hot: true, LiveReload: true}
		envConfig := &entities.Config{Server: entities.ServerConfig{Host: "0.0.0.0", Port: 9000}, Hot: true, LiveReload: true}
		finalConfig := &entities.Config{Server: entities.ServerConfig{Host: "0.0.0.0", Port: 9100}, Hot: true, LiveReload: true}
		flags := map[string]interface{}{"port": 9100}

		merger.On("Merge", []*entities.Config(nil)).Return(defaultConfig).Once()
		loader.On("LoadLocal", ctx, "/project").Return(localConfig, nil)
		merger.On("Merge", []*entities.Config{defaultConfig, localConfig}).Return(mergedConfig).Once()
		merger.On("ApplyEnvVars", mergedConfig).Return(envConfig)
		merger.On("ApplyFlags", envConfig, flags).Return(finalConfig)

		service := NewConfigService(loader, merger)
		config, err := service.LoadConfig(ctx, "/project", "", flags)

		require.NoError(t, err)
		assert.Equal(t, finalConfig, config)
		loader.AssertExpectations(t)
		merger.AssertExpectations(t)
	})

	t.Run("explicit path replaces the local lookup", func(t *testing.T) {
		loader := &MockConfigLoader{}
		merger := &MockConfigMerger{}

		defaultConfig := &entities.Config{LiveReload: true}
		fileConfig := &entities.Config{WebSocketServer: entities.TransportFallback}

		merger.On("Merge", []*entities.Config(nil)).Return(defaultConfig).Once()
		loader.On("LoadFile", ctx, "/etc/devsync.yaml").Return(fileConfig, nil)
		merger.On("Merge", []*entities.Config{defaultConfig, fileConfig}).Return(fileConfig).Once()
		merger.On("ApplyEnvVars", fileConfig).Return(fileConfig)
		merger.On("ApplyFlags", fileConfig, mock.Anything).Return(fileConfig)

		service := NewConfigService(loader, merger)
		config, err := service.LoadConfig(ctx, "/project", "/etc/devsync.yaml", nil)

		require.NoError(t, err)
		assert.Equal(t, entities.TransportFallback, config.WebSocketServer)
		loader.AssertNotCalled(t, "LoadLocal", mock.Anything, mock.Anything)
	})

	t.Run("missing local file falls back to defaults", func(t *testing.T) {
		loader := &MockConfigLoader{}
		merger := &MockConfigMerger{}

		defaultConfig := &entities.Config{LiveReload: true}

		merger.On("Merge", []*entities.Config(nil)).Return(defaultConfig).Once()
		loader.On("LoadLocal", ctx, "/project").Return(nil, nil)
		merger.On("Merge", []*entities.Config{defaultConfig}).Return(defaultConfig).Once()
		merger.On("ApplyEnvVars", defaultConfig).Return(defaultConfig)
		merger.On("ApplyFlags", defaultConfig, mock.Anything).Return(defaultConfig)

		service := NewConfigService(loader, merger)
		config, err := service.LoadConfig(ctx, "/project", "", nil)

		require.NoError(t, err)
		assert.True(t, config.LiveReload)
	})

	t.Run("loader error is wrapped", func(t *testing.T) {
		loader := &MockConfigLoader{}
		merger := &MockConfigMerger{}

		merger.On("Merge", []*entities.Config(nil)).Return(&entities.Config{})
		loader.On("LoadLocal", ctx, "/project").Return(nil, errors.New("permission denied"))

		service := NewConfigService(loader, merger)
		_, err := service.LoadConfig(ctx, "/project", "", nil)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "loading local config")
		assert.Contains(t, err.Error(), "permission denied")
	})

	t.Run("invalid final config is a configuration error", func(t *testing.T) {
		loader := &MockConfigLoader{}
		merger := &MockConfigMerger{}

		defaultConfig := &entities.Config{}
		badConfig := &entities.Config{WebSocketServer: "carrier-pigeon"}

		merger.On("Merge", []*entities.Config(nil)).Return(defaultConfig).Once()
		loader.On("LoadLocal", ctx, "/project").Return(nil, nil)
		merger.On("Merge", []*entities.Config{defaultConfig}).Return(defaultConfig).Once()
		merger.On("ApplyEnvVars", defaultConfig).Return(defaultConfig)
		merger.On("ApplyFlags", defaultConfig, mock.Anything).Return(badConfig)

		service := NewConfigService(loader, merger)
		_, err := service.LoadConfig(ctx, "/project", "", nil)

		require.Error(t, err)
		assert.True(t, entities.IsConfigurationError(err))
		assert.Contains(t, err.Error(), "web_socket_server")
	})
}

func TestConfigService_ValidateConfig(t *testing.T) {
	service := NewConfigService(&MockConfigLoader{}, &MockConfigMerger{})

	t.Run("nil config", func(t *testing.T) {
		err := service.ValidateConfig(nil)
		require.Error(t, err)
		assert.True(t, entities.IsConfigurationError(err))
	})

	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, service.ValidateConfig(&entities.Config{Hot: true, LiveReload: true}))
	})
}

func TestConfigService_InitConfig(t *testing.T) {
	loader := &MockConfigLoader{}
	loader.On("CreateDefaults", mock.Anything, "/project/devsync.toml").Return(nil)

	service := NewConfigService(loader, &MockConfigMerger{})
	require.NoError(t, service.InitConfig(context.Background(), "/project/devsync.toml"))
	loader.AssertExpectations(t)
}
