package services

import (
	"context"
	"fmt"

	"github.com/fredcamaral/devsync/internal/domain/entities"
	"github.com/fredcamaral/devsync/internal/domain/ports"
)

// ConfigService implements the configuration service business logic
type ConfigService struct {
	loader ports.ConfigLoader
	merger ports.ConfigMerger
}

// NewConfigService creates a new configuration service
func NewConfigService(loader ports.ConfigLoader, merger ports.ConfigMerger) *ConfigService {
	return &ConfigService{
		loader: loader,
		merger: merger,
	}
}

// LoadConfig loads the complete configuration. Precedence, lowest first:
// defaults, the project file (or explicitPath when set), environment, flags.
func (s *ConfigService) LoadConfig(ctx context.Context, workingDir, explicitPath string, flags map[string]interface{}) (*entities.Config, error) {
	defaultConfig := s.GetDefaultConfig()

	var (
		fileConfig *entities.Config
		err        error
	)
	if explicitPath != "" {
		fileConfig, err = s.loader.LoadFile(ctx, explicitPath)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	} else {
		fileConfig, err = s.loader.LoadLocal(ctx, workingDir)
		if err != nil {
			return nil, fmt.Errorf("loading local config: %w", err)
		}
	}

	configs := []*entities.Config{defaultConfig}
	if fileConfig != nil {
		configs = append(configs, fileConfig)
	}

	mergedConfig := s.merger.Merge(configs...)

	envConfig := s.merger.ApplyEnvVars(mergedConfig)

	finalConfig := s.merger.ApplyFlags(envConfig, flags)

	if err := s.ValidateConfig(finalConfig); err != nil {
		return nil, fmt.Errorf("final config validation: %w", err)
	}

	return finalConfig, nil
}

// GetDefaultConfig returns the default configuration
func (s *ConfigService) GetDefaultConfig() *entities.Config {
	return s.merger.Merge() // Merge with no arguments returns defaults
}

// ValidateConfig validates a configuration
func (s *ConfigService) ValidateConfig(config *entities.Config) error {
	return entities.ValidateConfig(config)
}

// InitConfig writes a default configuration file to path
func (s *ConfigService) InitConfig(ctx context.Context, path string) error {
	return s.loader.CreateDefaults(ctx, path)
}

// Ensure ConfigService implements ports.ConfigService
var _ ports.ConfigService = (*ConfigService)(nil)
