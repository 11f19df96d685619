package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/fredcamaral/devsync/internal/domain/entities"
	"github.com/fredcamaral/devsync/internal/domain/ports"
)

// localNames are the project configuration files looked up, in order
var localNames = []string{"devsync.toml", "devsync.yaml", "devsync.yml"}

// FileLoader implements the ConfigLoader interface for TOML and YAML files.
// The format is chosen by file extension.
type FileLoader struct {
	localNames []string
}

// NewFileLoader creates a new configuration loader
func NewFileLoader() *FileLoader {
	return &FileLoader{localNames: localNames}
}

// LoadFile loads an explicit configuration file
func (l *FileLoader) LoadFile(ctx context.Context, path string) (*entities.Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return l.loadConfig(path)
}

// LoadLocal loads the project configuration from dir. A missing file is not
// an error.
func (l *FileLoader) LoadLocal(ctx context.Context, dir string) (*entities.Config, error) {
	path := l.GetLocalPath(dir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return l.loadConfig(path)
}

// CreateDefaults writes the default configuration to path
func (l *FileLoader) CreateDefaults(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}

	if err := l.ensureConfigDir(path); err != nil {
		return err
	}

	data, err := Encode(GetDefaultConfig(), path)
	if err != nil {
		return fmt.Errorf("encoding config to %s: %w", path, err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file %s: %w", path, err)
	}
	return nil
}

// GetLocalPath returns the first existing project configuration file in dir,
// or the TOML name when none exists
func (l *FileLoader) GetLocalPath(dir string) string {
	for _, name := range l.localNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return filepath.Join(dir, l.localNames[0])
}

// Encode serializes a configuration in the format implied by path
func Encode(config *entities.Config, path string) ([]byte, error) {
	var buf bytes.Buffer

	if isYAML(path) {
		encoder := yaml.NewEncoder(&buf)
		encoder.SetIndent(2)
		if err := encoder.Encode(config); err != nil {
			return nil, err
		}
		if err := encoder.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	encoder := toml.NewEncoder(&buf)
	encoder.Indent = "  "
	if err := encoder.Encode(config); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// loadConfig decodes a file on top of the defaults, so keys that are absent
// keep their default value, and validates the result
func (l *FileLoader) loadConfig(path string) (*entities.Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is the project config or an explicit flag
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	config := GetDefaultConfig()
	if isYAML(path) {
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing YAML from %s: %w", path, err)
		}
	} else {
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing TOML from %s: %w", path, err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config in %s: %w", path, err)
	}

	return config, nil
}

// ensureConfigDir ensures the configuration directory exists
func (l *FileLoader) ensureConfigDir(path string) error {
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Ensure FileLoader implements ports.ConfigLoader
var _ ports.ConfigLoader = (*FileLoader)(nil)
