package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	sharedconfig "github.com/ideamans/bsnlink/pkg/shared/config"
)

// Loader is an interface for loading configuration
type Loader interface {
	Load() (*Config, error)
}

// FileLoader loads configuration from a YAML or JSON file
type FileLoader struct {
	path string
}

// NewFileLoader creates a new FileLoader
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Path returns the file the loader reads.
func (l *FileLoader) Path() string {
	return l.path
}

// Load reads the file, expands ${VAR} references, applies defaults and
// validates the result. The format follows the file extension.
func (l *FileLoader) Load() (*Config, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, l.path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(raw, filepath.Ext(l.path))
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			for _, name := range sharedconfig.MissingEnvVars(string(raw)) {
				verr.add(fmt.Sprintf("environment variable %s is not set", name))
			}
		}
		return nil, err
	}

	return cfg, nil
}

// Parse decodes raw configuration of the given extension (".yaml", ".yml"
// or ".json"), expands environment references and applies defaults. It does
// not validate.
func Parse(raw []byte, ext string) (*Config, error) {
	data := sharedconfig.ExpandEnvBytes(raw)

	var cfg Config
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config file: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}
